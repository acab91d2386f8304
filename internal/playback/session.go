package playback

import (
	"strings"

	"github.com/paradigmamedia/paradigma-player/internal/models"
	"github.com/paradigmamedia/paradigma-player/internal/stream"
)

// SourceState names which audio source is authoritative.
type SourceState int

const (
	SourceIdle SourceState = iota
	SourcePlayingEpisode
	SourcePausedEpisode
	SourcePlayingStream
	SourceStreamFailed
)

func (s SourceState) String() string {
	switch s {
	case SourceIdle:
		return "idle"
	case SourcePlayingEpisode:
		return "playing_episode"
	case SourcePausedEpisode:
		return "paused_episode"
	case SourcePlayingStream:
		return "playing_stream"
	case SourceStreamFailed:
		return "stream_failed"
	default:
		return "unknown"
	}
}

// Snapshot is the published observable state surface. Consumers only read
// snapshots and send intents; all mutation happens inside the coordinator.
type Snapshot struct {
	Source             SourceState          `json:"source"`
	CurrentEpisode     *models.Episode      `json:"currentEpisode,omitempty"`
	IsEpisodePlaying   bool                 `json:"isEpisodePlaying"`
	IsStreamPlaying    bool                 `json:"isStreamPlaying"`
	IsStreamActive     bool                 `json:"isStreamActive"`
	EpisodeProgress    float64              `json:"episodeProgress"`
	EpisodeDurationMs  int64                `json:"episodeDurationMs"`
	PreparingEpisodeID string               `json:"preparingEpisodeId,omitempty"`
	HasNext            bool                 `json:"hasNext"`
	HasPrevious        bool                 `json:"hasPrevious"`
	StreamMetadata     stream.Metadata      `json:"streamMetadata"`
	Notification       *models.Notification `json:"notification,omitempty"`
	Volume             float64              `json:"volume"`
	Queue              []models.Episode     `json:"queue"`
	Downloaded         []models.Episode     `json:"downloaded"`
	OnGoing            []OnGoingEpisode     `json:"onGoing"`
}

// localPathLookup resolves a downloaded audio file for an episode id.
type localPathLookup interface {
	GetDownloadedFilePathByEpisodeID(id string) (string, bool)
}

// resolveEpisodeSource returns the best available audio source for an
// episode, in priority order: local downloaded file, remote audio URL, remote
// download URL. The precedence is an explicit ordered lookup so it can be
// tested on its own.
func resolveEpisodeSource(downloads localPathLookup, ep models.Episode) (string, bool) {
	if downloads != nil {
		if path, ok := downloads.GetDownloadedFilePathByEpisodeID(ep.ID); ok {
			return path, true
		}
	}
	if strings.TrimSpace(ep.AudioURL) != "" {
		return ep.AudioURL, true
	}
	if strings.TrimSpace(ep.DownloadURL) != "" {
		return ep.DownloadURL, true
	}
	return "", false
}
