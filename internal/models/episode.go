package models

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Episode is a single on-demand audio item belonging to a show. Episodes are
// value types: they are replaced wholesale when refreshed, never mutated in
// place, and two episodes are the same iff their IDs match.
type Episode struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	AudioURL    string        `json:"audioUrl"`
	DownloadURL string        `json:"downloadUrl,omitempty"`
	ImageURL    string        `json:"imageUrl,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	PublishDate time.Time     `json:"publishDate,omitempty"`
	ShowID      string        `json:"showId"`
	Content     string        `json:"content,omitempty"`
	ShowIDs     []string      `json:"showIds,omitempty"`
}

// Programa is a show: a named series that episodes belong to.
type Programa struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	Episodes    []Episode `json:"episodes,omitempty"`
}

// GenerateEpisodeID creates a stable ID for an episode that carries no GUID,
// derived from its feed URL, audio URL, and publish date.
func GenerateEpisodeID(feedURL, audioURL string, publishDate time.Time) string {
	h := sha256.New()
	h.Write([]byte(feedURL + audioURL + publishDate.Format(time.RFC3339)))
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

// ContainsEpisode reports whether eps has an episode with the given id.
func ContainsEpisode(eps []Episode, id string) bool {
	return IndexOfEpisode(eps, id) >= 0
}

// IndexOfEpisode returns the position of the episode with the given id, or -1.
func IndexOfEpisode(eps []Episode, id string) int {
	for i, e := range eps {
		if e.ID == id {
			return i
		}
	}
	return -1
}
