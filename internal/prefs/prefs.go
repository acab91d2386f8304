// Package prefs provides the durable key/value preference store backing
// playback state: resume positions, the queue, downloaded episodes, and user
// settings. Every mutation is written back to disk before it is considered
// authoritative.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/paradigmamedia/paradigma-player/internal/models"
)

// Theme is the manual theme preference. Zero value means "follow system".
type Theme int

const (
	ThemeSystem Theme = iota
	ThemeLight
	ThemeDark
)

// storeData is the persisted preference structure.
type storeData struct {
	CurrentEpisodeID string                    `json:"currentEpisodeId"`
	StreamActive     bool                      `json:"streamActive"`
	Positions        map[string]int64          `json:"positions"`
	QueueIDs         []string                  `json:"queueIds"`
	Downloaded       []models.Episode          `json:"downloaded"`
	EpisodeDetails   map[string]models.Episode `json:"episodeDetails"`
	OnboardingDone   bool                      `json:"onboardingDone"`
	Theme            Theme                     `json:"theme"`
	Volume           float64                   `json:"volume"`
	Version          int                       `json:"version"`
}

// Store is a JSON-file-backed preference store.
type Store struct {
	mu   sync.RWMutex
	path string
	data storeData
}

// NewStore creates a preference store persisted under dataDir.
func NewStore(dataDir string) *Store {
	return &Store{
		path: filepath.Join(dataDir, "preferences.json"),
		data: storeData{
			Positions:      make(map[string]int64),
			EpisodeDetails: make(map[string]models.Episode),
			Volume:         1.0,
		},
	}
}

// Load loads preferences from disk, creating an empty file if missing.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return s.saveUnsafe()
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read preferences: %w", err)
	}

	var data storeData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to parse preferences: %w", err)
	}

	if data.Positions == nil {
		data.Positions = make(map[string]int64)
	}
	if data.EpisodeDetails == nil {
		data.EpisodeDetails = make(map[string]models.Episode)
	}
	s.data = data
	return nil
}

func (s *Store) saveUnsafe() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create preferences directory: %w", err)
	}

	s.data.Version = 1
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	if err := os.WriteFile(s.path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	return nil
}

// GetCurrentEpisodeID returns the last current episode id, or "".
func (s *Store) GetCurrentEpisodeID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.CurrentEpisodeID
}

// SetCurrentEpisodeID persists the current episode id.
func (s *Store) SetCurrentEpisodeID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.CurrentEpisodeID = id
	return s.saveUnsafe()
}

// IsStreamActive returns the persisted stream-active preference.
func (s *Store) IsStreamActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.StreamActive
}

// SetStreamActive persists the stream-active preference.
func (s *Store) SetStreamActive(active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.StreamActive = active
	return s.saveUnsafe()
}

// GetEpisodePosition returns the saved resume position in milliseconds for an
// episode id. Zero means not started or finished.
func (s *Store) GetEpisodePosition(id string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Positions[id]
}

// SaveEpisodePosition persists the resume position in milliseconds.
func (s *Store) SaveEpisodePosition(id string, positionMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		return nil
	}
	if positionMs <= 0 {
		delete(s.data.Positions, id)
	} else {
		s.data.Positions[id] = positionMs
	}
	return s.saveUnsafe()
}

// GetAllPositions returns a copy of the resume position map.
func (s *Store) GetAllPositions() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.data.Positions))
	for id, pos := range s.data.Positions {
		out[id] = pos
	}
	return out
}

// GetQueueIDs returns the persisted queue episode id list in playback order.
func (s *Store) GetQueueIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.data.QueueIDs...)
}

// SetQueueIDs persists the queue episode id list.
func (s *Store) SetQueueIDs(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.QueueIDs = append([]string(nil), ids...)
	return s.saveUnsafe()
}

// GetDownloadedEpisodes returns the persisted downloaded episode list.
func (s *Store) GetDownloadedEpisodes() []models.Episode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Episode(nil), s.data.Downloaded...)
}

// SetDownloadedEpisodes persists the downloaded episode list.
func (s *Store) SetDownloadedEpisodes(eps []models.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Downloaded = append([]models.Episode(nil), eps...)
	return s.saveUnsafe()
}

// GetEpisodeDetail returns a cached episode detail snapshot, if present.
func (s *Store) GetEpisodeDetail(id string) (models.Episode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.data.EpisodeDetails[id]
	return ep, ok
}

// SaveEpisodeDetail persists a full episode detail snapshot.
func (s *Store) SaveEpisodeDetail(ep models.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ep.ID == "" {
		return nil
	}
	s.data.EpisodeDetails[ep.ID] = ep
	return s.saveUnsafe()
}

// IsOnboardingDone returns whether onboarding has been completed.
func (s *Store) IsOnboardingDone() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.OnboardingDone
}

// SetOnboardingDone persists the onboarding-complete flag.
func (s *Store) SetOnboardingDone(done bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.OnboardingDone = done
	return s.saveUnsafe()
}

// GetTheme returns the manual theme preference.
func (s *Store) GetTheme() Theme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Theme
}

// SetTheme persists the manual theme preference.
func (s *Store) SetTheme(t Theme) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Theme = t
	return s.saveUnsafe()
}

// GetVolume returns the saved volume level in [0, 1].
func (s *Store) GetVolume() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Volume
}

// SetVolume persists the volume level, clamped to [0, 1].
func (s *Store) SetVolume(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	s.data.Volume = v
	return s.saveUnsafe()
}
