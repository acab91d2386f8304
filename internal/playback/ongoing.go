package playback

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/paradigmamedia/paradigma-player/internal/models"
	"github.com/paradigmamedia/paradigma-player/internal/prefs"
	"github.com/paradigmamedia/paradigma-player/internal/repository"
)

// OnGoingEpisode is an episode with saved partial progress.
type OnGoingEpisode struct {
	Episode    models.Episode `json:"episode"`
	PositionMs int64          `json:"positionMs"`
}

// OnGoingTracker maintains the "continue listening" list: every episode with a
// non-zero persisted resume position.
type OnGoingTracker struct {
	mu       sync.Mutex
	prefs    *prefs.Store
	repo     repository.Repository
	episodes []OnGoingEpisode
}

// NewOnGoingTracker creates a tracker over the preference store's position map.
func NewOnGoingTracker(store *prefs.Store, repo repository.Repository) *OnGoingTracker {
	return &OnGoingTracker{prefs: store, repo: repo}
}

// Refresh recomputes the tracked list from the persisted positions, loading
// full details for each non-zero entry. The list is sorted by resume position
// descending; that is magnitude, not recency, matching the shipped behavior
// (a nearly-finished old episode ranks above a just-started recent one).
func (t *OnGoingTracker) Refresh(ctx context.Context) {
	positions := t.prefs.GetAllPositions()

	eps := make([]OnGoingEpisode, 0, len(positions))
	for id, pos := range positions {
		if pos <= 0 {
			continue
		}
		ep, ok := t.prefs.GetEpisodeDetail(id)
		if !ok {
			fetched, err := t.repo.GetEpisodeDetail(ctx, id)
			if err != nil {
				log.Printf("ongoing: could not load details for %s: %v", id, err)
				continue
			}
			ep = fetched
		}
		eps = append(eps, OnGoingEpisode{Episode: ep, PositionMs: pos})
	}

	sort.Slice(eps, func(i, j int) bool {
		if eps[i].PositionMs != eps[j].PositionMs {
			return eps[i].PositionMs > eps[j].PositionMs
		}
		return eps[i].Episode.ID < eps[j].Episode.ID
	})

	t.mu.Lock()
	t.episodes = eps
	t.mu.Unlock()
}

// AddOrUpdateOnGoingEpisode persists the episode's full details and recomputes
// the tracked list.
func (t *OnGoingTracker) AddOrUpdateOnGoingEpisode(ctx context.Context, ep models.Episode) {
	if err := t.prefs.SaveEpisodeDetail(ep); err != nil {
		log.Printf("ongoing: failed to save details for %s: %v", ep.ID, err)
	}
	t.Refresh(ctx)
}

// UpdatePosition adjusts the in-memory position of a tracked episode without
// a full recompute; used by the progress tick so it stays cheap. An episode
// playing for the first time is appended so it shows up in continue-listening
// right away, with its details persisted for the next Refresh.
func (t *OnGoingTracker) UpdatePosition(ep models.Episode, positionMs int64) {
	t.mu.Lock()
	for i := range t.episodes {
		if t.episodes[i].Episode.ID == ep.ID {
			t.episodes[i].PositionMs = positionMs
			t.mu.Unlock()
			return
		}
	}
	if positionMs <= 0 {
		t.mu.Unlock()
		return
	}
	t.episodes = append(t.episodes, OnGoingEpisode{Episode: ep, PositionMs: positionMs})
	t.mu.Unlock()

	if err := t.prefs.SaveEpisodeDetail(ep); err != nil {
		log.Printf("ongoing: failed to save details for %s: %v", ep.ID, err)
	}
}

// Episodes returns the tracked list, most-progressed first.
func (t *OnGoingTracker) Episodes() []OnGoingEpisode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]OnGoingEpisode(nil), t.episodes...)
}
