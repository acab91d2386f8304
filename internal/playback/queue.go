package playback

import (
	"context"
	"log"
	"sync"

	"github.com/paradigmamedia/paradigma-player/internal/models"
	"github.com/paradigmamedia/paradigma-player/internal/prefs"
	"github.com/paradigmamedia/paradigma-player/internal/repository"
)

// QueueManager owns the ordered list of episode ids awaiting playback. The id
// list is the source of truth and is persisted on every mutation; the hydrated
// episode list is derived from it and may lag behind while lookups resolve.
type QueueManager struct {
	mu        sync.Mutex
	prefs     *prefs.Store
	repo      repository.Repository
	ids       []string
	episodes  []models.Episode
	available map[string]models.Episode
}

// NewQueueManager creates a queue manager persisting through the preference
// store and hydrating through the repository.
func NewQueueManager(store *prefs.Store, repo repository.Repository) *QueueManager {
	return &QueueManager{
		prefs:     store,
		repo:      repo,
		available: make(map[string]models.Episode),
	}
}

// Load restores the queue id list from the preference store and hydrates it.
func (q *QueueManager) Load(ctx context.Context) {
	q.mu.Lock()
	q.ids = q.prefs.GetQueueIDs()
	q.mu.Unlock()
	q.rehydrate(ctx)
}

// AddEpisodeToQueue appends an episode. Adding an id already present leaves
// the queue unchanged.
func (q *QueueManager) AddEpisodeToQueue(ep models.Episode) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range q.ids {
		if id == ep.ID {
			return
		}
	}

	q.ids = append(q.ids, ep.ID)
	q.persist()
	q.episodes = append(q.episodes, ep)
	q.cacheDetail(ep)
}

// RemoveEpisodeFromQueue removes an episode if present.
func (q *QueueManager) RemoveEpisodeFromQueue(ep models.Episode) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, id := range q.ids {
		if id == ep.ID {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			q.persist()
			break
		}
	}
	if i := models.IndexOfEpisode(q.episodes, ep.ID); i >= 0 {
		q.episodes = append(q.episodes[:i], q.episodes[i+1:]...)
	}
}

// DequeueNextEpisode removes playedID from the queue and returns the episode
// now at the front, or nil when the queue is empty. When playedID was never
// queued the queue is untouched and the current front is returned unchanged;
// whether that fallback is intentional "queue always wins" behavior is an open
// product question, so the behavior is kept as shipped.
func (q *QueueManager) DequeueNextEpisode(ctx context.Context, playedID string) *models.Episode {
	q.mu.Lock()
	removed := false
	for i, id := range q.ids {
		if id == playedID {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		q.persist()
	}
	q.mu.Unlock()

	q.rehydrate(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.episodes) == 0 {
		return nil
	}
	next := q.episodes[0]
	return &next
}

// SetAllAvailableEpisodes supplies a lookup cache used to hydrate queue ids
// without repository round-trips. Each episode is also written through to the
// durable cache.
func (q *QueueManager) SetAllAvailableEpisodes(eps []models.Episode) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ep := range eps {
		q.available[ep.ID] = ep
		q.cacheDetail(ep)
	}
}

// ClearQueue empties the queue.
func (q *QueueManager) ClearQueue() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = nil
	q.episodes = nil
	q.persist()
}

// Episodes returns the hydrated queue in playback order.
func (q *QueueManager) Episodes() []models.Episode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.Episode(nil), q.episodes...)
}

// IDs returns the queue id list in playback order.
func (q *QueueManager) IDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}

// Contains reports whether an episode id is queued.
func (q *QueueManager) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, queued := range q.ids {
		if queued == id {
			return true
		}
	}
	return false
}

// Neighbor returns the hydrated episode delta steps away from id in the
// queue, or nil when id is not queued or the step leaves the queue.
func (q *QueueManager) Neighbor(id string, delta int) *models.Episode {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := models.IndexOfEpisode(q.episodes, id)
	if i < 0 {
		return nil
	}
	j := i + delta
	if j < 0 || j >= len(q.episodes) {
		return nil
	}
	ep := q.episodes[j]
	return &ep
}

// persist writes the id list back. Caller must hold the lock.
func (q *QueueManager) persist() {
	if err := q.prefs.SetQueueIDs(q.ids); err != nil {
		log.Printf("queue: failed to persist ids: %v", err)
	}
}

// cacheDetail writes an episode through to the durable caches.
func (q *QueueManager) cacheDetail(ep models.Episode) {
	if err := q.prefs.SaveEpisodeDetail(ep); err != nil {
		log.Printf("queue: failed to cache detail for %s: %v", ep.ID, err)
	}
	if err := q.repo.SaveEpisode(ep); err != nil {
		log.Printf("queue: failed to cache episode %s: %v", ep.ID, err)
	}
}

// rehydrate rebuilds the episode list from the id list, preserving order. An
// id that fails every lookup keeps its place in the id list but is omitted
// from the hydrated list until it resolves. Repository lookups can hit the
// network, so the lock is released while they run; snapshot reads keep seeing
// the previous hydrated list meanwhile. The result is installed only if the
// id list has not changed under us.
func (q *QueueManager) rehydrate(ctx context.Context) {
	q.mu.Lock()
	ids := append([]string(nil), q.ids...)
	local := make(map[string]models.Episode, len(ids))
	for _, id := range ids {
		if ep, ok := q.available[id]; ok {
			local[id] = ep
		}
	}
	q.mu.Unlock()

	eps := make([]models.Episode, 0, len(ids))
	for _, id := range ids {
		if ep, ok := local[id]; ok {
			eps = append(eps, ep)
			continue
		}
		if ep, ok := q.prefs.GetEpisodeDetail(id); ok {
			eps = append(eps, ep)
			continue
		}
		ep, err := q.repo.GetEpisodeDetail(ctx, id)
		if err != nil {
			log.Printf("queue: could not hydrate %s: %v", id, err)
			continue
		}
		q.cacheDetail(ep)
		eps = append(eps, ep)
	}

	q.mu.Lock()
	if equalIDs(q.ids, ids) {
		q.episodes = eps
	}
	q.mu.Unlock()
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
