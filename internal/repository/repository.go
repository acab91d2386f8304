// Package repository provides show and episode metadata access: network
// fetching from the configured show feeds, a durable SQLite cache behind it,
// and fuzzy search over everything already seen.
package repository

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/paradigmamedia/paradigma-player/internal/models"
	"github.com/paradigmamedia/paradigma-player/internal/store"
)

// Repository is the content access contract consumed by the playback layer.
type Repository interface {
	GetShows(ctx context.Context) ([]models.Programa, error)
	GetShowDetail(ctx context.Context, id string) (models.Programa, error)
	GetEpisodes(ctx context.Context, showID string, offset, limit int) ([]models.Episode, error)
	GetEpisodeDetail(ctx context.Context, id string) (models.Episode, error)
	SearchEpisodes(ctx context.Context, query string) ([]models.Episode, error)
	SaveEpisode(ep models.Episode) error
	GetEpisodeFromCache(id string) (models.Episode, bool)
	GetSavedEpisodes() ([]models.Episode, error)
	DeleteEpisode(id string) error
}

// FeedRepository fetches shows and episodes from RSS feeds, writing everything
// it sees through to the SQLite cache.
type FeedRepository struct {
	mu           sync.RWMutex
	parser       *gofeed.Parser
	cache        *store.Store
	feedURLs     []string
	showFeeds    map[string]string // show id -> feed URL
	episodes     map[string]models.Episode
	showEpisodes map[string][]models.Episode
	matcher      *Matcher
}

// NewFeedRepository creates a repository over the given show feed URLs.
func NewFeedRepository(cache *store.Store, feedURLs []string) *FeedRepository {
	return &FeedRepository{
		parser:       gofeed.NewParser(),
		cache:        cache,
		feedURLs:     append([]string(nil), feedURLs...),
		showFeeds:    make(map[string]string),
		episodes:     make(map[string]models.Episode),
		showEpisodes: make(map[string][]models.Episode),
		matcher:      NewMatcher(),
	}
}

// GenerateShowID derives a stable show id from its feed URL.
func GenerateShowID(feedURL string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(feedURL)))
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

// GetShows fetches all configured shows. On network failure it falls back to
// the cached show list; the error is returned only when both are empty-handed.
func (r *FeedRepository) GetShows(ctx context.Context) ([]models.Programa, error) {
	var shows []models.Programa
	var lastErr error

	for _, feedURL := range r.feedURLs {
		show, _, err := r.fetchShow(ctx, feedURL)
		if err != nil {
			lastErr = err
			log.Printf("repository: failed to fetch %s: %v", feedURL, err)
			continue
		}
		shows = append(shows, show)
	}

	if len(shows) == 0 && lastErr != nil {
		cached, err := r.cache.GetShows()
		if err == nil && len(cached) > 0 {
			return cached, nil
		}
		return nil, lastErr
	}
	return shows, nil
}

// GetShowDetail fetches a single show with its episode list.
func (r *FeedRepository) GetShowDetail(ctx context.Context, id string) (models.Programa, error) {
	feedURL, ok := r.feedForShow(id)
	if !ok {
		show, err := r.cache.GetShow(id)
		if err != nil {
			return models.Programa{}, fmt.Errorf("unknown show %s: %w", id, err)
		}
		return show, nil
	}

	show, eps, err := r.fetchShow(ctx, feedURL)
	if err != nil {
		cached, cacheErr := r.cache.GetShow(id)
		if cacheErr == nil {
			return cached, nil
		}
		return models.Programa{}, err
	}
	show.Episodes = eps
	return show, nil
}

// GetEpisodes returns a window of a show's episodes, newest first.
func (r *FeedRepository) GetEpisodes(ctx context.Context, showID string, offset, limit int) ([]models.Episode, error) {
	r.mu.RLock()
	eps, ok := r.showEpisodes[showID]
	r.mu.RUnlock()

	if !ok {
		feedURL, found := r.feedForShow(showID)
		if !found {
			cached, err := r.cache.GetEpisodesByShow(showID, offset+limit)
			if err != nil || len(cached) == 0 {
				return nil, fmt.Errorf("unknown show %s", showID)
			}
			eps = cached
		} else {
			_, fetched, err := r.fetchShow(ctx, feedURL)
			if err != nil {
				cached, cacheErr := r.cache.GetEpisodesByShow(showID, offset+limit)
				if cacheErr == nil && len(cached) > 0 {
					eps = cached
				} else {
					return nil, err
				}
			} else {
				eps = fetched
			}
		}
	}

	if offset >= len(eps) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(eps) {
		end = len(eps)
	}
	return append([]models.Episode(nil), eps[offset:end]...), nil
}

// GetEpisodeDetail resolves a single episode: memory, then the durable cache,
// then a network pass over the configured feeds.
func (r *FeedRepository) GetEpisodeDetail(ctx context.Context, id string) (models.Episode, error) {
	if ep, ok := r.GetEpisodeFromCache(id); ok {
		return ep, nil
	}

	if ep, err := r.cache.GetEpisode(id); err == nil {
		r.remember(ep)
		return ep, nil
	}

	var lastErr error
	for _, feedURL := range r.feedURLs {
		if _, _, err := r.fetchShow(ctx, feedURL); err != nil {
			lastErr = err
			continue
		}
		if ep, ok := r.GetEpisodeFromCache(id); ok {
			return ep, nil
		}
	}
	if lastErr != nil {
		return models.Episode{}, lastErr
	}
	return models.Episode{}, fmt.Errorf("episode %s not found", id)
}

// SearchEpisodes fuzzy-matches the query against every episode the repository
// has seen, best matches first.
func (r *FeedRepository) SearchEpisodes(ctx context.Context, query string) ([]models.Episode, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	corpus := make(map[string]models.Episode)
	if saved, err := r.cache.GetSavedEpisodes(); err == nil {
		for _, ep := range saved {
			corpus[ep.ID] = ep
		}
	}
	r.mu.RLock()
	for id, ep := range r.episodes {
		corpus[id] = ep
	}
	r.mu.RUnlock()

	type scored struct {
		ep    models.Episode
		score int
	}
	var matches []scored
	for _, ep := range corpus {
		if ok, score := r.matcher.MatchEpisode(query, ep.Title, ep.Description); ok {
			matches = append(matches, scored{ep, score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].ep.Title < matches[j].ep.Title
	})

	out := make([]models.Episode, len(matches))
	for i, m := range matches {
		out[i] = m.ep
	}
	return out, nil
}

// SaveEpisode writes an episode through to the durable cache.
func (r *FeedRepository) SaveEpisode(ep models.Episode) error {
	r.remember(ep)
	return r.cache.SaveEpisode(ep)
}

// GetEpisodeFromCache returns an episode from the in-memory cache.
func (r *FeedRepository) GetEpisodeFromCache(id string) (models.Episode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.episodes[id]
	return ep, ok
}

// GetSavedEpisodes returns all episodes in the durable cache.
func (r *FeedRepository) GetSavedEpisodes() ([]models.Episode, error) {
	return r.cache.GetSavedEpisodes()
}

// DeleteEpisode removes an episode from both caches.
func (r *FeedRepository) DeleteEpisode(id string) error {
	r.mu.Lock()
	delete(r.episodes, id)
	r.mu.Unlock()
	return r.cache.DeleteEpisode(id)
}

func (r *FeedRepository) remember(ep models.Episode) {
	if ep.ID == "" {
		return
	}
	r.mu.Lock()
	r.episodes[ep.ID] = ep
	r.mu.Unlock()
}

func (r *FeedRepository) feedForShow(id string) (string, bool) {
	r.mu.RLock()
	if feedURL, ok := r.showFeeds[id]; ok {
		r.mu.RUnlock()
		return feedURL, true
	}
	r.mu.RUnlock()

	for _, feedURL := range r.feedURLs {
		if GenerateShowID(feedURL) == id {
			return feedURL, true
		}
	}
	return "", false
}

func (r *FeedRepository) fetchShow(ctx context.Context, feedURL string) (models.Programa, []models.Episode, error) {
	feed, err := r.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return models.Programa{}, nil, classifyFetchError(err)
	}

	showID := GenerateShowID(feedURL)
	show := models.Programa{
		ID:          showID,
		Title:       feed.Title,
		Description: feed.Description,
	}
	if feed.Image != nil {
		show.ImageURL = feed.Image.URL
	}

	eps := make([]models.Episode, 0, len(feed.Items))
	for _, item := range feed.Items {
		ep := itemToEpisode(feedURL, showID, item)
		if ep.ID == "" {
			continue
		}
		eps = append(eps, ep)
		r.remember(ep)
		if err := r.cache.SaveEpisode(ep); err != nil {
			log.Printf("repository: failed to cache episode %s: %v", ep.ID, err)
		}
	}

	r.mu.Lock()
	r.showFeeds[showID] = feedURL
	r.showEpisodes[showID] = eps
	r.mu.Unlock()

	if err := r.cache.SaveShow(show); err != nil {
		log.Printf("repository: failed to cache show %s: %v", show.ID, err)
	}
	return show, eps, nil
}

func itemToEpisode(feedURL, showID string, item *gofeed.Item) models.Episode {
	var audioURL string
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			audioURL = enc.URL
			break
		}
	}

	published := time.Time{}
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	}

	id := item.GUID
	if id == "" {
		if audioURL == "" {
			return models.Episode{}
		}
		id = models.GenerateEpisodeID(feedURL, audioURL, published)
	}

	ep := models.Episode{
		ID:          id,
		Title:       item.Title,
		Description: item.Description,
		AudioURL:    audioURL,
		PublishDate: published,
		ShowID:      showID,
		Content:     item.Content,
	}
	if item.Image != nil {
		ep.ImageURL = item.Image.URL
	}
	if item.ITunesExt != nil {
		ep.Duration = parseITunesDuration(item.ITunesExt.Duration)
	}
	return ep
}

// parseITunesDuration handles both plain seconds and HH:MM:SS forms.
func parseITunesDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if !strings.Contains(s, ":") {
		secs, err := strconv.Atoi(s)
		if err != nil || secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	parts := strings.Split(s, ":")
	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}

// classifyFetchError maps a fetch failure onto the shared error taxonomy.
func classifyFetchError(err error) error {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 500 {
			return fmt.Errorf("%w: %s", models.ErrServer, httpErr.Status)
		}
		return &models.CodedError{Code: httpErr.StatusCode, Message: httpErr.Status}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", models.ErrNetworkUnavailable, urlErr)
	}
	return err
}
