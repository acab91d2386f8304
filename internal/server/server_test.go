package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paradigmamedia/paradigma-player/internal/download"
	"github.com/paradigmamedia/paradigma-player/internal/models"
	"github.com/paradigmamedia/paradigma-player/internal/playback"
	"github.com/paradigmamedia/paradigma-player/internal/player"
	"github.com/paradigmamedia/paradigma-player/internal/prefs"
	"github.com/paradigmamedia/paradigma-player/internal/stream"
)

// stubRepo serves a fixed episode set.
type stubRepo struct {
	mu       sync.Mutex
	episodes map[string]models.Episode
	err      error
}

func (r *stubRepo) GetShows(ctx context.Context) ([]models.Programa, error) {
	return []models.Programa{{ID: "show1", Title: "Radio Test"}}, r.err
}

func (r *stubRepo) GetShowDetail(ctx context.Context, id string) (models.Programa, error) {
	return models.Programa{ID: id, Title: "Radio Test"}, r.err
}

func (r *stubRepo) GetEpisodes(ctx context.Context, showID string, offset, limit int) ([]models.Episode, error) {
	return nil, r.err
}

func (r *stubRepo) GetEpisodeDetail(ctx context.Context, id string) (models.Episode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return models.Episode{}, r.err
	}
	ep, ok := r.episodes[id]
	if !ok {
		return models.Episode{}, fmt.Errorf("episode %s not found", id)
	}
	return ep, nil
}

func (r *stubRepo) SearchEpisodes(ctx context.Context, query string) ([]models.Episode, error) {
	return nil, r.err
}

func (r *stubRepo) SaveEpisode(ep models.Episode) error { return nil }

func (r *stubRepo) GetEpisodeFromCache(id string) (models.Episode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.episodes[id]
	return ep, ok
}

func (r *stubRepo) GetSavedEpisodes() ([]models.Episode, error) { return nil, nil }
func (r *stubRepo) DeleteEpisode(id string) error               { return nil }

// stubPlayer is a minimal no-op engine.
type stubPlayer struct {
	mu      sync.Mutex
	state   player.State
	playing bool
}

func (p *stubPlayer) Load(uri string, startPos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = player.StateReady
	return nil
}

func (p *stubPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
	return nil
}

func (p *stubPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	return nil
}

func (p *stubPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	p.state = player.StateIdle
	return nil
}

func (p *stubPlayer) SeekTo(pos time.Duration) error { return nil }
func (p *stubPlayer) Position() time.Duration        { return 0 }
func (p *stubPlayer) Duration() time.Duration        { return 0 }

func (p *stubPlayer) State() player.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *stubPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *stubPlayer) SetVolume(v float64) error     { return nil }
func (p *stubPlayer) SetListener(l player.Listener) {}
func (p *stubPlayer) Close() error                  { return nil }

type stubMetadata struct{}

func (stubMetadata) Fetch(ctx context.Context) (stream.Metadata, error) {
	return stream.Metadata{}, nil
}

func newTestServer(t *testing.T) (*Server, *prefs.Store) {
	t.Helper()

	store := prefs.NewStore(t.TempDir())
	if err := store.Load(); err != nil {
		t.Fatalf("Failed to load prefs: %v", err)
	}

	repo := &stubRepo{episodes: map[string]models.Episode{
		"ep1": {ID: "ep1", Title: "One", AudioURL: "https://example.com/ep1.mp3"},
	}}

	downloads := download.NewManager(store, t.TempDir())
	if err := downloads.Load(); err != nil {
		t.Fatalf("Failed to load downloads: %v", err)
	}
	t.Cleanup(downloads.Close)

	queue := playback.NewQueueManager(store, repo)
	ongoing := playback.NewOnGoingTracker(store, repo)

	coord := playback.NewCoordinator(playback.Options{
		Prefs:         store,
		Repo:          repo,
		Queue:         queue,
		Downloads:     downloads,
		OnGoing:       ongoing,
		EpisodePlayer: &stubPlayer{},
		StreamPlayer:  &stubPlayer{},
		Metadata:      stubMetadata{},
		StreamURL:     "https://radio.example.com/live",
		ProgressTick:  time.Hour,
		MetadataTick:  time.Hour,
	})
	coord.Start()
	t.Cleanup(coord.Close)

	return New(coord, repo, queue, downloads, ongoing, store), store
}

func TestServer_State(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var snap playback.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if snap.Source != playback.SourceIdle {
		t.Errorf("Expected idle source, got %v", snap.Source)
	}
}

func TestServer_SelectAndQueue(t *testing.T) {
	s, store := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	body := bytes.NewBufferString(`{"episodeId":"ep1","play":true}`)
	resp, err := http.Post(ts.URL+"/api/select", "application/json", body)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var snap playback.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if snap.CurrentEpisode == nil || snap.CurrentEpisode.ID != "ep1" {
		t.Errorf("Expected ep1 current, got %+v", snap.CurrentEpisode)
	}
	if store.GetCurrentEpisodeID() != "ep1" {
		t.Error("Expected current episode persisted")
	}

	// Queue the episode and read it back
	resp, err = http.Post(ts.URL+"/api/queue", "application/json",
		bytes.NewBufferString(`{"episodeId":"ep1"}`))
	if err != nil {
		t.Fatalf("Queue add failed: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/queue")
	if err != nil {
		t.Fatalf("Queue get failed: %v", err)
	}
	defer resp.Body.Close()
	var queued []models.Episode
	if err := json.NewDecoder(resp.Body).Decode(&queued); err != nil {
		t.Fatalf("Failed to decode queue: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != "ep1" {
		t.Errorf("Expected queue [ep1], got %v", queued)
	}
}

func TestServer_SelectUnknownEpisode(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/select", "application/json",
		bytes.NewBufferString(`{"episodeId":"missing"}`))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500 for unknown episode, got %d", resp.StatusCode)
	}
}

func TestServer_BadRequestBody(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/select", "application/json",
		bytes.NewBufferString(`{not json`))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", resp.StatusCode)
	}
}

func TestServer_ErrorMapping(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{models.ErrNetworkUnavailable, http.StatusBadGateway},
		{models.ErrServer, http.StatusBadGateway},
		{models.ErrNoPlayableSource, http.StatusUnprocessableEntity},
		{models.ErrAlreadyDownloaded, http.StatusConflict},
		{models.ErrCapacityReached, http.StatusInsufficientStorage},
		{&models.CodedError{Code: 404, Message: "Not Found"}, http.StatusBadGateway},
		{fmt.Errorf("anything else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeError(rec, tt.err)
		if rec.Code != tt.expected {
			t.Errorf("writeError(%v) = %d, expected %d", tt.err, rec.Code, tt.expected)
		}
	}
}

func TestServer_EventsStream(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Expected event stream, got %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	readSnapshot := func() playback.Snapshot {
		t.Helper()
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var snap playback.Snapshot
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap); err != nil {
				t.Fatalf("Failed to decode event: %v", err)
			}
			return snap
		}
		t.Fatalf("Stream ended early: %v", scanner.Err())
		return playback.Snapshot{}
	}

	// The current state arrives immediately on connect
	first := readSnapshot()
	if first.Source != playback.SourceIdle {
		t.Errorf("Expected idle source in initial event, got %v", first.Source)
	}

	// An intent sent elsewhere shows up on the stream
	vresp, err := http.Post(ts.URL+"/api/volume", "application/json",
		bytes.NewBufferString(`{"volume":0.25}`))
	if err != nil {
		t.Fatalf("Volume request failed: %v", err)
	}
	vresp.Body.Close()

	for {
		if snap := readSnapshot(); snap.Volume == 0.25 {
			break
		}
	}
}

func TestServer_Settings(t *testing.T) {
	s, store := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/settings", "application/json",
		bytes.NewBufferString(`{"theme":2,"onboardingDone":true,"volume":0.4}`))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	if store.GetTheme() != prefs.ThemeDark {
		t.Error("Expected dark theme persisted")
	}
	if !store.IsOnboardingDone() {
		t.Error("Expected onboarding flag persisted")
	}
	if store.GetVolume() != 0.4 {
		t.Errorf("Expected volume 0.4, got %f", store.GetVolume())
	}
}
