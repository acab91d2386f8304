package playback

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/paradigmamedia/paradigma-player/internal/models"
	"github.com/paradigmamedia/paradigma-player/internal/player"
	"github.com/paradigmamedia/paradigma-player/internal/prefs"
	"github.com/paradigmamedia/paradigma-player/internal/stream"
)

// fakeRepo is an in-memory Repository for playback tests.
type fakeRepo struct {
	mu           sync.Mutex
	episodes     map[string]models.Episode
	showEpisodes map[string][]models.Episode
	detailErr    error
}

func newFakeRepo(eps ...models.Episode) *fakeRepo {
	r := &fakeRepo{
		episodes:     make(map[string]models.Episode),
		showEpisodes: make(map[string][]models.Episode),
	}
	for _, ep := range eps {
		r.episodes[ep.ID] = ep
		if ep.ShowID != "" {
			r.showEpisodes[ep.ShowID] = append(r.showEpisodes[ep.ShowID], ep)
		}
	}
	return r
}

func (r *fakeRepo) GetShows(ctx context.Context) ([]models.Programa, error) { return nil, nil }

func (r *fakeRepo) GetShowDetail(ctx context.Context, id string) (models.Programa, error) {
	return models.Programa{}, fmt.Errorf("show %s not found", id)
}

func (r *fakeRepo) GetEpisodes(ctx context.Context, showID string, offset, limit int) ([]models.Episode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eps := r.showEpisodes[showID]
	if offset >= len(eps) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(eps) {
		end = len(eps)
	}
	return append([]models.Episode(nil), eps[offset:end]...), nil
}

func (r *fakeRepo) GetEpisodeDetail(ctx context.Context, id string) (models.Episode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.detailErr != nil {
		return models.Episode{}, r.detailErr
	}
	ep, ok := r.episodes[id]
	if !ok {
		return models.Episode{}, fmt.Errorf("episode %s not found", id)
	}
	return ep, nil
}

func (r *fakeRepo) SearchEpisodes(ctx context.Context, query string) ([]models.Episode, error) {
	return nil, nil
}

func (r *fakeRepo) SaveEpisode(ep models.Episode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.episodes[ep.ID] = ep
	return nil
}

func (r *fakeRepo) GetEpisodeFromCache(id string) (models.Episode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.episodes[id]
	return ep, ok
}

func (r *fakeRepo) GetSavedEpisodes() ([]models.Episode, error) { return nil, nil }

func (r *fakeRepo) DeleteEpisode(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.episodes, id)
	return nil
}

// fakePlayer records control calls and lets tests emit engine events
// explicitly, mirroring how the real engine delivers them from outside any
// coordinator lock.
type fakePlayer struct {
	mu       sync.Mutex
	listener player.Listener
	state    player.State
	playing  bool
	uri      string
	startPos time.Duration
	position time.Duration
	duration time.Duration
	volume   float64
	loadErr  error
	loads    int
	stops    int
}

func (p *fakePlayer) Load(uri string, startPos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return p.loadErr
	}
	p.uri = uri
	p.startPos = startPos
	p.position = startPos
	p.state = player.StateReady
	p.playing = false
	p.loads++
	return nil
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
	return nil
}

func (p *fakePlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	return nil
}

func (p *fakePlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	p.state = player.StateIdle
	p.uri = ""
	p.stops++
	return nil
}

func (p *fakePlayer) SeekTo(pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = pos
	return nil
}

func (p *fakePlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *fakePlayer) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *fakePlayer) State() player.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *fakePlayer) SetVolume(v float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
	return nil
}

func (p *fakePlayer) SetListener(l player.Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = l
}

func (p *fakePlayer) Close() error { return nil }

func (p *fakePlayer) emitPlaying(playing bool) {
	p.mu.Lock()
	p.playing = playing
	cb := p.listener.OnIsPlayingChanged
	p.mu.Unlock()
	if cb != nil {
		cb(playing)
	}
}

func (p *fakePlayer) emitState(state player.State) {
	p.mu.Lock()
	p.state = state
	cb := p.listener.OnStateChanged
	p.mu.Unlock()
	if cb != nil {
		cb(state)
	}
}

func (p *fakePlayer) emitError(err error) {
	p.mu.Lock()
	cb := p.listener.OnError
	p.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (p *fakePlayer) loadedURI() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uri
}

func (p *fakePlayer) loadedStart() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startPos
}

// fakeMetadata serves a fixed metadata payload.
type fakeMetadata struct {
	md  stream.Metadata
	err error
}

func (f *fakeMetadata) Fetch(ctx context.Context) (stream.Metadata, error) {
	return f.md, f.err
}

func newPlaybackPrefs(t *testing.T) *prefs.Store {
	t.Helper()
	s := prefs.NewStore(t.TempDir())
	if err := s.Load(); err != nil {
		t.Fatalf("Failed to load prefs: %v", err)
	}
	return s
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
