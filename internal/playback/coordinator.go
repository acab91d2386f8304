// Package playback contains the playback coordination core: the coordinator
// that multiplexes the episode and live stream players into one logical
// session, the queue manager, the download-backed source resolution, and the
// continue-listening tracker.
package playback

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paradigmamedia/paradigma-player/internal/download"
	"github.com/paradigmamedia/paradigma-player/internal/models"
	"github.com/paradigmamedia/paradigma-player/internal/player"
	"github.com/paradigmamedia/paradigma-player/internal/prefs"
	"github.com/paradigmamedia/paradigma-player/internal/repository"
	"github.com/paradigmamedia/paradigma-player/internal/stream"
)

const (
	// contextualWindowSize bounds the same-show playlist fetched as
	// next/previous fallback.
	contextualWindowSize = 20
	// notificationTTL is how long a transient notification stays visible.
	notificationTTL = 3 * time.Second
	// hydrateTimeout bounds network lookups triggered from event handlers.
	hydrateTimeout = 10 * time.Second
)

// Options configures a Coordinator.
type Options struct {
	Prefs          *prefs.Store
	Repo           repository.Repository
	Queue          *QueueManager
	Downloads      *download.Manager
	OnGoing        *OnGoingTracker
	EpisodePlayer  player.Player
	StreamPlayer   player.Player
	Metadata       stream.MetadataProvider
	StreamURL      string
	ProgressTick   time.Duration
	MetadataTick   time.Duration
}

// Coordinator is the single authority over what plays. It owns both player
// instances, reconciles user intents with queue state and persisted
// preferences, and publishes one consistent session snapshot.
type Coordinator struct {
	mu sync.Mutex

	prefs     *prefs.Store
	repo      repository.Repository
	queue     *QueueManager
	downloads *download.Manager
	ongoing   *OnGoingTracker
	episode   player.Player
	streamP   player.Player
	metadata  stream.MetadataProvider
	streamURL string

	progressTick time.Duration
	metadataTick time.Duration

	current        *models.Episode
	contextual     []models.Episode
	preparingID    string
	streamActive   bool
	streamFailed   bool
	episodePlaying bool
	streamPlaying  bool
	progress       float64
	durationMs     int64
	streamMeta     stream.Metadata
	notification   *models.Notification
	volume         float64

	updates chan Snapshot
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// NewCoordinator wires a coordinator over its collaborators. Call Start to
// restore persisted state and launch the background loops.
func NewCoordinator(opts Options) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		prefs:        opts.Prefs,
		repo:         opts.Repo,
		queue:        opts.Queue,
		downloads:    opts.Downloads,
		ongoing:      opts.OnGoing,
		episode:      opts.EpisodePlayer,
		streamP:      opts.StreamPlayer,
		metadata:     opts.Metadata,
		streamURL:    opts.StreamURL,
		progressTick: opts.ProgressTick,
		metadataTick: opts.MetadataTick,
		volume:       1.0,
		updates:      make(chan Snapshot, 8),
		ctx:          ctx,
		cancel:       cancel,
	}
	if c.progressTick <= 0 {
		c.progressTick = 250 * time.Millisecond
	}
	if c.metadataTick <= 0 {
		c.metadataTick = 15 * time.Second
	}

	c.episode.SetListener(player.Listener{
		OnIsPlayingChanged: c.onEpisodePlayingChanged,
		OnStateChanged:     c.onEpisodeStateChanged,
		OnError:            c.onEpisodeError,
	})
	c.streamP.SetListener(player.Listener{
		OnIsPlayingChanged: c.onStreamPlayingChanged,
		OnError:            c.onStreamError,
	})

	return c
}

// Start restores persisted session state and launches the progress and
// stream-metadata loops.
func (c *Coordinator) Start() {
	loadCtx, loadCancel := context.WithTimeout(c.ctx, hydrateTimeout)
	c.queue.Load(loadCtx)
	c.ongoing.Refresh(loadCtx)
	loadCancel()

	c.mu.Lock()
	c.streamActive = c.prefs.IsStreamActive()
	c.volume = c.prefs.GetVolume()
	if id := c.prefs.GetCurrentEpisodeID(); id != "" {
		if ep, ok := c.prefs.GetEpisodeDetail(id); ok {
			c.current = &ep
			c.durationMs = ep.Duration.Milliseconds()
			if c.durationMs > 0 {
				c.progress = float64(c.prefs.GetEpisodePosition(id)) / float64(c.durationMs)
			}
		}
	}
	c.mu.Unlock()

	c.episode.SetVolume(c.volume)
	c.streamP.SetVolume(c.volume)

	c.wg.Add(2)
	go c.progressLoop()
	go c.metadataLoop()

	c.publish()
}

// Updates returns the snapshot stream, intended for a single consumer that
// fans out further if needed. Snapshots are dropped rather than blocking when
// the consumer lags; State always has the latest.
func (c *Coordinator) Updates() <-chan Snapshot {
	return c.updates
}

// State returns the current session snapshot.
func (c *Coordinator) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SelectEpisode makes an episode the current one. Selecting the episode that
// is already current toggles play/pause instead of reloading.
func (c *Coordinator) SelectEpisode(ep models.Episode, playWhenReady bool) error {
	c.mu.Lock()

	if c.current != nil && c.current.ID == ep.ID && c.episode.State() != player.StateIdle {
		c.mu.Unlock()
		return c.togglePlayPauseEpisode()
	}

	err := c.selectEpisodeLocked(ep, playWhenReady)
	c.mu.Unlock()
	c.publish()
	return err
}

// selectEpisodeLocked loads an episode into the episode player.
// Caller must hold the lock.
func (c *Coordinator) selectEpisodeLocked(ep models.Episode, playWhenReady bool) error {
	c.preparingID = ep.ID
	c.current = &ep
	c.progress = 0
	c.durationMs = ep.Duration.Milliseconds()
	if err := c.prefs.SetCurrentEpisodeID(ep.ID); err != nil {
		log.Printf("coordinator: failed to persist current episode: %v", err)
	}

	// Switching to an episode silences the stream.
	if c.streamPlaying {
		if err := c.streamP.Stop(); err != nil {
			log.Printf("coordinator: failed to stop stream: %v", err)
		}
		c.streamPlaying = false
	}

	src, ok := resolveEpisodeSource(c.downloads, ep)
	if !ok {
		c.preparingID = ""
		c.notifyLocked("Este episodio no tiene audio disponible", false)
		return models.ErrNoPlayableSource
	}

	startPos := time.Duration(c.prefs.GetEpisodePosition(ep.ID)) * time.Millisecond
	if err := c.episode.Load(src, startPos); err != nil {
		c.preparingID = ""
		c.notifyLocked("No se pudo cargar el episodio", false)
		return &models.PlaybackError{Cause: err}
	}
	if playWhenReady {
		if err := c.episode.Play(); err != nil {
			log.Printf("coordinator: failed to start playback: %v", err)
		}
	}

	go c.loadContextualPlaylist(ep)
	return nil
}

// OnPlayerPlayPauseClick handles the unified play/pause intent: the episode
// player when an episode is current, else the stream when it is active.
func (c *Coordinator) OnPlayerPlayPauseClick() error {
	c.mu.Lock()

	if c.current != nil {
		if c.episode.State() == player.StateIdle {
			// Restored session: the episode was never loaded this run.
			ep := *c.current
			err := c.selectEpisodeLocked(ep, true)
			c.mu.Unlock()
			c.publish()
			return err
		}
		c.mu.Unlock()
		return c.togglePlayPauseEpisode()
	}

	if !c.streamActive {
		c.mu.Unlock()
		return nil
	}

	if c.streamFailed {
		c.streamFailed = false
		err := c.startStreamLocked()
		c.mu.Unlock()
		c.publish()
		return err
	}

	var err error
	if c.streamPlaying {
		err = c.streamP.Pause()
	} else if c.streamP.State() != player.StateIdle {
		err = c.streamP.Play()
	} else {
		err = c.startStreamLocked()
	}
	c.mu.Unlock()
	c.publish()
	return err
}

func (c *Coordinator) togglePlayPauseEpisode() error {
	if c.episode.IsPlaying() {
		if err := c.episode.Pause(); err != nil {
			return err
		}
		c.persistCurrentProgress()
		refreshCtx, cancel := context.WithTimeout(c.ctx, hydrateTimeout)
		c.ongoing.Refresh(refreshCtx)
		cancel()
		c.publish()
		return nil
	}
	err := c.episode.Play()
	c.publish()
	return err
}

// ToggleAndainaStreamPlayer flips the live stream on or off. Switching to the
// stream always wins over episode playback.
func (c *Coordinator) ToggleAndainaStreamPlayer() error {
	c.mu.Lock()

	if c.episodePlaying || c.episode.State() != player.StateIdle {
		c.persistCurrentProgressLocked()
		if err := c.episode.Stop(); err != nil {
			log.Printf("coordinator: failed to stop episode player: %v", err)
		}
		c.episodePlaying = false
	}
	if c.current != nil {
		c.current = nil
		c.preparingID = ""
		c.progress = 0
		c.durationMs = 0
		if err := c.prefs.SetCurrentEpisodeID(""); err != nil {
			log.Printf("coordinator: failed to clear current episode: %v", err)
		}
	}

	c.streamActive = !c.streamActive
	if err := c.prefs.SetStreamActive(c.streamActive); err != nil {
		log.Printf("coordinator: failed to persist stream preference: %v", err)
	}

	var err error
	if c.streamActive {
		err = c.startStreamLocked()
	} else {
		err = c.streamP.Stop()
		c.streamPlaying = false
	}
	c.mu.Unlock()
	c.publish()
	return err
}

// startStreamLocked loads and starts the live stream.
// Caller must hold the lock.
func (c *Coordinator) startStreamLocked() error {
	c.streamFailed = false
	if err := c.streamP.Load(c.streamURL, 0); err != nil {
		c.streamFailed = true
		return &models.PlaybackError{Cause: err}
	}
	if err := c.streamP.Play(); err != nil {
		c.streamFailed = true
		return &models.PlaybackError{Cause: err}
	}
	return nil
}

// PlayNextEpisode steps forward: within the queue when the current episode is
// queued, else within the same-show contextual playlist.
func (c *Coordinator) PlayNextEpisode() error {
	return c.step(1)
}

// PlayPreviousEpisode steps backward with the same resolution order as
// PlayNextEpisode.
func (c *Coordinator) PlayPreviousEpisode() error {
	return c.step(-1)
}

func (c *Coordinator) step(delta int) error {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return nil
	}
	target := c.neighborLocked(delta)
	if target == nil {
		c.mu.Unlock()
		return nil
	}
	ep := *target
	err := c.selectEpisodeLocked(ep, true)
	c.mu.Unlock()
	c.publish()
	return err
}

// neighborLocked resolves the episode delta steps from the current one: the
// queue wins when the current episode is queued, else the contextual
// playlist. Caller must hold the lock.
func (c *Coordinator) neighborLocked(delta int) *models.Episode {
	if c.current == nil {
		return nil
	}
	if c.queue.Contains(c.current.ID) {
		return c.queue.Neighbor(c.current.ID, delta)
	}
	i := models.IndexOfEpisode(c.contextual, c.current.ID)
	if i < 0 {
		return nil
	}
	j := i + delta
	if j < 0 || j >= len(c.contextual) {
		return nil
	}
	ep := c.contextual[j]
	return &ep
}

// SeekEpisodeTo seeks the current episode to a fraction of its duration.
// No-op when no episode is current or the duration is unknown.
func (c *Coordinator) SeekEpisodeTo(fraction float64) error {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return nil
	}
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	dur := c.episode.Duration()
	c.mu.Unlock()

	if dur <= 0 {
		return nil
	}
	target := time.Duration(fraction * float64(dur))
	if err := c.episode.SeekTo(target); err != nil {
		return err
	}
	c.publish()
	return nil
}

// SkipSeconds seeks relative to the current position, negative values skip
// backwards.
func (c *Coordinator) SkipSeconds(seconds int) error {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	pos := c.episode.Position() + time.Duration(seconds)*time.Second
	if pos < 0 {
		pos = 0
	}
	return c.episode.SeekTo(pos)
}

// SetVolume persists and applies the volume to both players.
func (c *Coordinator) SetVolume(v float64) error {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}

	c.mu.Lock()
	c.volume = v
	c.mu.Unlock()

	if err := c.prefs.SetVolume(v); err != nil {
		log.Printf("coordinator: failed to persist volume: %v", err)
	}
	if err := c.episode.SetVolume(v); err != nil {
		return err
	}
	if err := c.streamP.SetVolume(v); err != nil {
		return err
	}
	c.publish()
	return nil
}

// --- player event handlers ---
// Each player delivers its events serially, so these never race per player.

func (c *Coordinator) onEpisodePlayingChanged(playing bool) {
	c.mu.Lock()
	c.episodePlaying = playing
	if playing {
		c.preparingID = ""
	}
	c.mu.Unlock()
	c.publish()
}

func (c *Coordinator) onEpisodeStateChanged(state player.State) {
	if state != player.StateEnded {
		c.publish()
		return
	}

	c.mu.Lock()
	finished := c.current
	c.episodePlaying = false
	c.mu.Unlock()

	if finished == nil {
		c.publish()
		return
	}

	// Finished: the episode restarts from zero next time.
	if err := c.prefs.SaveEpisodePosition(finished.ID, 0); err != nil {
		log.Printf("coordinator: failed to reset position for %s: %v", finished.ID, err)
	}

	ctx, cancel := context.WithTimeout(c.ctx, hydrateTimeout)
	c.ongoing.Refresh(ctx)
	next := c.queue.DequeueNextEpisode(ctx, finished.ID)
	cancel()

	if next != nil {
		c.mu.Lock()
		err := c.selectEpisodeLocked(*next, true)
		c.mu.Unlock()
		if err != nil {
			log.Printf("coordinator: failed to advance to %s: %v", next.ID, err)
		}
	} else {
		c.mu.Lock()
		c.current = nil
		c.preparingID = ""
		c.progress = 0
		c.durationMs = 0
		if err := c.prefs.SetCurrentEpisodeID(""); err != nil {
			log.Printf("coordinator: failed to clear current episode: %v", err)
		}
		c.mu.Unlock()
	}
	c.publish()
}

func (c *Coordinator) onEpisodeError(err error) {
	log.Printf("coordinator: episode player error: %v", err)
	c.mu.Lock()
	c.preparingID = ""
	c.episodePlaying = false
	c.notifyLocked("Error reproduciendo el episodio", false)
	c.mu.Unlock()
	c.publish()
}

func (c *Coordinator) onStreamPlayingChanged(playing bool) {
	c.mu.Lock()
	c.streamPlaying = playing
	c.mu.Unlock()
	c.publish()
}

func (c *Coordinator) onStreamError(err error) {
	log.Printf("coordinator: stream player error: %v", err)
	c.mu.Lock()
	c.streamFailed = true
	c.streamPlaying = false
	c.mu.Unlock()
	c.publish()
}

// --- background loops ---

// progressLoop publishes episode progress and stream status on a fixed
// interval, decoupled from the player's native event granularity.
func (c *Coordinator) progressLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.progressTick)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Coordinator) tick() {
	c.mu.Lock()
	current := c.current
	playing := c.episodePlaying
	c.mu.Unlock()

	if current != nil && playing {
		pos := c.episode.Position()
		dur := c.episode.Duration()

		c.mu.Lock()
		c.durationMs = dur.Milliseconds()
		if dur > 0 {
			c.progress = float64(pos) / float64(dur)
			if c.progress > 1 {
				c.progress = 1
			}
		}
		c.mu.Unlock()

		if err := c.prefs.SaveEpisodePosition(current.ID, pos.Milliseconds()); err != nil {
			log.Printf("coordinator: failed to save position for %s: %v", current.ID, err)
		}
		c.ongoing.UpdatePosition(*current, pos.Milliseconds())
	}

	// The stream can stall or resume on its own; reflect what is audible.
	streamPlaying := c.streamP.IsPlaying()
	c.mu.Lock()
	c.streamPlaying = streamPlaying
	c.mu.Unlock()

	c.publish()
}

// metadataLoop refreshes live stream metadata while the stream is active or
// audible. Fetch failures degrade to "no metadata".
func (c *Coordinator) metadataLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.metadataTick)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			wanted := c.streamActive || c.streamPlaying
			c.mu.Unlock()
			if !wanted {
				continue
			}

			ctx, cancel := context.WithTimeout(c.ctx, hydrateTimeout)
			md, err := c.metadata.Fetch(ctx)
			cancel()
			if err != nil {
				log.Printf("coordinator: stream metadata fetch failed: %v", err)
				md = stream.Metadata{}
			}

			c.mu.Lock()
			changed := md != c.streamMeta
			c.streamMeta = md
			c.mu.Unlock()
			if changed {
				c.publish()
			}
		}
	}
}

// loadContextualPlaylist fetches a window of the episode's show as a
// next/previous fallback when the episode is neither queued nor already in
// the loaded playlist. On failure the playlist is left as-is.
func (c *Coordinator) loadContextualPlaylist(ep models.Episode) {
	if ep.ShowID == "" {
		return
	}
	if c.queue.Contains(ep.ID) {
		return
	}

	c.mu.Lock()
	already := models.ContainsEpisode(c.contextual, ep.ID)
	c.mu.Unlock()
	if already {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, hydrateTimeout)
	eps, err := c.repo.GetEpisodes(ctx, ep.ShowID, 0, contextualWindowSize)
	cancel()
	if err != nil {
		log.Printf("coordinator: contextual playlist fetch failed for %s: %v", ep.ShowID, err)
		return
	}

	c.mu.Lock()
	c.contextual = eps
	c.mu.Unlock()
	c.publish()
}

// --- notifications ---

// notifyLocked publishes a transient notification that clears itself after
// notificationTTL. Caller must hold the lock.
func (c *Coordinator) notifyLocked(message string, success bool) {
	n := &models.Notification{
		ID:      uuid.NewString(),
		Message: message,
		Success: success,
	}
	c.notification = n

	id := n.ID
	time.AfterFunc(notificationTTL, func() {
		c.mu.Lock()
		// Only clear if a newer notification has not replaced this one.
		if c.notification != nil && c.notification.ID == id {
			c.notification = nil
			c.mu.Unlock()
			c.publish()
			return
		}
		c.mu.Unlock()
	})
}

// Notify publishes a transient notification.
func (c *Coordinator) Notify(message string, success bool) {
	c.mu.Lock()
	c.notifyLocked(message, success)
	c.mu.Unlock()
	c.publish()
}

// --- persistence helpers ---

func (c *Coordinator) persistCurrentProgress() {
	c.mu.Lock()
	c.persistCurrentProgressLocked()
	c.mu.Unlock()
}

// persistCurrentProgressLocked saves the current episode's position.
// Caller must hold the lock.
func (c *Coordinator) persistCurrentProgressLocked() {
	if c.current == nil {
		return
	}
	pos := c.episode.Position()
	if err := c.prefs.SaveEpisodePosition(c.current.ID, pos.Milliseconds()); err != nil {
		log.Printf("coordinator: failed to save position for %s: %v", c.current.ID, err)
	}
}

// --- snapshots ---

func (c *Coordinator) snapshotLocked() Snapshot {
	snap := Snapshot{
		Source:             c.sourceStateLocked(),
		IsEpisodePlaying:   c.episodePlaying,
		IsStreamPlaying:    c.streamPlaying,
		IsStreamActive:     c.streamActive,
		EpisodeProgress:    c.progress,
		EpisodeDurationMs:  c.durationMs,
		PreparingEpisodeID: c.preparingID,
		StreamMetadata:     c.streamMeta,
		Notification:       c.notification,
		Volume:             c.volume,
		Queue:              c.queue.Episodes(),
		Downloaded:         c.downloads.GetDownloadedEpisodes(),
		OnGoing:            c.ongoing.Episodes(),
	}
	if c.current != nil {
		ep := *c.current
		snap.CurrentEpisode = &ep
		snap.HasNext = c.neighborLocked(1) != nil
		snap.HasPrevious = c.neighborLocked(-1) != nil
	}
	return snap
}

func (c *Coordinator) sourceStateLocked() SourceState {
	switch {
	case c.episodePlaying:
		return SourcePlayingEpisode
	case c.current != nil:
		return SourcePausedEpisode
	case c.streamFailed:
		return SourceStreamFailed
	case c.streamPlaying:
		return SourcePlayingStream
	default:
		return SourceIdle
	}
}

func (c *Coordinator) publish() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	select {
	case c.updates <- snap:
	default:
	}
}

// Close persists the session and releases both players and all loops.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true

	if c.current != nil && c.episode.State() != player.StateIdle {
		c.persistCurrentProgressLocked()
		if err := c.prefs.SaveEpisodeDetail(*c.current); err != nil {
			log.Printf("coordinator: failed to snapshot current episode: %v", err)
		}
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	if err := c.episode.Close(); err != nil {
		log.Printf("coordinator: failed to close episode player: %v", err)
	}
	if err := c.streamP.Close(); err != nil {
		log.Printf("coordinator: failed to close stream player: %v", err)
	}
}
