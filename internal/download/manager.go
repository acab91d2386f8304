// Package download manages locally stored episode audio for offline playback.
// The downloaded set is bounded, persisted through the preference store, and
// guarded against duplicate concurrent transfers of the same episode.
package download

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/paradigmamedia/paradigma-player/internal/models"
	"github.com/paradigmamedia/paradigma-player/internal/prefs"
)

// MaxDownloadedEpisodes bounds the downloaded set.
const MaxDownloadedEpisodes = 10

// Progress reports transfer progress for one episode.
type Progress struct {
	EpisodeID       string
	BytesDownloaded int64
	TotalBytes      int64
	Speed           int64
}

// Manager owns the downloaded episode set and in-flight transfers.
type Manager struct {
	mu          sync.Mutex
	prefs       *prefs.Store
	downloader  *Downloader
	downloadDir string
	downloaded  []models.Episode
	inFlight    map[string]context.CancelFunc
	progressCh  chan Progress
	closed      bool
}

// NewManager creates a download manager storing audio under downloadDir and
// persisting the downloaded set through the preference store.
func NewManager(store *prefs.Store, downloadDir string) *Manager {
	tempDir := filepath.Join(downloadDir, "temp")
	return &Manager{
		prefs:       store,
		downloader:  NewDownloader(tempDir, downloadDir),
		downloadDir: downloadDir,
		inFlight:    make(map[string]context.CancelFunc),
		progressCh:  make(chan Progress, 16),
	}
}

// Load restores the downloaded set from the preference store, dropping any
// entry whose file has gone missing from disk.
func (m *Manager) Load() error {
	if err := os.MkdirAll(m.downloadDir, 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	saved := m.prefs.GetDownloadedEpisodes()
	kept := saved[:0]
	for _, ep := range saved {
		path := filepath.Join(m.downloadDir, FileNameForEpisode(ep.ID))
		if _, err := os.Stat(path); err == nil {
			kept = append(kept, ep)
		} else {
			log.Printf("download: dropping %s, file missing", ep.ID)
		}
	}
	m.downloaded = kept
	if len(kept) != len(saved) {
		return m.prefs.SetDownloadedEpisodes(kept)
	}
	return nil
}

// DownloadEpisode transfers an episode's audio to local storage. The result
// callback fires exactly once, except when a transfer for the same id is
// already in flight, in which case the call is silently ignored. Capacity and
// duplicate conditions are rejected before any I/O begins.
func (m *Manager) DownloadEpisode(ep models.Episode, onResult func(error)) {
	if onResult == nil {
		onResult = func(error) {}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		onResult(fmt.Errorf("download manager is closed"))
		return
	}
	if models.ContainsEpisode(m.downloaded, ep.ID) {
		m.mu.Unlock()
		onResult(models.ErrAlreadyDownloaded)
		return
	}
	if _, inFlight := m.inFlight[ep.ID]; inFlight {
		m.mu.Unlock()
		return
	}
	if len(m.downloaded) >= MaxDownloadedEpisodes {
		m.mu.Unlock()
		onResult(models.ErrCapacityReached)
		return
	}

	url := ep.AudioURL
	if strings.TrimSpace(url) == "" {
		url = ep.DownloadURL
	}
	if strings.TrimSpace(url) == "" {
		m.mu.Unlock()
		onResult(models.ErrNoPlayableSource)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.inFlight[ep.ID] = cancel
	m.mu.Unlock()

	go m.transfer(ctx, ep, url, onResult)
}

func (m *Manager) transfer(ctx context.Context, ep models.Episode, url string, onResult func(error)) {
	filename := FileNameForEpisode(ep.ID)

	defer func() {
		m.mu.Lock()
		if cancel, ok := m.inFlight[ep.ID]; ok {
			cancel()
			delete(m.inFlight, ep.ID)
		}
		m.mu.Unlock()
	}()

	err := m.downloader.DownloadFile(ctx, url, filename, func(current, total, speed int64) {
		select {
		case m.progressCh <- Progress{EpisodeID: ep.ID, BytesDownloaded: current, TotalBytes: total, Speed: speed}:
		default:
		}
	})
	if err != nil {
		if cleanupErr := m.downloader.CleanupTempFile(filename); cleanupErr != nil {
			log.Printf("download: failed to cleanup temp file for %s: %v", ep.ID, cleanupErr)
		}
		log.Printf("download: failed for %s: %v", ep.ID, err)
		onResult(err)
		return
	}

	m.mu.Lock()
	if !models.ContainsEpisode(m.downloaded, ep.ID) {
		m.downloaded = append(m.downloaded, ep)
	}
	persistErr := m.prefs.SetDownloadedEpisodes(m.downloaded)
	m.mu.Unlock()

	if persistErr != nil {
		log.Printf("download: failed to persist downloaded set: %v", persistErr)
	}
	log.Printf("download: completed %s", ep.ID)
	onResult(nil)
}

// DeleteDownloadedEpisode removes the local file and drops the episode from
// the downloaded set.
func (m *Manager) DeleteDownloadedEpisode(ep models.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := filepath.Join(m.downloadDir, FileNameForEpisode(ep.ID))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: delete %s: %v", models.ErrFileIO, path, err)
	}

	if i := models.IndexOfEpisode(m.downloaded, ep.ID); i >= 0 {
		m.downloaded = append(m.downloaded[:i], m.downloaded[i+1:]...)
	}
	return m.prefs.SetDownloadedEpisodes(m.downloaded)
}

// ClearAllDownloads deletes every downloaded file, cancels in-flight
// transfers, and persists an empty set. The callback receives one aggregate
// outcome.
func (m *Manager) ClearAllDownloads(onResult func(error)) {
	if onResult == nil {
		onResult = func(error) {}
	}

	m.mu.Lock()
	for id, cancel := range m.inFlight {
		cancel()
		delete(m.inFlight, id)
	}

	var firstErr error
	for _, ep := range m.downloaded {
		path := filepath.Join(m.downloadDir, FileNameForEpisode(ep.ID))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: delete %s: %v", models.ErrFileIO, path, err)
			}
		}
	}
	m.downloaded = nil
	if err := m.prefs.SetDownloadedEpisodes(nil); err != nil && firstErr == nil {
		firstErr = err
	}
	m.mu.Unlock()

	onResult(firstErr)
}

// IsEpisodeDownloaded reports whether an episode is in the downloaded set.
func (m *Manager) IsEpisodeDownloaded(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.ContainsEpisode(m.downloaded, id)
}

// GetDownloadedFilePathByEpisodeID returns the local audio path for a
// downloaded episode, verifying the file still exists on disk.
func (m *Manager) GetDownloadedFilePathByEpisodeID(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !models.ContainsEpisode(m.downloaded, id) {
		return "", false
	}
	path := filepath.Join(m.downloadDir, FileNameForEpisode(id))
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// GetDownloadedEpisodes returns a copy of the downloaded set.
func (m *Manager) GetDownloadedEpisodes() []models.Episode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Episode(nil), m.downloaded...)
}

// ProgressChannel returns the transfer progress channel.
func (m *Manager) ProgressChannel() <-chan Progress {
	return m.progressCh
}

// Close cancels all in-flight transfers and cleans up their partial files.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	ids := make([]string, 0, len(m.inFlight))
	for id, cancel := range m.inFlight {
		cancel()
		ids = append(ids, id)
	}
	m.inFlight = make(map[string]context.CancelFunc)
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.downloader.CleanupTempFile(FileNameForEpisode(id)); err != nil {
			log.Printf("download: failed to cleanup temp file for %s: %v", id, err)
		}
	}
}

// FileNameForEpisode derives the local filename for an episode id. The same
// id always maps to the same file: non-alphanumeric runes are replaced and a
// short digest keeps distinct ids from colliding after sanitization.
func FileNameForEpisode(id string) string {
	var b strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	sanitized := strings.Trim(b.String(), "_")
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}

	digest := fmt.Sprintf("%x", sha256.Sum256([]byte(id)))[:8]
	if sanitized == "" {
		return "episode_" + digest + ".mp3"
	}
	return sanitized + "_" + digest + ".mp3"
}
