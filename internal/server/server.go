// Package server exposes the playback session over HTTP: observable state for
// a UI layer plus the intent endpoints that drive the coordinator.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/paradigmamedia/paradigma-player/internal/download"
	"github.com/paradigmamedia/paradigma-player/internal/models"
	"github.com/paradigmamedia/paradigma-player/internal/playback"
	"github.com/paradigmamedia/paradigma-player/internal/prefs"
	"github.com/paradigmamedia/paradigma-player/internal/repository"
)

// Server is the HTTP surface over the playback core.
type Server struct {
	coord     *playback.Coordinator
	repo      repository.Repository
	queue     *playback.QueueManager
	downloads *download.Manager
	ongoing   *playback.OnGoingTracker
	prefs     *prefs.Store
	router    chi.Router

	subMu sync.Mutex
	subs  map[chan playback.Snapshot]struct{}
}

// New creates a server over the playback collaborators.
func New(coord *playback.Coordinator, repo repository.Repository, queue *playback.QueueManager,
	downloads *download.Manager, ongoing *playback.OnGoingTracker, store *prefs.Store) *Server {

	s := &Server{
		coord:     coord,
		repo:      repo,
		queue:     queue,
		downloads: downloads,
		ongoing:   ongoing,
		prefs:     store,
		subs:      make(map[chan playback.Snapshot]struct{}),
	}
	s.setupRoutes()
	go s.forwardUpdates()
	return s
}

// forwardUpdates fans the coordinator's snapshot stream out to every
// connected event subscriber. A lagging subscriber drops snapshots rather
// than holding the others back; the next snapshot catches it up.
func (s *Server) forwardUpdates() {
	for snap := range s.coord.Updates() {
		s.subMu.Lock()
		for ch := range s.subs {
			select {
			case ch <- snap:
			default:
			}
		}
		s.subMu.Unlock()
	}
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/events", s.handleEvents)
		r.Get("/shows", s.handleShows)
		r.Get("/shows/{showID}", s.handleShowDetail)
		r.Get("/shows/{showID}/episodes", s.handleShowEpisodes)
		r.Get("/episodes/{episodeID}", s.handleEpisodeDetail)
		r.Get("/search", s.handleSearch)

		r.Post("/select", s.handleSelect)
		r.Post("/playpause", s.handlePlayPause)
		r.Post("/stream/toggle", s.handleStreamToggle)
		r.Post("/next", s.handleNext)
		r.Post("/previous", s.handlePrevious)
		r.Post("/seek", s.handleSeek)
		r.Post("/skip", s.handleSkip)
		r.Post("/volume", s.handleVolume)

		r.Get("/queue", s.handleQueue)
		r.Post("/queue", s.handleQueueAdd)
		r.Delete("/queue/{episodeID}", s.handleQueueRemove)
		r.Post("/queue/clear", s.handleQueueClear)

		r.Get("/downloads", s.handleDownloads)
		r.Post("/downloads", s.handleDownloadAdd)
		r.Delete("/downloads/{episodeID}", s.handleDownloadDelete)
		r.Post("/downloads/clear", s.handleDownloadsClear)

		r.Get("/ongoing", s.handleOnGoing)

		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handleSaveSettings)
	})

	s.router = r
}

// ListenAndServe serves until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	log.Printf("server: listening on %s", addr)
	return http.ListenAndServe(addr, s.router)
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// --- observation ---

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.State())
}

// handleEvents streams session snapshots as server-sent events until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan playback.Snapshot, 8)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	defer func() {
		s.subMu.Lock()
		delete(s.subs, ch)
		s.subMu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Send the current state up front so the client is not left waiting
	// for the next change.
	if err := writeEvent(w, s.coord.State()); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-ch:
			if err := writeEvent(w, snap); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, snap playback.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func (s *Server) handleShows(w http.ResponseWriter, r *http.Request) {
	shows, err := s.repo.GetShows(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shows)
}

func (s *Server) handleShowDetail(w http.ResponseWriter, r *http.Request) {
	show, err := s.repo.GetShowDetail(r.Context(), chi.URLParam(r, "showID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, show)
}

func (s *Server) handleShowEpisodes(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	eps, err := s.repo.GetEpisodes(r.Context(), chi.URLParam(r, "showID"), offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eps)
}

func (s *Server) handleEpisodeDetail(w http.ResponseWriter, r *http.Request) {
	ep, err := s.repo.GetEpisodeDetail(r.Context(), chi.URLParam(r, "episodeID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	eps, err := s.repo.SearchEpisodes(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eps)
}

// --- playback intents ---

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EpisodeID string `json:"episodeId"`
		Play      bool   `json:"play"`
	}
	if !decode(w, r, &req) {
		return
	}

	ep, err := s.repo.GetEpisodeDetail(r.Context(), req.EpisodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.coord.SelectEpisode(ep, req.Play); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coord.State())
}

func (s *Server) handlePlayPause(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.OnPlayerPlayPauseClick(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coord.State())
}

func (s *Server) handleStreamToggle(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.ToggleAndainaStreamPlayer(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coord.State())
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.PlayNextEpisode(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coord.State())
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.PlayPreviousEpisode(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coord.State())
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fraction float64 `json:"fraction"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.coord.SeekEpisodeTo(req.Fraction); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coord.State())
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds int `json:"seconds"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.coord.SkipSeconds(req.Seconds); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coord.State())
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume float64 `json:"volume"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.coord.SetVolume(req.Volume); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coord.State())
}

// --- queue ---

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Episodes())
}

func (s *Server) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EpisodeID string `json:"episodeId"`
	}
	if !decode(w, r, &req) {
		return
	}

	ep, err := s.repo.GetEpisodeDetail(r.Context(), req.EpisodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.queue.AddEpisodeToQueue(ep)
	writeJSON(w, http.StatusOK, s.queue.Episodes())
}

func (s *Server) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "episodeID")
	s.queue.RemoveEpisodeFromQueue(models.Episode{ID: id})
	writeJSON(w, http.StatusOK, s.queue.Episodes())
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	s.queue.ClearQueue()
	writeJSON(w, http.StatusOK, s.queue.Episodes())
}

// --- downloads ---

func (s *Server) handleDownloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.downloads.GetDownloadedEpisodes())
}

func (s *Server) handleDownloadAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EpisodeID string `json:"episodeId"`
	}
	if !decode(w, r, &req) {
		return
	}

	ep, err := s.repo.GetEpisodeDetail(r.Context(), req.EpisodeID)
	if err != nil {
		writeError(w, err)
		return
	}

	// The transfer outcome arrives later as a notification.
	s.downloads.DownloadEpisode(ep, func(err error) {
		if err != nil {
			log.Printf("server: download of %s failed: %v", ep.ID, err)
			s.coord.Notify("No se pudo descargar "+ep.Title, false)
			return
		}
		s.coord.Notify("Episodio descargado: "+ep.Title, true)
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleDownloadDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "episodeID")
	if err := s.downloads.DeleteDownloadedEpisode(models.Episode{ID: id}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.downloads.GetDownloadedEpisodes())
}

func (s *Server) handleDownloadsClear(w http.ResponseWriter, r *http.Request) {
	done := make(chan error, 1)
	s.downloads.ClearAllDownloads(func(err error) { done <- err })
	if err := <-done; err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.downloads.GetDownloadedEpisodes())
}

// --- ongoing ---

func (s *Server) handleOnGoing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ongoing.Episodes())
}

// --- settings ---

type settingsPayload struct {
	Theme          prefs.Theme `json:"theme"`
	OnboardingDone bool        `json:"onboardingDone"`
	Volume         float64     `json:"volume"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, settingsPayload{
		Theme:          s.prefs.GetTheme(),
		OnboardingDone: s.prefs.IsOnboardingDone(),
		Volume:         s.prefs.GetVolume(),
	})
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPayload
	if !decode(w, r, &req) {
		return
	}
	if err := s.prefs.SetTheme(req.Theme); err != nil {
		writeError(w, err)
		return
	}
	if err := s.prefs.SetOnboardingDone(req.OnboardingDone); err != nil {
		writeError(w, err)
		return
	}
	if err := s.coord.SetVolume(req.Volume); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// --- helpers ---

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: failed to encode response: %v", err)
	}
}

// writeError maps the shared error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNetworkUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, models.ErrServer):
		status = http.StatusBadGateway
	case errors.Is(err, models.ErrNoPlayableSource):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrAlreadyDownloaded):
		status = http.StatusConflict
	case errors.Is(err, models.ErrCapacityReached):
		status = http.StatusInsufficientStorage
	}

	var coded *models.CodedError
	if errors.As(err, &coded) {
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
