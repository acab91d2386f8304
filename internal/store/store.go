// Package store provides the SQLite-backed durable cache for episode and show
// metadata. It backs queue hydration and the saved-episodes surface so the app
// works without a network round-trip for anything it has already seen.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paradigmamedia/paradigma-player/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a cached row does not exist.
var ErrNotFound = errors.New("not found in cache")

// Store wraps the SQLite connection.
type Store struct {
	conn *sql.DB
}

// New opens or creates an SQLite database at the given path.
func New(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS shows (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		image_url TEXT DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		audio_url TEXT DEFAULT '',
		download_url TEXT DEFAULT '',
		image_url TEXT DEFAULT '',
		duration_ms INTEGER DEFAULT 0,
		publish_date DATETIME,
		show_id TEXT DEFAULT '',
		content TEXT DEFAULT '',
		show_ids TEXT DEFAULT '',
		saved_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_show ON episodes(show_id);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// SaveEpisode inserts or replaces a cached episode.
func (s *Store) SaveEpisode(ep models.Episode) error {
	if ep.ID == "" {
		return fmt.Errorf("episode has no id")
	}
	_, err := s.conn.Exec(`
		INSERT INTO episodes (id, title, description, audio_url, download_url, image_url, duration_ms, publish_date, show_id, content, show_ids, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			audio_url = excluded.audio_url,
			download_url = excluded.download_url,
			image_url = excluded.image_url,
			duration_ms = excluded.duration_ms,
			publish_date = excluded.publish_date,
			show_id = excluded.show_id,
			content = excluded.content,
			show_ids = excluded.show_ids,
			saved_at = excluded.saved_at`,
		ep.ID, ep.Title, ep.Description, ep.AudioURL, ep.DownloadURL, ep.ImageURL,
		ep.Duration.Milliseconds(), ep.PublishDate, ep.ShowID, ep.Content,
		strings.Join(ep.ShowIDs, ","), time.Now())
	return err
}

// GetEpisode returns a cached episode, or ErrNotFound.
func (s *Store) GetEpisode(id string) (models.Episode, error) {
	row := s.conn.QueryRow(`
		SELECT id, title, description, audio_url, download_url, image_url, duration_ms, publish_date, show_id, content, show_ids
		FROM episodes WHERE id = ?`, id)
	ep, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return models.Episode{}, ErrNotFound
	}
	return ep, err
}

// GetSavedEpisodes returns all cached episodes, newest saved first.
func (s *Store) GetSavedEpisodes() ([]models.Episode, error) {
	rows, err := s.conn.Query(`
		SELECT id, title, description, audio_url, download_url, image_url, duration_ms, publish_date, show_id, content, show_ids
		FROM episodes ORDER BY saved_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var eps []models.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, rows.Err()
}

// GetEpisodesByShow returns cached episodes for a show, newest published first.
func (s *Store) GetEpisodesByShow(showID string, limit int) ([]models.Episode, error) {
	rows, err := s.conn.Query(`
		SELECT id, title, description, audio_url, download_url, image_url, duration_ms, publish_date, show_id, content, show_ids
		FROM episodes WHERE show_id = ? ORDER BY publish_date DESC LIMIT ?`, showID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var eps []models.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, rows.Err()
}

// DeleteEpisode removes a cached episode.
func (s *Store) DeleteEpisode(id string) error {
	_, err := s.conn.Exec("DELETE FROM episodes WHERE id = ?", id)
	return err
}

// SaveShow inserts or replaces a cached show.
func (s *Store) SaveShow(show models.Programa) error {
	if show.ID == "" {
		return fmt.Errorf("show has no id")
	}
	_, err := s.conn.Exec(`
		INSERT INTO shows (id, title, description, image_url) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			image_url = excluded.image_url`,
		show.ID, show.Title, show.Description, show.ImageURL)
	return err
}

// GetShow returns a cached show, or ErrNotFound.
func (s *Store) GetShow(id string) (models.Programa, error) {
	var show models.Programa
	err := s.conn.QueryRow("SELECT id, title, description, image_url FROM shows WHERE id = ?", id).
		Scan(&show.ID, &show.Title, &show.Description, &show.ImageURL)
	if err == sql.ErrNoRows {
		return models.Programa{}, ErrNotFound
	}
	return show, err
}

// GetShows returns all cached shows ordered by title.
func (s *Store) GetShows() ([]models.Programa, error) {
	rows, err := s.conn.Query("SELECT id, title, description, image_url FROM shows ORDER BY title")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shows []models.Programa
	for rows.Next() {
		var show models.Programa
		if err := rows.Scan(&show.ID, &show.Title, &show.Description, &show.ImageURL); err != nil {
			return nil, err
		}
		shows = append(shows, show)
	}
	return shows, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEpisode(row scannable) (models.Episode, error) {
	var ep models.Episode
	var durationMs int64
	var publishDate sql.NullTime
	var showIDs string
	err := row.Scan(&ep.ID, &ep.Title, &ep.Description, &ep.AudioURL, &ep.DownloadURL,
		&ep.ImageURL, &durationMs, &publishDate, &ep.ShowID, &ep.Content, &showIDs)
	if err != nil {
		return models.Episode{}, err
	}
	ep.Duration = time.Duration(durationMs) * time.Millisecond
	if publishDate.Valid {
		ep.PublishDate = publishDate.Time
	}
	if showIDs != "" {
		ep.ShowIDs = strings.Split(showIDs, ",")
	}
	return ep, nil
}
