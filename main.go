// Command paradigma-player runs the Paradigma Media playback daemon: it owns
// the episode and live stream players, the queue, downloads and listening
// progress, and serves the session over a local HTTP API.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/paradigmamedia/paradigma-player/internal/config"
	"github.com/paradigmamedia/paradigma-player/internal/download"
	"github.com/paradigmamedia/paradigma-player/internal/playback"
	"github.com/paradigmamedia/paradigma-player/internal/player"
	"github.com/paradigmamedia/paradigma-player/internal/prefs"
	"github.com/paradigmamedia/paradigma-player/internal/repository"
	"github.com/paradigmamedia/paradigma-player/internal/server"
	"github.com/paradigmamedia/paradigma-player/internal/store"
	"github.com/paradigmamedia/paradigma-player/internal/stream"
)

func main() {
	configDir := flag.String("config-dir", defaultConfigDir(), "directory holding config.json and application data")
	listenAddr := flag.String("listen", "", "HTTP listen address (overrides config)")
	flag.Parse()

	cfgMgr := config.NewManager(*configDir)
	if err := cfgMgr.Load(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := cfgMgr.Get()

	prefStore := prefs.NewStore(cfgMgr.GetDataDir())
	if err := prefStore.Load(); err != nil {
		log.Fatalf("failed to load preferences: %v", err)
	}

	cache, err := store.New(filepath.Join(cfgMgr.GetDataDir(), "episodes.db"))
	if err != nil {
		log.Fatalf("failed to open episode cache: %v", err)
	}
	defer cache.Close()

	repo := repository.NewFeedRepository(cache, cfg.ShowFeeds)

	downloads := download.NewManager(prefStore, cfgMgr.GetDownloadDir())
	if err := downloads.Load(); err != nil {
		log.Printf("warning: failed to restore downloads: %v", err)
	}
	defer downloads.Close()

	queue := playback.NewQueueManager(prefStore, repo)
	ongoing := playback.NewOnGoingTracker(prefStore, repo)

	coord := playback.NewCoordinator(playback.Options{
		Prefs:         prefStore,
		Repo:          repo,
		Queue:         queue,
		Downloads:     downloads,
		OnGoing:       ongoing,
		EpisodePlayer: player.NewMPV("episode"),
		StreamPlayer:  player.NewMPV("stream"),
		Metadata:      stream.NewHTTPProvider(cfg.StreamMetadataURL),
		StreamURL:     cfg.StreamURL,
		ProgressTick:  cfg.ProgressTick(),
		MetadataTick:  cfg.MetadataTick(),
	})
	coord.Start()
	defer coord.Close()

	srv := server.New(coord, repo, queue, downloads, ongoing, prefStore)

	addr := cfg.ListenAddr
	if *listenAddr != "" {
		addr = *listenAddr
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received %v, shutting down", sig)
	case err := <-errCh:
		log.Printf("server stopped: %v", err)
	}
}

func defaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "paradigma-player")
	}
	return "."
}
