// swimsync-core is the command-line front end: it wires configuration,
// logging, storage, the library catalog and the sync engine together, and
// dispatches one subcommand per invocation. All state lives on the app
// struct; there are no package-level globals.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/swimsync/swimsync-go/internal/config"
	"github.com/swimsync/swimsync-go/internal/download"
	"github.com/swimsync/swimsync-go/internal/fetch"
	"github.com/swimsync/swimsync-go/internal/library"
	"github.com/swimsync/swimsync-go/internal/metadata"
	"github.com/swimsync/swimsync-go/internal/migration"
	"github.com/swimsync/swimsync-go/internal/monitoring"
	"github.com/swimsync/swimsync-go/internal/storage"
	"github.com/swimsync/swimsync-go/internal/store"
	syncer "github.com/swimsync/swimsync-go/internal/sync"
)

const version = "2.0.0"

type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *sql.DB
	storage    *storage.TrackStore
	library    *library.Manager
	history    *store.History
	fetcher    fetch.Fetcher
	downloader *download.Downloader
	tagger     *metadata.Manager
	runner     *syncer.Runner
	health     *monitoring.HealthChecker
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := monitoring.NewLogger(&monitoring.LogConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, err
	}

	// Detection must run before the v2 components create their catalog files.
	// A v1 manifest next to an existing v2 catalog is a stale leftover, not
	// a migration candidate.
	legacyDetected := !migration.IsMigrated(cfg.Library.Path) &&
		migration.DetectLegacyManifest(cfg.Library.Path)

	ts, err := storage.NewTrackStore(cfg.Library.Path, logger)
	if err != nil {
		return nil, err
	}
	lib, err := library.NewManager(cfg.Library.Path, ts, logger)
	if err != nil {
		return nil, err
	}

	if legacyDetected {
		result, err := migration.NewMigrator(cfg.Library.Path, ts, lib, logger).Migrate()
		if err != nil {
			return nil, fmt.Errorf("v1 migration failed: %w", err)
		}
		logger.Info("migrated v1 library",
			zap.Int("tracks", result.TracksMigrated),
			zap.Strings("warnings", result.Warnings))
	}

	if removed := lib.RepairBrokenLinks(); removed > 0 {
		logger.Info("removed broken playlist links", zap.Int("count", removed))
	}

	db, err := store.InitDB(store.DefaultDBPath(cfg.Library.Path))
	if err != nil {
		return nil, err
	}

	fetchTimeout := time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second
	chain := fetch.NewChain(
		fetch.NewSpotifyScraper(fetchTimeout, cfg.Fetch.RequestsPerSecond, logger),
		fetch.NewSpotdlFetcher(cfg.Download.SpotdlPath, fetchTimeout, logger),
		logger,
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		storage: ts,
		library: lib,
		history: store.NewHistory(db),
		fetcher: chain,
		downloader: download.NewDownloader(download.Options{
			SpotdlPath:       cfg.Download.SpotdlPath,
			Format:           cfg.Download.Format,
			Bitrate:          cfg.Download.Bitrate,
			Timeout:          time.Duration(cfg.Download.TimeoutSeconds) * time.Second,
			MinValidFileSize: cfg.Download.MinValidFileSize,
		}, logger),
		tagger: metadata.NewManager(metadata.Options{
			VerifyTags:   cfg.Metadata.VerifyTags,
			EmbedArtwork: cfg.Metadata.EmbedArtwork,
			ArtworkSize:  cfg.Metadata.ArtworkSize,
		}, logger),
		runner: syncer.NewRunner(logger),
		health: monitoring.NewHealthChecker(version, db),
	}, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}

func (a *app) engineFor(pl library.Playlist, notifier syncer.Notifier) *syncer.Engine {
	return syncer.NewEngine(syncer.Config{
		PlaylistID:       pl.ID,
		PlaylistURL:      pl.SpotifyURL,
		Folder:           a.library.PlaylistFolder(pl.ID),
		Format:           a.cfg.Download.Format,
		MinValidFileSize: a.cfg.Download.MinValidFileSize,
	}, syncer.Deps{
		Storage:    a.storage,
		Library:    a.library,
		Manifest:   a.library.Manifest(pl.ID),
		Fetcher:    a.fetcher,
		Downloader: a.downloader,
		Tagger:     a.tagger,
		History:    a.history,
		Notifier:   notifier,
		Logger:     a.logger,
	})
}

func main() {
	configPath := flag.String("config", "", "path to settings.json (default: per-user data dir)")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer a.close()

	if err := dispatch(a, args[0], args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func dispatch(a *app, cmd string, args []string) error {
	switch cmd {
	case "sync":
		return cmdSync(a, args)
	case "add":
		return cmdAdd(a, args)
	case "remove":
		return cmdRemove(a, args)
	case "list":
		return cmdList(a)
	case "stats":
		return cmdStats(a)
	case "history":
		return cmdHistory(a, args)
	case "repair":
		return cmdRepair(a)
	case "doctor":
		return cmdDoctor(a)
	case "serve":
		return cmdServe(a, args)
	case "version":
		fmt.Println("swimsync-core", version)
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `swimsync-core %s — playlist sync for swim players

usage: swimsync-core [-config path] <command> [args]

commands:
  sync [playlist-id]     sync a playlist (default: the primary playlist)
  add <name> <url>       create a playlist from a Spotify URL
  remove <playlist-id>   delete a playlist and release its storage
  list                   list playlists
  stats                  library and storage statistics
  history [n]            recent sync sessions (default 10)
  repair                 recover orphaned files and verify storage
  doctor                 check external dependencies (spotdl, ffmpeg)
  serve [-addr host:port] run the status/metrics HTTP endpoint
  version                print the version
`, version)
}

func cmdSync(a *app, args []string) error {
	var pl library.Playlist
	var ok bool
	if len(args) > 0 {
		pl, ok = a.library.Playlist(args[0])
		if !ok {
			return fmt.Errorf("no playlist %q", args[0])
		}
	} else if pl, ok = a.library.Primary(); !ok {
		return fmt.Errorf("no playlists yet; create one with: swimsync-core add <name> <url>")
	}
	if pl.SpotifyURL == "" {
		return fmt.Errorf("playlist %q has no source URL", pl.ID)
	}

	notifier := syncer.FuncNotifier(func(p syncer.Progress) {
		switch p.Status {
		case syncer.StatusDownloading:
			fmt.Printf("[%d/%d] downloading %s\n", p.Current, p.Total, p.TrackName)
		case syncer.StatusDownloaded:
			fmt.Printf("[%d/%d] done %s (%.1f MB, %s)\n",
				p.Current, p.Total, p.TrackName, p.FileSizeMB, syncer.FormatSpeed(p.SpeedMBps))
		case syncer.StatusFailed:
			fmt.Printf("[%d/%d] FAILED %s\n", p.Current, p.Total, p.TrackName)
		case syncer.StatusDeleted:
			fmt.Printf("[%d/%d] removed %s\n", p.Current, p.Total, p.TrackName)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		a.runner.Cancel()
	}()

	fmt.Printf("syncing %q (%s)\n", pl.Name, pl.SpotifyURL)
	if err := a.runner.Start(ctx, a.engineFor(pl, notifier)); err != nil {
		return err
	}
	a.runner.Wait()

	status := a.runner.Status()
	if status.State == syncer.RunStateFailed {
		return fmt.Errorf("sync failed: %s", status.Err)
	}

	s := status.Summary
	fmt.Printf("\n%s: %d downloaded, %d failed, %d removed (%.1f MB)\n",
		status.State, s.Downloaded, s.Failed, s.Deleted, float64(s.TotalBytes)/1024/1024)
	return nil
}

func cmdAdd(a *app, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: add <name> <url> [color]")
	}
	color := ""
	if len(args) > 2 {
		color = args[2]
	}
	pl, err := a.library.CreatePlaylist(args[0], args[1], color)
	if err != nil {
		return err
	}
	fmt.Printf("created playlist %q (id %s)\n", pl.Name, pl.ID)
	return nil
}

func cmdRemove(a *app, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: remove <playlist-id>")
	}
	if !a.library.DeletePlaylist(args[0]) {
		return fmt.Errorf("no playlist %q", args[0])
	}
	fmt.Printf("removed playlist %s\n", args[0])
	return nil
}

func cmdList(a *app) error {
	playlists := a.library.Playlists()
	if len(playlists) == 0 {
		fmt.Println("no playlists")
		return nil
	}

	primaryID := ""
	if pl, ok := a.library.Primary(); ok {
		primaryID = pl.ID
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTRACKS\tSIZE\tLAST SYNC")
	for _, pl := range playlists {
		marker := ""
		if pl.ID == primaryID {
			marker = " *"
		}
		lastSync := "never"
		if pl.LastSync != nil {
			lastSync = *pl.LastSync
		}
		fmt.Fprintf(w, "%s%s\t%s\t%d\t%.1f MB\t%s\n",
			pl.ID, marker, pl.Name, pl.TrackCount, pl.TotalSizeMB, lastSync)
	}
	return w.Flush()
}

func cmdStats(a *app) error {
	stats := a.library.LibraryStats()
	fmt.Printf("playlists:       %d\n", stats.PlaylistCount)
	fmt.Printf("playlist tracks: %d\n", stats.TotalPlaylistTracks)
	fmt.Printf("unique tracks:   %d\n", stats.UniqueTracks)
	fmt.Printf("on disk:         %.1f MB\n", stats.ActualStorageMB)
	fmt.Printf("logical:         %.1f MB\n", stats.LogicalSizeMB)
	fmt.Printf("dedup savings:   %.1f MB (%.1f%%)\n", stats.SavingsMB, stats.SavingsPercent)

	if totals, err := a.history.TotalsByOutcome(); err == nil && len(totals) > 0 {
		fmt.Printf("all-time:        %d downloaded, %d failed, %d removed\n",
			totals[store.OutcomeDownloaded], totals[store.OutcomeFailed], totals[store.OutcomeDeleted])
	}
	return nil
}

func cmdHistory(a *app, args []string) error {
	limit := 10
	if len(args) > 0 {
		fmt.Sscanf(args[0], "%d", &limit)
	}
	sessions, err := a.history.RecentSessions(limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no sync history")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tPLAYLIST\tDOWNLOADED\tFAILED\tREMOVED\tSIZE")
	for _, s := range sessions {
		name := s.PlaylistName
		if s.Cancelled {
			name += " (cancelled)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.1f MB\n",
			s.StartedAt.Format("2006-01-02 15:04"), name,
			s.Downloaded, s.Failed, s.Deleted, float64(s.TotalBytes)/1024/1024)
	}
	return w.Flush()
}

func cmdRepair(a *app) error {
	migrator := migration.NewMigrator(a.cfg.Library.Path, a.storage, a.library, a.logger)
	result, err := migrator.RepairOrphans()
	if err != nil {
		return err
	}
	fmt.Printf("recovered %d orphaned files\n", result.TracksMigrated)
	for _, warn := range result.Warnings {
		fmt.Println("warning:", warn)
	}

	report := a.storage.VerifyIntegrity()
	fmt.Printf("storage: %d tracks verified, %d missing\n", report.ValidCount, report.MissingCount)
	if cleaned := a.storage.CleanupOrphans(); cleaned > 0 {
		fmt.Printf("removed %d unindexed storage files\n", cleaned)
	}
	if removed := a.library.RepairBrokenLinks(); removed > 0 {
		fmt.Printf("removed %d broken playlist links\n", removed)
	}
	return nil
}

func cmdDoctor(a *app) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status := download.CheckDependencies(ctx, a.cfg.Download.SpotdlPath)
	printDep := func(name string, ok bool) {
		state := "ok"
		if !ok {
			state = "MISSING"
		}
		fmt.Printf("%-8s %s\n", name, state)
	}
	printDep("spotdl", status.Spotdl)
	printDep("ffmpeg", status.FFmpeg)
	if !status.Ready() {
		return fmt.Errorf("missing dependencies; downloads will fail")
	}
	return nil
}

func cmdServe(a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:7474", "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		report := a.storage.VerifyIntegrity()
		writeJSON(w, a.health.Check(report.ValidCount+report.MissingCount, report.MissingCount))
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.runner.Status())
	})

	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("playlist")
		var pl library.Playlist
		var ok bool
		if id != "" {
			pl, ok = a.library.Playlist(id)
		} else {
			pl, ok = a.library.Primary()
		}
		if !ok {
			http.Error(w, "playlist not found", http.StatusNotFound)
			return
		}
		// The server context, not the request context: the sync outlives
		// the POST that started it
		if err := a.runner.Start(ctx, a.engineFor(pl, nil)); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, a.runner.Status())
	})

	srv := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		<-ctx.Done()
		a.runner.Cancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("serving status endpoint", zap.String("addr", *addr))
	fmt.Printf("listening on http://%s (/metrics, /health, /status, POST /sync)\n", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	a.runner.Wait()
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
