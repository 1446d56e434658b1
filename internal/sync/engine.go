package sync

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/swimsync/swimsync-go/internal/download"
	"github.com/swimsync/swimsync-go/internal/fetch"
	"github.com/swimsync/swimsync-go/internal/library"
	"github.com/swimsync/swimsync-go/internal/manifest"
	"github.com/swimsync/swimsync-go/internal/monitoring"
	"github.com/swimsync/swimsync-go/internal/storage"
	"github.com/swimsync/swimsync-go/internal/store"
	"github.com/swimsync/swimsync-go/internal/track"
)

// Downloader produces exactly one audio file per track on success. The
// concrete implementation shells out to spotDL; tests substitute their own.
type Downloader interface {
	Download(ctx context.Context, meta track.Meta) (*download.Result, error)
}

// Config selects the playlist an Engine operates on.
type Config struct {
	PlaylistID       string
	PlaylistURL      string
	Folder           string
	Format           string // audio extension for display filenames, e.g. "mp3"
	MinValidFileSize int64
}

// Tagger repairs tags on a freshly downloaded file before it enters
// content storage.
type Tagger interface {
	EnsureTags(ctx context.Context, filePath string, meta track.Meta) error
}

// Deps are the collaborators an Engine drives. Library, History, Tagger and
// Notifier are optional.
type Deps struct {
	Storage    *storage.TrackStore
	Library    *library.Manager
	Manifest   *manifest.Store
	Fetcher    fetch.Fetcher
	Downloader Downloader
	Tagger     Tagger
	History    *store.History
	Notifier   Notifier
	Logger     *zap.Logger
}

// Summary reports what one sync run actually did. Per-track failures never
// abort the batch; they only increment Failed.
type Summary struct {
	Downloaded int   `json:"downloaded"`
	Failed     int   `json:"failed"`
	Deleted    int   `json:"deleted"`
	Cancelled  bool  `json:"cancelled"`
	TotalBytes int64 `json:"total_bytes"`
}

// Engine runs the fetch-diff-download-delete sequence for one playlist.
// A single background goroutine drives Run; Cancel may be called from any
// goroutine and takes effect between tracks, terminating any in-flight
// download process.
type Engine struct {
	cfg  Config
	deps Deps

	cancelled      atomic.Bool
	cancelDownload atomic.Value // context.CancelFunc
}

// NewEngine wires an engine for one playlist.
func NewEngine(cfg Config, deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	if cfg.MinValidFileSize <= 0 {
		cfg.MinValidFileSize = 100 * 1024
	}
	return &Engine{cfg: cfg, deps: deps}
}

// Cancel requests a cooperative stop. The flag is checked between tracks;
// an in-flight download is terminated immediately. Completed tracks stay
// committed, so a cancelled sync leaves consistent state.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
	if cancel, ok := e.cancelDownload.Load().(context.CancelFunc); ok && cancel != nil {
		cancel()
	}
}

// Run performs one full sync: fetch, diff, then execute the plan. A fetch
// failure aborts before any stored state is touched.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	start := time.Now()

	name, tracks, err := e.deps.Fetcher.FetchPlaylist(ctx, e.cfg.PlaylistURL)
	if err != nil {
		e.deps.Logger.Error("playlist fetch failed, aborting sync",
			zap.String("playlist_id", e.cfg.PlaylistID), zap.Error(err))
		return Summary{}, err
	}

	diff := ComputeDiff(e.deps.Manifest, e.cfg.Folder, tracks, e.cfg.MinValidFileSize)
	e.deps.Logger.Info("computed playlist diff",
		zap.String("playlist_id", e.cfg.PlaylistID),
		zap.Int("new", len(diff.New)),
		zap.Int("existing", len(diff.Existing)),
		zap.Int("suspect", len(diff.Suspect)),
		zap.Int("removed", len(diff.Removed)))

	summary := e.Sync(ctx, name, diff.Downloads(), diff.Removed)

	e.deps.Manifest.SetPlaylistInfo(e.cfg.PlaylistURL, name)
	e.deps.Manifest.Save()
	if e.deps.Library != nil {
		e.deps.Library.RefreshStats(e.cfg.PlaylistID)
	}

	monitoring.RecordSyncComplete(time.Since(start), summary.Cancelled)
	return summary, nil
}

// Sync executes a precomputed plan: downloads first, then deletions. Every
// track's storage and manifest update is committed before the next
// cancellation check.
func (e *Engine) Sync(ctx context.Context, playlistName string, downloads []QueuedTrack, deletes []manifest.Entry) Summary {
	e.cancelled.Store(false)

	var sessionID string
	if e.deps.History != nil {
		id, err := e.deps.History.StartSession(e.cfg.PlaylistID, playlistName)
		if err != nil {
			e.deps.Logger.Warn("failed to record sync session", zap.Error(err))
		} else {
			sessionID = id
		}
	}

	var summary Summary
	total := len(downloads) + len(deletes)
	current := 0
	start := time.Now()

	for _, qt := range downloads {
		if e.cancelled.Load() || ctx.Err() != nil {
			summary.Cancelled = true
			break
		}
		current++
		trackName := qt.Meta.Title + " - " + qt.Meta.Artist

		e.notify(current, total, trackName, StatusDownloading, 0, summary.TotalBytes, start)

		size, hash, err := e.downloadOne(ctx, qt)
		if err != nil {
			summary.Failed++
			e.deps.Logger.Warn("track download failed",
				zap.String("track", trackName), zap.Error(err))
			e.notify(current, total, trackName, StatusFailed, 0, summary.TotalBytes, start)
			e.recordTrack(sessionID, qt.Meta, store.OutcomeFailed, err.Error(), 0, "")
			continue
		}

		summary.Downloaded++
		summary.TotalBytes += size

		e.deps.Manifest.Upsert(qt.Meta, qt.Meta.DisplayFilename(e.cfg.Format), size, hash)
		// Per-track save so a crash loses at most the in-flight track
		e.deps.Manifest.Save()

		e.notify(current, total, trackName, StatusDownloaded, float64(size)/1024/1024, summary.TotalBytes, start)
		e.recordTrack(sessionID, qt.Meta, store.OutcomeDownloaded, "", size, hash)
	}

	for _, entry := range deletes {
		if e.cancelled.Load() || ctx.Err() != nil {
			summary.Cancelled = true
			break
		}
		current++
		trackName := entry.Title + " - " + entry.Artist

		e.notify(current, total, trackName, StatusDeleting, 0, summary.TotalBytes, start)

		if e.deleteOne(entry) {
			summary.Deleted++
			e.notify(current, total, trackName, StatusDeleted, 0, summary.TotalBytes, start)
			e.recordTrack(sessionID, track.Meta{
				SourceID: entry.SourceID, Title: entry.Title, Artist: entry.Artist,
			}, store.OutcomeDeleted, "", 0, entry.StorageHash)
		}
	}

	e.deps.Manifest.Save()

	if e.deps.History != nil && sessionID != "" {
		if err := e.deps.History.FinishSession(sessionID,
			summary.Downloaded, summary.Failed, summary.Deleted,
			summary.Cancelled, summary.TotalBytes); err != nil {
			e.deps.Logger.Warn("failed to finalize sync session", zap.Error(err))
		}
	}

	return summary
}

// downloadOne brings one track into the playlist: reuse from storage when
// another playlist already holds the content, otherwise download, store and
// link. Returns the file size and storage hash.
func (e *Engine) downloadOne(ctx context.Context, qt QueuedTrack) (int64, string, error) {
	meta := qt.Meta

	// A suspect file is deleted first so the fresh download replaces it
	if qt.SuspectReason != "" {
		e.removeSuspectFile(qt)
	}

	displayName := meta.DisplayFilename(e.cfg.Format)

	// Dedup pre-check: content another playlist already stores needs only a
	// reference and a link, no download.
	if hash, ok := e.findStored(meta); ok && qt.SuspectReason == "" {
		if e.deps.Storage.AddReference(hash, e.cfg.PlaylistID) &&
			e.deps.Storage.CreatePlaylistLink(hash, e.cfg.Folder, displayName) {
			var size int64
			if info, ok := e.deps.Storage.TrackInfo(hash); ok {
				size = info.SizeBytes
			}
			e.deps.Logger.Info("reused stored track",
				zap.String("track", meta.Title), zap.String("hash", hash))
			return size, hash, nil
		}
	}

	dctx, cancel := context.WithCancel(ctx)
	e.cancelDownload.Store(cancel)
	defer func() {
		e.cancelDownload.Store(context.CancelFunc(nil))
		cancel()
	}()

	result, err := e.deps.Downloader.Download(dctx, meta)
	if err != nil {
		return 0, "", err
	}
	defer result.Cleanup()

	size := result.SizeBytes
	if e.deps.Tagger != nil {
		// Tag repair must happen before hashing so the stored content
		// carries the tags
		if err := e.deps.Tagger.EnsureTags(dctx, result.Path, meta); err != nil {
			e.deps.Logger.Warn("tag verification failed",
				zap.String("track", meta.Title), zap.Error(err))
		} else if info, err := os.Stat(result.Path); err == nil {
			size = info.Size()
		}
	}

	hash, _, err := e.deps.Storage.Store(result.Path, meta, e.cfg.PlaylistID)
	if err != nil {
		return 0, "", err
	}

	e.deps.Storage.CreatePlaylistLink(hash, e.cfg.Folder, displayName)
	return size, hash, nil
}

// deleteOne releases a removed track: reference dropped, link removed,
// manifest entry gone.
func (e *Engine) deleteOne(entry manifest.Entry) bool {
	hash := entry.StorageHash
	if hash == "" {
		var ok bool
		if hash, ok = e.findStored(track.Meta{
			SourceID: entry.SourceID, Title: entry.Title, Artist: entry.Artist,
		}); !ok {
			hash = ""
		}
	}

	if hash != "" {
		e.deps.Storage.RemoveReference(hash, e.cfg.PlaylistID)
	}

	linkPath := filepath.Join(e.cfg.Folder, entry.Filename)
	if _, err := os.Lstat(linkPath); err == nil {
		if err := os.Remove(linkPath); err != nil {
			e.deps.Logger.Warn("failed to remove playlist link",
				zap.String("path", linkPath), zap.Error(err))
		}
	}

	_, removed := e.deps.Manifest.Remove(track.Meta{
		SourceID: entry.SourceID, Title: entry.Title, Artist: entry.Artist,
	})
	e.deps.Manifest.Save()

	return removed || hash != ""
}

// removeSuspectFile clears a corrupt or missing previous copy before
// re-downloading.
func (e *Engine) removeSuspectFile(qt QueuedTrack) {
	name := qt.Meta.DisplayFilename(e.cfg.Format)
	if entry, ok := e.deps.Manifest.FindByKey(qt.Meta.Key()); ok && entry.Filename != "" {
		name = entry.Filename
	}

	path := filepath.Join(e.cfg.Folder, name)
	if _, err := os.Lstat(path); err == nil {
		if err := os.Remove(path); err != nil {
			e.deps.Logger.Warn("failed to remove suspect file",
				zap.String("path", path), zap.Error(err))
		}
	}
	e.deps.Manifest.Remove(qt.Meta)
}

func (e *Engine) findStored(meta track.Meta) (string, bool) {
	if meta.SourceID != "" {
		if hash, ok := e.deps.Storage.FindBySourceID(meta.SourceID); ok {
			return hash, true
		}
	}
	return e.deps.Storage.FindByTrackKey(meta.Artist, meta.Title)
}

func (e *Engine) notify(current, total int, name, status string, fileSizeMB float64, totalBytes int64, start time.Time) {
	elapsed := time.Since(start)
	var speed float64
	if secs := elapsed.Seconds(); secs > 0 {
		speed = float64(totalBytes) / 1024 / 1024 / secs
	}
	e.deps.Notifier.Notify(Progress{
		Current:    current,
		Total:      total,
		TrackName:  name,
		Status:     status,
		FileSizeMB: fileSizeMB,
		SpeedMBps:  speed,
		Elapsed:    elapsed,
		TotalBytes: totalBytes,
	})
}

func (e *Engine) recordTrack(sessionID string, meta track.Meta, outcome, detail string, size int64, hash string) {
	if e.deps.History == nil || sessionID == "" {
		return
	}
	err := e.deps.History.RecordTrack(store.TrackResult{
		SessionID:   sessionID,
		Title:       meta.Title,
		Artist:      meta.Artist,
		Outcome:     outcome,
		Detail:      detail,
		SizeBytes:   size,
		StorageHash: hash,
	})
	if err != nil {
		e.deps.Logger.Warn("failed to record track outcome", zap.Error(err))
	}
}
