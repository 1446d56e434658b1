package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/swimsync/swimsync-go/internal/download"
	"github.com/swimsync/swimsync-go/internal/manifest"
	"github.com/swimsync/swimsync-go/internal/storage"
	"github.com/swimsync/swimsync-go/internal/track"
)

type fakeFetcher struct {
	name   string
	tracks []track.Meta
	err    error
}

func (f *fakeFetcher) FetchPlaylist(ctx context.Context, url string) (string, []track.Meta, error) {
	return f.name, f.tracks, f.err
}

type fakeDownloader struct {
	content map[string][]byte // by title
	failFor map[string]bool
	calls   int
}

func (f *fakeDownloader) Download(ctx context.Context, meta track.Meta) (*download.Result, error) {
	f.calls++
	if f.failFor[meta.Title] {
		return nil, errors.New("no matching audio found")
	}
	content, ok := f.content[meta.Title]
	if !ok {
		content = []byte("default audio for " + meta.Title)
	}
	dir, err := os.MkdirTemp("", "synctest_")
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, meta.DisplayFilename(".mp3"))
	if err := os.WriteFile(path, content, 0644); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return &download.Result{
		Path:      path,
		SizeBytes: int64(len(content)),
		Cleanup:   func() { os.RemoveAll(dir) },
	}, nil
}

type testEnv struct {
	engine     *Engine
	storage    *storage.TrackStore
	mf         *manifest.Store
	folder     string
	downloader *fakeDownloader
}

func newTestEngine(t *testing.T, fetcher *fakeFetcher) *testEnv {
	t.Helper()
	root := t.TempDir()
	ts, err := storage.NewTrackStore(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	folder := filepath.Join(root, "playlists", "p1")
	if err := os.MkdirAll(folder, 0755); err != nil {
		t.Fatal(err)
	}
	mf := manifest.New(folder, manifest.ModePlaylist, "p1", nil)
	dl := &fakeDownloader{content: map[string][]byte{}, failFor: map[string]bool{}}

	engine := NewEngine(Config{
		PlaylistID:  "p1",
		PlaylistURL: "https://open.spotify.com/playlist/x",
		Folder:      folder,
	}, Deps{
		Storage:    ts,
		Manifest:   mf,
		Fetcher:    fetcher,
		Downloader: dl,
	})
	return &testEnv{engine: engine, storage: ts, mf: mf, folder: folder, downloader: dl}
}

func TestRunDownloadsNewTracks(t *testing.T) {
	fetcher := &fakeFetcher{name: "Mix", tracks: []track.Meta{
		{SourceID: "id1", Title: "One", Artist: "A"},
		{SourceID: "id2", Title: "Two", Artist: "B"},
	}}
	env := newTestEngine(t, fetcher)

	summary, err := env.engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Downloaded != 2 || summary.Failed != 0 || summary.Deleted != 0 || summary.Cancelled {
		t.Errorf("summary = %+v", summary)
	}

	// Manifest has both entries with hashes
	if env.mf.TrackCount() != 2 {
		t.Errorf("manifest count = %d, want 2", env.mf.TrackCount())
	}
	e, ok := env.mf.FindByKey(track.Meta{SourceID: "id1"}.Key())
	if !ok || e.StorageHash == "" {
		t.Errorf("entry = (%+v, %v)", e, ok)
	}

	// Files materialized in the playlist folder
	if _, err := os.Stat(filepath.Join(env.folder, "A - One.mp3")); err != nil {
		t.Errorf("playlist file missing: %v", err)
	}

	// Storage holds the content with a p1 reference
	info, ok := env.storage.TrackInfo(e.StorageHash)
	if !ok || info.ReferenceCount != 1 || info.ReferencedBy[0] != "p1" {
		t.Errorf("stored info = (%+v, %v)", info, ok)
	}

	// Playlist metadata stamped
	url, name, lastSync := env.mf.PlaylistInfo()
	if url == "" || name != "Mix" || lastSync == nil {
		t.Errorf("playlist info = (%q, %q, %v)", url, name, lastSync)
	}
}

func TestRunReusesStoredContent(t *testing.T) {
	meta := track.Meta{SourceID: "id1", Title: "Shared", Artist: "A"}
	fetcher := &fakeFetcher{name: "Mix", tracks: []track.Meta{meta}}
	env := newTestEngine(t, fetcher)

	// Another playlist already stored the same logical track
	src := filepath.Join(t.TempDir(), "src.mp3")
	if err := os.WriteFile(src, []byte("shared bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	hash, _, err := env.storage.Store(src, meta, "other-playlist")
	if err != nil {
		t.Fatal(err)
	}

	summary, err := env.engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Downloaded != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if env.downloader.calls != 0 {
		t.Errorf("downloader called %d times, want 0 (reuse)", env.downloader.calls)
	}

	info, _ := env.storage.TrackInfo(hash)
	if info.ReferenceCount != 2 {
		t.Errorf("ReferenceCount = %d, want 2 after reuse", info.ReferenceCount)
	}
	if _, err := os.Stat(filepath.Join(env.folder, "A - Shared.mp3")); err != nil {
		t.Errorf("playlist link missing: %v", err)
	}
}

func TestRunDeletesRemovedTracks(t *testing.T) {
	fetcher := &fakeFetcher{name: "Mix", tracks: nil}
	env := newTestEngine(t, fetcher)

	// Seed one synced track, then fetch an empty playlist
	meta := track.Meta{SourceID: "id1", Title: "Old", Artist: "A"}
	src := filepath.Join(t.TempDir(), "src.mp3")
	if err := os.WriteFile(src, []byte("old bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	hash, _, err := env.storage.Store(src, meta, "p1")
	if err != nil {
		t.Fatal(err)
	}
	env.storage.CreatePlaylistLink(hash, env.folder, "A - Old.mp3")
	env.mf.Upsert(meta, "A - Old.mp3", 9, hash)
	env.mf.Save()

	// The new fetch keeps a different track and drops the old one
	fetcher.tracks = []track.Meta{{SourceID: "keep", Title: "Keep", Artist: "K"}}
	env.downloader.content["Keep"] = []byte("keep bytes")

	summary, err := env.engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Deleted != 1 {
		t.Errorf("summary = %+v", summary)
	}

	if _, ok := env.storage.TrackInfo(hash); ok {
		t.Error("last reference released, storage entry should be gone")
	}
	if _, err := os.Lstat(filepath.Join(env.folder, "A - Old.mp3")); !os.IsNotExist(err) {
		t.Error("playlist link should be removed")
	}
	if _, ok := env.mf.FindByKey(meta.Key()); ok {
		t.Error("manifest entry should be removed")
	}
}

func TestRunPerTrackFailuresDoNotAbort(t *testing.T) {
	fetcher := &fakeFetcher{name: "Mix", tracks: []track.Meta{
		{SourceID: "id1", Title: "Bad", Artist: "A"},
		{SourceID: "id2", Title: "Good", Artist: "B"},
	}}
	env := newTestEngine(t, fetcher)
	env.downloader.failFor["Bad"] = true

	summary, err := env.engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Downloaded != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	// The failed track never entered the manifest
	if _, ok := env.mf.FindByKey(track.Meta{SourceID: "id1"}.Key()); ok {
		t.Error("failed track must not be recorded as synced")
	}
}

func TestRunFetchFailureMutatesNothing(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("network down")}
	env := newTestEngine(t, fetcher)

	if _, err := env.engine.Run(context.Background()); err == nil {
		t.Fatal("expected fetch error to surface")
	}
	if env.mf.TrackCount() != 0 {
		t.Error("manifest mutated on failed fetch")
	}
	if env.downloader.calls != 0 {
		t.Error("downloader invoked on failed fetch")
	}
}

func TestCancelBetweenTracks(t *testing.T) {
	fetcher := &fakeFetcher{name: "Mix", tracks: []track.Meta{
		{SourceID: "id1", Title: "One", Artist: "A"},
		{SourceID: "id2", Title: "Two", Artist: "B"},
		{SourceID: "id3", Title: "Three", Artist: "C"},
	}}
	env := newTestEngine(t, fetcher)

	// Cancel as soon as the first track completes
	env.engine.deps.Notifier = FuncNotifier(func(p Progress) {
		if p.Status == StatusDownloaded {
			env.engine.Cancel()
		}
	})

	summary, err := env.engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !summary.Cancelled {
		t.Error("summary should report cancellation")
	}
	if summary.Downloaded != 1 {
		t.Errorf("Downloaded = %d, want 1", summary.Downloaded)
	}
	// The completed track stays committed
	if env.mf.TrackCount() != 1 {
		t.Errorf("manifest count = %d, want 1", env.mf.TrackCount())
	}
}

func TestSuspectRedownloaded(t *testing.T) {
	meta := track.Meta{SourceID: "id1", Title: "Torn", Artist: "A"}
	fetcher := &fakeFetcher{name: "Mix", tracks: []track.Meta{meta}}
	env := newTestEngine(t, fetcher)

	// A truncated previous download sits in the folder and manifest
	if err := os.WriteFile(filepath.Join(env.folder, "A - Torn.mp3"), make([]byte, 10*1024), 0644); err != nil {
		t.Fatal(err)
	}
	env.mf.Upsert(meta, "A - Torn.mp3", 10*1024, "")
	env.mf.Save()

	env.downloader.content["Torn"] = []byte("full healthy audio content")

	summary, err := env.engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Downloaded != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if env.downloader.calls != 1 {
		t.Errorf("downloader calls = %d, want 1", env.downloader.calls)
	}

	// The replacement is in place and the manifest entry carries a hash
	e, ok := env.mf.FindByKey(meta.Key())
	if !ok || e.StorageHash == "" {
		t.Errorf("entry = (%+v, %v)", e, ok)
	}
	info, err := os.Stat(filepath.Join(env.folder, "A - Torn.mp3"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 10*1024 {
		t.Error("suspect file was not replaced")
	}
}

type blockingFetcher struct {
	inner   *fakeFetcher
	release chan struct{}
}

func (b *blockingFetcher) FetchPlaylist(ctx context.Context, url string) (string, []track.Meta, error) {
	<-b.release
	return b.inner.FetchPlaylist(ctx, url)
}

func TestRunnerBackgroundExecution(t *testing.T) {
	fetcher := &fakeFetcher{name: "Mix", tracks: []track.Meta{
		{SourceID: "id1", Title: "One", Artist: "A"},
	}}
	env := newTestEngine(t, fetcher)

	blocking := &blockingFetcher{inner: fetcher, release: make(chan struct{})}
	env.engine.deps.Fetcher = blocking

	r := NewRunner(nil)
	if err := r.Start(context.Background(), env.engine); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(context.Background(), env.engine); err == nil {
		t.Error("second Start while running should fail")
	}
	close(blocking.release)
	r.Wait()

	status := r.Status()
	if status.State != RunStateCompleted {
		t.Errorf("state = %q, want completed", status.State)
	}
	if status.Summary.Downloaded != 1 {
		t.Errorf("summary = %+v", status.Summary)
	}
}
