package library

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/swimsync/swimsync-go/internal/manifest"
	"github.com/swimsync/swimsync-go/internal/storage"
	"github.com/swimsync/swimsync-go/internal/track"
)

func newTestManager(t *testing.T) (*Manager, *storage.TrackStore, string) {
	t.Helper()
	dir := t.TempDir()
	ts, err := storage.NewTrackStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(dir, ts, nil)
	if err != nil {
		t.Fatal(err)
	}
	return m, ts, dir
}

func writeAudioFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCreatePlaylist(t *testing.T) {
	m, _, dir := newTestManager(t)

	p, err := m.CreatePlaylist("My Swim Mix", "https://open.spotify.com/playlist/x", "")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "my-swim-mix" {
		t.Errorf("ID = %q, want my-swim-mix", p.ID)
	}
	if p.Color != DefaultColor {
		t.Errorf("Color = %q, want default %q", p.Color, DefaultColor)
	}

	// Folder and manifest created
	folder := filepath.Join(dir, PlaylistsDirName, p.ID)
	if _, err := os.Stat(folder); err != nil {
		t.Errorf("playlist folder missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(folder, manifest.FileName)); err != nil {
		t.Errorf("manifest missing: %v", err)
	}

	// First playlist becomes primary
	primary, ok := m.Primary()
	if !ok || primary.ID != p.ID {
		t.Errorf("Primary() = (%+v, %v), want first playlist", primary, ok)
	}
}

func TestGeneratePlaylistID(t *testing.T) {
	m, _, _ := newTestManager(t)

	tests := []struct {
		name string
		want string
	}{
		{"My Swim Mix", "my-swim-mix"},
		{"My Swim Mix", "my-swim-mix-1"},
		{"My Swim Mix", "my-swim-mix-2"},
		{"Rock'n'Roll!!", "rocknroll"},
		{"日本語", "playlist"},
		{"日本語", "playlist-1"},
	}
	for _, tt := range tests {
		p, err := m.CreatePlaylist(tt.name, "", "")
		if err != nil {
			t.Fatal(err)
		}
		if p.ID != tt.want {
			t.Errorf("CreatePlaylist(%q).ID = %q, want %q", tt.name, p.ID, tt.want)
		}
	}
}

func TestDeletePlaylistReleasesReferences(t *testing.T) {
	m, ts, dir := newTestManager(t)

	a, _ := m.CreatePlaylist("A", "", "")
	b, _ := m.CreatePlaylist("B", "", "")

	src := writeAudioFile(t, dir, "src.mp3", []byte("shared content"))
	meta := track.Meta{Title: "Song", Artist: "Artist"}
	hash, _, err := ts.Store(src, meta, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := ts.Store(src, meta, b.ID); err != nil {
		t.Fatal(err)
	}

	for _, p := range []Playlist{a, b} {
		mf := m.Manifest(p.ID)
		mf.Upsert(meta, "Artist - Song.mp3", 14, hash)
		mf.Save()
	}

	if !m.DeletePlaylist(a.ID) {
		t.Fatal("DeletePlaylist returned false")
	}

	// Shared file survives with one reference left
	info, ok := ts.TrackInfo(hash)
	if !ok {
		t.Fatal("track deleted while still referenced")
	}
	if info.ReferenceCount != 1 {
		t.Errorf("ReferenceCount = %d, want 1", info.ReferenceCount)
	}

	// Folder gone, catalog updated, primary reassigned
	if _, err := os.Stat(m.PlaylistFolder(a.ID)); !os.IsNotExist(err) {
		t.Error("playlist folder not removed")
	}
	if _, ok := m.Playlist(a.ID); ok {
		t.Error("playlist still in catalog")
	}
	primary, ok := m.Primary()
	if !ok || primary.ID != b.ID {
		t.Errorf("primary not reassigned, got (%+v, %v)", primary, ok)
	}

	if m.DeletePlaylist(a.ID) {
		t.Error("deleting a missing playlist should return false")
	}
}

func TestUpdatePlaylistPropagatesToManifest(t *testing.T) {
	m, _, _ := newTestManager(t)
	p, _ := m.CreatePlaylist("Old Name", "old-url", "")

	newName := "New Name"
	newURL := "new-url"
	newColor := "#22c55e"
	updated, ok := m.UpdatePlaylist(p.ID, Update{Name: &newName, SpotifyURL: &newURL, Color: &newColor})
	if !ok {
		t.Fatal("UpdatePlaylist returned false")
	}
	if updated.Name != newName || updated.SpotifyURL != newURL || updated.Color != newColor {
		t.Errorf("updated playlist: %+v", updated)
	}

	url, name, _ := m.Manifest(p.ID).PlaylistInfo()
	if name != newName || url != newURL {
		t.Errorf("manifest metadata = (%q, %q), want (%q, %q)", name, url, newName, newURL)
	}

	if _, ok := m.UpdatePlaylist("no-such-id", Update{Name: &newName}); ok {
		t.Error("updating a missing playlist should return false")
	}
}

func TestRefreshStats(t *testing.T) {
	m, ts, dir := newTestManager(t)
	p, _ := m.CreatePlaylist("Mix", "", "")

	content := make([]byte, 2*1024*1024)
	src := writeAudioFile(t, dir, "src.mp3", content)
	meta := track.Meta{Title: "Song", Artist: "Artist"}
	hash, _, err := ts.Store(src, meta, p.ID)
	if err != nil {
		t.Fatal(err)
	}

	mf := m.Manifest(p.ID)
	mf.Upsert(meta, "Artist - Song.mp3", int64(len(content)), hash)
	mf.Save()

	m.RefreshStats(p.ID)

	got, _ := m.Playlist(p.ID)
	if got.TrackCount != 1 {
		t.Errorf("TrackCount = %d, want 1", got.TrackCount)
	}
	if got.TotalSizeMB != 2.0 || got.UniqueSizeMB != 2.0 {
		t.Errorf("sizes = (%v, %v), want (2, 2)", got.TotalSizeMB, got.UniqueSizeMB)
	}
	if got.LastSync == nil {
		t.Error("LastSync not stamped")
	}
}

func TestRepairBrokenLinks(t *testing.T) {
	m, _, _ := newTestManager(t)
	p, _ := m.CreatePlaylist("Mix", "", "")
	folder := m.PlaylistFolder(p.ID)

	// One valid symlink, one broken one, one regular file
	target := writeAudioFile(t, folder, "real.mp3", []byte("audio"))
	if err := os.Symlink(target, filepath.Join(folder, "Good - Link.mp3")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink(filepath.Join(folder, "nope.mp3"), filepath.Join(folder, "Bad - Link.mp3")); err != nil {
		t.Fatal(err)
	}

	if removed := m.RepairBrokenLinks(); removed != 1 {
		t.Errorf("RepairBrokenLinks() = %d, want 1", removed)
	}
	if _, err := os.Lstat(filepath.Join(folder, "Bad - Link.mp3")); !os.IsNotExist(err) {
		t.Error("broken link not removed")
	}
	if _, err := os.Lstat(filepath.Join(folder, "Good - Link.mp3")); err != nil {
		t.Error("valid link should survive")
	}
}

func TestCatalogPersistence(t *testing.T) {
	m, ts, dir := newTestManager(t)
	m.CreatePlaylist("Alpha", "url-a", "#111111")
	m.CreatePlaylist("Beta", "url-b", "#222222")
	m.SetPrimary("beta")

	reloaded, err := NewManager(dir, ts, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Playlists()) != 2 {
		t.Fatalf("Playlists() = %d after reload, want 2", len(reloaded.Playlists()))
	}
	primary, ok := reloaded.Primary()
	if !ok || primary.ID != "beta" {
		t.Errorf("Primary() = (%+v, %v) after reload", primary, ok)
	}
}

func TestCorruptCatalogStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, LibraryDirName)
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, ConfigFileName), []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(dir, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Playlists()) != 0 {
		t.Errorf("Playlists() = %d, want 0 after corrupt catalog", len(m.Playlists()))
	}
	if _, ok := m.Primary(); ok {
		t.Error("no primary expected on empty catalog")
	}
}

func TestLibraryStats(t *testing.T) {
	m, ts, dir := newTestManager(t)
	a, _ := m.CreatePlaylist("A", "", "")
	b, _ := m.CreatePlaylist("B", "", "")

	src := writeAudioFile(t, dir, "src.mp3", make([]byte, 1024*1024))
	meta := track.Meta{Title: "Song", Artist: "Artist"}
	hash, _, err := ts.Store(src, meta, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := ts.Store(src, meta, b.ID); err != nil {
		t.Fatal(err)
	}

	for _, p := range []Playlist{a, b} {
		mf := m.Manifest(p.ID)
		mf.Upsert(meta, "Artist - Song.mp3", 1024*1024, hash)
		mf.Save()
		m.RefreshStats(p.ID)
	}

	stats := m.LibraryStats()
	if stats.PlaylistCount != 2 {
		t.Errorf("PlaylistCount = %d, want 2", stats.PlaylistCount)
	}
	if stats.TotalPlaylistTracks != 2 {
		t.Errorf("TotalPlaylistTracks = %d, want 2", stats.TotalPlaylistTracks)
	}
	if stats.UniqueTracks != 1 {
		t.Errorf("UniqueTracks = %d, want 1", stats.UniqueTracks)
	}
	if stats.LogicalSizeMB != 2*stats.ActualStorageMB {
		t.Errorf("LogicalSizeMB = %v, want double ActualStorageMB %v",
			stats.LogicalSizeMB, stats.ActualStorageMB)
	}
}
