package download

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/swimsync/swimsync-go/internal/track"
)

func TestFindDownloadedFile(t *testing.T) {
	dir := t.TempDir()

	if file, size := FindDownloadedFile(dir); file != "" || size != 0 {
		t.Errorf("empty dir: got (%q, %d)", file, size)
	}

	// Non-audio files are ignored
	os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte("img"), 0644)
	os.WriteFile(filepath.Join(dir, ".spotdl-cache"), []byte("x"), 0644)
	if file, _ := FindDownloadedFile(dir); file != "" {
		t.Errorf("non-audio dir: got %q", file)
	}

	content := []byte("pretend mp3 bytes")
	os.WriteFile(filepath.Join(dir, "Artist - Title.mp3"), content, 0644)
	file, size := FindDownloadedFile(dir)
	if filepath.Base(file) != "Artist - Title.mp3" {
		t.Errorf("file = %q", file)
	}
	if size != int64(len(content)) {
		t.Errorf("size = %d, want %d", size, len(content))
	}

	if _, err := os.Stat(file); err != nil {
		t.Errorf("returned path not stat-able: %v", err)
	}
}

func TestFindDownloadedFileMissingDir(t *testing.T) {
	if file, size := FindDownloadedFile("/nonexistent/path"); file != "" || size != 0 {
		t.Errorf("got (%q, %d), want empty", file, size)
	}
}

func TestDownloadFailsWithMissingBinary(t *testing.T) {
	d := NewDownloader(Options{
		SpotdlPath: "/nonexistent/spotdl-binary",
		Timeout:    2 * time.Second,
	}, nil)

	_, err := d.Download(context.Background(), track.Meta{Title: "Song", Artist: "Artist"})
	if err == nil {
		t.Fatal("expected error for missing spotdl binary")
	}
}

func TestDownloaderDefaults(t *testing.T) {
	d := NewDownloader(Options{}, nil)
	if d.opts.SpotdlPath != "spotdl" || d.opts.Format != "mp3" {
		t.Errorf("defaults not applied: %+v", d.opts)
	}
	if d.opts.MinValidFileSize != 100*1024 {
		t.Errorf("MinValidFileSize = %d, want 102400", d.opts.MinValidFileSize)
	}
}

func TestIsNoResults(t *testing.T) {
	if !isNoResults("LookupError: No results found for song") {
		t.Error("expected match for No results found")
	}
	if isNoResults("some other failure") {
		t.Error("unexpected match")
	}
}
