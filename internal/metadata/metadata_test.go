package metadata

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/swimsync/swimsync-go/internal/track"
)

func writeDummyMP3(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "test.mp3")
	// Arbitrary payload; the tag writer prepends an ID3v2 header
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xff, 0xfb, 0x90, 0x00}, 256), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestWriteReadMP3Tags(t *testing.T) {
	m := NewManager(Options{}, nil)
	path := writeDummyMP3(t, t.TempDir())

	err := m.WriteTags(path, Tags{Title: "Open Water", Artist: "Laps", Album: "Pool Sessions"})
	if err != nil {
		t.Fatal(err)
	}

	tags, err := m.ReadTags(path)
	if err != nil {
		t.Fatal(err)
	}
	if tags.Title != "Open Water" || tags.Artist != "Laps" || tags.Album != "Pool Sessions" {
		t.Errorf("tags = %+v", tags)
	}
	if tags.HasArtwork {
		t.Error("no artwork was written")
	}
}

func TestWriteMP3Artwork(t *testing.T) {
	m := NewManager(Options{}, nil)
	path := writeDummyMP3(t, t.TempDir())

	err := m.WriteTags(path, Tags{ArtworkData: pngBytes(t, 4, 4), ArtworkMIME: "image/png"})
	if err != nil {
		t.Fatal(err)
	}

	tags, err := m.ReadTags(path)
	if err != nil {
		t.Fatal(err)
	}
	if !tags.HasArtwork {
		t.Error("artwork frame not found after write")
	}
}

func TestEnsureTagsFillsMissingOnly(t *testing.T) {
	m := NewManager(Options{VerifyTags: true}, nil)
	path := writeDummyMP3(t, t.TempDir())

	if err := m.WriteTags(path, Tags{Title: "Kept Title"}); err != nil {
		t.Fatal(err)
	}

	meta := track.Meta{Title: "Fetched Title", Artist: "Fetched Artist", Album: "Fetched Album"}
	if err := m.EnsureTags(context.Background(), path, meta); err != nil {
		t.Fatal(err)
	}

	tags, err := m.ReadTags(path)
	if err != nil {
		t.Fatal(err)
	}
	if tags.Title != "Kept Title" {
		t.Errorf("existing title overwritten: %q", tags.Title)
	}
	if tags.Artist != "Fetched Artist" || tags.Album != "Fetched Album" {
		t.Errorf("missing tags not filled: %+v", tags)
	}
}

func TestEnsureTagsDisabledIsNoop(t *testing.T) {
	m := NewManager(Options{}, nil)
	// Path does not exist; a disabled manager must not even open it
	if err := m.EnsureTags(context.Background(), "/nonexistent/x.mp3", track.Meta{Title: "T"}); err != nil {
		t.Errorf("disabled EnsureTags returned %v", err)
	}
}

func TestEnsureTagsEmbedsArtwork(t *testing.T) {
	cover := pngBytes(t, 64, 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(cover)
	}))
	defer srv.Close()

	m := NewManager(Options{EmbedArtwork: true, ArtworkSize: 32}, nil)
	path := writeDummyMP3(t, t.TempDir())

	meta := track.Meta{Title: "T", Artist: "A", CoverURL: srv.URL}
	if err := m.EnsureTags(context.Background(), path, meta); err != nil {
		t.Fatal(err)
	}

	tags, err := m.ReadTags(path)
	if err != nil {
		t.Fatal(err)
	}
	if !tags.HasArtwork {
		t.Error("cover not embedded")
	}
}

func TestUnsupportedFormat(t *testing.T) {
	m := NewManager(Options{}, nil)
	if _, err := m.ReadTags("x.wav"); err == nil {
		t.Error("expected error for unsupported format")
	}
	if err := m.WriteTags("x.wav", Tags{Title: "T"}); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestResizeImageScalesLongestEdge(t *testing.T) {
	data, err := resizeImage(pngBytes(t, 200, 100), 50)
	if err != nil {
		t.Fatal(err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 50 || img.Bounds().Dy() != 25 {
		t.Errorf("bounds = %v, want 50x25", img.Bounds())
	}
}

func TestResizeImageKeepsSmallImages(t *testing.T) {
	original := pngBytes(t, 20, 20)
	data, err := resizeImage(original, 50)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, original) {
		t.Error("small image should pass through unchanged")
	}
}

func TestBuildFLACPictureBlock(t *testing.T) {
	img := []byte{0x01, 0x02, 0x03}
	block := buildFLACPictureBlock(img, "image/png")

	if got := binary.BigEndian.Uint32(block[0:4]); got != 3 {
		t.Errorf("picture type = %d, want 3 (front cover)", got)
	}
	mimeLen := binary.BigEndian.Uint32(block[4:8])
	if string(block[8:8+mimeLen]) != "image/png" {
		t.Errorf("mime = %q", block[8:8+mimeLen])
	}
	if got := binary.BigEndian.Uint32(block[len(block)-len(img)-4 : len(block)-len(img)]); got != uint32(len(img)) {
		t.Errorf("image length field = %d, want %d", got, len(img))
	}
	if !bytes.Equal(block[len(block)-len(img):], img) {
		t.Error("image bytes not at block tail")
	}
}
