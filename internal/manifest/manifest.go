// Package manifest persists the per-playlist record of which logical tracks
// are currently synced and how they map into content-addressed storage.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swimsync/swimsync-go/internal/track"
)

// FileName is the manifest file inside a playlist folder (or the output
// folder in legacy mode).
const FileName = ".swimsync_manifest.json"

// Mode selects between the legacy single-folder layout and the current
// per-playlist layout.
type Mode int

const (
	// ModeLegacy is the v1 layout: one manifest next to loose audio files.
	ModeLegacy Mode = iota
	// ModePlaylist is the v2 layout: one manifest per playlist folder,
	// entries carrying a storage hash.
	ModePlaylist
)

func (m Mode) version() string {
	if m == ModeLegacy {
		return "1.0"
	}
	return "2.0"
}

// Entry is one logical track within a playlist.
type Entry struct {
	SourceID     string `json:"source_id"`
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	Album        string `json:"album"`
	Filename     string `json:"filename"`
	SizeBytes    int64  `json:"size_bytes"`
	StorageHash  string `json:"storage_hash,omitempty"`
	Status       string `json:"status"`
	DownloadedAt string `json:"downloaded_at"`
}

// Key returns the entry's identity key, consistent with track.Meta.Key.
func (e Entry) Key() string {
	return track.Meta{SourceID: e.SourceID, Artist: e.Artist, Title: e.Title}.Key()
}

// document is the persisted JSON shape.
type document struct {
	Version      string  `json:"version"`
	PlaylistID   string  `json:"playlist_id,omitempty"`
	PlaylistURL  string  `json:"playlist_url"`
	PlaylistName string  `json:"playlist_name"`
	LastSync     *string `json:"last_sync"`
	Tracks       []Entry `json:"tracks"`
}

// Store manages one playlist's manifest.
type Store struct {
	folder       string
	manifestPath string
	mode         Mode
	logger       *zap.Logger

	mu   sync.Mutex
	data document
}

// New loads the manifest in folder, creating an empty one if absent. A
// corrupt or unreadable manifest is rebuilt from a folder scan instead of
// failing.
func New(folder string, mode Mode, playlistID string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		folder:       folder,
		manifestPath: filepath.Join(folder, FileName),
		mode:         mode,
		logger:       logger,
	}
	s.data = s.load(playlistID)
	return s
}

func (s *Store) load(playlistID string) document {
	data, err := os.ReadFile(s.manifestPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("manifest unreadable, rebuilding from folder scan",
				zap.String("path", s.manifestPath), zap.Error(err))
			return s.rebuildFromFolder(playlistID)
		}
		return s.emptyDocument(playlistID)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("manifest corrupt, rebuilding from folder scan",
			zap.String("path", s.manifestPath), zap.Error(err))
		return s.rebuildFromFolder(playlistID)
	}
	if doc.Tracks == nil {
		doc.Tracks = []Entry{}
	}
	return doc
}

func (s *Store) emptyDocument(playlistID string) document {
	doc := document{
		Version: s.mode.version(),
		Tracks:  []Entry{},
	}
	if s.mode == ModePlaylist {
		doc.PlaylistID = playlistID
	}
	return doc
}

// rebuildFromFolder reconstructs entries by scanning audio files and parsing
// "Artist - Title.ext" names.
func (s *Store) rebuildFromFolder(playlistID string) document {
	doc := s.emptyDocument(playlistID)

	entries, err := os.ReadDir(s.folder)
	if err != nil {
		return doc
	}

	for _, dirEntry := range entries {
		name := dirEntry.Name()
		if dirEntry.IsDir() || !track.IsAudioFile(name) {
			continue
		}
		info, err := dirEntry.Info()
		if err != nil {
			continue
		}
		artist, title := track.ParseFilename(name)
		doc.Tracks = append(doc.Tracks, Entry{
			Title:        title,
			Artist:       artist,
			Filename:     name,
			SizeBytes:    info.Size(),
			Status:       "downloaded",
			DownloadedAt: info.ModTime().Format(time.RFC3339),
		})
	}

	return doc
}

// Save persists the manifest atomically. Returns false on failure instead of
// an error; callers decide whether a failed save is fatal.
func (s *Store) Save() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() bool {
	if err := os.MkdirAll(s.folder, 0755); err != nil {
		s.logger.Error("failed to create manifest folder", zap.Error(err))
		return false
	}

	data, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		s.logger.Error("failed to encode manifest", zap.Error(err))
		return false
	}

	tmpPath := s.manifestPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		s.logger.Error("failed to write manifest", zap.Error(err))
		return false
	}
	if err := os.Rename(tmpPath, s.manifestPath); err != nil {
		os.Remove(tmpPath)
		s.logger.Error("failed to replace manifest", zap.Error(err))
		return false
	}
	return true
}

// Tracks returns a copy of all entries.
func (s *Store) Tracks() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.data.Tracks...)
}

// Find looks up an entry by title and artist using the identity key.
func (s *Store) Find(title, artist string) (Entry, bool) {
	key := track.KeyFor(artist, title)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.data.Tracks {
		if e.Key() == key {
			return e, true
		}
	}
	return Entry{}, false
}

// FindByKey looks up an entry by a precomputed identity key.
func (s *Store) FindByKey(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.data.Tracks {
		if e.Key() == key {
			return e, true
		}
	}
	return Entry{}, false
}

// Upsert adds or updates the entry matching meta's identity key.
func (s *Store) Upsert(meta track.Meta, filename string, sizeBytes int64, storageHash string) {
	key := meta.Key()
	now := time.Now().Format(time.RFC3339)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Tracks {
		if s.data.Tracks[i].Key() == key {
			s.data.Tracks[i].Filename = filename
			s.data.Tracks[i].SizeBytes = sizeBytes
			s.data.Tracks[i].DownloadedAt = now
			s.data.Tracks[i].Status = "downloaded"
			if storageHash != "" {
				s.data.Tracks[i].StorageHash = storageHash
			}
			return
		}
	}

	s.data.Tracks = append(s.data.Tracks, Entry{
		SourceID:     meta.SourceID,
		Title:        defaultString(meta.Title, "Unknown"),
		Artist:       defaultString(meta.Artist, "Unknown"),
		Album:        meta.Album,
		Filename:     filename,
		SizeBytes:    sizeBytes,
		StorageHash:  storageHash,
		Status:       "downloaded",
		DownloadedAt: now,
	})
}

// Remove drops the entry matching meta's identity key. Returns the removed
// entry when one existed.
func (s *Store) Remove(meta track.Meta) (Entry, bool) {
	key := meta.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.data.Tracks {
		if e.Key() == key {
			s.data.Tracks = append(s.data.Tracks[:i], s.data.Tracks[i+1:]...)
			return e, true
		}
	}
	return Entry{}, false
}

// SyncWithFolder reconciles entries with the actual folder contents: entries
// whose backing file vanished are dropped, untracked audio files get parsed
// entries. Running this before a diff prevents stale "removed" diagnostics
// from accumulating after manual deletion.
func (s *Store) SyncWithFolder() {
	actual := make(map[string]os.FileInfo)
	entries, err := os.ReadDir(s.folder)
	if err != nil {
		return
	}
	for _, dirEntry := range entries {
		name := dirEntry.Name()
		if dirEntry.IsDir() || !track.IsAudioFile(name) {
			continue
		}
		// Stat resolves symlinks; broken links count as missing
		info, err := os.Stat(filepath.Join(s.folder, name))
		if err != nil {
			continue
		}
		actual[normalizeFilename(name)] = info
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.data.Tracks[:0]
	tracked := make(map[string]bool)
	for _, e := range s.data.Tracks {
		if _, ok := actual[normalizeFilename(e.Filename)]; ok {
			kept = append(kept, e)
			tracked[normalizeFilename(e.Filename)] = true
		}
	}
	s.data.Tracks = kept

	for name, info := range actual {
		if tracked[name] {
			continue
		}
		artist, title := track.ParseFilename(info.Name())
		s.data.Tracks = append(s.data.Tracks, Entry{
			Title:        title,
			Artist:       artist,
			Filename:     info.Name(),
			SizeBytes:    info.Size(),
			Status:       "downloaded",
			DownloadedAt: info.ModTime().Format(time.RFC3339),
		})
	}
}

// SetPlaylistName rewrites the playlist display name without touching the
// last sync timestamp. The name is duplicated here for legacy tooling that
// reads manifests without the catalog.
func (s *Store) SetPlaylistName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.PlaylistName = name
}

// SetPlaylistURL rewrites the playlist source URL without touching the last
// sync timestamp.
func (s *Store) SetPlaylistURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.PlaylistURL = url
}

// SetPlaylistInfo records the playlist source metadata and stamps last sync.
func (s *Store) SetPlaylistInfo(url, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.PlaylistURL = url
	s.data.PlaylistName = name
	now := time.Now().Format(time.RFC3339)
	s.data.LastSync = &now
}

// PlaylistInfo returns the recorded playlist URL, name and last sync time.
func (s *Store) PlaylistInfo() (url, name string, lastSync *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.PlaylistURL, s.data.PlaylistName, s.data.LastSync
}

// TrackCount returns the number of entries.
func (s *Store) TrackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.Tracks)
}

// TotalSizeBytes sums the recorded sizes of all entries.
func (s *Store) TotalSizeBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, e := range s.data.Tracks {
		total += e.SizeBytes
	}
	return total
}

// Folder returns the folder this manifest tracks.
func (s *Store) Folder() string {
	return s.folder
}

// Clear resets the manifest to empty and persists it.
func (s *Store) Clear() {
	s.mu.Lock()
	s.data = s.emptyDocument(s.data.PlaylistID)
	s.mu.Unlock()
	s.Save()
}

// normalizeFilename folds case and unicode so manifest names and disk names
// compare loosely.
func normalizeFilename(name string) string {
	return strings.ToLower(track.NormalizeText(filepath.Base(name)))
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
