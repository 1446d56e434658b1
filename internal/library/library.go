// Package library is the catalog layer: it owns the playlist registry, the
// primary-playlist designation and per-playlist cached stats, delegating file
// dedup to the storage package and per-playlist track lists to manifest.
package library

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swimsync/swimsync-go/internal/manifest"
	"github.com/swimsync/swimsync-go/internal/storage"
	"github.com/swimsync/swimsync-go/internal/track"
)

const (
	// LibraryDirName holds the catalog and storage under the library root.
	LibraryDirName = ".swimsync"
	// ConfigFileName is the catalog file inside LibraryDirName.
	ConfigFileName = "library.json"
	// PlaylistsDirName holds one folder per playlist.
	PlaylistsDirName = "playlists"

	// DefaultColor is the sidebar color assigned when none is given.
	DefaultColor = "#3b82f6"

	catalogVersion = "2.0"
)

// Playlist is one catalog entry.
type Playlist struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	SpotifyURL   string  `json:"spotify_url"`
	FolderName   string  `json:"folder_name"`
	TrackCount   int     `json:"track_count"`
	TotalSizeMB  float64 `json:"total_size_mb"`
	UniqueSizeMB float64 `json:"unique_size_mb"`
	LastSync     *string `json:"last_sync"`
	CreatedAt    string  `json:"created_at"`
	Color        string  `json:"color"`
}

// Device describes the target player the library is sized for.
type Device struct {
	Name               string  `json:"name"`
	CapacityGB         int     `json:"capacity_gb"`
	LastConnected      *string `json:"last_connected"`
	LastPlaylistLoaded *string `json:"last_playlist_loaded"`
}

// catalog is the persisted library.json shape.
type catalog struct {
	Version           string        `json:"version"`
	PrimaryPlaylistID string        `json:"primary_playlist_id"`
	Playlists         []Playlist    `json:"playlists"`
	Device            Device        `json:"device"`
	StorageStats      storage.Stats `json:"storage_stats"`
}

// Stats aggregates catalog and storage figures for the whole library.
type Stats struct {
	PlaylistCount       int     `json:"playlist_count"`
	TotalPlaylistTracks int     `json:"total_playlist_tracks"`
	UniqueTracks        int     `json:"unique_tracks"`
	ActualStorageMB     float64 `json:"actual_storage_mb"`
	LogicalSizeMB       float64 `json:"logical_size_mb"`
	SavingsMB           float64 `json:"savings_mb"`
	SavingsPercent      float64 `json:"savings_percent"`
}

// Update is a partial playlist metadata patch; nil fields are left unchanged.
type Update struct {
	Name       *string
	SpotifyURL *string
	Color      *string
}

// Manager is the library catalog. All catalog mutations are serialized by a
// single mutex and persisted atomically after every change.
type Manager struct {
	libraryPath string
	configPath  string
	storage     *storage.TrackStore
	logger      *zap.Logger

	mu     sync.Mutex
	config catalog
}

// NewManager opens (or initializes) the catalog under libraryPath. A corrupt
// or unreadable catalog starts empty rather than failing.
func NewManager(libraryPath string, ts *storage.TrackStore, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		libraryPath: libraryPath,
		configPath:  filepath.Join(libraryPath, LibraryDirName, ConfigFileName),
		storage:     ts,
		logger:      logger,
	}

	for _, dir := range []string{
		filepath.Join(libraryPath, LibraryDirName),
		filepath.Join(libraryPath, PlaylistsDirName),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create library directory: %w", err)
		}
	}

	m.config = m.loadConfig()
	return m, nil
}

func (m *Manager) loadConfig() catalog {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("failed to read library catalog, starting empty", zap.Error(err))
		}
		return m.defaultConfig()
	}

	var c catalog
	if err := json.Unmarshal(data, &c); err != nil || c.Version == "" || c.Playlists == nil {
		m.logger.Warn("library catalog corrupt, starting empty",
			zap.String("path", m.configPath), zap.Error(err))
		return m.defaultConfig()
	}
	return c
}

func (m *Manager) defaultConfig() catalog {
	return catalog{
		Version:   catalogVersion,
		Playlists: []Playlist{},
		Device: Device{
			Name:       "Shokz OpenSwim Pro",
			CapacityGB: 32,
		},
	}
}

// saveLocked persists the catalog atomically, refreshing the cached storage
// stats first. Callers hold m.mu.
func (m *Manager) saveLocked() error {
	if m.storage != nil {
		m.config.StorageStats = m.storage.GetStats()
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}

	data, err := json.MarshalIndent(&m.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode library catalog: %w", err)
	}

	tmpPath := m.configPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write library catalog: %w", err)
	}
	if err := os.Rename(tmpPath, m.configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace library catalog: %w", err)
	}
	return nil
}

// SetDevice records the target device metadata.
func (m *Manager) SetDevice(name string, capacityGB int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name != "" {
		m.config.Device.Name = name
	}
	if capacityGB > 0 {
		m.config.Device.CapacityGB = capacityGB
	}
	if err := m.saveLocked(); err != nil {
		m.logger.Error("failed to save library catalog", zap.Error(err))
	}
}

// Playlists returns all playlists in the catalog.
func (m *Manager) Playlists() []Playlist {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Playlist(nil), m.config.Playlists...)
}

// Playlist looks up a playlist by id.
func (m *Manager) Playlist(id string) (Playlist, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(id)
}

func (m *Manager) findLocked(id string) (Playlist, bool) {
	for _, p := range m.config.Playlists {
		if p.ID == id {
			return p, true
		}
	}
	return Playlist{}, false
}

// CreatePlaylist registers a new playlist, creates its folder and an empty
// manifest, and marks it primary if it is the first one.
func (m *Manager) CreatePlaylist(name, spotifyURL, color string) (Playlist, error) {
	if color == "" {
		color = DefaultColor
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.generateIDLocked(name)
	p := Playlist{
		ID:         id,
		Name:       name,
		SpotifyURL: spotifyURL,
		FolderName: id,
		CreatedAt:  time.Now().Format(time.RFC3339),
		Color:      color,
	}
	m.config.Playlists = append(m.config.Playlists, p)

	folder := filepath.Join(m.libraryPath, PlaylistsDirName, id)
	if err := os.MkdirAll(folder, 0755); err != nil {
		m.config.Playlists = m.config.Playlists[:len(m.config.Playlists)-1]
		return Playlist{}, fmt.Errorf("failed to create playlist folder: %w", err)
	}

	mf := manifest.New(folder, manifest.ModePlaylist, id, m.logger)
	mf.SetPlaylistName(name)
	mf.SetPlaylistURL(spotifyURL)
	mf.Save()

	if len(m.config.Playlists) == 1 {
		m.config.PrimaryPlaylistID = id
	}

	if err := m.saveLocked(); err != nil {
		return Playlist{}, err
	}
	return p, nil
}

var invalidIDChars = regexp.MustCompile(`[^a-z0-9\-]`)

// generateIDLocked derives a unique URL-safe id from the playlist name.
func (m *Manager) generateIDLocked(name string) string {
	id := strings.ToLower(name)
	id = strings.ReplaceAll(id, " ", "-")
	id = strings.ReplaceAll(id, "'", "")
	id = invalidIDChars.ReplaceAllString(id, "")
	if id == "" {
		id = "playlist"
	}

	existing := make(map[string]bool, len(m.config.Playlists))
	for _, p := range m.config.Playlists {
		existing[p.ID] = true
	}

	base := id
	for counter := 1; existing[id]; counter++ {
		id = fmt.Sprintf("%s-%d", base, counter)
	}
	return id
}

// DeletePlaylist removes a playlist: all its storage references are released
// (shared files survive, exclusive files are deleted), its folder is removed
// recursively, and primary is reassigned if needed.
func (m *Manager) DeletePlaylist(id string) bool {
	m.mu.Lock()
	p, ok := m.findLocked(id)
	m.mu.Unlock()
	if !ok {
		return false
	}

	folder := filepath.Join(m.libraryPath, PlaylistsDirName, p.FolderName)
	mf := manifest.New(folder, manifest.ModePlaylist, id, m.logger)
	for _, e := range mf.Tracks() {
		if e.StorageHash == "" {
			continue
		}
		if m.storage != nil {
			m.storage.RemoveReference(e.StorageHash, id)
		}
	}

	if err := os.RemoveAll(folder); err != nil {
		m.logger.Error("failed to remove playlist folder",
			zap.String("playlist_id", id), zap.Error(err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.config.Playlists[:0]
	for _, pl := range m.config.Playlists {
		if pl.ID != id {
			kept = append(kept, pl)
		}
	}
	m.config.Playlists = kept

	if m.config.PrimaryPlaylistID == id {
		m.config.PrimaryPlaylistID = ""
		if len(m.config.Playlists) > 0 {
			m.config.PrimaryPlaylistID = m.config.Playlists[0].ID
		}
	}

	if err := m.saveLocked(); err != nil {
		m.logger.Error("failed to save library catalog", zap.Error(err))
	}
	return true
}

// UpdatePlaylist applies a metadata patch. Name and URL changes are mirrored
// into the playlist manifest.
func (m *Manager) UpdatePlaylist(id string, upd Update) (Playlist, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.config.Playlists {
		p := &m.config.Playlists[i]
		if p.ID != id {
			continue
		}

		folder := filepath.Join(m.libraryPath, PlaylistsDirName, p.FolderName)
		if upd.Name != nil {
			p.Name = *upd.Name
			mf := manifest.New(folder, manifest.ModePlaylist, id, m.logger)
			mf.SetPlaylistName(*upd.Name)
			mf.Save()
		}
		if upd.SpotifyURL != nil {
			p.SpotifyURL = *upd.SpotifyURL
			mf := manifest.New(folder, manifest.ModePlaylist, id, m.logger)
			mf.SetPlaylistURL(*upd.SpotifyURL)
			mf.Save()
		}
		if upd.Color != nil {
			p.Color = *upd.Color
		}

		if err := m.saveLocked(); err != nil {
			m.logger.Error("failed to save library catalog", zap.Error(err))
		}
		return *p, true
	}
	return Playlist{}, false
}

// SetPrimary marks a playlist as the active one.
func (m *Manager) SetPrimary(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.findLocked(id); !ok {
		return false
	}
	m.config.PrimaryPlaylistID = id
	if err := m.saveLocked(); err != nil {
		m.logger.Error("failed to save library catalog", zap.Error(err))
	}
	return true
}

// Primary returns the primary playlist, if one is designated.
func (m *Manager) Primary() (Playlist, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.PrimaryPlaylistID == "" {
		return Playlist{}, false
	}
	return m.findLocked(m.config.PrimaryPlaylistID)
}

// PlaylistFolder returns the absolute folder for a playlist id.
func (m *Manager) PlaylistFolder(id string) string {
	return filepath.Join(m.libraryPath, PlaylistsDirName, id)
}

// Manifest opens the manifest store for a playlist.
func (m *Manager) Manifest(id string) *manifest.Store {
	return manifest.New(m.PlaylistFolder(id), manifest.ModePlaylist, id, m.logger)
}

// RefreshStats recomputes a playlist's track count, total size and
// deduplicated size from its manifest and the content store, then persists
// the catalog. Run after every sync so dashboard figures stay accurate.
func (m *Manager) RefreshStats(id string) {
	mf := m.Manifest(id)
	entries := mf.Tracks()

	var totalBytes int64
	uniqueHashes := make(map[string]bool)
	for _, e := range entries {
		totalBytes += e.SizeBytes
		if e.StorageHash != "" {
			uniqueHashes[e.StorageHash] = true
		}
	}

	var uniqueBytes int64
	if m.storage != nil {
		for h := range uniqueHashes {
			if info, ok := m.storage.TrackInfo(h); ok {
				uniqueBytes += info.SizeBytes
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.config.Playlists {
		if m.config.Playlists[i].ID != id {
			continue
		}
		now := time.Now().Format(time.RFC3339)
		m.config.Playlists[i].TrackCount = len(entries)
		m.config.Playlists[i].TotalSizeMB = roundMB(totalBytes)
		m.config.Playlists[i].UniqueSizeMB = roundMB(uniqueBytes)
		m.config.Playlists[i].LastSync = &now
		break
	}

	if err := m.saveLocked(); err != nil {
		m.logger.Error("failed to save library catalog", zap.Error(err))
	}
}

// RepairBrokenLinks scans every playlist folder for symlinks whose target no
// longer resolves and removes them. Returns the number removed. Run at
// startup as a self-healing pass.
func (m *Manager) RepairBrokenLinks() int {
	removed := 0
	playlistsDir := filepath.Join(m.libraryPath, PlaylistsDirName)

	folders, err := os.ReadDir(playlistsDir)
	if err != nil {
		return 0
	}

	for _, folder := range folders {
		if !folder.IsDir() {
			continue
		}
		folderPath := filepath.Join(playlistsDir, folder.Name())
		files, err := os.ReadDir(folderPath)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !track.IsAudioFile(f.Name()) {
				continue
			}
			path := filepath.Join(folderPath, f.Name())
			if f.Type()&os.ModeSymlink == 0 {
				continue
			}
			if _, err := os.Stat(path); err == nil {
				continue
			}
			if err := os.Remove(path); err != nil {
				m.logger.Warn("failed to remove broken link",
					zap.String("path", path), zap.Error(err))
				continue
			}
			removed++
			m.logger.Info("removed broken link", zap.String("file", f.Name()))
		}
	}

	if removed > 0 {
		m.logger.Info("repaired broken links", zap.Int("count", removed))
	}
	return removed
}

// LibraryStats aggregates catalog and storage figures.
func (m *Manager) LibraryStats() Stats {
	var storageStats storage.Stats
	if m.storage != nil {
		storageStats = m.storage.GetStats()
	}

	m.mu.Lock()
	totalTracks := 0
	for _, p := range m.config.Playlists {
		totalTracks += p.TrackCount
	}
	playlistCount := len(m.config.Playlists)
	m.mu.Unlock()

	return Stats{
		PlaylistCount:       playlistCount,
		TotalPlaylistTracks: totalTracks,
		UniqueTracks:        storageStats.UniqueTracks,
		ActualStorageMB:     storageStats.ActualMB,
		LogicalSizeMB:       storageStats.LogicalMB,
		SavingsMB:           storageStats.SavingsMB,
		SavingsPercent:      storageStats.SavingsPercent,
	}
}

func roundMB(bytes int64) float64 {
	return math.Round(float64(bytes)/1024/1024*100) / 100
}
