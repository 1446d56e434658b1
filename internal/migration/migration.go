// Package migration upgrades a v1 library (one manifest, loose audio files)
// to the v2 layout (content-addressed storage plus per-playlist folders), and
// recovers from upgrades that were interrupted partway.
package migration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/swimsync/swimsync-go/internal/errors"
	"github.com/swimsync/swimsync-go/internal/library"
	"github.com/swimsync/swimsync-go/internal/manifest"
	"github.com/swimsync/swimsync-go/internal/storage"
	"github.com/swimsync/swimsync-go/internal/track"
)

const (
	// LegacyBackupName is where the v1 manifest is parked after migration.
	LegacyBackupName = ".swimsync_manifest.v1.backup.json"

	// DefaultPlaylistName is used when the v1 manifest carries no playlist
	// name, and for the playlist created by orphan repair.
	DefaultPlaylistName = "My Music"

	defaultPlaylistColor = "#22c55e"
)

// Result summarizes what a migration or repair pass did.
type Result struct {
	TracksMigrated   int      `json:"tracks_migrated"`
	PlaylistsCreated int      `json:"playlists_created"`
	Warnings         []string `json:"warnings,omitempty"`
}

// legacyTrack mirrors a v1 manifest entry. Sizes were recorded in megabytes.
type legacyTrack struct {
	SpotifyID    string  `json:"spotify_id"`
	Title        string  `json:"title"`
	Artist       string  `json:"artist"`
	Album        string  `json:"album"`
	Filename     string  `json:"filename"`
	FileSizeMB   float64 `json:"file_size_mb"`
	Status       string  `json:"status"`
	DownloadedAt string  `json:"downloaded_at"`
}

type legacyManifest struct {
	Version      string        `json:"version"`
	PlaylistURL  string        `json:"playlist_url"`
	PlaylistName string        `json:"playlist_name"`
	Tracks       []legacyTrack `json:"tracks"`
}

// IsMigrated reports whether the v2 catalog already exists. Callers must
// check this before constructing v2 components, which create the catalog as
// a side effect.
func IsMigrated(libraryPath string) bool {
	_, err := os.Stat(filepath.Join(libraryPath, library.LibraryDirName, library.ConfigFileName))
	return err == nil
}

// DetectLegacyManifest reports whether a v1 manifest sits in the library
// root. A manifest without a version field predates versioning and counts
// as v1.
func DetectLegacyManifest(libraryPath string) bool {
	data, err := os.ReadFile(filepath.Join(libraryPath, manifest.FileName))
	if err != nil {
		return false
	}
	var doc struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	return doc.Version == "" || strings.HasPrefix(doc.Version, "1.")
}

// Migrator moves v1 content into the v2 storage and catalog.
type Migrator struct {
	libraryPath string
	storage     *storage.TrackStore
	library     *library.Manager
	logger      *zap.Logger
}

// NewMigrator wires a migrator over already-initialized v2 components.
func NewMigrator(libraryPath string, ts *storage.TrackStore, lib *library.Manager, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{
		libraryPath: libraryPath,
		storage:     ts,
		library:     lib,
		logger:      logger,
	}
}

// Migrate performs the one-directional v1 to v2 upgrade: every v1 track is
// hashed into content storage under a single new playlist, its loose file
// replaced by a playlist link, and the v1 manifest backed up. Per-track
// failures become warnings, not errors; a track whose file is already gone
// cannot be recovered by failing the whole migration.
func (m *Migrator) Migrate() (*Result, error) {
	legacy, err := m.readLegacyManifest()
	if err != nil {
		return nil, err
	}

	name := legacy.PlaylistName
	if name == "" {
		name = DefaultPlaylistName
	}

	pl, err := m.library.CreatePlaylist(name, legacy.PlaylistURL, defaultPlaylistColor)
	if err != nil {
		return nil, err
	}

	result := &Result{PlaylistsCreated: 1}
	mf := m.library.Manifest(pl.ID)
	folder := m.library.PlaylistFolder(pl.ID)

	for _, lt := range legacy.Tracks {
		if warn := m.migrateTrack(lt, pl.ID, folder, mf); warn != "" {
			result.Warnings = append(result.Warnings, warn)
			continue
		}
		result.TracksMigrated++
	}

	mf.Save()
	m.backupLegacyManifest()
	m.library.RefreshStats(pl.ID)

	m.logger.Info("v1 library migrated",
		zap.String("playlist_id", pl.ID),
		zap.Int("tracks", result.TracksMigrated),
		zap.Int("warnings", len(result.Warnings)))
	return result, nil
}

func (m *Migrator) migrateTrack(lt legacyTrack, playlistID, folder string, mf *manifest.Store) string {
	if lt.Filename == "" {
		return "track missing filename: " + defaultString(lt.Title, "Unknown")
	}

	srcPath := filepath.Join(m.libraryPath, lt.Filename)
	info, err := os.Stat(srcPath)
	if err != nil {
		return "file not found: " + lt.Filename
	}

	meta := track.Meta{
		SourceID: lt.SpotifyID,
		Title:    defaultString(lt.Title, "Unknown"),
		Artist:   defaultString(lt.Artist, "Unknown"),
		Album:    lt.Album,
	}

	hash, _, err := m.storage.Store(srcPath, meta, playlistID)
	if err != nil {
		return "failed to store " + lt.Filename + ": " + err.Error()
	}

	m.storage.CreatePlaylistLink(hash, folder, lt.Filename)
	mf.Upsert(meta, lt.Filename, info.Size(), hash)

	// The loose file is only removed once its content is safely in storage
	if err := os.Remove(srcPath); err != nil {
		m.logger.Warn("failed to remove migrated file",
			zap.String("path", srcPath), zap.Error(err))
	}
	return ""
}

func (m *Migrator) readLegacyManifest() (*legacyManifest, error) {
	path := filepath.Join(m.libraryPath, manifest.FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewFileSystemError("failed to read legacy manifest", err)
	}
	var doc legacyManifest
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.NewCorruptIndexError("legacy manifest is not valid JSON", err)
	}
	return &doc, nil
}

func (m *Migrator) backupLegacyManifest() {
	src := filepath.Join(m.libraryPath, manifest.FileName)
	dst := filepath.Join(m.libraryPath, LegacyBackupName)
	if err := os.Rename(src, dst); err != nil {
		m.logger.Warn("failed to back up legacy manifest", zap.Error(err))
	}
}

// RepairOrphans folds loose audio files in the library root into the primary
// playlist. Loose files appear when a migration was killed after copying but
// before the manifest update; symlinks and the v2 directories are left alone.
func (m *Migrator) RepairOrphans() (*Result, error) {
	pl, ok := m.library.Primary()
	if !ok {
		var err error
		pl, err = m.library.CreatePlaylist(DefaultPlaylistName, "", defaultPlaylistColor)
		if err != nil {
			return nil, err
		}
	}

	result := &Result{}
	mf := m.library.Manifest(pl.ID)
	folder := m.library.PlaylistFolder(pl.ID)

	entries, err := os.ReadDir(m.libraryPath)
	if err != nil {
		return nil, apperrors.NewFileSystemError("failed to scan library root", err)
	}

	changed := false
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !track.IsAudioFile(name) {
			continue
		}
		path := filepath.Join(m.libraryPath, name)
		if fi, err := os.Lstat(path); err != nil || fi.Mode()&os.ModeSymlink != 0 {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		artist, title := track.ParseFilename(name)
		meta := track.Meta{Title: title, Artist: artist}

		hash, _, err := m.storage.Store(path, meta, pl.ID)
		if err != nil {
			result.Warnings = append(result.Warnings, "failed to store "+name+": "+err.Error())
			continue
		}

		m.storage.CreatePlaylistLink(hash, folder, name)
		mf.Upsert(meta, name, info.Size(), hash)

		if err := os.Remove(path); err != nil {
			m.logger.Warn("failed to remove orphaned file",
				zap.String("path", path), zap.Error(err))
		}
		result.TracksMigrated++
		changed = true
		m.logger.Info("recovered orphaned track", zap.String("file", name))
	}

	if changed {
		mf.Save()
		m.library.RefreshStats(pl.ID)
	}
	return result, nil
}

// RunIfNeeded is the startup entrypoint: migrate when a v1 manifest exists,
// otherwise do nothing. The caller decides whether to also run orphan repair.
func (m *Migrator) RunIfNeeded() (*Result, error) {
	if !DetectLegacyManifest(m.libraryPath) {
		return nil, nil
	}
	return m.Migrate()
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
