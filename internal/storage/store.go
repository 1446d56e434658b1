// Package storage implements the content-addressed, reference-counted track
// store. Audio bytes live once under their content hash; playlists hold
// references, and the last reference removal deletes the file.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/swimsync/swimsync-go/internal/errors"
	"github.com/swimsync/swimsync-go/internal/monitoring"
	"github.com/swimsync/swimsync-go/internal/track"
)

const (
	// StorageDirName is the storage directory relative to the library root
	StorageDirName = ".swimsync/storage"
	// IndexFileName is the storage index file inside the storage directory
	IndexFileName = "storage_index.json"
	// indexVersion is the structural version of the persisted index
	indexVersion = "1.0"

	// hashPrefixLength truncates the SHA-256 digest for filename brevity.
	// 16 hex chars (64 bits) keeps collision probability negligible at
	// library scale while staying compatible with existing on-disk layouts;
	// widening it would rename every stored file.
	hashPrefixLength = 16

	hashChunkSize = 64 * 1024
)

// StoredTrack is the metadata record for one deduplicated file.
type StoredTrack struct {
	Hash           string   `json:"hash"`
	Filename       string   `json:"filename"`
	OriginalName   string   `json:"original_name"`
	SizeBytes      int64    `json:"size_bytes"`
	Artist         string   `json:"artist"`
	Title          string   `json:"title"`
	Album          string   `json:"album"`
	SourceID       string   `json:"source_id"`
	DownloadedAt   string   `json:"downloaded_at"`
	ReferenceCount int      `json:"reference_count"`
	ReferencedBy   []string `json:"referenced_by"`
}

// storageIndex is the persisted JSON document.
type storageIndex struct {
	Version        string                  `json:"version"`
	Tracks         map[string]*StoredTrack `json:"tracks"`
	HashBySourceID map[string]string       `json:"hash_by_source_id"`
	HashByKey      map[string]string       `json:"hash_by_key"`
}

func newStorageIndex() *storageIndex {
	return &storageIndex{
		Version:        indexVersion,
		Tracks:         make(map[string]*StoredTrack),
		HashBySourceID: make(map[string]string),
		HashByKey:      make(map[string]string),
	}
}

// Stats summarizes deduplication effectiveness.
type Stats struct {
	UniqueTracks    int     `json:"unique_tracks"`
	TotalReferences int     `json:"total_references"`
	ActualBytes     int64   `json:"actual_storage_bytes"`
	ActualMB        float64 `json:"actual_storage_mb"`
	LogicalBytes    int64   `json:"logical_size_bytes"`
	LogicalMB       float64 `json:"logical_size_mb"`
	SavingsBytes    int64   `json:"savings_bytes"`
	SavingsMB       float64 `json:"savings_mb"`
	SavingsPercent  float64 `json:"savings_percent"`
}

// IntegrityReport partitions indexed hashes by whether the backing file exists.
type IntegrityReport struct {
	ValidCount    int      `json:"valid_count"`
	MissingCount  int      `json:"missing_count"`
	MissingHashes []string `json:"missing_hashes"`
}

// TrackStore owns the storage directory and its index. All structural
// mutations are serialized by a single mutex held across the full
// read-modify-write-persist sequence; hashing happens outside the lock.
type TrackStore struct {
	libraryPath string
	storagePath string
	indexPath   string
	logger      *zap.Logger

	mu    sync.Mutex
	index *storageIndex
}

// NewTrackStore opens (or initializes) the store rooted at libraryPath.
// A corrupt or unreadable index is replaced with an empty one rather than
// refusing to operate.
func NewTrackStore(libraryPath string, logger *zap.Logger) (*TrackStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	storagePath := filepath.Join(libraryPath, filepath.FromSlash(StorageDirName))
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return nil, apperrors.NewFileSystemError("failed to create storage directory", err)
	}

	ts := &TrackStore{
		libraryPath: libraryPath,
		storagePath: storagePath,
		indexPath:   filepath.Join(storagePath, IndexFileName),
		logger:      logger,
	}
	ts.index = ts.loadIndex()

	return ts, nil
}

// loadIndex reads the persisted index, falling back to empty on any failure.
func (ts *TrackStore) loadIndex() *storageIndex {
	data, err := os.ReadFile(ts.indexPath)
	if err != nil {
		if !os.IsNotExist(err) {
			ts.logger.Warn("failed to read storage index, starting empty",
				zap.String("path", ts.indexPath), zap.Error(err))
		}
		return newStorageIndex()
	}

	var idx storageIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		ts.logger.Warn("storage index is corrupt, starting empty",
			zap.String("path", ts.indexPath), zap.Error(err))
		monitoring.RecordError(string(apperrors.ErrTypeCorruptIndex))
		return newStorageIndex()
	}

	if idx.Version == "" || idx.Tracks == nil {
		ts.logger.Warn("storage index failed structure check, starting empty",
			zap.String("path", ts.indexPath))
		monitoring.RecordError(string(apperrors.ErrTypeCorruptIndex))
		return newStorageIndex()
	}

	if idx.HashBySourceID == nil {
		idx.HashBySourceID = make(map[string]string)
	}
	if idx.HashByKey == nil {
		idx.HashByKey = make(map[string]string)
	}

	return &idx
}

// saveIndexLocked persists the index atomically. Callers must hold ts.mu.
func (ts *TrackStore) saveIndexLocked() error {
	data, err := json.MarshalIndent(ts.index, "", "  ")
	if err != nil {
		return apperrors.NewFileSystemError("failed to encode storage index", err)
	}

	tmpPath := ts.indexPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return apperrors.NewFileSystemError("failed to write storage index", err)
	}
	if err := os.Rename(tmpPath, ts.indexPath); err != nil {
		os.Remove(tmpPath)
		return apperrors.NewFileSystemError("failed to replace storage index", err)
	}
	return nil
}

// ComputeHash streams the file through SHA-256 and returns the truncated
// hex digest used as the storage key.
func (ts *TrackStore) ComputeHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", apperrors.NewFileSystemError("failed to open file for hashing", err)
	}
	defer f.Close()

	hasher := sha256.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(hasher, f, buf); err != nil {
		return "", apperrors.NewFileSystemError("failed to hash file", err)
	}

	return hex.EncodeToString(hasher.Sum(nil))[:hashPrefixLength], nil
}

// Store places sourcePath's content into deduplicated storage for playlistID.
// If the content is already stored, the playlist reference is added
// idempotently and isNew is false. A failed copy returns a StorageWriteError
// and leaves the index untouched.
func (ts *TrackStore) Store(sourcePath string, meta track.Meta, playlistID string) (hash string, isNew bool, err error) {
	hash, err = ts.ComputeHash(sourcePath)
	if err != nil {
		return "", false, err
	}

	ext := strings.ToLower(filepath.Ext(sourcePath))
	if ext == "" {
		ext = ".mp3"
	}
	storageFile := filepath.Join(ts.storagePath, hash+ext)

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if existing, ok := ts.index.Tracks[hash]; ok {
		if !containsString(existing.ReferencedBy, playlistID) {
			existing.ReferencedBy = append(existing.ReferencedBy, playlistID)
			existing.ReferenceCount = len(existing.ReferencedBy)
		}
		if err := ts.saveIndexLocked(); err != nil {
			return "", false, err
		}
		monitoring.RecordStore(false)
		return hash, false, nil
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		return "", false, apperrors.NewStorageWriteError("source file unreadable", err)
	}

	if err := copyFile(sourcePath, storageFile); err != nil {
		os.Remove(storageFile)
		return "", false, apperrors.NewStorageWriteError("failed to copy track into storage", err)
	}

	rec := &StoredTrack{
		Hash:           hash,
		Filename:       hash + ext,
		OriginalName:   filepath.Base(sourcePath),
		SizeBytes:      info.Size(),
		Artist:         defaultString(meta.Artist, "Unknown"),
		Title:          defaultString(meta.Title, "Unknown"),
		Album:          meta.Album,
		SourceID:       meta.SourceID,
		DownloadedAt:   time.Now().Format(time.RFC3339),
		ReferenceCount: 1,
		ReferencedBy:   []string{playlistID},
	}
	ts.index.Tracks[hash] = rec

	if meta.SourceID != "" {
		ts.index.HashBySourceID[meta.SourceID] = hash
	}
	ts.index.HashByKey[track.KeyFor(meta.Artist, meta.Title)] = hash

	if err := ts.saveIndexLocked(); err != nil {
		return "", false, err
	}

	ts.logger.Debug("stored new track",
		zap.String("hash", hash),
		zap.String("title", rec.Title),
		zap.String("playlist", playlistID))
	monitoring.RecordStore(true)

	return hash, true, nil
}

// AddReference registers playlistID against an already-stored hash without
// re-copying any content. Used when a sync reuses a track another playlist
// already downloaded. Returns false for unknown hashes.
func (ts *TrackStore) AddReference(hash, playlistID string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	rec, ok := ts.index.Tracks[hash]
	if !ok {
		return false
	}

	if !containsString(rec.ReferencedBy, playlistID) {
		rec.ReferencedBy = append(rec.ReferencedBy, playlistID)
		rec.ReferenceCount = len(rec.ReferencedBy)
		if err := ts.saveIndexLocked(); err != nil {
			ts.logger.Error("failed to persist storage index", zap.Error(err))
		}
	}
	return true
}

// RemoveReference drops playlistID's reference on hash. Unknown hashes and
// non-referencing playlists are a no-op returning false, keeping cleanup
// idempotent. Returns true only when the last reference went away and the
// backing file was deleted.
func (ts *TrackStore) RemoveReference(hash, playlistID string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	rec, ok := ts.index.Tracks[hash]
	if !ok {
		return false
	}

	removed := false
	for i, id := range rec.ReferencedBy {
		if id == playlistID {
			rec.ReferencedBy = append(rec.ReferencedBy[:i], rec.ReferencedBy[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		rec.ReferenceCount = len(rec.ReferencedBy)
	}

	if rec.ReferenceCount == 0 {
		storageFile := filepath.Join(ts.storagePath, rec.Filename)
		if err := os.Remove(storageFile); err != nil && !os.IsNotExist(err) {
			ts.logger.Error("failed to delete unreferenced track file",
				zap.String("hash", hash), zap.Error(err))
		}

		if rec.SourceID != "" {
			delete(ts.index.HashBySourceID, rec.SourceID)
		}
		delete(ts.index.HashByKey, track.KeyFor(rec.Artist, rec.Title))
		delete(ts.index.Tracks, hash)

		if err := ts.saveIndexLocked(); err != nil {
			ts.logger.Error("failed to persist storage index", zap.Error(err))
		}
		return true
	}

	if removed {
		if err := ts.saveIndexLocked(); err != nil {
			ts.logger.Error("failed to persist storage index", zap.Error(err))
		}
	}
	return false
}

// StoragePath returns the canonical file path for a stored hash.
func (ts *TrackStore) StoragePath(hash string) (string, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	rec, ok := ts.index.Tracks[hash]
	if !ok {
		return "", false
	}
	return filepath.Join(ts.storagePath, rec.Filename), true
}

// TrackInfo returns a copy of the stored metadata record for a hash.
func (ts *TrackStore) TrackInfo(hash string) (StoredTrack, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	rec, ok := ts.index.Tracks[hash]
	if !ok {
		return StoredTrack{}, false
	}
	cp := *rec
	cp.ReferencedBy = append([]string(nil), rec.ReferencedBy...)
	return cp, true
}

// FindBySourceID looks up a stored hash by external track id.
func (ts *TrackStore) FindBySourceID(sourceID string) (string, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	hash, ok := ts.index.HashBySourceID[sourceID]
	return hash, ok
}

// FindByTrackKey looks up a stored hash by normalized artist/title key.
func (ts *TrackStore) FindByTrackKey(artist, title string) (string, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	hash, ok := ts.index.HashByKey[track.KeyFor(artist, title)]
	return hash, ok
}

// CreatePlaylistLink materializes a stored track inside a playlist folder
// under displayName. Symlink is tried first, then hardlink, then a full copy;
// the copy forfeits deduplication for that one pair but stays functionally
// transparent. Any existing file at the destination is replaced.
func (ts *TrackStore) CreatePlaylistLink(hash, playlistFolder, displayName string) bool {
	source, ok := ts.StoragePath(hash)
	if !ok {
		ts.logger.Warn("link requested for unknown hash", zap.String("hash", hash))
		return false
	}
	if _, err := os.Stat(source); err != nil {
		ts.logger.Warn("source file missing for hash",
			zap.String("hash", hash), zap.Error(err))
		return false
	}

	if err := os.MkdirAll(playlistFolder, 0755); err != nil {
		ts.logger.Error("failed to create playlist folder", zap.Error(err))
		return false
	}

	target := filepath.Join(playlistFolder, displayName)
	if _, err := os.Lstat(target); err == nil {
		if err := os.Remove(target); err != nil {
			ts.logger.Warn("failed to remove existing playlist file",
				zap.String("target", target), zap.Error(err))
		}
	}

	if err := os.Symlink(source, target); err == nil {
		monitoring.RecordLinkCreation("symlink")
		return true
	} else {
		ts.logger.Debug("symlink failed, trying hardlink", zap.Error(err))
	}

	if err := os.Link(source, target); err == nil {
		monitoring.RecordLinkCreation("hardlink")
		return true
	} else {
		ts.logger.Debug("hardlink failed, falling back to copy", zap.Error(err))
	}

	if err := copyFile(source, target); err != nil {
		ts.logger.Error("all link strategies failed",
			zap.String("hash", hash), zap.String("target", target), zap.Error(err))
		monitoring.RecordError(string(apperrors.ErrTypeLinkCreation))
		return false
	}
	monitoring.RecordLinkCreation("copy")
	return true
}

// GetStats computes deduplication statistics and updates the storage gauges.
func (ts *TrackStore) GetStats() Stats {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	var s Stats
	s.UniqueTracks = len(ts.index.Tracks)
	for _, rec := range ts.index.Tracks {
		s.TotalReferences += rec.ReferenceCount
		s.ActualBytes += rec.SizeBytes
		s.LogicalBytes += rec.SizeBytes * int64(rec.ReferenceCount)
	}

	s.SavingsBytes = s.LogicalBytes - s.ActualBytes
	if s.LogicalBytes > 0 {
		s.SavingsPercent = round1(float64(s.SavingsBytes) / float64(s.LogicalBytes) * 100)
	}
	s.ActualMB = round2(float64(s.ActualBytes) / 1024 / 1024)
	s.LogicalMB = round2(float64(s.LogicalBytes) / 1024 / 1024)
	s.SavingsMB = round2(float64(s.SavingsBytes) / 1024 / 1024)

	monitoring.RecordStorageStats(s.UniqueTracks, s.ActualBytes, s.LogicalBytes)
	return s
}

// VerifyIntegrity checks that every indexed hash still has its backing file.
func (ts *TrackStore) VerifyIntegrity() IntegrityReport {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	report := IntegrityReport{MissingHashes: []string{}}
	for hash, rec := range ts.index.Tracks {
		if _, err := os.Stat(filepath.Join(ts.storagePath, rec.Filename)); err == nil {
			report.ValidCount++
		} else {
			report.MissingCount++
			report.MissingHashes = append(report.MissingHashes, hash)
		}
	}
	return report
}

// CleanupOrphans deletes audio files in the storage directory that no index
// entry claims, e.g. leftovers from a crashed copy. Returns the number
// removed.
func (ts *TrackStore) CleanupOrphans() int {
	ts.mu.Lock()
	tracked := make(map[string]bool, len(ts.index.Tracks))
	for _, rec := range ts.index.Tracks {
		tracked[rec.Filename] = true
	}
	ts.mu.Unlock()

	entries, err := os.ReadDir(ts.storagePath)
	if err != nil {
		ts.logger.Error("failed to scan storage directory", zap.Error(err))
		return 0
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !track.IsAudioFile(name) || tracked[name] {
			continue
		}
		if err := os.Remove(filepath.Join(ts.storagePath, name)); err != nil {
			ts.logger.Error("failed to remove orphan file",
				zap.String("file", name), zap.Error(err))
			continue
		}
		removed++
		ts.logger.Info("removed orphan file", zap.String("file", name))
	}
	return removed
}

// StorageDir returns the absolute storage directory path.
func (ts *TrackStore) StorageDir() string {
	return ts.storagePath
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func round1(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
