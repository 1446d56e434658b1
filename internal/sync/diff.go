// Package sync reconciles a freshly fetched playlist against the local
// manifest and on-disk files, then executes the resulting plan: download
// what is new or suspect, release what was removed.
package sync

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/swimsync/swimsync-go/internal/manifest"
	"github.com/swimsync/swimsync-go/internal/monitoring"
	"github.com/swimsync/swimsync-go/internal/track"
)

// Suspect reasons. Suspects are diagnostics, not failures: they are
// re-queued for download automatically.
const (
	ReasonFileMissing = "File missing from disk"
)

// QueuedTrack is a track the sync loop must download. SuspectReason is
// non-empty when a previous copy must be deleted first.
type QueuedTrack struct {
	Meta          track.Meta
	SuspectReason string
}

// Diff partitions the fetched playlist against local state.
type Diff struct {
	New      []QueuedTrack
	Existing []track.Meta
	Suspect  []QueuedTrack
	Removed  []manifest.Entry
}

// Downloads returns the combined download queue: new tracks plus suspects.
func (d Diff) Downloads() []QueuedTrack {
	out := make([]QueuedTrack, 0, len(d.New)+len(d.Suspect))
	out = append(out, d.New...)
	out = append(out, d.Suspect...)
	return out
}

// ComputeDiff classifies every fetched track as existing, suspect or new,
// and every manifest entry absent from the fetch as removed.
//
// The manifest is reconciled with the folder before the removed set is
// computed; skipping that step would make hand-deleted files reappear as
// "removed" on every future diff. Classification itself uses the
// pre-reconciliation entries so a track whose file vanished still surfaces
// as suspect rather than silently degrading to new.
func ComputeDiff(mf *manifest.Store, folder string, playlistTracks []track.Meta, minValidSize int64) Diff {
	localByKey := make(map[string]manifest.Entry)
	for _, e := range mf.Tracks() {
		localByKey[e.Key()] = e
	}

	mf.SyncWithFolder()
	mf.Save()
	localEntries := mf.Tracks()

	fileSizes := scanFolderSizes(folder)

	var diff Diff
	playlistKeys := make(map[string]bool, len(playlistTracks))

	for _, meta := range playlistTracks {
		key := meta.Key()
		playlistKeys[key] = true

		var stem string
		if entry, ok := localByKey[key]; ok {
			stem = fileStem(entry.Filename)
		} else {
			stem = fileStem(meta.DisplayFilename(".mp3"))
		}
		size, onDisk := fileSizes[stem]

		switch {
		case !onDisk && localByKey[key].Filename != "":
			monitoring.RecordSuspect("missing")
			diff.Suspect = append(diff.Suspect, QueuedTrack{Meta: meta, SuspectReason: ReasonFileMissing})
		case !onDisk:
			diff.New = append(diff.New, QueuedTrack{Meta: meta})
		case size < minValidSize:
			monitoring.RecordSuspect("too_small")
			diff.Suspect = append(diff.Suspect, QueuedTrack{
				Meta:          meta,
				SuspectReason: fmt.Sprintf("File too small (%dKB)", size/1024),
			})
		default:
			diff.Existing = append(diff.Existing, meta)
		}
	}

	for _, e := range localEntries {
		if !playlistKeys[e.Key()] {
			diff.Removed = append(diff.Removed, e)
		}
	}

	return diff
}

// scanFolderSizes maps lowercase normalized filename stems to sizes. Symlinks
// are followed; broken links are treated as absent.
func scanFolderSizes(folder string) map[string]int64 {
	sizes := make(map[string]int64)
	entries, err := os.ReadDir(folder)
	if err != nil {
		return sizes
	}
	for _, e := range entries {
		if e.IsDir() || !track.IsAudioFile(e.Name()) {
			continue
		}
		info, err := os.Stat(filepath.Join(folder, e.Name()))
		if err != nil {
			continue
		}
		sizes[fileStem(e.Name())] = info.Size()
	}
	return sizes
}

// fileStem lowercases and normalizes a filename with its extension removed,
// so manifest names and disk names compare loosely.
func fileStem(filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	return strings.ToLower(track.NormalizeText(stem))
}
