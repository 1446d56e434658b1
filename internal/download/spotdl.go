// Package download wraps the external spotDL tool. Each track is downloaded
// into a private temp directory; the caller moves the result into
// content-addressed storage and the temp directory is discarded either way.
package download

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/swimsync/swimsync-go/internal/errors"
	"github.com/swimsync/swimsync-go/internal/monitoring"
	"github.com/swimsync/swimsync-go/internal/track"
)

// Options configure a Downloader.
type Options struct {
	SpotdlPath       string
	Format           string // "mp3" or "flac"
	Bitrate          string // e.g. "320k"
	Timeout          time.Duration
	MinValidFileSize int64
}

// Result describes a completed download. Path points into a temp directory
// owned by the caller via Cleanup.
type Result struct {
	Path      string
	SizeBytes int64
	Cleanup   func()
}

// Downloader runs spotDL for single tracks.
type Downloader struct {
	opts   Options
	logger *zap.Logger
}

// NewDownloader creates a Downloader, applying defaults for unset options.
func NewDownloader(opts Options, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SpotdlPath == "" {
		opts.SpotdlPath = "spotdl"
	}
	if opts.Format == "" {
		opts.Format = "mp3"
	}
	if opts.Bitrate == "" {
		opts.Bitrate = "320k"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.MinValidFileSize <= 0 {
		opts.MinValidFileSize = 100 * 1024
	}
	return &Downloader{opts: opts, logger: logger}
}

// Download fetches one track into a fresh temp directory and returns the
// produced audio file. spotDL's output naming is not byte-exact, so the temp
// directory is polled for any audio file rather than expecting a specific
// name. Cancelling ctx terminates the spotDL process.
func (d *Downloader) Download(ctx context.Context, meta track.Meta) (*Result, error) {
	tempDir, err := os.MkdirTemp("", "swimsync_")
	if err != nil {
		return nil, apperrors.NewFileSystemError("failed to create temp directory", err)
	}
	cleanup := func() { os.RemoveAll(tempDir) }

	query := meta.URL
	if query == "" {
		query = meta.Artist + " - " + meta.Title
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.opts.SpotdlPath,
		"download", query,
		"--output", filepath.Join(tempDir, "{artist} - {title}"),
		"--format", d.opts.Format,
		"--bitrate", d.opts.Bitrate,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	d.logger.Debug("running spotdl",
		zap.String("query", query), zap.String("format", d.opts.Format))

	runErr := cmd.Run()

	file, size := FindDownloadedFile(tempDir)
	if file == "" {
		cleanup()
		monitoring.RecordDownload("failed", 0)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperrors.NewDownloadError(
				fmt.Sprintf("download timed out for %q", meta.Title), ctx.Err())
		}
		if ctx.Err() == context.Canceled {
			return nil, apperrors.NewDownloadError("download cancelled", ctx.Err())
		}
		if isNoResults(stderr.String()) {
			return nil, apperrors.NewDownloadError(
				fmt.Sprintf("no matching audio found for %q", meta.Title), nil)
		}
		return nil, apperrors.NewDownloadError(
			fmt.Sprintf("no file produced for %q", meta.Title), runErr)
	}

	if size < d.opts.MinValidFileSize {
		cleanup()
		monitoring.RecordDownload("failed", 0)
		return nil, apperrors.NewDownloadError(
			fmt.Sprintf("downloaded file too small (%d bytes) for %q", size, meta.Title), nil)
	}

	monitoring.RecordDownload("success", size)
	return &Result{Path: file, SizeBytes: size, Cleanup: cleanup}, nil
}

// FindDownloadedFile returns the first audio file in dir and its size, or
// ("", 0) when none exists.
func FindDownloadedFile(dir string) (string, int64) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0
	}
	for _, e := range entries {
		if e.IsDir() || !track.IsAudioFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		return filepath.Join(dir, e.Name()), info.Size()
	}
	return "", 0
}

func isNoResults(stderr string) bool {
	return strings.Contains(stderr, "No results found") ||
		strings.Contains(stderr, "Could not find")
}
