package sync

import (
	"fmt"
	"time"
)

// Track statuses reported through the Notifier.
const (
	StatusDownloading = "Downloading"
	StatusDownloaded  = "Downloaded"
	StatusFailed      = "Failed"
	StatusDeleting    = "Deleting"
	StatusDeleted     = "Deleted"
)

// Progress is one step of a running sync, suitable for a polling UI.
type Progress struct {
	Current    int           `json:"current"`
	Total      int           `json:"total"`
	TrackName  string        `json:"track_name"`
	Status     string        `json:"status"`
	FileSizeMB float64       `json:"file_size_mb"`
	SpeedMBps  float64       `json:"speed_mbps"`
	Elapsed    time.Duration `json:"elapsed_seconds"`
	TotalBytes int64         `json:"total_bytes"`
}

// Notifier receives progress updates from the sync loop. Implementations
// must not block; updates are delivered from the sync worker goroutine.
type Notifier interface {
	Notify(p Progress)
}

// NopNotifier discards all updates.
type NopNotifier struct{}

func (NopNotifier) Notify(Progress) {}

// FuncNotifier adapts a plain function to the Notifier interface.
type FuncNotifier func(p Progress)

func (f FuncNotifier) Notify(p Progress) { f(p) }

// FormatSpeed renders a throughput figure for display.
func FormatSpeed(mbps float64) string {
	if mbps < 0.001 {
		return "< 1 KB/s"
	}
	if mbps < 1 {
		return fmt.Sprintf("%.1f KB/s", mbps*1024)
	}
	return fmt.Sprintf("%.1f MB/s", mbps)
}

// FormatETA renders a seconds figure for display.
func FormatETA(seconds int) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
	}
}
