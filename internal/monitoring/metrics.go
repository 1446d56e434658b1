package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TracksStoredTotal tracks content store writes by result (new, deduplicated)
	TracksStoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swimsync_tracks_stored_total",
			Help: "Total number of store operations by result",
		},
		[]string{"result"},
	)

	// StorageUniqueTracks tracks the number of unique tracks in the content store
	StorageUniqueTracks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swimsync_storage_unique_tracks",
			Help: "Number of unique tracks in content-addressed storage",
		},
	)

	// StorageActualBytes tracks actual bytes on disk in the content store
	StorageActualBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swimsync_storage_actual_bytes",
			Help: "Actual bytes on disk in content-addressed storage",
		},
	)

	// StorageLogicalBytes tracks logical bytes (size times reference count)
	StorageLogicalBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swimsync_storage_logical_bytes",
			Help: "Logical bytes across all playlist references",
		},
	)

	// LinkCreationsTotal tracks playlist link creation by strategy used
	LinkCreationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swimsync_link_creations_total",
			Help: "Total playlist link creations by strategy",
		},
		[]string{"strategy"},
	)

	// SyncsTotal tracks sync runs by outcome
	SyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swimsync_syncs_total",
			Help: "Total number of sync runs",
		},
		[]string{"outcome"},
	)

	// SyncDuration tracks sync run duration in seconds
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swimsync_sync_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
		},
	)

	// DownloadsTotal tracks track downloads by status
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swimsync_downloads_total",
			Help: "Total number of track downloads",
		},
		[]string{"status"},
	)

	// DownloadBytesTotal tracks total bytes downloaded
	DownloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swimsync_download_bytes_total",
			Help: "Total bytes downloaded",
		},
	)

	// SuspectTracksTotal tracks tracks re-queued by the validity heuristic
	SuspectTracksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swimsync_suspect_tracks_total",
			Help: "Total tracks classified as suspect",
		},
		[]string{"reason"},
	)

	// FetchesTotal tracks playlist fetches by strategy and status
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swimsync_fetches_total",
			Help: "Total playlist fetch attempts",
		},
		[]string{"strategy", "status"},
	)

	// ErrorsTotal tracks errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swimsync_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

// RecordStore records a content store write
func RecordStore(isNew bool) {
	if isNew {
		TracksStoredTotal.WithLabelValues("new").Inc()
	} else {
		TracksStoredTotal.WithLabelValues("deduplicated").Inc()
	}
}

// RecordStorageStats updates the storage gauges
func RecordStorageStats(uniqueTracks int, actualBytes, logicalBytes int64) {
	StorageUniqueTracks.Set(float64(uniqueTracks))
	StorageActualBytes.Set(float64(actualBytes))
	StorageLogicalBytes.Set(float64(logicalBytes))
}

// RecordLinkCreation records a playlist link creation by strategy
func RecordLinkCreation(strategy string) {
	LinkCreationsTotal.WithLabelValues(strategy).Inc()
}

// RecordSyncComplete records a completed sync run
func RecordSyncComplete(duration time.Duration, cancelled bool) {
	outcome := "completed"
	if cancelled {
		outcome = "cancelled"
	}
	SyncsTotal.WithLabelValues(outcome).Inc()
	SyncDuration.Observe(duration.Seconds())
}

// RecordDownload records a track download outcome
func RecordDownload(status string, bytes int64) {
	DownloadsTotal.WithLabelValues(status).Inc()
	if bytes > 0 {
		DownloadBytesTotal.Add(float64(bytes))
	}
}

// RecordSuspect records a suspect classification
func RecordSuspect(reason string) {
	SuspectTracksTotal.WithLabelValues(reason).Inc()
}

// RecordFetch records a playlist fetch attempt
func RecordFetch(strategy, status string) {
	FetchesTotal.WithLabelValues(strategy, status).Inc()
}

// RecordError records an error by type
func RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}
