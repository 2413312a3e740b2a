package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SourceSearchesTotal tracks source searches by provider and outcome
	SourceSearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundrift_source_searches_total",
			Help: "Total number of source searches",
		},
		[]string{"provider", "outcome"},
	)

	// SourceSearchDuration tracks search duration per provider
	SourceSearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soundrift_source_search_duration_seconds",
			Help:    "Source search duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// FileListLoadsTotal tracks file-list loads by source kind and outcome
	FileListLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundrift_file_list_loads_total",
			Help: "Total number of file-list loads",
		},
		[]string{"kind", "outcome"},
	)

	// DownloadsTotal tracks download attempts by source kind and terminal state
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundrift_downloads_total",
			Help: "Total number of download attempts",
		},
		[]string{"kind", "outcome"},
	)

	// DownloadDuration tracks time from download start to terminal state
	DownloadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soundrift_download_duration_seconds",
			Help:    "Download duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"kind"},
	)

	// ActiveDownloads tracks downloads currently in flight
	ActiveDownloads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "soundrift_active_downloads",
			Help: "Number of active downloads",
		},
	)

	// DedupHitsTotal tracks requests answered from the in-flight or completed
	// cache instead of doing new work, by namespace
	DedupHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundrift_dedup_hits_total",
			Help: "Requests deduplicated against in-flight or cached work",
		},
		[]string{"namespace"},
	)

	// SelectionWritesTotal tracks durable selection writes by outcome
	SelectionWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundrift_selection_writes_total",
			Help: "Total number of source-selection store writes",
		},
		[]string{"outcome"},
	)

	// ProgressEventsTotal tracks aggregated fetcher events by stream and type
	ProgressEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundrift_progress_events_total",
			Help: "Lifecycle events consumed by the progress aggregator",
		},
		[]string{"stream", "type"},
	)
)

// ObserveSearch records one provider search
func ObserveSearch(provider string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	SourceSearchesTotal.WithLabelValues(provider, outcome).Inc()
	SourceSearchDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

// ObserveDownload records one download reaching a terminal state
func ObserveDownload(kind, outcome string, start time.Time) {
	DownloadsTotal.WithLabelValues(kind, outcome).Inc()
	DownloadDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
