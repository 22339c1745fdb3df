package storage

import (
	"sync"

	"github.com/bsv-blockchain/blobstore/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusStorageWriteBlob        prometheus.Histogram
	prometheusStorageReadBlob         prometheus.Histogram
	prometheusStorageWriteRef         prometheus.Histogram
	prometheusStorageReadRef          prometheus.Histogram
	prometheusStorageRefCacheHits     prometheus.Counter
	prometheusStorageRefCacheMisses   prometheus.Counter
	prometheusStorageRefsExpired      prometheus.Counter
	prometheusStorageBlobsIngested    prometheus.Counter
	prometheusStorageIngestPaused     prometheus.Counter
	prometheusStorageGcSweep          *prometheus.HistogramVec
	prometheusStorageGcChecked        *prometheus.CounterVec
	prometheusStorageGcRemoved        *prometheus.CounterVec
	prometheusStorageGcErrors         *prometheus.CounterVec
	prometheusStorageGcLockContention *prometheus.CounterVec
	prometheusStorageGcCheckBatch     *prometheus.HistogramVec
	prometheusStorageCheckSetLength   *prometheus.GaugeVec
	prometheusStorageLengthsScanned   prometheus.Counter
	prometheusStorageLengthScanErrors prometheus.Counter
	prometheusStorageNamespaceRebuild prometheus.Counter
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusStorageWriteBlob = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "write_blob",
			Help:      "Histogram of blob writes",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusStorageReadBlob = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "read_blob",
			Help:      "Histogram of blob reads",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusStorageWriteRef = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "write_ref",
			Help:      "Histogram of ref writes",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusStorageReadRef = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "read_ref",
			Help:      "Histogram of ref reads, including cache hits",
			Buckets:   util.MetricsBucketsMicroSeconds,
		},
	)

	prometheusStorageRefCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "ref_cache_hits",
			Help:      "Number of ref reads served from the cache",
		},
	)

	prometheusStorageRefCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "ref_cache_misses",
			Help:      "Number of ref reads that went to the metadata store",
		},
	)

	prometheusStorageRefsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "refs_expired",
			Help:      "Number of refs deleted because they expired",
		},
	)

	prometheusStorageBlobsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "gc_blobs_ingested",
			Help:      "Number of blobs queued for their first reachability check",
		},
	)

	prometheusStorageIngestPaused = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "gc_ingest_paused",
			Help:      "Number of times ingestion waited for a check-set to drain",
		},
	)

	prometheusStorageGcSweep = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "gc_sweep",
			Help:      "Histogram of garbage collection sweeps",
			Buckets:   util.MetricsBucketsSeconds,
		},
		[]string{"namespace"},
	)

	prometheusStorageGcChecked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "gc_checked",
			Help:      "Number of blobs checked for reachability",
		},
		[]string{"namespace"},
	)

	prometheusStorageGcRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "gc_removed",
			Help:      "Number of unreachable blobs deleted, or stamped in verification mode",
		},
		[]string{"namespace"},
	)

	prometheusStorageGcErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "gc_errors",
			Help:      "Number of check-set entries that failed and were left for the next sweep",
		},
		[]string{"namespace"},
	)

	prometheusStorageGcLockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "gc_lock_contention",
			Help:      "Number of sweeps skipped because another instance held the namespace lease",
		},
		[]string{"namespace"},
	)

	prometheusStorageGcCheckBatch = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "gc_check_batch",
			Help:      "Number of unreferenced blobs added to a check-set in one call",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"namespace"},
	)

	prometheusStorageCheckSetLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "check_set_length",
			Help:      "Last observed number of entries in a namespace check-set",
		},
		[]string{"namespace"},
	)

	prometheusStorageLengthsScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "lengths_scanned",
			Help:      "Number of blob lengths backfilled",
		},
	)

	prometheusStorageLengthScanErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "length_scan_errors",
			Help:      "Number of blobs whose length could not be read",
		},
	)

	prometheusStorageNamespaceRebuild = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blobstore",
			Subsystem: "storage",
			Name:      "namespace_rebuilds",
			Help:      "Number of times the namespace backends were rebuilt for a new configuration revision",
		},
	)
}
