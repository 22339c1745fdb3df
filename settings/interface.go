package settings

import (
	"net/url"
	"time"
)

type Settings struct {
	ServiceName       string
	LogLevel          string
	PrettyLogs        bool
	DataFolder        string
	PrometheusAddress string
	// ProfilerEnabled serves wall clock profiles on /debug/fgprof next to the metrics
	ProfilerEnabled bool
	Tracing         TracingSettings
	Storage         StorageSettings
	SQL             SQLSettings
}

type TracingSettings struct {
	Enabled      bool
	CollectorURL *url.URL
	SampleRate   float64
}

type SQLSettings struct {
	PostgresMaxIdleConns int
	PostgresMaxOpenConns int
}

type StorageSettings struct {
	// MetaStoreURL selects the metadata database: postgres://, sqlite:/// or sqlitememory:///
	MetaStoreURL *url.URL
	// CheckSetURL selects the GC check-set backend: redis://, redis-cluster://, redis-ring:// or memory://
	CheckSetURL *url.URL
	// LockURL selects the distributed lock backend, same schemes as CheckSetURL
	LockURL *url.URL

	ConfigFile         string
	ConfigPollInterval time.Duration

	BlobTickInterval       time.Duration
	RefTickInterval        time.Duration
	GcTickInterval         time.Duration
	LengthScanTickInterval time.Duration
	SharedTickerLockTTL    time.Duration

	GcLockTimeout       time.Duration
	GcIngestGracePeriod time.Duration
	GcIngestBatchSize   int
	GcMaxCheckSetLength int64
	GcIngestMaxBackoff  time.Duration
	GcProducerBatchSize int
	GcQueueSize         int
	GcWorkers           int
	GcDefaultFrequency  time.Duration
	// GcCheckBatchSize groups check-set adds of unreferenced blobs, 0 adds them one by one
	GcCheckBatchSize      int
	GcCheckBatchDuration  time.Duration
	RefExpiryBatchSize    int
	LengthScanGracePeriod time.Duration
	LengthScanBatchSize   int
	LengthScanQueueSize   int
	LengthScanWorkers     int
	// LengthScanRateLimit caps object store size queries per second, 0 disables the limit
	LengthScanRateLimit float64

	RefCacheTTL      time.Duration
	RefCacheCapacity uint64
}
