package settings

import (
	"time"
)

func NewSettings() *Settings {
	return &Settings{
		ServiceName:       getString("SERVICE_NAME", "blobstore"),
		LogLevel:          getString("logLevel", "INFO"),
		PrettyLogs:        getBool("PRETTY_LOGS", true),
		DataFolder:        getString("dataFolder", "data"),
		PrometheusAddress: getString("prometheusAddress", ":9091"),
		ProfilerEnabled:   getBool("profilerEnabled", false),
		Tracing: TracingSettings{
			Enabled:      getBool("tracing_enabled", false),
			CollectorURL: getURL("tracing_collector_url", "http://localhost:4318"),
			SampleRate:   getFloat64("tracing_SampleRate", 0.01),
		},
		SQL: SQLSettings{
			PostgresMaxIdleConns: getInt("postgres_maxIdleConns", 10),
			PostgresMaxOpenConns: getInt("postgres_maxOpenConns", 80),
		},
		Storage: StorageSettings{
			MetaStoreURL:           getURL("storage_metaStore", "sqlite:///blobstore"),
			CheckSetURL:            getURL("storage_checkSet", "memory:///"),
			LockURL:                getURL("storage_lock", "memory:///"),
			ConfigFile:             getString("storage_configFile", "storage.yaml"),
			ConfigPollInterval:     getDuration("storage_configPollInterval", 30*time.Second),
			BlobTickInterval:       getDuration("storage_blobTickInterval", 5*time.Minute),
			RefTickInterval:        getDuration("storage_refTickInterval", 5*time.Minute),
			GcTickInterval:         getDuration("storage_gcTickInterval", 5*time.Minute),
			LengthScanTickInterval: getDuration("storage_lengthScanTickInterval", 5*time.Minute),
			SharedTickerLockTTL:    getDuration("storage_sharedTickerLockTTL", 10*time.Minute),
			GcLockTimeout:          getDuration("storage_gcLockTimeout", 20*time.Minute),
			GcIngestGracePeriod:    getDuration("storage_gcIngestGracePeriod", 12*time.Hour),
			GcIngestBatchSize:      getInt("storage_gcIngestBatchSize", 500),
			GcMaxCheckSetLength:    getInt64("storage_gcMaxCheckSetLength", 50000),
			GcIngestMaxBackoff:     getDuration("storage_gcIngestMaxBackoff", 128*time.Second),
			GcProducerBatchSize:    getInt("storage_gcProducerBatchSize", 1024),
			GcQueueSize:            getInt("storage_gcQueueSize", 128),
			GcWorkers:              getInt("storage_gcWorkers", 8),
			GcDefaultFrequency:     getDuration("storage_gcDefaultFrequency", 24*time.Hour),
			GcCheckBatchSize:       getInt("storage_gcCheckBatchSize", 256),
			GcCheckBatchDuration:   getDuration("storage_gcCheckBatchDuration", 10*time.Millisecond),
			RefExpiryBatchSize:     getInt("storage_refExpiryBatchSize", 1000),
			LengthScanGracePeriod:  getDuration("storage_lengthScanGracePeriod", 30*time.Minute),
			LengthScanBatchSize:    getInt("storage_lengthScanBatchSize", 2000),
			LengthScanQueueSize:    getInt("storage_lengthScanQueueSize", 1000),
			LengthScanWorkers:      getInt("storage_lengthScanWorkers", 8),
			LengthScanRateLimit:    getFloat64("storage_lengthScanRateLimit", 0),
			RefCacheTTL:            getDuration("storage_refCacheTTL", 5*time.Minute),
			RefCacheCapacity:       getUint64("storage_refCacheCapacity", 100_000),
		},
	}
}
