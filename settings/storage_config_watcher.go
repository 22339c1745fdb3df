package settings

import (
	"context"
	"sync"
	"time"

	"github.com/bsv-blockchain/blobstore/ulogger"
	"go.uber.org/atomic"
)

// StorageConfigSource hands out the current storage configuration and notifies subscribers on every new revision.
type StorageConfigSource interface {
	Current() *StorageConfig
	Subscribe(fn func(cfg *StorageConfig)) (unsubscribe func())
}

type broadcaster struct {
	current     *atomic.Pointer[StorageConfig]
	mu          sync.Mutex
	subscribers map[int]func(*StorageConfig)
	nextID      int
}

func newBroadcaster(cfg *StorageConfig) *broadcaster {
	return &broadcaster{
		current:     atomic.NewPointer(cfg),
		subscribers: make(map[int]func(*StorageConfig)),
	}
}

func (b *broadcaster) Current() *StorageConfig {
	return b.current.Load()
}

func (b *broadcaster) Subscribe(fn func(cfg *StorageConfig)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		delete(b.subscribers, id)
	}
}

// publish stores cfg and notifies subscribers. Returns false when the revision is unchanged.
func (b *broadcaster) publish(cfg *StorageConfig) bool {
	if old := b.current.Load(); old != nil && old.Revision == cfg.Revision {
		return false
	}

	b.current.Store(cfg)

	b.mu.Lock()
	subscribers := make([]func(*StorageConfig), 0, len(b.subscribers))

	for _, fn := range b.subscribers {
		subscribers = append(subscribers, fn)
	}
	b.mu.Unlock()

	for _, fn := range subscribers {
		fn(cfg)
	}

	return true
}

// StaticStorageConfig is a StorageConfigSource updated in code, used by tests and embedded setups.
type StaticStorageConfig struct {
	*broadcaster
}

func NewStaticStorageConfig(cfg *StorageConfig) *StaticStorageConfig {
	return &StaticStorageConfig{broadcaster: newBroadcaster(cfg)}
}

// Update publishes cfg. An empty revision is replaced by a timestamp so every update counts as a change.
func (s *StaticStorageConfig) Update(cfg *StorageConfig) {
	if cfg.Revision == "" {
		cfg.Revision = time.Now().Format(time.RFC3339Nano)
	}

	s.publish(cfg)
}

// StorageConfigWatcher polls a YAML file and publishes a new configuration whenever its content changes.
type StorageConfigWatcher struct {
	*broadcaster
	logger   ulogger.Logger
	path     string
	interval time.Duration
}

func NewStorageConfigWatcher(logger ulogger.Logger, path string, interval time.Duration) (*StorageConfigWatcher, error) {
	cfg, err := LoadStorageConfig(path)
	if err != nil {
		return nil, err
	}

	logger.Infof("[StorageConfig] loaded %s, revision %s, %d backends, %d namespaces", path, cfg.Revision, len(cfg.Backends), len(cfg.Namespaces))

	return &StorageConfigWatcher{
		broadcaster: newBroadcaster(cfg),
		logger:      logger,
		path:        path,
		interval:    interval,
	}, nil
}

// Reload reads the file once and reports whether a new revision was published.
func (w *StorageConfigWatcher) Reload() (bool, error) {
	cfg, err := LoadStorageConfig(w.path)
	if err != nil {
		return false, err
	}

	changed := w.publish(cfg)
	if changed {
		w.logger.Infof("[StorageConfig] revision changed to %s", cfg.Revision)
	}

	return changed, nil
}

// Start polls until ctx is done. A broken file keeps the previous configuration.
func (w *StorageConfigWatcher) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Reload(); err != nil {
				w.logger.Errorf("[StorageConfig] failed to reload %s: %v", w.path, err)
			}
		}
	}
}
