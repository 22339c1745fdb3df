package storage

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/settings"
	"github.com/bsv-blockchain/blobstore/stores/blob"
	"github.com/bsv-blockchain/blobstore/stores/blob/options"
	"github.com/bsv-blockchain/blobstore/ulogger"
)

// StoreFactory opens the object store behind a backend URL.
type StoreFactory func(ctx context.Context, logger ulogger.Logger, storeURL *url.URL, opts ...options.StoreOption) (blob.Store, error)

// BackendSpec describes how the object store of a namespace is assembled.
// It is one of DirectBackend, PrefixedBackend or ChainedBackend.
type BackendSpec interface {
	backendSpec()
}

// DirectBackend is a configured backend opened from its URL.
type DirectBackend struct {
	ID  string
	URL *url.URL
}

// PrefixedBackend places every key of Inner under Prefix.
type PrefixedBackend struct {
	Prefix string
	Inner  BackendSpec
}

// ChainedBackend writes to Primary and reads from Secondary when Primary misses.
type ChainedBackend struct {
	Primary   BackendSpec
	Secondary BackendSpec
}

// key identifies the opened store. A backend whose url changes is opened again.
func (d DirectBackend) key() string {
	return d.ID + "@" + d.URL.String()
}

func (DirectBackend) backendSpec()   {}
func (PrefixedBackend) backendSpec() {}
func (ChainedBackend) backendSpec()  {}

// NamespaceBackendSpec builds the spec of a namespace, following secondary backends recursively.
func NamespaceBackendSpec(cfg *settings.StorageConfig, ns *settings.NamespaceConfig) (BackendSpec, error) {
	spec, err := backendSpec(cfg, ns.Backend, map[string]struct{}{})
	if err != nil {
		return nil, err
	}

	if ns.Prefix != "" {
		spec = PrefixedBackend{Prefix: ns.Prefix, Inner: spec}
	}

	return spec, nil
}

func backendSpec(cfg *settings.StorageConfig, backendID string, visited map[string]struct{}) (BackendSpec, error) {
	if _, ok := visited[backendID]; ok {
		return nil, errors.NewConfigurationError("backend %q is its own secondary", backendID)
	}

	visited[backendID] = struct{}{}

	backendConfig, ok := cfg.FindBackend(backendID)
	if !ok {
		return nil, errors.NewConfigurationError("backend %q is not defined", backendID)
	}

	storeURL, err := url.Parse(backendConfig.URL)
	if err != nil {
		return nil, errors.NewConfigurationError("backend %q has an invalid url", backendID, err)
	}

	var spec BackendSpec = DirectBackend{ID: backendID, URL: storeURL}

	if backendConfig.Secondary != "" {
		secondary, err := backendSpec(cfg, backendConfig.Secondary, visited)
		if err != nil {
			return nil, err
		}

		spec = ChainedBackend{Primary: spec, Secondary: secondary}
	}

	return spec, nil
}

// namespaceSnapshot is the immutable result of resolving one configuration revision.
// stores is keyed by DirectBackend.key.
type namespaceSnapshot struct {
	revision string
	config   *settings.StorageConfig
	backends map[string]*Backend
	stores   map[string]blob.Store
}

// Resolver maps namespace ids to backends. The snapshot is rebuilt when the configuration revision
// changes, readers never wait for a rebuild that is not theirs.
type Resolver struct {
	server   *Server
	logger   ulogger.Logger
	factory  StoreFactory
	mu       sync.Mutex
	snapshot atomic.Pointer[namespaceSnapshot]
}

func newResolver(server *Server, factory StoreFactory) *Resolver {
	return &Resolver{
		server:  server,
		logger:  server.logger,
		factory: factory,
	}
}

// Get returns the backend of a namespace, errors.ErrNamespaceNotFound if it is not configured
// or could not be built.
func (r *Resolver) Get(ctx context.Context, namespaceID string) (*Backend, error) {
	snapshot, err := r.current(ctx)
	if err != nil {
		return nil, err
	}

	backend, ok := snapshot.backends[namespaceID]
	if !ok {
		return nil, errors.NewNamespaceNotFoundError("namespace %s is not configured", namespaceID)
	}

	return backend, nil
}

// Namespaces returns the ids of the namespaces resolved from the current configuration.
func (r *Resolver) Namespaces(ctx context.Context) ([]string, error) {
	snapshot, err := r.current(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(snapshot.backends))

	for _, ns := range snapshot.config.Namespaces {
		if _, ok := snapshot.backends[ns.ID]; ok {
			ids = append(ids, ns.ID)
		}
	}

	return ids, nil
}

func (r *Resolver) current(ctx context.Context) (*namespaceSnapshot, error) {
	cfg := r.server.config.Current()
	if cfg == nil {
		return nil, errors.NewConfigurationError("no storage configuration loaded")
	}

	if snapshot := r.snapshot.Load(); snapshot != nil && snapshot.revision == cfg.Revision {
		return snapshot, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cfg = r.server.config.Current()

	if snapshot := r.snapshot.Load(); snapshot != nil && snapshot.revision == cfg.Revision {
		return snapshot, nil
	}

	old := r.snapshot.Load()

	var previous map[string]blob.Store
	if old != nil {
		previous = old.stores
	}

	snapshot := r.build(ctx, cfg, previous)
	r.snapshot.Store(snapshot)

	prometheusStorageNamespaceRebuild.Inc()

	if old != nil {
		r.logger.Infof("[Storage] namespaces rebuilt for revision %s (was %s)", cfg.Revision, old.revision)
		r.closeUnused(ctx, old, snapshot)
	}

	return snapshot, nil
}

// closeUnused closes the stores of old that the new snapshot did not carry over.
func (r *Resolver) closeUnused(ctx context.Context, old, current *namespaceSnapshot) {
	for key, store := range old.stores {
		if _, ok := current.stores[key]; ok {
			continue
		}

		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warnf("[Storage] failed to close backend %s: %v", key, err)
		}
	}
}

// build resolves every namespace of cfg. Stores of previous whose backend and url are unchanged
// are reused.
func (r *Resolver) build(ctx context.Context, cfg *settings.StorageConfig, previous map[string]blob.Store) *namespaceSnapshot {
	snapshot := &namespaceSnapshot{
		revision: cfg.Revision,
		config:   cfg,
		backends: make(map[string]*Backend, len(cfg.Namespaces)),
		stores:   make(map[string]blob.Store),
	}

	o := opener{resolver: r, previous: previous, stores: snapshot.stores}

	for i := range cfg.Namespaces {
		ns := cfg.Namespaces[i]

		spec, err := NamespaceBackendSpec(cfg, &ns)
		if err != nil {
			r.logger.Errorf("[Storage][%s] unable to resolve backend: %v", ns.ID, err)
			continue
		}

		store, err := o.open(ctx, spec)
		if err != nil {
			r.logger.Errorf("[Storage][%s] unable to open backend %s: %v", ns.ID, ns.Backend, err)
			continue
		}

		snapshot.backends[ns.ID] = newBackend(r.server, ns, store, cfg.EnableGcVerification)
	}

	return snapshot
}

type opener struct {
	resolver *Resolver
	previous map[string]blob.Store
	stores   map[string]blob.Store
}

// open builds the store of a spec. Direct backends are opened once per snapshot and shared
// by every namespace using them.
func (o *opener) open(ctx context.Context, spec BackendSpec) (blob.Store, error) {
	switch s := spec.(type) {
	case DirectBackend:
		key := s.key()

		if store, ok := o.stores[key]; ok {
			return store, nil
		}

		store, ok := o.previous[key]
		if !ok {
			var err error

			if store, err = o.resolver.factory(ctx, o.resolver.logger, s.URL); err != nil {
				return nil, err
			}
		}

		o.stores[key] = store

		return store, nil

	case PrefixedBackend:
		inner, err := o.open(ctx, s.Inner)
		if err != nil {
			return nil, err
		}

		return blob.NewPrefixedStore(inner, s.Prefix), nil

	case ChainedBackend:
		primary, err := o.open(ctx, s.Primary)
		if err != nil {
			return nil, err
		}

		secondary, err := o.open(ctx, s.Secondary)
		if err != nil {
			return nil, err
		}

		return blob.NewChainedStore(primary, secondary), nil

	default:
		return nil, errors.NewConfigurationError("unsupported backend spec %T", spec)
	}
}

// Close closes the stores of the current snapshot.
func (r *Resolver) Close(ctx context.Context) error {
	snapshot := r.snapshot.Load()
	if snapshot == nil {
		return nil
	}

	var errs []error

	for key, store := range snapshot.stores {
		if err := store.Close(ctx); err != nil {
			errs = append(errs, errors.NewStorageError("failed to close backend %s", key, err))
		}
	}

	return errors.Join(errs...)
}
