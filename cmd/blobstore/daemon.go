package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/services/storage"
	"github.com/bsv-blockchain/blobstore/settings"
	checksetfactory "github.com/bsv-blockchain/blobstore/stores/checkset/factory"
	lockfactory "github.com/bsv-blockchain/blobstore/stores/lock/factory"
	"github.com/bsv-blockchain/blobstore/stores/meta/sql"
	"github.com/bsv-blockchain/blobstore/tracing"
	"github.com/bsv-blockchain/blobstore/ulogger"
	"github.com/bsv-blockchain/blobstore/util/servicemanager"
	"github.com/felixge/fgprof"
	"github.com/gocarina/gocsv"
	jsoniter "github.com/json-iterator/go"
	"github.com/ordishs/gocore"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

const (
	prometheusEndpoint = "/metrics"
	profilerEndpoint   = "/debug/fgprof"
)

// daemon holds the stores a storage server is built from.
type daemon struct {
	logger   ulogger.Logger
	settings *settings.Settings
	watcher  *settings.StorageConfigWatcher
	meta     *sql.SQL
	server   *storage.Server
	closers  []func() error
}

func newDaemon(ctx context.Context) (*daemon, error) {
	appSettings := settings.NewSettings()

	logger := ulogger.New(appSettings.ServiceName,
		ulogger.WithLevel(appSettings.LogLevel),
		ulogger.WithPretty(appSettings.PrettyLogs),
	)

	d := &daemon{
		logger:   logger,
		settings: appSettings,
	}

	watcher, err := settings.NewStorageConfigWatcher(logger, appSettings.Storage.ConfigFile, appSettings.Storage.ConfigPollInterval)
	if err != nil {
		return nil, err
	}

	d.watcher = watcher

	metaStore, err := sql.New(logger, appSettings.Storage.MetaStoreURL, appSettings)
	if err != nil {
		return nil, err
	}

	d.meta = metaStore
	d.closers = append(d.closers, metaStore.Close)

	checkSet, err := checksetfactory.New(ctx, logger, appSettings.Storage.CheckSetURL)
	if err != nil {
		d.close()
		return nil, err
	}

	d.closers = append(d.closers, checkSet.Close)

	locker, err := lockfactory.New(ctx, logger, appSettings.Storage.LockURL)
	if err != nil {
		d.close()
		return nil, err
	}

	d.closers = append(d.closers, locker.Close)

	d.server = storage.New(logger, appSettings, watcher, metaStore, checkSet, locker)

	return d, nil
}

func (d *daemon) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warnf("failed to close store: %v", err)
		}
	}
}

func serve(c *cli.Context) error {
	ctx := c.Context

	d, err := newDaemon(ctx)
	if err != nil {
		return err
	}

	defer d.close()

	d.logger.Infof("STATS\n%s\nVERSION\n-------\n%s (%s)\n\n", gocore.Config().Stats(), version, commit)

	if d.settings.Tracing.Enabled {
		if err = tracing.InitTracer(ctx, d.settings); err != nil {
			d.logger.Warnf("failed to initialize tracer: %v", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				_ = tracing.ShutdownTracer(shutdownCtx)
			}()
		}
	}

	sm := servicemanager.NewServiceManager(ctx, d.logger)
	sm.HandleSignals()

	sm.AddService("StorageConfig", &configWatcherService{watcher: d.watcher})
	sm.AddService("Storage", d.server)
	sm.AddService("HTTP", &httpService{
		logger:   d.logger,
		address:  d.settings.PrometheusAddress,
		profiler: d.settings.ProfilerEnabled,
		health:   sm.HealthHandler,
	})

	return sm.Wait()
}

func reset(c *cli.Context) error {
	if !c.Bool("gc") && !c.Bool("length-scan") {
		return errors.NewInvalidArgumentError("nothing to reset, pass --gc and/or --length-scan")
	}

	d, err := newDaemon(c.Context)
	if err != nil {
		return err
	}

	defer d.close()

	if c.Bool("gc") {
		if err = d.server.RequestGcReset(c.Context); err != nil {
			return err
		}

		d.logger.Infof("gc reset requested, ingestion restarts from the first blob on its next tick")
	}

	if c.Bool("length-scan") {
		if err = d.server.RequestLengthScanReset(c.Context); err != nil {
			return err
		}

		d.logger.Infof("length scan reset requested")
	}

	return nil
}

func stats(c *cli.Context) error {
	d, err := newDaemon(c.Context)
	if err != nil {
		return err
	}

	defer d.close()

	s, err := d.server.GetStats(c.Context)
	if err != nil {
		return err
	}

	if c.Bool("csv") {
		return writeStatsCSV(os.Stdout, s)
	}

	encoder := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	return encoder.Encode(s)
}

type namespaceStatsRow struct {
	Namespace      string `csv:"namespace"`
	CheckSetLength int64  `csv:"check_set_length"`
	LastGcTime     string `csv:"last_gc_time"`
	GcStatus       string `csv:"gc_status"`
}

// writeStatsCSV writes one row per namespace. A namespace that was never swept has an empty
// last_gc_time.
func writeStatsCSV(w io.Writer, s *storage.Stats) error {
	rows := make([]*namespaceStatsRow, 0, len(s.Namespaces))

	for _, ns := range s.Namespaces {
		row := &namespaceStatsRow{
			Namespace:      ns.ID,
			CheckSetLength: ns.CheckSetLength,
			GcStatus:       ns.GcStatus,
		}

		if !ns.LastGcTime.IsZero() {
			row.LastGcTime = ns.LastGcTime.UTC().Format(time.RFC3339)
		}

		rows = append(rows, row)
	}

	return gocsv.Marshal(rows, w)
}

// configWatcherService polls the storage configuration file for the lifetime of the process.
type configWatcherService struct {
	watcher *settings.StorageConfigWatcher
}

func (s *configWatcherService) Health(_ context.Context, _ bool) (int, string, error) {
	return http.StatusOK, fmt.Sprintf("revision %s", s.watcher.Current().Revision), nil
}

func (s *configWatcherService) Init(_ context.Context) error {
	return nil
}

func (s *configWatcherService) Start(ctx context.Context) error {
	return s.watcher.Start(ctx)
}

func (s *configWatcherService) Stop(_ context.Context) error {
	return nil
}

// httpService serves prometheus metrics and the aggregated health of all services.
type httpService struct {
	logger   ulogger.Logger
	address  string
	profiler bool
	health   func(ctx context.Context, checkLiveness bool) (int, string, error)
	server   *http.Server
}

func (s *httpService) Health(_ context.Context, _ bool) (int, string, error) {
	return http.StatusOK, "OK", nil
}

func (s *httpService) Init(_ context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(prometheusEndpoint, promhttp.Handler())
	mux.HandleFunc("/health/liveness", s.healthHandler(true))
	mux.HandleFunc("/health/readiness", s.healthHandler(false))

	if s.profiler {
		mux.Handle(profilerEndpoint, fgprof.Handler())
	}

	s.server = &http.Server{
		Addr:              s.address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}

func (s *httpService) healthHandler(checkLiveness bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, details, err := s.health(r.Context(), checkLiveness)
		if err != nil {
			s.logger.Errorf("health check failed: %v", err)
		}

		w.WriteHeader(status)
		_, _ = w.Write([]byte(details))
	}
}

func (s *httpService) Start(ctx context.Context) error {
	s.logger.Infof("Starting prometheus endpoint on %s%s", s.address, prometheusEndpoint)

	errCh := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.NewServiceError("http server failed", err)
		}

		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-errCh:
		if ok {
			return err
		}

		return nil
	}
}

func (s *httpService) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}
