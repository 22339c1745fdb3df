// Package servicemanager runs a set of services: Init in registration order, Start concurrently,
// Stop in reverse order once any service fails or a shutdown signal arrives.
package servicemanager

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/ulogger"
	"github.com/bsv-blockchain/blobstore/util/health"
	"golang.org/x/sync/errgroup"
)

type Service interface {
	Health(ctx context.Context, checkLiveness bool) (int, string, error)
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type serviceWrapper struct {
	name     string
	instance Service
}

type ServiceManager struct {
	services    []serviceWrapper
	logger      ulogger.Logger
	Ctx         context.Context
	cancelFunc  context.CancelFunc
	stopTimeout time.Duration
}

func NewServiceManager(ctx context.Context, logger ulogger.Logger) *ServiceManager {
	ctx, cancelFunc := context.WithCancel(ctx)

	return &ServiceManager{
		logger:      logger,
		Ctx:         ctx,
		cancelFunc:  cancelFunc,
		stopTimeout: 10 * time.Second,
	}
}

func (sm *ServiceManager) AddService(name string, service Service) {
	sm.services = append(sm.services, serviceWrapper{
		name:     name,
		instance: service,
	})
}

// Shutdown cancels the context every service was started with.
func (sm *ServiceManager) Shutdown() {
	sm.cancelFunc()
}

// HandleSignals cancels the manager on SIGINT or SIGTERM.
func (sm *ServiceManager) HandleSignals() {
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

		select {
		case <-sigs:
			sm.logger.Infof("Received shutdown signal. Stopping services...")
			sm.cancelFunc()
		case <-sm.Ctx.Done():
		}

		signal.Stop(sigs)
	}()
}

// Wait initialises and starts every service and blocks until they have all returned.
// The first error of any service stops all others and is returned.
func (sm *ServiceManager) Wait() error {
	for _, service := range sm.services {
		if err := sm.Ctx.Err(); err != nil {
			return err
		}

		sm.logger.Infof("Initializing service %s...", service.name)

		if err := service.instance.Init(sm.Ctx); err != nil {
			return errors.NewServiceError("failed to init service %s", service.name, err)
		}
	}

	g, ctx := errgroup.WithContext(sm.Ctx)

	for _, service := range sm.services {
		s := service

		sm.logger.Infof("Starting service %s...", s.name)

		g.Go(func() error {
			if err := s.instance.Start(ctx); err != nil && !errors.IsCanceled(err) {
				return errors.NewServiceError("service %s failed", s.name, err)
			}

			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		sm.logger.Errorf("Received error: %v", err)
	}

	for i := len(sm.services) - 1; i >= 0; i-- {
		service := sm.services[i]

		stopCtx, stopCancel := context.WithTimeout(context.Background(), sm.stopTimeout)

		sm.logger.Infof("Stopping service %s...", service.name)

		if stopErr := service.instance.Stop(stopCtx); stopErr != nil {
			sm.logger.Warnf("[%s] Failed to stop service: %v", service.name, stopErr)
		} else {
			sm.logger.Infof("[%s] Service stopped gracefully", service.name)
		}

		stopCancel()
	}

	sm.logger.Infof("All services stopped.")

	return err
}

// HealthHandler aggregates the health of every registered service. The service is
// unavailable as soon as one of them is.
func (sm *ServiceManager) HealthHandler(ctx context.Context, checkLiveness bool) (int, string, error) {
	checks := make([]health.Check, 0, len(sm.services))

	for _, service := range sm.services {
		checks = append(checks, health.Check{Name: service.name, Check: service.instance.Health})
	}

	return health.CheckAll(ctx, checkLiveness, checks)
}
