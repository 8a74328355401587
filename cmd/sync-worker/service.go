package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/catalog-sync/pkg/logger"
)

const defaultShutdownTimeout = 15 * time.Second

type runner interface {
	Run(ctx context.Context) error
}

type waiter interface {
	Wait()
}

type namedPinger struct {
	name string
	ping func(context.Context) error
}

type ServiceParams struct {
	Logger          *logger.Logger
	Consumer        runner
	Sidecar         runner
	Notifier        waiter
	Server          *http.Server
	Dependencies    []namedPinger
	ShutdownTimeout time.Duration
}

// Service runs the pull loop, the audit sidecar and the health server until the
// context is cancelled.
type Service struct {
	logg            *logger.Logger
	consumer        runner
	sidecar         runner
	notifier        waiter
	server          *http.Server
	dependencies    []namedPinger
	shutdownTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("consumer is required")
	}
	if params.Sidecar == nil {
		return nil, errors.New("audit sidecar is required")
	}
	timeout := params.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	return &Service{
		logg:            params.Logger,
		consumer:        params.Consumer,
		sidecar:         params.Sidecar,
		notifier:        params.Notifier,
		server:          params.Server,
		dependencies:    params.Dependencies,
		shutdownTimeout: timeout,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.dependencies {
		if err := pingDependency(ctx, s.logg, dep.name, dep.ping); err != nil {
			return err
		}
	}
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until ctx is cancelled or a component fails. The sidecar is stopped last
// so records produced by the final batch are still written.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	sidecarCtx, stopSidecar := context.WithCancel(context.WithoutCancel(ctx))
	sidecarDone := make(chan struct{})
	go func() {
		defer close(sidecarDone)
		if err := s.sidecar.Run(sidecarCtx); err != nil {
			s.logg.Error(ctx, "audit sidecar stopped", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.consumer.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if s.server != nil {
		g.Go(func() error {
			s.logg.Info(s.logg.WithField(ctx, "addr", s.server.Addr), "health server listening")
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
			defer cancel()
			if err := s.server.Shutdown(shutdownCtx); err != nil {
				s.logg.Error(ctx, "health server shutdown failed", err)
			}
			return nil
		})
	}

	err := g.Wait()

	if s.notifier != nil {
		s.notifier.Wait()
	}
	stopSidecar()
	<-sidecarDone

	s.logg.Info(ctx, "sync worker stopped")
	return err
}
