// Package lifecycle runs a set of long-lived services and coordinates their
// shutdown on signal or first error.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const ShutdownTimeout = 10 * time.Second

// Service is one long-lived component. Start blocks until the service stops
// or ctx is canceled; Stop asks for a graceful exit.
type Service interface {
	Start(context.Context) error
	Stop(context.Context) error
}

// ServiceFunc adapts a blocking run function into a Service with a no-op
// Stop, for components that exit purely on context cancellation.
type ServiceFunc func(context.Context) error

func (f ServiceFunc) Start(ctx context.Context) error { return f(ctx) }

func (ServiceFunc) Stop(context.Context) error { return nil }

// Run starts every service and blocks until a shutdown signal, a service
// error, or ctx cancellation, then stops them with a bounded timeout.
func Run(ctx context.Context, logger *zap.Logger, services ...Service) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, len(services))

	for _, svc := range services {
		go func(svc Service) {
			if err := svc.Start(ctx); err != nil {
				select {
				case errChan <- err:
				default:
					logger.Error("service error", zap.Error(err))
				}
			}
		}(svc)
	}

	return handleShutdown(ctx, cancel, logger, services, errChan)
}

func handleShutdown(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger, services []Service, errChan chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error

	select {
	case sig := <-sigChan:
		logger.Info("received signal, initiating shutdown", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("service failed, initiating shutdown", zap.Error(err))

		runErr = fmt.Errorf("service error: %w", err)
	case <-ctx.Done():
		runErr = ctx.Err()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()

	cancel()

	for _, svc := range services {
		if err := svc.Stop(shutdownCtx); err != nil {
			logger.Error("error during service shutdown", zap.Error(err))
		}
	}

	return runErr
}
