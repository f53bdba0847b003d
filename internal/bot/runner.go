// internal/bot/runner.go
package bot

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-papertrader/internal/bot/ui"
)

// Runner drives a Service until a signal, a quit command or a failure.
type Runner struct {
	logger     *zap.Logger
	service    *Service
	trading    *TradingService
	input      io.Reader
	shutdownCh chan os.Signal
}

// NewRunner creates a runner. A nil input disables the console.
func NewRunner(service *Service, input io.Reader, logger *zap.Logger) *Runner {
	return &Runner{
		logger:     logger,
		service:    service,
		trading:    NewTradingService(service, logger),
		input:      input,
		shutdownCh: make(chan os.Signal, 1),
	}
}

// Run blocks until shutdown and then closes the service.
func (r *Runner) Run(ctx context.Context) error {
	signal.Notify(r.shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(r.shutdownCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case sig := <-r.shutdownCh:
			r.logger.Info("Signal received", zap.String("signal", sig.String()))
			cancel()
		case <-runCtx.Done():
		}
	}()

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error { return r.service.Run(gCtx) })
	if r.input != nil {
		g.Go(func() error { return r.console(gCtx, cancel) })
	}

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	closeErr := r.service.Close(context.Background())
	return errors.Join(runErr, closeErr)
}

func (r *Runner) console(ctx context.Context, stop context.CancelFunc) error {
	h := ui.NewHandler(ctx, r.input, r.logger)
	h.Start()
	defer h.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-h.Events():
			if ev.Type == ui.ExitRequested {
				r.logger.Info("Exit requested")
				stop()
				return nil
			}
			if err := r.trading.Execute(ctx, ev.Data); err != nil {
				r.logger.Warn("Command failed", zap.String("command", ev.Data), zap.Error(err))
			}
		}
	}
}
