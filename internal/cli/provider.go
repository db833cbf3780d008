package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alex-user-go/slotfinder/internal/obs"
	"github.com/alex-user-go/slotfinder/internal/providers/mock"
)

type providerOptions struct {
	kind        string
	addr        string
	seed        int64
	latency     time.Duration
	failureRate float64
}

func newProviderCmd(opts *rootOptions) *cobra.Command {
	po := &providerOptions{}

	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Serve a simulated provider over HTTP for the http connector",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			ln, err := net.Listen("tcp", po.addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", po.addr, err)
			}
			return serveProvider(ctx, ln, po, logger)
		},
	}

	cmd.Flags().StringVar(&po.kind, "kind", "square", "provider to simulate: square or vagaro")
	cmd.Flags().StringVar(&po.addr, "addr", ":9001", "listen address")
	cmd.Flags().Int64Var(&po.seed, "seed", 0, "random seed, 0 for a random one")
	cmd.Flags().DurationVar(&po.latency, "latency", 50*time.Millisecond, "simulated response time")
	cmd.Flags().Float64Var(&po.failureRate, "failure-rate", 0, "probability in [0,1] of answering 503")
	return cmd
}

func newProviderMux(po *providerOptions, logger *zap.Logger) (*http.ServeMux, error) {
	mockOpts := []mock.Option{
		mock.WithLatency(po.latency),
		mock.WithFailureRate(po.failureRate),
		mock.WithLogger(logger),
	}
	if po.seed != 0 {
		mockOpts = append(mockOpts, mock.WithSeed(po.seed))
	}
	p, err := mock.New(po.kind, mockOpts...)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("GET /slots", p)
	mux.HandleFunc("GET /healthz", obs.HealthHandler(logger))
	return mux, nil
}

func serveProvider(ctx context.Context, ln net.Listener, po *providerOptions, logger *zap.Logger) error {
	mux, err := newProviderMux(po, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     zap.NewStdLog(logger),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting provider", zap.String("kind", po.kind), zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down provider")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
