package main

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"os/signal"
	"samplecore/internal/app"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMetricsCmd(g *globalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Serve operation metrics over HTTP until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return g.withApp(ctx, func(a *app.App) error {
				if listen == "" {
					listen = a.Config.Metrics.Listen
				}
				return serveMetrics(ctx, a, listen)
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address; defaults to metrics.listen")
	return cmd
}

func metricsHandler(a *app.App) http.Handler {
	mux := http.NewServeMux()
	if a.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(a.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", expvar.Handler())
	}
	return mux
}

func serveMetrics(ctx context.Context, a *app.App, listen string) error {
	srv := &http.Server{Addr: listen, Handler: metricsHandler(a), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	a.Logger.Info("serving metrics", zap.String("addr", listen))
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
