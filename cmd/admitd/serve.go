package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/toolink/admit/intercept"
	"github.com/toolink/admit/lifecycle"
	"github.com/toolink/admit/metrics"
	"github.com/toolink/admit/presets"
)

const shutdownTimeout = 10 * time.Second

// ServeCmd runs the public forward-auth listener and the internal listener.
type ServeCmd struct{}

// Run implements the serve command.
func (c *ServeCmd) Run() error {
	a, err := newApp()
	if err != nil {
		return err
	}

	if !a.cfg.Server.TrustProxyHeaders {
		log.Warn().Msg("proxy headers not trusted, callers behind one proxy share its address as identifier")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewPrometheus(reg, "admit")
	if err != nil {
		a.close()
		return err
	}

	list, err := a.presets()
	if err != nil {
		a.close()
		return err
	}
	guards, err := presets.Build(a.engine, list, intercept.WithRecorder(recorder), intercept.WithSink(a.sink))
	if err != nil {
		a.close()
		return fmt.Errorf("invalid rate limit presets: %w", err)
	}

	public := &http.Server{Addr: a.cfg.Server.HTTPAddr, Handler: newPublicRouter(a, guards), ReadHeaderTimeout: 5 * time.Second}
	internal := &http.Server{Addr: a.cfg.Server.MetricsAddr, Handler: newInternalRouter(a, guards, reg), ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := lifecycle.New()
	components := []lifecycle.Component{
		lifecycle.Hook{
			ID: "store",
			// requests fail open, so an unreachable store at boot is not fatal
			OnStart: func(ctx context.Context) error {
				if err := a.store.Ping(ctx); err != nil {
					log.Warn().Err(err).Msg("store not reachable at startup, serving in degraded mode")
				}
				return nil
			},
			OnStop: func(context.Context) error { return a.store.Close() },
		},
		lifecycle.Hook{
			ID:     "events",
			OnStop: func(context.Context) error { return a.sink.Close() },
		},
	}
	for _, comp := range components {
		if err := m.Register(comp); err != nil {
			a.close()
			return err
		}
	}
	if err := m.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range []*http.Server{public, internal} {
		srv := srv
		g.Go(func() error { return listenAndServe(gctx, srv) })
	}
	err = g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if stopErr := m.Stop(stopCtx); stopErr != nil {
		log.Error().Err(stopErr).Msg("shutdown completed with errors")
	}
	log.Info().Msg("admitd stopped")
	return err
}

// listenAndServe serves until ctx is done, then shuts srv down gracefully.
func listenAndServe(ctx context.Context, srv *http.Server) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown of %s failed: %w", srv.Addr, err)
	}
	return nil
}
