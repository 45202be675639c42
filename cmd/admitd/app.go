package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toolink/admit/config"
	"github.com/toolink/admit/events"
	"github.com/toolink/admit/intercept"
	"github.com/toolink/admit/limiter"
	"github.com/toolink/admit/presets"
	"github.com/toolink/admit/store"
)

// app is the dependency root: everything is built here once and passed down.
type app struct {
	cfg    config.Config
	store  store.Store
	engine *limiter.Engine
	sink   events.Sink   // what guards emit to
	reader events.Reader // where the events command reads from
}

// newApp loads configuration and builds the store, engine and event sink.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := setupLogging(cfg.Log); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	switch cfg.Storage.Type {
	case config.StorageRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Storage.Redis.Addr()},
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		st, err := store.NewRedisStore(client, store.WithTimeout(cfg.Storage.Timeout))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		sink, err := events.NewRedisSink(client, cfg.Events.ListKey, cfg.Events.MaxLen)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		a.store, a.reader = st, sink
		a.sink = events.NewAsync(sink, events.DefaultQueueSize, cfg.Storage.Timeout)
	default:
		mem := events.NewMemorySink(int(cfg.Events.MaxLen))
		a.store, a.reader = store.NewMemoryStore(store.WithTimeout(cfg.Storage.Timeout)), mem
		a.sink = mem
	}

	a.engine, err = limiter.NewEngine(a.store,
		limiter.WithKeyPrefix(cfg.Storage.KeyPrefix),
		limiter.WithRetries(cfg.Storage.Retries, 0),
	)
	if err != nil {
		_ = a.store.Close()
		return nil, err
	}

	log.Debug().
		Str("storage", cfg.Storage.Type).
		Str("key_prefix", cfg.Storage.KeyPrefix).
		Dur("store_timeout", cfg.Storage.Timeout).
		Msg("admission engine ready")
	return a, nil
}

// keys picks how presets identify callers. Forward-auth checks always come
// from the proxy, so by default the caller is taken from the headers it sets.
func (a *app) keys() presets.Keys {
	if !a.cfg.Server.TrustProxyHeaders {
		return presets.Keys{Address: intercept.RemoteIP}
	}
	return presets.Keys{
		Address: intercept.ForwardedAddress(a.cfg.Server.AddressHeader),
		Account: intercept.HeaderAccount(a.cfg.Server.AccountHeader),
	}
}

// presets returns the defaults merged with the optional presets file.
func (a *app) presets() ([]presets.Preset, error) {
	keys := a.keys()
	list := presets.Defaults(keys)
	if a.cfg.PresetsFile == "" {
		return list, nil
	}
	overrides, err := presets.LoadOverrides(a.cfg.PresetsFile)
	if err != nil {
		return nil, err
	}
	return presets.Apply(list, overrides, keys)
}

// close releases the sink, then the store it may share a client with.
func (a *app) close() {
	if err := a.sink.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close event sink")
	}
	if err := a.store.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close store")
	}
}

func setupLogging(cfg config.LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return nil
}

// adminContext bounds one-shot admin commands.
func adminContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout+5*time.Second)
}
