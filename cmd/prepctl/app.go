package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Skotchmaster/interview_prep/internal/apiclient"
	"github.com/Skotchmaster/interview_prep/internal/events"
	"github.com/Skotchmaster/interview_prep/internal/session"
	"github.com/Skotchmaster/interview_prep/internal/tokenstore"
	"github.com/Skotchmaster/interview_prep/pkg/config"
	"github.com/Skotchmaster/interview_prep/pkg/db"
)

// app is everything one prepctl invocation needs.
type app struct {
	cfg    config.Config
	log    *slog.Logger
	store  *tokenstore.Store
	client *apiclient.Client
	ctrl   *session.Controller

	closers []func()
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*app, error) {
	a := &app{cfg: cfg, log: logger}

	durable, err := a.durableBackend(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	// session-only logins live as long as the process, like a browser tab
	a.store = tokenstore.New(tokenstore.NewMemory(), durable)

	a.client = apiclient.New(cfg.APIBaseURL, a.store, apiclient.WithTimeout(cfg.HTTPTimeout))
	metrics := session.NewMetrics(reg)
	refresher := session.NewRefresher(a.store, a.client, session.WithRefresherMetrics(metrics))
	a.client.SetRefresher(refresher)

	a.ctrl = session.NewController(a.store, a.client, refresher, session.Options{
		RefreshInterval:  cfg.RefreshInterval,
		RefreshThreshold: cfg.RefreshThreshold,
		Logger:           logger,
		Metrics:          metrics,
	})
	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		fwd := events.NewForwarder(pub, logger, 0)
		unsubscribe := a.ctrl.Subscribe(fwd.Handle)
		a.closers = append(a.closers, func() {
			unsubscribe()
			fwd.Close()
			_ = pub.Close()
		})
	}
	// closers run in reverse: the refresh loop stops before the forwarder
	// it may still emit into
	a.closers = append(a.closers, a.ctrl.Close)
	return a, nil
}

// durableBackend picks redis when REDIS_ADDR is set, a sqlite file otherwise.
func (a *app) durableBackend(ctx context.Context) (tokenstore.Backend, error) {
	if a.cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		return tokenstore.NewRedisBackend(rdb, "prepctl:session:"), nil
	}

	path := a.cfg.SessionDBPath
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}
	gdb, err := db.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { closeDB(gdb) })
	b, err := tokenstore.NewGormBackend(ctx, gdb)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func closeDB(gdb *gorm.DB) {
	_ = db.Close(gdb)
}
