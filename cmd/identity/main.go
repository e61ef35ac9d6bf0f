package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/crypto/bcrypt"

	"github.com/Skotchmaster/interview_prep/internal/events"
	"github.com/Skotchmaster/interview_prep/internal/hash"
	"github.com/Skotchmaster/interview_prep/internal/identity/httpserver"
	"github.com/Skotchmaster/interview_prep/internal/identity/repo"
	"github.com/Skotchmaster/interview_prep/internal/identity/service"
	"github.com/Skotchmaster/interview_prep/internal/identity/tokens"
	"github.com/Skotchmaster/interview_prep/pkg/config"
	"github.com/Skotchmaster/interview_prep/pkg/db"
	"github.com/Skotchmaster/interview_prep/pkg/logging"
)

func main() {
	cfg := config.Load()
	if err := cfg.RequireIdentitySecrets(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.New(cfg.LogLevel).With("service", "identity")

	dsn := cfg.DatabaseURL
	if dsn == "" {
		dsn = "identity.db"
	}
	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	gdb, err := db.Open(initCtx, dsn)
	if err == nil {
		err = (&repo.GormRepo{DB: gdb}).Migrate(initCtx)
	}
	cancel()
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	defer db.Close(gdb)

	svc := &service.AuthService{
		Repo: &repo.GormRepo{DB: gdb},
		Tokens: &tokens.Issuer{
			AccessSecret:  cfg.JWTAccessSecret,
			RefreshSecret: cfg.JWTRefreshSecret,
			AccessTTL:     cfg.AccessTokenTTL,
			RefreshTTL:    cfg.RefreshTokenTTL,
		},
		Hasher: hash.Bcrypt{Cost: bcrypt.DefaultCost},
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.IdentityKafkaTopic)
		defer pub.Close()
		svc.Events = pub
		logger.Info("kafka_enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.IdentityKafkaTopic)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e := echo.New()
	e.HideBanner = true
	httpserver.Register(e, &httpserver.Deps{
		AuthHandler: &httpserver.AuthHTTP{Svc: svc, ResetURL: cfg.ResetURL},
		Logger:      logger,
		Registry:    reg,
		Ready: func() error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return sqlDB.PingContext(ctx)
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           e,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("http_listen", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_error", "error", err)
	}
	logger.Info("stopped")
}
