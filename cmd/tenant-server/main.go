// Package main runs the tenant platform API server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tenantunion/tenant-platform/pkg/audit"
	"github.com/tenantunion/tenant-platform/pkg/authz"
	"github.com/tenantunion/tenant-platform/pkg/buildings"
	"github.com/tenantunion/tenant-platform/pkg/cache"
	"github.com/tenantunion/tenant-platform/pkg/config"
	"github.com/tenantunion/tenant-platform/pkg/db"
	"github.com/tenantunion/tenant-platform/pkg/grants"
	"github.com/tenantunion/tenant-platform/pkg/server"
)

func main() {
	var (
		configFile string
		envFile    string
		listenAddr string
	)

	flag.StringVar(&configFile, "config", "", "Path to YAML config file")
	flag.StringVar(&envFile, "env-file", ".env", "Path to .env file loaded at startup")
	flag.StringVar(&listenAddr, "listen", "", "Address to listen on (overrides config)")
	flag.Parse()

	// glog reports fatal startup errors on stderr.
	_ = flag.Set("logtostderr", "true")

	cfg, loader, err := config.Load(config.Options{ConfigFile: configFile, EnvFile: envFile})
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("starting tenant server",
		"listen", cfg.Listen,
		"dbType", cfg.DB.Type,
		"identity", cfg.Identity.Mode,
		"migrate", cfg.DB.MigrateMode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	gormDB, err := db.Open(db.Config{
		Type:            cfg.DB.Type,
		DSN:             cfg.DB.DSN,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		LogLevel:        gormLevel(cfg.LogLevel),
	})
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	buildingStore := buildings.NewStore(gormDB, cfg.Store.OpTimeout)
	auditStore := audit.NewStore(gormDB, cfg.Store.OpTimeout)
	grantStore := grants.NewStore(gormDB, grants.WithTimeout(cfg.Store.OpTimeout))

	if err := db.Migrate(ctx, gormDB, cfg.DB.MigrateMode, logger, buildingStore, grantStore); err != nil {
		glog.Fatalf("Failed to migrate database: %v", err)
	}

	superusers, err := authz.NewSuperusersFromSource(loader.SuperuserSource())
	if err != nil {
		glog.Fatalf("Failed to load superusers: %v", err)
	}

	identity, err := identityMiddleware(cfg.Identity, logger)
	if err != nil {
		glog.Fatalf("Failed to configure identity: %v", err)
	}

	routes, err := authz.NewRouteTable(cfg.Guard.Routes)
	if err != nil {
		glog.Fatalf("Invalid guard routes: %v", err)
	}

	srv := server.New(gormDB, grantStore, auditStore, buildingStore, superusers,
		server.WithLogger(logger),
		server.WithIdentity(identity),
		server.WithRouteTable(routes),
		server.WithLookupCache(cache.NewLRUCache[string, string](cfg.LookupCache.Size, cfg.LookupCache.TTL)),
		server.WithCORSOrigins(cfg.CORS.AllowedOrigins),
	)

	go grants.NewSweeper(grantStore, cfg.Sweeper.Interval, cfg.Sweeper.Grace, logger).Run(ctx)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start HTTP server in goroutine
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.Info("tenant server ready", "listen", cfg.Listen, "superusers", len(superusers.Emails()))

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info("tenant server stopped")
}

func identityMiddleware(cfg config.IdentityConfig, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	ic := authz.IdentityConfig{
		Mode:       authz.IdentityMode(cfg.Mode),
		HMACSecret: []byte(cfg.HMACSecret),
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		Logger:     logger,
	}
	if cfg.PublicKeyPath != "" {
		key, err := authz.LoadRSAPublicKey(cfg.PublicKeyPath)
		if err != nil {
			return nil, err
		}
		ic.PublicKey = key
	}
	return authz.IdentityMiddleware(ic)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// gormLevel keeps SQL logging quiet unless the server runs at debug.
func gormLevel(s string) gormlogger.LogLevel {
	if strings.EqualFold(s, "debug") {
		return gormlogger.Info
	}
	return gormlogger.Warn
}
