// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra     — Postgres pool, optional Redis client
//  2. initDomain    — secret envelope, graph resolver, load balancer, dispatcher
//  3. initWriters   — async ClickHouse/Redis sinks (§5)
//  4. initGateway   — proxy, admin CRUD surface, health checker
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/llmur-gateway/internal/config"
	"github.com/nulpointcorp/llmur-gateway/internal/dispatch"
	"github.com/nulpointcorp/llmur-gateway/internal/graph"
	"github.com/nulpointcorp/llmur-gateway/internal/loadbalancer"
	"github.com/nulpointcorp/llmur-gateway/internal/metrics"
	"github.com/nulpointcorp/llmur-gateway/internal/proxy"
	"github.com/nulpointcorp/llmur-gateway/internal/secret"
	"github.com/nulpointcorp/llmur-gateway/internal/store"
	"github.com/nulpointcorp/llmur-gateway/internal/usage"
	"github.com/nulpointcorp/llmur-gateway/internal/writer"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	pool *pgxpool.Pool
	rdb  *redis.Client // nil when Redis is not configured — usage/graph fall back to the store

	store     *store.Store
	envelope  *secret.Envelope
	usageEng  *usage.Engine
	resolver  *graph.Resolver
	balancer  *loadbalancer.Balancer
	dispatch  *dispatch.Dispatcher

	logWriter   *writer.RequestLogWriter
	usageWriter *writer.UsageWriter

	prom   *metrics.Registry
	admin  *proxy.AdminAPI
	health *proxy.HealthChecker
	mgmt   *proxy.ManagementRoutes
	gw     *proxy.Gateway
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"domain", a.initDomain},
		{"writers", a.initWriters},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.Bool("redis_enabled", a.rdb != nil),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gw.StartWithRoutes(addr, a.mgmt)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times and from multiple goroutines.
func (a *App) Close() {
	if a.health != nil {
		a.health.Close()
		a.health = nil
	}
	if a.logWriter != nil {
		if err := a.logWriter.Close(); err != nil {
			a.log.Error("request log writer close error", slog.String("error", err.Error()))
		}
		a.logWriter = nil
	}
	if a.usageWriter != nil {
		if err := a.usageWriter.Close(); err != nil {
			a.log.Error("usage writer close error", slog.String("error", err.Error()))
		}
		a.usageWriter = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// ── Private helpers ──────────────────────────────────────────────────────────

// connectRedis parses the URL and verifies connectivity with a PING.
// Returns an error — callers decide whether to fatal or degrade.
func connectRedis(ctx context.Context, opts *redis.Options) (*redis.Client, error) {
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// redisPinger returns a probe function suitable for the HealthChecker. It
// reuses the already-connected client — no new connections are opened.
func redisPinger(rdb *redis.Client) func(context.Context) bool {
	return func(ctx context.Context) bool {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err() == nil
	}
}

// dbPinger returns a probe function suitable for the HealthChecker.
func dbPinger(pool *pgxpool.Pool) func(context.Context) bool {
	return func(ctx context.Context) bool {
		return pool.Ping(ctx) == nil
	}
}
