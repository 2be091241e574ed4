package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/redis/go-redis/v9"

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

// initInfra establishes the relational store pool and, when configured, the
// Redis client backing the usage counter engine (§4.2.5 falls back to the
// store directly when Redis is absent).
func (a *App) initInfra(ctx context.Context) error {
	pool, err := store.Connect(ctx, a.cfg.DB.DSN(), a.cfg.DB.PoolMin, a.cfg.DB.PoolMax)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	a.pool = pool
	a.store = store.New(pool)
	a.log.Info("database connected", slog.String("host", a.cfg.DB.Host), slog.String("name", a.cfg.DB.Name))

	if a.cfg.Redis.Enabled() {
		opts := &redis.Options{
			Addr:     a.cfg.Redis.Addr(),
			Username: a.cfg.Redis.User,
			Password: a.cfg.Redis.Password,
		}
		rdb, err := connectRedis(ctx, opts)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected", slog.String("addr", a.cfg.Redis.Addr()))
	} else {
		a.log.Info("redis not configured; usage counters fall back to the relational store")
	}

	return nil
}

// initDomain builds the resolve → balance chain: the secret envelope, the
// usage counter engine, the graph resolver with its local TTL cache, and the
// connection load balancer.
func (a *App) initDomain(_ context.Context) error {
	envelope, err := secret.New(a.cfg.AppSecret)
	if err != nil {
		return fmt.Errorf("secret envelope: %w", err)
	}
	a.envelope = envelope

	a.usageEng = usage.NewEngine(a.rdb, a.cfg.Graph.CounterTTL)

	cache := graph.NewLocalCache()
	a.resolver = graph.NewResolver(a.store, a.usageEng, cache, a.cfg.Graph.LocalTTL)

	a.balancer = loadbalancer.New()

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	return nil
}

// initWriters starts the two async sinks described in §5: request-log rows
// batched to ClickHouse, and usage counter increments batched to Redis. The
// dispatcher is constructed here because it needs both writer channels.
func (a *App) initWriters(ctx context.Context) error {
	var chConn clickhouse.Conn
	if a.cfg.Writers.ClickHouseDSN != "" {
		opts, err := clickhouse.ParseDSN(a.cfg.Writers.ClickHouseDSN)
		if err != nil {
			return fmt.Errorf("clickhouse dsn: %w", err)
		}
		conn, err := clickhouse.Open(opts)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		if err := conn.Ping(ctx); err != nil {
			return fmt.Errorf("clickhouse ping: %w", err)
		}
		chConn = conn
		a.log.Info("clickhouse connected", slog.String("table", a.cfg.Writers.ClickHouseTable))
	} else {
		a.log.Info("clickhouse not configured; request log writer runs with a nil sink")
	}

	a.logWriter = writer.NewRequestLogWriter(ctx, chConn, a.cfg.Writers.ClickHouseTable,
		a.cfg.Writers.LogBatchSize, a.cfg.Writers.LogFlushInterval, a.log)

	a.usageWriter = writer.NewUsageWriter(ctx, a.usageEng,
		a.cfg.Writers.UsageBatchSize, a.cfg.Writers.UsageFlushInterval, a.log)

	a.dispatch = dispatch.New(
		a.resolver,
		a.balancer,
		dispatch.NewFastHTTPClient(a.cfg.Failover.UpstreamTimeout),
		a.envelope,
		a.usageEng,
		a.log,
		a.logWriter.Chan(),
		a.usageWriter.Chan(),
		a.cfg.Failover.MaxRetries,
	)

	return nil
}

// initGateway wires the admin CRUD surface, the health checker, and the
// HTTP-facing Gateway together.
func (a *App) initGateway(ctx context.Context) error {
	a.admin = proxy.NewAdminAPI(a.store, a.envelope)

	var redisReady func(context.Context) bool
	if a.rdb != nil {
		redisReady = redisPinger(a.rdb)
	}
	a.health = proxy.NewHealthChecker(ctx, dbPinger(a.pool), redisReady)

	a.gw = proxy.NewGateway(a.dispatch, a.admin, a.health, a.prom, a.log)
	a.gw.SetCORSOrigins(a.cfg.CORSOrigins)

	a.mgmt = &proxy.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	return nil
}
