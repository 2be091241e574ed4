package proxy

import (
	"context"
	"sync"
	"time"
)

const healthProbeInterval = 30 * time.Second
const healthProbeTimeout = 5 * time.Second

// componentStatus holds the last known health result for one component.
type componentStatus struct {
	mu     sync.RWMutex
	status string // "ok" | "degraded" | "down"
}

func (s *componentStatus) set(v string) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

func (s *componentStatus) get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == "" {
		return "unknown"
	}
	return s.status
}

// HealthChecker runs background probes against the relational store and the
// optional Redis client and exposes the latest results for /healthz and
// /readyz. Grounded on the teacher's probe/ticker/Snapshot shape; the
// per-provider probe map is dropped since liveness here depends on the two
// backing stores, not on any upstream LLM provider.
type HealthChecker struct {
	dbReady    func(ctx context.Context) bool
	redisReady func(ctx context.Context) bool

	dbStatus    componentStatus
	redisStatus componentStatus

	startTime time.Time
	baseCtx   context.Context
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewHealthChecker creates a HealthChecker and immediately starts background
// probes. redisReady may be nil when Redis is not configured.
func NewHealthChecker(ctx context.Context, dbReady func(context.Context) bool, redisReady func(context.Context) bool) *HealthChecker {
	if ctx == nil {
		panic("healthchecker: context must not be nil")
	}
	hc := &HealthChecker{
		dbReady:    dbReady,
		redisReady: redisReady,
		startTime:  time.Now(),
		done:       make(chan struct{}),
		baseCtx:    ctx,
	}

	// Run first probe synchronously so health is not "unknown" immediately.
	hc.probe()

	hc.wg.Add(1)
	go hc.run()

	return hc
}

// HealthSnapshot returns the current health state for all components.
type HealthSnapshot struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Database      string `json:"database"`
	Redis         string `json:"redis"`
}

func (hc *HealthChecker) Snapshot() HealthSnapshot {
	db := hc.dbStatus.get()
	redis := hc.redisStatus.get()

	overall := "ok"
	if db != "ok" || redis != "ok" {
		overall = "degraded"
	}

	return HealthSnapshot{
		Status:        overall,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Database:      db,
		Redis:         redis,
	}
}

// ReadinessOK returns true when the relational store is reachable. Redis is
// optional admission-counter acceleration (§4.2.5 falls back to the
// relational store), so a down Redis alone does not fail readiness.
func (hc *HealthChecker) ReadinessOK() bool {
	return hc.dbStatus.get() == "ok"
}

func (hc *HealthChecker) Close() {
	close(hc.done)
	hc.wg.Wait()
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probe()
		case <-hc.done:
			return
		}
	}
}

func (hc *HealthChecker) probe() {
	ctx, cancel := context.WithTimeout(hc.baseCtx, healthProbeTimeout)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if hc.dbReady == nil || hc.dbReady(ctx) {
			hc.dbStatus.set("ok")
		} else {
			hc.dbStatus.set("down")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if hc.redisReady == nil {
			hc.redisStatus.set("ok")
			return
		}
		if hc.redisReady(ctx) {
			hc.redisStatus.set("ok")
		} else {
			hc.redisStatus.set("degraded")
		}
	}()

	wg.Wait()
}
