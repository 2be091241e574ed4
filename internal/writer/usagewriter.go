package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nulpointcorp/llmur-gateway/internal/dispatch"
	"github.com/nulpointcorp/llmur-gateway/internal/usage"
)

const usageChannelBuffer = 10_000

// UsageWriter batches dispatch.UsageEvent entries and applies them via
// usage.IncrementAll, the 48-key admission counter protocol (§4.2.5). Its
// default batch/flush window is much tighter than the request-log writer's
// (10 events / 50ms vs 500 / 750ms) since a stale counter directly delays
// admission checks for every subsequent request against the same node.
type UsageWriter struct {
	ch        chan dispatch.UsageEvent
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	engine        *usage.Engine
	batchSize     int
	flushInterval time.Duration

	baseCtx context.Context
	log     *slog.Logger
}

func NewUsageWriter(ctx context.Context, engine *usage.Engine, batchSize int, flushEvery time.Duration, log *slog.Logger) *UsageWriter {
	if batchSize <= 0 {
		batchSize = 10
	}
	if flushEvery <= 0 {
		flushEvery = 50 * time.Millisecond
	}
	w := &UsageWriter{
		ch:            make(chan dispatch.UsageEvent, usageChannelBuffer),
		done:          make(chan struct{}),
		engine:        engine,
		batchSize:     batchSize,
		flushInterval: flushEvery,
		baseCtx:       ctx,
		log:           log,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *UsageWriter) Chan() chan<- dispatch.UsageEvent {
	return w.ch
}

func (w *UsageWriter) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	return nil
}

func (w *UsageWriter) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]dispatch.UsageEvent, 0, w.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			if err := usage.IncrementAll(w.baseCtx, w.engine, ev.Now, ev.Cost, 1, ev.Tokens,
				ev.VirtualKeyID.String(), ev.DeploymentID.String(), ev.ConnectionID.String(), ev.ProjectID.String()); err != nil {
				w.log.ErrorContext(w.baseCtx, "usage_increment_failed", slog.String("error", err.Error()),
					slog.String("virtual_key_id", ev.VirtualKeyID.String()))
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-w.ch:
			batch = append(batch, ev)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			for {
				select {
				case ev := <-w.ch:
					batch = append(batch, ev)
					if len(batch) >= w.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
