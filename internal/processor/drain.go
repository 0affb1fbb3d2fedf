package processor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/datanadhi/agent/internal/config"
	"github.com/datanadhi/agent/internal/dropped"
	"github.com/datanadhi/agent/internal/metrics"
	"github.com/datanadhi/agent/internal/queue"
	"github.com/datanadhi/agent/internal/sinks"
)

const (
	drainStartThreshold     = 0.90
	drainStopThreshold      = 0.10
	drainBatchSize          = 100
	drainWaitAttempts       = 100
	drainWaitPollInterval   = 100 * time.Millisecond
	drainUnavailableBackoff = 100 * time.Millisecond
)

// healthCheckFunc matches sinks.PrimaryClient.IsHealthy's signature so the
// drain worker can reuse whichever probe the processor already has.
type healthCheckFunc func(ctx context.Context, endpoint string) bool

// drainWorker drains the queue to the fallback sink under sustained
// backpressure. At most one drain loop runs at a time; it starts at 90%
// fill and runs until the queue falls to 10%.
type drainWorker struct {
	q        *queue.SafeQueue
	fallback *sinks.FallbackClient
	healthFn healthCheckFunc
	cfg      config.Resolved
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	running bool
}

func newDrainWorker(q *queue.SafeQueue, fallback *sinks.FallbackClient, healthFn healthCheckFunc, cfg config.Resolved, logger *slog.Logger, m *metrics.Metrics) *drainWorker {
	return &drainWorker{q: q, fallback: fallback, healthFn: healthFn, cfg: cfg, logger: logger, metrics: m}
}

// StartIfNeeded starts the drain loop if the queue is at or above 90% full
// and no drain loop is already running. It returns whether it started one.
func (d *drainWorker) StartIfNeeded() bool {
	if d.q.FillPercentage() < drainStartThreshold {
		return false
	}

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return false
	}
	d.running = true
	d.mu.Unlock()

	go d.loop()
	return true
}

func (d *drainWorker) loop() {
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	d.logger.Debug("drain worker started", "queue_fill", d.q.FillPercentage())

	for d.q.FillPercentage() > drainStopThreshold {
		if !d.waitForHealthyFallback() {
			d.logger.Error("drain worker stopped, fallback unreachable", "server", d.cfg.FallbackServerHost)
			break
		}

		items := d.q.GetBatch(drainBatchSize)
		if len(items) == 0 {
			break
		}

		payloads := make([]map[string]any, len(items))
		for i, it := range items {
			payloads[i] = map[string]any{"pipelines": it.Pipelines, "log_data": it.Payload}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
		result := d.fallback.Send(ctx, payloads)
		cancel()

		switch {
		case result.Success:
			for range items {
				d.q.TaskDone()
			}
			d.logger.Debug("drain worker sent batch", "batch_size", len(items))

		case result.IsUnavailable:
			d.q.WritebackBatch(items)
			d.logger.Warn("drain worker: fallback unavailable, retrying", "server", d.cfg.FallbackServerHost)
			time.Sleep(drainUnavailableBackoff)

		default:
			d.metrics.DroppedEvents.WithLabelValues("drain_worker_failed").Add(float64(len(items)))
			filePath, err := dropped.Store(d.cfg.Dir, items, "drain_worker_failed", time.Now())
			for range items {
				d.q.TaskDone()
			}
			if err != nil {
				d.logger.Error("drain worker failed to persist dropped data", "error", err)
			} else {
				d.logger.Error("drain worker batch failed, data dropped", "status_code", result.StatusCode, "batch_size", len(items), "file", filePath)
			}
		}
	}

	d.logger.Debug("drain worker stopped", "queue_fill", d.q.FillPercentage())
}

// waitForHealthyFallback polls the fallback endpoint until healthFn reports
// it up or drainWaitAttempts are exhausted (roughly 10 seconds).
func (d *drainWorker) waitForHealthyFallback() bool {
	ctx := context.Background()
	for i := 0; i < drainWaitAttempts; i++ {
		if d.healthFn(ctx, d.cfg.FallbackServerHost) {
			return true
		}
		time.Sleep(drainWaitPollInterval)
	}
	return false
}
