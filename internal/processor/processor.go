// Package processor implements the async delivery pipeline: a pool of
// worker goroutines draining a bounded queue and routing each event to the
// primary HTTP sink, the sidecar RPC sink, or (when the sidecar is
// disabled or failing) the batching fallback sink, guided by live health
// state.
package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/datanadhi/agent/internal/config"
	"github.com/datanadhi/agent/internal/dropped"
	"github.com/datanadhi/agent/internal/health"
	"github.com/datanadhi/agent/internal/metrics"
	"github.com/datanadhi/agent/internal/procstate"
	"github.com/datanadhi/agent/internal/queue"
	"github.com/datanadhi/agent/internal/sidecar"
	"github.com/datanadhi/agent/internal/sinks"
)

const (
	workerGetTimeout   = time.Second
	emptyQueueBackoff  = 100 * time.Millisecond
	writebackBackoff   = 10 * time.Millisecond
	fallbackBatchExtra = 99 // plus the triggering item, for a batch of 100
)

// Processor owns one directory's queue, worker pool, and drain worker.
type Processor struct {
	cfg   config.Resolved
	state *procstate.ProcessState

	q        *queue.SafeQueue
	healthM  *health.Monitor
	primary  *sinks.PrimaryClient
	fallback *sinks.FallbackClient
	drain    *drainWorker

	logger  *slog.Logger
	metrics *metrics.Metrics

	shutdown     chan struct{}
	shutdownOnce sync.Once
	workers      sync.WaitGroup
}

// New builds and starts a Processor: its worker pool begins draining the
// queue immediately.
func New(cfg config.Resolved, state *procstate.ProcessState, logger *slog.Logger, m *metrics.Metrics) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}

	p := &Processor{
		cfg:      cfg,
		state:    state,
		q:        queue.New(cfg.AsyncQueueSize),
		healthM:  health.New(logger, m),
		primary:  sinks.NewPrimaryClient(cfg.ServerHost, cfg.APIKey),
		fallback: sinks.NewFallbackClient(cfg.FallbackServerHost, cfg.APIKey),
		logger:   logger,
		metrics:  m,
		shutdown: make(chan struct{}),
	}

	p.drain = newDrainWorker(p.q, p.fallback, p.primary.IsHealthy, cfg, logger, m)
	p.ensureSidecarBinary()

	workerCount := cfg.AsyncWorkers
	if workerCount <= 0 {
		workerCount = 2
	}
	for i := 0; i < workerCount; i++ {
		p.workers.Add(1)
		go p.workerLoop()
	}

	return p
}

// Submit enqueues an already rule-matched event. It returns false if the
// queue is at capacity; the caller (the rule dispatch layer) is expected to
// treat that as a drop at submission time, not a delivery failure.
func (p *Processor) Submit(pipelines []string, payload map[string]any) bool {
	ok := p.q.Add(queue.Item{Pipelines: pipelines, Payload: payload})
	if ok {
		p.drain.StartIfNeeded()
		p.metrics.QueueFillPercentage.Set(p.q.FillPercentage())
	}
	return ok
}

// Flush blocks until the queue is fully drained or cfg.AsyncExitTimeout
// elapses, whichever comes first. It is safe to call at most once
// meaningfully; subsequent calls are no-ops once shutdown has completed.
func (p *Processor) Flush() {
	select {
	case <-p.shutdown:
		return
	default:
	}

	done := make(chan struct{})
	go func() {
		p.q.Join()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.AsyncExitTimeout):
	}

	p.shutdownOnce.Do(func() { close(p.shutdown) })
}

func (p *Processor) workerLoop() {
	defer p.workers.Done()

	for {
		select {
		case <-p.shutdown:
			return
		default:
		}

		item, ok := p.q.Get(workerGetTimeout)
		if !ok {
			time.Sleep(emptyQueueBackoff)
			continue
		}

		if p.healthM.IsUp(p.cfg.ServerHost, false) {
			p.sendToPrimary(item)
			continue
		}

		if p.sidecarDisabled() {
			if p.healthM.IsUp(p.cfg.FallbackServerHost, true) {
				p.sendToFallback(item)
			} else {
				p.q.WritebackBatch([]queue.Item{item})
				time.Sleep(writebackBackoff)
			}
			continue
		}

		p.sendToSidecar(item)
	}
}

func (p *Processor) sidecarDisabled() bool {
	return p.cfg.EchopostDisable || p.state.SidecarDisabled()
}

func (p *Processor) sendToPrimary(item queue.Item) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result := p.primary.Send(ctx, map[string]any{"pipelines": item.Pipelines, "log_data": item.Payload})

	switch {
	case result.Success:
		p.metrics.SinkOutcomes.WithLabelValues("primary", "success").Inc()
		p.q.TaskDone()

	case result.IsUnavailable:
		p.metrics.SinkOutcomes.WithLabelValues("primary", "unavailable").Inc()
		p.q.WritebackBatch([]queue.Item{item})
		p.healthM.MarkDown(p.cfg.ServerHost, false, p.primary.IsHealthy)
		p.logger.Warn("primary server unavailable, requeued", "server", p.cfg.ServerHost)

	case result.IsFailure:
		p.metrics.SinkOutcomes.WithLabelValues("primary", "dropped").Inc()
		p.dropItems([]queue.Item{item}, "primary_failed", result.StatusCode)
		p.q.TaskDone()

	default:
		p.q.TaskDone()
	}
}

func (p *Processor) sendToFallback(item queue.Item) {
	items := append([]queue.Item{item}, p.q.GetBatch(fallbackBatchExtra)...)
	payloads := make([]map[string]any, len(items))
	for i, it := range items {
		payloads[i] = map[string]any{"pipelines": it.Pipelines, "log_data": it.Payload}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer cancel()

	result := p.fallback.Send(ctx, payloads)

	switch {
	case result.Success:
		p.metrics.SinkOutcomes.WithLabelValues("fallback", "success").Inc()
		for range items {
			p.q.TaskDone()
		}

	case result.IsUnavailable:
		p.metrics.SinkOutcomes.WithLabelValues("fallback", "unavailable").Inc()
		p.q.WritebackBatch(items)
		p.healthM.MarkDown(p.cfg.FallbackServerHost, true, p.primary.IsHealthy)
		p.logger.Warn("fallback server unavailable, requeued", "server", p.cfg.FallbackServerHost, "batch_size", len(items))

	case result.IsFailure:
		p.metrics.SinkOutcomes.WithLabelValues("fallback", "dropped").Inc()
		p.dropItems(items, "fallback_failed", result.StatusCode)
		for range items {
			p.q.TaskDone()
		}

	default:
		for range items {
			p.q.TaskDone()
		}
	}
}

func (p *Processor) sendToSidecar(item queue.Item) {
	paths := sidecar.Paths{Dir: p.cfg.Dir}

	if !sidecar.StartIfSocketNotExists(paths, p.cfg.APIKey, p.cfg.ServerHost) {
		p.tripSidecarLatch()
		p.q.WritebackBatch([]queue.Item{item})
		return
	}

	jsonData, err := json.Marshal(item.Payload)
	if err != nil {
		p.tripSidecarLatch()
		p.q.WritebackBatch([]queue.Item{item})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if sidecar.SendViaSidecar(ctx, paths.SocketPath(), item.Pipelines, string(jsonData), p.cfg.APIKey) {
		p.metrics.SinkOutcomes.WithLabelValues("sidecar", "success").Inc()
		p.q.TaskDone()
		return
	}

	p.metrics.SinkOutcomes.WithLabelValues("sidecar", "unavailable").Inc()
	p.tripSidecarLatch()
	p.q.WritebackBatch([]queue.Item{item})
	p.logger.Error("sidecar send failed, sidecar disabled for remainder of process")
}

// ensureSidecarBinary downloads the sidecar binary (if it isn't already on
// disk) once, at construction, mirroring the Python agent's own
// initialisation-time download. A network error trips the process-wide
// sidecar latch immediately rather than waiting for the first send attempt,
// so a dead download host degrades straight to the fallback path instead of
// every worker discovering the same failure independently.
func (p *Processor) ensureSidecarBinary() {
	if p.sidecarDisabled() {
		return
	}

	paths := sidecar.Paths{Dir: p.cfg.Dir}
	_, forceDisable, err := sidecar.EnsureBinaryExists(paths, false)
	if err == nil {
		return
	}
	if forceDisable {
		p.tripSidecarLatch()
	}
	p.logger.Warn("sidecar binary unavailable", "error", err, "force_disable", forceDisable)
}

func (p *Processor) tripSidecarLatch() {
	if !p.state.SidecarDisabled() {
		p.metrics.SidecarLatchTrips.Inc()
	}
	p.state.TripSidecarDisabled()
}

func (p *Processor) dropItems(items []queue.Item, reason string, statusCode int) {
	p.metrics.DroppedEvents.WithLabelValues(reason).Add(float64(len(items)))
	filePath, err := dropped.Store(p.cfg.Dir, items, reason, time.Now())
	if err != nil {
		p.logger.Error("failed to persist dropped data", "reason", reason, "error", err)
		return
	}
	p.logger.Error("send failed, data dropped", "reason", reason, "status_code", statusCode, "batch_size", len(items), "file", filePath)
}
