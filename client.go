// Package agent is the datanadhi client-side observability agent.
//
// Embed it in a process to evaluate structured log events against a
// declarative rule set and deliver matched events to a primary HTTP
// ingestion service, a local sidecar over a UNIX-domain socket, or a
// batching fallback service — without ever blocking the caller on
// network or backend failures.
//
// Quick start:
//
//	client, err := agent.NewClient(agent.Options{Dir: "."})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.Log(map[string]any{
//	    "level":   "ERROR",
//	    "message": "payment failed",
//	    "user_id": "u_123",
//	})
package agent

import (
	"log/slog"
	"path/filepath"

	"github.com/datanadhi/agent/internal/config"
	"github.com/datanadhi/agent/internal/logging"
	"github.com/datanadhi/agent/internal/metrics"
	"github.com/datanadhi/agent/internal/procstate"
	"github.com/datanadhi/agent/internal/processor"
	"github.com/datanadhi/agent/internal/ruleengine"
)

// rulesCacheName is the on-disk compiled-rule cache file, sibling to the
// .config.resolved.json file that config.Cache maintains.
const rulesCacheName = ".rules.resolved.json"

// processState is the single process-wide latch-and-singleton registry every
// Client in this process shares, so two Clients opened against the same Dir
// attach to one delivery pipeline instead of each starting their own.
var processState = procstate.New()

// Options configures a Client. Only Dir is required; everything else is
// resolved from config.yml/config.yaml and environment variables under Dir,
// per internal/config's layering.
type Options struct {
	// Dir is the working directory the agent resolves config, rule files,
	// and sidecar/dropped-event state from. Required.
	Dir string
}

// Client evaluates log events against the compiled rule table and submits
// matched events to the async delivery pipeline. One Client owns one
// working directory's worker pool; a second Client pointed at the same Dir
// in the same process shares that pipeline via the process-wide singleton
// registry rather than starting a second one.
type Client struct {
	table  *ruleengine.RuleTable
	proc   *processor.Processor
	logger *slog.Logger
	cfg    config.Resolved
}

// NewClient resolves configuration and compiled rules under opts.Dir and
// wires up (or attaches to) that directory's delivery pipeline.
func NewClient(opts Options) (*Client, error) {
	cfg, err := config.Resolve(opts.Dir)
	if err != nil {
		return nil, err
	}

	logger := logging.New(cfg.LogLevel, "agent")

	cachePath := filepath.Join(opts.Dir, rulesCacheName)
	table, err := ruleengine.LoadOrCompile(opts.Dir, cachePath)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	proc, err := processor.ForDirectory(*cfg, processState, logger, m)
	if err != nil {
		return nil, err
	}

	return &Client{table: table, proc: proc, logger: logger, cfg: *cfg}, nil
}

// Log evaluates payload against the compiled rule table. Events matching no
// rule's pipelines are dropped at evaluation time — never enqueued, never
// logged as a failure. Events matching at least one pipeline are submitted
// to the delivery pipeline; Log returns whether stdout should also receive
// the event, per the matched rules' Action.Stdout — the caller's own
// formatter owns that write, not this package.
func (c *Client) Log(payload map[string]any) bool {
	result := ruleengine.Evaluate(c.table, payload, c.logger)
	if len(result.Pipelines) > 0 {
		if !c.proc.Submit(result.Pipelines, payload) {
			c.logger.Warn("queue full, event dropped at submission", "pipelines", result.Pipelines)
		}
	}
	return result.Stdout
}

// Close flushes the delivery pipeline, blocking until the queue drains or
// the configured async exit timeout elapses.
func (c *Client) Close() {
	c.proc.Flush()
}
