package processor

import (
	"log/slog"
	"path/filepath"

	"github.com/datanadhi/agent/internal/config"
	"github.com/datanadhi/agent/internal/metrics"
	"github.com/datanadhi/agent/internal/procstate"
)

// ForDirectory returns the process-singleton Processor for cfg.Dir,
// building one on first use via state's construction-locked singleton map
// so multiple embeddable-client instances pointed at the same directory
// share one queue and worker pool.
func ForDirectory(cfg config.Resolved, state *procstate.ProcessState, logger *slog.Logger, m *metrics.Metrics) (*Processor, error) {
	key, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, err
	}

	v, err := state.GetOrCreate(key, func() (any, error) {
		return New(cfg, state, logger, m), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Processor), nil
}
