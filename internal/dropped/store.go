// Package dropped persists events the processor could not deliver through
// any sink, as append-only JSON-lines files under the working directory.
package dropped

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/datanadhi/agent/internal/queue"
)

type record struct {
	Pipelines []string       `json:"pipelines"`
	LogData   map[string]any `json:"log_data"`
}

// Store stores items that were dropped for reason under <dir>/dropped, one
// JSONL file per call, and returns the path relative to dir.
func Store(dir string, items []queue.Item, reason string, now time.Time) (string, error) {
	droppedDir := filepath.Join(dir, "dropped")
	if err := os.MkdirAll(droppedDir, 0o755); err != nil {
		return "", err
	}

	filename := fmt.Sprintf("%s_%d.jsonl", reason, now.UnixMilli())
	filePath := filepath.Join(droppedDir, filename)

	f, err := os.Create(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(record{Pipelines: item.Pipelines, LogData: item.Payload}); err != nil {
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		return "", err
	}

	rel, err := filepath.Rel(dir, filePath)
	if err != nil {
		return "", err
	}
	return rel, nil
}
