// Command datanadhi-demo is a minimal standalone driver for the agent
// package: it builds a Client against a working directory, submits a
// handful of sample events, and exits after flushing the pipeline.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/datanadhi/agent"
)

func main() {
	dir := flag.String("dir", ".", "working directory holding config.yml and rules/")
	flag.Parse()

	client, err := agent.NewClient(agent.Options{Dir: *dir})
	if err != nil {
		log.Fatalf("datanadhi-demo: %v", err)
	}
	defer client.Close()

	events := []map[string]any{
		{"level": "INFO", "message": "service started", "ts": time.Now().Unix()},
		{"level": "ERROR", "message": "payment declined", "user_id": "u_42"},
		{"level": "WARN", "message": "retrying upstream call", "attempt": 2},
	}

	for _, e := range events {
		if client.Log(e) {
			log.Printf("stdout: %v", e)
		}
	}
}
