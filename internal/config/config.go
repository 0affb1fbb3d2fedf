// Package config resolves the agent's runtime configuration from a YAML
// file, environment variable overrides, and built-in defaults, and caches
// the resolved result to disk so repeated construction in one process
// (or across short-lived invocations) doesn't re-parse YAML every time.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Datanadhi Agent - Resolved Configuration
// =============================================================================

// yamlConfig mirrors config.yml/config.yaml's on-disk shape. Every field is
// optional. Where a field has an environment variable, a set variable
// overrides the YAML value; a built-in default applies when neither is set.
type yamlConfig struct {
	Server struct {
		Host         string `yaml:"host"`
		FallbackHost string `yaml:"fallback_host"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Echopost struct {
		Disable bool `yaml:"disable"`
	} `yaml:"echopost"`
	Async struct {
		QueueSize    int `yaml:"queue_size"`
		Workers      int `yaml:"workers"`
		ExitTimeout  int `yaml:"exit_timeout"`
	} `yaml:"async"`
}

// Resolved is the fully-resolved, ready-to-use configuration for one
// working directory.
type Resolved struct {
	ServerHost         string        `json:"server_host"`
	FallbackServerHost string        `json:"fallback_server_host"`
	APIKey             string        `json:"api_key"`
	AsyncQueueSize     int           `json:"async_queue_size"`
	AsyncWorkers       int           `json:"async_workers"`
	AsyncExitTimeout   time.Duration `json:"async_exit_timeout"`
	EchopostDisable    bool          `json:"echopost_disable"`
	LogLevel           string        `json:"log_level"`
	Dir                string        `json:"-"`
}

// ErrMissingAPIKey is returned when no DATANADHI_API_KEY is present in the
// environment. The agent has no other way to authenticate to the primary
// or fallback services, so this is always a fatal construction error.
var ErrMissingAPIKey = fmt.Errorf("DATANADHI_API_KEY is not set")

// Resolve builds a Resolved configuration for dir by reading config.yml (or
// config.yaml), applying environment overrides and defaults, and stripping
// a trailing slash from both host URLs. It does not touch the on-disk
// cache; see Cache.Get for the cache-first entry point.
func Resolve(dir string) (*Resolved, error) {
	yc, err := loadYAML(dir)
	if err != nil {
		return nil, err
	}

	apiKey := os.Getenv("DATANADHI_API_KEY")
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	r := &Resolved{
		ServerHost:         strings.TrimSuffix(firstNonEmpty(os.Getenv("DATANADHI_SERVER_HOST"), yc.Server.Host, "http://data-nadhi-server:5000"), "/"),
		FallbackServerHost: strings.TrimSuffix(firstNonEmpty(os.Getenv("DATANADHI_FALLBACK_SERVER_HOST"), yc.Server.FallbackHost, "http://datanadhi-fallback-server:5001"), "/"),
		APIKey:             apiKey,
		AsyncQueueSize:     firstNonZeroInt(getEnvInt("DATANADHI_QUEUE_SIZE", 0), yc.Async.QueueSize, 1000),
		AsyncWorkers:       firstNonZeroInt(getEnvInt("DATANADHI_WORKERS", 0), yc.Async.Workers, 2),
		AsyncExitTimeout:   time.Duration(firstNonZeroInt(getEnvInt("DATANADHI_EXIT_TIMEOUT", 0), yc.Async.ExitTimeout, 5)) * time.Second,
		EchopostDisable:    yc.Echopost.Disable,
		LogLevel:           firstNonEmpty(yc.Log.Level, "INFO"),
		Dir:                dir,
	}
	return r, nil
}

// WithSidecarForcedDisable returns a copy of r with EchopostDisable forced
// to true when forced is true (the process-wide sidecar latch has
// tripped); it never re-enables a YAML-configured disable.
func (r Resolved) WithSidecarForcedDisable(forced bool) Resolved {
	if forced {
		r.EchopostDisable = true
	}
	return r
}

func loadYAML(dir string) (yamlConfig, error) {
	var yc yamlConfig
	for _, name := range []string{"config.yml", "config.yaml"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return yc, err
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			return yc, fmt.Errorf("parsing %s: %w", path, err)
		}
		return yc, nil
	}
	return yc, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZeroInt(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
