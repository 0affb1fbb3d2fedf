// Package sidecar manages the lifecycle of the locally-downloaded echopost
// binary: fetching it, spawning it as a detached process, and waiting for
// its UNIX-domain RPC socket to become ready.
package sidecar

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const downloadBaseURL = "https://downloads.datanadhi.com/echopost"

// DownloadFailure describes why EnsureBinaryExists could not make the
// binary available, mirroring the structured reasons the Python
// implementation returns instead of a single error string.
type DownloadFailure struct {
	Kind   string // "disabled", "unsupported_platform", "http_error", "network_error", "unknown_error"
	Detail string
	Status int
}

func (f *DownloadFailure) Error() string {
	if f.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", f.Kind, f.Detail, f.Status)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

// Paths resolves the filesystem layout for one datanadhi working directory.
type Paths struct {
	Dir string
}

func (p Paths) EchoPostDir() string  { return filepath.Join(p.Dir, "echopost") }
func (p Paths) BinaryPath() string   { return filepath.Join(p.EchoPostDir(), "echopost") }
func (p Paths) SocketPath() string   { return filepath.Join(p.EchoPostDir(), "data-nadhi-agent.sock") }

var (
	startLocksGuard sync.Mutex
	startLocks      = map[string]*sync.Mutex{}
)

func startLockFor(dir string) *sync.Mutex {
	startLocksGuard.Lock()
	defer startLocksGuard.Unlock()
	l, ok := startLocks[dir]
	if !ok {
		l = &sync.Mutex{}
		startLocks[dir] = l
	}
	return l
}

// resolveDownloadURL maps the running OS/arch onto the sidecar distribution
// URL. Tests substitute this to point at a local httptest server instead of
// the real OS/arch and the real distribution host.
var resolveDownloadURL = func() (string, *DownloadFailure) {
	var osName string
	switch runtime.GOOS {
	case "darwin", "linux":
		osName = runtime.GOOS
	default:
		return "", &DownloadFailure{Kind: "unsupported_platform", Detail: fmt.Sprintf("unsupported OS %q (supported: darwin, linux)", runtime.GOOS)}
	}

	var arch string
	switch runtime.GOARCH {
	case "amd64":
		arch = "amd64"
	case "arm64":
		arch = "arm64"
	default:
		return "", &DownloadFailure{Kind: "unsupported_platform", Detail: fmt.Sprintf("unsupported machine type %q (supported: amd64, arm64)", runtime.GOARCH)}
	}

	return fmt.Sprintf("%s/%s/%s/echopost-latest", downloadBaseURL, osName, arch), nil
}

// EnsureBinaryExists makes sure the sidecar binary is present at
// paths.BinaryPath, downloading it if necessary. disableSidecar, when true,
// short-circuits with a DownloadFailure without attempting anything. It
// returns forceDisable=true when a network error occurred, signaling the
// caller to trip the process-wide sidecar latch.
func EnsureBinaryExists(paths Paths, disableSidecar bool) (available bool, forceDisable bool, err error) {
	if disableSidecar {
		return false, false, &DownloadFailure{Kind: "disabled", Detail: "sidecar disabled by configuration"}
	}

	if _, statErr := os.Stat(paths.BinaryPath()); statErr == nil {
		return true, false, nil
	}

	if err := os.MkdirAll(paths.EchoPostDir(), 0o755); err != nil {
		return false, false, &DownloadFailure{Kind: "unknown_error", Detail: err.Error()}
	}

	url, failure := resolveDownloadURL()
	if failure != nil {
		return false, false, failure
	}

	resp, err := http.Get(url)
	if err != nil {
		return false, true, &DownloadFailure{Kind: "network_error", Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, false, &DownloadFailure{
			Kind:   "http_error",
			Detail: fmt.Sprintf("download returned status %d", resp.StatusCode),
			Status: resp.StatusCode,
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, true, &DownloadFailure{Kind: "network_error", Detail: err.Error()}
	}

	// Write to a uniquely-named temp file first and rename into place, so a
	// concurrent EnsureBinaryExists call in another process never observes a
	// partially-written file at paths.BinaryPath via its os.Stat check.
	tmpPath := paths.BinaryPath() + ".download-" + uuid.NewString()
	if err := os.WriteFile(tmpPath, data, 0o755); err != nil {
		return false, false, &DownloadFailure{Kind: "unknown_error", Detail: err.Error()}
	}
	if err := os.Rename(tmpPath, paths.BinaryPath()); err != nil {
		os.Remove(tmpPath)
		return false, false, &DownloadFailure{Kind: "unknown_error", Detail: err.Error()}
	}

	return true, false, nil
}

// SocketExists reports whether the sidecar's UDS is currently present.
func SocketExists(paths Paths) bool {
	_, err := os.Stat(paths.SocketPath())
	return err == nil
}

// deleteSocketIfExists removes a stale socket file left behind by a dead
// sidecar process. Failure here is non-critical and ignored.
func deleteSocketIfExists(paths Paths) {
	_ = os.Remove(paths.SocketPath())
}

// startDetached spawns the sidecar binary as an independent background
// process: stdio redirected to /dev/null, new session so it survives the
// parent's exit.
func startDetached(paths Paths, apiKey, serverHost string) bool {
	if _, err := os.Stat(paths.BinaryPath()); err != nil {
		return false
	}

	deleteSocketIfExists(paths)

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	defer devNull.Close()

	cmd := exec.Command(paths.BinaryPath(),
		"-datanadhi", paths.Dir,
		"-api-key", apiKey,
		"-health-url", serverHost,
	)
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return false
	}
	// The sidecar outlives this process; release it rather than reaping it.
	return cmd.Process.Release() == nil
}

// WaitForSocket polls for the sidecar's UDS to appear, up to timeout.
func WaitForSocket(paths Paths, timeout, pollInterval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if SocketExists(paths) {
			return true
		}
		time.Sleep(pollInterval)
	}
	return SocketExists(paths)
}

// StartIfSocketNotExists is the entry point the processor calls before
// every sidecar send attempt. It serializes concurrent starts for the same
// directory behind a per-directory lock and double-checks socket presence
// inside the lock to avoid a redundant spawn.
func StartIfSocketNotExists(paths Paths, apiKey, serverHost string) bool {
	if SocketExists(paths) {
		return true
	}

	lock := startLockFor(paths.Dir)
	lock.Lock()
	started := true
	if !SocketExists(paths) {
		started = startDetached(paths, apiKey, serverHost)
	}
	lock.Unlock()

	if !started {
		return false
	}
	return WaitForSocket(paths, 2*time.Second, 50*time.Millisecond)
}
