package sidecar

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureBinaryExists_ReturnsTrueWhenAlreadyPresent(t *testing.T) {
	dir := t.TempDir()
	paths := Paths{Dir: dir}
	require.NoError(t, os.MkdirAll(paths.EchoPostDir(), 0o755))
	require.NoError(t, os.WriteFile(paths.BinaryPath(), []byte("#!/bin/sh\n"), 0o755))

	available, forceDisable, err := EnsureBinaryExists(paths, false)
	assert.True(t, available)
	assert.False(t, forceDisable)
	assert.NoError(t, err)
}

func TestEnsureBinaryExists_DisabledReturnsFailureWithoutNetworkCall(t *testing.T) {
	dir := t.TempDir()
	available, forceDisable, err := EnsureBinaryExists(Paths{Dir: dir}, true)
	assert.False(t, available)
	assert.False(t, forceDisable)
	assert.Error(t, err)
}

func withStubbedDownloadURL(t *testing.T, url string) {
	t.Helper()
	original := resolveDownloadURL
	resolveDownloadURL = func() (string, *DownloadFailure) { return url, nil }
	t.Cleanup(func() { resolveDownloadURL = original })
}

func TestEnsureBinaryExists_DownloadsAndWritesExecutableBinary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("#!/bin/sh\necho hi\n"))
	}))
	defer server.Close()
	withStubbedDownloadURL(t, server.URL)

	dir := t.TempDir()
	paths := Paths{Dir: dir}

	available, forceDisable, err := EnsureBinaryExists(paths, false)
	require.NoError(t, err)
	assert.True(t, available)
	assert.False(t, forceDisable)

	info, statErr := os.Stat(paths.BinaryPath())
	require.NoError(t, statErr)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestEnsureBinaryExists_HTTPErrorDoesNotTripForceDisable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()
	withStubbedDownloadURL(t, server.URL)

	dir := t.TempDir()
	available, forceDisable, err := EnsureBinaryExists(Paths{Dir: dir}, false)

	assert.False(t, available)
	assert.False(t, forceDisable, "a non-2xx response is an http_error, not a network_error")

	var dlErr *DownloadFailure
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, "http_error", dlErr.Kind)
	assert.Equal(t, http.StatusNotFound, dlErr.Status)
}

func TestEnsureBinaryExists_NetworkErrorTripsForceDisable(t *testing.T) {
	withStubbedDownloadURL(t, "http://127.0.0.1:1")

	dir := t.TempDir()
	available, forceDisable, err := EnsureBinaryExists(Paths{Dir: dir}, false)

	assert.False(t, available)
	assert.True(t, forceDisable)

	var dlErr *DownloadFailure
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, "network_error", dlErr.Kind)
}

func listenUnixSocket(t *testing.T, path string) net.Listener {
	t.Helper()
	lis, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { lis.Close() })
	return lis
}

func TestSocketExists_FalseUntilCreated(t *testing.T) {
	dir := t.TempDir()
	paths := Paths{Dir: dir}
	require.NoError(t, os.MkdirAll(paths.EchoPostDir(), 0o755))
	assert.False(t, SocketExists(paths))

	listenUnixSocket(t, paths.SocketPath())
	assert.True(t, SocketExists(paths))
}

func TestWaitForSocket_TimesOutWhenSocketNeverAppears(t *testing.T) {
	dir := t.TempDir()
	paths := Paths{Dir: dir}
	require.NoError(t, os.MkdirAll(paths.EchoPostDir(), 0o755))

	start := time.Now()
	ok := WaitForSocket(paths, 30*time.Millisecond, 5*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestStartIfSocketNotExists_ReturnsTrueWhenSocketAlreadyPresent(t *testing.T) {
	dir := t.TempDir()
	paths := Paths{Dir: dir}
	require.NoError(t, os.MkdirAll(paths.EchoPostDir(), 0o755))

	listenUnixSocket(t, paths.SocketPath())
	assert.True(t, StartIfSocketNotExists(paths, "key", "http://primary"))
}

func TestPaths_LayoutMatchesContract(t *testing.T) {
	paths := Paths{Dir: "/tmp/app"}
	assert.Equal(t, filepath.Join("/tmp/app", "echopost", "echopost"), paths.BinaryPath())
	assert.Equal(t, filepath.Join("/tmp/app", "echopost", "data-nadhi-agent.sock"), paths.SocketPath())
}
