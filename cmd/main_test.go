// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/absmach/udpcap"
	pkgerrors "github.com/absmach/udpcap/pkg/errors"
	"github.com/absmach/udpcap/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// clearEnv keeps the process environment from leaking into start.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LISTEN", "UPSTREAM", "LOG", "MAX_PACKETS", "DIST", "METRICS_ADDRESS"} {
		key := udpcap.EnvPrefix + k
		if v, ok := os.LookupEnv(key); ok {
			require.NoError(t, os.Unsetenv(key))
			t.Cleanup(func() { os.Setenv(key, v) })
		}
	}
}

func testConfig(t *testing.T, upstream *net.UDPConn) udpcap.Config {
	t.Helper()
	return udpcap.Config{
		Listen:       "127.0.0.1:0",
		Upstream:     upstream.LocalAddr().String(),
		LogPath:      filepath.Join(t.TempDir(), "capture.jsonl"),
		Distribution: "normal",
	}
}

func TestExitCode(t *testing.T) {
	cases := map[string]struct {
		err  error
		code int
	}{
		"clean stop":       {nil, exitOK},
		"bad config":       {pkgerrors.Join(pkgerrors.ErrInvalidConfig, errors.New("bad")), exitConfig},
		"bad address":      {pkgerrors.Wrap(pkgerrors.Join(pkgerrors.ErrInvalidAddress, errors.New("no port")), "upstream address"), exitConfig},
		"bad distribution": {pkgerrors.Join(pkgerrors.ErrInvalidDistribution, errors.New("pareto")), exitConfig},
		"transport":        {pkgerrors.New("receive", "", pkgerrors.Join(pkgerrors.ErrTransport, errors.New("refused"))), exitFailure},
		"bind":             {errors.New("address already in use"), exitFailure},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.code, exitCode(tc.err))
		})
	}
}

func TestStart_ConfigErrors(t *testing.T) {
	clearEnv(t)

	cases := map[string][]string{
		"missing upstream": {"--listen", "127.0.0.1:0"},
		"upstream port 0":  {"--listen", "127.0.0.1:0", "--upstream", "127.0.0.1:0"},
		"listen no port":   {"--listen", "127.0.0.1", "--upstream", "127.0.0.1:9"},
		"bad distribution": {"--listen", "127.0.0.1:0", "--upstream", "127.0.0.1:9", "--dist", "pareto"},
		"unknown flag":     {"--bogus"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, exitConfig, start(args, io.Discard))
		})
	}
}

func TestStart_BindError(t *testing.T) {
	clearEnv(t)
	taken := listenLoopback(t)
	upstream := listenLoopback(t)

	code := start([]string{
		"--listen", taken.LocalAddr().String(),
		"--upstream", upstream.LocalAddr().String(),
		"--log", filepath.Join(t.TempDir(), "capture.jsonl"),
	}, io.Discard)
	assert.Equal(t, exitFailure, code)
}

func TestStart_CaptureLogError(t *testing.T) {
	clearEnv(t)
	upstream := listenLoopback(t)

	code := start([]string{
		"--listen", "127.0.0.1:0",
		"--upstream", upstream.LocalAddr().String(),
		"--log", filepath.Join(t.TempDir(), "missing", "capture.jsonl"),
	}, io.Discard)
	assert.Equal(t, exitFailure, code)
}

func TestService_MaxPacketsStopsCleanly(t *testing.T) {
	upstream := listenLoopback(t)
	client := listenLoopback(t)
	cfg := testConfig(t, upstream)
	cfg.MaxPackets = 1

	svc, err := newService(cfg, testLogger())
	require.NoError(t, err)
	defer svc.Close()

	_, err = client.WriteTo([]byte("PING"), svc.conn.LocalAddr())
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, exitOK, exitCode(err))

	require.NoError(t, upstream.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 16)
	n, _, err := upstream.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "PING", string(buf[:n]))

	data, err := os.ReadFile(cfg.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"hex":"50494E47"`)
}

func TestService_SignalStopsCleanly(t *testing.T) {
	// Keep the default signal action from killing the test binary.
	guard := make(chan os.Signal, 1)
	signal.Notify(guard, syscall.SIGTERM)
	defer signal.Stop(guard)

	svc, err := newService(testConfig(t, listenLoopback(t)), testLogger())
	require.NoError(t, err)
	defer svc.Close()

	done := make(chan error, 1)
	go func() {
		done <- svc.Run(context.Background())
	}()

	// The handler may not be installed yet, so keep signalling until Run returns.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.Equal(t, exitOK, exitCode(err))
			// Let a signal still in flight land on guard.
			time.Sleep(50 * time.Millisecond)
			return
		case <-ticker.C:
			require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
		case <-deadline:
			t.Fatal("service did not stop on SIGTERM")
		}
	}
}

func TestService_InvalidUpstreamOpensNothing(t *testing.T) {
	cfg := testConfig(t, listenLoopback(t))
	cfg.Upstream = "0.0.0.0:4433"

	_, err := newService(cfg, testLogger())
	require.ErrorIs(t, err, pkgerrors.ErrInvalidAddress)
	assert.Equal(t, exitConfig, exitCode(err))
	_, statErr := os.Stat(cfg.LogPath)
	assert.True(t, os.IsNotExist(statErr), "capture log must not be created")
}

func TestHealthReportsPending(t *testing.T) {
	svc, err := newService(testConfig(t, listenLoopback(t)), testLogger())
	require.NoError(t, err)
	defer svc.Close()

	rec := httptest.NewRecorder()
	newHealthChecker(svc.relay).HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "relay loop is not running yet")

	var body struct {
		Checks []health.Check `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Checks, 1)
	assert.Equal(t, "relay", body.Checks[0].Name)
	assert.Contains(t, body.Checks[0].Message, "pending=0")
}
