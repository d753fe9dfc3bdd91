// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package health serves liveness and health probes for the relay process.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the result of one named probe.
type Check struct {
	Name    string    `json:"name"`
	Status  Status    `json:"status"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"checked_at"`
}

// CheckFunc reports a problem by returning an error.
type CheckFunc func(ctx context.Context) error

// StatusFunc is a probe that also describes the component. The message is
// reported whether or not the probe fails.
type StatusFunc func(ctx context.Context) (string, error)

// Checker runs registered probes on demand.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]StatusFunc
	timeout time.Duration
}

// NewChecker creates a checker whose probes share the given timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		checks:  make(map[string]StatusFunc),
		timeout: timeout,
	}
}

// Register adds or replaces a named probe.
func (c *Checker) Register(name string, check CheckFunc) {
	c.RegisterStatus(name, func(ctx context.Context) (string, error) {
		return "", check(ctx)
	})
}

// RegisterStatus adds or replaces a named probe that reports a message.
func (c *Checker) RegisterStatus(name string, check StatusFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Health runs every probe and returns the overall status. Results are sorted by name.
func (c *Checker) Health(ctx context.Context) (Status, []Check) {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	funcs := make(map[string]StatusFunc, len(c.checks))
	for k, v := range c.checks {
		funcs[k] = v
	}
	c.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	overall := StatusHealthy
	checks := make([]Check, 0, len(names))
	for _, name := range names {
		check := Check{
			Name:   name,
			Status: StatusHealthy,
			At:     time.Now(),
		}
		msg, err := funcs[name](ctx)
		check.Message = msg
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = joinMessage(msg, err.Error())
			overall = StatusUnhealthy
		}
		checks = append(checks, check)
	}

	return overall, checks
}

// HTTPHandler returns an HTTP handler reporting every probe.
// It answers 503 when any probe fails.
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, checks := c.Health(r.Context())

		code := http.StatusOK
		if status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"status": status,
			"checks": checks,
		})
	}
}

// LivenessHandler returns a simple liveness probe.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
		})
	}
}

func joinMessage(msg, reason string) string {
	if msg == "" {
		return reason
	}
	return reason + " (" + msg + ")"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
