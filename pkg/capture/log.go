// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"log/slog"
)

var _ Sink = (*LogSink)(nil)

// LogSink mirrors capture events into the operational log at debug level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs every event.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{
		logger: logger,
	}
}

// Record logs the event without its payload bytes.
func (s *LogSink) Record(ev Event) error {
	if !s.logger.Enabled(context.Background(), slog.LevelDebug) {
		return nil
	}
	dst := "unknown"
	if ev.DstKnown {
		dst = ev.Dst.String()
	}
	s.logger.Debug("packet",
		slog.String("direction", string(ev.Direction)),
		slog.String("src", ev.Src.String()),
		slog.String("dst", dst),
		slog.Int("len", len(ev.Payload)),
		slog.Float64("delay_ms", ev.DelayMs))
	return nil
}
