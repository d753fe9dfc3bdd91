// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/absmach/udpcap/pkg/errors"
)

// StdoutPath selects standard output as the capture destination.
const StdoutPath = "-"

var _ Sink = (*JSONSink)(nil)

// JSONSink writes one JSON object per line and flushes after every line so
// that the stream can be tailed live.
type JSONSink struct {
	buf *bufio.Writer
	enc *json.Encoder
}

// NewJSONSink creates a sink writing to w.
func NewJSONSink(w io.Writer) *JSONSink {
	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &JSONSink{
		buf: buf,
		enc: enc,
	}
}

// Record encodes ev as a single line and flushes it.
func (s *JSONSink) Record(ev Event) error {
	if err := s.enc.Encode(ev.record()); err != nil {
		return errors.Join(errors.ErrCapture, err)
	}
	if err := s.buf.Flush(); err != nil {
		return errors.Join(errors.ErrCapture, err)
	}
	return nil
}

// Open returns the capture destination for path. StdoutPath selects standard
// output, which is never closed by the returned closer. Any other path is
// created or truncated.
func Open(path string) (io.WriteCloser, error) {
	if path == "" || path == StdoutPath {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture log %s: %w", path, err)
	}
	return f, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}
