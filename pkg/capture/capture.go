// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"encoding/hex"
	"encoding/json"
	"net/netip"
	"strings"
	"time"

	"github.com/absmach/udpcap/pkg/session"
)

// Event describes one datagram observed on the relay socket.
type Event struct {
	// Time is the wall-clock receive time.
	Time time.Time

	Direction session.Direction

	// Src is the address the datagram arrived from.
	Src netip.AddrPort

	// Dst is where the datagram is forwarded. Only meaningful when DstKnown.
	Dst      netip.AddrPort
	DstKnown bool

	// Payload is the raw datagram. Len is derived from it.
	Payload []byte

	// DelayMs is the injected delay; zero means sent immediately or dropped.
	DelayMs float64
}

// Sink consumes capture events in receive order.
type Sink interface {
	// Record stores one event. An error is fatal to the relay.
	Record(ev Event) error
}

// record is the JSON-lines wire form of an Event.
type record struct {
	TS        float64 `json:"ts"`
	Direction string  `json:"direction"`
	Len       int     `json:"len"`
	Src       string  `json:"src"`
	Dst       *string `json:"dst"`
	Hex       string  `json:"hex"`
	DelayMs   float64 `json:"delay_ms,omitempty"`
}

// MarshalJSON encodes the event in its capture-line form.
func (ev Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(ev.record())
}

func (ev Event) record() record {
	r := record{
		TS:        float64(ev.Time.Unix()) + float64(ev.Time.Nanosecond())/float64(time.Second),
		Direction: string(ev.Direction),
		Len:       len(ev.Payload),
		Src:       ev.Src.String(),
		Hex:       strings.ToUpper(hex.EncodeToString(ev.Payload)),
	}
	if ev.DstKnown {
		dst := ev.Dst.String()
		r.Dst = &dst
	}
	if ev.DelayMs > 0 {
		r.DelayMs = ev.DelayMs
	}
	return r
}

// Multi fans every event out to each sink in order, stopping at the first error.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Record(ev Event) error {
	for _, s := range m {
		if err := s.Record(ev); err != nil {
			return err
		}
	}
	return nil
}

// NoopSink discards every event.
type NoopSink struct{}

var _ Sink = (*NoopSink)(nil)

func (NoopSink) Record(Event) error {
	return nil
}
