// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"github.com/absmach/udpcap/pkg/capture"
	"github.com/absmach/udpcap/pkg/delay"
	pkgerrors "github.com/absmach/udpcap/pkg/errors"
	"github.com/absmach/udpcap/pkg/metrics"
	"github.com/absmach/udpcap/pkg/queue"
	"github.com/absmach/udpcap/pkg/session"
	"github.com/benbjohnson/clock"
)

// MaxDatagramSize is the maximum size of a UDP datagram.
const MaxDatagramSize = 65535

// aLongTimeAgo is a read deadline that expires immediately.
var aLongTimeAgo = time.Unix(1, 0)

// Config holds the relay configuration.
type Config struct {
	// Upstream is the fixed peer considered "the server".
	Upstream netip.AddrPort

	// MaxPackets stops the loop after this many datagrams. 0 means unlimited.
	MaxPackets int

	// DrainOnShutdown keeps sending pending deliveries at their scheduled
	// times after the loop stops. When false they are dropped.
	DrainOnShutdown bool

	// DrainTimeout bounds the drain. Deliveries scheduled later are dropped.
	// Zero sends only the deliveries already due and never waits.
	DrainTimeout time.Duration

	// Clock supplies monotonic time for scheduling. Defaults to the wall clock.
	Clock clock.Clock

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Logger for relay events
	Logger *slog.Logger
}

// Stats is a snapshot of relay counters.
type Stats struct {
	Received  uint64
	Forwarded uint64
	Dropped   uint64
	Pending   int
}

// Relay forwards datagrams between one client and the upstream through a
// single socket, delaying them as the sampler dictates and recording each one.
// Run must be called from a single goroutine; Running, Pending and Stats may
// be called concurrently.
type Relay struct {
	config  Config
	conn    net.PacketConn
	sampler *delay.Sampler
	sink    capture.Sink
	session *session.State
	queue   *queue.Queue
	buf     []byte

	processed int
	running   atomic.Bool
	pending   atomic.Int64
	received  atomic.Uint64
	forwarded atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a relay on an already bound socket. The relay does not close conn.
func New(cfg Config, conn net.PacketConn, sampler *delay.Sampler, sink capture.Sink) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if sampler == nil {
		sampler = delay.NewSampler(delay.Config{}, nil)
	}
	if sink == nil {
		sink = capture.NoopSink{}
	}
	cfg.Upstream = session.Normalize(cfg.Upstream)

	return &Relay{
		config:  cfg,
		conn:    conn,
		sampler: sampler,
		sink:    sink,
		session: session.New(cfg.Upstream, cfg.Logger),
		queue:   queue.New(),
		buf:     make([]byte, MaxDatagramSize),
	}
}

// Run drives the relay until ctx is cancelled, MaxPackets datagrams have been
// processed, or the socket or capture sink fails. Cancellation and reaching
// MaxPackets are clean stops and return nil. Deliveries still pending at that
// point are handled according to DrainOnShutdown.
func (r *Relay) Run(ctx context.Context) error {
	r.running.Store(true)
	defer r.running.Store(false)

	// Wake a blocked read; the loop checks ctx before every wait.
	stop := context.AfterFunc(ctx, func() {
		r.conn.SetReadDeadline(aLongTimeAgo)
	})
	defer stop()

	r.config.Logger.Info("relay started",
		slog.String("address", r.conn.LocalAddr().String()),
		slog.String("upstream", r.config.Upstream.String()),
		slog.Int("max_packets", r.config.MaxPackets),
		slog.Bool("delay", r.sampler.Enabled()))

	for {
		done, err := r.runOnce(ctx)
		if err != nil {
			r.config.Logger.Error("relay stopped",
				slog.String("error", err.Error()),
				slog.Int("pending", r.queue.Len()))
			return err
		}
		if done {
			break
		}
	}

	if err := r.shutdown(); err != nil {
		return err
	}

	st := r.Stats()
	r.config.Logger.Info("relay stopped",
		slog.Uint64("received", st.Received),
		slog.Uint64("forwarded", st.Forwarded),
		slog.Uint64("dropped", st.Dropped))
	return nil
}

// runOnce flushes due deliveries, waits for one datagram bounded by the next
// deadline and handles it. It reports whether the loop should stop.
func (r *Relay) runOnce(ctx context.Context) (bool, error) {
	if err := r.flush(); err != nil {
		return false, err
	}

	// A zero deadline waits indefinitely.
	deadline, _ := r.queue.Deadline()
	if err := r.conn.SetReadDeadline(deadline); err != nil {
		return false, pkgerrors.New("receive", "", pkgerrors.Join(pkgerrors.ErrTransport, err))
	}
	if ctx.Err() != nil {
		return true, nil
	}

	n, from, err := r.conn.ReadFrom(r.buf)
	if err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return false, nil
		}
		return false, pkgerrors.New("receive", "", pkgerrors.Join(pkgerrors.ErrTransport, err))
	}

	if err := r.handle(from, r.buf[:n]); err != nil {
		return false, err
	}

	r.processed++
	return r.config.MaxPackets > 0 && r.processed >= r.config.MaxPackets, nil
}

// handle classifies one datagram, records it and sends, schedules or drops it.
func (r *Relay) handle(from net.Addr, data []byte) error {
	src, err := addrPort(from)
	if err != nil {
		return pkgerrors.New("receive", from.String(), pkgerrors.Join(pkgerrors.ErrTransport, err))
	}
	src = session.Normalize(src)
	// The read buffer is reused; the payload must outlive this iteration.
	payload := bytes.Clone(data)
	now := r.config.Clock.Now()

	route := r.session.Classify(src)
	if route.Rebound {
		r.config.Metrics.ObserveSessionChange()
	}
	r.received.Add(1)
	r.config.Metrics.ObserveReceived(string(route.Direction), len(payload))

	var delayMs float64
	if route.Known {
		delayMs = r.sampler.SampleMs()
	}

	ev := capture.Event{
		Time:      now,
		Direction: route.Direction,
		Src:       src,
		Dst:       route.Dst,
		DstKnown:  route.Known,
		Payload:   payload,
		DelayMs:   delayMs,
	}
	if err := r.sink.Record(ev); err != nil {
		return pkgerrors.New("capture", src.String(), err)
	}

	switch {
	case !route.Known:
		r.dropped.Add(1)
		r.config.Metrics.ObserveDropped(metrics.ReasonUnknownClient, 1)
		r.config.Logger.Debug("no client yet, dropping upstream datagram",
			slog.String("src", src.String()),
			slog.Int("len", len(payload)))
		return nil
	case delayMs <= 0:
		return r.send(payload, route.Dst)
	default:
		d := delay.Duration(delayMs)
		r.queue.Push(now.Add(d), payload, route.Dst)
		r.config.Metrics.ObserveDelay(d)
		r.updatePending()
		return nil
	}
}

// flush sends every delivery due at the current time, in (time, sequence) order.
func (r *Relay) flush() error {
	now := r.config.Clock.Now()
	defer r.updatePending()
	for {
		d, ok := r.queue.PopDue(now)
		if !ok {
			return nil
		}
		if err := r.send(d.Payload, d.Dst); err != nil {
			return err
		}
	}
}

func (r *Relay) send(payload []byte, dst netip.AddrPort) error {
	if _, err := r.conn.WriteTo(payload, net.UDPAddrFromAddrPort(dst)); err != nil {
		return pkgerrors.New("send", dst.String(), pkgerrors.Join(pkgerrors.ErrTransport, err))
	}
	r.forwarded.Add(1)
	r.config.Metrics.ObserveForwarded(string(r.directionTo(dst)))
	return nil
}

func (r *Relay) directionTo(dst netip.AddrPort) session.Direction {
	if dst == r.session.Upstream() {
		return session.ClientToServer
	}
	return session.ServerToClient
}

// shutdown applies the drain policy to deliveries still pending.
func (r *Relay) shutdown() error {
	if r.queue.Len() == 0 {
		return nil
	}
	if r.config.DrainOnShutdown {
		if err := r.drain(); err != nil {
			return err
		}
	}

	if n := r.queue.Clear(); n > 0 {
		r.dropped.Add(uint64(n))
		r.config.Metrics.ObserveDropped(metrics.ReasonShutdown, n)
		r.updatePending()
		r.config.Logger.Warn("dropped pending deliveries on shutdown",
			slog.Int("count", n),
			slog.Bool("drain", r.config.DrainOnShutdown))
	}
	return nil
}

// drain keeps sending pending deliveries at their scheduled times without
// reading, until the queue is empty or the next one falls past DrainTimeout.
func (r *Relay) drain() error {
	limit := r.config.Clock.Now().Add(r.config.DrainTimeout)
	r.config.Logger.Info("draining pending deliveries",
		slog.Int("pending", r.queue.Len()),
		slog.Duration("timeout", r.config.DrainTimeout))

	for {
		at, ok := r.queue.Deadline()
		if !ok || at.After(limit) {
			return nil
		}
		if wait := at.Sub(r.config.Clock.Now()); wait > 0 {
			r.config.Clock.Sleep(wait)
		}
		if err := r.flush(); err != nil {
			return err
		}
	}
}

func (r *Relay) updatePending() {
	n := r.queue.Len()
	r.pending.Store(int64(n))
	r.config.Metrics.SetPending(n)
}

// Running reports whether Run is currently executing.
func (r *Relay) Running() bool {
	return r.running.Load()
}

// Pending returns the number of deliveries waiting to be sent.
func (r *Relay) Pending() int {
	return int(r.pending.Load())
}

// Status reports the pending queue size and fails when the loop is not
// running. It has the shape of a health probe.
func (r *Relay) Status(ctx context.Context) (string, error) {
	msg := fmt.Sprintf("pending=%d", r.Pending())
	if !r.Running() {
		return msg, errors.New("relay loop not running")
	}
	return msg, nil
}

// Stats returns a snapshot of the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Received:  r.received.Load(),
		Forwarded: r.forwarded.Load(),
		Dropped:   r.dropped.Load(),
		Pending:   r.Pending(),
	}
}

// Client returns the current client address, if any. Not safe during Run.
func (r *Relay) Client() (netip.AddrPort, bool) {
	return r.session.Client()
}

func addrPort(addr net.Addr) (netip.AddrPort, error) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.AddrPort(), nil
	default:
		ap, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("unsupported peer address %q: %w", addr, err)
		}
		return ap, nil
	}
}
