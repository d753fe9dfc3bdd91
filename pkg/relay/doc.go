// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package relay implements the capture relay: a single-socket UDP relay
// between one client and a fixed upstream, with injected latency.
//
// # Overview
//
// The relay owns one bound socket. Whoever sends to it from an address other
// than the upstream becomes "the client"; datagrams from the upstream are sent
// back to the most recent client.
//
// # Architecture
//
//	┌─────────┐         ┌─────────┐         ┌──────────┐
//	│ Client  │ ←─UDP─→ │  Relay  │ ←─UDP─→ │ Upstream │
//	└─────────┘         └─────────┘         └──────────┘
//	                         │
//	            ┌────────────┼─────────────┐
//	            ↓            ↓             ↓
//	       ┌─────────┐  ┌─────────┐  ┌──────────┐
//	       │ Session │  │  Delay  │  │ Capture  │
//	       │  State  │  │ Sampler │  │   Sink   │
//	       └─────────┘  └─────────┘  └──────────┘
//	                         │
//	                    ┌─────────┐
//	                    │  Queue  │
//	                    └─────────┘
//
// # Event Loop
//
// Run is a single-goroutine loop. Each iteration:
//
//	1. Sends every queued delivery whose time has come, earliest first.
//	2. Sets the socket read deadline to the earliest pending delivery
//	   (no deadline when nothing is pending).
//	3. Reads one datagram. A deadline expiry just loops back to step 1, so
//	   delayed datagrams go out even when no further traffic arrives.
//	4. Classifies the datagram, samples a delay for it when its destination
//	   is known, records a capture event, then sends it right away, queues
//	   it, or drops it when the upstream spoke before any client.
//	5. Stops once MaxPackets datagrams have been processed.
//
// Sends happen only on the Run goroutine, strictly in (time, sequence) order,
// and never before a delivery's scheduled time.
//
// # Shutdown
//
// Cancelling the context wakes a blocked read and the loop stops before its
// next wait. Reaching MaxPackets stops it the same way. Deliveries still
// queued at that point are dropped and counted unless DrainOnShutdown is set,
// in which case they are sent at their scheduled times for at most
// DrainTimeout. A zero DrainTimeout sends only what is already due. Both
// stops return nil.
//
// # Error Handling
//
//   - Receive or send failure: fatal, Run returns an error wrapping ErrTransport
//   - Capture sink failure: fatal, Run returns an error wrapping ErrCapture
//   - Upstream datagram with no known client: recorded, not forwarded
//
// No socket error is retried; transient and permanent failures are not told
// apart.
//
// # Example
//
//	conn, _ := net.ListenUDP("udp4", listenAddr)
//	defer conn.Close()
//
//	sampler := delay.NewSampler(delay.Config{BaseMs: 50, JitterMs: 10, Distribution: delay.Uniform}, delay.NewSource(0))
//	r := relay.New(relay.Config{
//		Upstream:   upstream,
//		MaxPackets: 0,
//		Logger:     logger,
//	}, conn, sampler, capture.NewJSONSink(os.Stdout))
//
//	if err := r.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
package relay
