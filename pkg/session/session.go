// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"log/slog"
	"net/netip"

	"github.com/google/uuid"
)

// Direction is the forwarding direction inferred for a datagram.
type Direction string

const (
	// ClientToServer marks datagrams from any non-upstream address.
	ClientToServer Direction = "client_to_server"

	// ServerToClient marks datagrams from the upstream address.
	ServerToClient Direction = "server_to_client"
)

// Route is the outcome of classifying one arrival.
type Route struct {
	Direction Direction

	// Dst is the forwarding destination. Only meaningful when Known is true.
	Dst netip.AddrPort

	// Known is false when upstream spoke before any client was seen.
	Known bool

	// Rebound is true when this arrival replaced the client binding.
	Rebound bool
}

// State binds "the client" to the non-upstream address that most recently
// sent a datagram. Only one client is tracked at a time.
// It is not safe for concurrent use.
type State struct {
	upstream netip.AddrPort
	client   netip.AddrPort
	bound    bool
	id       string
	logger   *slog.Logger
}

// New creates session state for the given upstream address.
func New(upstream netip.AddrPort, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		upstream: Normalize(upstream),
		logger:   logger,
	}
}

// Classify maps an arrival address to its direction and destination.
// Arrivals from any address other than upstream rebind the client.
func (s *State) Classify(from netip.AddrPort) Route {
	from = Normalize(from)
	if from == s.upstream {
		return Route{
			Direction: ServerToClient,
			Dst:       s.client,
			Known:     s.bound,
		}
	}

	rebound := !s.bound || s.client != from
	if rebound {
		s.rebind(from)
	}
	return Route{
		Direction: ClientToServer,
		Dst:       s.upstream,
		Known:     true,
		Rebound:   rebound,
	}
}

func (s *State) rebind(client netip.AddrPort) {
	prev := "none"
	if s.bound {
		prev = s.client.String()
	}
	s.client = client
	s.bound = true
	s.id = uuid.New().String()

	s.logger.Info("client session changed",
		slog.String("session", s.id),
		slog.String("previous", prev),
		slog.String("client", client.String()))
}

// Client returns the current client address, if one has been observed.
func (s *State) Client() (netip.AddrPort, bool) {
	return s.client, s.bound
}

// ID returns the identifier of the current client binding, or "" if none.
func (s *State) ID() string {
	return s.id
}

// Upstream returns the configured upstream address.
func (s *State) Upstream() netip.AddrPort {
	return s.upstream
}

// Normalize unmaps IPv4-mapped IPv6 addresses so that the same peer compares
// equal whether it arrived on a dual-stack or an IPv4 socket.
func Normalize(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
