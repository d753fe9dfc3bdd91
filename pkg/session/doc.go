// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package session tracks which peer is "the client" of the capture relay and
// infers the direction of every datagram arriving on the relay socket.
//
// # Classification
//
//	arrival == upstream  → server_to_client, dst = last client (or unknown)
//	arrival != upstream  → client_to_server, dst = upstream, client := arrival
//
// A second distinct client address silently replaces the first. Every
// rebinding mints a fresh session ID (uuid) that is logged so that captures
// can be correlated with operational logs.
//
// Addresses are compared as netip.AddrPort values after unmapping
// IPv4-mapped IPv6 addresses.
package session
