// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package capture records every datagram seen by the relay.
//
// # Line Format
//
// JSONSink writes one object per line and flushes it immediately:
//
//	{"ts":1700000000.123,"direction":"client_to_server","len":4,"src":"127.0.0.1:50000","dst":"127.0.0.1:4433","hex":"50494E47","delay_ms":12.5}
//
//   - ts: wall-clock receive time, Unix seconds
//   - direction: client_to_server or server_to_client
//   - len: payload length in bytes
//   - src, dst: host:port, IPv6 hosts bracketed; dst is null when the
//     datagram came from upstream before any client was seen
//   - hex: uppercase hexadecimal payload
//   - delay_ms: injected delay, omitted when the datagram was not delayed
//
// Events are recorded at receive time, before any delayed send happens.
package capture
