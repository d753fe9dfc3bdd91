// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package queue holds datagrams whose forwarding has been deferred to a later time.
package queue

import (
	"container/heap"
	"net/netip"
	"time"
)

// Delivery is a datagram scheduled to be sent at a specific time.
type Delivery struct {
	// At is the earliest time the payload may be sent.
	At time.Time

	// Payload is the datagram exactly as received.
	Payload []byte

	// Dst is where the payload is sent.
	Dst netip.AddrPort

	// Seq breaks ties between deliveries with the same At, in push order.
	Seq uint64
}

// Queue is a min-heap of deliveries ordered by (At, Seq).
// Payload bytes never take part in ordering.
// It is not safe for concurrent use.
type Queue struct {
	items deliveries
	seq   uint64
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Push schedules payload for dst at the given time and returns the stored delivery.
func (q *Queue) Push(at time.Time, payload []byte, dst netip.AddrPort) Delivery {
	q.seq++
	d := Delivery{
		At:      at,
		Payload: payload,
		Dst:     dst,
		Seq:     q.seq,
	}
	heap.Push(&q.items, d)
	return d
}

// Deadline returns the scheduled time of the earliest delivery.
func (q *Queue) Deadline() (time.Time, bool) {
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].At, true
}

// PopDue removes and returns the earliest delivery if it is due at now.
func (q *Queue) PopDue(now time.Time) (Delivery, bool) {
	if len(q.items) == 0 || q.items[0].At.After(now) {
		return Delivery{}, false
	}
	return heap.Pop(&q.items).(Delivery), true
}

// Pop removes and returns the earliest delivery regardless of its time.
func (q *Queue) Pop() (Delivery, bool) {
	if len(q.items) == 0 {
		return Delivery{}, false
	}
	return heap.Pop(&q.items).(Delivery), true
}

// Len returns the number of pending deliveries.
func (q *Queue) Len() int {
	return len(q.items)
}

// Clear drops every pending delivery and returns how many were dropped.
func (q *Queue) Clear() int {
	n := len(q.items)
	q.items = nil
	return n
}

type deliveries []Delivery

func (d deliveries) Len() int { return len(d) }

func (d deliveries) Less(i, j int) bool {
	if c := d[i].At.Compare(d[j].At); c != 0 {
		return c < 0
	}
	return d[i].Seq < d[j].Seq
}

func (d deliveries) Swap(i, j int) { d[i], d[j] = d[j], d[i] }

func (d *deliveries) Push(x any) {
	*d = append(*d, x.(Delivery))
}

func (d *deliveries) Pop() any {
	old := *d
	n := len(old)
	item := old[n-1]
	old[n-1] = Delivery{}
	*d = old[:n-1]
	return item
}
