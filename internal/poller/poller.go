// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package poller wraps the platform readiness multiplexer (epoll on Linux,
// kqueue on BSD/Darwin) behind one interface, normalizing both backends'
// event masks onto a single bitset so the rest of the reactor never
// branches on GOOS.
package poller

// Interest/revents bitset, normalized across epoll and kqueue.
const (
	Readable uint32 = 1 << iota
	Writable
	Hangup
	Error
)

// Event reports the normalized revents mask observed for one fd.
type Event struct {
	Fd      int
	Revents uint32
}

// Poller is the per-loop readiness multiplexer: a fd -> registration table
// plus the kernel readiness primitive. One Poller belongs to exactly one
// EventLoop and must only be driven from that loop's thread.
type Poller interface {
	// Poll blocks up to timeoutMs milliseconds and appends ready events to
	// dst, returning the (possibly grown) slice.
	Poll(timeoutMs int, dst []Event) ([]Event, error)

	// Add registers fd for the given interest mask. fd must not already be
	// registered.
	Add(fd int, interest uint32) error

	// Modify updates the interest mask of an already-registered fd.
	Modify(fd int, interest uint32) error

	// Remove drops fd from the table. For an fd that is not registered or
	// is already closed, the epoll backend returns the kernel's error; the
	// kqueue backend returns nil when it has no filter recorded for fd.
	Remove(fd int) error

	// Close releases the underlying kernel object (epoll/kqueue fd).
	Close() error
}
