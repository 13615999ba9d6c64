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

package reactor

import (
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// pairedConnections wires a live socketpair into two Connections, each
// driven by its own running loop, the same shape a real TCP accept puts a
// Connection into: registered, CONNECTED, and pumping events.
func pairedConnections(t *testing.T) (a, b *Connection, stopA, stopB func()) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}

	loopA, stopA := newRunningLoop(t)
	loopB, stopB := newRunningLoop(t)

	local := mustAddr(t, "127.0.0.1:1")
	peer := mustAddr(t, "127.0.0.1:2")

	// In the real Server, a Connection's close callback hops to the main
	// loop to mutate the connection table, then posts connectDestroyed back
	// onto the connection's own loop. There is no server here, so wire the
	// close callback straight to connectDestroyed to exercise the same
	// handleClose -> connectDestroyed sequence the real hand-off produces.
	connACh := make(chan *Connection, 1)
	loopA.RunInLoop(func() {
		conn := newConnection(loopA, "a", fds[0], local, peer)
		conn.setCloseCallback(func(c *Connection) { c.Loop().QueueInLoop(c.connectDestroyed) })
		conn.connectEstablished()
		connACh <- conn
	})
	connBCh := make(chan *Connection, 1)
	loopB.RunInLoop(func() {
		conn := newConnection(loopB, "b", fds[1], peer, local)
		conn.setCloseCallback(func(c *Connection) { c.Loop().QueueInLoop(c.connectDestroyed) })
		conn.connectEstablished()
		connBCh <- conn
	})

	return <-connACh, <-connBCh, stopA, stopB
}

func mustAddr(t *testing.T, s string) Address {
	t.Helper()
	addr, err := ParseAddress(s)
	if err != nil {
		t.Fatalf("ParseAddress(%q): %v", s, err)
	}
	return addr
}

func TestConnectionMessageRoundTrip(t *testing.T) {
	a, b, stopA, stopB := pairedConnections(t)
	defer stopA()
	defer stopB()

	received := make(chan string, 1)
	b.loop.RunInLoop(func() {
		b.setMessageCallback(func(conn *Connection, buf *Buffer, _ Timestamp) {
			received <- buf.RetrieveAllAsString()
		})
	})

	a.Send([]byte("ping"))

	select {
	case got := <-received:
		if got != "ping" {
			t.Fatalf("received %q, want %q", got, "ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message callback")
	}
}

func TestConnectionHighWaterMarkFiresOnceUntilDrained(t *testing.T) {
	a, b, stopA, stopB := pairedConnections(t)
	defer stopA()
	defer stopB()

	const mark = 1024
	var mu sync.Mutex
	trips := 0
	a.loop.RunInLoop(func() {
		a.setHighWaterMarkCallback(func(conn *Connection, n int) {
			mu.Lock()
			trips++
			mu.Unlock()
		}, mark)
	})

	// Stall b's side so a's output buffer actually piles up instead of
	// draining straight to the kernel.
	b.loop.RunInLoop(func() { b.ch.disableReading() })

	payload := make([]byte, 64*1024)
	for i := 0; i < 200; i++ {
		a.Send(payload)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := trips
		mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// b never drains, so the output buffer cannot fall back below the mark.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if trips == 0 {
		t.Fatal("high water mark callback never fired under sustained backpressure")
	}
	if trips != 1 {
		t.Fatalf("high water mark callback fired %d times without a drain, want exactly 1", trips)
	}
}

func TestConnectionCloseExactlyOnce(t *testing.T) {
	a, b, stopA, stopB := pairedConnections(t)
	defer stopA()
	defer stopB()

	var mu sync.Mutex
	downCount := 0
	done := make(chan struct{})
	b.loop.RunInLoop(func() {
		b.setConnectionCallback(func(conn *Connection) {
			if conn.Connected() {
				return
			}
			mu.Lock()
			downCount++
			mu.Unlock()
			close(done)
		})
	})

	a.loop.RunInLoop(func() { unix.Close(a.fd) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for peer close to be observed")
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if downCount != 1 {
		t.Fatalf("connection-down callback fired %d times, want exactly 1", downCount)
	}
}
