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
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/kami-reactor/reactor/internal/sockopt"
)

// ServerOption customizes a Server at construction time.
type ServerOption func(*Server)

// WithThreadNum sets the number of I/O worker loops behind the acceptor's
// loop. Zero (the default) runs everything, accept and I/O alike, on the
// single main loop.
func WithThreadNum(n int) ServerOption {
	return func(s *Server) { s.pool.SetThreadNum(n) }
}

// WithThreadInitCallback installs a hook run on each worker loop right
// after it's constructed and before it starts polling.
func WithThreadInitCallback(cb func(*EventLoop)) ServerOption {
	return func(s *Server) { s.threadInitCallback = cb }
}

// WithReusePort enables SO_REUSEPORT on the listening socket, letting
// multiple processes (or, on platforms that honor it, multiple sockets in
// this one) share the same listening port with kernel-level load spreading.
func WithReusePort() ServerOption {
	return func(s *Server) { s.reusePort = true }
}

// WithHighWaterMark overrides the default per-connection output high-water
// mark, in bytes, at which HighWaterMarkCallback fires.
func WithHighWaterMark(n int) ServerOption {
	return func(s *Server) { s.highWaterMark = n }
}

// Server accepts inbound TCP connections on a listening address and
// dispatches each to one loop out of a round-robin pool. It is the
// package's externally facing type; embedders construct one, install
// callbacks, and call Start.
type Server struct {
	loop     *EventLoop
	name     string
	local    Address
	acceptor *acceptor
	pool     *LoopPool

	reusePort     bool
	highWaterMark int

	threadInitCallback func(*EventLoop)

	mu          sync.Mutex
	connections map[string]*Connection
	nextConnID  int

	started atomic.Uint32

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
}

// NewServer creates a Server bound to local, driven by loop as its main
// (acceptor) loop. loop must not yet be running.
func NewServer(loop *EventLoop, name string, local Address, opts ...ServerOption) *Server {
	s := &Server{
		loop:          loop,
		name:          name,
		local:         local,
		highWaterMark: defaultHighWaterMark,
		connections:   make(map[string]*Connection),
	}
	s.pool = NewLoopPool(loop, name)
	for _, opt := range opts {
		opt(s)
	}
	s.acceptor = newAcceptor(loop, local, s.reusePort)
	s.acceptor.newConnectionCallback = s.newConnection

	// bind(2) already assigns the real port by the time newAcceptor
	// returns, even for an ephemeral (:0) request, so resolve it now.
	if ip, port, err := sockopt.LocalAddr(s.acceptor.listenFd); err == nil {
		s.local = addressFromSockaddr4(ip, port)
	}
	return s
}

// ListenAddr returns the server's bound local address, with any ephemeral
// (:0) port resolved to the one the kernel actually assigned.
func (s *Server) ListenAddr() Address { return s.local }

// SetConnectionCallback installs the callback fired on every established
// and every torn-down connection. Must be set before Start.
func (s *Server) SetConnectionCallback(cb ConnectionCallback) { s.connectionCallback = cb }

// SetMessageCallback installs the callback fired whenever a connection has
// new input bytes. Must be set before Start.
func (s *Server) SetMessageCallback(cb MessageCallback) { s.messageCallback = cb }

// SetWriteCompleteCallback installs the callback fired once a Send's data
// has been fully written, whether by the direct write or after the output
// buffer drains. Must be set before Start.
func (s *Server) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	s.writeCompleteCallback = cb
}

// SetHighWaterMarkCallback installs the callback fired the moment a
// connection's output buffer crosses above the server's configured
// high-water mark (see WithHighWaterMark). Must be set before Start.
func (s *Server) SetHighWaterMarkCallback(cb HighWaterMarkCallback) {
	s.highWaterMarkCallback = cb
}

// Start spins up the worker pool and begins listening. Calling it more
// than once has no effect beyond the first call.
func (s *Server) Start() {
	if !s.started.CompareAndSwap(0, 1) {
		return
	}
	s.pool.Start(s.threadInitCallback)
	loop := s.loop
	loop.RunInLoop(func() {
		s.acceptor.listen()
		logInfo("server started listening", zap.String("server", s.name), zap.String("addr", s.local.String()))
	})
}

// AllLoops returns every I/O loop backing this server (the worker pool, or
// the main loop alone if no workers were configured).
func (s *Server) AllLoops() []*EventLoop { return s.pool.AllLoops() }

func (s *Server) newConnection(connFd int, peer Address) {
	s.loop.assertInLoopThread()

	loop := s.pool.Next()

	s.mu.Lock()
	s.nextConnID++
	connName := fmt.Sprintf("%s-%s#%d", s.name, s.local.String(), s.nextConnID)
	s.mu.Unlock()

	localIP, localPort, err := sockopt.LocalAddr(connFd)
	local := s.local
	if err == nil {
		local = addressFromSockaddr4(localIP, localPort)
	}

	conn := newConnection(loop, connName, connFd, local, peer)
	conn.setConnectionCallback(s.connectionCallback)
	conn.setMessageCallback(s.messageCallback)
	conn.setWriteCompleteCallback(s.writeCompleteCallback)
	conn.setHighWaterMarkCallback(s.highWaterMarkCallback, s.highWaterMark)
	conn.setCloseCallback(s.removeConnection)

	s.mu.Lock()
	s.connections[connName] = conn
	s.mu.Unlock()

	loop.RunInLoop(conn.connectEstablished)
}

// removeConnection is the Connection close callback: it always runs on the
// connection's own I/O loop, then hops back to the server's main loop to
// mutate the shared connection table, the same two-hop pattern the
// original uses to keep that map touched from one thread only.
func (s *Server) removeConnection(conn *Connection) {
	s.loop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *Server) removeConnectionInLoop(conn *Connection) {
	s.loop.assertInLoopThread()

	s.mu.Lock()
	delete(s.connections, conn.Name())
	s.mu.Unlock()

	conn.Loop().QueueInLoop(conn.connectDestroyed)
}

// Close stops accepting new connections, forces every live connection
// closed, and joins the worker pool.
func (s *Server) Close() error {
	s.loop.RunInLoop(func() {
		s.acceptor.close()
	})

	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.ForceClose()
	}

	return s.pool.Stop()
}
