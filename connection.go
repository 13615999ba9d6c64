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
	"golang.org/x/sys/unix"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/kami-reactor/reactor/internal/sockopt"
)

// connState is the connection's lifecycle state. It only ever moves
// forward: CONNECTING -> CONNECTED -> (DISCONNECTING ->) DISCONNECTED.
type connState int32

const (
	connConnecting connState = iota
	connConnected
	connDisconnecting
	connDisconnected
)

func (s connState) String() string {
	switch s {
	case connConnecting:
		return "CONNECTING"
	case connConnected:
		return "CONNECTED"
	case connDisconnecting:
		return "DISCONNECTING"
	case connDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// ConnectionCallback is invoked once a Connection reaches CONNECTED and
// again, with the same Connection, once it reaches DISCONNECTED.
type ConnectionCallback func(*Connection)

// MessageCallback is invoked whenever new bytes have been appended to a
// Connection's input buffer.
type MessageCallback func(conn *Connection, buf *Buffer, receiveTime Timestamp)

// WriteCompleteCallback is invoked once a Send's data has been fully handed
// to the kernel: right after a direct write that took all of it, or once
// the output buffer has drained after a Send that could not complete
// synchronously.
type WriteCompleteCallback func(*Connection)

// HighWaterMarkCallback is invoked the moment a Connection's output buffer
// crosses above its configured high-water mark, and will not fire again
// until the buffer has drained back below it.
type HighWaterMarkCallback func(conn *Connection, outputBytes int)

// CloseCallback is the internal hook the owning Server installs to learn
// when a Connection has fully torn down, so it can remove it from its
// connection table. It is not exposed to embedders directly.
type CloseCallback func(*Connection)

const defaultHighWaterMark = 64 * 1024 * 1024

// Connection represents one established TCP connection, handed to its own
// I/O loop for its entire lifetime. None of its methods except Send,
// Shutdown and ForceClose are safe to call from outside that loop; those
// three hop onto the loop themselves when called from elsewhere.
type Connection struct {
	loop *EventLoop
	name string
	fd   int
	ch   *channel

	local Address
	peer  Address

	state atomic.Int32

	input  *Buffer
	output *Buffer

	highWaterMark    int
	highWaterTripped bool

	context any

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	closeCallback         CloseCallback
}

func newConnection(loop *EventLoop, name string, fd int, local, peer Address) *Connection {
	c := &Connection{
		loop:          loop,
		name:          name,
		fd:            fd,
		local:         local,
		peer:          peer,
		input:         NewBuffer(),
		output:        NewBuffer(),
		highWaterMark: defaultHighWaterMark,
	}
	c.state.Store(int32(connConnecting))
	c.ch = newChannel(loop, fd)
	c.ch.setReadCallback(c.handleRead)
	c.ch.setWriteCallback(c.handleWrite)
	c.ch.setCloseCallback(c.handleClose)
	c.ch.setErrorCallback(c.handleError)
	c.ch.setTie(connTie{c})
	sockopt.SetKeepAlive(fd, true)
	return c
}

// connTie implements the channel.tie interface with a strong reference;
// Go's garbage collector, unlike the original's shared_ptr/weak_ptr pair,
// keeps the Connection alive as long as anything (including this tie)
// still references it, so "upgrade" only needs to check liveness, not
// extend a lifetime.
type connTie struct{ c *Connection }

func (t connTie) upgrade() (any, bool) {
	return t.c, t.c.getState() != connDisconnected
}

func (c *Connection) getState() connState { return connState(c.state.Load()) }

// Name returns the connection's identifier, assigned by its owning Server.
func (c *Connection) Name() string { return c.name }

// LocalAddr returns the local endpoint.
func (c *Connection) LocalAddr() Address { return c.local }

// PeerAddr returns the remote endpoint.
func (c *Connection) PeerAddr() Address { return c.peer }

// Connected reports whether the connection is in the CONNECTED state.
func (c *Connection) Connected() bool { return c.getState() == connConnected }

// Loop returns the I/O loop this connection is bound to.
func (c *Connection) Loop() *EventLoop { return c.loop }

// SetContext attaches an arbitrary value to the connection, for embedders
// who need to stash per-connection state (a session, a parser) without a
// side map keyed by connection name.
func (c *Connection) SetContext(ctx any) { c.context = ctx }

// Context returns the value last passed to SetContext, or nil.
func (c *Connection) Context() any { return c.context }

func (c *Connection) setConnectionCallback(cb ConnectionCallback)       { c.connectionCallback = cb }
func (c *Connection) setMessageCallback(cb MessageCallback)             { c.messageCallback = cb }
func (c *Connection) setWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCallback = cb }
func (c *Connection) setHighWaterMarkCallback(cb HighWaterMarkCallback, mark int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = mark
}
func (c *Connection) setCloseCallback(cb CloseCallback) { c.closeCallback = cb }

// connectEstablished transitions CONNECTING -> CONNECTED, registers the
// channel for readability, and fires the connection callback. Called once
// by the Server, on this connection's loop.
func (c *Connection) connectEstablished() {
	c.loop.assertInLoopThread()
	c.state.Store(int32(connConnected))
	c.ch.enableReading()
	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
}

// connectDestroyed, if the connection is still CONNECTED, transitions it to
// DISCONNECTED, disables its events and fires the connection callback a
// second time; in every case it removes the channel and closes the fd.
// After handleClose the state is already DISCONNECTED, so the callback is
// not fired again here. The Server posts it once onto this connection's
// loop after dropping the connection from its table.
func (c *Connection) connectDestroyed() {
	c.loop.assertInLoopThread()
	if c.getState() == connConnected {
		c.state.Store(int32(connDisconnected))
		c.ch.disableAll()
		if c.connectionCallback != nil {
			c.connectionCallback(c)
		}
	}
	c.ch.remove()
	unix.Close(c.fd)
}

func (c *Connection) handleRead(receiveTime Timestamp) {
	c.loop.assertInLoopThread()

	n, err := c.input.ReadFromFD(c.fd)
	switch {
	case n > 0:
		if c.messageCallback != nil {
			c.messageCallback(c, c.input, receiveTime)
		}
	case err == unix.EAGAIN || err == unix.EINTR:
		// Silent: the event will fire again.
	case err != nil:
		logError("connection read error", zap.String("conn", c.name), zap.Error(err))
		c.handleError()
	default:
		c.handleClose()
	}
}

func (c *Connection) handleWrite() {
	c.loop.assertInLoopThread()

	if !c.ch.isWriting() {
		return
	}
	n, err := c.output.WriteToFD(c.fd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		logError("connection write error", zap.String("conn", c.name), zap.Error(err))
		return
	}
	c.output.Retrieve(n)
	if c.output.ReadableBytes() < c.highWaterMark {
		c.highWaterTripped = false
	}
	if c.output.ReadableBytes() == 0 {
		c.ch.disableWriting()
		if c.writeCompleteCallback != nil {
			c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
		}
		if c.getState() == connDisconnecting {
			c.shutdownInLoop()
		}
	}
}

// handleClose flips the connection's visible state to DISCONNECTED before
// invoking the close callback, so a Server walking its connection table
// from inside that callback never observes a connection that looks
// CONNECTED but is already being torn down.
func (c *Connection) handleClose() {
	c.loop.assertInLoopThread()
	state := c.getState()
	if state == connDisconnected {
		return
	}
	c.state.Store(int32(connDisconnected))
	c.ch.disableAll()

	conn := c
	if c.connectionCallback != nil {
		c.connectionCallback(conn)
	}
	if c.closeCallback != nil {
		c.closeCallback(conn)
	}
}

func (c *Connection) handleError() {
	if err := sockopt.SocketError(c.fd); err != nil {
		logError("connection socket error", zap.String("conn", c.name), zap.Error(err))
	}
}

// Send queues data for delivery, attempting a synchronous write first when
// called from the owning loop's thread. If data cannot be written in one
// shot it is appended to the output buffer and the channel starts watching
// for writability; partial writes are never reordered relative to later
// Send calls because everything past the first attempt always goes through
// the output buffer in FIFO order.
func (c *Connection) Send(data []byte) {
	if c.getState() != connConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return
	}
	buf := append([]byte(nil), data...)
	c.loop.QueueInLoop(func() { c.sendInLoop(buf) })
}

func (c *Connection) sendInLoop(data []byte) {
	c.loop.assertInLoopThread()
	if c.getState() == connDisconnected {
		return
	}

	var written int
	if !c.ch.isWriting() && c.output.ReadableBytes() == 0 {
		n, err := unix.Write(c.fd, data)
		if err != nil {
			if err != unix.EAGAIN {
				logError("connection send error", zap.String("conn", c.name), zap.Error(err))
			}
			n = 0
		}
		written = n
		if written == len(data) {
			if c.writeCompleteCallback != nil {
				c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
			}
			return
		}
	}

	remaining := data[written:]
	if len(remaining) == 0 {
		return
	}

	before := c.output.ReadableBytes()
	c.output.Append(remaining)
	after := c.output.ReadableBytes()
	if after >= c.highWaterMark && before < c.highWaterMark && !c.highWaterTripped {
		c.highWaterTripped = true
		if c.highWaterMarkCallback != nil {
			c.loop.QueueInLoop(func() { c.highWaterMarkCallback(c, after) })
		}
	}
	if after < c.highWaterMark {
		c.highWaterTripped = false
	}
	if !c.ch.isWriting() {
		c.ch.enableWriting()
	}
}

// Shutdown half-closes the connection's write side once any buffered
// output has drained; the read side stays open until the peer closes or
// handleClose otherwise fires. Calling it more than once, or on a
// connection that is not CONNECTED, is a no-op.
func (c *Connection) Shutdown() {
	if c.getState() != connConnected {
		return
	}
	c.state.Store(int32(connDisconnecting))
	c.loop.RunInLoop(c.shutdownInLoop)
}

func (c *Connection) shutdownInLoop() {
	c.loop.assertInLoopThread()
	if c.ch.isWriting() {
		return
	}
	if err := sockopt.ShutdownWrite(c.fd); err != nil {
		logError("connection shutdown(SHUT_WR) failed", zap.String("conn", c.name), zap.Error(err))
	}
}

// ForceClose tears the connection down immediately, skipping any pending
// output, by delivering the same event the kernel would on a peer reset.
func (c *Connection) ForceClose() {
	if c.getState() == connDisconnected {
		return
	}
	c.state.Store(int32(connDisconnecting))
	c.loop.QueueInLoop(c.handleClose)
}
