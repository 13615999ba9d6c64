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

import "github.com/kami-reactor/reactor/internal/poller"

type channelState int

const (
	channelNew channelState = iota
	channelAdded
	channelDeleted
)

// tie is the weak back-reference from a channel to its owning object
// (always a *Connection in this package). It is upgraded to a strong
// reference for the duration of one dispatch, mirroring the original's
// std::weak_ptr tie_.
type tie interface {
	// upgrade returns (self, true) if the owner is still alive.
	upgrade() (owner any, ok bool)
}

// channel binds one fd to an EventLoop and up to four event callbacks. It
// does not own the fd. All methods must run on the owning loop's thread.
type channel struct {
	loop *EventLoop
	fd   int

	interest uint32
	revents  uint32
	state    channelState

	tied bool
	tie  tie

	readCallback  func(Timestamp)
	writeCallback func()
	closeCallback func()
	errorCallback func()
}

func newChannel(loop *EventLoop, fd int) *channel {
	return &channel{loop: loop, fd: fd, state: channelNew}
}

func (c *channel) setReadCallback(cb func(Timestamp)) { c.readCallback = cb }
func (c *channel) setWriteCallback(cb func())         { c.writeCallback = cb }
func (c *channel) setCloseCallback(cb func())         { c.closeCallback = cb }
func (c *channel) setErrorCallback(cb func())         { c.errorCallback = cb }

// setTie installs the weak owner reference; the channel upgrades it before
// every dispatch once set.
func (c *channel) setTie(t tie) {
	c.tie = t
	c.tied = true
}

func (c *channel) isWriting() bool { return c.interest&poller.Writable != 0 }
func (c *channel) isReading() bool { return c.interest&poller.Readable != 0 }
func (c *channel) isNoneEvent() bool { return c.interest == 0 }

func (c *channel) enableReading() {
	c.interest |= poller.Readable
	c.update()
}

func (c *channel) disableReading() {
	c.interest &^= poller.Readable
	c.update()
}

func (c *channel) enableWriting() {
	c.interest |= poller.Writable
	c.update()
}

func (c *channel) disableWriting() {
	c.interest &^= poller.Writable
	c.update()
}

func (c *channel) disableAll() {
	c.interest = 0
	c.update()
}

func (c *channel) update() {
	c.loop.updateChannel(c)
}

func (c *channel) remove() {
	c.loop.removeChannel(c)
}

// setRevents records the last multiplexer-reported readiness mask.
func (c *channel) setRevents(revents uint32) { c.revents = revents }

// handleEvent dispatches the last-reported revents to the installed
// callbacks, gated on the weak tie still resolving to a live owner.
func (c *channel) handleEvent(ts Timestamp) {
	if c.tied {
		if _, ok := c.tie.upgrade(); !ok {
			return
		}
	}
	c.handleEventWithGuard(ts)
}

// handleEventWithGuard runs the dispatch order the spec requires: hang-up
// without readable data closes first, then error, then read, then write.
// A simultaneous hangup-and-readable indication still runs read so that a
// final chunk of data is never dropped ahead of the peer's close.
func (c *channel) handleEventWithGuard(ts Timestamp) {
	if c.revents&poller.Hangup != 0 && c.revents&poller.Readable == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if c.revents&poller.Error != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.revents&poller.Readable != 0 {
		if c.readCallback != nil {
			c.readCallback(ts)
		}
	}
	if c.revents&poller.Writable != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}
