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
	"errors"
	"runtime"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/kami-reactor/reactor/internal/poller"
	"github.com/kami-reactor/reactor/internal/tid"
)

// ErrLoopAffinity describes a caller reaching an EventLoop method from a
// goroutine other than the one the loop owns. No function in this package
// returns it: the mutating methods log such a violation as fatal and the
// process is terminated.
var ErrLoopAffinity = errors.New("reactor: called from outside the owning loop thread")

// pollTimeoutMs bounds how long Poll blocks per iteration; the loop wakes
// up sooner whenever a readiness event or a wakeup write arrives.
const pollTimeoutMs = 10000

// Task is a zero-argument unit of work posted onto an EventLoop, executed
// in FIFO submission order on that loop's own thread.
type Task func()

var (
	loopRegistryMu sync.Mutex
	loopRegistry   = map[int]*EventLoop{}
)

// EventLoop is a single-threaded reactor: it owns a readiness multiplexer,
// a set of registered channels, and a pending-task queue that lets other
// goroutines hand work to this loop's thread. Exactly one EventLoop may
// run per OS thread at a time.
type EventLoop struct {
	threadID int
	mux      poller.Poller

	channels map[int]*channel
	active   []poller.Event

	wakeupFd    int
	wakeupWrite func() error
	wakeupCh    *channel

	pendingMu      sync.Mutex
	pending        []Task
	callingPending atomic.Bool

	running atomic.Bool
	quit    atomic.Bool

	pollReturnTime Timestamp
}

// NewEventLoop constructs an EventLoop on the calling goroutine, pinning it
// to its current OS thread for the loop's lifetime. Constructing a second
// EventLoop on the same thread is a fatal initialization failure, exactly
// as a second muduo EventLoop on one pthread is.
func NewEventLoop() *EventLoop {
	runtime.LockOSThread()
	id := tid.Current()

	loopRegistryMu.Lock()
	if _, exists := loopRegistry[id]; exists {
		loopRegistryMu.Unlock()
		logFatal("another EventLoop already exists on this thread", zap.Int("thread", id))
		return nil // unreachable: logFatal exits the process
	}

	mux, err := poller.Open()
	if err != nil {
		loopRegistryMu.Unlock()
		logFatal("failed to open readiness multiplexer", zap.Error(err))
		return nil
	}

	wakeupFd, wakeupWrite, err := newWakeup()
	if err != nil {
		loopRegistryMu.Unlock()
		logFatal("failed to create wakeup fd", zap.Error(err))
		return nil
	}

	loop := &EventLoop{
		threadID:    id,
		mux:         mux,
		channels:    make(map[int]*channel),
		wakeupFd:    wakeupFd,
		wakeupWrite: wakeupWrite,
	}
	loop.wakeupCh = newChannel(loop, wakeupFd)
	loop.wakeupCh.setReadCallback(func(Timestamp) { drainWakeup(wakeupFd) })
	loop.wakeupCh.enableReading()

	loopRegistry[id] = loop
	loopRegistryMu.Unlock()

	logDebug("EventLoop created", zap.Int("thread", id))
	return loop
}

// IsInLoopThread reports whether the calling goroutine is the one that
// constructed this loop.
func (l *EventLoop) IsInLoopThread() bool {
	return tid.Current() == l.threadID
}

// assertInLoopThread enforces the affinity contract for mutating methods
// other than Quit/RunInLoop/QueueInLoop: a violation is a framework
// invariant break and is fatal.
func (l *EventLoop) assertInLoopThread() {
	if !l.IsInLoopThread() {
		logFatal("EventLoop method called from outside its owning thread",
			zap.Int("owner", l.threadID), zap.Int("caller", tid.Current()))
	}
}

// PollReturnTime is the Timestamp taken right after the last Poll woke up.
func (l *EventLoop) PollReturnTime() Timestamp { return l.pollReturnTime }

// Run starts the blocking poll/dispatch/pending-task cycle. It returns
// once Quit has taken effect.
func (l *EventLoop) Run() {
	l.assertInLoopThread()
	l.running.Store(true)
	l.quit.Store(false)

	logInfo("EventLoop start looping", zap.Int("thread", l.threadID))

	for !l.quit.Load() {
		l.active = l.active[:0]
		events, err := l.mux.Poll(pollTimeoutMs, l.active)
		l.pollReturnTime = Now()
		if err != nil {
			logError("multiplexer poll error", zap.Error(err))
		}
		l.active = events
		for _, ev := range l.active {
			ch, ok := l.channels[ev.Fd]
			if !ok {
				continue
			}
			ch.setRevents(ev.Revents)
			ch.handleEvent(l.pollReturnTime)
		}
		l.doPendingTasks()
	}

	l.running.Store(false)
	logInfo("EventLoop stopped looping", zap.Int("thread", l.threadID))
}

// Quit requests the loop to stop after its current iteration. Safe to call
// from any thread; if called from outside the loop thread it wakes the
// loop so it notices promptly.
func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.IsInLoopThread() {
		l.wakeup()
	}
}

// RunInLoop executes task immediately if called from the loop's own
// thread, otherwise hands it to QueueInLoop.
func (l *EventLoop) RunInLoop(task Task) {
	if l.IsInLoopThread() {
		task()
		return
	}
	l.QueueInLoop(task)
}

// QueueInLoop appends task to the pending queue and wakes the loop if the
// caller is on a different thread, or if the loop is presently draining
// its pending queue -- without that second clause a task queued from
// inside a pending-task callback would sit unseen until some unrelated
// readiness event woke the loop.
func (l *EventLoop) QueueInLoop(task Task) {
	l.pendingMu.Lock()
	l.pending = append(l.pending, task)
	l.pendingMu.Unlock()

	if !l.IsInLoopThread() || l.callingPending.Load() {
		l.wakeup()
	}
}

func (l *EventLoop) wakeup() {
	if err := l.wakeupWrite(); err != nil {
		logError("EventLoop wakeup failed", zap.Error(err))
	}
}

// doPendingTasks swaps the pending queue into a local slice under the lock
// so the critical section stays O(1), then runs tasks in FIFO order
// without holding the mutex. Tasks queued during the drain land in the
// fresh queue and run on the next iteration.
func (l *EventLoop) doPendingTasks() {
	l.callingPending.Store(true)
	defer l.callingPending.Store(false)

	l.pendingMu.Lock()
	tasks := l.pending
	l.pending = nil
	l.pendingMu.Unlock()

	for _, task := range tasks {
		task()
	}
}

// updateChannel reconciles ch's desired interest with the kernel
// registration, following the NEW/ADDED/DELETED state machine.
func (l *EventLoop) updateChannel(ch *channel) {
	l.assertInLoopThread()

	switch ch.state {
	case channelNew, channelDeleted:
		if ch.isNoneEvent() {
			return
		}
		if ch.state == channelNew {
			l.channels[ch.fd] = ch
		}
		ch.state = channelAdded
		if err := l.mux.Add(ch.fd, ch.interest); err != nil {
			logFatal("multiplexer add failed", zap.Int("fd", ch.fd), zap.Error(err))
		}
	case channelAdded:
		if ch.isNoneEvent() {
			if err := l.mux.Remove(ch.fd); err != nil {
				logError("multiplexer mod(remove) failed", zap.Int("fd", ch.fd), zap.Error(err))
			}
			ch.state = channelDeleted
		} else {
			if err := l.mux.Modify(ch.fd, ch.interest); err != nil {
				logFatal("multiplexer modify failed", zap.Int("fd", ch.fd), zap.Error(err))
			}
		}
	}
}

// removeChannel drops ch from the loop's table, issuing a kernel DEL if it
// was registered. Deletion errors are warnings only: the fd may already be
// closed out from under the channel.
func (l *EventLoop) removeChannel(ch *channel) {
	l.assertInLoopThread()

	delete(l.channels, ch.fd)
	if ch.state == channelAdded {
		if err := l.mux.Remove(ch.fd); err != nil {
			logError("multiplexer remove warning", zap.Int("fd", ch.fd), zap.Error(err))
		}
	}
	ch.state = channelNew
}

// HasChannel reports whether fd is currently registered with this loop.
func (l *EventLoop) HasChannel(fd int) bool {
	l.assertInLoopThread()
	ch, ok := l.channels[fd]
	return ok && ch.state == channelAdded
}

// Close tears down the wakeup channel and releases the multiplexer. It must
// be called on the loop's own thread after Run has returned.
func (l *EventLoop) Close() error {
	l.wakeupCh.disableAll()
	l.wakeupCh.remove()
	unix.Close(l.wakeupFd)
	err := l.mux.Close()

	loopRegistryMu.Lock()
	delete(loopRegistry, l.threadID)
	loopRegistryMu.Unlock()

	runtime.UnlockOSThread()
	return err
}
