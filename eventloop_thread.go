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

import "sync"

// eventLoopThread owns one worker goroutine that constructs and runs a
// single EventLoop. start() blocks until the loop pointer is published,
// the Go analogue of EventLoopThread::startLoop()'s condition-variable
// gate. The loop pointer is published and retracted under the same mutex
// that gates that wait, closing the narrow window the original flags where
// a destructor could observe loop_ mid-teardown.
type eventLoopThread struct {
	mu       sync.Mutex
	cond     *sync.Cond
	loop     *EventLoop
	exiting  bool
	initCb   func(*EventLoop)
	done     chan struct{}
	closeErr error
}

func newEventLoopThread(initCb func(*EventLoop)) *eventLoopThread {
	t := &eventLoopThread{initCb: initCb, done: make(chan struct{})}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// start spawns the worker goroutine and blocks until its EventLoop exists.
func (t *eventLoopThread) start() *EventLoop {
	go t.threadFunc()

	t.mu.Lock()
	for t.loop == nil {
		t.cond.Wait()
	}
	loop := t.loop
	t.mu.Unlock()
	return loop
}

func (t *eventLoopThread) threadFunc() {
	loop := NewEventLoop()
	if t.initCb != nil {
		t.initCb(loop)
	}

	t.mu.Lock()
	t.loop = loop
	t.cond.Signal()
	t.mu.Unlock()

	loop.Run()

	err := loop.Close()

	t.mu.Lock()
	t.closeErr = err
	t.loop = nil
	t.mu.Unlock()

	close(t.done)
}

// stop requests the worker's loop to quit, waits for its goroutine to fully
// exit, and returns any error from closing its multiplexer.
func (t *eventLoopThread) stop() error {
	t.mu.Lock()
	t.exiting = true
	loop := t.loop
	t.mu.Unlock()

	if loop != nil {
		loop.Quit()
	}
	<-t.done

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeErr
}
