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
)

// newRunningLoop constructs an EventLoop and calls Run on the very same
// goroutine (as eventLoopThread.threadFunc does), since LockOSThread pins
// a goroutine, not an OS thread, so construction and Run must never be
// split across two goroutines. It returns the loop once construction has
// completed and a stop function that quits and joins the loop.
func newRunningLoop(t *testing.T) (*EventLoop, func()) {
	t.Helper()
	loopCh := make(chan *EventLoop, 1)
	done := make(chan struct{})
	go func() {
		loop := NewEventLoop()
		loopCh <- loop
		loop.Run()
		loop.Close()
		close(done)
	}()
	loop := <-loopCh
	return loop, func() {
		loop.Quit()
		<-done
	}
}

func TestEventLoopIsInLoopThread(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	if !loop.IsInLoopThread() {
		t.Fatal("IsInLoopThread() = false on the constructing goroutine, want true")
	}

	done := make(chan bool)
	go func() {
		done <- loop.IsInLoopThread()
	}()
	if <-done {
		t.Fatal("IsInLoopThread() = true from a different goroutine, want false")
	}
}

func TestEventLoopQueueInLoopRunsInFIFOOrder(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		i := i
		loop.QueueInLoop(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want strictly increasing FIFO order", order)
		}
	}
}

func TestEventLoopQueueInLoopFromLoopThreadDoesNotRunInline(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	var ran bool
	loop.QueueInLoop(func() { ran = true })
	if ran {
		t.Fatal("QueueInLoop ran its task inline, want deferred to next doPendingTasks")
	}
}

func TestEventLoopRunInLoopInlinesOnOwningThread(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	var ran bool
	loop.RunInLoop(func() { ran = true })
	if !ran {
		t.Fatal("RunInLoop did not run inline on the owning thread")
	}
}

func TestEventLoopQuitStopsRun(t *testing.T) {
	_, stop := newRunningLoop(t)
	stop()
}
