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
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// LoopPool is a fixed-size, round-robin pool of I/O event loops, each
// pinned to its own worker thread. Only the main loop's thread is expected
// to call SetThreadNum, Start, and Next -- it is not internally synchronized.
type LoopPool struct {
	base       *EventLoop
	name       string
	numThreads int
	started    bool
	threads    []*eventLoopThread
	loops      []*EventLoop
	next       int
}

// NewLoopPool creates a pool bound to base, the main loop that will host
// the acceptor. name is used only for logging.
func NewLoopPool(base *EventLoop, name string) *LoopPool {
	return &LoopPool{base: base, name: name}
}

// SetThreadNum sets the number of I/O worker loops. Valid only before
// Start; calling it afterward is a post-condition violation, logged but
// not fatal, and has no effect.
func (p *LoopPool) SetThreadNum(n int) {
	if p.started {
		logError("SetThreadNum called after Start", zap.String("pool", p.name))
		return
	}
	p.numThreads = n
}

// Start spawns numThreads worker loops, each pinned to its own thread and
// handed initCb once its loop exists but before it starts polling. If
// numThreads is zero, initCb runs synchronously against the base loop and
// Next always returns the base loop.
func (p *LoopPool) Start(initCb func(*EventLoop)) {
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.numThreads; i++ {
		t := newEventLoopThread(initCb)
		loop := t.start()
		p.threads = append(p.threads, t)
		p.loops = append(p.loops, loop)
	}

	if p.numThreads == 0 && initCb != nil {
		initCb(p.base)
	}
}

// Next returns the base loop if the pool has no workers, otherwise the
// next worker loop in round-robin order.
func (p *LoopPool) Next() *EventLoop {
	if len(p.loops) == 0 {
		return p.base
	}
	loop := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return loop
}

// AllLoops returns every worker loop, or just the base loop if the pool has
// no workers.
func (p *LoopPool) AllLoops() []*EventLoop {
	if len(p.loops) == 0 {
		return []*EventLoop{p.base}
	}
	return p.loops
}

// Stop quits and joins every worker thread, aggregating the multiplexer
// close errors any of them returned.
func (p *LoopPool) Stop() error {
	var errs error
	for _, t := range p.threads {
		errs = multierr.Append(errs, t.stop())
	}
	p.threads = nil
	p.loops = nil
	p.started = false
	return errs
}
