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

import "testing"

func TestLoopPoolWithoutWorkersAlwaysReturnsBase(t *testing.T) {
	base := NewEventLoop()
	defer base.Close()

	pool := NewLoopPool(base, "test")
	pool.Start(nil)
	defer pool.Stop()

	for i := 0; i < 3; i++ {
		if got := pool.Next(); got != base {
			t.Fatalf("Next() = %p, want base loop %p", got, base)
		}
	}
	if loops := pool.AllLoops(); len(loops) != 1 || loops[0] != base {
		t.Fatalf("AllLoops() = %v, want [base]", loops)
	}
}

func TestLoopPoolRoundRobin(t *testing.T) {
	base := NewEventLoop()
	defer base.Close()

	pool := NewLoopPool(base, "test")
	pool.SetThreadNum(3)
	pool.Start(nil)
	defer pool.Stop()

	all := pool.AllLoops()
	if len(all) != 3 {
		t.Fatalf("AllLoops() len = %d, want 3", len(all))
	}

	for round := 0; round < 2; round++ {
		for i, want := range all {
			if got := pool.Next(); got != want {
				t.Fatalf("round %d Next() #%d = %p, want %p", round, i, got, want)
			}
		}
	}
}

func TestLoopPoolSetThreadNumAfterStartIsNoop(t *testing.T) {
	base := NewEventLoop()
	defer base.Close()

	pool := NewLoopPool(base, "test")
	pool.SetThreadNum(2)
	pool.Start(nil)
	defer pool.Stop()

	pool.SetThreadNum(5)
	if len(pool.AllLoops()) != 2 {
		t.Fatalf("AllLoops() len = %d, want 2 (SetThreadNum after Start must be ignored)", len(pool.AllLoops()))
	}
}

func TestLoopPoolStartIsIdempotent(t *testing.T) {
	base := NewEventLoop()
	defer base.Close()

	pool := NewLoopPool(base, "test")
	pool.SetThreadNum(2)
	pool.Start(nil)
	pool.Start(nil) // second call must be a no-op, not spawn more workers
	defer pool.Stop()

	if len(pool.AllLoops()) != 2 {
		t.Fatalf("AllLoops() len = %d, want 2 after duplicate Start", len(pool.AllLoops()))
	}
}
