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

package reactor_test

import (
	"testing"
	"time"

	reactor "github.com/kami-reactor/reactor"
)

func TestTimestampOrdering(t *testing.T) {
	a := reactor.Now()
	time.Sleep(time.Millisecond)
	b := reactor.Now()

	if !a.Before(b) {
		t.Fatalf("%v.Before(%v) = false, want true", a, b)
	}
	if !b.After(a) {
		t.Fatalf("%v.After(%v) = false, want true", b, a)
	}
	if a.Equal(b) {
		t.Fatal("distinct timestamps compared equal")
	}
}
