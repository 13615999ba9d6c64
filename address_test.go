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

	reactor "github.com/kami-reactor/reactor"
)

func TestParseAddressRoundTrip(t *testing.T) {
	addr, err := reactor.ParseAddress("127.0.0.1:8080")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if got, want := addr.String(), "127.0.0.1:8080"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if addr.Port() != 8080 {
		t.Fatalf("Port() = %d, want 8080", addr.Port())
	}
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	if _, err := reactor.ParseAddress("not-an-address"); err == nil {
		t.Fatal("ParseAddress(garbage) = nil error, want non-nil")
	}
}
