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
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

// socketpair returns two connected, blocking stream socket fds for testing
// ReadFromFD/WriteToFD without a real listener.
func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestBufferReadFromFDWithinWritable(t *testing.T) {
	r, w := socketpair(t)
	payload := []byte("small payload")
	if _, err := unix.Write(w, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	b := NewBuffer()
	n, err := b.ReadFromFD(r)
	if err != nil {
		t.Fatalf("ReadFromFD: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("n = %d, want %d", n, len(payload))
	}
	if got := b.RetrieveAllAsString(); got != string(payload) {
		t.Fatalf("RetrieveAllAsString() = %q, want %q", got, payload)
	}
}

// TestBufferReadFromFDSpillsIntoExtraBuffer exercises the scatter-read
// branch: a payload larger than a fresh Buffer's writable tail must be
// read back intact across repeated ReadFromFD calls, any call that returns
// more than the tail holds placing the excess via the stack-allocated
// extension iovec.
func TestBufferReadFromFDSpillsIntoExtraBuffer(t *testing.T) {
	r, w := socketpair(t)

	payload := []byte(strings.Repeat("z", initialSize+4096))
	go func() {
		off := 0
		for off < len(payload) {
			n, err := unix.Write(w, payload[off:])
			if err != nil {
				return
			}
			off += n
		}
	}()

	b := NewBuffer()
	total := 0
	for total < len(payload) {
		n, err := b.ReadFromFD(r)
		if err != nil {
			t.Fatalf("ReadFromFD: %v", err)
		}
		total += n
	}
	if got := b.RetrieveAllAsString(); got != string(payload) {
		t.Fatalf("round-tripped %d bytes, want %d bytes to match", len(got), len(payload))
	}
}
