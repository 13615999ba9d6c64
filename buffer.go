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

import "golang.org/x/sys/unix"

const (
	cheapPrepend = 8
	initialSize  = 1024
	extraBufSize = 64 * 1024
)

// Buffer is an expandable byte sequence with three regions on one backing
// array: prependable [0, read), readable [read, write), writable [write, cap).
// It is not safe for concurrent use; every Buffer belongs to exactly one
// Connection and is only ever touched on that connection's I/O loop.
type Buffer struct {
	buf   []byte
	read  int
	write int
}

// NewBuffer returns a Buffer with cheapPrepend bytes of reserved headroom.
func NewBuffer() *Buffer {
	return &Buffer{buf: make([]byte, cheapPrepend+initialSize), read: cheapPrepend, write: cheapPrepend}
}

// ReadableBytes returns the number of bytes available to read.
func (b *Buffer) ReadableBytes() int { return b.write - b.read }

// WritableBytes returns the number of bytes available to write without growing.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.write }

// PrependableBytes returns the number of bytes reserved ahead of the readable region.
func (b *Buffer) PrependableBytes() int { return b.read }

// Peek returns the readable region without consuming it.
func (b *Buffer) Peek() []byte { return b.buf[b.read:b.write] }

// Retrieve consumes n bytes from the front of the readable region. If n is
// at least ReadableBytes, both indices reset to the headroom offset.
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.read += n
	} else {
		b.RetrieveAll()
	}
}

// RetrieveAll discards all readable bytes, resetting read/write to the
// headroom offset so PrependableBytes is restored to cheapPrepend.
func (b *Buffer) RetrieveAll() {
	b.read = cheapPrepend
	b.write = cheapPrepend
}

// RetrieveAllAsString consumes and returns every readable byte.
func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// RetrieveAsString consumes and returns up to n readable bytes.
func (b *Buffer) RetrieveAsString(n int) string {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	s := string(b.buf[b.read : b.read+n])
	b.Retrieve(n)
	return s
}

// EnsureWritable grows or slides the buffer so WritableBytes() >= n.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

// Append copies data onto the end of the readable region, growing as needed.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	copy(b.buf[b.write:], data)
	b.write += len(data)
}

func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n+cheapPrepend {
		// Not enough total slack even after sliding: grow the backing array.
		grown := make([]byte, b.write+n)
		copy(grown, b.buf[:b.write])
		b.buf = grown
		return
	}
	// Slide the readable bytes left to the headroom offset.
	readable := b.ReadableBytes()
	copy(b.buf[cheapPrepend:], b.buf[b.read:b.write])
	b.read = cheapPrepend
	b.write = b.read + readable
}

// ReadFromFD performs a scatter read: one iovec into the writable tail, a
// second into a 64KiB extension buffer when the tail is smaller than that,
// so a single syscall can absorb up to 64KiB beyond current capacity.
func (b *Buffer) ReadFromFD(fd int) (n int, err error) {
	writable := b.WritableBytes()

	var extra [extraBufSize]byte
	iovs := make([][]byte, 0, 2)
	iovs = append(iovs, b.buf[b.write:])
	if writable < extraBufSize {
		iovs = append(iovs, extra[:])
	}

	nn, rerr := readv(fd, iovs)
	if rerr != nil {
		return 0, rerr
	}
	n = nn
	if n <= writable {
		b.write += n
	} else {
		b.write = len(b.buf)
		b.Append(extra[:n-writable])
	}
	return n, nil
}

// WriteToFD writes the full readable region to fd in one syscall. The
// caller decides whether/how much to Retrieve afterward.
func (b *Buffer) WriteToFD(fd int) (n int, err error) {
	nn, err := unix.Write(fd, b.Peek())
	if err != nil {
		return 0, err
	}
	return nn, nil
}

// readv issues a single vectored read across up to two buffers.
func readv(fd int, iovs [][]byte) (int, error) {
	return unix.Readv(fd, iovs)
}
