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

//go:build linux

package reactor

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// newWakeup creates the loop's cross-thread wakeup primitive: an eventfd on
// Linux, readable whenever another thread writes an 8-byte counter to it.
func newWakeup() (readFd int, write func() error, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, nil, fmt.Errorf("eventfd: %w", err)
	}
	write = func() error {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], 1)
		_, err := unix.Write(fd, buf[:])
		return err
	}
	return fd, write, nil
}

// drainWakeup consumes the 8-byte counter so the fd stops reporting readable.
func drainWakeup(fd int) {
	var buf [8]byte
	unix.Read(fd, buf[:])
}
