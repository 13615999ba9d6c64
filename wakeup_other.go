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

//go:build !linux

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// newWakeup creates the loop's cross-thread wakeup primitive on platforms
// without eventfd: a self-pipe, with the write end closed over by the
// returned closure and the read end handed back for registration.
func newWakeup() (readFd int, write func() error, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return -1, nil, fmt.Errorf("pipe2: %w", err)
	}
	readFd = fds[0]
	writeFd := fds[1]
	write = func() error {
		_, err := unix.Write(writeFd, []byte{1})
		if err == unix.EAGAIN {
			return nil
		}
		return err
	}
	return readFd, write, nil
}

// drainWakeup empties the self-pipe so it stops reporting readable.
func drainWakeup(fd int) {
	var buf [64]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}
