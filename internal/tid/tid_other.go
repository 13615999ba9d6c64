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

package tid

import (
	"bytes"
	"runtime"
	"strconv"
)

// Current returns the calling goroutine's runtime id on platforms with no
// portable gettid syscall (BSD, Darwin). x/sys/unix only exposes Gettid on
// Linux, so elsewhere this falls back to parsing "goroutine N [...]" out of
// a one-frame stack trace -- stable for the goroutine's lifetime, which is
// all the loop-affinity check needs.
func Current() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.Atoi(string(fields[1]))
	return id
}
