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

// Package tid reports the calling goroutine's OS thread id, the Go analogue
// of muduo's CurrentThread::tid(). The id is looked up on every call and is
// not cached. Callers are expected to have pinned the goroutine with
// runtime.LockOSThread, since Go otherwise gives goroutines no stable
// thread identity.
package tid

import "golang.org/x/sys/unix"

// Current returns the real OS thread id (gettid) of the calling goroutine.
func Current() int {
	return unix.Gettid()
}
