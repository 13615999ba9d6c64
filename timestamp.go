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

import "time"

// Timestamp is a monotonic microsecond counter since a fixed epoch.
type Timestamp struct {
	micro int64
}

// clockBase anchors Timestamps to the wall clock once; every later reading
// adds the monotonic time elapsed since, so Now never steps backward.
var clockBase = time.Now()

// Now returns the current Timestamp.
func Now() Timestamp {
	return Timestamp{micro: clockBase.UnixMicro() + time.Since(clockBase).Microseconds()}
}

// MicrosecondsSinceEpoch returns the raw microsecond count.
func (t Timestamp) MicrosecondsSinceEpoch() int64 { return t.micro }

// Before reports whether t happened strictly before other.
func (t Timestamp) Before(other Timestamp) bool { return t.micro < other.micro }

// After reports whether t happened strictly after other.
func (t Timestamp) After(other Timestamp) bool { return t.micro > other.micro }

// Equal reports whether t and other represent the same instant.
func (t Timestamp) Equal(other Timestamp) bool { return t.micro == other.micro }

// String formats the timestamp as "YYYY-MM-DD HH:MM:SS.uuuuuu".
func (t Timestamp) String() string {
	return time.UnixMicro(t.micro).UTC().Format("2006-01-02 15:04:05.000000")
}
