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

//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package poller

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type kqueuePoller struct {
	kqfd int
	// interest tracks the last registered mask per fd, since kqueue has
	// independent read/write filters rather than epoll's single combined one.
	interest map[int]uint32
	events   []unix.Kevent_t
}

// Open creates the platform multiplexer: kqueue on BSD/Darwin.
func Open() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue: %w", err)
	}
	return &kqueuePoller{kqfd: kqfd, interest: make(map[int]uint32), events: make([]unix.Kevent_t, initialEventListSize)}, nil
}

func (p *kqueuePoller) changeList(fd int, from, to uint32) []unix.Kevent_t {
	var changes []unix.Kevent_t
	addDel := func(filter int16, want bool, had bool) {
		switch {
		case want && !had:
			changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: unix.EV_ADD | unix.EV_ENABLE})
		case !want && had:
			changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: unix.EV_DELETE})
		}
	}
	addDel(unix.EVFILT_READ, to&Readable != 0, from&Readable != 0)
	addDel(unix.EVFILT_WRITE, to&Writable != 0, from&Writable != 0)
	return changes
}

func (p *kqueuePoller) Add(fd int, interest uint32) error {
	changes := p.changeList(fd, 0, interest)
	if len(changes) > 0 {
		if _, err := unix.Kevent(p.kqfd, changes, nil, nil); err != nil {
			return fmt.Errorf("kevent(ADD, %d): %w", fd, err)
		}
	}
	p.interest[fd] = interest
	return nil
}

func (p *kqueuePoller) Modify(fd int, interest uint32) error {
	changes := p.changeList(fd, p.interest[fd], interest)
	if len(changes) > 0 {
		if _, err := unix.Kevent(p.kqfd, changes, nil, nil); err != nil {
			return fmt.Errorf("kevent(MOD, %d): %w", fd, err)
		}
	}
	p.interest[fd] = interest
	return nil
}

func (p *kqueuePoller) Remove(fd int) error {
	changes := p.changeList(fd, p.interest[fd], 0)
	delete(p.interest, fd)
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(p.kqfd, changes, nil, nil); err != nil {
		return fmt.Errorf("kevent(DEL, %d): %w", fd, err)
	}
	return nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}

func (p *kqueuePoller) Poll(timeoutMs int, dst []Event) ([]Event, error) {
	var ts unix.Timespec
	ts.Sec = int64(timeoutMs / 1000)
	ts.Nsec = int64((timeoutMs % 1000) * 1_000_000)

	n, err := unix.Kevent(p.kqfd, nil, p.events, &ts)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, fmt.Errorf("kevent(wait): %w", err)
	}

	// Coalesce read+write+EOF/error events that land on the same fd within
	// one wakeup into a single Event, matching epoll's combined mask.
	byFd := make(map[int]uint32, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Ident)
		var revents uint32
		switch ev.Filter {
		case unix.EVFILT_READ:
			revents |= Readable
		case unix.EVFILT_WRITE:
			revents |= Writable
		}
		if ev.Flags&unix.EV_EOF != 0 {
			revents |= Hangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			revents |= Error
		}
		if _, ok := byFd[fd]; !ok {
			order = append(order, fd)
		}
		byFd[fd] |= revents
	}
	for _, fd := range order {
		dst = append(dst, Event{Fd: fd, Revents: byFd[fd]})
	}

	if n == len(p.events) {
		p.events = make([]unix.Kevent_t, len(p.events)*2)
	}
	return dst, nil
}
