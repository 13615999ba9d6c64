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

package poller

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type epollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

// Open creates the platform multiplexer: epoll_create1 on Linux.
func Open() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &epollPoller{epfd: epfd, events: make([]unix.EpollEvent, initialEventListSize)}, nil
}

func toEpollMask(interest uint32) (mask uint32) {
	if interest&Readable != 0 {
		mask |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if interest&Writable != 0 {
		mask |= unix.EPOLLOUT
	}
	return
}

func fromEpollMask(events uint32) (revents uint32) {
	if events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		revents |= Readable
	}
	if events&unix.EPOLLOUT != 0 {
		revents |= Writable
	}
	if events&unix.EPOLLHUP != 0 {
		revents |= Hangup
	}
	if events&unix.EPOLLERR != 0 {
		revents |= Error
	}
	return
}

func (p *epollPoller) Add(fd int, interest uint32) error {
	ev := unix.EpollEvent{Events: toEpollMask(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl(ADD, %d): %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Modify(fd int, interest uint32) error {
	ev := unix.EpollEvent{Events: toEpollMask(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl(MOD, %d): %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl(DEL, %d): %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}

func (p *epollPoller) Poll(timeoutMs int, dst []Event) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, fmt.Errorf("epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		dst = append(dst, Event{Fd: int(p.events[i].Fd), Revents: fromEpollMask(p.events[i].Events)})
	}
	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}
	return dst, nil
}
