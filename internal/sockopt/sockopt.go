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

// Package sockopt wraps the raw fd-level socket options the reactor needs:
// non-blocking + close-on-exec listeners, SO_REUSEADDR/SO_REUSEPORT and
// TCP keep-alive, none of which net.Listen exposes once you need the raw fd
// back for epoll/kqueue registration.
package sockopt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// NewNonblockingListenerFd creates a non-blocking, close-on-exec IPv4 TCP
// socket bound to ip:port, with SO_REUSEADDR always set and SO_REUSEPORT
// set when reusePort is true. The caller must Listen and eventually Close it.
func NewNonblockingListenerFd(ip [4]byte, port int, reusePort bool) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt(SO_REUSEADDR): %w", err)
	}
	if reusePort {
		if err = setReusePort(fd); err != nil {
			unix.Close(fd)
			return -1, err
		}
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: ip}
	if err = unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind: %w", err)
	}
	return fd, nil
}

// Listen marks fd as passive with the given backlog.
func Listen(fd int, backlog int) error {
	if err := unix.Listen(fd, backlog); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Accept4 accepts a connection off a non-blocking listener, returning a
// non-blocking, close-on-exec connected fd and the peer's raw IPv4 address.
func Accept4(listenFd int) (connFd int, ip [4]byte, port int, err error) {
	nfd, sa, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, ip, 0, err
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		ip, port = in4.Addr, in4.Port
	}
	return nfd, ip, port, nil
}

// LocalAddr returns the local IPv4 address and port a connected fd is bound to.
func LocalAddr(fd int) (ip [4]byte, port int, err error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return ip, 0, fmt.Errorf("getsockname: %w", err)
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		ip, port = in4.Addr, in4.Port
	}
	return ip, port, nil
}

// SetKeepAlive enables or disables SO_KEEPALIVE on a connected fd.
func SetKeepAlive(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, v); err != nil {
		return fmt.Errorf("setsockopt(SO_KEEPALIVE): %w", err)
	}
	return nil
}

// SocketError reads and clears SO_ERROR on fd, as handleError does after an
// EPOLLERR/EV_ERROR notification.
func SocketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno == 0 {
		return nil
	}
	return unix.Errno(errno)
}

// ShutdownWrite half-closes the write side of a connected fd (SHUT_WR).
func ShutdownWrite(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_WR)
}
