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
	"golang.org/x/sys/unix"

	"go.uber.org/zap"

	"github.com/kami-reactor/reactor/internal/sockopt"
)

// listenBacklog is the kernel backlog passed to listen(2).
const listenBacklog = 1024

// acceptor owns the listening socket and reads accept-readiness events on
// the server's main loop. It accepts at most one connection per readiness
// notification, matching the original's refusal to starve other channels
// on that loop under an accept storm.
type acceptor struct {
	loop     *EventLoop
	listenFd int
	ch       *channel
	listening bool

	// idleFd is a spare fd held in reserve so that when the process is out
	// of file descriptors (EMFILE/ENFILE), the acceptor can close it, accept
	// the pending connection just to immediately drop it, and reopen the
	// spare -- the same cheap EMFILE mitigation muduo uses, which otherwise
	// busy-spins epoll on a listening socket it can never successfully drain.
	idleFd int

	newConnectionCallback func(connFd int, peer Address)
}

func newAcceptor(loop *EventLoop, local Address, reusePort bool) *acceptor {
	ip := local.ip
	fd, err := sockopt.NewNonblockingListenerFd(ip, int(local.Port()), reusePort)
	if err != nil {
		logFatal("acceptor: failed to create listening socket", zap.Error(err))
	}

	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		logFatal("acceptor: failed to reserve idle fd", zap.Error(err))
	}

	a := &acceptor{loop: loop, listenFd: fd, idleFd: idleFd}
	a.ch = newChannel(loop, fd)
	a.ch.setReadCallback(a.handleRead)
	return a
}

// listen marks the socket passive and starts watching it for readability.
// Must run on the acceptor's loop.
func (a *acceptor) listen() {
	a.loop.assertInLoopThread()
	a.listening = true
	if err := sockopt.Listen(a.listenFd, listenBacklog); err != nil {
		logFatal("acceptor: listen failed", zap.Error(err))
	}
	a.ch.enableReading()
}

func (a *acceptor) handleRead(Timestamp) {
	a.loop.assertInLoopThread()

	connFd, ip, port, err := sockopt.Accept4(a.listenFd)
	if err != nil {
		a.handleAcceptError(err)
		return
	}

	peer := addressFromSockaddr4(ip, port)
	if a.newConnectionCallback != nil {
		a.newConnectionCallback(connFd, peer)
	} else {
		unix.Close(connFd)
	}
}

// handleAcceptError applies the EMFILE/ENFILE mitigation: release the spare
// fd, accept-and-drop the connection the kernel was already holding ready,
// then reclaim a spare fd so the mitigation is available again next time.
// Every other accept error is logged and otherwise ignored; the listening
// socket stays registered.
func (a *acceptor) handleAcceptError(err error) {
	if err == unix.EMFILE || err == unix.ENFILE {
		logError("acceptor: out of file descriptors, dropping one pending connection", zap.Error(err))
		unix.Close(a.idleFd)
		connFd, _, _, acceptErr := sockopt.Accept4(a.listenFd)
		if acceptErr == nil {
			unix.Close(connFd)
		}
		a.idleFd, _ = unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
		return
	}
	logError("acceptor: accept failed", zap.Error(err))
}

func (a *acceptor) close() {
	a.loop.assertInLoopThread()
	a.ch.disableAll()
	a.ch.remove()
	unix.Close(a.listenFd)
	if a.idleFd >= 0 {
		unix.Close(a.idleFd)
	}
}
