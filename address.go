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
	"fmt"
	"net"
)

// Address is an immutable IPv4 endpoint with a cached textual form.
type Address struct {
	ip   [4]byte
	port uint16
	text string
}

// NewAddress builds an Address from a dotted-quad/hostname-resolved IP and a port.
func NewAddress(ip net.IP, port uint16) (addr Address) {
	v4 := ip.To4()
	if v4 == nil {
		v4 = net.IPv4zero.To4()
	}
	copy(addr.ip[:], v4)
	addr.port = port
	addr.text = fmt.Sprintf("%d.%d.%d.%d:%d", addr.ip[0], addr.ip[1], addr.ip[2], addr.ip[3], addr.port)
	return
}

// ParseAddress resolves a "host:port" string into an Address.
func ParseAddress(hostport string) (addr Address, err error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", hostport)
	if err != nil {
		return
	}
	return NewAddress(tcpAddr.IP, uint16(tcpAddr.Port)), nil
}

// addressFromSockaddr4 converts a raw IPv4 socket address into an Address.
func addressFromSockaddr4(ip [4]byte, port int) Address {
	return NewAddress(net.IP(ip[:]), uint16(port))
}

// IP returns the IPv4 address as a net.IP in its 16-byte form.
func (a Address) IP() net.IP { return net.IPv4(a.ip[0], a.ip[1], a.ip[2], a.ip[3]) }

// Port returns the port number.
func (a Address) Port() uint16 { return a.port }

// String returns the cached "ip:port" textual form.
func (a Address) String() string { return a.text }

// TCPAddr converts the Address into a *net.TCPAddr.
func (a Address) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: a.IP(), Port: int(a.port)}
}
