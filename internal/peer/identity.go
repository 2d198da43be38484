// Package peer holds the identity of an overlay participant and the
// neighbor table each node keeps.
package peer

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// Key identifies a peer on the wire. Display names never take part in it.
type Key struct {
	Host string
	Port int
}

func (k Key) String() string {
	return net.JoinHostPort(k.Host, strconv.Itoa(k.Port))
}

// Identity is the (host, port, name) triple of a node. Two identities are
// the same peer when host and port match.
type Identity struct {
	Host string
	Port int
	Name string
}

func New(host string, port int, name string) Identity {
	return Identity{Host: host, Port: port, Name: name}
}

// Parse builds an identity from the textual host and port found in a frame.
func Parse(host, port string) (Identity, error) {
	if host == "" {
		return Identity{}, fmt.Errorf("empty host")
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid port %q: %w", port, err)
	}
	if p <= 0 || p > 65535 {
		return Identity{}, fmt.Errorf("port %d out of range", p)
	}
	return Identity{Host: host, Port: p}, nil
}

// FromUDPAddr is the identity of a datagram source.
func FromUDPAddr(addr *net.UDPAddr) Identity {
	ap := addr.AddrPort()
	return Identity{Host: ap.Addr().Unmap().String(), Port: int(ap.Port())}
}

func (i Identity) Key() Key {
	return Key{Host: i.Host, Port: i.Port}
}

func (i Identity) Equal(other Identity) bool {
	return i.Host == other.Host && i.Port == other.Port
}

func (i Identity) PortString() string {
	return strconv.Itoa(i.Port)
}

func (i Identity) String() string {
	return i.Key().String()
}

func (i Identity) UDPAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", i.String())
}

// Endpoint normalizes the identity into a comparable address so that
// replies from 127.0.0.1 match calls addressed to localhost.
func (i Identity) Endpoint() (netip.AddrPort, error) {
	addr, err := i.UDPAddr()
	if err != nil {
		return netip.AddrPort{}, err
	}
	return Endpoint(addr), nil
}

func Endpoint(addr *net.UDPAddr) netip.AddrPort {
	ap := addr.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
