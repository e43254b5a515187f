// Package p2p implements the peer network: framed sessions, the per-peer
// protocol state machine, gossip, chain sync and iterative peer lookup.
package p2p

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/emberchain/ember/codec"
)

var ErrBadEndpoint = errors.New("malformed endpoint")

// Endpoint is a peer's dialable address.
type Endpoint struct {
	Host string
	Port uint16
}

// ParseEndpoint parses "host:port".
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, ErrBadEndpoint
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, ErrBadEndpoint
	}
	return Endpoint{Host: host, Port: uint16(port)}, nil
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}

func (e Endpoint) encodeTo(w *codec.Writer) {
	w.WriteString(e.Host)
	w.WriteUint16(e.Port)
}

func decodeEndpoint(r *codec.Reader) (Endpoint, error) {
	host, err := r.ReadString()
	if err != nil {
		return Endpoint{}, err
	}
	port, err := r.ReadUint16()
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Host: host, Port: port}, nil
}
