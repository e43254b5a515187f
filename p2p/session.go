package p2p

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var ErrFrameTooLarge = errors.New("frame exceeds 16-bit length prefix")

// Session frames one transport connection: every message is a 2-byte
// little-endian length followed by that many payload bytes. Close is
// idempotent and cancels the pending read.
type Session struct {
	conn net.Conn

	sendMu sync.Mutex

	closeOnce sync.Once
	closed    int32

	lastSeen int64 // unix nanos, updated on every inbound frame
}

func newSession(conn net.Conn) *Session {
	s := &Session{conn: conn}
	s.touch()
	return s
}

// RemoteHost returns the IP the connection arrived from.
func (s *Session) RemoteHost() string {
	host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		return s.conn.RemoteAddr().String()
	}
	return host
}

// Send writes one framed message.
func (s *Session) Send(payload []byte) error {
	if len(payload) > math.MaxUint16 {
		return ErrFrameTooLarge
	}
	if s.IsClosed() {
		return net.ErrClosed
	}
	var header [2]byte
	binary.LittleEndian.PutUint16(header[:], uint16(len(payload)))

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if _, err := s.conn.Write(header[:]); err != nil {
		s.Close()
		return err
	}
	if _, err := s.conn.Write(payload); err != nil {
		s.Close()
		return err
	}
	return nil
}

// readFrame blocks for the next framed payload.
func (s *Session) readFrame() ([]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(s.conn, header[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint16(header[:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(s.conn, payload); err != nil {
		return nil, err
	}
	s.touch()
	return payload, nil
}

func (s *Session) touch() {
	atomic.StoreInt64(&s.lastSeen, time.Now().UnixNano())
}

// LastSeen is the arrival time of the most recent inbound frame.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.lastSeen))
}

// Close shuts the connection down. Safe to call from any goroutine, any
// number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		atomic.StoreInt32(&s.closed, 1)
		_ = s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return atomic.LoadInt32(&s.closed) != 0
}
