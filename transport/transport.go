// Package transport implements the engine's single bound UDP datagram
// socket and its ACK/NAK-gated request/reply discipline (spec §4.1),
// grounded on the five-argument msg_send/msg_recv form in
// original_source/mop_msg.c, which spec §9 names as the authoritative
// variant over the source's incompatible three-argument duplicate.
package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Message tags, matching the tags in spec §6's datagram protocol table.
const (
	TagRUN = "RUN"
	TagTOK = "TOK"
	TagROT = "ROT"
	TagTRG = "TRG"
	TagACK = "ACK"
	TagNAK = "NAK"
)

// ErrTimeout is returned when a send or recv deadline elapses.
var ErrTimeout = errors.New("transport: timeout")

// ErrUnexpectedReply is returned when a reply does not match the expected
// prefix.
var ErrUnexpectedReply = errors.New("transport: unexpected reply")

const maxDatagram = 4096

// Socket is a single bound UDP socket, shared by every synchronization
// message a process sends or receives in its lifetime (spec §5: "Socket:
// bound for process lifetime").
type Socket struct {
	conn *net.UDPConn
}

// Bind opens a UDP socket bound to addr (host:port), mirroring mop_msg.c's
// msg_init.
func Bind(addr string) (*Socket, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %q: %w", addr, err)
	}
	return &Socket{conn: conn}, nil
}

// Close releases the socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// LocalAddr returns the socket's bound address as a host:port string,
// useful for tests that bind to port 0 and need to discover the assigned
// port.
func (s *Socket) LocalAddr() string {
	return s.conn.LocalAddr().String()
}

// Send transmits payload to dst. If expectedPrefix is non-empty, Send waits
// up to timeout for a reply and validates it starts with expectedPrefix (and,
// if expectedLen > 0, is exactly that length); otherwise Send returns as
// soon as the datagram is written. timeout of 0 means block forever when a
// reply is expected.
func (s *Socket) Send(timeout time.Duration, payload, dst, expectedPrefix string, expectedLen int) (reply string, err error) {
	raddr, err := net.ResolveUDPAddr("udp", dst)
	if err != nil {
		return "", fmt.Errorf("transport: resolve dst %q: %w", dst, err)
	}
	if _, err := s.conn.WriteToUDP([]byte(payload), raddr); err != nil {
		return "", fmt.Errorf("transport: send to %q: %w", dst, err)
	}
	if expectedPrefix == "" {
		return "", nil
	}
	if timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return "", err
		}
		defer s.conn.SetReadDeadline(time.Time{})
	} else {
		if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
			return "", err
		}
	}
	buf := make([]byte, maxDatagram)
	n, _, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("transport: recv reply: %w", err)
	}
	reply = string(buf[:n])
	if !checkPrefix(reply, expectedPrefix, expectedLen) {
		return reply, ErrUnexpectedReply
	}
	return reply, nil
}

// Recv waits up to timeout (0 = forever) for a datagram. If expectedPrefix is
// non-empty, Recv replies ACK on a prefix match or NAK otherwise to the
// sender's address, mirroring mop_msg.c's msg_recv reply-on-mismatch
// behaviour. It returns the payload and the sender's address string.
func (s *Socket) Recv(timeout time.Duration, expectedPrefix string, expectedLen int) (payload, sender string, err error) {
	if timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return "", "", err
		}
		defer s.conn.SetReadDeadline(time.Time{})
	} else {
		if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
			return "", "", err
		}
	}
	buf := make([]byte, maxDatagram)
	n, raddr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", "", ErrTimeout
		}
		return "", "", fmt.Errorf("transport: recv: %w", err)
	}
	payload = string(buf[:n])
	sender = raddr.String()

	if expectedPrefix != "" {
		ack := TagACK
		if !checkPrefix(payload, expectedPrefix, expectedLen) {
			ack = TagNAK
		}
		if _, err := s.conn.WriteToUDP([]byte(ack), raddr); err != nil {
			return payload, sender, fmt.Errorf("transport: send ack/nak: %w", err)
		}
	}
	return payload, sender, nil
}

func checkPrefix(msg, expectedPrefix string, expectedLen int) bool {
	if !strings.HasPrefix(msg, expectedPrefix) {
		return false
	}
	if expectedLen > 0 && len(msg) != expectedLen {
		return false
	}
	return true
}
