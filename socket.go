package ftp

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// eventKind classifies a socket event.
type eventKind int

const (
	eventData eventKind = iota
	eventError
	eventTimeout
	eventClosed
)

// socketEvent is the unified event surface produced by both the control and
// the data socket. The dispatcher consumes all of them from one channel and
// uses the sock field to tell orphaned sockets from current ones.
type socketEvent struct {
	sock *socket
	kind eventKind
	data []byte
	err  error
}

// socket adapts a net.Conn (plain or TLS) to the event channel of the
// dispatcher. A pump goroutine reads the conn and delivers data, error,
// timeout and close events in arrival order.
//
// The timeout is an idle timeout: write activity pushes the read deadline
// forward, so a long upload with a silent peer does not trip it.
type socket struct {
	conn    net.Conn
	timeout time.Duration
	events  chan<- socketEvent
	done    <-chan struct{}

	detached atomic.Bool
	activity atomic.Int64 // unix nanos of the last read or write

	closeOnce sync.Once
}

// newSocket installs keep-alive on the underlying TCP conn and starts the
// read pump.
func newSocket(conn net.Conn, timeout time.Duration, events chan<- socketEvent, done <-chan struct{}) *socket {
	enableKeepAlive(conn)
	s := &socket{
		conn:    conn,
		timeout: timeout,
		events:  events,
		done:    done,
	}
	s.touch()
	go s.pump()
	return s
}

// enableKeepAlive turns on TCP keep-alive, reaching through a TLS wrapper
// to the raw conn when present.
func enableKeepAlive(conn net.Conn) {
	if tlsConn, ok := conn.(*tls.Conn); ok {
		conn = tlsConn.NetConn()
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
	}
}

func (s *socket) touch() {
	s.activity.Store(time.Now().UnixNano())
}

// idleDeadline returns the moment the socket becomes idle-expired, or the
// zero time when no timeout is configured.
func (s *socket) idleDeadline() time.Time {
	if s.timeout <= 0 {
		return time.Time{}
	}
	return time.Unix(0, s.activity.Load()).Add(s.timeout)
}

// pump reads the conn until a terminal event or detach.
func (s *socket) pump() {
	buf := make([]byte, 4096)
	for {
		_ = s.conn.SetReadDeadline(s.idleDeadline())
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.touch()
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !s.deliver(socketEvent{sock: s, kind: eventData, data: chunk}) {
				return
			}
		}
		if err == nil {
			continue
		}
		if s.detached.Load() {
			return
		}

		var ne net.Error
		switch {
		case errors.Is(err, io.EOF):
			s.deliver(socketEvent{sock: s, kind: eventClosed})
		case errors.As(err, &ne) && ne.Timeout():
			// A write may have refreshed the idle deadline while the
			// read was blocked; re-arm instead of reporting.
			if time.Now().Before(s.idleDeadline()) {
				continue
			}
			s.deliver(socketEvent{sock: s, kind: eventTimeout})
		default:
			s.deliver(socketEvent{sock: s, kind: eventError, err: err})
		}
		return
	}
}

// deliver hands an event to the dispatcher unless the socket was detached
// or the dispatcher is gone.
func (s *socket) deliver(ev socketEvent) bool {
	if s.detached.Load() {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// write sends bytes on the conn with the configured deadline.
func (s *socket) write(b []byte) error {
	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return err
		}
	}
	_, err := s.conn.Write(b)
	if err == nil {
		s.touch()
	}
	return err
}

// detach stops event delivery and kicks the pump out of its blocking read.
// The conn itself stays open; used before a TLS upgrade takes it over.
func (s *socket) detach() {
	s.detached.Store(true)
	_ = s.conn.SetReadDeadline(time.Now())
}

// close detaches and destroys the conn. Idempotent.
func (s *socket) close() {
	s.closeOnce.Do(func() {
		s.detached.Store(true)
		_ = s.conn.Close()
	})
}

// closeWrite half-closes the conn so the peer observes EOF, falling back to
// a full close when the conn cannot half-close.
func (s *socket) closeWrite() {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := s.conn.(writeCloser); ok {
		_ = wc.CloseWrite()
		return
	}
	s.close()
}

// upgradeTLS hands the underlying conn to the TLS layer, performs the
// handshake and returns a fresh socket over the TLS conn. The original
// socket is detached and must not be used afterwards; on handshake failure
// the conn is left to the caller to destroy.
func (s *socket) upgradeTLS(config *tls.Config, events chan<- socketEvent, done <-chan struct{}) (*socket, error) {
	s.detach()

	tlsConn := tls.Client(s.conn, config)
	if s.timeout > 0 {
		if err := tlsConn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
			return nil, &TLSError{Err: err}
		}
	} else {
		// detach left a past read deadline on the conn
		_ = tlsConn.SetDeadline(time.Time{})
	}
	if err := tlsConn.Handshake(); err != nil {
		return nil, &TLSError{Err: err}
	}
	_ = tlsConn.SetDeadline(time.Time{})

	return newSocket(tlsConn, s.timeout, events, done), nil
}
