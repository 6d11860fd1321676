package server

import (
	"log"
	"sync"
	"time"

	"chatrelay/protocol"

	"github.com/google/uuid"
)

// Session is the server side of one client connection. Everything written to
// the client goes through the out queue and a single writer goroutine, so
// replies and broadcasts from other connections never interleave.
type Session struct {
	ID string

	conn         Conn
	out          chan []byte
	writeTimeout time.Duration
	done         chan struct{}

	mu       sync.Mutex
	username string
	closed   bool
}

func newSession(conn Conn, queueSize int, writeTimeout time.Duration) *Session {
	return &Session{
		ID:           uuid.NewString(),
		conn:         conn,
		out:          make(chan []byte, queueSize),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Session) setUsername(username string) {
	s.mu.Lock()
	s.username = username
	s.mu.Unlock()
}

// Send queues cmd for the client. It never blocks: if the queue is full the
// client is not keeping up and the session is closed. It reports whether cmd
// was queued.
func (s *Session) Send(cmd protocol.Command) bool {
	frame, err := protocol.Encode(cmd)
	if err != nil {
		log.Printf("Failed to encode %s for %s: %v", cmd.Tag(), s.ID, err)
		return false
	}
	return s.sendFrame(frame)
}

func (s *Session) sendFrame(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.out <- frame:
		return true
	default:
		log.Printf("Client %s (%s) is not reading, dropping connection", s.username, s.ID)
		s.closeLocked()
		return false
	}
}

// Close stops accepting frames. Frames already queued are still written, then
// the connection is closed.
func (s *Session) Close() {
	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()
}

func (s *Session) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

// Wait blocks until the writer has flushed the queue and closed the connection.
func (s *Session) Wait() {
	<-s.done
}

func (s *Session) writePump() {
	defer close(s.done)
	defer s.conn.Close()

	failed := false
	for frame := range s.out {
		if failed {
			continue
		}
		if s.writeTimeout > 0 {
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		}
		if err := s.conn.WriteFrame(frame); err != nil {
			if !isClosedConn(err) {
				log.Printf("Error writing to %s: %v", s.conn.RemoteAddr(), err)
			}
			failed = true
			// Unblocks the read loop, whose cleanup closes the queue.
			s.conn.Close()
		}
	}
}
