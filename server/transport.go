package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"chatrelay/protocol"
)

// Conn is a framed, bidirectional connection to one client. ReadFrame is only
// called from the connection's read loop and WriteFrame only from its writer.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(body []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
	RemoteAddr() string
}

// streamConn frames a byte stream (TCP) with protocol length prefixes.
type streamConn struct {
	conn     net.Conn
	reader   *bufio.Reader
	maxFrame int
}

func newStreamConn(conn net.Conn, maxFrame int) *streamConn {
	return &streamConn{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		maxFrame: maxFrame,
	}
}

func (c *streamConn) ReadFrame() ([]byte, error) {
	return protocol.ReadFrame(c.reader, c.maxFrame)
}

func (c *streamConn) WriteFrame(body []byte) error {
	return protocol.WriteFrame(c.conn, body)
}

func (c *streamConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *streamConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
func (c *streamConn) Close() error                       { return c.conn.Close() }
func (c *streamConn) RemoteAddr() string                 { return c.conn.RemoteAddr().String() }

// isClosedConn reports errors that just mean the peer or the server hung up.
func isClosedConn(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}
