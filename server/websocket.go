package server

import (
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn carries one protocol frame body per WebSocket message.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) WriteFrame(body []byte) error {
	return c.ws.WriteMessage(websocket.BinaryMessage, body)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
func (c *wsConn) Close() error                       { return c.ws.Close() }
func (c *wsConn) RemoteAddr() string                 { return c.ws.RemoteAddr().String() }

// ServeWebSocket upgrades the request and runs the protocol on it until the
// client goes away.
func (s *Server) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	ws.SetReadLimit(int64(s.config.MaxFrameSize))
	s.handleConnection(&wsConn{ws: ws})
}

// StartWebSocket serves the /ws endpoint on config.WSAddr until Shutdown.
func (s *Server) StartWebSocket() error {
	listener, err := net.Listen("tcp", s.config.WSAddr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ServeWebSocket)
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if !s.addListener(httpServer) {
		listener.Close()
		return nil
	}

	log.Printf("WebSocket endpoint listening on ws://%s/ws", listener.Addr())

	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
