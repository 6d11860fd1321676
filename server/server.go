package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatrelay/models"
	"chatrelay/protocol"
)

// Repository is the durable store the server needs: accounts, profiles and
// contact lists.
type Repository interface {
	CreateUser(ctx context.Context, reg models.Registration) error
	VerifyCredential(ctx context.Context, username, password string) (bool, error)
	FetchProfile(ctx context.Context, username string) (models.Profile, error)
	CreateContact(ctx context.Context, owner, contact string) error
	FetchContacts(ctx context.Context, username string) ([]string, error)
	RecordPresence(ctx context.Context, username string, online bool, t time.Time) error
}

// Mailbox holds messages for recipients that were offline when they were sent.
// ClearQueuedMessages removes only the oldest count messages, so a message
// queued after a fetch survives the clear that follows it.
type Mailbox interface {
	EnqueueMessage(ctx context.Context, recipient string, msg models.Message) error
	FetchQueuedMessages(ctx context.Context, recipient string) ([]models.Message, error)
	ClearQueuedMessages(ctx context.Context, recipient string, count int) error
}

type Server struct {
	repo    Repository
	mailbox Mailbox
	config  *ServerConfig

	sessions *SessionRegistry
	groups   *GroupRegistry
	presence *Presence

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	conns     map[*Session]struct{}
	listeners []io.Closer
	closing   bool
	wg        sync.WaitGroup
}

type ServerConfig struct {
	Addr          string
	WSAddr        string
	IdleTimeout   time.Duration
	WriteTimeout  time.Duration
	OutboundQueue int
	MaxFrameSize  int
}

func New(repo Repository, mailbox Mailbox, config *ServerConfig) *Server {
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.OutboundQueue <= 0 {
		config.OutboundQueue = 64
	}
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = protocol.DefaultMaxFrameSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	sessions := NewSessionRegistry()

	return &Server{
		repo:     repo,
		mailbox:  mailbox,
		config:   config,
		sessions: sessions,
		groups:   NewGroupRegistry(),
		presence: NewPresence(sessions),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[*Session]struct{}),
	}
}

// Start listens on config.Addr and serves until Shutdown. A bind failure is
// returned immediately.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Shutdown. It takes ownership of
// the listener.
func (s *Server) Serve(listener net.Listener) error {
	if !s.addListener(listener) {
		listener.Close()
		return nil
	}

	log.Printf("Chat relay listening on %s", listener.Addr())

	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosing() {
				return nil
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			log.Printf("Error accepting connection: %v; retrying in %v", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		go s.ServeConn(conn)
	}
}

// ServeConn runs the protocol on an accepted stream connection and returns
// when the client is gone.
func (s *Server) ServeConn(conn net.Conn) {
	s.handleConnection(newStreamConn(conn, s.config.MaxFrameSize))
}

func (s *Server) handleConnection(conn Conn) {
	session := newSession(conn, s.config.OutboundQueue, s.config.WriteTimeout)
	if !s.track(session) {
		conn.Close()
		return
	}
	defer s.untrack(session)

	go session.writePump()

	remoteAddr := conn.RemoteAddr()
	log.Printf("New client connected from %s", remoteAddr)

	defer s.finishSession(session, remoteAddr)

	for {
		if s.config.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		}
		frame, err := conn.ReadFrame()
		if err != nil {
			var netErr net.Error
			switch {
			case isClosedConn(err):
			case errors.As(err, &netErr) && netErr.Timeout():
				log.Printf("Client %s idle, closing connection", remoteAddr)
			default:
				log.Printf("Error reading from %s: %v", remoteAddr, err)
			}
			return
		}

		cmd, err := protocol.Decode(frame)
		if err != nil {
			log.Printf("Ignoring frame from %s: %v", remoteAddr, err)
			continue
		}

		if !s.handleCommand(session, cmd) {
			return
		}
	}
}

// finishSession withdraws the session from presence, then flushes and closes
// the connection.
func (s *Server) finishSession(session *Session, remoteAddr string) {
	if username := session.Username(); username != "" {
		if s.presence.Leave(username, session) {
			if err := s.repo.RecordPresence(s.ctx, username, false, time.Now().UTC()); err != nil {
				log.Printf("Failed to record last_offline for %s: %v", username, err)
			}
			log.Printf("Client %s disconnected from %s", username, remoteAddr)
		}
	} else {
		log.Printf("Client disconnected from %s", remoteAddr)
	}

	session.Close()
	session.Wait()
}

func (s *Server) addListener(l io.Closer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.listeners = append(s.listeners, l)
	return true
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) track(session *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[session] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(session *Session) {
	s.mu.Lock()
	delete(s.conns, session)
	s.mu.Unlock()
	s.wg.Done()
}

// Shutdown stops the listeners, drops every connection and waits for their
// cleanup to finish.
func (s *Server) Shutdown(reason string) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	listeners := s.listeners
	s.listeners = nil
	conns := make([]*Session, 0, len(s.conns))
	for session := range s.conns {
		conns = append(conns, session)
	}
	s.mu.Unlock()

	log.Printf("Shutting down (%s), closing %d connections", reason, len(conns))

	for _, l := range listeners {
		l.Close()
	}
	for _, session := range conns {
		session.conn.Close()
	}

	s.wg.Wait()
	s.cancel()
}

// sendTo delivers cmd to each distinct online user in usernames and returns
// the ones it could not reach.
func (s *Server) sendTo(usernames []string, cmd protocol.Command) []string {
	frame, err := protocol.Encode(cmd)
	if err != nil {
		log.Printf("Failed to encode %s: %v", cmd.Tag(), err)
		return nil
	}

	var missed []string
	for _, username := range distinct(usernames) {
		if session, ok := s.sessions.Get(username); ok && session.sendFrame(frame) {
			continue
		}
		missed = append(missed, username)
	}
	return missed
}

// GetStats returns server statistics as a formatted string
func (s *Server) GetStats() string {
	s.mu.Lock()
	connections := len(s.conns)
	s.mu.Unlock()

	return "connections=" + strconv.Itoa(connections) +
		",sessions=" + strconv.Itoa(s.sessions.Len()) +
		",groups=" + strconv.Itoa(s.groups.Len()) +
		",users=" + strings.Join(s.sessions.Snapshot(), ";")
}

func distinct(usernames []string) []string {
	seen := make(map[string]struct{}, len(usernames))
	out := make([]string, 0, len(usernames))
	for _, u := range usernames {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func contains(usernames []string, username string) bool {
	for _, u := range usernames {
		if u == username {
			return true
		}
	}
	return false
}
