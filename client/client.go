// Package client is the counterpart of the relay server: it sends requests
// and keeps a local cache of what the server has pushed.
package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"chatrelay/models"
	"chatrelay/protocol"
)

var ErrNotConnected = errors.New("not connected")

// State is the client's view of the server. It is a cache only; the server
// decides who is online and which chats are open.
type State struct {
	Me          models.Profile
	ActiveUsers []string
	Contacts    []string
	OpenChats   map[string][]string
}

// Client represents a chat relay client
type Client struct {
	conn     net.Conn
	reader   *bufio.Reader
	maxFrame int

	mu       sync.Mutex
	handlers map[protocol.Tag][]func(protocol.Command)
	state    State

	sendMu    sync.Mutex
	connected bool
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		maxFrame:  protocol.DefaultMaxFrameSize,
		handlers:  make(map[protocol.Tag][]func(protocol.Command)),
		state:     State{OpenChats: make(map[string][]string)},
		connected: true,
	}
}

// Dial connects to the relay server
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// Close drops the connection without logging out.
func (c *Client) Close() error {
	c.sendMu.Lock()
	c.connected = false
	c.sendMu.Unlock()
	return c.conn.Close()
}

// OnCommand registers a handler for a server command tag. Handlers run on the
// Run goroutine after the state cache has been updated.
func (c *Client) OnCommand(tag protocol.Tag, handler func(protocol.Command)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[tag] = append(c.handlers[tag], handler)
}

// Run reads server commands until the connection closes. It returns nil when
// the server closed the connection cleanly.
func (c *Client) Run() error {
	for {
		cmd, err := protocol.ReadCommand(c.reader, c.maxFrame)
		if err != nil {
			c.sendMu.Lock()
			c.connected = false
			c.sendMu.Unlock()
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		c.apply(cmd)

		c.mu.Lock()
		handlers := c.handlers[cmd.Tag()]
		c.mu.Unlock()
		for _, h := range handlers {
			h(cmd)
		}
	}
}

// State returns a copy of the cached server state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		Me:          c.state.Me,
		ActiveUsers: append([]string(nil), c.state.ActiveUsers...),
		Contacts:    append([]string(nil), c.state.Contacts...),
		OpenChats:   make(map[string][]string, len(c.state.OpenChats)),
	}
	for k, v := range c.state.OpenChats {
		s.OpenChats[k] = append([]string(nil), v...)
	}
	return s
}

func (c *Client) apply(cmd protocol.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()

	me := c.state.Me.Username
	switch cmd := cmd.(type) {
	case protocol.LoginSuccessful:
		c.state.Me = cmd.Profile
	case protocol.RegistrationSuccessful:
		c.state.Me = cmd.Profile
	case protocol.ConnectedUser:
		c.state.ActiveUsers = without(cmd.Usernames, me)
	case protocol.RemoveActiveUser:
		c.state.ActiveUsers = without(c.state.ActiveUsers, cmd.Username)
	case protocol.ShowContacts:
		if cmd.Username == me {
			c.state.Contacts = without(cmd.Contacts, me)
		}
	case protocol.StartChatting:
		c.state.OpenChats[models.GroupKey(cmd.Members)] = cmd.Members
	case protocol.CloseChatView:
		delete(c.state.OpenChats, models.GroupKey(cmd.Members))
	}
}

// Send sends a command to the server
func (c *Client) Send(cmd protocol.Command) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}
	if err := protocol.WriteCommand(c.conn, cmd); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Tag(), err)
	}
	return nil
}

// Login sends an authentication request
func (c *Client) Login(username, password string) error {
	return c.Send(protocol.LoginRequest{Credential: models.Credential{Username: username, Password: password}})
}

// Register sends a registration request
func (c *Client) Register(reg models.Registration) error {
	return c.Send(protocol.RegistrationRequest{Registration: reg})
}

// RequestChat asks the server to open a chat with members. The current user
// is added when missing.
func (c *Client) RequestChat(members ...string) error {
	return c.Send(protocol.ChatRequest{Members: c.withMe(members)})
}

// SendText sends text to every member of a chat, including the sender.
func (c *Client) SendText(members []string, text string) error {
	return c.sendMessage(models.MessageParams{Text: text}, members)
}

// SendImage sends an image with an optional caption.
func (c *Client) SendImage(members []string, path string, image []byte, caption string) error {
	return c.sendMessage(models.MessageParams{Text: caption, ImagePath: path, Image: image}, members)
}

func (c *Client) sendMessage(p models.MessageParams, members []string) error {
	p.SentBy = c.me()
	p.Recipients = c.withMe(members)
	p.SendTime = time.Now().Format(models.SendTimeLayout)

	msg, err := models.NewMessage(p)
	if err != nil {
		return err
	}
	return c.Send(protocol.SendMessageRequest{Message: msg})
}

// AddContact adds username to the current user's contacts
func (c *Client) AddContact(username string) error {
	return c.Send(protocol.AddToContactsRequest{Owner: c.me(), Contact: username})
}

// CloseChat closes a chat window for every member
func (c *Client) CloseChat(members []string) error {
	return c.Send(protocol.CloseChatViewRequest{Members: members})
}

// Logout ends the session; the server closes the connection.
func (c *Client) Logout() error {
	return c.Send(protocol.LogoutRequest{Username: c.me()})
}

func (c *Client) me() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Me.Username
}

func (c *Client) withMe(members []string) []string {
	me := c.me()
	if me == "" {
		return members
	}
	for _, m := range members {
		if m == me {
			return members
		}
	}
	out := make([]string, 0, len(members)+1)
	out = append(out, me)
	return append(out, members...)
}

func without(usernames []string, username string) []string {
	out := make([]string, 0, len(usernames))
	for _, u := range usernames {
		if u != username {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}
