package server

import (
	"errors"
	"log"
	"time"

	"chatrelay/db"
	"chatrelay/protocol"
)

const (
	reasonWrongCredentials = "Wrong credentials!"
	reasonInternalError    = "Internal error"
)

// handleCommand dispatches one decoded command. It returns false when the
// connection should be closed.
func (s *Server) handleCommand(session *Session, cmd protocol.Command) bool {
	switch c := cmd.(type) {
	case protocol.LoginRequest:
		return s.handleLogin(session, c)
	case protocol.RegistrationRequest:
		return s.handleRegistration(session, c)
	case protocol.ChatRequest:
		s.handleChatRequest(session, c)
	case protocol.SendMessageRequest:
		s.handleSendMessage(session, c)
	case protocol.AddToContactsRequest:
		s.handleAddContact(session, c)
	case protocol.CloseChatViewRequest:
		s.handleCloseChatView(session, c)
	case protocol.LogoutRequest:
		if _, ok := s.requireLogin(session, c.Tag()); !ok {
			return true
		}
		s.handleLogout(session, c)
		return false
	default:
		s.ignore(session, cmd.Tag(), "not a client request")
	}
	return true
}

func (s *Server) ignore(session *Session, tag protocol.Tag, reason string) {
	log.Printf("Ignoring %s from %s (%s): %s", tag, session.conn.RemoteAddr(), session.Username(), reason)
}

// requireLogin reports whether the session is authenticated, logging the
// violation when it is not.
func (s *Server) requireLogin(session *Session, tag protocol.Tag) (string, bool) {
	username := session.Username()
	if username == "" {
		s.ignore(session, tag, "not logged in")
		return "", false
	}
	return username, true
}

func (s *Server) handleLogin(session *Session, req protocol.LoginRequest) bool {
	if session.Username() != "" {
		s.ignore(session, req.Tag(), "already logged in")
		return true
	}

	username := req.Credential.Username
	if username == "" || req.Credential.Password == "" {
		session.Send(protocol.LoginUnsuccessful{Reason: reasonWrongCredentials})
		return false
	}

	valid, err := s.repo.VerifyCredential(s.ctx, username, req.Credential.Password)
	if err != nil {
		log.Printf("Login error for %s: %v", username, err)
		session.Send(protocol.LoginUnsuccessful{Reason: reasonInternalError})
		return false
	}
	if !valid {
		log.Printf("Failed login for %s from %s", username, session.conn.RemoteAddr())
		session.Send(protocol.LoginUnsuccessful{Reason: reasonWrongCredentials})
		return false
	}

	profile, err := s.repo.FetchProfile(s.ctx, username)
	if err != nil {
		log.Printf("Login error for %s: %v", username, err)
		session.Send(protocol.LoginUnsuccessful{Reason: reasonInternalError})
		return false
	}

	s.establish(session, username, protocol.LoginSuccessful{Profile: profile})
	return true
}

func (s *Server) handleRegistration(session *Session, req protocol.RegistrationRequest) bool {
	if session.Username() != "" {
		s.ignore(session, req.Tag(), "already logged in")
		return true
	}

	reg := req.Registration
	profile := reg.Profile()
	if reg.Username == "" || reg.Password == "" {
		session.Send(protocol.RegistrationUnsuccessful{Profile: profile})
		return false
	}

	if err := s.repo.CreateUser(s.ctx, reg); err != nil {
		if !errors.Is(err, db.ErrUserExists) {
			log.Printf("Register error for %s: %v", reg.Username, err)
		}
		session.Send(protocol.RegistrationUnsuccessful{Profile: profile})
		return false
	}

	log.Printf("Registered user %s", reg.Username)
	s.establish(session, reg.Username, protocol.RegistrationSuccessful{Profile: profile})
	return true
}

// establish finishes a successful login or registration: the positive reply,
// the contact list, the presence announcement, then any queued messages.
// Joining before the mailbox is read means senders deliver live from here on.
func (s *Server) establish(session *Session, username string, reply protocol.Command) {
	contacts, err := s.repo.FetchContacts(s.ctx, username)
	if err != nil {
		log.Printf("Failed to fetch contacts for %s: %v", username, err)
		contacts = []string{}
	}

	session.setUsername(username)
	session.Send(reply)
	session.Send(protocol.ShowContacts{Username: username, Contacts: contacts})

	s.presence.Join(username, session)

	queued, err := s.mailbox.FetchQueuedMessages(s.ctx, username)
	if err != nil {
		log.Printf("Failed to fetch queued messages for %s: %v", username, err)
		queued = nil
	}
	if len(queued) > 0 && session.Send(protocol.ShowStoredMessages{Messages: queued}) {
		// Only what was delivered; anything queued since waits for the next login.
		if err := s.mailbox.ClearQueuedMessages(s.ctx, username, len(queued)); err != nil {
			log.Printf("Failed to clear queued messages for %s: %v", username, err)
		}
	}

	if err := s.repo.RecordPresence(s.ctx, username, true, time.Now().UTC()); err != nil {
		log.Printf("Failed to record last_online for %s: %v", username, err)
	}
	log.Printf("Client %s logged in from %s", username, session.conn.RemoteAddr())
}

func (s *Server) handleChatRequest(session *Session, req protocol.ChatRequest) {
	username, ok := s.requireLogin(session, req.Tag())
	if !ok {
		return
	}
	if len(req.Members) == 0 {
		s.ignore(session, req.Tag(), "empty member list")
		return
	}
	if !contains(req.Members, username) {
		s.ignore(session, req.Tag(), "requester is not a member")
		return
	}

	if !s.groups.TryRegister(req.Members) {
		log.Printf("Chat %v already open, request from %s ignored", req.Members, username)
		return
	}

	s.sendTo(req.Members, protocol.StartChatting{Members: req.Members})
}

func (s *Server) handleSendMessage(session *Session, req protocol.SendMessageRequest) {
	username, ok := s.requireLogin(session, req.Tag())
	if !ok {
		return
	}

	msg := req.Message
	if msg.SentBy() != username {
		s.ignore(session, req.Tag(), "sender is "+msg.SentBy())
		return
	}

	offline := s.sendTo(msg.Recipients(), protocol.ShowMessage{Message: msg})
	for _, recipient := range offline {
		if err := s.mailbox.EnqueueMessage(s.ctx, recipient, msg); err != nil {
			log.Printf("Failed to queue message from %s for %s: %v", username, recipient, err)
		}
	}
}

func (s *Server) handleAddContact(session *Session, req protocol.AddToContactsRequest) {
	username, ok := s.requireLogin(session, req.Tag())
	if !ok {
		return
	}
	if req.Owner != username {
		s.ignore(session, req.Tag(), "owner is "+req.Owner)
		return
	}
	if req.Contact == "" || req.Contact == username {
		s.ignore(session, req.Tag(), "invalid contact")
		return
	}

	err := s.repo.CreateContact(s.ctx, username, req.Contact)
	switch {
	case err == nil, errors.Is(err, db.ErrContactExists):
	case errors.Is(err, db.ErrUserNotFound):
		log.Printf("Add contact: %s asked for unknown user %s", username, req.Contact)
		return
	default:
		log.Printf("Add contact error for %s: %v", username, err)
		return
	}

	contacts, err := s.repo.FetchContacts(s.ctx, username)
	if err != nil {
		log.Printf("Failed to fetch contacts for %s: %v", username, err)
		return
	}
	session.Send(protocol.ShowContacts{Username: username, Contacts: contacts})
}

func (s *Server) handleCloseChatView(session *Session, req protocol.CloseChatViewRequest) {
	username, ok := s.requireLogin(session, req.Tag())
	if !ok {
		return
	}
	if len(req.Members) == 0 {
		s.ignore(session, req.Tag(), "empty member list")
		return
	}
	if !contains(req.Members, username) {
		s.ignore(session, req.Tag(), "requester is not a member")
		return
	}

	s.sendTo(req.Members, protocol.CloseChatView{Members: req.Members})
	s.groups.Unregister(req.Members)
}

// handleLogout ends the requester's own session; cleanup runs when the read
// loop returns.
func (s *Server) handleLogout(session *Session, req protocol.LogoutRequest) {
	username := session.Username()
	if req.Username != username {
		log.Printf("Logout for %q on session of %q, closing requester", req.Username, username)
	}
	log.Printf("Client %s logged out", username)
}
