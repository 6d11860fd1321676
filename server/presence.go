package server

import (
	"log"
	"sync"

	"chatrelay/protocol"
)

// Presence owns every change to the session registry and announces it. The
// lock makes the order of broadcasts match the order of registry changes, so
// no client sees an older CONNECTED_USER snapshot after a newer one.
type Presence struct {
	mu       sync.Mutex
	registry *SessionRegistry
}

func NewPresence(registry *SessionRegistry) *Presence {
	return &Presence{registry: registry}
}

// Join registers s as username's session and sends the new online set to
// everyone. A session it replaces is closed; that connection's read loop
// then fails and runs its own cleanup.
func (p *Presence) Join(username string, s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev := p.registry.Put(username, s); prev != nil && prev != s {
		log.Printf("Client %s logged in again, closing previous session %s", username, prev.ID)
		prev.Close()
	}
	p.broadcast(protocol.ConnectedUser{Usernames: p.registry.Snapshot()})
}

// Leave removes s if it is still username's session and tells the remaining
// sessions. It reports whether s was removed.
func (p *Presence) Leave(username string, s *Session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.registry.Remove(username, s) {
		return false
	}
	p.broadcast(protocol.RemoveActiveUser{Username: username})
	return true
}

func (p *Presence) broadcast(cmd protocol.Command) {
	frame, err := protocol.Encode(cmd)
	if err != nil {
		log.Printf("Failed to encode %s: %v", cmd.Tag(), err)
		return
	}
	for _, s := range p.registry.Sessions() {
		s.sendFrame(frame)
	}
}
