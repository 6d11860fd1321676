package server

import (
	"sync"

	"chatrelay/models"
)

// GroupRegistry records which chat groups are open. Groups are keyed by
// models.GroupKey, so member order does not matter.
type GroupRegistry struct {
	mu     sync.Mutex
	groups map[string]struct{}
}

func NewGroupRegistry() *GroupRegistry {
	return &GroupRegistry{groups: make(map[string]struct{})}
}

func (g *GroupRegistry) Exists(members []string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.groups[models.GroupKey(members)]
	return ok
}

func (g *GroupRegistry) Register(members []string) {
	g.mu.Lock()
	g.groups[models.GroupKey(members)] = struct{}{}
	g.mu.Unlock()
}

// TryRegister registers members unless the group already exists, as one
// atomic step. It reports whether this call created the group.
func (g *GroupRegistry) TryRegister(members []string) bool {
	key := models.GroupKey(members)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.groups[key]; ok {
		return false
	}
	g.groups[key] = struct{}{}
	return true
}

func (g *GroupRegistry) Unregister(members []string) bool {
	key := models.GroupKey(members)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.groups[key]; !ok {
		return false
	}
	delete(g.groups, key)
	return true
}

func (g *GroupRegistry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.groups)
}
