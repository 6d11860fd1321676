package server

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
)

func TestSessionRegistryCompareAndRemove(t *testing.T) {
	registry := NewSessionRegistry()
	first := newSession(newFakeConn(), 1, 0)
	second := newSession(newFakeConn(), 1, 0)

	if prev := registry.Put("alice", first); prev != nil {
		t.Fatalf("Expected no previous session, got %v", prev.ID)
	}
	if prev := registry.Put("alice", second); prev != first {
		t.Fatal("Expected first session to be returned as replaced")
	}

	if registry.Remove("alice", first) {
		t.Error("Stale session must not remove its successor")
	}
	if got, ok := registry.Get("alice"); !ok || got != second {
		t.Error("Expected second session still registered")
	}
	if !registry.Remove("alice", second) {
		t.Error("Expected current session to be removed")
	}
	if registry.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", registry.Len())
	}
}

func TestSessionRegistrySnapshotSorted(t *testing.T) {
	registry := NewSessionRegistry()
	for _, name := range []string{"carol", "alice", "bob"} {
		registry.Put(name, newSession(newFakeConn(), 1, 0))
	}

	expected := []string{"alice", "bob", "carol"}
	if got := registry.Snapshot(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}
	if got := NewSessionRegistry().Snapshot(); got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil snapshot, got %#v", got)
	}
}

func TestSessionRegistryConcurrent(t *testing.T) {
	registry := NewSessionRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("user%d", i%10)
			s := newSession(newFakeConn(), 1, 0)
			registry.Put(name, s)
			registry.Snapshot()
			if i%2 == 0 {
				registry.Remove(name, s)
			}
		}(i)
	}
	wg.Wait()

	if n := registry.Len(); n > 10 {
		t.Errorf("Expected at most 10 users, got %d", n)
	}
}

func TestGroupRegistryOrderInsensitive(t *testing.T) {
	groups := NewGroupRegistry()

	if !groups.TryRegister([]string{"alice", "bob"}) {
		t.Fatal("Expected first registration to succeed")
	}
	if groups.TryRegister([]string{"bob", "alice"}) {
		t.Error("Same members in another order must be the same group")
	}
	if !groups.Exists([]string{"bob", "alice", "alice"}) {
		t.Error("Duplicate members must not change group identity")
	}
	if groups.Exists([]string{"alice", "bob", "carol"}) {
		t.Error("Different member set must be a different group")
	}

	if !groups.Unregister([]string{"bob", "alice"}) {
		t.Error("Expected unregister to find the group")
	}
	if groups.Unregister([]string{"alice", "bob"}) {
		t.Error("Expected second unregister to be a no-op")
	}

	groups.Register([]string{"x", "y"})
	if groups.Len() != 1 {
		t.Errorf("Expected 1 group, got %d", groups.Len())
	}
}

func TestGroupRegistryConcurrentTryRegister(t *testing.T) {
	groups := NewGroupRegistry()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			members := []string{"alice", "bob"}
			if i%2 == 1 {
				members = []string{"bob", "alice"}
			}
			if groups.TryRegister(members) {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly one winner, got %d", wins)
	}
}
