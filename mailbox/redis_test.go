package mailbox

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"chatrelay/models"
)

func setupTestMailbox(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("CHATRELAY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHATRELAY_TEST_REDIS_ADDR not set")
	}
	mb, err := NewRedis(context.Background(), Options{
		Addr:   addr,
		Prefix: fmt.Sprintf("chatrelay-test-%d:", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("Failed to connect to redis: %v", err)
	}
	t.Cleanup(func() { mb.Close() })
	return mb
}

func TestRedisMailbox(t *testing.T) {
	mb := setupTestMailbox(t)
	ctx := context.Background()
	defer mb.rdb.Del(ctx, mb.key("dave"))

	for _, text := range []string{"one", "two", "three"} {
		msg, err := models.NewMessage(models.MessageParams{
			Text: text, SentBy: "carol", Recipients: []string{"carol", "dave"},
		})
		if err != nil {
			t.Fatalf("Failed to build message: %v", err)
		}
		if err := mb.EnqueueMessage(ctx, "dave", msg); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}
	}

	queued, err := mb.FetchQueuedMessages(ctx, "dave")
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if len(queued) != 3 || queued[0].Text() != "one" || queued[2].Text() != "three" {
		t.Fatalf("Unexpected queue contents: %d messages", len(queued))
	}
	if queued[1].SentBy() != "carol" {
		t.Errorf("Expected sender carol, got %q", queued[1].SentBy())
	}

	if err := mb.ClearQueuedMessages(ctx, "dave", len(queued)); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}
	queued, err = mb.FetchQueuedMessages(ctx, "dave")
	if err != nil || len(queued) != 0 {
		t.Errorf("Expected empty mailbox, got %d, %v", len(queued), err)
	}
}

func TestRedisClearKeepsLaterMessages(t *testing.T) {
	mb := setupTestMailbox(t)
	ctx := context.Background()
	defer mb.rdb.Del(ctx, mb.key("dave"))

	for _, text := range []string{"one", "two"} {
		msg, _ := models.NewMessage(models.MessageParams{Text: text, SentBy: "carol", Recipients: []string{"dave"}})
		if err := mb.EnqueueMessage(ctx, "dave", msg); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}
	}
	fetched, err := mb.FetchQueuedMessages(ctx, "dave")
	if err != nil || len(fetched) != 2 {
		t.Fatalf("Expected 2 queued messages, got %d, %v", len(fetched), err)
	}

	late, _ := models.NewMessage(models.MessageParams{Text: "late", SentBy: "carol", Recipients: []string{"dave"}})
	if err := mb.EnqueueMessage(ctx, "dave", late); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	if err := mb.ClearQueuedMessages(ctx, "dave", len(fetched)); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}
	queued, err := mb.FetchQueuedMessages(ctx, "dave")
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if len(queued) != 1 || queued[0].Text() != "late" {
		t.Errorf("Expected only the late message to remain, got %d messages", len(queued))
	}
}

func TestNewRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedis(ctx, Options{Addr: "127.0.0.1:1"}); err == nil {
		t.Errorf("Expected error for unreachable server")
	}
}
