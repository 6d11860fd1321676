package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chatrelay/models"

	"golang.org/x/crypto/bcrypt"
)

// setupTestDB opens a fresh SQLite database in a temp dir.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(Options{
		Driver:     DriverSQLite,
		DSN:        filepath.Join(t.TempDir(), "test.db"),
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func mustCreateUser(t *testing.T, database *DB, username string) {
	t.Helper()
	err := database.CreateUser(context.Background(), models.Registration{
		Username: username,
		Password: "password123",
	})
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
}

func TestCreateUserAndVerify(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	err := database.CreateUser(ctx, models.Registration{
		Username:  "eve",
		Password:  "password123",
		FirstName: "Eve",
		LastName:  "Adams",
		Avatar:    []byte{1, 2, 3},
	})
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	ok, err := database.VerifyCredential(ctx, "eve", "password123")
	if err != nil || !ok {
		t.Errorf("Expected valid credential, got %v, %v", ok, err)
	}
	ok, err = database.VerifyCredential(ctx, "eve", "wrong")
	if err != nil || ok {
		t.Errorf("Expected invalid credential, got %v, %v", ok, err)
	}
	ok, err = database.VerifyCredential(ctx, "nobody", "password123")
	if err != nil || ok {
		t.Errorf("Expected unknown user to fail without error, got %v, %v", ok, err)
	}

	profile, err := database.FetchProfile(ctx, "eve")
	if err != nil {
		t.Fatalf("Failed to fetch profile: %v", err)
	}
	if profile.FirstName != "Eve" || profile.LastName != "Adams" || len(profile.Avatar) != 3 {
		t.Errorf("Unexpected profile %+v", profile)
	}
}

func TestCreateUserDuplicateKeepsProfile(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	err := database.CreateUser(ctx, models.Registration{Username: "eve", Password: "first", FirstName: "Eve"})
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	err = database.CreateUser(ctx, models.Registration{Username: "eve", Password: "second", FirstName: "Impostor"})
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("Expected ErrUserExists, got %v", err)
	}

	profile, err := database.FetchProfile(ctx, "eve")
	if err != nil {
		t.Fatalf("Failed to fetch profile: %v", err)
	}
	if profile.FirstName != "Eve" {
		t.Errorf("Profile was altered: %+v", profile)
	}
	if ok, _ := database.VerifyCredential(ctx, "eve", "first"); !ok {
		t.Errorf("Original password no longer verifies")
	}
}

func TestFetchProfileNotFound(t *testing.T) {
	database := setupTestDB(t)
	_, err := database.FetchProfile(context.Background(), "ghost")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestContacts(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	mustCreateUser(t, database, "alice")
	mustCreateUser(t, database, "bob")
	mustCreateUser(t, database, "carol")

	if err := database.CreateContact(ctx, "alice", "bob"); err != nil {
		t.Fatalf("Failed to add contact: %v", err)
	}
	if err := database.CreateContact(ctx, "alice", "carol"); err != nil {
		t.Fatalf("Failed to add contact: %v", err)
	}
	if err := database.CreateContact(ctx, "alice", "bob"); !errors.Is(err, ErrContactExists) {
		t.Errorf("Expected ErrContactExists, got %v", err)
	}
	if err := database.CreateContact(ctx, "alice", "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}

	contacts, err := database.FetchContacts(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to fetch contacts: %v", err)
	}
	if len(contacts) != 2 || contacts[0] != "bob" || contacts[1] != "carol" {
		t.Errorf("Expected [bob carol], got %v", contacts)
	}

	contacts, err = database.FetchContacts(ctx, "bob")
	if err != nil {
		t.Fatalf("Failed to fetch contacts: %v", err)
	}
	if contacts == nil || len(contacts) != 0 {
		t.Errorf("Expected empty non-nil list for bob, got %#v", contacts)
	}
}

func TestMailbox(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	first, _ := models.NewMessage(models.MessageParams{
		Text: "hi dave", SentBy: "carol", Recipients: []string{"carol", "dave"}, SendTime: "2024-01-01 09:00",
	})
	second, _ := models.NewMessage(models.MessageParams{
		Image: []byte{7, 7}, ImagePath: "/tmp/x.png", SentBy: "erin", Recipients: []string{"erin", "dave"},
	})

	if err := database.EnqueueMessage(ctx, "dave", first); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if err := database.EnqueueMessage(ctx, "dave", second); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if err := database.EnqueueMessage(ctx, "carol", first); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	queued, err := database.FetchQueuedMessages(ctx, "dave")
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("Expected 2 queued messages, got %d", len(queued))
	}
	if queued[0].SentBy() != "carol" || queued[0].Text() != "hi dave" || queued[0].SendTime() != "2024-01-01 09:00" {
		t.Errorf("Unexpected first message %+v", queued[0].Params())
	}
	if got := queued[0].Recipients(); len(got) != 2 || got[1] != "dave" {
		t.Errorf("Recipients not preserved: %v", got)
	}
	if !queued[1].HasImage() || queued[1].ImagePath() != "/tmp/x.png" {
		t.Errorf("Image not preserved: %+v", queued[1].Params())
	}

	if err := database.ClearQueuedMessages(ctx, "dave", len(queued)); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}
	queued, err = database.FetchQueuedMessages(ctx, "dave")
	if err != nil || len(queued) != 0 {
		t.Errorf("Expected empty mailbox after clear, got %d, %v", len(queued), err)
	}
	queued, err = database.FetchQueuedMessages(ctx, "carol")
	if err != nil || len(queued) != 1 {
		t.Errorf("Clearing dave touched carol's mailbox: %d, %v", len(queued), err)
	}
}

func TestClearKeepsLaterMessages(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	enqueue := func(text string) {
		t.Helper()
		msg, err := models.NewMessage(models.MessageParams{Text: text, SentBy: "carol", Recipients: []string{"dave"}})
		if err != nil {
			t.Fatalf("Failed to build message: %v", err)
		}
		if err := database.EnqueueMessage(ctx, "dave", msg); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}
	}

	enqueue("one")
	enqueue("two")
	fetched, err := database.FetchQueuedMessages(ctx, "dave")
	if err != nil || len(fetched) != 2 {
		t.Fatalf("Expected 2 queued messages, got %d, %v", len(fetched), err)
	}

	// Пришло после выборки, но до очистки
	enqueue("late")

	if err := database.ClearQueuedMessages(ctx, "dave", len(fetched)); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}
	queued, err := database.FetchQueuedMessages(ctx, "dave")
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if len(queued) != 1 || queued[0].Text() != "late" {
		t.Errorf("Expected only the late message to remain, got %d messages", len(queued))
	}

	if err := database.ClearQueuedMessages(ctx, "dave", 0); err != nil {
		t.Fatalf("Failed to clear nothing: %v", err)
	}
	if queued, _ := database.FetchQueuedMessages(ctx, "dave"); len(queued) != 1 {
		t.Errorf("Expected 1 message after clearing zero, got %d", len(queued))
	}
}

func TestRecordPresence(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	mustCreateUser(t, database, "alice")

	online := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	offline := online.Add(time.Hour)
	if err := database.RecordPresence(ctx, "alice", true, online); err != nil {
		t.Fatalf("Failed to record online: %v", err)
	}
	if err := database.RecordPresence(ctx, "alice", false, offline); err != nil {
		t.Fatalf("Failed to record offline: %v", err)
	}

	lastOnline, lastOffline, err := database.GetUserStatus(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to get status: %v", err)
	}
	if !lastOnline.Equal(online) || !lastOffline.Equal(offline) {
		t.Errorf("Expected %v/%v, got %v/%v", online, offline, lastOnline, lastOffline)
	}
}

func TestRebind(t *testing.T) {
	sqlite := &DB{driver: DriverSQLite}
	pg := &DB{driver: DriverPostgres}
	query := "SELECT a FROM t WHERE b = ? AND c = ?"

	if got := sqlite.rebind(query); got != query {
		t.Errorf("SQLite query should be unchanged, got %q", got)
	}
	if got := pg.rebind(query); got != "SELECT a FROM t WHERE b = $1 AND c = $2" {
		t.Errorf("Unexpected PostgreSQL query %q", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Options{Driver: "oracle", DSN: "x"}); err == nil {
		t.Errorf("Expected error for unknown driver")
	}
}

// TestPostgres runs the store against a real server when one is configured.
func TestPostgres(t *testing.T) {
	dsn := os.Getenv("CHATRELAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHATRELAY_TEST_POSTGRES_DSN not set")
	}
	database, err := Open(Options{Driver: DriverPostgres, DSN: dsn, BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("Failed to open postgres: %v", err)
	}
	defer database.Close()
	ctx := context.Background()

	username := "pg-" + time.Now().Format("150405.000000")
	if err := database.CreateUser(ctx, models.Registration{Username: username, Password: "pw"}); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	defer database.exec(ctx, "DELETE FROM users WHERE username = ?", username)

	if err := database.CreateUser(ctx, models.Registration{Username: username, Password: "pw"}); !errors.Is(err, ErrUserExists) {
		t.Errorf("Expected ErrUserExists, got %v", err)
	}
	if ok, err := database.VerifyCredential(ctx, username, "pw"); err != nil || !ok {
		t.Errorf("Expected valid credential, got %v, %v", ok, err)
	}

	msg, _ := models.NewMessage(models.MessageParams{Text: "hi", SentBy: "x", Recipients: []string{username}})
	if err := database.EnqueueMessage(ctx, username, msg); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	defer database.ClearQueuedMessages(ctx, username, 1)
	queued, err := database.FetchQueuedMessages(ctx, username)
	if err != nil || len(queued) != 1 {
		t.Errorf("Expected 1 queued message, got %d, %v", len(queued), err)
	}
}
