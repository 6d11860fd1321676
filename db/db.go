package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chatrelay/models"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

var (
	ErrUserExists    = errors.New("user already exists")
	ErrUserNotFound  = errors.New("user not found")
	ErrContactExists = errors.New("contact already exists")
)

type Options struct {
	Driver     string
	DSN        string
	BcryptCost int
}

type DB struct {
	conn       *sql.DB
	driver     string
	bcryptCost int
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	return Open(Options{Driver: DriverSQLite, DSN: path})
}

func Open(opts Options) (*DB, error) {
	if opts.Driver == "" {
		opts.Driver = DriverSQLite
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}

	dsn := opts.DSN
	switch opts.Driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	conn, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, driver: opts.Driver, bcryptCost: opts.BcryptCost}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	blobType := "BLOB"
	if db.driver == DriverPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
		blobType = "BYTEA"
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id ` + idColumn + `,
			username TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			avatar ` + blobType + `,
			last_online TEXT NOT NULL DEFAULT '',
			last_offline TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id ` + idColumn + `,
			owner TEXT NOT NULL,
			contact TEXT NOT NULL,
			UNIQUE(owner, contact)
		)`,
		`CREATE TABLE IF NOT EXISTS queued_messages (
			id ` + idColumn + `,
			recipient TEXT NOT NULL,
			sender TEXT NOT NULL,
			recipients TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			image ` + blobType + `,
			image_path TEXT NOT NULL DEFAULT '',
			send_time TEXT NOT NULL,
			queued_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_owner ON contacts(owner)`,
		`CREATE INDEX IF NOT EXISTS idx_queued_messages_recipient ON queued_messages(recipient, id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn.ExecContext(ctx, db.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, db.rebind(query), args...)
}

func (db *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, db.rebind(query), args...)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// User methods

// CreateUser stores a new account with a bcrypt hash of the password.
func (db *DB) CreateUser(ctx context.Context, reg models.Registration) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(reg.Password), db.bcryptCost)
	if err != nil {
		return err
	}

	_, err = db.exec(ctx,
		"INSERT INTO users (username, password, first_name, last_name, avatar) VALUES (?, ?, ?, ?, ?)",
		reg.Username, string(hashed), reg.FirstName, reg.LastName, reg.Avatar,
	)
	if isUniqueViolation(err) {
		return ErrUserExists
	}
	return err
}

// VerifyCredential reports whether password matches the stored hash. An
// unknown username is not an error.
func (db *DB) VerifyCredential(ctx context.Context, username, password string) (bool, error) {
	var hashedPassword string
	err := db.queryRow(ctx, "SELECT password FROM users WHERE username = ?", username).Scan(&hashedPassword)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	return err == nil, nil
}

func (db *DB) UserExists(ctx context.Context, username string) (bool, error) {
	var count int
	err := db.queryRow(ctx, "SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) FetchProfile(ctx context.Context, username string) (models.Profile, error) {
	var p models.Profile
	err := db.queryRow(ctx,
		"SELECT username, first_name, last_name, avatar FROM users WHERE username = ?",
		username,
	).Scan(&p.Username, &p.FirstName, &p.LastName, &p.Avatar)
	if err == sql.ErrNoRows {
		return models.Profile{}, ErrUserNotFound
	}
	return p, err
}

// RecordPresence stamps last_online or last_offline for username.
func (db *DB) RecordPresence(ctx context.Context, username string, online bool, t time.Time) error {
	column := "last_offline"
	if online {
		column = "last_online"
	}
	_, err := db.exec(ctx,
		"UPDATE users SET "+column+" = ? WHERE username = ?",
		t.UTC().Format(time.RFC3339), username,
	)
	return err
}

// GetUserStatus returns the presence timestamps written by RecordPresence.
func (db *DB) GetUserStatus(ctx context.Context, username string) (lastOnline, lastOffline time.Time, err error) {
	var onlineStr, offlineStr string
	err = db.queryRow(ctx,
		"SELECT last_online, last_offline FROM users WHERE username = ?",
		username,
	).Scan(&onlineStr, &offlineStr)
	if err == sql.ErrNoRows {
		err = ErrUserNotFound
		return
	}
	if err != nil {
		return
	}

	if onlineStr != "" {
		lastOnline, _ = time.Parse(time.RFC3339, onlineStr)
	}
	if offlineStr != "" {
		lastOffline, _ = time.Parse(time.RFC3339, offlineStr)
	}
	return
}

// Contact methods

// CreateContact adds the directed relation owner -> contact. The contact must
// be a registered user.
func (db *DB) CreateContact(ctx context.Context, owner, contact string) error {
	exists, err := db.UserExists(ctx, contact)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUserNotFound
	}

	_, err = db.exec(ctx, "INSERT INTO contacts (owner, contact) VALUES (?, ?)", owner, contact)
	if isUniqueViolation(err) {
		return ErrContactExists
	}
	return err
}

func (db *DB) FetchContacts(ctx context.Context, owner string) ([]string, error) {
	rows, err := db.query(ctx, "SELECT contact FROM contacts WHERE owner = ? ORDER BY id", owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}

	return contacts, rows.Err()
}
