package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
	roomCapacity         = 2
)

// Store wraps the SQLite handle and exposes the room registry, message log,
// and credential lookups used by the server.
type Store struct {
	db *sql.DB
}

// User represents a row in the users table.
type User struct {
	ID           string
	Username     string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Session captures persisted logins.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Message is one entry of a room's append-only log. Seq is the 1-based append
// position within the room and Ts the epoch-millis acceptance time; both are
// assigned by AppendMessage and never change afterwards.
type Message struct {
	RoomCode string
	Seq      int64
	FromID   string
	FromName string
	Content  string
	Ts       int64
}

var (
	// ErrUserExists is returned when attempting to insert a duplicate username.
	ErrUserExists = errors.New("user already exists")
	// ErrRoomExists is returned when a generated room code collides with a live room.
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomNotFound is returned for operations against a room that does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomFull is returned when a third participant tries to join.
	ErrRoomFull = errors.New("room is full")
)

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "tchat.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single connection serializes writers, which is what gives appends
	// their total order per room.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection. Safe to call more than once.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash BLOB NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS rooms (
			code TEXT PRIMARY KEY,
			created_by TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS room_members (
			room_code TEXT NOT NULL,
			user_id TEXT NOT NULL,
			user_name TEXT NOT NULL,
			joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (room_code, user_id),
			FOREIGN KEY(room_code) REFERENCES rooms(code) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			room_code TEXT NOT NULL,
			seq INTEGER NOT NULL,
			from_id TEXT NOT NULL,
			from_name TEXT NOT NULL,
			content TEXT NOT NULL,
			ts INTEGER NOT NULL,
			PRIMARY KEY (room_code, seq),
			FOREIGN KEY(room_code) REFERENCES rooms(code) ON DELETE CASCADE
		);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateUser inserts a new user. ErrUserExists is returned on conflicts.
func (s *Store) CreateUser(ctx context.Context, id, username string, passwordHash []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users(id, username, password_hash) VALUES(?, ?, ?)`, id, username, passwordHash)
	if err != nil {
		if isConstraintError(err) {
			return ErrUserExists
		}
		return err
	}
	return nil
}

// GetUserByUsername fetches a user by username. Returns (nil, nil) when absent.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username)
	var user User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByID fetches a user by primary key.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE id = ?`, id)
	var user User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// CreateSession stores a new session token for a user.
func (s *Store) CreateSession(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions(token, user_id, expires_at) VALUES(?, ?, ?)`, token, userID, expiresAt.UTC())
	return err
}

// GetSession returns a session if it exists.
func (s *Store) GetSession(ctx context.Context, token string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT token, user_id, expires_at, created_at FROM sessions WHERE token = ?`, token)
	var sess Session
	if err := row.Scan(&sess.Token, &sess.UserID, &sess.ExpiresAt, &sess.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

// DeleteSession removes a session token (used for logout).
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// CreateRoom persists a new room with the creator as its first member.
// ErrRoomExists signals a code collision; the caller regenerates and retries.
func (s *Store) CreateRoom(ctx context.Context, code, creatorID, creatorName string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `INSERT INTO rooms(code, created_by) VALUES(?, ?)`, code, creatorID); err != nil {
		if isConstraintError(err) {
			err = ErrRoomExists
		}
		return err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO room_members(room_code, user_id, user_name) VALUES(?, ?, ?)`, code, creatorID, creatorName); err != nil {
		return err
	}
	return tx.Commit()
}

// RoomExists is a cheap probe used to validate a join attempt.
func (s *Store) RoomExists(ctx context.Context, code string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM rooms WHERE code = ?`, code)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// JoinRoom adds a participant to a room. Membership is idempotent: re-joining
// reports changed=false without error. A third distinct participant gets
// ErrRoomFull.
func (s *Store) JoinRoom(ctx context.Context, code, userID, userName string) (changed bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	var count int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM rooms WHERE code = ?`, code).Scan(&count); err != nil {
		return false, err
	}
	if count == 0 {
		err = ErrRoomNotFound
		return false, err
	}
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM room_members WHERE room_code = ? AND user_id = ?`, code, userID).Scan(&count); err != nil {
		return false, err
	}
	if count > 0 {
		return false, tx.Commit()
	}
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM room_members WHERE room_code = ?`, code).Scan(&count); err != nil {
		return false, err
	}
	if count >= roomCapacity {
		err = ErrRoomFull
		return false, err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO room_members(room_code, user_id, user_name) VALUES(?, ?, ?)`, code, userID, userName); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// ListMembers returns a room's participants in join order.
func (s *Store) ListMembers(ctx context.Context, code string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, user_name
		FROM room_members
		WHERE room_code = ?
		ORDER BY joined_at ASC
	`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []User
	for rows.Next() {
		var m User
		if err := rows.Scan(&m.ID, &m.Username); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AppendMessage atomically appends one message to a room's log, assigning the
// next sequence number and the acceptance timestamp inside the transaction.
func (s *Store) AppendMessage(ctx context.Context, code, fromID, fromName, content string) (msg *Message, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	var count int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM rooms WHERE code = ?`, code).Scan(&count); err != nil {
		return nil, err
	}
	if count == 0 {
		err = ErrRoomNotFound
		return nil, err
	}
	var seq int64
	if err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE room_code = ?`, code).Scan(&seq); err != nil {
		return nil, err
	}
	ts := time.Now().UnixMilli()
	if _, err = tx.ExecContext(ctx, `INSERT INTO messages(room_code, seq, from_id, from_name, content, ts) VALUES(?, ?, ?, ?, ?, ?)`,
		code, seq, fromID, fromName, content, ts); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &Message{RoomCode: code, Seq: seq, FromID: fromID, FromName: fromName, Content: content, Ts: ts}, nil
}

// Snapshot returns the room's total message count and the last min(max, total)
// messages in append order. Count and tail are read in one transaction so they
// describe the same instant; the count is the join point for reconciling the
// snapshot with a live feed.
func (s *Store) Snapshot(ctx context.Context, code string, max int) (total int64, tail []Message, err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	var count int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM rooms WHERE code = ?`, code).Scan(&count); err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, ErrRoomNotFound
	}
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE room_code = ?`, code).Scan(&total); err != nil {
		return 0, nil, err
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT room_code, seq, from_id, from_name, content, ts
		FROM messages
		WHERE room_code = ?
		ORDER BY seq DESC
		LIMIT ?
	`, code, max)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m Message
		if err = rows.Scan(&m.RoomCode, &m.Seq, &m.FromID, &m.FromName, &m.Content, &m.Ts); err != nil {
			return 0, nil, err
		}
		tail = append(tail, m)
	}
	if err = rows.Err(); err != nil {
		return 0, nil, err
	}
	// the query walks newest-first; flip back into append order.
	for i, j := 0, len(tail)-1; i < j; i, j = i+1, j-1 {
		tail[i], tail[j] = tail[j], tail[i]
	}
	return total, tail, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		// the driver reports extended result codes (2067 for a unique index,
		// 1555 for a primary key); the primary code lives in the low byte.
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
