// Package database implements the SQLite-backed user store: accounts,
// credentials, online status, friend lists and the best-effort offline
// message queue.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrAccountNotFound indicates no user exists for the account.
	ErrAccountNotFound = errors.New("account not found")
	// ErrBadCredentials indicates the password did not match.
	ErrBadCredentials = errors.New("wrong password")
	// ErrAccountExhausted indicates account generation ran out of retries.
	ErrAccountExhausted = errors.New("could not generate a free account")
)

// Accounts are 8-digit decimal strings handed out sequentially.
const (
	accountSeqStart = 10000000
	accountSeqMax   = 99999999
	registerRetries = 10
)

// DB wraps the SQLite database connection.
type DB struct {
	conn       *sql.DB
	accountSeq int64 // atomic; last account number handed out
}

// User is one row of the users table.
type User struct {
	Account  string
	Password string
	Nickname string
	Online   bool
}

// Open opens the SQLite database at the given path and initializes the
// schema if needed.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// WAL allows readers to proceed while a write is in flight.
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait and retry instead of failing immediately with SQLITE_BUSY.
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := conn.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := db.seedAccountSeq(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to seed account sequence: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			account  TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			nickname TEXT NOT NULL,
			status   INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS friends (
			user_account   TEXT NOT NULL REFERENCES users(account),
			friend_account TEXT NOT NULL,
			PRIMARY KEY (user_account, friend_account)
		);
		CREATE TABLE IF NOT EXISTS offline_messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			to_account TEXT NOT NULL,
			payload    TEXT NOT NULL,
			queued_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_offline_to ON offline_messages(to_account);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// seedAccountSeq resumes the account sequence from the highest account
// already in the users table.
func (db *DB) seedAccountSeq() error {
	var max sql.NullInt64
	err := db.conn.QueryRow(
		"SELECT MAX(CAST(account AS INTEGER)) FROM users WHERE account GLOB '[0-9]*'",
	).Scan(&max)
	if err != nil {
		return err
	}

	seq := int64(accountSeqStart)
	if max.Valid && max.Int64 > seq {
		seq = max.Int64
	}
	atomic.StoreInt64(&db.accountSeq, seq)
	return nil
}

// nextAccount hands out the next 8-digit account, wrapping around when
// the range is exhausted.
func (db *DB) nextAccount() string {
	for {
		next := atomic.AddInt64(&db.accountSeq, 1)
		if next <= accountSeqMax {
			return strconv.FormatInt(next, 10)
		}
		atomic.CompareAndSwapInt64(&db.accountSeq, next, accountSeqStart)
	}
}

// Authenticate checks credentials for an account. It returns the user on
// success, ErrAccountNotFound if the account does not exist, and
// ErrBadCredentials if the password does not match.
func (db *DB) Authenticate(account, password string) (*User, error) {
	user, err := db.getUser(account)
	if err != nil {
		return nil, err
	}
	if user.Password != password {
		return nil, ErrBadCredentials
	}
	return user, nil
}

// RegisterUser creates a new user with a generated account and returns
// the account. Generation retries on collision with existing rows.
func (db *DB) RegisterUser(nickname, password string) (string, error) {
	for i := 0; i < registerRetries; i++ {
		account := db.nextAccount()
		_, err := db.conn.Exec(
			"INSERT INTO users (account, password, nickname, status) VALUES (?, ?, ?, 0)",
			account, password, nickname,
		)
		if err == nil {
			return account, nil
		}
		if !isUniqueViolation(err) {
			return "", fmt.Errorf("failed to insert user: %w", err)
		}
	}
	return "", ErrAccountExhausted
}

// RecoverPassword returns the stored password when both account and
// nickname match, ErrAccountNotFound otherwise.
func (db *DB) RecoverPassword(account, nickname string) (string, error) {
	var password string
	err := db.conn.QueryRow(
		"SELECT password FROM users WHERE account = ? AND nickname = ?",
		account, nickname,
	).Scan(&password)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrAccountNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query password: %w", err)
	}
	return password, nil
}

// SetOnlineStatus records whether the account is currently online.
func (db *DB) SetOnlineStatus(account string, online bool) error {
	status := 0
	if online {
		status = 1
	}
	_, err := db.conn.Exec("UPDATE users SET status = ? WHERE account = ?", status, account)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// SaveOfflineMessage queues an encoded wire message for delivery on the
// recipient's next login.
func (db *DB) SaveOfflineMessage(account string, payload []byte) error {
	_, err := db.conn.Exec(
		"INSERT INTO offline_messages (to_account, payload, queued_at) VALUES (?, ?, ?)",
		account, string(payload), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to queue offline message: %w", err)
	}
	return nil
}

// OfflineMessages returns queued messages for the account in arrival order.
func (db *DB) OfflineMessages(account string) ([][]byte, error) {
	rows, err := db.conn.Query(
		"SELECT payload FROM offline_messages WHERE to_account = ? ORDER BY id",
		account,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query offline messages: %w", err)
	}
	defer rows.Close()

	var payloads [][]byte
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		payloads = append(payloads, []byte(payload))
	}
	return payloads, rows.Err()
}

// ClearOfflineMessages drops all queued messages for the account.
func (db *DB) ClearOfflineMessages(account string) error {
	_, err := db.conn.Exec("DELETE FROM offline_messages WHERE to_account = ?", account)
	return err
}

// FriendList returns the accounts the user has added as friends.
func (db *DB) FriendList(account string) ([]string, error) {
	rows, err := db.conn.Query(
		"SELECT friend_account FROM friends WHERE user_account = ? ORDER BY friend_account",
		account,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query friends: %w", err)
	}
	defer rows.Close()

	var friends []string
	for rows.Next() {
		var friend string
		if err := rows.Scan(&friend); err != nil {
			return nil, err
		}
		friends = append(friends, friend)
	}
	return friends, rows.Err()
}

// AddFriend records a one-directional friend edge.
func (db *DB) AddFriend(account, friend string) error {
	_, err := db.conn.Exec(
		"INSERT OR IGNORE INTO friends (user_account, friend_account) VALUES (?, ?)",
		account, friend,
	)
	return err
}

func (db *DB) getUser(account string) (*User, error) {
	var user User
	var status int
	err := db.conn.QueryRow(
		"SELECT account, password, nickname, status FROM users WHERE account = ?",
		account,
	).Scan(&user.Account, &user.Password, &user.Nickname, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	user.Online = status != 0
	return &user, nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint violations in the error text;
	// there is no exported sentinel for SQLITE_CONSTRAINT_PRIMARYKEY.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
