package server

import (
	"fmt"
	"sync"

	"github.com/clucky/luckychat/pkg/database"
)

// mockStore is a simple in-memory user store for testing
type mockStore struct {
	mu        sync.RWMutex
	users     map[string]*database.User
	offline   map[string][][]byte
	friends   map[string][]string
	nextAcct  int64
	authCalls int
}

// newMockStore creates a new mock store
func newMockStore() *mockStore {
	return &mockStore{
		users:    make(map[string]*database.User),
		offline:  make(map[string][][]byte),
		friends:  make(map[string][]string),
		nextAcct: 10000000,
	}
}

// AddUser seeds an account directly
func (m *mockStore) AddUser(account, password, nickname string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[account] = &database.User{
		Account:  account,
		Password: password,
		Nickname: nickname,
	}
}

// AddFriend seeds a friend edge directly
func (m *mockStore) AddFriend(account, friend string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.friends[account] = append(m.friends[account], friend)
}

// QueueOffline seeds a pending offline payload directly
func (m *mockStore) QueueOffline(account string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline[account] = append(m.offline[account], payload)
}

// AuthCalls returns how many times Authenticate was invoked
func (m *mockStore) AuthCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.authCalls
}

// IsOnline reports the stored online flag
func (m *mockStore) IsOnline(account string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[account]
	return ok && u.Online
}

// PendingOffline returns the queued payloads for an account
func (m *mockStore) PendingOffline(account string) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]byte(nil), m.offline[account]...)
}

func (m *mockStore) Authenticate(account, password string) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authCalls++

	user, ok := m.users[account]
	if !ok {
		return nil, database.ErrAccountNotFound
	}
	if user.Password != password {
		return nil, database.ErrBadCredentials
	}
	copied := *user
	return &copied, nil
}

func (m *mockStore) RegisterUser(nickname, password string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account := fmt.Sprintf("%08d", m.nextAcct)
	m.nextAcct++
	m.users[account] = &database.User{
		Account:  account,
		Password: password,
		Nickname: nickname,
	}
	return account, nil
}

func (m *mockStore) RecoverPassword(account, nickname string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[account]
	if !ok || user.Nickname != nickname {
		return "", database.ErrAccountNotFound
	}
	return user.Password, nil
}

func (m *mockStore) SetOnlineStatus(account string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user, ok := m.users[account]; ok {
		user.Online = online
	}
	return nil
}

func (m *mockStore) SaveOfflineMessage(account string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline[account] = append(m.offline[account], append([]byte(nil), payload...))
	return nil
}

func (m *mockStore) OfflineMessages(account string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]byte(nil), m.offline[account]...), nil
}

func (m *mockStore) ClearOfflineMessages(account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.offline, account)
	return nil
}

func (m *mockStore) FriendList(account string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.friends[account]...), nil
}

func (m *mockStore) Close() error {
	return nil
}
