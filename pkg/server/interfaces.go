package server

import "github.com/clucky/luckychat/pkg/database"

// UserStore defines the account operations the server needs. The default
// implementation is pkg/database; tests substitute an in-memory store.
type UserStore interface {
	// Authenticate checks credentials. It returns database.ErrAccountNotFound
	// or database.ErrBadCredentials on failure.
	Authenticate(account, password string) (*database.User, error)

	// RegisterUser creates a user and returns the generated account.
	RegisterUser(nickname, password string) (string, error)

	// RecoverPassword returns the stored password when account and nickname
	// match.
	RecoverPassword(account, nickname string) (string, error)

	// SetOnlineStatus records whether the account is connected.
	SetOnlineStatus(account string, online bool) error

	// Offline message queue, drained on login.
	SaveOfflineMessage(account string, payload []byte) error
	OfflineMessages(account string) ([][]byte, error)
	ClearOfflineMessages(account string) error

	// FriendList returns the accounts the user has added as friends.
	FriendList(account string) ([]string, error)

	Close() error
}
