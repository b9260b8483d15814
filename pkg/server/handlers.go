package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/clucky/luckychat/pkg/protocol"
)

const accountLength = 8

// handleLogin authenticates against the user store, binds the account to
// the session and installs it in the registry. A login for an account
// that is already online displaces the older session (single sign-on).
func (s *Server) handleLogin(msg *protocol.Message, sess *Session) {
	result := protocol.New(protocol.TypeLoginResult)

	// The account binds once per connection; a second login on the same
	// session would leave the registry holding an entry that teardown
	// can never remove.
	if sess.Account() != "" {
		result.Content = "failed"
		s.send(sess, result)
		return
	}

	if len(msg.Account) != accountLength || strings.TrimSpace(msg.Password) == "" {
		result.Content = "failed"
		s.send(sess, result)
		return
	}

	user, err := s.store.Authenticate(msg.Account, msg.Password)
	if err != nil {
		debugLog.Printf("Session %d: login %s rejected: %v", sess.ID, msg.Account, err)
		result.Content = "failed"
		s.send(sess, result)
		return
	}

	sess.bindAccount(user.Account)
	if err := s.store.SetOnlineStatus(user.Account, true); err != nil {
		errorLog.Printf("Session %d: failed to mark %s online: %v", sess.ID, user.Account, err)
	}
	s.registry.Register(user.Account, sess)

	result.Content = "success"
	result.Nickname = user.Nickname
	s.send(sess, result)

	s.deliverOfflineMessages(user.Account, sess)
	s.sendFriendList(user.Account, sess)
}

// handleRegister creates a new account; the reply carries the generated
// account id as its content.
func (s *Server) handleRegister(msg *protocol.Message, sess *Session) {
	result := protocol.New(protocol.TypeRegisterResult)

	if strings.TrimSpace(msg.Nickname) == "" || strings.TrimSpace(msg.Password) == "" {
		result.Content = "failed"
		s.send(sess, result)
		return
	}

	account, err := s.store.RegisterUser(msg.Nickname, msg.Password)
	if err != nil {
		errorLog.Printf("Session %d: register failed: %v", sess.ID, err)
		result.Content = "failed"
		s.send(sess, result)
		return
	}

	result.Content = account
	s.send(sess, result)
}

// handleFindPwd recovers the password for a matching account + nickname
// pair; the password travels in the reply's password field.
func (s *Server) handleFindPwd(msg *protocol.Message, sess *Session) {
	result := protocol.New(protocol.TypeFindPwdResult)

	if len(msg.Account) != accountLength || strings.TrimSpace(msg.Nickname) == "" {
		result.Content = "failed"
		s.send(sess, result)
		return
	}

	password, err := s.store.RecoverPassword(msg.Account, msg.Nickname)
	if err != nil {
		result.Content = "failed"
		s.send(sess, result)
		return
	}

	result.Content = "success"
	result.Password = password
	s.send(sess, result)
}

// handleText forwards a direct message to one recipient. Delivery is
// acknowledged to the sender; an offline recipient gets the message
// queued in the store and the sender an explicit error.
func (s *Server) handleText(msg *protocol.Message, sess *Session) {
	account, ok := s.requireLogin(sess)
	if !ok {
		return
	}
	if msg.To == "" {
		s.sendError(sess, "recipient must not be empty")
		return
	}

	forwarded := *msg
	forwarded.From = account

	if s.registry.Forward(&forwarded) {
		s.metrics.RecordMessageSent(forwarded.Type)
		ack := protocol.New(protocol.TypeAck)
		ack.Content = "message delivered to " + msg.To
		s.send(sess, ack)
		return
	}

	s.queueOffline(&forwarded)
	s.sendError(sess, "user "+msg.To+" not online")
}

// handleGroup broadcasts to every registered session except the sender.
// The sender is always acknowledged, regardless of how many recipients
// the fan-out actually reached.
func (s *Server) handleGroup(msg *protocol.Message, sess *Session) {
	account, ok := s.requireLogin(sess)
	if !ok {
		return
	}

	forwarded := *msg
	forwarded.From = account

	delivered := s.registry.BroadcastToAll(&forwarded, account)
	debugLog.Printf("Session %d: group message from %s reached %d sessions", sess.ID, account, delivered)

	ack := protocol.New(protocol.TypeAck)
	ack.Content = "group message sent"
	s.send(sess, ack)
}

// handleHeartbeat answers with the fixed pong payload. Liveness was
// already stamped when the line decoded, the same as any other type.
func (s *Server) handleHeartbeat(msg *protocol.Message, sess *Session) {
	pong := protocol.New(protocol.TypeHeartbeat)
	pong.Content = "pong"
	s.send(sess, pong)
}

// handlePing answers a connectivity probe with the server clock.
func (s *Server) handlePing(msg *protocol.Message, sess *Session) {
	pong := protocol.New(protocol.TypePong)
	pong.Content = "server ok"
	pong.SetExtra("time", strconv.FormatInt(time.Now().UnixMilli(), 10))
	s.send(sess, pong)
}

// handleGetOnlineUsers replies with the registry's current account
// snapshot, comma-joined, with the count in extra.
func (s *Server) handleGetOnlineUsers(msg *protocol.Message, sess *Session) {
	accounts := s.registry.ListAccounts()

	resp := protocol.New(protocol.TypeOnlineList)
	resp.Content = strings.Join(accounts, ",")
	resp.SetExtra("count", strconv.Itoa(len(accounts)))
	s.send(sess, resp)
}

// handleLogout acknowledges and triggers the one-shot teardown; the
// connection handler's deferred cleanup does the deregistration.
func (s *Server) handleLogout(msg *protocol.Message, sess *Session) {
	ack := protocol.New(protocol.TypeLogoutResult)
	ack.Content = "success"
	s.send(sess, ack)

	debugLog.Printf("Session %d: logout from %s", sess.ID, sess.Account())
	sess.Close()
}

// handleRelay forwards file, shake and screenshot messages verbatim to
// their single recipient, with from stamped. No offline queueing.
func (s *Server) handleRelay(msg *protocol.Message, sess *Session) {
	account, ok := s.requireLogin(sess)
	if !ok {
		return
	}
	if msg.To == "" {
		s.sendError(sess, "recipient must not be empty")
		return
	}

	forwarded := *msg
	forwarded.From = account

	if !s.registry.Forward(&forwarded) {
		s.sendError(sess, "user "+msg.To+" not online")
		return
	}
	s.metrics.RecordMessageSent(forwarded.Type)
}

// requireLogin returns the session's account, or sends an error reply
// and reports false when the session has not authenticated.
func (s *Server) requireLogin(sess *Session) (string, bool) {
	account := sess.Account()
	if account == "" {
		s.sendError(sess, "login required")
		return "", false
	}
	return account, true
}

// deliverOfflineMessages drains the store's queue for the account in
// arrival order, then clears it.
func (s *Server) deliverOfflineMessages(account string, sess *Session) {
	payloads, err := s.store.OfflineMessages(account)
	if err != nil {
		errorLog.Printf("Session %d: failed to load offline messages for %s: %v", sess.ID, account, err)
		return
	}
	if len(payloads) == 0 {
		return
	}

	for _, payload := range payloads {
		if err := sess.SendRaw(payload); err != nil {
			debugLog.Printf("Session %d: offline delivery failed: %v", sess.ID, err)
			return // keep the queue; retry on next login
		}
	}
	if err := s.store.ClearOfflineMessages(account); err != nil {
		errorLog.Printf("Session %d: failed to clear offline messages for %s: %v", sess.ID, account, err)
	}
	debugLog.Printf("Session %d: delivered %d offline messages to %s", sess.ID, len(payloads), account)
}

// sendFriendList pushes the account's friend list after login.
func (s *Server) sendFriendList(account string, sess *Session) {
	friends, err := s.store.FriendList(account)
	if err != nil {
		errorLog.Printf("Session %d: failed to load friends for %s: %v", sess.ID, account, err)
		return
	}
	if len(friends) == 0 {
		return
	}

	msg := protocol.New(protocol.TypeFriendList)
	msg.Content = strings.Join(friends, ",")
	s.send(sess, msg)
}

// queueOffline stores an undeliverable direct message for the
// recipient's next login. Best effort; failures are only logged.
func (s *Server) queueOffline(msg *protocol.Message) {
	line, err := msg.Encode()
	if err != nil {
		errorLog.Printf("Failed to encode offline message for %s: %v", msg.To, err)
		return
	}
	if err := s.store.SaveOfflineMessage(msg.To, line); err != nil {
		errorLog.Printf("Failed to queue offline message for %s: %v", msg.To, err)
	}
}
