package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clucky/luckychat/pkg/protocol"
)

// Session represents one live client connection. The account is bound
// exactly once, on successful login; until then the session is
// authenticating and cannot send or receive user traffic.
type Session struct {
	ID   uint64
	conn *SafeConn

	mu      sync.RWMutex
	account string

	lastActivity int64 // UnixMilli, atomic; stamped on every decoded line

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(id uint64, conn net.Conn) *Session {
	return &Session{
		ID:           id,
		conn:         NewSafeConn(conn),
		lastActivity: time.Now().UnixMilli(),
		closed:       make(chan struct{}),
	}
}

// Account returns the bound account id, or "" before login.
func (s *Session) Account() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

// bindAccount binds the account id. Only the first bind takes effect.
func (s *Session) bindAccount(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == "" {
		s.account = account
	}
}

// Touch stamps the liveness timestamp. Called for every successfully
// decoded inbound line, so any traffic counts as a heartbeat.
func (s *Session) Touch() {
	atomic.StoreInt64(&s.lastActivity, time.Now().UnixMilli())
}

// LastActivity returns the UnixMilli timestamp of the last decoded line.
func (s *Session) LastActivity() int64 {
	return atomic.LoadInt64(&s.lastActivity)
}

// Send encodes the message and writes it as one line.
func (s *Session) Send(msg *protocol.Message) error {
	line, err := msg.Encode()
	if err != nil {
		return err
	}
	return s.conn.WriteLine(line)
}

// SendRaw writes an already-encoded line.
func (s *Session) SendRaw(line []byte) error {
	return s.conn.WriteLine(line)
}

// Close closes the underlying connection exactly once, unblocking the
// read loop and stopping the watchdog. Safe to call from any goroutine
// and from multiple teardown triggers concurrently.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

// Closed returns a channel that is closed when the session closes.
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Registry is the directory of logged-in accounts. It enforces the
// single-login invariant: at most one live session per account, with a
// newer login displacing the older session atomically.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *Metrics
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// SetMetrics attaches metrics to the registry.
func (r *Registry) SetMetrics(metrics *Metrics) {
	r.metrics = metrics
}

// Register installs the session for the account. If the account already
// has a session, the map entry is swapped under the lock (so two sessions
// never co-exist for one key) and the displaced session is then notified
// and torn down. Other registered sessions receive an online notice.
func (r *Registry) Register(account string, sess *Session) {
	r.mu.Lock()
	prev := r.sessions[account]
	r.sessions[account] = sess
	count := len(r.sessions)
	r.mu.Unlock()

	if prev != nil && prev != sess {
		debugLog.Printf("Account %s: displacing session %d with session %d", account, prev.ID, sess.ID)
		notice := protocol.New(protocol.TypeKick)
		notice.Content = "account logged in from another location"
		if err := prev.Send(notice); err != nil {
			debugLog.Printf("Session %d: displacement notice failed: %v", prev.ID, err)
		}
		prev.Close()
	}

	if r.metrics != nil {
		r.metrics.RecordRegisteredAccounts(count)
	}

	r.notifyStatus(account, protocol.TypeOnline)
}

// Unregister removes the mapping if it still points at sess. The identity
// check makes teardown idempotent and keeps a displaced session's late
// teardown from removing its successor. Returns whether a mapping was
// removed.
func (r *Registry) Unregister(account string, sess *Session) bool {
	r.mu.Lock()
	cur, ok := r.sessions[account]
	if !ok || cur != sess {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, account)
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordRegisteredAccounts(count)
	}

	r.notifyStatus(account, protocol.TypeOffline)
	return true
}

// Lookup returns the session registered for the account.
func (r *Registry) Lookup(account string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[account]
	return sess, ok
}

// Forward delivers the message to the session registered for msg.To.
// Returns false without side effects when the recipient is absent, the
// session is closing, or the single write fails; the caller is
// responsible for telling the sender.
func (r *Registry) Forward(msg *protocol.Message) bool {
	target, ok := r.Lookup(msg.To)
	if !ok || target.IsClosed() {
		return false
	}

	if err := target.Send(msg); err != nil {
		debugLog.Printf("Session %d: forward to %s failed: %v", target.ID, msg.To, err)
		if r.metrics != nil {
			r.metrics.RecordDeliveryFailure()
		}
		return false
	}
	return true
}

// BroadcastToAll writes the message to every registered session except
// excludeAccount. Iteration runs over a point-in-time snapshot; sessions
// that depart or fail mid-fanout are skipped without aborting delivery to
// the rest. Returns the number of sessions written.
func (r *Registry) BroadcastToAll(msg *protocol.Message, excludeAccount string) int {
	line, err := msg.Encode()
	if err != nil {
		errorLog.Printf("Broadcast encode failed (type=%s): %v", msg.Type, err)
		return 0
	}

	type entry struct {
		account string
		sess    *Session
	}

	r.mu.RLock()
	snapshot := make([]entry, 0, len(r.sessions))
	for account, sess := range r.sessions {
		snapshot = append(snapshot, entry{account, sess})
	}
	r.mu.RUnlock()

	delivered := 0
	for _, e := range snapshot {
		if e.account == excludeAccount || e.sess.IsClosed() {
			continue
		}
		if err := e.sess.SendRaw(line); err != nil {
			debugLog.Printf("Session %d: broadcast to %s failed (type=%s): %v", e.sess.ID, e.account, msg.Type, err)
			if r.metrics != nil {
				r.metrics.RecordDeliveryFailure()
			}
			continue
		}
		delivered++
	}

	if r.metrics != nil {
		r.metrics.RecordBroadcastFanout(delivered)
	}
	return delivered
}

// BroadcastSystem fans out a system notice to every registered session.
func (r *Registry) BroadcastSystem(content string) {
	msg := protocol.New(protocol.TypeSystem)
	msg.Content = content
	msg.From = "system"
	r.BroadcastToAll(msg, "")
}

// notifyStatus tells every other session that an account went on/offline.
func (r *Registry) notifyStatus(account, status string) {
	msg := protocol.New(status)
	msg.Content = account
	r.BroadcastToAll(msg, account)
}

// ListAccounts returns a snapshot of the registered account ids.
func (r *Registry) ListAccounts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	accounts := make([]string, 0, len(r.sessions))
	for account := range r.sessions {
		accounts = append(accounts, account)
	}
	return accounts
}

// Count returns the number of registered accounts.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Kick sends an eviction notice to the account's session and tears it
// down. Returns false if the account is not registered.
func (r *Registry) Kick(account, reason string) bool {
	sess, ok := r.Lookup(account)
	if !ok {
		return false
	}

	notice := protocol.New(protocol.TypeKick)
	notice.Content = reason
	notice.From = "system"
	if err := sess.Send(notice); err != nil {
		debugLog.Printf("Session %d: kick notice failed: %v", sess.ID, err)
	}
	sess.Close()
	return true
}

// CloseAll closes every registered session. Used on shutdown; each
// connection handler's own teardown removes its registry entry.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		snapshot = append(snapshot, sess)
	}
	r.mu.RUnlock()

	for _, sess := range snapshot {
		sess.Close()
	}
}
