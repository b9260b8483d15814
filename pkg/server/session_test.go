package server

import (
	"testing"

	"github.com/clucky/luckychat/pkg/protocol"
)

func newRegistrySession(id uint64) (*Session, *mockConn) {
	conn := newMockConn()
	return newSession(id, conn), conn
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	initTestLoggers(t)
	r := NewRegistry()
	sess, _ := newRegistrySession(1)

	r.Register("10000001", sess)

	got, ok := r.Lookup("10000001")
	if !ok || got != sess {
		t.Fatal("Lookup did not return the registered session")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
	if _, ok := r.Lookup("10000002"); ok {
		t.Error("Lookup returned a session for an unknown account")
	}
}

func TestRegistrySingleLoginDisplacesOlderSession(t *testing.T) {
	initTestLoggers(t)
	r := NewRegistry()
	first, firstConn := newRegistrySession(1)
	second, _ := newRegistrySession(2)

	r.Register("10000001", first)
	r.Register("10000001", second)

	got, ok := r.Lookup("10000001")
	if !ok || got != second {
		t.Fatal("Newer session did not replace the older one")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want exactly one session per account", r.Count())
	}
	if !first.IsClosed() {
		t.Error("Displaced session was not closed")
	}
	if second.IsClosed() {
		t.Error("New session must stay open")
	}

	msgs := writtenMessages(t, firstConn)
	var sawKick bool
	for _, m := range msgs {
		if m.Type == protocol.TypeKick {
			sawKick = true
			if m.Content != "account logged in from another location" {
				t.Errorf("Kick content %q", m.Content)
			}
		}
	}
	if !sawKick {
		t.Error("Displaced session never got the kick notice")
	}
}

func TestRegistryUnregisterIdentityCheck(t *testing.T) {
	initTestLoggers(t)
	r := NewRegistry()
	first, _ := newRegistrySession(1)
	second, _ := newRegistrySession(2)

	r.Register("10000001", first)
	r.Register("10000001", second)

	// The displaced session's late teardown must not remove its successor.
	if r.Unregister("10000001", first) {
		t.Error("Unregister removed a mapping it did not own")
	}
	if got, ok := r.Lookup("10000001"); !ok || got != second {
		t.Fatal("Successor session lost its registry entry")
	}

	if !r.Unregister("10000001", second) {
		t.Error("Unregister failed for the current session")
	}
	if _, ok := r.Lookup("10000001"); ok {
		t.Error("Account still registered after unregister")
	}
	if r.Unregister("10000001", second) {
		t.Error("Second unregister must be a no-op")
	}
}

func TestRegistryStatusNotices(t *testing.T) {
	initTestLoggers(t)
	r := NewRegistry()
	alice, aliceConn := newRegistrySession(1)
	bob, _ := newRegistrySession(2)

	r.Register("10000001", alice)
	r.Register("10000002", bob)

	msgs := writtenMessages(t, aliceConn)
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeOnline || msgs[0].Content != "10000002" {
		t.Fatalf("Expected online notice for bob, got %v", msgs)
	}
	aliceConn.writeBuf.Reset()

	r.Unregister("10000002", bob)

	msgs = writtenMessages(t, aliceConn)
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeOffline || msgs[0].Content != "10000002" {
		t.Fatalf("Expected offline notice for bob, got %v", msgs)
	}
}

func TestRegistryForward(t *testing.T) {
	initTestLoggers(t)
	r := NewRegistry()
	bob, bobConn := newRegistrySession(1)
	r.Register("10000002", bob)

	msg := protocol.New(protocol.TypeText)
	msg.From = "10000001"
	msg.To = "10000002"
	msg.Content = "hi"

	if !r.Forward(msg) {
		t.Fatal("Forward to a registered session failed")
	}
	msgs := writtenMessages(t, bobConn)
	if len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Fatalf("Recipient got %v", msgs)
	}

	msg.To = "10000003"
	if r.Forward(msg) {
		t.Error("Forward to an unknown account must fail")
	}

	bob.Close()
	msg.To = "10000002"
	if r.Forward(msg) {
		t.Error("Forward to a closed session must fail")
	}
}

func TestRegistryBroadcastSkipsFailedWrites(t *testing.T) {
	initTestLoggers(t)
	r := NewRegistry()

	sender, _ := newRegistrySession(1)
	healthy, healthyConn := newRegistrySession(2)
	broken, brokenConn := newRegistrySession(3)
	brokenConn.failWrites = true

	r.Register("10000001", sender)
	r.Register("10000002", healthy)
	r.Register("10000003", broken)
	healthyConn.writeBuf.Reset()

	msg := protocol.New(protocol.TypeGroup)
	msg.From = "10000001"
	msg.Content = "to all"

	delivered := r.BroadcastToAll(msg, "10000001")
	if delivered != 1 {
		t.Errorf("Delivered = %d, want 1 (broken conn skipped, sender excluded)", delivered)
	}

	msgs := writtenMessages(t, healthyConn)
	if len(msgs) != 1 || msgs[0].Content != "to all" {
		t.Fatalf("Healthy session got %v", msgs)
	}
}

func TestRegistryKick(t *testing.T) {
	initTestLoggers(t)
	r := NewRegistry()
	sess, conn := newRegistrySession(1)
	r.Register("10000001", sess)

	if !r.Kick("10000001", "flooding") {
		t.Fatal("Kick failed for a registered account")
	}
	if !sess.IsClosed() {
		t.Error("Kicked session was not closed")
	}
	msgs := writtenMessages(t, conn)
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeKick || msgs[0].Content != "flooding" {
		t.Fatalf("Expected kick notice, got %v", msgs)
	}

	if r.Kick("10000009", "no such user") {
		t.Error("Kick must fail for an unknown account")
	}
}

func TestRegistryCloseAll(t *testing.T) {
	initTestLoggers(t)
	r := NewRegistry()
	a, _ := newRegistrySession(1)
	b, _ := newRegistrySession(2)
	r.Register("10000001", a)
	r.Register("10000002", b)

	r.CloseAll()

	if !a.IsClosed() || !b.IsClosed() {
		t.Error("CloseAll left a session open")
	}
}

func TestSessionBindAccountFirstWins(t *testing.T) {
	sess, _ := newRegistrySession(1)

	sess.bindAccount("10000001")
	sess.bindAccount("10000002")

	if got := sess.Account(); got != "10000001" {
		t.Errorf("Account = %q, want the first bind to stick", got)
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	sess, _ := newRegistrySession(1)

	if sess.IsClosed() {
		t.Fatal("New session reports closed")
	}
	sess.Close()
	sess.Close()
	if !sess.IsClosed() {
		t.Error("Session not closed after Close")
	}
	select {
	case <-sess.Closed():
	default:
		t.Error("Closed channel not closed")
	}
}
