package session

import (
	"net"
	"testing"
	"time"
)

// fakeConn records writes and satisfies Conn.
type fakeConn struct {
	addr   net.Addr
	writes [][]byte
	closed bool
}

func (c *fakeConn) Write(b []byte) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	c.writes = append(c.writes, cp)
	return len(b), nil
}

func (c *fakeConn) Close() error                     { c.closed = true; return nil }
func (c *fakeConn) RemoteAddr() net.Addr             { return c.addr }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func newFakeSession(addr string, gameplay bool) (*Session, *fakeConn) {
	tcp, _ := net.ResolveTCPAddr("tcp", addr)
	fc := &fakeConn{addr: tcp}
	return New(fc, gameplay), fc
}

func TestCloseIsIdempotent(t *testing.T) {
	s, fc := newFakeSession("10.0.0.1:3658", true)
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !fc.closed {
		t.Error("underlying conn not closed")
	}
	if err := s.SendRaw([]byte{0x01}); err == nil {
		t.Error("SendRaw after Close should fail")
	}
}

func TestQuickJoinPendingIsOneShot(t *testing.T) {
	s, _ := newFakeSession("10.0.0.1:40000", false)
	if s.TakeQuickJoinPending() {
		t.Fatal("flag set before arming")
	}
	s.SetQuickJoinPending()
	if !s.TakeQuickJoinPending() {
		t.Fatal("flag not set after arming")
	}
	if s.TakeQuickJoinPending() {
		t.Fatal("flag survived first take")
	}
}

func TestEchoTokensAreGenerational(t *testing.T) {
	s, _ := newFakeSession("10.0.0.1:3658", true)

	tok := s.BeginEcho(EchoKeepalive)
	if tok == 0 {
		t.Fatal("BeginEcho returned 0 with no challenge in flight")
	}
	if again := s.BeginEcho(EchoKeepalive); again != 0 {
		t.Fatalf("second BeginEcho = %d, want 0 while in flight", again)
	}

	s.MarkEchoReply()
	replied, valid := s.EchoReplied(EchoKeepalive, tok)
	if !valid || !replied {
		t.Fatalf("EchoReplied = (%v, %v), want (true, true)", replied, valid)
	}
	s.EndEcho(EchoKeepalive, tok)

	tok2 := s.BeginEcho(EchoKeepalive)
	if tok2 == 0 || tok2 == tok {
		t.Fatalf("new token %d should differ from %d", tok2, tok)
	}
	// the old token is stale now
	if _, valid := s.EchoReplied(EchoKeepalive, tok); valid {
		t.Error("stale token still considered valid")
	}
}

func TestEchoReplyPrefersReadyCheck(t *testing.T) {
	s, _ := newFakeSession("10.0.0.1:3658", true)

	ka := s.BeginEcho(EchoKeepalive)
	rc := s.BeginEcho(EchoReadyCheck)
	s.MarkEchoReply()

	if replied, _ := s.EchoReplied(EchoReadyCheck, rc); !replied {
		t.Error("ready check did not receive the reply")
	}
	if replied, _ := s.EchoReplied(EchoKeepalive, ka); replied {
		t.Error("keepalive stole the reply from the ready check")
	}
}

func TestRegistryPlayerLookups(t *testing.T) {
	r := NewRegistry()

	lobby, _ := newFakeSession("10.0.0.1:40000", false)
	game, _ := newFakeSession("10.0.0.1:3658", true)
	lobby.BindPlayer("alice")
	game.BindPlayer("alice")
	r.Register(lobby)
	r.Register(game)

	if got := len(r.ByPlayer("alice")); got != 2 {
		t.Errorf("ByPlayer returned %d sessions, want 2", got)
	}
	g, ok := r.GameplayByPlayer("alice")
	if !ok || !g.Gameplay() {
		t.Error("GameplayByPlayer did not return the gameplay session")
	}
	l, ok := r.LobbyByPlayer("alice")
	if !ok || l.Gameplay() {
		t.Error("LobbyByPlayer did not return the lobby session")
	}

	r.Unregister(game.Key())
	if _, ok := r.GameplayByPlayer("alice"); ok {
		t.Error("gameplay session survived Unregister")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
}

func TestRegistryRegisterReplacesSameKey(t *testing.T) {
	r := NewRegistry()
	old, oldConn := newFakeSession("10.0.0.1:40000", false)
	r.Register(old)

	repl, _ := newFakeSession("10.0.0.1:40000", false)
	r.Register(repl)

	if !oldConn.closed {
		t.Error("replaced session not closed")
	}
	got, _ := r.Get(repl.Key())
	if got != repl {
		t.Error("registry did not keep the replacement session")
	}
}
