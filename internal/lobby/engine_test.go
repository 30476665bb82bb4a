package lobby

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mysticnights/mnserver/internal/protocol"
	"github.com/mysticnights/mnserver/internal/session"
	"github.com/mysticnights/mnserver/internal/store"
)

// testConn accumulates everything the engine writes to one client.
type testConn struct {
	mu     sync.Mutex
	addr   net.Addr
	buf    bytes.Buffer
	closed bool
}

func (c *testConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(b)
}

func (c *testConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *testConn) RemoteAddr() net.Addr             { return c.addr }
func (c *testConn) SetWriteDeadline(time.Time) error { return nil }

// frames decodes the accumulated writes back into frames.
func (c *testConn) frames(t *testing.T) []protocol.Frame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []protocol.Frame
	data := c.buf.Bytes()
	for len(data) > 0 {
		if len(data) < protocol.HeaderSize {
			t.Fatalf("truncated header: % x", data)
		}
		id := binary.LittleEndian.Uint16(data[0:2])
		n := int(binary.LittleEndian.Uint16(data[2:4]))
		if len(data) < protocol.HeaderSize+n {
			t.Fatalf("truncated payload for 0x%04x: % x", id, data)
		}
		out = append(out, protocol.Frame{ID: id, Payload: data[4 : 4+n]})
		data = data[protocol.HeaderSize+n:]
	}
	return out
}

func (c *testConn) lastFrame(t *testing.T) protocol.Frame {
	t.Helper()
	fs := c.frames(t)
	if len(fs) == 0 {
		t.Fatal("no frames written")
	}
	return fs[len(fs)-1]
}

func (c *testConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Reset()
}

type env struct {
	t      *testing.T
	engine *Engine
	store  *store.Memory
	reg    *session.Registry
	server *store.Server
	chID   int64
	nextIP byte
}

func newEnv(t *testing.T) *env {
	t.Helper()
	m := store.NewMemory()
	m.AddServer("MN1", "127.0.0.1", -1)
	ctx := context.Background()
	servers, err := m.Servers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	chID, err := m.ChannelID(ctx, servers[0].ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	reg := session.NewRegistry()
	timings := Timings{
		WatcherInterval:    5 * time.Millisecond,
		IdleThreshold:      20 * time.Millisecond,
		EchoInterval:       5 * time.Millisecond,
		KeepaliveAttempts:  3,
		ReadyCheckAttempts: 3,
		CountdownInterval:  time.Millisecond,
	}
	return &env{
		t:      t,
		engine: NewEngine(m, reg, timings),
		store:  m,
		reg:    reg,
		server: &servers[0],
		chID:   chID,
	}
}

// connect registers a session bound to player and the test channel.
func (e *env) connect(player string, gameplay bool) (*session.Session, *testConn) {
	e.t.Helper()
	e.nextIP++
	port := 40000
	if gameplay {
		port = 3658
	}
	addr, _ := net.ResolveTCPAddr("tcp", fmt.Sprintf("10.0.0.%d:%d", e.nextIP, port))
	tc := &testConn{addr: addr}
	s := session.New(tc, gameplay)
	if player != "" {
		s.BindPlayer(player)
	}
	s.BindServer(e.server)
	s.BindChannel(e.chID, 0)
	e.reg.Register(s)
	return s, tc
}

// mustCreatePlayer seeds an account.
func (e *env) mustCreatePlayer(id, pw string) {
	e.t.Helper()
	if err := e.store.CreatePlayer(context.Background(), id, pw); err != nil {
		e.t.Fatal(err)
	}
}

func fixed(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

func loginFrame(id, pw string) protocol.Frame {
	p := make([]byte, 26)
	copy(p[0:12], fixed(id, 12))
	copy(p[13:25], fixed(pw, 12))
	return protocol.Frame{ID: protocol.PktLogin, Payload: p}
}

func lobbyCreateFrame(player, name, pw string) protocol.Frame {
	p := make([]byte, 38)
	copy(p[0:8], fixed(player, 8))
	copy(p[13:25], fixed(name, 12))
	copy(p[30:38], fixed(pw, 8))
	return protocol.Frame{ID: protocol.PktLobbyCreate, Payload: p}
}

func lobbyJoinFrame(player, name string) protocol.Frame {
	p := make([]byte, 32)
	copy(p[0:8], fixed(player, 8))
	copy(p[20:32], fixed(name, 12))
	return protocol.Frame{ID: protocol.PktLobbyJoin, Payload: p}
}

func playerFrame(id uint16, player string) protocol.Frame {
	return protocol.Frame{ID: id, Payload: fixed(player, 8)}
}

func quickJoinFrame(player string) protocol.Frame {
	return protocol.Frame{ID: protocol.PktQuickJoin, Payload: fixed(player, 9)}
}

func assertSuccessAck(t *testing.T, f protocol.Frame, id uint16, val uint16) {
	t.Helper()
	if f.ID != id {
		t.Fatalf("ack id = 0x%04x, want 0x%04x", f.ID, id)
	}
	want := []byte{0x01, 0x00, 0x00, 0x00, byte(val), byte(val >> 8)}
	if !bytes.Equal(f.Payload, want) {
		t.Fatalf("success ack payload = % x, want % x", f.Payload, want)
	}
}

func assertFailureAck(t *testing.T, f protocol.Frame, id uint16, code uint16) {
	t.Helper()
	if f.ID != id {
		t.Fatalf("ack id = 0x%04x, want 0x%04x", f.ID, id)
	}
	want := []byte{0x00, byte(code), byte(code >> 8)}
	if !bytes.Equal(f.Payload, want) {
		t.Fatalf("failure ack payload = % x, want % x", f.Payload, want)
	}
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	e.mustCreatePlayer("alice", "secret")
	ctx := context.Background()

	s, tc := e.connect("", false)

	e.engine.Handle(ctx, s, loginFrame("ghost", "pw"))
	assertFailureAck(t, tc.lastFrame(t), protocol.PktLoginAck, protocol.CodeUnknownPlayer)

	e.engine.Handle(ctx, s, loginFrame("alice", "wrong"))
	assertFailureAck(t, tc.lastFrame(t), protocol.PktLoginAck, protocol.CodeWrongPassword)

	e.engine.Handle(ctx, s, loginFrame("alice", "secret"))
	assertSuccessAck(t, tc.lastFrame(t), protocol.PktLoginAck, 1)
	if s.PlayerID() != "alice" {
		t.Errorf("session player = %q, want alice", s.PlayerID())
	}
}

func TestLoginMalformedPayload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s, tc := e.connect("", false)

	e.engine.Handle(ctx, s, protocol.Frame{ID: protocol.PktLogin, Payload: []byte{0x01, 0x02}})
	assertFailureAck(t, tc.lastFrame(t), protocol.PktLoginAck, protocol.CodeInvalidParam)
}

func TestAccountCreateAndDuplicate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s, tc := e.connect("", false)

	p := make([]byte, 26)
	copy(p[0:8], fixed("newbie", 8))
	copy(p[13:25], fixed("pw", 12))
	f := protocol.Frame{ID: protocol.PktAccountCreate, Payload: p}

	e.engine.Handle(ctx, s, f)
	assertSuccessAck(t, tc.lastFrame(t), protocol.PktAccountCreateAck, 1)

	e.engine.Handle(ctx, s, f)
	assertFailureAck(t, tc.lastFrame(t), protocol.PktAccountCreateAck, protocol.CodeAccountExists)
}

func TestLobbyCreateDuplicateName(t *testing.T) {
	e := newEnv(t)
	e.mustCreatePlayer("alice", "pw")
	e.mustCreatePlayer("bob", "pw")
	ctx := context.Background()

	a, ac := e.connect("alice", false)
	e.engine.Handle(ctx, a, lobbyCreateFrame("alice", "Room", ""))
	fs := ac.frames(t)
	if len(fs) != 2 {
		t.Fatalf("lobby create wrote %d frames, want ack + room info", len(fs))
	}
	assertSuccessAck(t, fs[0], protocol.PktLobbyCreateAck, 1)
	if fs[1].ID != protocol.PktRoomInfo || len(fs[1].Payload) != 156 {
		t.Fatalf("room info = id 0x%04x len %d, want 0x03ee len 156", fs[1].ID, len(fs[1].Payload))
	}

	b, bc := e.connect("bob", false)
	e.engine.Handle(ctx, b, lobbyCreateFrame("bob", "Room", ""))
	assertFailureAck(t, bc.lastFrame(t), protocol.PktLobbyCreateAck, protocol.CodeLobbyExists)
}

func TestLobbyJoinAcksSlotAndBroadcastsRoom(t *testing.T) {
	e := newEnv(t)
	e.mustCreatePlayer("alice", "pw")
	e.mustCreatePlayer("bob", "pw")
	ctx := context.Background()

	a, _ := e.connect("alice", false)
	_, agc := e.connect("alice", true)
	e.engine.Handle(ctx, a, lobbyCreateFrame("alice", "Room", ""))

	b, bc := e.connect("bob", false)
	_, bgc := e.connect("bob", true)
	e.engine.Handle(ctx, b, lobbyJoinFrame("bob", "Room"))

	assertSuccessAck(t, bc.lastFrame(t), protocol.PktLobbyJoinAck, 0)

	for name, tc := range map[string]*testConn{"alice": agc, "bob": bgc} {
		f := tc.lastFrame(t)
		if f.ID != protocol.PktRoomInfo {
			t.Errorf("%s gameplay conn got 0x%04x, want room info", name, f.ID)
		}
	}
}

func TestLobbyJoinStartedLobbyRejected(t *testing.T) {
	e := newEnv(t)
	e.mustCreatePlayer("alice", "pw")
	e.mustCreatePlayer("bob", "pw")
	ctx := context.Background()

	a, _ := e.connect("alice", false)
	e.engine.Handle(ctx, a, lobbyCreateFrame("alice", "Room", ""))
	if err := e.store.SetStatus(ctx, e.chID, "Room", protocol.LobbyStatusStarted); err != nil {
		t.Fatal(err)
	}

	b, bc := e.connect("bob", false)
	e.engine.Handle(ctx, b, lobbyJoinFrame("bob", "Room"))
	assertFailureAck(t, bc.lastFrame(t), protocol.PktLobbyJoinAck, protocol.CodeGameStarted)
}

func TestQuickJoinSwallowsNextJoin(t *testing.T) {
	e := newEnv(t)
	e.mustCreatePlayer("alice", "pw")
	e.mustCreatePlayer("bob", "pw")
	ctx := context.Background()

	a, _ := e.connect("alice", false)
	e.engine.Handle(ctx, a, lobbyCreateFrame("alice", "Room", ""))

	b, bc := e.connect("bob", false)
	e.engine.Handle(ctx, b, quickJoinFrame("bob"))
	assertSuccessAck(t, bc.lastFrame(t), protocol.PktQuickJoinAck, 0)

	// the follow-up join the client always sends is not answered
	bc.reset()
	e.engine.Handle(ctx, b, lobbyJoinFrame("bob", "Room"))
	if fs := bc.frames(t); len(fs) != 0 {
		t.Fatalf("join after quick join answered with %d frames", len(fs))
	}

	// the next one is handled normally
	e.engine.Handle(ctx, b, lobbyJoinFrame("bob", "Room"))
	assertSuccessAck(t, bc.lastFrame(t), protocol.PktLobbyJoinAck, 0)
}

func TestQuickJoinNoOpenLobby(t *testing.T) {
	e := newEnv(t)
	e.mustCreatePlayer("bob", "pw")
	ctx := context.Background()

	b, bc := e.connect("bob", false)
	e.engine.Handle(ctx, b, quickJoinFrame("bob"))
	assertFailureAck(t, bc.lastFrame(t), protocol.PktQuickJoinAck, protocol.CodeNoLobby)
}

func TestGameStartBroadcastsParams(t *testing.T) {
	e := newEnv(t)
	e.mustCreatePlayer("alice", "pw")
	ctx := context.Background()

	a, _ := e.connect("alice", false)
	_, agc := e.connect("alice", true)
	e.engine.Handle(ctx, a, lobbyCreateFrame("alice", "Room", ""))

	e.engine.Handle(ctx, a, playerFrame(protocol.PktGameStart, "alice"))

	f := agc.lastFrame(t)
	if f.ID != protocol.PktGameStartAck {
		t.Fatalf("got 0x%04x, want game start 0x0bc0", f.ID)
	}
	if len(f.Payload) != 30 {
		t.Fatalf("game start payload %d bytes, want 30", len(f.Payload))
	}
	seen := map[byte]bool{}
	for i := 0; i < 4; i++ {
		pos := f.Payload[4+i*4]
		if pos >= protocol.MaxStartPositions {
			t.Errorf("start position %d out of range", pos)
		}
		if seen[pos] {
			t.Errorf("duplicate start position %d", pos)
		}
		seen[pos] = true
	}
	mapID := binary.LittleEndian.Uint16(f.Payload[28:30])
	if mapID < 1 || mapID > 4 {
		t.Errorf("map id = %d, want 1..4", mapID)
	}

	l, err := e.store.LobbyByName(ctx, e.chID, "Room")
	if err != nil {
		t.Fatal(err)
	}
	if l.Status != protocol.LobbyStatusStarted {
		t.Errorf("lobby status = %d, want started", l.Status)
	}
	if !a.CountdownInProgress() {
		t.Error("game start did not mark the session as counting down")
	}
}

func TestKickAcksBothAndClearsSeat(t *testing.T) {
	e := newEnv(t)
	e.mustCreatePlayer("alice", "pw")
	e.mustCreatePlayer("bob", "pw")
	ctx := context.Background()

	a, ac := e.connect("alice", false)
	e.connect("alice", true)
	e.engine.Handle(ctx, a, lobbyCreateFrame("alice", "Room", ""))

	b, _ := e.connect("bob", false)
	_, bgc := e.connect("bob", true)
	e.engine.Handle(ctx, b, lobbyJoinFrame("bob", "Room"))

	ac.reset()
	kick := protocol.Frame{ID: protocol.PktKick, Payload: []byte{0x01, 0x00, 0x00, 0x00}}
	e.engine.Handle(ctx, a, kick)

	var kicked bool
	for _, f := range bgc.frames(t) {
		if f.ID == protocol.PktKickAck {
			kicked = true
		}
	}
	if !kicked {
		t.Error("kicked player's gameplay session never saw the kick ack")
	}
	var requesterAcked bool
	for _, f := range ac.frames(t) {
		if f.ID == protocol.PktKickAck {
			requesterAcked = true
		}
	}
	if !requesterAcked {
		t.Error("requester never saw the kick ack")
	}

	l, err := e.store.LobbyByName(ctx, e.chID, "Room")
	if err != nil {
		t.Fatal(err)
	}
	if l.SeatOf("bob") >= 0 {
		t.Error("kicked player still seated")
	}
}

func TestGameResultCreditsRank(t *testing.T) {
	e := newEnv(t)
	e.mustCreatePlayer("alice", "pw")
	ctx := context.Background()
	s, _ := e.connect("alice", true)

	result := func(victory uint32) protocol.Frame {
		p := make([]byte, 20)
		copy(p[0:8], fixed("alice", 8))
		binary.LittleEndian.PutUint32(p[16:20], victory)
		return protocol.Frame{ID: protocol.PktGameResult, Payload: p}
	}

	e.engine.Handle(ctx, s, result(1))
	e.engine.Handle(ctx, s, result(0))

	p, err := e.store.Player(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.Rank != 1+5+2 {
		t.Errorf("rank = %d, want 8 after one win and one loss", p.Rank)
	}
}

func TestGameOverResetsLobby(t *testing.T) {
	e := newEnv(t)
	e.mustCreatePlayer("alice", "pw")
	ctx := context.Background()

	a, _ := e.connect("alice", false)
	e.connect("alice", true)
	e.engine.Handle(ctx, a, lobbyCreateFrame("alice", "Room", ""))
	e.engine.Handle(ctx, a, playerFrame(protocol.PktReadyToggle, "alice"))
	if err := e.store.SetStatus(ctx, e.chID, "Room", protocol.LobbyStatusStarted); err != nil {
		t.Fatal(err)
	}

	e.engine.Handle(ctx, a, playerFrame(protocol.PktGameOver, "alice"))

	l, err := e.store.LobbyByName(ctx, e.chID, "Room")
	if err != nil {
		t.Fatal(err)
	}
	if l.Status != protocol.LobbyStatusWaiting {
		t.Errorf("lobby status = %d, want waiting", l.Status)
	}
	if l.Seats[l.SeatOf("alice")].Ready != 0 {
		t.Error("ready flag survived game over")
	}
}

func TestMovementMirroredToWholeLobby(t *testing.T) {
	e := newEnv(t)
	e.mustCreatePlayer("alice", "pw")
	e.mustCreatePlayer("bob", "pw")
	ctx := context.Background()

	a, _ := e.connect("alice", false)
	ag, agc := e.connect("alice", true)
	e.engine.Handle(ctx, a, lobbyCreateFrame("alice", "Room", ""))
	b, _ := e.connect("bob", false)
	_, bgc := e.connect("bob", true)
	e.engine.Handle(ctx, b, lobbyJoinFrame("bob", "Room"))
	agc.reset()
	bgc.reset()

	move := protocol.Frame{ID: protocol.PktMovement, Payload: make([]byte, 24)}
	e.engine.Handle(ctx, ag, move)

	for name, tc := range map[string]*testConn{"alice": agc, "bob": bgc} {
		f := tc.lastFrame(t)
		if f.ID != protocol.PktMovement {
			t.Errorf("%s got 0x%04x, want movement echo", name, f.ID)
		}
	}
}

func TestProximityNotEchoedToSender(t *testing.T) {
	e := newEnv(t)
	e.mustCreatePlayer("alice", "pw")
	e.mustCreatePlayer("bob", "pw")
	ctx := context.Background()

	a, _ := e.connect("alice", false)
	ag, agc := e.connect("alice", true)
	e.engine.Handle(ctx, a, lobbyCreateFrame("alice", "Room", ""))
	b, _ := e.connect("bob", false)
	_, bgc := e.connect("bob", true)
	e.engine.Handle(ctx, b, lobbyJoinFrame("bob", "Room"))
	agc.reset()
	bgc.reset()

	prox := protocol.Frame{ID: protocol.PktProximity, Payload: []byte{0x01}}
	e.engine.Handle(ctx, ag, prox)

	if fs := agc.frames(t); len(fs) != 0 {
		t.Errorf("proximity echoed back to sender (%d frames)", len(fs))
	}
	if f := bgc.lastFrame(t); f.ID != protocol.PktProximity {
		t.Errorf("bob got 0x%04x, want proximity relay", f.ID)
	}
}

func TestKeepaliveTimeoutDisconnects(t *testing.T) {
	e := newEnv(t)
	e.mustCreatePlayer("alice", "pw")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, _ := e.connect("alice", false)
	e.engine.Handle(ctx, a, lobbyCreateFrame("alice", "Room", ""))
	ag, agc := e.connect("alice", true)

	go e.engine.RunWatcher(ctx)

	deadline := time.After(2 * time.Second)
	for {
		if ag.Closed() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("idle session never disconnected")
		case <-time.After(5 * time.Millisecond):
		}
	}

	var challenged bool
	for _, f := range agc.frames(t) {
		if f.ID == protocol.PktEchoChallenge {
			challenged = true
		}
	}
	if !challenged {
		t.Error("no echo challenge sent before disconnect")
	}
	if _, ok := e.reg.GameplayByPlayer("alice"); ok {
		t.Error("session still registered after keepalive timeout")
	}
}

func TestKeepaliveReplyKeepsSession(t *testing.T) {
	e := newEnv(t)
	e.mustCreatePlayer("alice", "pw")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, _ := e.connect("alice", false)
	e.engine.Handle(ctx, a, lobbyCreateFrame("alice", "Room", ""))
	ag, _ := e.connect("alice", true)

	// answer challenges as they come in
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			ag.MarkEchoReply()
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Millisecond):
			}
		}
	}()

	watcherCtx, stop := context.WithTimeout(ctx, 200*time.Millisecond)
	defer stop()
	e.engine.RunWatcher(watcherCtx)
	cancel()
	<-done

	if ag.Closed() {
		t.Error("responsive session was disconnected")
	}
}

func TestReadyCheckMarksMissingSeatsAndCountsDown(t *testing.T) {
	e := newEnv(t)
	e.mustCreatePlayer("alice", "pw")
	e.mustCreatePlayer("bob", "pw")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, _ := e.connect("alice", false)
	ag, agc := e.connect("alice", true)
	e.engine.Handle(ctx, a, lobbyCreateFrame("alice", "Room", ""))
	b, _ := e.connect("bob", false)
	e.engine.Handle(ctx, b, lobbyJoinFrame("bob", "Room"))
	// bob has no gameplay session: the ready check must declare his
	// seat disconnected on its own

	e.engine.Handle(ctx, ag, protocol.Frame{ID: protocol.PktReadyCheck})
	// answer alice's ready-check echo
	go func() {
		for i := 0; i < 50; i++ {
			ag.MarkEchoReply()
			time.Sleep(2 * time.Millisecond)
		}
	}()

	var sawSeatDC, sawZero bool
	deadline := time.After(2 * time.Second)
	for !sawZero {
		select {
		case <-deadline:
			t.Fatalf("countdown never completed; frames: %+v", agc.frames(t))
		case <-time.After(5 * time.Millisecond):
		}
		for _, f := range agc.frames(t) {
			switch f.ID {
			case protocol.PktSeatDC:
				if len(f.Payload) == 4 && f.Payload[0] == 1 {
					sawSeatDC = true
				}
			case protocol.PktCountdown:
				if len(f.Payload) == 1 && f.Payload[0] == 0 {
					sawZero = true
				}
			}
		}
	}
	if !sawSeatDC {
		t.Error("missing-seat disconnect notice for bob's seat never sent")
	}

	// countdown ticks 4..0 arrive in order
	var ticks []byte
	for _, f := range agc.frames(t) {
		if f.ID == protocol.PktCountdown {
			ticks = append(ticks, f.Payload[0])
		}
	}
	want := []byte{4, 3, 2, 1, 0}
	if !bytes.Equal(ticks, want) {
		t.Errorf("countdown ticks = %v, want %v", ticks, want)
	}
}

func TestConcurrentReadyCheckStartsOneCountdown(t *testing.T) {
	// The last two resolvers racing must not both claim the countdown.
	for iter := 0; iter < 25; iter++ {
		e := newEnv(t)
		e.mustCreatePlayer("alice", "pw")
		e.mustCreatePlayer("bob", "pw")
		ctx := context.Background()

		a, _ := e.connect("alice", false)
		_, agc := e.connect("alice", true)
		e.engine.Handle(ctx, a, lobbyCreateFrame("alice", "Room", ""))
		b, _ := e.connect("bob", false)
		e.connect("bob", true)
		e.engine.Handle(ctx, b, lobbyJoinFrame("bob", "Room"))
		agc.reset()

		var wg sync.WaitGroup
		for _, player := range []string{"alice", "bob"} {
			wg.Add(1)
			go func(player string) {
				defer wg.Done()
				e.engine.resolveReadyCheck(ctx, e.chID, "Room", player, true)
			}(player)
		}
		wg.Wait()

		sawZero := false
		deadline := time.After(2 * time.Second)
		for !sawZero {
			select {
			case <-deadline:
				t.Fatalf("countdown never completed; frames: %+v", agc.frames(t))
			case <-time.After(5 * time.Millisecond):
			}
			for _, f := range agc.frames(t) {
				if f.ID == protocol.PktCountdown && len(f.Payload) == 1 && f.Payload[0] == 0 {
					sawZero = true
				}
			}
		}

		var ticks []byte
		for _, f := range agc.frames(t) {
			if f.ID == protocol.PktCountdown {
				ticks = append(ticks, f.Payload[0])
			}
		}
		if !bytes.Equal(ticks, []byte{4, 3, 2, 1, 0}) {
			t.Fatalf("iteration %d: countdown ticks = %v, want single 4..0 run", iter, ticks)
		}
	}
}

func TestFullDisconnectWaitingLobbyBroadcastsRoom(t *testing.T) {
	e := newEnv(t)
	e.mustCreatePlayer("alice", "pw")
	e.mustCreatePlayer("bob", "pw")
	ctx := context.Background()

	a, _ := e.connect("alice", false)
	e.connect("alice", true)
	e.engine.Handle(ctx, a, lobbyCreateFrame("alice", "Room", ""))
	b, _ := e.connect("bob", false)
	bg, bgc := e.connect("bob", true)
	e.engine.Handle(ctx, b, lobbyJoinFrame("bob", "Room"))
	_ = bg
	bgc.reset()

	e.engine.FullDisconnect(ctx, a)

	l, err := e.store.LobbyByName(ctx, e.chID, "Room")
	if err != nil {
		t.Fatal(err)
	}
	if l.SeatOf("alice") >= 0 {
		t.Error("disconnected player still seated")
	}
	if l.Leader != "bob" {
		t.Errorf("leader = %q, want bob", l.Leader)
	}
	if f := bgc.lastFrame(t); f.ID != protocol.PktRoomInfo {
		t.Errorf("remaining player got 0x%04x, want room info", f.ID)
	}
}

func TestFullDisconnectStartedLobbySendsSeatDC(t *testing.T) {
	e := newEnv(t)
	e.mustCreatePlayer("alice", "pw")
	e.mustCreatePlayer("bob", "pw")
	ctx := context.Background()

	a, _ := e.connect("alice", false)
	ag, _ := e.connect("alice", true)
	e.engine.Handle(ctx, a, lobbyCreateFrame("alice", "Room", ""))
	b, _ := e.connect("bob", false)
	_, bgc := e.connect("bob", true)
	e.engine.Handle(ctx, b, lobbyJoinFrame("bob", "Room"))
	if err := e.store.SetStatus(ctx, e.chID, "Room", protocol.LobbyStatusStarted); err != nil {
		t.Fatal(err)
	}
	bgc.reset()

	e.engine.FullDisconnect(ctx, ag)

	f := bgc.lastFrame(t)
	if f.ID != protocol.PktSeatDC {
		t.Fatalf("got 0x%04x, want seat disconnect", f.ID)
	}
	if f.Payload[0] != 0 {
		t.Errorf("seat index = %d, want 0 (alice's seat)", f.Payload[0])
	}
}
