// Package session tracks connected clients. A player typically holds two
// TCP connections at once: a lobby connection and a gameplay connection
// recognized by its remote source port. Each connection is one Session.
package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mysticnights/mnserver/internal/protocol"
	"github.com/mysticnights/mnserver/internal/store"
	"github.com/mysticnights/mnserver/internal/util"
)

// EchoPurpose distinguishes the two echo challenges a session can run.
type EchoPurpose int

const (
	// EchoKeepalive probes idle gameplay connections.
	EchoKeepalive EchoPurpose = iota
	// EchoReadyCheck verifies seats before a match starts.
	EchoReadyCheck
)

func (p EchoPurpose) String() string {
	if p == EchoReadyCheck {
		return "readycheck"
	}
	return "keepalive"
}

// echoState is one in-flight echo challenge. The token is a generation
// counter: a stale prober whose token no longer matches must stand down.
type echoState struct {
	token      uint64
	replied    bool
	inProgress bool
}

// Conn is the subset of net.Conn a Session needs. Tests substitute a
// recorder.
type Conn interface {
	Write(b []byte) (int, error)
	Close() error
	RemoteAddr() net.Addr
	SetWriteDeadline(t time.Time) error
}

// Session wraps a single client TCP connection and the state the
// protocol engine attaches to it.
type Session struct {
	conn     Conn
	key      string
	gameplay bool
	logger   zerolog.Logger

	connectedAt time.Time

	writeMu sync.Mutex
	closed  bool

	mu           sync.Mutex
	playerID     string
	server       *store.Server
	channelID    int64
	channelIndex int
	lastPacket   time.Time

	quickJoinPending bool
	countdown        bool

	echoSeq    uint64
	keepalive  echoState
	readycheck echoState
}

// New wraps conn. gameplay marks connections arriving from the client's
// gameplay source port.
func New(conn Conn, gameplay bool) *Session {
	now := time.Now()
	key := conn.RemoteAddr().String()
	return &Session{
		conn:         conn,
		key:          key,
		gameplay:     gameplay,
		connectedAt:  now,
		lastPacket:   now,
		channelIndex: -1,
		logger: util.ComponentLogger("session").With().
			Str("remote", key).
			Bool("gameplay", gameplay).
			Logger(),
	}
}

// Key returns the remote address string identifying the session.
func (s *Session) Key() string { return s.key }

// Gameplay reports whether this is a gameplay connection.
func (s *Session) Gameplay() bool { return s.gameplay }

// RemoteAddr returns the remote address of the connection.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// ConnectedAt returns the time the connection was accepted.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Send writes a frame to the client.
func (s *Session) Send(f protocol.Frame) error {
	return s.SendRaw(f.Bytes())
}

// SendRaw writes a prebuilt packet to the client.
func (s *Session) SendRaw(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return fmt.Errorf("session %s is closed", s.key)
	}
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := s.conn.Write(b); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	return nil
}

// Close closes the underlying connection. Safe to call more than once;
// later calls are no-ops so disconnect cleanup can race the read loop.
func (s *Session) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info().Msg("session closed")
	return s.conn.Close()
}

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.closed
}

// BindPlayer associates the session with a logged-in player.
func (s *Session) BindPlayer(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playerID = playerID
	s.logger = s.logger.With().Str("player", playerID).Logger()
}

// PlayerID returns the bound player id, or "".
func (s *Session) PlayerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerID
}

// BindServer records which directory server this connection belongs to.
func (s *Session) BindServer(sv *store.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.server = sv
}

// Server returns the bound server, or nil.
func (s *Session) Server() *store.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server
}

// BindChannel records the joined channel.
func (s *Session) BindChannel(channelID int64, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelID = channelID
	s.channelIndex = index
}

// Channel returns the bound channel id and index; index is -1 when no
// channel has been joined.
func (s *Session) Channel() (int64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID, s.channelIndex
}

// Touch records packet arrival for the idle watcher.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPacket = time.Now()
}

// LastPacket returns the time of the last packet from this client.
func (s *Session) LastPacket() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPacket
}

// SetQuickJoinPending arms the one-shot flag a quick join sets so the
// lobby join the client sends right after is not answered twice.
func (s *Session) SetQuickJoinPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quickJoinPending = true
}

// TakeQuickJoinPending returns the flag and clears it.
func (s *Session) TakeQuickJoinPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.quickJoinPending
	s.quickJoinPending = false
	return p
}

// SetCountdown marks the session as inside the match start countdown,
// which pauses the idle watcher for it.
func (s *Session) SetCountdown(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countdown = v
}

// CountdownInProgress reports whether the start countdown is running.
func (s *Session) CountdownInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countdown
}

func (s *Session) echo(p EchoPurpose) *echoState {
	if p == EchoReadyCheck {
		return &s.readycheck
	}
	return &s.keepalive
}

// BeginEcho starts an echo challenge for the given purpose and returns
// its token. A zero return means a challenge is already in flight.
func (s *Session) BeginEcho(p EchoPurpose) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.echo(p)
	if st.inProgress {
		return 0
	}
	s.echoSeq++
	st.token = s.echoSeq
	st.replied = false
	st.inProgress = true
	return st.token
}

// EchoReplied reports whether the challenge identified by token got a
// reply. The second result is false when the token is stale.
func (s *Session) EchoReplied(p EchoPurpose, token uint64) (replied, valid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.echo(p)
	if st.token != token {
		return false, false
	}
	return st.replied, true
}

// EndEcho finishes the challenge identified by token.
func (s *Session) EndEcho(p EchoPurpose, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.echo(p)
	if st.token == token {
		st.inProgress = false
	}
}

// MarkEchoReply records an echo reply from the client. A ready check
// takes precedence over a keepalive probe when both are in flight.
func (s *Session) MarkEchoReply() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.readycheck.inProgress:
		s.readycheck.replied = true
	case s.keepalive.inProgress:
		s.keepalive.replied = true
	}
}
