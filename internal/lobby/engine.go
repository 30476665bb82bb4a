// Package lobby implements the protocol engine: packet dispatch, lobby
// and match state transitions, broadcasts and liveness probing.
package lobby

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mysticnights/mnserver/internal/events"
	"github.com/mysticnights/mnserver/internal/protocol"
	"github.com/mysticnights/mnserver/internal/session"
	"github.com/mysticnights/mnserver/internal/store"
	"github.com/mysticnights/mnserver/internal/util"
)

// Timings groups the liveness and countdown intervals. Tests shrink them.
type Timings struct {
	// WatcherInterval is the idle-watcher tick.
	WatcherInterval time.Duration
	// IdleThreshold is how long a gameplay connection may stay silent
	// before a keepalive probe starts.
	IdleThreshold time.Duration
	// EchoInterval separates consecutive echo challenges of one probe.
	EchoInterval time.Duration
	// KeepaliveAttempts bounds a keepalive probe.
	KeepaliveAttempts int
	// ReadyCheckAttempts bounds a pre-match ready check probe.
	ReadyCheckAttempts int
	// CountdownInterval separates countdown ticks.
	CountdownInterval time.Duration
}

// DefaultTimings returns the intervals the retail client expects.
func DefaultTimings() Timings {
	return Timings{
		WatcherInterval:    time.Second,
		IdleThreshold:      20 * time.Second,
		EchoInterval:       time.Second,
		KeepaliveAttempts:  5,
		ReadyCheckAttempts: 10,
		CountdownInterval:  time.Second,
	}
}

// Engine dispatches decoded packets against the store and the session
// registry.
type Engine struct {
	store    store.Store
	sessions *session.Registry
	timings  Timings
	logger   zerolog.Logger
	bus      *events.EventBus

	// readyMu guards readyChecks.
	readyMu     sync.Mutex
	readyChecks map[string]*readyCheck
}

// readyCheck tracks one lobby's pending match-start gate: which players
// have resolved and whether the countdown has been claimed.
type readyCheck struct {
	results map[string]bool
	started bool
}

// NewEngine creates an Engine over the given store and registry.
func NewEngine(st store.Store, reg *session.Registry, t Timings) *Engine {
	return &Engine{
		store:       st,
		sessions:    reg,
		timings:     t,
		logger:      util.ComponentLogger("lobby"),
		readyChecks: make(map[string]*readyCheck),
	}
}

// SetEventBus attaches a bus for lifecycle notifications. Without one
// the engine emits nothing.
func (e *Engine) SetEventBus(bus *events.EventBus) {
	e.bus = bus
}

// emit publishes an event when a bus is attached.
func (e *Engine) emit(ctx context.Context, t events.EventType, payload interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(ctx, events.Event{Type: t, Source: "lobby", Payload: payload})
}

// lobbyKey identifies a lobby across the ready-check table.
func lobbyKey(channelID int64, name string) string {
	return fmt.Sprintf("%d/%s", channelID, name)
}

// Handle decodes and processes one frame from s. A decode error answers
// with the malformed-request code where the protocol defines one and
// keeps the connection open.
func (e *Engine) Handle(ctx context.Context, s *session.Session, f protocol.Frame) {
	s.Touch()

	msg, err := protocol.Decode(f)
	if err != nil {
		e.logger.Warn().
			Str("remote", s.Key()).
			Uint16("packet", f.ID).
			Err(err).
			Msg("malformed packet")
		if ack, ok := malformedAck(f.ID); ok {
			s.Send(ack)
		}
		return
	}

	switch m := msg.(type) {
	case protocol.Login:
		e.handleLogin(ctx, s, m)
	case protocol.AccountCreate:
		e.handleAccountCreate(ctx, s, m)
	case protocol.AccountDelete:
		e.handleAccountDelete(ctx, s, m)
	case protocol.ChannelList:
		e.handleChannelList(ctx, s)
	case protocol.ChannelJoin:
		e.handleChannelJoin(ctx, s, m)
	case protocol.LobbyCreate:
		e.handleLobbyCreate(ctx, s, m)
	case protocol.LobbyJoin:
		e.handleLobbyJoin(ctx, s, m)
	case protocol.QuickJoin:
		e.handleQuickJoin(ctx, s, m)
	case protocol.GameStart:
		e.handleGameStart(ctx, s, m)
	case protocol.ReadyToggle:
		e.handleReadyToggle(ctx, s, m)
	case protocol.LobbyLeave:
		e.handleLobbyLeave(ctx, s, m)
	case protocol.Kick:
		e.handleKick(ctx, s, m)
	case protocol.CharacterInfo:
		e.handleCharacterInfo(ctx, s, m)
	case protocol.CharacterSelect:
		e.handleCharacterSelect(ctx, s, m)
	case protocol.MapSelect:
		e.handleMapSelect(ctx, s, m)
	case protocol.ServerList:
		e.handleServerList(ctx, s)
	case protocol.LobbyList:
		e.handleLobbyList(ctx, s)
	case protocol.ReadyCheck:
		e.handleReadyCheck(ctx, s)
	case protocol.Disconnect:
		e.handleDisconnectNotice(ctx, s, m)
	case protocol.GameOver:
		e.handleGameOver(ctx, s, m)
	case protocol.GameResult:
		e.handleGameResult(ctx, s, m)
	case protocol.EchoReply:
		s.MarkEchoReply()
	case protocol.Movement:
		e.handleMovement(ctx, s, m)
	case protocol.Gameplay:
		e.handleGameplay(ctx, s, m)
	case protocol.Unknown:
		e.logger.Warn().
			Str("remote", s.Key()).
			Uint16("packet", m.ID).
			Msg("unhandled packet id")
	}
}

// malformedAck maps a request id to the failure ack a truncated payload
// earns. Requests without an entry are dropped silently.
func malformedAck(id uint16) (protocol.Frame, bool) {
	switch id {
	case protocol.PktLogin:
		return protocol.AckFailure(protocol.PktLoginAck, protocol.CodeInvalidParam), true
	case protocol.PktQuickJoin:
		return protocol.AckFailure(protocol.PktQuickJoinAck, protocol.CodeMalformed), true
	case protocol.PktGameStart:
		return protocol.AckFailure(protocol.PktGameStartAck, protocol.CodeMalformed), true
	case protocol.PktReadyToggle:
		return protocol.AckFailure(protocol.PktReadyAck, protocol.CodeMalformed), true
	case protocol.PktLobbyLeave:
		return protocol.AckFailure(protocol.PktLobbyLeaveAck, protocol.CodeMalformed), true
	case protocol.PktKick:
		return protocol.AckFailure(protocol.PktKickAck, protocol.CodeMalformed), true
	}
	return protocol.Frame{}, false
}

// channelOf resolves the session's bound channel, or ErrNotFound.
func (e *Engine) channelOf(ctx context.Context, s *session.Session) (int64, error) {
	channelID, index := s.Channel()
	if index < 0 {
		return 0, store.ErrNotFound
	}
	return channelID, nil
}

// lobbyOf resolves the lobby the session's player is seated in.
func (e *Engine) lobbyOf(ctx context.Context, s *session.Session) (*store.Lobby, error) {
	channelID, err := e.channelOf(ctx, s)
	if err != nil {
		return nil, err
	}
	playerID := s.PlayerID()
	if playerID == "" {
		return nil, store.ErrNotFound
	}
	return e.store.LobbyForPlayer(ctx, channelID, playerID)
}
