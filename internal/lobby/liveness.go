package lobby

import (
	"context"
	"time"

	"github.com/mysticnights/mnserver/internal/events"
	"github.com/mysticnights/mnserver/internal/protocol"
	"github.com/mysticnights/mnserver/internal/session"
	"github.com/mysticnights/mnserver/internal/store"
)

// RunWatcher probes idle gameplay connections until ctx is done. A
// client that stays silent past the idle threshold gets echo challenges;
// no reply within the attempt budget forces a full disconnect.
func (e *Engine) RunWatcher(ctx context.Context) {
	ticker := time.NewTicker(e.timings.WatcherInterval)
	defer ticker.Stop()

	e.logger.Info().
		Dur("idle_threshold", e.timings.IdleThreshold).
		Msg("idle watcher running")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, s := range e.sessions.Snapshot() {
			if s.PlayerID() == "" || !s.Gameplay() {
				continue
			}
			if s.CountdownInProgress() {
				continue
			}
			if time.Since(s.LastPacket()) <= e.timings.IdleThreshold {
				continue
			}
			token := s.BeginEcho(session.EchoKeepalive)
			if token == 0 {
				continue
			}
			e.logger.Info().
				Str("player", s.PlayerID()).
				Dur("idle", time.Since(s.LastPacket())).
				Msg("idle client, probing")
			go e.keepaliveProbe(ctx, s, token)
		}
	}
}

// keepaliveProbe drives one keepalive challenge to completion.
func (e *Engine) keepaliveProbe(ctx context.Context, s *session.Session, token uint64) {
	defer s.EndEcho(session.EchoKeepalive, token)

	for i := 0; i < e.timings.KeepaliveAttempts; i++ {
		if err := s.Send(protocol.EchoChallengePacket()); err != nil {
			e.logger.Warn().Str("player", s.PlayerID()).Msg("keepalive send failed, disconnecting")
			e.FullDisconnect(ctx, s)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.timings.EchoInterval):
		}
		replied, valid := s.EchoReplied(session.EchoKeepalive, token)
		if !valid {
			return
		}
		if replied {
			e.logger.Debug().Str("player", s.PlayerID()).Int("attempt", i+1).Msg("keepalive reply")
			return
		}
	}
	e.logger.Warn().Str("player", s.PlayerID()).Msg("keepalive timed out, disconnecting")
	e.FullDisconnect(ctx, s)
}

// handleReadyCheck gates the match start on one player. Each seated
// player sends 0x03f0 from its gameplay connection; the engine probes
// that connection and records the outcome. Seats whose players have no
// gameplay session at all are declared disconnected immediately. Once
// every occupied seat is resolved the countdown fires.
func (e *Engine) handleReadyCheck(ctx context.Context, s *session.Session) {
	l, err := e.lobbyOf(ctx, s)
	if err != nil {
		e.logger.Warn().Str("remote", s.Key()).Msg("ready check outside a lobby")
		return
	}
	channelID, _ := s.Channel()
	playerID := s.PlayerID()

	go e.readyCheckProbe(ctx, s, channelID, l.Name, playerID)
}

// readyCheckProbe runs the echo challenge for one player and folds the
// result into the lobby's ready-check table.
func (e *Engine) readyCheckProbe(ctx context.Context, s *session.Session, channelID int64, lobbyName, playerID string) {
	token := s.BeginEcho(session.EchoReadyCheck)
	if token == 0 {
		return
	}
	defer s.EndEcho(session.EchoReadyCheck, token)

	alive := false
	for i := 0; i < e.timings.ReadyCheckAttempts; i++ {
		if replied, valid := s.EchoReplied(session.EchoReadyCheck, token); !valid {
			return
		} else if replied {
			alive = true
			break
		}
		if err := s.Send(protocol.EchoChallengePacket()); err != nil {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.timings.EchoInterval):
		}
	}
	if !alive {
		if replied, _ := s.EchoReplied(session.EchoReadyCheck, token); replied {
			alive = true
		}
	}

	e.resolveReadyCheck(ctx, channelID, lobbyName, playerID, alive)
}

// resolveReadyCheck records one player's outcome, sweeps seats with no
// live gameplay session, and starts the countdown when the whole lobby
// is resolved. The result write, the sweep and the completion tally
// share one lock acquisition so only a single resolver can claim the
// countdown.
func (e *Engine) resolveReadyCheck(ctx context.Context, channelID int64, lobbyName, playerID string, alive bool) {
	l, err := e.store.LobbyByName(ctx, channelID, lobbyName)
	if err != nil {
		return
	}
	key := lobbyKey(channelID, lobbyName)

	var droppedSeats []int

	e.readyMu.Lock()
	check, ok := e.readyChecks[key]
	if !ok {
		check = &readyCheck{results: make(map[string]bool)}
		e.readyChecks[key] = check
	}
	check.results[playerID] = alive

	// Seats whose players dropped both connections never answer a
	// challenge; mark them disconnected right away.
	for idx, seat := range l.Seats {
		if !seat.Occupied() || seat.PlayerID == playerID {
			continue
		}
		if _, connected := e.sessions.GameplayByPlayer(seat.PlayerID); connected {
			continue
		}
		if _, seen := check.results[seat.PlayerID]; !seen {
			check.results[seat.PlayerID] = false
			droppedSeats = append(droppedSeats, idx)
		}
	}

	resolved := 0
	occupied := 0
	for _, seat := range l.Seats {
		if !seat.Occupied() {
			continue
		}
		occupied++
		if _, ok := check.results[seat.PlayerID]; ok {
			resolved++
		}
	}
	claimed := occupied > 0 && resolved == occupied && !check.started
	if claimed {
		check.started = true
	}
	e.readyMu.Unlock()

	e.logger.Info().
		Str("player", playerID).
		Str("lobby", lobbyName).
		Bool("alive", alive).
		Msg("ready check resolved")

	for _, idx := range droppedSeats {
		e.logger.Warn().
			Str("player", l.Seats[idx].PlayerID).
			Int("seat", idx).
			Msg("ready check: no gameplay session, marked disconnected")
		e.broadcast(ctx, l, protocol.SeatDCPacket(byte(idx)).Bytes(), nil)
	}

	if claimed {
		e.startCountdown(ctx, channelID, l)
	}
}

// startCountdown tells every live player its own seat index and ticks
// the shared countdown from 4 to 0.
func (e *Engine) startCountdown(ctx context.Context, channelID int64, l *store.Lobby) {
	e.logger.Info().Str("lobby", l.Name).Msg("all seats resolved, counting down")

	// Each player receives its own index as a seat notice before the
	// countdown; the retail client uses it to finalize seat assignment.
	for idx, seat := range l.Seats {
		if !seat.Occupied() {
			continue
		}
		if s, ok := e.sessions.GameplayByPlayer(seat.PlayerID); ok {
			s.Send(protocol.SeatDCPacket(byte(idx)))
		}
	}

	go func() {
		timer := time.NewTimer(e.timings.CountdownInterval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		for n := 4; n >= 1; n-- {
			e.broadcast(ctx, l, protocol.CountdownPacket(byte(n)).Bytes(), nil)
			timer.Reset(e.timings.CountdownInterval)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
		e.broadcast(ctx, l, protocol.CountdownPacket(0).Bytes(), nil)

		e.readyMu.Lock()
		delete(e.readyChecks, lobbyKey(channelID, l.Name))
		e.readyMu.Unlock()
		for _, s := range e.sessions.Snapshot() {
			s.SetCountdown(false)
		}
		e.logger.Info().Str("lobby", l.Name).Msg("countdown finished")
	}()
}

// FullDisconnect tears a session down: it leaves the registry, the
// socket closes, and the player's seat is cleared with the appropriate
// notice to the rest of the lobby. Safe to call from the read loop and
// the watcher concurrently.
func (e *Engine) FullDisconnect(ctx context.Context, s *session.Session) {
	if s.Closed() {
		return
	}

	playerID := s.PlayerID()
	channelID, channelIndex := s.Channel()

	var (
		l       *store.Lobby
		seatIdx = -1
	)
	if playerID != "" && channelIndex >= 0 {
		if found, err := e.store.LobbyForPlayer(ctx, channelID, playerID); err == nil {
			l = found
			seatIdx = found.SeatOf(playerID)
		}
	}

	e.sessions.Unregister(s.Key())
	e.logger.Info().Str("remote", s.Key()).Str("player", playerID).Msg("session torn down")
	if playerID != "" {
		e.emit(ctx, events.EventPlayerDisconnect, events.PlayerPayload{
			PlayerID: playerID,
			Addr:     s.Key(),
		})
	}

	if sv := s.Server(); sv != nil && channelIndex >= 0 && !s.Gameplay() {
		if err := e.store.AdjustChannelCount(ctx, sv.ID, channelIndex, -1); err != nil {
			e.logger.Warn().Err(err).Msg("channel count update failed")
		}
	}

	if l == nil {
		return
	}

	name, deleted, err := e.store.RemovePlayer(ctx, channelID, playerID)
	if err != nil {
		return
	}
	if deleted {
		e.logger.Info().Str("lobby", name).Msg("lobby deleted after disconnect")
		e.emit(ctx, events.EventLobbyDeleted, events.LobbyPayload{ChannelID: channelID, Name: name})
		return
	}

	remaining, err := e.store.LobbyByName(ctx, channelID, name)
	if err != nil {
		return
	}
	switch remaining.Status {
	case protocol.LobbyStatusWaiting:
		e.broadcastRoomInfo(ctx, remaining)
	case protocol.LobbyStatusStarted:
		if seatIdx >= 0 {
			e.broadcast(ctx, remaining, protocol.SeatDCPacket(byte(seatIdx)).Bytes(), nil)
		}
	default:
		e.logger.Warn().Int("status", remaining.Status).Str("lobby", name).Msg("unexpected lobby status on disconnect")
	}
}
