package lobby

import (
	"context"
	"errors"
	"math/rand"

	"github.com/mysticnights/mnserver/internal/events"
	"github.com/mysticnights/mnserver/internal/protocol"
	"github.com/mysticnights/mnserver/internal/session"
	"github.com/mysticnights/mnserver/internal/store"
)

func (e *Engine) handleLogin(ctx context.Context, s *session.Session, m protocol.Login) {
	p, err := e.store.Player(ctx, m.PlayerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		e.logger.Info().Str("player", m.PlayerID).Msg("login rejected: unknown player")
		s.Send(protocol.AckFailure(protocol.PktLoginAck, protocol.CodeUnknownPlayer))
	case err != nil:
		e.logger.Error().Err(err).Str("player", m.PlayerID).Msg("login lookup failed")
		s.Send(protocol.AckFailure(protocol.PktLoginAck, protocol.CodeDatabaseError))
	case p.Password != m.Password:
		e.logger.Info().Str("player", m.PlayerID).Msg("login rejected: wrong password")
		s.Send(protocol.AckFailure(protocol.PktLoginAck, protocol.CodeWrongPassword))
	default:
		s.BindPlayer(m.PlayerID)
		e.logger.Info().Str("player", m.PlayerID).Msg("login ok")
		s.Send(protocol.AckSuccess(protocol.PktLoginAck, 1))
		e.emit(ctx, events.EventPlayerLogin, events.PlayerPayload{
			PlayerID: m.PlayerID,
			Addr:     s.Key(),
		})
	}
}

func (e *Engine) handleAccountCreate(ctx context.Context, s *session.Session, m protocol.AccountCreate) {
	if _, err := e.store.Player(ctx, m.PlayerID); err == nil {
		s.Send(protocol.AckFailure(protocol.PktAccountCreateAck, protocol.CodeAccountExists))
		return
	}
	if err := e.store.CreatePlayer(ctx, m.PlayerID, m.Password); err != nil {
		e.logger.Error().Err(err).Str("player", m.PlayerID).Msg("account create failed")
		s.Send(protocol.AckFailure(protocol.PktAccountCreateAck, protocol.CodeDatabaseError))
		return
	}
	e.logger.Info().Str("player", m.PlayerID).Msg("account created")
	s.Send(protocol.AckSuccess(protocol.PktAccountCreateAck, 1))
}

func (e *Engine) handleAccountDelete(ctx context.Context, s *session.Session, m protocol.AccountDelete) {
	p, err := e.store.Player(ctx, m.PlayerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.Send(protocol.AckFailure(protocol.PktAccountDeleteAck, protocol.CodeUnknownPlayer))
		return
	case err != nil:
		s.Send(protocol.AckFailure(protocol.PktAccountDeleteAck, protocol.CodeDatabaseError))
		return
	case p.Password != m.Password:
		s.Send(protocol.AckFailure(protocol.PktAccountDeleteAck, protocol.CodeWrongPassword))
		return
	}
	if err := e.store.DeletePlayer(ctx, m.PlayerID); err != nil {
		e.logger.Error().Err(err).Str("player", m.PlayerID).Msg("account delete failed")
		s.Send(protocol.AckFailure(protocol.PktAccountDeleteAck, protocol.CodeDatabaseError))
		return
	}
	e.logger.Info().Str("player", m.PlayerID).Msg("account deleted")
	s.Send(protocol.AckSuccess(protocol.PktAccountDeleteAck, 1))
}

func (e *Engine) handleChannelList(ctx context.Context, s *session.Session) {
	sv := s.Server()
	if sv == nil {
		e.logger.Warn().Str("remote", s.Key()).Msg("channel list without server binding")
		return
	}
	channels, err := e.store.ChannelsForServer(ctx, sv.ID)
	if err != nil {
		e.logger.Error().Err(err).Msg("channel list failed")
		return
	}
	entries := make([]protocol.ChannelEntry, 0, len(channels))
	for _, ch := range channels {
		entries = append(entries, protocol.ChannelEntry{
			Index:   uint32(ch.Index),
			Players: uint32(ch.Players),
		})
	}
	s.Send(protocol.ChannelListPacket(entries))
}

func (e *Engine) handleChannelJoin(ctx context.Context, s *session.Session, m protocol.ChannelJoin) {
	sv := s.Server()
	if sv == nil {
		e.logger.Warn().Str("remote", s.Key()).Msg("channel join without server binding")
		s.Send(protocol.AckFailure(protocol.PktChannelJoinAck, protocol.CodeInvalidParam))
		return
	}
	channelID, err := e.store.ChannelID(ctx, sv.ID, int(m.ChannelIndex))
	if err != nil {
		e.logger.Warn().Err(err).Uint16("channel", m.ChannelIndex).Msg("channel join: unknown channel")
		s.Send(protocol.AckFailure(protocol.PktChannelJoinAck, protocol.CodeInvalidParam))
		return
	}
	s.BindPlayer(m.PlayerID)
	s.BindChannel(channelID, int(m.ChannelIndex))
	if err := e.store.AdjustChannelCount(ctx, sv.ID, int(m.ChannelIndex), 1); err != nil {
		e.logger.Warn().Err(err).Msg("channel count update failed")
	}
	e.logger.Info().
		Str("player", m.PlayerID).
		Uint16("channel", m.ChannelIndex).
		Msg("channel joined")
	s.Send(protocol.AckSuccess(protocol.PktChannelJoinAck, 1))
}

func (e *Engine) handleLobbyCreate(ctx context.Context, s *session.Session, m protocol.LobbyCreate) {
	channelID, err := e.channelOf(ctx, s)
	if err != nil {
		s.Send(protocol.AckFailure(protocol.PktLobbyCreateAck, protocol.CodeInvalidParam))
		return
	}
	if _, err := e.store.Player(ctx, m.PlayerID); err != nil {
		s.Send(protocol.AckFailure(protocol.PktLobbyCreateAck, protocol.CodeInvalidParam))
		return
	}

	l, err := e.store.CreateLobby(ctx, channelID, m.Name, m.Password, m.PlayerID)
	switch {
	case errors.Is(err, store.ErrLobbyExists):
		s.Send(protocol.AckFailure(protocol.PktLobbyCreateAck, protocol.CodeLobbyExists))
		return
	case errors.Is(err, store.ErrChannelFull):
		s.Send(protocol.AckFailure(protocol.PktLobbyCreateAck, protocol.CodeNoLobby))
		return
	case err != nil:
		e.logger.Error().Err(err).Str("lobby", m.Name).Msg("lobby create failed")
		s.Send(protocol.AckFailure(protocol.PktLobbyCreateAck, protocol.CodeDatabaseError))
		return
	}

	e.logger.Info().
		Str("player", m.PlayerID).
		Str("lobby", m.Name).
		Int("slot", l.Index).
		Msg("lobby created")
	s.Send(protocol.AckSuccess(protocol.PktLobbyCreateAck, 1))
	s.Send(e.roomInfoFrame(ctx, l))
	e.emit(ctx, events.EventLobbyCreated, events.LobbyPayload{
		ChannelID: channelID,
		Name:      m.Name,
		PlayerID:  m.PlayerID,
	})
}

func (e *Engine) handleLobbyJoin(ctx context.Context, s *session.Session, m protocol.LobbyJoin) {
	// A quick join already answered with the target slot; the client
	// still sends one follow-up join that must not be acked twice.
	if s.TakeQuickJoinPending() {
		e.logger.Debug().Str("player", m.PlayerID).Msg("swallowing join after quick join")
		return
	}

	channelID, err := e.channelOf(ctx, s)
	if err != nil {
		s.Send(protocol.AckFailure(protocol.PktLobbyJoinAck, protocol.CodeInvalidParam))
		return
	}
	if _, err := e.store.Player(ctx, m.PlayerID); err != nil {
		s.Send(protocol.AckFailure(protocol.PktLobbyJoinAck, protocol.CodeInvalidParam))
		return
	}

	l, err := e.store.LobbyByName(ctx, channelID, m.Name)
	if errors.Is(err, store.ErrNotFound) {
		s.Send(protocol.AckFailure(protocol.PktLobbyJoinAck, protocol.CodeLobbyNotFound))
		return
	}
	if err != nil {
		s.Send(protocol.AckFailure(protocol.PktLobbyJoinAck, protocol.CodeDatabaseError))
		return
	}

	switch l.Status {
	case protocol.LobbyStatusWaiting:
		// fall through to seating
	case protocol.LobbyStatusStarted:
		s.Send(protocol.AckFailure(protocol.PktLobbyJoinAck, protocol.CodeGameStarted))
		return
	default:
		s.Send(protocol.AckFailure(protocol.PktLobbyJoinAck, protocol.CodeDatabaseError))
		return
	}

	if l.SeatOf(m.PlayerID) < 0 {
		l, err = e.store.SeatPlayer(ctx, channelID, m.Name, m.PlayerID)
		if errors.Is(err, store.ErrLobbyFull) {
			s.Send(protocol.AckFailure(protocol.PktLobbyJoinAck, protocol.CodeLobbyFull))
			return
		}
		if err != nil {
			e.logger.Error().Err(err).Str("lobby", m.Name).Msg("lobby join failed")
			s.Send(protocol.AckFailure(protocol.PktLobbyJoinAck, protocol.CodeDatabaseError))
			return
		}
	}

	e.logger.Info().
		Str("player", m.PlayerID).
		Str("lobby", m.Name).
		Int("slot", l.Index).
		Msg("lobby joined")
	s.Send(protocol.AckSuccess(protocol.PktLobbyJoinAck, uint16(l.Index)))
	e.broadcastRoomInfo(ctx, l)
}

func (e *Engine) handleQuickJoin(ctx context.Context, s *session.Session, m protocol.QuickJoin) {
	s.SetQuickJoinPending()

	channelID, err := e.channelOf(ctx, s)
	if err != nil {
		s.Send(protocol.AckFailure(protocol.PktQuickJoinAck, protocol.CodeInvalidParam))
		return
	}
	lobbies, err := e.store.LobbiesForChannel(ctx, channelID)
	if err != nil {
		s.Send(protocol.AckFailure(protocol.PktQuickJoinAck, protocol.CodeInvalidParam))
		return
	}

	var available []store.Lobby
	for _, l := range lobbies {
		if l.Public() && l.Players < protocol.MaxSeats && l.Status == protocol.LobbyStatusWaiting {
			available = append(available, l)
		}
	}
	if len(available) == 0 {
		e.logger.Info().Str("player", m.PlayerID).Msg("quick join: no open lobby")
		s.Send(protocol.AckFailure(protocol.PktQuickJoinAck, protocol.CodeNoLobby))
		return
	}

	pick := available[rand.Intn(len(available))]
	e.logger.Info().
		Str("player", m.PlayerID).
		Str("lobby", pick.Name).
		Int("slot", pick.Index).
		Msg("quick join matched")
	s.Send(protocol.AckSuccess(protocol.PktQuickJoinAck, uint16(pick.Index)))
}

func (e *Engine) handleGameStart(ctx context.Context, s *session.Session, m protocol.GameStart) {
	s.SetCountdown(true)

	channelID, err := e.channelOf(ctx, s)
	if err != nil {
		return
	}
	l, err := e.store.LobbyForPlayer(ctx, channelID, m.PlayerID)
	if err != nil {
		e.logger.Warn().Err(err).Str("player", m.PlayerID).Msg("game start: no lobby")
		return
	}
	if err := e.store.SetStatus(ctx, channelID, l.Name, protocol.LobbyStatusStarted); err != nil {
		e.logger.Error().Err(err).Str("lobby", l.Name).Msg("game start: status update failed")
		return
	}

	var params protocol.StartParams
	for i, pos := range rand.Perm(protocol.MaxStartPositions)[:protocol.MaxSeats] {
		params.Positions[i] = byte(pos)
	}
	params.HiddenSeat = uint16(rand.Intn(protocol.MaxSeats))
	params.Gender = uint16(rand.Intn(2))
	params.MapID = uint16(1 + rand.Intn(4))

	e.logger.Info().
		Str("lobby", l.Name).
		Uint16("hidden_seat", params.HiddenSeat).
		Uint16("map", params.MapID).
		Msg("match starting")
	e.broadcast(ctx, l, protocol.GameStartPacket(params).Bytes(), nil)
	e.emit(ctx, events.EventGameStarted, events.GameStartedPayload{
		ChannelID: channelID,
		Name:      l.Name,
		MapID:     params.MapID,
	})
}

func (e *Engine) handleReadyToggle(ctx context.Context, s *session.Session, m protocol.ReadyToggle) {
	s.SetCountdown(true)

	channelID, err := e.channelOf(ctx, s)
	if err != nil {
		s.Send(protocol.AckFailure(protocol.PktReadyAck, protocol.CodeInvalidParam))
		return
	}
	l, err := e.store.LobbyForPlayer(ctx, channelID, m.PlayerID)
	if err != nil {
		s.Send(protocol.AckFailure(protocol.PktReadyAck, protocol.CodeInvalidParam))
		return
	}
	status, err := e.store.ToggleReady(ctx, channelID, l.Name, m.PlayerID)
	if err != nil {
		s.Send(protocol.AckFailure(protocol.PktReadyAck, protocol.CodeDatabaseError))
		return
	}
	e.logger.Debug().Str("player", m.PlayerID).Int("ready", status).Msg("ready toggled")
	s.Send(protocol.AckSuccess(protocol.PktReadyAck, 1))

	if l, err = e.store.LobbyByName(ctx, channelID, l.Name); err == nil {
		e.broadcastRoomInfo(ctx, l)
	}
}

func (e *Engine) handleLobbyLeave(ctx context.Context, s *session.Session, m protocol.LobbyLeave) {
	channelID, err := e.channelOf(ctx, s)
	if err != nil {
		s.Send(protocol.AckSuccess(protocol.PktLobbyLeaveAck, 1))
		return
	}
	name, deleted, err := e.store.RemovePlayer(ctx, channelID, m.PlayerID)
	s.Send(protocol.AckSuccess(protocol.PktLobbyLeaveAck, 1))
	if err != nil {
		e.logger.Warn().Err(err).Str("player", m.PlayerID).Msg("lobby leave: not seated")
		return
	}
	if deleted {
		e.logger.Info().Str("lobby", name).Msg("lobby deleted after last player left")
		e.emit(ctx, events.EventLobbyDeleted, events.LobbyPayload{ChannelID: channelID, Name: name})
		return
	}
	if l, err := e.store.LobbyByName(ctx, channelID, name); err == nil {
		e.broadcastRoomInfo(ctx, l)
	}
}

func (e *Engine) handleKick(ctx context.Context, s *session.Session, m protocol.Kick) {
	l, err := e.lobbyOf(ctx, s)
	if err != nil {
		return
	}
	channelID, _ := s.Channel()

	kickAck := protocol.AckSuccess(protocol.PktKickAck, 1)
	if m.SeatIndex < protocol.MaxSeats {
		kicked := l.Seats[m.SeatIndex].PlayerID
		if kicked != "" {
			// Both the kicked client and the requesting leader receive
			// the ack; the client needs both to close the room screens.
			if target, ok := e.sessions.GameplayByPlayer(kicked); ok {
				target.Send(kickAck)
				s.Send(kickAck)
			}
			if _, _, err := e.store.RemovePlayer(ctx, channelID, kicked); err != nil {
				e.logger.Warn().Err(err).Str("player", kicked).Msg("kick: removal failed")
			} else {
				e.logger.Info().
					Str("player", kicked).
					Str("lobby", l.Name).
					Uint32("seat", m.SeatIndex).
					Msg("player kicked")
			}
		} else {
			e.logger.Warn().Uint32("seat", m.SeatIndex).Str("lobby", l.Name).Msg("kick: empty seat")
		}
	} else {
		e.logger.Warn().Uint32("seat", m.SeatIndex).Str("lobby", l.Name).Msg("kick: seat out of range")
	}

	if l, err := e.store.LobbyByName(ctx, channelID, l.Name); err == nil {
		e.broadcastRoomInfo(ctx, l)
	}
}

func (e *Engine) handleCharacterInfo(ctx context.Context, s *session.Session, m protocol.CharacterInfo) {
	channelID, err := e.channelOf(ctx, s)
	if err != nil {
		return
	}
	seat := protocol.RoomSeat{PlayerID: m.PlayerID}
	if l, err := e.store.LobbyForPlayer(ctx, channelID, m.PlayerID); err == nil {
		if i := l.SeatOf(m.PlayerID); i >= 0 {
			seat.Character = l.Seats[i].Character
			seat.Status = l.Seats[i].Ready
		}
	}
	p, err := e.store.Player(ctx, m.PlayerID)
	if err != nil {
		e.logger.Warn().Err(err).Str("player", m.PlayerID).Msg("character info: unknown player")
		return
	}
	seat.Rank = uint32(p.Rank)
	s.Send(protocol.CharacterInfoPacket(seat))
}

func (e *Engine) handleCharacterSelect(ctx context.Context, s *session.Session, m protocol.CharacterSelect) {
	playerID := s.PlayerID()
	channelID, err := e.channelOf(ctx, s)
	if err != nil || playerID == "" {
		return
	}
	if err := e.store.SetCharacter(ctx, channelID, playerID, m.Character); err != nil {
		e.logger.Warn().Err(err).Str("player", playerID).Msg("character select failed")
		return
	}
	s.Send(protocol.AckSuccess(protocol.PktCharacterSelAck, 1))
	if l, err := e.store.LobbyForPlayer(ctx, channelID, playerID); err == nil {
		e.broadcastRoomInfo(ctx, l)
	}
}

func (e *Engine) handleMapSelect(ctx context.Context, s *session.Session, m protocol.MapSelect) {
	playerID := s.PlayerID()
	channelID, err := e.channelOf(ctx, s)
	if err != nil || playerID == "" {
		return
	}
	l, err := e.store.LobbyForPlayer(ctx, channelID, playerID)
	if err != nil {
		return
	}
	if err := e.store.SetMap(ctx, channelID, l.Name, int(m.MapID)); err != nil {
		e.logger.Warn().Err(err).Str("lobby", l.Name).Msg("map select failed")
		return
	}
	s.Send(protocol.AckSuccess(protocol.PktMapSelectAck, 1))
	if l, err := e.store.LobbyByName(ctx, channelID, l.Name); err == nil {
		e.broadcastRoomInfo(ctx, l)
	}
}

func (e *Engine) handleServerList(ctx context.Context, s *session.Session) {
	servers, err := e.store.Servers(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("server list failed")
		return
	}
	entries := make([]protocol.ServerEntry, 0, len(servers))
	for _, sv := range servers {
		entries = append(entries, protocol.ServerEntry{
			Name:         sv.Name,
			Addr:         sv.Addr,
			Availability: int32(sv.Availability),
		})
	}
	s.Send(protocol.ServerListPacket(entries))
}

func (e *Engine) handleLobbyList(ctx context.Context, s *session.Session) {
	channelID, err := e.channelOf(ctx, s)
	if err != nil {
		e.logger.Warn().Str("remote", s.Key()).Msg("lobby list without channel binding")
		return
	}
	lobbies, err := e.store.LobbiesForChannel(ctx, channelID)
	if err != nil {
		e.logger.Error().Err(err).Msg("lobby list failed")
		return
	}
	entries := make([]protocol.LobbyEntry, 0, len(lobbies))
	for _, l := range lobbies {
		entries = append(entries, protocol.LobbyEntry{
			Index:    uint32(l.Index),
			Players:  uint32(l.Players),
			Name:     l.Name,
			Password: l.Password,
			Status:   byte(l.Status),
		})
	}
	s.Send(protocol.LobbyListPacket(entries))
}

func (e *Engine) handleDisconnectNotice(ctx context.Context, s *session.Session, m protocol.Disconnect) {
	l, err := e.lobbyOf(ctx, s)
	if err != nil {
		e.logger.Warn().Str("remote", s.Key()).Msg("disconnect notice outside a lobby")
		return
	}
	channelID, _ := s.Channel()
	playerID := s.PlayerID()

	e.broadcast(ctx, l, m.Raw.Bytes(), nil)
	name, deleted, err := e.store.RemovePlayer(ctx, channelID, playerID)
	if err != nil {
		return
	}
	if deleted {
		e.logger.Info().Str("lobby", name).Msg("lobby deleted after disconnect")
		return
	}
	if l, err := e.store.LobbyByName(ctx, channelID, name); err == nil {
		e.broadcastRoomInfo(ctx, l)
	}
}

func (e *Engine) handleGameOver(ctx context.Context, s *session.Session, m protocol.GameOver) {
	channelID, err := e.channelOf(ctx, s)
	if err != nil {
		return
	}
	l, err := e.store.LobbyForPlayer(ctx, channelID, m.PlayerID)
	if err != nil {
		e.logger.Warn().Str("player", m.PlayerID).Msg("game over: no lobby")
		return
	}
	if err := e.store.SetStatus(ctx, channelID, l.Name, protocol.LobbyStatusWaiting); err != nil {
		e.logger.Error().Err(err).Str("lobby", l.Name).Msg("game over: status reset failed")
	}
	if err := e.store.ClearReady(ctx, channelID, l.Name, m.PlayerID); err != nil {
		e.logger.Warn().Err(err).Str("player", m.PlayerID).Msg("game over: ready reset failed")
	}
	if l, err := e.store.LobbyByName(ctx, channelID, l.Name); err == nil {
		e.broadcastRoomInfo(ctx, l)
	}
	e.emit(ctx, events.EventGameFinished, events.LobbyPayload{
		ChannelID: channelID,
		Name:      l.Name,
		PlayerID:  m.PlayerID,
	})
}

func (e *Engine) handleGameResult(ctx context.Context, s *session.Session, m protocol.GameResult) {
	points := 2
	if m.Victory {
		points = 5
	}
	if err := e.store.AddRankPoints(ctx, m.PlayerID, points, protocol.MaxRank); err != nil {
		e.logger.Error().Err(err).Str("player", m.PlayerID).Msg("rank credit failed")
		return
	}
	e.logger.Info().
		Str("player", m.PlayerID).
		Bool("victory", m.Victory).
		Int("points", points).
		Msg("rank credited")
}

func (e *Engine) handleMovement(ctx context.Context, s *session.Session, m protocol.Movement) {
	e.logger.Trace().
		Str("player", s.PlayerID()).
		Float32("x", m.X).
		Float32("y", m.Y).
		Uint32("seat", m.SeatIndex).
		Msg("movement")
	l, err := e.lobbyOf(ctx, s)
	if err != nil {
		e.logger.Warn().Str("remote", s.Key()).Msg("movement outside a lobby")
		return
	}
	e.broadcast(ctx, l, m.Raw.Bytes(), nil)
}

func (e *Engine) handleGameplay(ctx context.Context, s *session.Session, m protocol.Gameplay) {
	l, err := e.lobbyOf(ctx, s)
	if err != nil {
		e.logger.Warn().
			Str("remote", s.Key()).
			Uint16("packet", m.Raw.ID).
			Msg("gameplay event outside a lobby")
		return
	}
	// Proximity detection must not bounce back to its own sender; every
	// other in-match event is mirrored to the whole lobby.
	if m.Raw.ID == protocol.PktProximity {
		e.broadcast(ctx, l, m.Raw.Bytes(), s)
		return
	}
	e.broadcast(ctx, l, m.Raw.Bytes(), nil)
}
