package lobby

import (
	"context"

	"github.com/mysticnights/mnserver/internal/protocol"
	"github.com/mysticnights/mnserver/internal/session"
	"github.com/mysticnights/mnserver/internal/store"
)

// roomInfoFrame builds the room snapshot for l, resolving each seated
// player's rank.
func (e *Engine) roomInfoFrame(ctx context.Context, l *store.Lobby) protocol.Frame {
	room := protocol.RoomInfo{
		LeaderIndex: byte(l.LeaderIndex()),
		Name:        l.Name,
		MapID:       uint32(l.MapID),
		Status:      uint32(l.Status),
	}
	for i, seat := range l.Seats {
		if !seat.Occupied() {
			continue
		}
		// Seats whose rank cannot be resolved report rank 1, matching
		// the empty-seat default.
		rank := uint32(1)
		if p, err := e.store.Player(ctx, seat.PlayerID); err == nil {
			rank = uint32(p.Rank)
		}
		room.Seats[i] = protocol.RoomSeat{
			PlayerID:  seat.PlayerID,
			Character: seat.Character,
			Status:    seat.Ready,
			Rank:      rank,
		}
	}
	return protocol.RoomInfoPacket(room)
}

// broadcastRoomInfo sends the room snapshot to every seated player.
func (e *Engine) broadcastRoomInfo(ctx context.Context, l *store.Lobby) {
	e.broadcast(ctx, l, e.roomInfoFrame(ctx, l).Bytes(), nil)
}

// broadcast writes raw to the gameplay session of every player seated in
// l, skipping exclude when set. Targets are resolved before any write so
// no registry lock is held during socket I/O.
func (e *Engine) broadcast(ctx context.Context, l *store.Lobby, raw []byte, exclude *session.Session) {
	var targets []*session.Session
	for _, seat := range l.Seats {
		if !seat.Occupied() {
			continue
		}
		if s, ok := e.sessions.GameplayByPlayer(seat.PlayerID); ok {
			targets = append(targets, s)
		}
	}
	for _, s := range targets {
		if s == exclude {
			continue
		}
		if err := s.SendRaw(raw); err != nil {
			e.logger.Warn().
				Err(err).
				Str("remote", s.Key()).
				Str("lobby", l.Name).
				Msg("broadcast write failed")
		}
	}
}
