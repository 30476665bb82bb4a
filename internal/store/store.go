// Package store implements persistence for players, servers, channels and
// lobbies behind a narrow Store interface. Three backends exist: an
// in-memory store used by tests and small deployments, a SQLite store
// (the production default) and a PostgreSQL store.
package store

import (
	"context"
	"errors"
)

// Sentinel errors returned by Store implementations.
var (
	ErrNotFound    = errors.New("not found")
	ErrLobbyExists = errors.New("lobby name already exists in channel")
	ErrLobbyFull   = errors.New("lobby has no free seat")
	ErrChannelFull = errors.New("channel has no free lobby slot")
)

// Player is a registered account.
type Player struct {
	ID       string
	Password string
	Rank     int
}

// Server is one directory entry clients can pick from.
type Server struct {
	ID           int64
	Name         string
	Addr         string
	Availability int
}

// Channel is a numbered partition of a server bucketing lobbies.
type Channel struct {
	ID       int64
	ServerID int64
	Index    int
	Players  int
}

// Seat is one of a lobby's four player slots.
type Seat struct {
	PlayerID  string
	Character byte
	Ready     byte
}

// Occupied reports whether a player holds the seat.
func (s Seat) Occupied() bool { return s.PlayerID != "" }

// Lobby is a channel-scoped room with up to four seats.
type Lobby struct {
	ID        int64
	ChannelID int64
	Index     int
	Name      string
	Password  string
	Players   int
	Status    int
	MapID     int
	Leader    string
	Seats     [4]Seat
}

// Public reports whether the lobby has no password.
func (l *Lobby) Public() bool { return l.Password == "" }

// Occupied returns the number of occupied seats.
func (l *Lobby) Occupied() int {
	n := 0
	for _, s := range l.Seats {
		if s.Occupied() {
			n++
		}
	}
	return n
}

// SeatOf returns the seat index holding playerID, or -1.
func (l *Lobby) SeatOf(playerID string) int {
	for i, s := range l.Seats {
		if s.PlayerID == playerID {
			return i
		}
	}
	return -1
}

// LeaderIndex returns the seat index of the current leader, or 0.
func (l *Lobby) LeaderIndex() int {
	if i := l.SeatOf(l.Leader); i >= 0 {
		return i
	}
	return 0
}

// Store is the persistence boundary for the protocol engine. Seat
// mutation on one lobby is a critical section: SeatPlayer and
// RemovePlayer must be atomic under concurrent requests on the same
// lobby.
type Store interface {
	// Players
	Player(ctx context.Context, playerID string) (*Player, error)
	CreatePlayer(ctx context.Context, playerID, password string) error
	DeletePlayer(ctx context.Context, playerID string) error
	// AddRankPoints credits points, clamping the rank at max.
	AddRankPoints(ctx context.Context, playerID string, points, max int) error

	// Servers
	Servers(ctx context.Context) ([]Server, error)
	ServerByAddr(ctx context.Context, addr string) (*Server, error)

	// Channels
	ChannelsForServer(ctx context.Context, serverID int64) ([]Channel, error)
	ChannelID(ctx context.Context, serverID int64, index int) (int64, error)
	AdjustChannelCount(ctx context.Context, serverID int64, index, delta int) error

	// Lobbies
	LobbiesForChannel(ctx context.Context, channelID int64) ([]Lobby, error)
	LobbyByName(ctx context.Context, channelID int64, name string) (*Lobby, error)
	LobbyForPlayer(ctx context.Context, channelID int64, playerID string) (*Lobby, error)

	// CreateLobby allocates the lowest free slot index, seats the creator
	// with character 1 and not-ready status, and makes them leader.
	CreateLobby(ctx context.Context, channelID int64, name, password, creatorID string) (*Lobby, error)

	// SeatPlayer seats the player in the first free slot with the lowest
	// character id unused in the lobby, atomically.
	SeatPlayer(ctx context.Context, channelID int64, name, playerID string) (*Lobby, error)

	// RemovePlayer clears the player's seat, reassigns the leader to the
	// lowest-indexed remaining occupant if the leader left, and deletes
	// the lobby when it becomes empty, all in one atomic operation. It
	// returns the lobby name and whether the lobby was deleted.
	RemovePlayer(ctx context.Context, channelID int64, playerID string) (string, bool, error)

	// ToggleReady flips the player's seat status and returns the new value.
	ToggleReady(ctx context.Context, channelID int64, name, playerID string) (int, error)
	ClearReady(ctx context.Context, channelID int64, name, playerID string) error
	SetCharacter(ctx context.Context, channelID int64, playerID string, character byte) error
	SetMap(ctx context.Context, channelID int64, name string, mapID int) error
	SetStatus(ctx context.Context, channelID int64, name string, status int) error

	// PruneLobbies deletes every lobby whose name does not contain keep,
	// used at startup to clear rooms orphaned by a previous run.
	PruneLobbies(ctx context.Context, keep string) (int, error)

	Close() error
}

// lowestFreeCharacter picks the lowest character id in 1..8 not taken by
// an occupied seat. When every id is taken it falls back to 1.
func lowestFreeCharacter(seats [4]Seat) byte {
	taken := [9]bool{}
	for _, s := range seats {
		if s.Occupied() && s.Character >= 1 && s.Character <= 8 {
			taken[s.Character] = true
		}
	}
	for c := byte(1); c <= 8; c++ {
		if !taken[c] {
			return c
		}
	}
	return 1
}
