package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-memory Store. One mutex serializes every operation,
// which also makes the seat mutations trivially atomic.
type Memory struct {
	mu       sync.Mutex
	players  map[string]*Player
	servers  []Server
	channels map[int64]*Channel
	lobbies  map[int64]*Lobby
	nextID   int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		players:  make(map[string]*Player),
		channels: make(map[int64]*Channel),
		lobbies:  make(map[int64]*Lobby),
		nextID:   1,
	}
}

// AddServer registers a server and its twelve channels. Intended for
// seeding tests and memory-backed deployments.
func (m *Memory) AddServer(name, addr string, availability int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.servers = append(m.servers, Server{ID: id, Name: name, Addr: addr, Availability: availability})
	for i := 0; i < 12; i++ {
		chID := m.nextID
		m.nextID++
		m.channels[chID] = &Channel{ID: chID, ServerID: id, Index: i}
	}
	return id
}

func (m *Memory) Player(_ context.Context, playerID string) (*Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) CreatePlayer(_ context.Context, playerID, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[playerID] = &Player{ID: playerID, Password: password, Rank: 1}
	return nil
}

func (m *Memory) DeletePlayer(_ context.Context, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.players, playerID)
	return nil
}

func (m *Memory) AddRankPoints(_ context.Context, playerID string, points, max int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerID]
	if !ok {
		return ErrNotFound
	}
	p.Rank += points
	if p.Rank > max {
		p.Rank = max
	}
	return nil
}

func (m *Memory) Servers(_ context.Context) ([]Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Server, len(m.servers))
	copy(out, m.servers)
	return out, nil
}

func (m *Memory) ServerByAddr(_ context.Context, addr string) (*Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.servers {
		if s.Addr == addr {
			cp := s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ChannelsForServer(_ context.Context, serverID int64) ([]Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Channel
	for _, ch := range m.channels {
		if ch.ServerID == serverID {
			out = append(out, *ch)
		}
	}
	return out, nil
}

func (m *Memory) ChannelID(_ context.Context, serverID int64, index int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.channels {
		if ch.ServerID == serverID && ch.Index == index {
			return ch.ID, nil
		}
	}
	return 0, ErrNotFound
}

func (m *Memory) AdjustChannelCount(_ context.Context, serverID int64, index, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.channels {
		if ch.ServerID == serverID && ch.Index == index {
			ch.Players += delta
			if ch.Players < 0 {
				ch.Players = 0
			}
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) LobbiesForChannel(_ context.Context, channelID int64) ([]Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Lobby
	for _, l := range m.lobbies {
		if l.ChannelID == channelID {
			out = append(out, *l)
		}
	}
	sortLobbies(out)
	return out, nil
}

func (m *Memory) LobbyByName(_ context.Context, channelID int64, name string) (*Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.findLobby(channelID, name)
	if l == nil {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *Memory) LobbyForPlayer(_ context.Context, channelID int64, playerID string) (*Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lobbies {
		if l.ChannelID == channelID && l.SeatOf(playerID) >= 0 {
			cp := *l
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateLobby(_ context.Context, channelID int64, name, password, creatorID string) (*Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findLobby(channelID, name) != nil {
		return nil, ErrLobbyExists
	}
	used := make(map[int]bool)
	for _, l := range m.lobbies {
		if l.ChannelID == channelID {
			used[l.Index] = true
		}
	}
	idx := -1
	for i := 0; i < 20; i++ {
		if !used[i] {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrChannelFull
	}

	id := m.nextID
	m.nextID++
	l := &Lobby{
		ID:        id,
		ChannelID: channelID,
		Index:     idx,
		Name:      name,
		Password:  password,
		Players:   1,
		Status:    1,
		MapID:     1,
		Leader:    creatorID,
	}
	l.Seats[0] = Seat{PlayerID: creatorID, Character: 1, Ready: 0}
	m.lobbies[id] = l
	cp := *l
	return &cp, nil
}

func (m *Memory) SeatPlayer(_ context.Context, channelID int64, name, playerID string) (*Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.findLobby(channelID, name)
	if l == nil {
		return nil, ErrNotFound
	}
	for i := range l.Seats {
		if !l.Seats[i].Occupied() {
			l.Seats[i] = Seat{
				PlayerID:  playerID,
				Character: lowestFreeCharacter(l.Seats),
				Ready:     0,
			}
			l.Players++
			cp := *l
			return &cp, nil
		}
	}
	return nil, ErrLobbyFull
}

func (m *Memory) RemovePlayer(_ context.Context, channelID int64, playerID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, l := range m.lobbies {
		if l.ChannelID != channelID {
			continue
		}
		idx := l.SeatOf(playerID)
		if idx < 0 {
			continue
		}
		l.Seats[idx] = Seat{}
		if l.Players > 0 {
			l.Players--
		}
		if l.Occupied() == 0 {
			delete(m.lobbies, id)
			return l.Name, true, nil
		}
		if l.Leader == playerID || l.SeatOf(l.Leader) < 0 {
			for _, s := range l.Seats {
				if s.Occupied() {
					l.Leader = s.PlayerID
					break
				}
			}
		}
		return l.Name, false, nil
	}
	return "", false, ErrNotFound
}

func (m *Memory) ToggleReady(_ context.Context, channelID int64, name, playerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.findLobby(channelID, name)
	if l == nil {
		return 0, ErrNotFound
	}
	idx := l.SeatOf(playerID)
	if idx < 0 {
		return 0, ErrNotFound
	}
	if l.Seats[idx].Ready == 1 {
		l.Seats[idx].Ready = 0
	} else {
		l.Seats[idx].Ready = 1
	}
	return int(l.Seats[idx].Ready), nil
}

func (m *Memory) ClearReady(_ context.Context, channelID int64, name, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.findLobby(channelID, name)
	if l == nil {
		return ErrNotFound
	}
	if idx := l.SeatOf(playerID); idx >= 0 {
		l.Seats[idx].Ready = 0
	}
	return nil
}

func (m *Memory) SetCharacter(_ context.Context, channelID int64, playerID string, character byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.lobbies {
		if l.ChannelID != channelID {
			continue
		}
		if idx := l.SeatOf(playerID); idx >= 0 {
			l.Seats[idx].Character = character
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) SetMap(_ context.Context, channelID int64, name string, mapID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.findLobby(channelID, name)
	if l == nil {
		return ErrNotFound
	}
	l.MapID = mapID
	return nil
}

func (m *Memory) SetStatus(_ context.Context, channelID int64, name string, status int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.findLobby(channelID, name)
	if l == nil {
		return ErrNotFound
	}
	l.Status = status
	return nil
}

func (m *Memory) PruneLobbies(_ context.Context, keep string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, l := range m.lobbies {
		if keep == "" || !strings.Contains(l.Name, keep) {
			delete(m.lobbies, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }

// findLobby must be called with the mutex held.
func (m *Memory) findLobby(channelID int64, name string) *Lobby {
	for _, l := range m.lobbies {
		if l.ChannelID == channelID && l.Name == name {
			return l
		}
	}
	return nil
}

func sortLobbies(ls []Lobby) {
	sort.Slice(ls, func(i, j int) bool { return ls[i].Index < ls[j].Index })
}
