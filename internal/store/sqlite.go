package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// sqliteSchema mirrors the original server database: seats live in four
// column groups on the lobbies row, which keeps every seat mutation a
// single-row update.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS servers (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    name          TEXT NOT NULL,
    ip_address    TEXT NOT NULL UNIQUE,
    player_count  INTEGER NOT NULL DEFAULT 0,
    availability  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS channels (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    server_id     INTEGER NOT NULL REFERENCES servers(id),
    channel_index INTEGER NOT NULL,
    player_count  INTEGER NOT NULL DEFAULT 0,
    UNIQUE (server_id, channel_index)
);

CREATE TABLE IF NOT EXISTS players (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    player_id  TEXT NOT NULL UNIQUE,
    password   TEXT NOT NULL,
    rank       INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS lobbies (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    channel_id     INTEGER NOT NULL REFERENCES channels(id),
    idx_in_channel INTEGER NOT NULL,
    name           TEXT NOT NULL,
    password       TEXT NOT NULL DEFAULT '',
    player_count   INTEGER NOT NULL DEFAULT 0,
    status         INTEGER NOT NULL DEFAULT 1,
    map            INTEGER NOT NULL DEFAULT 1,
    leader         TEXT,
    player1_id TEXT, player1_character INTEGER, player1_status INTEGER,
    player2_id TEXT, player2_character INTEGER, player2_status INTEGER,
    player3_id TEXT, player3_character INTEGER, player3_status INTEGER,
    player4_id TEXT, player4_character INTEGER, player4_status INTEGER,
    UNIQUE (channel_id, name),
    UNIQUE (channel_id, idx_in_channel)
);
`

// SQLite is the Store backed by a local SQLite database.
type SQLite struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLite opens or creates the database at path, creating the schema
// and seeding the server directory when empty.
func OpenSQLite(path, serverName, serverAddr string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Warn().Err(err).Msg("failed to enable WAL mode")
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		log.Warn().Err(err).Msg("failed to enable foreign keys")
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.seed(serverName, serverAddr); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("database opened")
	return s, nil
}

// seed inserts the server row and its twelve channels on first run.
func (s *SQLite) seed(name, addr string) error {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM servers").Scan(&n); err != nil {
		return fmt.Errorf("failed to count servers: %w", err)
	}
	if n > 0 {
		return nil
	}
	res, err := s.db.Exec(
		"INSERT INTO servers (name, ip_address, availability) VALUES (?, ?, 0)",
		name, addr,
	)
	if err != nil {
		return fmt.Errorf("failed to seed server: %w", err)
	}
	serverID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read seeded server id: %w", err)
	}
	for i := 0; i < 12; i++ {
		if _, err := s.db.Exec(
			"INSERT INTO channels (server_id, channel_index) VALUES (?, ?)",
			serverID, i,
		); err != nil {
			return fmt.Errorf("failed to seed channel %d: %w", i, err)
		}
	}
	log.Info().Str("server", name).Str("addr", addr).Msg("seeded server directory")
	return nil
}

// transaction executes fn within a transaction, serialized behind the
// write mutex.
func (s *SQLite) transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Player(ctx context.Context, playerID string) (*Player, error) {
	var p Player
	err := s.db.QueryRowContext(ctx,
		"SELECT player_id, password, rank FROM players WHERE player_id = ?",
		playerID,
	).Scan(&p.ID, &p.Password, &p.Rank)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load player: %w", err)
	}
	return &p, nil
}

func (s *SQLite) CreatePlayer(ctx context.Context, playerID, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO players (player_id, password, rank) VALUES (?, ?, 1)",
		playerID, password,
	)
	if err != nil {
		return fmt.Errorf("failed to create player: %w", err)
	}
	return nil
}

func (s *SQLite) DeletePlayer(ctx context.Context, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM players WHERE player_id = ?", playerID); err != nil {
		return fmt.Errorf("failed to delete player: %w", err)
	}
	return nil
}

func (s *SQLite) AddRankPoints(ctx context.Context, playerID string, points, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"UPDATE players SET rank = MIN(rank + ?, ?) WHERE player_id = ?",
		points, max, playerID,
	)
	if err != nil {
		return fmt.Errorf("failed to credit rank: %w", err)
	}
	return nil
}

func (s *SQLite) Servers(ctx context.Context) ([]Server, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, ip_address, availability FROM servers ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var out []Server
	for rows.Next() {
		var sv Server
		if err := rows.Scan(&sv.ID, &sv.Name, &sv.Addr, &sv.Availability); err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		out = append(out, sv)
	}
	return out, rows.Err()
}

func (s *SQLite) ServerByAddr(ctx context.Context, addr string) (*Server, error) {
	var sv Server
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, ip_address, availability FROM servers WHERE ip_address = ?",
		addr,
	).Scan(&sv.ID, &sv.Name, &sv.Addr, &sv.Availability)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load server: %w", err)
	}
	return &sv, nil
}

func (s *SQLite) ChannelsForServer(ctx context.Context, serverID int64) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, server_id, channel_index, player_count FROM channels WHERE server_id = ? ORDER BY channel_index",
		serverID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.ID, &ch.ServerID, &ch.Index, &ch.Players); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *SQLite) ChannelID(ctx context.Context, serverID int64, index int) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM channels WHERE server_id = ? AND channel_index = ?",
		serverID, index,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve channel: %w", err)
	}
	return id, nil
}

func (s *SQLite) AdjustChannelCount(ctx context.Context, serverID int64, index, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"UPDATE channels SET player_count = MAX(player_count + ?, 0) WHERE server_id = ? AND channel_index = ?",
		delta, serverID, index,
	)
	if err != nil {
		return fmt.Errorf("failed to adjust channel count: %w", err)
	}
	return nil
}

const lobbyColumns = `id, channel_id, idx_in_channel, name, password, player_count, status, map, leader,
	player1_id, player1_character, player1_status,
	player2_id, player2_character, player2_status,
	player3_id, player3_character, player3_status,
	player4_id, player4_character, player4_status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLobby(r rowScanner) (*Lobby, error) {
	var (
		l      Lobby
		leader sql.NullString
		pid    [4]sql.NullString
		char   [4]sql.NullInt64
		status [4]sql.NullInt64
	)
	err := r.Scan(
		&l.ID, &l.ChannelID, &l.Index, &l.Name, &l.Password, &l.Players, &l.Status, &l.MapID, &leader,
		&pid[0], &char[0], &status[0],
		&pid[1], &char[1], &status[1],
		&pid[2], &char[2], &status[2],
		&pid[3], &char[3], &status[3],
	)
	if err != nil {
		return nil, err
	}
	l.Leader = leader.String
	for i := 0; i < 4; i++ {
		l.Seats[i] = Seat{
			PlayerID:  pid[i].String,
			Character: byte(char[i].Int64),
			Ready:     byte(status[i].Int64),
		}
	}
	return &l, nil
}

func (s *SQLite) LobbiesForChannel(ctx context.Context, channelID int64) ([]Lobby, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+lobbyColumns+" FROM lobbies WHERE channel_id = ? ORDER BY idx_in_channel",
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list lobbies: %w", err)
	}
	defer rows.Close()

	var out []Lobby
	for rows.Next() {
		l, err := scanLobby(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lobby: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *SQLite) LobbyByName(ctx context.Context, channelID int64, name string) (*Lobby, error) {
	l, err := scanLobby(s.db.QueryRowContext(ctx,
		"SELECT "+lobbyColumns+" FROM lobbies WHERE channel_id = ? AND name = ?",
		channelID, name,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load lobby: %w", err)
	}
	return l, nil
}

func (s *SQLite) LobbyForPlayer(ctx context.Context, channelID int64, playerID string) (*Lobby, error) {
	l, err := scanLobby(s.db.QueryRowContext(ctx,
		"SELECT "+lobbyColumns+` FROM lobbies
		 WHERE channel_id = ?
		   AND (player1_id = ? OR player2_id = ? OR player3_id = ? OR player4_id = ?)`,
		channelID, playerID, playerID, playerID, playerID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find lobby for player: %w", err)
	}
	return l, nil
}

func (s *SQLite) CreateLobby(ctx context.Context, channelID int64, name, password, creatorID string) (*Lobby, error) {
	var created *Lobby
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM lobbies WHERE channel_id = ? AND name = ?",
			channelID, name,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check lobby name: %w", err)
		}
		if exists > 0 {
			return ErrLobbyExists
		}

		rows, err := tx.QueryContext(ctx,
			"SELECT idx_in_channel FROM lobbies WHERE channel_id = ?", channelID)
		if err != nil {
			return fmt.Errorf("failed to list lobby slots: %w", err)
		}
		used := make(map[int]bool)
		for rows.Next() {
			var idx int
			if err := rows.Scan(&idx); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan lobby slot: %w", err)
			}
			used[idx] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		idx := -1
		for i := 0; i < 20; i++ {
			if !used[i] {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrChannelFull
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO lobbies
			 (channel_id, idx_in_channel, name, password, status, player_count, leader, map,
			  player1_id, player1_character, player1_status)
			 VALUES (?, ?, ?, ?, 1, 1, ?, 1, ?, 1, 0)`,
			channelID, idx, name, password, creatorID, creatorID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert lobby: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read lobby id: %w", err)
		}
		created = &Lobby{
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
		created.Seats[0] = Seat{PlayerID: creatorID, Character: 1, Ready: 0}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *SQLite) SeatPlayer(ctx context.Context, channelID int64, name, playerID string) (*Lobby, error) {
	var seated *Lobby
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		l, err := scanLobby(tx.QueryRowContext(ctx,
			"SELECT "+lobbyColumns+" FROM lobbies WHERE channel_id = ? AND name = ?",
			channelID, name,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load lobby: %w", err)
		}

		slot := -1
		for i := range l.Seats {
			if !l.Seats[i].Occupied() {
				slot = i
				break
			}
		}
		if slot < 0 {
			return ErrLobbyFull
		}
		char := lowestFreeCharacter(l.Seats)

		q := fmt.Sprintf(
			`UPDATE lobbies
			 SET player%[1]d_id = ?, player%[1]d_character = ?, player%[1]d_status = 0,
			     player_count = player_count + 1
			 WHERE id = ?`, slot+1)
		if _, err := tx.ExecContext(ctx, q, playerID, char, l.ID); err != nil {
			return fmt.Errorf("failed to seat player: %w", err)
		}

		l.Seats[slot] = Seat{PlayerID: playerID, Character: char, Ready: 0}
		l.Players++
		seated = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return seated, nil
}

func (s *SQLite) RemovePlayer(ctx context.Context, channelID int64, playerID string) (string, bool, error) {
	var (
		lobbyName string
		deleted   bool
	)
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		l, err := scanLobby(tx.QueryRowContext(ctx,
			"SELECT "+lobbyColumns+` FROM lobbies
			 WHERE channel_id = ?
			   AND (player1_id = ? OR player2_id = ? OR player3_id = ? OR player4_id = ?)`,
			channelID, playerID, playerID, playerID, playerID,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to find lobby for player: %w", err)
		}

		slot := l.SeatOf(playerID)
		if slot < 0 {
			return ErrNotFound
		}
		q := fmt.Sprintf(
			`UPDATE lobbies
			 SET player%[1]d_id = NULL, player%[1]d_character = NULL, player%[1]d_status = NULL,
			     player_count = MAX(player_count - 1, 0)
			 WHERE id = ?`, slot+1)
		if _, err := tx.ExecContext(ctx, q, l.ID); err != nil {
			return fmt.Errorf("failed to clear seat: %w", err)
		}
		l.Seats[slot] = Seat{}
		lobbyName = l.Name

		if l.Occupied() == 0 {
			if _, err := tx.ExecContext(ctx, "DELETE FROM lobbies WHERE id = ?", l.ID); err != nil {
				return fmt.Errorf("failed to delete empty lobby: %w", err)
			}
			deleted = true
			return nil
		}

		if l.Leader == playerID || l.SeatOf(l.Leader) < 0 {
			newLeader := ""
			for _, seat := range l.Seats {
				if seat.Occupied() {
					newLeader = seat.PlayerID
					break
				}
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE lobbies SET leader = ? WHERE id = ?", newLeader, l.ID); err != nil {
				return fmt.Errorf("failed to reassign leader: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return lobbyName, deleted, nil
}

func (s *SQLite) ToggleReady(ctx context.Context, channelID int64, name, playerID string) (int, error) {
	newStatus := 0
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		l, err := scanLobby(tx.QueryRowContext(ctx,
			"SELECT "+lobbyColumns+" FROM lobbies WHERE channel_id = ? AND name = ?",
			channelID, name,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load lobby: %w", err)
		}
		slot := l.SeatOf(playerID)
		if slot < 0 {
			return ErrNotFound
		}
		if l.Seats[slot].Ready == 0 {
			newStatus = 1
		}
		q := fmt.Sprintf("UPDATE lobbies SET player%d_status = ? WHERE id = ?", slot+1)
		if _, err := tx.ExecContext(ctx, q, newStatus, l.ID); err != nil {
			return fmt.Errorf("failed to toggle ready: %w", err)
		}
		return nil
	})
	return newStatus, err
}

func (s *SQLite) ClearReady(ctx context.Context, channelID int64, name, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE lobbies
		 SET player1_status = CASE WHEN player1_id = ? THEN 0 ELSE player1_status END,
		     player2_status = CASE WHEN player2_id = ? THEN 0 ELSE player2_status END,
		     player3_status = CASE WHEN player3_id = ? THEN 0 ELSE player3_status END,
		     player4_status = CASE WHEN player4_id = ? THEN 0 ELSE player4_status END
		 WHERE channel_id = ? AND name = ?`,
		playerID, playerID, playerID, playerID, channelID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to clear ready: %w", err)
	}
	return nil
}

func (s *SQLite) SetCharacter(ctx context.Context, channelID int64, playerID string, character byte) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		l, err := scanLobby(tx.QueryRowContext(ctx,
			"SELECT "+lobbyColumns+` FROM lobbies
			 WHERE channel_id = ?
			   AND (player1_id = ? OR player2_id = ? OR player3_id = ? OR player4_id = ?)`,
			channelID, playerID, playerID, playerID, playerID,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to find lobby for player: %w", err)
		}
		slot := l.SeatOf(playerID)
		if slot < 0 {
			return ErrNotFound
		}
		q := fmt.Sprintf("UPDATE lobbies SET player%d_character = ? WHERE id = ?", slot+1)
		if _, err := tx.ExecContext(ctx, q, character, l.ID); err != nil {
			return fmt.Errorf("failed to set character: %w", err)
		}
		return nil
	})
}

func (s *SQLite) SetMap(ctx context.Context, channelID int64, name string, mapID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"UPDATE lobbies SET map = ? WHERE channel_id = ? AND name = ?",
		mapID, channelID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to set map: %w", err)
	}
	return nil
}

func (s *SQLite) SetStatus(ctx context.Context, channelID int64, name string, status int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"UPDATE lobbies SET status = ? WHERE channel_id = ? AND name = ?",
		status, channelID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return nil
}

func (s *SQLite) PruneLobbies(ctx context.Context, keep string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM lobbies WHERE name NOT LIKE ?", "%"+keep+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to prune lobbies: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
