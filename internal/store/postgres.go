package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS servers (
    id            BIGSERIAL PRIMARY KEY,
    name          TEXT NOT NULL,
    ip_address    TEXT NOT NULL UNIQUE,
    player_count  INTEGER NOT NULL DEFAULT 0,
    availability  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS channels (
    id            BIGSERIAL PRIMARY KEY,
    server_id     BIGINT NOT NULL REFERENCES servers(id),
    channel_index INTEGER NOT NULL,
    player_count  INTEGER NOT NULL DEFAULT 0,
    UNIQUE (server_id, channel_index)
);

CREATE TABLE IF NOT EXISTS players (
    id         BIGSERIAL PRIMARY KEY,
    player_id  TEXT NOT NULL UNIQUE,
    password   TEXT NOT NULL,
    rank       INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lobbies (
    id             BIGSERIAL PRIMARY KEY,
    channel_id     BIGINT NOT NULL REFERENCES channels(id),
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

// Postgres is the Store backed by a PostgreSQL pool. Seat mutations run
// in transactions with the lobby row locked FOR UPDATE.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, creates the schema and seeds the server
// directory when empty.
func OpenPostgres(ctx context.Context, dsn, serverName, serverAddr string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.seed(ctx, serverName, serverAddr); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().Msg("postgres store opened")
	return p, nil
}

func (p *Postgres) seed(ctx context.Context, name, addr string) error {
	var n int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM servers").Scan(&n); err != nil {
		return fmt.Errorf("failed to count servers: %w", err)
	}
	if n > 0 {
		return nil
	}
	var serverID int64
	err := p.pool.QueryRow(ctx,
		"INSERT INTO servers (name, ip_address, availability) VALUES ($1, $2, 0) RETURNING id",
		name, addr,
	).Scan(&serverID)
	if err != nil {
		return fmt.Errorf("failed to seed server: %w", err)
	}
	for i := 0; i < 12; i++ {
		if _, err := p.pool.Exec(ctx,
			"INSERT INTO channels (server_id, channel_index) VALUES ($1, $2)",
			serverID, i,
		); err != nil {
			return fmt.Errorf("failed to seed channel %d: %w", i, err)
		}
	}
	log.Info().Str("server", name).Str("addr", addr).Msg("seeded server directory")
	return nil
}

func (p *Postgres) transaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Player(ctx context.Context, playerID string) (*Player, error) {
	var pl Player
	err := p.pool.QueryRow(ctx,
		"SELECT player_id, password, rank FROM players WHERE player_id = $1",
		playerID,
	).Scan(&pl.ID, &pl.Password, &pl.Rank)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load player: %w", err)
	}
	return &pl, nil
}

func (p *Postgres) CreatePlayer(ctx context.Context, playerID, password string) error {
	_, err := p.pool.Exec(ctx,
		"INSERT INTO players (player_id, password, rank) VALUES ($1, $2, 1)",
		playerID, password,
	)
	if err != nil {
		return fmt.Errorf("failed to create player: %w", err)
	}
	return nil
}

func (p *Postgres) DeletePlayer(ctx context.Context, playerID string) error {
	if _, err := p.pool.Exec(ctx, "DELETE FROM players WHERE player_id = $1", playerID); err != nil {
		return fmt.Errorf("failed to delete player: %w", err)
	}
	return nil
}

func (p *Postgres) AddRankPoints(ctx context.Context, playerID string, points, max int) error {
	_, err := p.pool.Exec(ctx,
		"UPDATE players SET rank = LEAST(rank + $1, $2) WHERE player_id = $3",
		points, max, playerID,
	)
	if err != nil {
		return fmt.Errorf("failed to credit rank: %w", err)
	}
	return nil
}

func (p *Postgres) Servers(ctx context.Context) ([]Server, error) {
	rows, err := p.pool.Query(ctx,
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

func (p *Postgres) ServerByAddr(ctx context.Context, addr string) (*Server, error) {
	var sv Server
	err := p.pool.QueryRow(ctx,
		"SELECT id, name, ip_address, availability FROM servers WHERE ip_address = $1",
		addr,
	).Scan(&sv.ID, &sv.Name, &sv.Addr, &sv.Availability)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load server: %w", err)
	}
	return &sv, nil
}

func (p *Postgres) ChannelsForServer(ctx context.Context, serverID int64) ([]Channel, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT id, server_id, channel_index, player_count FROM channels WHERE server_id = $1 ORDER BY channel_index",
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

func (p *Postgres) ChannelID(ctx context.Context, serverID int64, index int) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		"SELECT id FROM channels WHERE server_id = $1 AND channel_index = $2",
		serverID, index,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve channel: %w", err)
	}
	return id, nil
}

func (p *Postgres) AdjustChannelCount(ctx context.Context, serverID int64, index, delta int) error {
	_, err := p.pool.Exec(ctx,
		"UPDATE channels SET player_count = GREATEST(player_count + $1, 0) WHERE server_id = $2 AND channel_index = $3",
		delta, serverID, index,
	)
	if err != nil {
		return fmt.Errorf("failed to adjust channel count: %w", err)
	}
	return nil
}

const pgLobbyColumns = `id, channel_id, idx_in_channel, name, password, player_count, status, map, leader,
	player1_id, player1_character, player1_status,
	player2_id, player2_character, player2_status,
	player3_id, player3_character, player3_status,
	player4_id, player4_character, player4_status`

func scanPgLobby(r pgx.Row) (*Lobby, error) {
	var (
		l      Lobby
		leader *string
		pid    [4]*string
		char   [4]*int32
		status [4]*int32
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
	if leader != nil {
		l.Leader = *leader
	}
	for i := 0; i < 4; i++ {
		var s Seat
		if pid[i] != nil {
			s.PlayerID = *pid[i]
		}
		if char[i] != nil {
			s.Character = byte(*char[i])
		}
		if status[i] != nil {
			s.Ready = byte(*status[i])
		}
		l.Seats[i] = s
	}
	return &l, nil
}

func (p *Postgres) LobbiesForChannel(ctx context.Context, channelID int64) ([]Lobby, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT "+pgLobbyColumns+" FROM lobbies WHERE channel_id = $1 ORDER BY idx_in_channel",
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list lobbies: %w", err)
	}
	defer rows.Close()

	var out []Lobby
	for rows.Next() {
		l, err := scanPgLobby(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lobby: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (p *Postgres) LobbyByName(ctx context.Context, channelID int64, name string) (*Lobby, error) {
	l, err := scanPgLobby(p.pool.QueryRow(ctx,
		"SELECT "+pgLobbyColumns+" FROM lobbies WHERE channel_id = $1 AND name = $2",
		channelID, name,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load lobby: %w", err)
	}
	return l, nil
}

func (p *Postgres) LobbyForPlayer(ctx context.Context, channelID int64, playerID string) (*Lobby, error) {
	l, err := scanPgLobby(p.pool.QueryRow(ctx,
		"SELECT "+pgLobbyColumns+` FROM lobbies
		 WHERE channel_id = $1
		   AND (player1_id = $2 OR player2_id = $2 OR player3_id = $2 OR player4_id = $2)`,
		channelID, playerID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find lobby for player: %w", err)
	}
	return l, nil
}

func (p *Postgres) CreateLobby(ctx context.Context, channelID int64, name, password, creatorID string) (*Lobby, error) {
	var created *Lobby
	err := p.transaction(ctx, func(tx pgx.Tx) error {
		var exists int
		if err := tx.QueryRow(ctx,
			"SELECT COUNT(*) FROM lobbies WHERE channel_id = $1 AND name = $2",
			channelID, name,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check lobby name: %w", err)
		}
		if exists > 0 {
			return ErrLobbyExists
		}

		rows, err := tx.Query(ctx,
			"SELECT idx_in_channel FROM lobbies WHERE channel_id = $1 FOR UPDATE", channelID)
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

		var id int64
		err = tx.QueryRow(ctx,
			`INSERT INTO lobbies
			 (channel_id, idx_in_channel, name, password, status, player_count, leader, map,
			  player1_id, player1_character, player1_status)
			 VALUES ($1, $2, $3, $4, 1, 1, $5, 1, $5, 1, 0)
			 RETURNING id`,
			channelID, idx, name, password, creatorID,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to insert lobby: %w", err)
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

func (p *Postgres) SeatPlayer(ctx context.Context, channelID int64, name, playerID string) (*Lobby, error) {
	var seated *Lobby
	err := p.transaction(ctx, func(tx pgx.Tx) error {
		l, err := scanPgLobby(tx.QueryRow(ctx,
			"SELECT "+pgLobbyColumns+" FROM lobbies WHERE channel_id = $1 AND name = $2 FOR UPDATE",
			channelID, name,
		))
		if errors.Is(err, pgx.ErrNoRows) {
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
			 SET player%[1]d_id = $1, player%[1]d_character = $2, player%[1]d_status = 0,
			     player_count = player_count + 1
			 WHERE id = $3`, slot+1)
		if _, err := tx.Exec(ctx, q, playerID, int(char), l.ID); err != nil {
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

func (p *Postgres) RemovePlayer(ctx context.Context, channelID int64, playerID string) (string, bool, error) {
	var (
		lobbyName string
		deleted   bool
	)
	err := p.transaction(ctx, func(tx pgx.Tx) error {
		l, err := scanPgLobby(tx.QueryRow(ctx,
			"SELECT "+pgLobbyColumns+` FROM lobbies
			 WHERE channel_id = $1
			   AND (player1_id = $2 OR player2_id = $2 OR player3_id = $2 OR player4_id = $2)
			 FOR UPDATE`,
			channelID, playerID,
		))
		if errors.Is(err, pgx.ErrNoRows) {
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
			     player_count = GREATEST(player_count - 1, 0)
			 WHERE id = $1`, slot+1)
		if _, err := tx.Exec(ctx, q, l.ID); err != nil {
			return fmt.Errorf("failed to clear seat: %w", err)
		}
		l.Seats[slot] = Seat{}
		lobbyName = l.Name

		if l.Occupied() == 0 {
			if _, err := tx.Exec(ctx, "DELETE FROM lobbies WHERE id = $1", l.ID); err != nil {
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
			if _, err := tx.Exec(ctx,
				"UPDATE lobbies SET leader = $1 WHERE id = $2", newLeader, l.ID); err != nil {
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

func (p *Postgres) ToggleReady(ctx context.Context, channelID int64, name, playerID string) (int, error) {
	newStatus := 0
	err := p.transaction(ctx, func(tx pgx.Tx) error {
		l, err := scanPgLobby(tx.QueryRow(ctx,
			"SELECT "+pgLobbyColumns+" FROM lobbies WHERE channel_id = $1 AND name = $2 FOR UPDATE",
			channelID, name,
		))
		if errors.Is(err, pgx.ErrNoRows) {
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
		q := fmt.Sprintf("UPDATE lobbies SET player%d_status = $1 WHERE id = $2", slot+1)
		if _, err := tx.Exec(ctx, q, newStatus, l.ID); err != nil {
			return fmt.Errorf("failed to toggle ready: %w", err)
		}
		return nil
	})
	return newStatus, err
}

func (p *Postgres) ClearReady(ctx context.Context, channelID int64, name, playerID string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE lobbies
		 SET player1_status = CASE WHEN player1_id = $1 THEN 0 ELSE player1_status END,
		     player2_status = CASE WHEN player2_id = $1 THEN 0 ELSE player2_status END,
		     player3_status = CASE WHEN player3_id = $1 THEN 0 ELSE player3_status END,
		     player4_status = CASE WHEN player4_id = $1 THEN 0 ELSE player4_status END
		 WHERE channel_id = $2 AND name = $3`,
		playerID, channelID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to clear ready: %w", err)
	}
	return nil
}

func (p *Postgres) SetCharacter(ctx context.Context, channelID int64, playerID string, character byte) error {
	return p.transaction(ctx, func(tx pgx.Tx) error {
		l, err := scanPgLobby(tx.QueryRow(ctx,
			"SELECT "+pgLobbyColumns+` FROM lobbies
			 WHERE channel_id = $1
			   AND (player1_id = $2 OR player2_id = $2 OR player3_id = $2 OR player4_id = $2)
			 FOR UPDATE`,
			channelID, playerID,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to find lobby for player: %w", err)
		}
		slot := l.SeatOf(playerID)
		if slot < 0 {
			return ErrNotFound
		}
		q := fmt.Sprintf("UPDATE lobbies SET player%d_character = $1 WHERE id = $2", slot+1)
		if _, err := tx.Exec(ctx, q, int(character), l.ID); err != nil {
			return fmt.Errorf("failed to set character: %w", err)
		}
		return nil
	})
}

func (p *Postgres) SetMap(ctx context.Context, channelID int64, name string, mapID int) error {
	_, err := p.pool.Exec(ctx,
		"UPDATE lobbies SET map = $1 WHERE channel_id = $2 AND name = $3",
		mapID, channelID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to set map: %w", err)
	}
	return nil
}

func (p *Postgres) SetStatus(ctx context.Context, channelID int64, name string, status int) error {
	_, err := p.pool.Exec(ctx,
		"UPDATE lobbies SET status = $1 WHERE channel_id = $2 AND name = $3",
		status, channelID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return nil
}

func (p *Postgres) PruneLobbies(ctx context.Context, keep string) (int, error) {
	tag, err := p.pool.Exec(ctx,
		"DELETE FROM lobbies WHERE name NOT LIKE $1", "%"+keep+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to prune lobbies: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
