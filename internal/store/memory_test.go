package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func newTestMemory(t *testing.T) (*Memory, int64) {
	t.Helper()
	m := NewMemory()
	srvID := m.AddServer("MN1", "127.0.0.1", -1)
	ctx := context.Background()
	chID, err := m.ChannelID(ctx, srvID, 0)
	if err != nil {
		t.Fatalf("ChannelID: %v", err)
	}
	return m, chID
}

func TestPlayerLifecycle(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	if _, err := m.Player(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.CreatePlayer(ctx, "alice", "secret"); err != nil {
		t.Fatalf("CreatePlayer: %v", err)
	}
	p, err := m.Player(ctx, "alice")
	if err != nil {
		t.Fatalf("Player: %v", err)
	}
	if p.Rank != 1 {
		t.Errorf("new player rank = %d, want 1", p.Rank)
	}
	if err := m.DeletePlayer(ctx, "alice"); err != nil {
		t.Fatalf("DeletePlayer: %v", err)
	}
	if _, err := m.Player(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestAddRankPointsClampsAtMax(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()
	if err := m.CreatePlayer(ctx, "bob", "pw"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		if err := m.AddRankPoints(ctx, "bob", 5, 199); err != nil {
			t.Fatal(err)
		}
	}
	p, err := m.Player(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if p.Rank != 199 {
		t.Errorf("rank = %d, want clamped 199", p.Rank)
	}
}

func TestCreateLobbySeatsCreatorAsLeader(t *testing.T) {
	m, chID := newTestMemory(t)
	ctx := context.Background()

	l, err := m.CreateLobby(ctx, chID, "Test Room", "", "alice")
	if err != nil {
		t.Fatalf("CreateLobby: %v", err)
	}
	if l.Index != 0 {
		t.Errorf("first lobby index = %d, want 0", l.Index)
	}
	if l.Leader != "alice" {
		t.Errorf("leader = %q, want alice", l.Leader)
	}
	if got := l.Seats[0]; got.PlayerID != "alice" || got.Character != 1 || got.Ready != 0 {
		t.Errorf("creator seat = %+v", got)
	}

	if _, err := m.CreateLobby(ctx, chID, "Test Room", "", "bob"); !errors.Is(err, ErrLobbyExists) {
		t.Fatalf("duplicate name: expected ErrLobbyExists, got %v", err)
	}
}

func TestCreateLobbyAllocatesLowestFreeSlot(t *testing.T) {
	m, chID := newTestMemory(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.CreateLobby(ctx, chID, fmt.Sprintf("Room%d", i), "", fmt.Sprintf("p%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	// free the middle slot
	if _, _, err := m.RemovePlayer(ctx, chID, "p1"); err != nil {
		t.Fatal(err)
	}
	l, err := m.CreateLobby(ctx, chID, "Refill", "", "p9")
	if err != nil {
		t.Fatal(err)
	}
	if l.Index != 1 {
		t.Errorf("refilled slot index = %d, want 1", l.Index)
	}
}

func TestCreateLobbyChannelFull(t *testing.T) {
	m, chID := newTestMemory(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		if _, err := m.CreateLobby(ctx, chID, fmt.Sprintf("Room%d", i), "", fmt.Sprintf("p%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.CreateLobby(ctx, chID, "Overflow", "", "late"); !errors.Is(err, ErrChannelFull) {
		t.Fatalf("expected ErrChannelFull, got %v", err)
	}
}

func TestSeatPlayerAssignsLowestUnusedCharacter(t *testing.T) {
	m, chID := newTestMemory(t)
	ctx := context.Background()

	if _, err := m.CreateLobby(ctx, chID, "Room", "", "alice"); err != nil {
		t.Fatal(err)
	}
	l, err := m.SeatPlayer(ctx, chID, "Room", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if l.Seats[1].Character != 2 {
		t.Errorf("second player character = %d, want 2", l.Seats[1].Character)
	}

	// bob picks character 4, then carol should get 2 back
	if err := m.SetCharacter(ctx, chID, "bob", 4); err != nil {
		t.Fatal(err)
	}
	l, err = m.SeatPlayer(ctx, chID, "Room", "carol")
	if err != nil {
		t.Fatal(err)
	}
	if l.Seats[2].Character != 2 {
		t.Errorf("third player character = %d, want 2", l.Seats[2].Character)
	}
}

func TestSeatPlayerFullLobby(t *testing.T) {
	m, chID := newTestMemory(t)
	ctx := context.Background()

	if _, err := m.CreateLobby(ctx, chID, "Room", "", "p0"); err != nil {
		t.Fatal(err)
	}
	for i := 1; i < 4; i++ {
		if _, err := m.SeatPlayer(ctx, chID, "Room", fmt.Sprintf("p%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.SeatPlayer(ctx, chID, "Room", "p4"); !errors.Is(err, ErrLobbyFull) {
		t.Fatalf("expected ErrLobbyFull, got %v", err)
	}
}

func TestRemovePlayerReassignsLeaderAndDeletesEmpty(t *testing.T) {
	m, chID := newTestMemory(t)
	ctx := context.Background()

	if _, err := m.CreateLobby(ctx, chID, "Room", "", "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SeatPlayer(ctx, chID, "Room", "bob"); err != nil {
		t.Fatal(err)
	}

	name, deleted, err := m.RemovePlayer(ctx, chID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if name != "Room" || deleted {
		t.Fatalf("RemovePlayer = (%q, %v), want (Room, false)", name, deleted)
	}
	l, err := m.LobbyByName(ctx, chID, "Room")
	if err != nil {
		t.Fatal(err)
	}
	if l.Leader != "bob" {
		t.Errorf("leader after departure = %q, want bob", l.Leader)
	}

	_, deleted, err = m.RemovePlayer(ctx, chID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Error("expected lobby deletion when last player leaves")
	}
	if _, err := m.LobbyByName(ctx, chID, "Room"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after deletion, got %v", err)
	}
}

func TestToggleReadyFlips(t *testing.T) {
	m, chID := newTestMemory(t)
	ctx := context.Background()

	if _, err := m.CreateLobby(ctx, chID, "Room", "", "alice"); err != nil {
		t.Fatal(err)
	}
	for want := 1; want >= 0; want-- {
		got, err := m.ToggleReady(ctx, chID, "Room", "alice")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("ToggleReady = %d, want %d", got, want)
		}
	}
}

func TestPruneLobbiesKeepsMatching(t *testing.T) {
	m, chID := newTestMemory(t)
	ctx := context.Background()

	if _, err := m.CreateLobby(ctx, chID, "Test Alpha", "", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreateLobby(ctx, chID, "Stale", "", "b"); err != nil {
		t.Fatal(err)
	}
	n, err := m.PruneLobbies(ctx, "Test")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d lobbies, want 1", n)
	}
	if _, err := m.LobbyByName(ctx, chID, "Test Alpha"); err != nil {
		t.Errorf("kept lobby missing: %v", err)
	}
}

func TestChannelCountFloorIsZero(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()
	srvs, err := m.Servers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.AdjustChannelCount(ctx, srvs[0].ID, 0, -5); err != nil {
		t.Fatal(err)
	}
	chs, err := m.ChannelsForServer(ctx, srvs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if chs[0].Players != 0 {
		t.Errorf("player count = %d, want floor 0", chs[0].Players)
	}
}
