package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mysticnights/mnserver/internal/lobby"
	"github.com/mysticnights/mnserver/internal/session"
	"github.com/mysticnights/mnserver/internal/store"
)

// Both the lobby and game ports must bind the accepting host's server
// row, since directory requests arrive over either connection.
func TestHandleConnectionBindsServerOnEveryPort(t *testing.T) {
	st := store.NewMemory()
	st.AddServer("MYSTIC", "127.0.0.1", 1)
	reg := session.NewRegistry()
	eng := lobby.NewEngine(st, reg, lobby.DefaultTimings())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewListener(ln.Addr().String(), 3658, st, reg, eng)
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.handleConnection(ctx, conn)
	}()

	var s *session.Session
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := reg.Snapshot(); len(snap) == 1 {
			s = snap[0]
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s == nil {
		t.Fatal("session never registered")
	}

	sv := s.Server()
	if sv == nil {
		t.Fatal("session has no server binding")
	}
	if sv.Name != "MYSTIC" {
		t.Fatalf("bound server = %q", sv.Name)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit after client close")
	}
}
