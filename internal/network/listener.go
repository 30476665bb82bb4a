// Package network accepts client TCP connections and feeds their frames
// to the protocol engine. Two listeners run side by side: the lobby port
// and the game port; the retail client connects to both, sourcing its
// in-match connection from a fixed local port.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mysticnights/mnserver/internal/lobby"
	"github.com/mysticnights/mnserver/internal/protocol"
	"github.com/mysticnights/mnserver/internal/session"
	"github.com/mysticnights/mnserver/internal/store"
	"github.com/mysticnights/mnserver/internal/util"
)

// Listener accepts client connections on one port.
type Listener struct {
	addr string
	// gameplayPort is the client source port that identifies in-match
	// connections.
	gameplayPort int

	store    store.Store
	sessions *session.Registry
	engine   *lobby.Engine

	listener net.Listener
}

// NewListener creates a listener for addr.
func NewListener(addr string, gameplayPort int, st store.Store, reg *session.Registry, eng *lobby.Engine) *Listener {
	return &Listener{
		addr:         addr,
		gameplayPort: gameplayPort,
		store:        st,
		sessions:     reg,
		engine:       eng,
	}
}

// Start accepts connections until ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	// SO_REUSEADDR allows immediate rebinding after restart
	lc := ReuseAddrListenConfig()
	var err error
	l.listener, err = lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.addr, err)
	}

	log.Info().Str("addr", l.addr).Msg("listener started")

	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Str("addr", l.addr).Msg("listener stopping")
				return nil
			default:
				log.Error().Err(err).Msg("failed to accept connection")
				continue
			}
		}
		go l.handleConnection(ctx, conn)
	}
}

// handleConnection runs one client's read loop.
func (l *Listener) handleConnection(ctx context.Context, conn net.Conn) {
	gameplay := remotePort(conn.RemoteAddr()) == l.gameplayPort
	s := session.New(conn, gameplay)

	logger := util.ComponentLogger("network").With().
		Str("remote", s.Key()).
		Bool("gameplay", gameplay).
		Logger()
	logger.Info().Msg("client connected")

	// Server identity is bound from the accepting listener's host on
	// every port; the client issues directory requests over either
	// connection.
	if host, _, err := net.SplitHostPort(conn.LocalAddr().String()); err == nil {
		if sv, err := l.store.ServerByAddr(ctx, host); err == nil {
			s.BindServer(sv)
		} else if !errors.Is(err, store.ErrNotFound) {
			logger.Warn().Err(err).Msg("server lookup failed")
		}
	}

	l.sessions.Register(s)
	defer l.engine.FullDisconnect(ctx, s)

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("context cancelled, closing connection")
			return
		default:
		}

		f, err := protocol.ReadFrame(conn)
		if err != nil {
			if s.Closed() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				logger.Info().Msg("client disconnected")
			} else {
				logger.Warn().Err(err).Msg("read error, closing connection")
			}
			return
		}
		l.engine.Handle(ctx, s, f)
	}
}

// Stop closes the listening socket.
func (l *Listener) Stop() error {
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

// remotePort extracts the numeric port of addr, or -1.
func remotePort(addr net.Addr) int {
	_, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return -1
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return -1
	}
	return n
}

// Server runs the lobby and game listeners as one unit.
type Server struct {
	listeners []*Listener
}

// NewServer builds the two listeners from host and ports.
func NewServer(host string, lobbyPort, gamePort, gameplayClientPort int, st store.Store, reg *session.Registry, eng *lobby.Engine) *Server {
	return &Server{
		listeners: []*Listener{
			NewListener(net.JoinHostPort(host, strconv.Itoa(lobbyPort)), gameplayClientPort, st, reg, eng),
			NewListener(net.JoinHostPort(host, strconv.Itoa(gamePort)), gameplayClientPort, st, reg, eng),
		},
	}
}

// Start runs every listener and blocks until all stop.
func (s *Server) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(s.listeners))
	for i, l := range s.listeners {
		wg.Add(1)
		go func(i int, l *Listener) {
			defer wg.Done()
			errs[i] = l.Start(ctx)
		}(i, l)
	}
	wg.Wait()
	return errors.Join(errs...)
}
