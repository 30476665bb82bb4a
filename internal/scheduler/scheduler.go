// Package scheduler implements background maintenance: sweeping lobbies
// whose players are gone, cleaning old log files, and daily statistics.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mysticnights/mnserver/internal/config"
	"github.com/mysticnights/mnserver/internal/session"
	"github.com/mysticnights/mnserver/internal/store"
)

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg      *config.Config
	store    store.Store
	sessions *session.Registry
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, st store.Store, reg *session.Registry) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		store:    st,
		sessions: reg,
	}
}

// Start begins running all scheduled tasks and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	go s.runStaleLobbySweepLoop(ctx)
	go s.runLogCleanerLoop(ctx)
	go s.runStatsCollectionLoop(ctx)

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// runStaleLobbySweepLoop removes lobbies whose seated players no longer
// have any connection. The liveness watcher clears seats for tracked
// gameplay sessions; this sweep catches rooms left behind when a client
// vanished before it ever opened one.
func (s *Scheduler) runStaleLobbySweepLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepStaleLobbies(ctx)
		}
	}
}

func (s *Scheduler) sweepStaleLobbies(ctx context.Context) {
	servers, err := s.store.Servers(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("stale lobby sweep: server list failed")
		return
	}

	removed := 0
	for _, sv := range servers {
		channels, err := s.store.ChannelsForServer(ctx, sv.ID)
		if err != nil {
			continue
		}
		for _, ch := range channels {
			lobbies, err := s.store.LobbiesForChannel(ctx, ch.ID)
			if err != nil {
				continue
			}
			for _, l := range lobbies {
				if s.lobbyHasLiveSession(&l) {
					continue
				}
				for _, seat := range l.Seats {
					if !seat.Occupied() {
						continue
					}
					if _, _, err := s.store.RemovePlayer(ctx, ch.ID, seat.PlayerID); err == nil {
						removed++
					}
				}
				log.Info().Str("lobby", l.Name).Msg("swept stale lobby")
			}
		}
	}

	if removed > 0 {
		log.Info().Int("seats_cleared", removed).Msg("stale lobby sweep completed")
	}
}

// lobbyHasLiveSession reports whether any seated player still holds a
// connection.
func (s *Scheduler) lobbyHasLiveSession(l *store.Lobby) bool {
	for _, seat := range l.Seats {
		if !seat.Occupied() {
			continue
		}
		if len(s.sessions.ByPlayer(seat.PlayerID)) > 0 {
			return true
		}
	}
	return false
}

// runLogCleanerLoop deletes log files past the retention window, daily
// at 04:00.
func (s *Scheduler) runLogCleanerLoop(ctx context.Context) {
	for {
		next := nextDailyRun(4, 0)
		sleepDuration := time.Until(next)
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Time("next_run", next).
			Dur("sleep", sleepDuration).
			Msg("log cleaner scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepDuration):
			s.runLogCleaner()
		}
	}
}

// runLogCleaner performs the actual cleanup of old log files.
func (s *Scheduler) runLogCleaner() {
	logDir := s.cfg.GetApplicationData().Logging.Directory
	const retentionDays = 14

	var (
		deletedCount int
		deletedSize  int64
	)

	err := filepath.Walk(logDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}
		if info.IsDir() {
			return nil
		}
		if strings.ToLower(filepath.Ext(info.Name())) != ".log" {
			return nil
		}

		if time.Since(info.ModTime()) > retentionDays*24*time.Hour {
			if err := os.Remove(path); err == nil {
				deletedCount++
				deletedSize += info.Size()
				log.Debug().Str("file", info.Name()).Msg("deleted old log file")
			}
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("log cleaner encountered errors")
	}

	log.Info().
		Int("deleted_files", deletedCount).
		Str("freed_space", formatBytes(deletedSize)).
		Msg("log cleaner completed")
}

// runStatsCollectionLoop collects daily statistics.
func (s *Scheduler) runStatsCollectionLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectStats(ctx)
		}
	}
}

// collectStats logs a daily summary of lobby activity.
func (s *Scheduler) collectStats(ctx context.Context) {
	lobbyCount := 0
	playerCount := 0

	servers, err := s.store.Servers(ctx)
	if err != nil {
		return
	}
	for _, sv := range servers {
		channels, err := s.store.ChannelsForServer(ctx, sv.ID)
		if err != nil {
			continue
		}
		for _, ch := range channels {
			lobbies, err := s.store.LobbiesForChannel(ctx, ch.ID)
			if err != nil {
				continue
			}
			lobbyCount += len(lobbies)
			for _, l := range lobbies {
				playerCount += l.Players
			}
		}
	}

	log.Info().
		Int("lobbies", lobbyCount).
		Int("seated_players", playerCount).
		Int("connections", s.sessions.Count()).
		Msg("daily stats collected")
}

// nextDailyRun returns the next occurrence of the given wall clock time.
func nextDailyRun(hour, minute int) time.Time {
	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if next.Before(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
