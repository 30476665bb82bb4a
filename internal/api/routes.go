package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mysticnights/mnserver/internal/util"
)

// handlePing is a trivial liveness check.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus reports session totals and host resource usage.
func (s *Server) handleStatus(c *gin.Context) {
	gameplay := 0
	loggedIn := 0
	for _, sess := range s.sessions.Snapshot() {
		if sess.Gameplay() {
			gameplay++
		}
		if sess.PlayerID() != "" {
			loggedIn++
		}
	}

	status := gin.H{
		"server_name":         s.cfg.GetServerData().Name,
		"connections":         s.sessions.Count(),
		"gameplay_sessions":   gameplay,
		"logged_in":           loggedIn,
		"uptime_check":        time.Now().UTC(),
	}

	if cpu, err := util.GetCPUUsage(); err == nil {
		status["cpu_percent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		status["memory"] = mem
	}
	if disk, err := util.GetDiskUsage("/"); err == nil {
		status["disk"] = disk
	}

	c.JSON(http.StatusOK, status)
}

// handleSessions lists connected clients.
func (s *Server) handleSessions(c *gin.Context) {
	type sessionView struct {
		Remote      string    `json:"remote"`
		PlayerID    string    `json:"player_id,omitempty"`
		Gameplay    bool      `json:"gameplay"`
		ConnectedAt time.Time `json:"connected_at"`
		LastPacket  time.Time `json:"last_packet"`
	}

	sessions := s.sessions.Snapshot()
	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, sessionView{
			Remote:      sess.Key(),
			PlayerID:    sess.PlayerID(),
			Gameplay:    sess.Gameplay(),
			ConnectedAt: sess.ConnectedAt(),
			LastPacket:  sess.LastPacket(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

// handleServers lists the server directory.
func (s *Server) handleServers(c *gin.Context) {
	servers, err := s.store.Servers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type serverView struct {
		ID           int64  `json:"id"`
		Name         string `json:"name"`
		Addr         string `json:"addr"`
		Availability int    `json:"availability"`
	}
	views := make([]serverView, 0, len(servers))
	for _, sv := range servers {
		views = append(views, serverView{
			ID:           sv.ID,
			Name:         sv.Name,
			Addr:         sv.Addr,
			Availability: sv.Availability,
		})
	}
	c.JSON(http.StatusOK, gin.H{"servers": views})
}

// handleChannels lists the channels of one server.
func (s *Server) handleChannels(c *gin.Context) {
	serverID, err := strconv.ParseInt(c.Param("server_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server id"})
		return
	}

	channels, err := s.store.ChannelsForServer(c.Request.Context(), serverID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type channelView struct {
		ID      int64 `json:"id"`
		Index   int   `json:"index"`
		Players int   `json:"players"`
	}
	views := make([]channelView, 0, len(channels))
	for _, ch := range channels {
		views = append(views, channelView{ID: ch.ID, Index: ch.Index, Players: ch.Players})
	}
	c.JSON(http.StatusOK, gin.H{"channels": views})
}

// handleLobbies lists the lobbies of one channel with seat detail.
func (s *Server) handleLobbies(c *gin.Context) {
	channelID, err := strconv.ParseInt(c.Param("channel_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}

	lobbies, err := s.store.LobbiesForChannel(c.Request.Context(), channelID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type seatView struct {
		PlayerID  string `json:"player_id"`
		Character byte   `json:"character"`
		Ready     byte   `json:"ready"`
	}
	type lobbyView struct {
		Index    int        `json:"index"`
		Name     string     `json:"name"`
		Private  bool       `json:"private"`
		Players  int        `json:"players"`
		Status   int        `json:"status"`
		MapID    int        `json:"map_id"`
		Leader   string     `json:"leader"`
		Seats    []seatView `json:"seats"`
	}

	views := make([]lobbyView, 0, len(lobbies))
	for _, l := range lobbies {
		var seats []seatView
		for _, seat := range l.Seats {
			if seat.Occupied() {
				seats = append(seats, seatView{
					PlayerID:  seat.PlayerID,
					Character: seat.Character,
					Ready:     seat.Ready,
				})
			}
		}
		views = append(views, lobbyView{
			Index:   l.Index,
			Name:    l.Name,
			Private: !l.Public(),
			Players: l.Players,
			Status:  l.Status,
			MapID:   l.MapID,
			Leader:  l.Leader,
			Seats:   seats,
		})
	}
	c.JSON(http.StatusOK, gin.H{"lobbies": views})
}
