// Package status exposes a small HTTP surface for operators: queue depths,
// world counters and the cached leaderboards.
package status

import (
	"log"
	"net/http"
	"time"

	"erps-platform/server/internal/engine"
	"erps-platform/server/internal/redis"

	"github.com/gin-gonic/gin"
)

// Depther reports a queue depth. Both the publisher pool and the sql
// worker satisfy it.
type Depther interface {
	Depth() int
}

// Server serves the operator endpoints.
type Server struct {
	eng       *engine.Engine
	outbound  Depther
	sql       Depther
	cache     *redis.Client // nil disables leaderboards
	startedAt time.Time
}

// New creates a status server.
func New(eng *engine.Engine, outbound, sql Depther, cache *redis.Client) *Server {
	return &Server{
		eng:       eng,
		outbound:  outbound,
		sql:       sql,
		cache:     cache,
		startedAt: time.Now(),
	}
}

// Routes builds the gin router.
func (s *Server) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/status", s.handleStatus)
	r.GET("/leaderboard/:mode", s.handleLeaderboard)
	return r
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	log.Printf("[STATUS] listening on %s", addr)
	return s.Routes().Run(addr)
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.eng.TakeSnapshot()

	body := gin.H{
		"uptime_s": int(time.Since(s.startedAt).Seconds()),
		"active":   snap.Active,
		"users":    snap.Users,
		"online":   snap.Online,
		"rooms":    snap.Rooms,
		"games":    snap.Games,
		"queues":   snap.Queues,
		"depths": gin.H{
			"engine": s.eng.Depth(),
		},
	}
	depths := body["depths"].(gin.H)
	if s.outbound != nil {
		depths["outbound"] = s.outbound.Depth()
	}
	if s.sql != nil {
		depths["sql"] = s.sql.Depth()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	if s.cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"err": "leaderboard cache disabled"})
		return
	}
	mode := c.Param("mode")
	entries, err := s.cache.Top(c.Request.Context(), mode, 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode, "top": entries})
}
