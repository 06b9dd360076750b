package server

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"erps-platform/server/internal/broker"
	"erps-platform/server/internal/engine"
	"erps-platform/server/internal/models"

	"gorm.io/gorm"
)

// DefaultHeartbeatEvery is the liveness beacon cadence.
const DefaultHeartbeatEvery = time.Second

// DefaultMissedLimit is how many silent ticks declare the primary dead.
const DefaultMissedLimit = 2

// SupervisorConfig tunes the liveness protocol.
type SupervisorConfig struct {
	ServerID       string
	Backup         bool
	HeartbeatEvery time.Duration
	MissedLimit    int
}

func (c *SupervisorConfig) fillDefaults() {
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = DefaultHeartbeatEvery
	}
	if c.MissedLimit <= 0 {
		c.MissedLimit = DefaultMissedLimit
	}
}

// Supervisor runs the primary/backup protocol. The active instance beats
// once a second on server/<id>/res/heartbeat; a backup counts silence and
// takes over after MissedLimit missed beats, reseeding the engine from
// persistence first.
type Supervisor struct {
	cfg SupervisorConfig
	eng *engine.Engine
	out engine.Outbound
	db  *gorm.DB // nil skips the takeover reseed

	mu       sync.Mutex
	lastBeat time.Time
	active   bool

	stop chan struct{}
	done chan struct{}
}

// NewSupervisor creates a supervisor. db may be nil in tests.
func NewSupervisor(cfg SupervisorConfig, eng *engine.Engine, out engine.Outbound, db *gorm.DB) *Supervisor {
	cfg.fillDefaults()
	return &Supervisor{
		cfg:      cfg,
		eng:      eng,
		out:      out,
		db:       db,
		lastBeat: time.Now(),
		active:   !cfg.Backup,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ObserveHeartbeat records the primary's beacon. Called from the router.
func (s *Supervisor) ObserveHeartbeat(serverID string) {
	if serverID == s.cfg.ServerID {
		// Own beacon looping back through the subscription.
		return
	}
	s.mu.Lock()
	s.lastBeat = time.Now()
	s.mu.Unlock()
}

// Active reports the current role.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Start launches the heartbeat loop.
func (s *Supervisor) Start() {
	go s.run()
}

// Stop shuts the loop down.
func (s *Supervisor) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Supervisor) run() {
	defer close(s.done)

	if s.cfg.Backup {
		log.Printf("[SUPERVISOR] %s standing by as backup", s.cfg.ServerID)
	} else {
		log.Printf("[SUPERVISOR] %s active", s.cfg.ServerID)
	}

	ticker := time.NewTicker(s.cfg.HeartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

func (s *Supervisor) tick() {
	s.mu.Lock()
	active := s.active
	silence := time.Since(s.lastBeat)
	s.mu.Unlock()

	if active {
		s.beat()
		return
	}

	if silence > time.Duration(s.cfg.MissedLimit)*s.cfg.HeartbeatEvery {
		s.takeover()
	}
}

func (s *Supervisor) beat() {
	payload, _ := json.Marshal(map[string]interface{}{
		"id": s.cfg.ServerID,
		"ts": time.Now().UnixMilli(),
	})
	s.out.Enqueue(broker.Message{
		Topic:   fmt.Sprintf("server/%s/res/heartbeat", s.cfg.ServerID),
		Payload: payload,
	})
}

// takeover promotes this instance: rebuild the world from persistence,
// activate the engine, start beating.
func (s *Supervisor) takeover() {
	log.Printf("[SUPERVISOR] primary silent, %s taking over", s.cfg.ServerID)

	s.eng.Reset()
	if seed, err := LoadSeed(s.db); err != nil {
		log.Printf("[SUPERVISOR] reseed failed, starting empty: %v", err)
	} else {
		s.eng.SeedUsers(seed)
	}
	s.eng.ServerDead()

	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	s.beat()
}

// LoadSeed pulls every user with their scores and blacklist, shaped for
// engine seeding. A nil db yields an empty seed.
func LoadSeed(db *gorm.DB) ([]engine.SeedUser, error) {
	if db == nil {
		return nil, nil
	}

	var users []models.User
	if err := db.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	var scores []models.Score
	if err := db.Find(&scores).Error; err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}
	var black []models.BlackListEntry
	if err := db.Find(&black).Error; err != nil {
		return nil, fmt.Errorf("load blacklist: %w", err)
	}

	scoresBy := make(map[string][]models.Score, len(users))
	for _, sc := range scores {
		scoresBy[sc.UserID] = append(scoresBy[sc.UserID], sc)
	}
	blackBy := make(map[string][]string)
	for _, b := range black {
		blackBy[b.UserID] = append(blackBy[b.UserID], b.Target)
	}

	seed := make([]engine.SeedUser, 0, len(users))
	for _, u := range users {
		seed = append(seed, engine.SeedUser{
			Row:       u,
			Scores:    scoresBy[u.UserID],
			BlackList: blackBy[u.UserID],
		})
	}
	return seed, nil
}
