package server

import (
	"sync"
	"testing"
	"time"

	"erps-platform/server/internal/broker"
	"erps-platform/server/internal/engine"
	"erps-platform/server/internal/models"
	"erps-platform/server/internal/sqlworker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type captureOut struct {
	mu   sync.Mutex
	msgs []broker.Message
}

func (c *captureOut) Enqueue(m broker.Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
}

func (c *captureOut) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Topic
	}
	return out
}

type nopSQL struct{}

func (nopSQL) Submit(sqlworker.Op) {}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func TestRouterFeedsEngine(t *testing.T) {
	out := &captureOut{}
	eng := engine.New(engine.Config{}, out, nopSQL{})
	sup := NewSupervisor(SupervisorConfig{ServerID: "srv-1"}, eng, out, nil)
	r := NewRouter(eng, sup)

	r.onMessage(nil, &fakeMessage{topic: "member/alice/send/login", payload: []byte(`{"id":"alice"}`)})
	assert.Equal(t, 1, eng.Depth())

	// Foreign and malformed topics are dropped without queueing.
	r.onMessage(nil, &fakeMessage{topic: "weather/alice/send/login"})
	r.onMessage(nil, &fakeMessage{topic: "member/-alice/send/login"})
	assert.Equal(t, 1, eng.Depth())

	// A bad payload still queues the error response event.
	r.onMessage(nil, &fakeMessage{topic: "member/alice/send/login", payload: []byte(`{`)})
	assert.Equal(t, 2, eng.Depth())
}

func TestRouterRoutesHeartbeatToSupervisor(t *testing.T) {
	out := &captureOut{}
	eng := engine.New(engine.Config{Backup: true}, out, nopSQL{})
	sup := NewSupervisor(SupervisorConfig{
		ServerID:       "backup-1",
		Backup:         true,
		HeartbeatEvery: 20 * time.Millisecond,
	}, eng, out, nil)
	r := NewRouter(eng, sup)

	r.onMessage(nil, &fakeMessage{topic: "server/primary-1/res/heartbeat", payload: []byte(`{}`)})
	assert.Equal(t, 0, eng.Depth(), "heartbeats bypass the engine")
	assert.False(t, sup.Active())
}

func TestActiveSupervisorBeats(t *testing.T) {
	out := &captureOut{}
	eng := engine.New(engine.Config{}, out, nopSQL{})
	sup := NewSupervisor(SupervisorConfig{
		ServerID:       "srv-1",
		HeartbeatEvery: 10 * time.Millisecond,
	}, eng, out, nil)
	sup.Start()
	defer sup.Stop()

	time.Sleep(60 * time.Millisecond)
	beats := 0
	for _, topic := range out.topics() {
		if topic == "server/srv-1/res/heartbeat" {
			beats++
		}
	}
	assert.GreaterOrEqual(t, beats, 2)
}

func TestBackupStaysPassiveWhilePrimaryBeats(t *testing.T) {
	out := &captureOut{}
	eng := engine.New(engine.Config{Backup: true}, out, nopSQL{})
	sup := NewSupervisor(SupervisorConfig{
		ServerID:       "backup-1",
		Backup:         true,
		HeartbeatEvery: 20 * time.Millisecond,
	}, eng, out, nil)
	sup.Start()
	defer sup.Stop()

	// Keep the primary alive from the outside.
	for i := 0; i < 10; i++ {
		sup.ObserveHeartbeat("primary-1")
		time.Sleep(10 * time.Millisecond)
	}
	assert.False(t, sup.Active())
}

func TestBackupTakesOverAndReseeds(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	require.NoError(t, db.Create(&models.User{UserID: "alice", Hero: "axe", Honor: 50, Status: "offline"}).Error)
	require.NoError(t, db.Create(&models.Score{UserID: "alice", Mode: "rk1v1", Score: 1200, Wins: 10, Losses: 5}).Error)
	require.NoError(t, db.Create(&models.BlackListEntry{UserID: "alice", Target: "mallory"}).Error)

	out := &captureOut{}
	eng := engine.New(engine.Config{Backup: true}, out, nopSQL{})
	eng.Start()
	defer eng.Stop()

	sup := NewSupervisor(SupervisorConfig{
		ServerID:       "backup-1",
		Backup:         true,
		HeartbeatEvery: 15 * time.Millisecond,
		MissedLimit:    2,
	}, eng, out, db)
	sup.Start()
	defer sup.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !sup.Active() {
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, sup.Active(), "backup never took over")

	snap := eng.TakeSnapshot()
	assert.True(t, snap.Active)
	assert.Equal(t, 1, snap.Users)
}
