package sqlworker

import (
	"fmt"
	"testing"
	"time"

	"erps-platform/server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	// Use in-memory SQLite for tests
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = gormDB.AutoMigrate(models.All()...)
	require.NoError(t, err)

	return gormDB
}

func waitDrained(t *testing.T, w *Worker) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Depth() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("worker did not drain, depth=%d", w.Depth())
}

func TestUpsertUser(t *testing.T) {
	db := setupTestDB(t)
	w := New(db, nil, 16, 16)
	w.Start()
	defer w.Stop()

	w.Submit(UpsertUser{UserID: "alice", Hero: "axe", Honor: 50, Status: "online"})
	waitDrained(t, w)

	var user models.User
	require.NoError(t, db.Where("userid = ?", "alice").First(&user).Error)
	assert.Equal(t, "online", user.Status)
	assert.Equal(t, 50, user.Honor)

	// Second upsert refreshes instead of duplicating.
	w.Submit(UpsertUser{UserID: "alice", Hero: "axe", Honor: 51, Status: "offline"})
	waitDrained(t, w)

	var count int64
	db.Model(&models.User{}).Where("userid = ?", "alice").Count(&count)
	assert.Equal(t, int64(1), count)

	require.NoError(t, db.Where("userid = ?", "alice").First(&user).Error)
	assert.Equal(t, "offline", user.Status)
	assert.Equal(t, 51, user.Honor)
}

func TestUpdateScoreUpsert(t *testing.T) {
	db := setupTestDB(t)
	w := New(db, nil, 16, 16)
	w.Start()
	defer w.Stop()

	w.Submit(UpdateScore{UserID: "alice", Mode: "ng1v1", Score: 1016, Wins: 1})
	w.Submit(UpdateScore{UserID: "alice", Mode: "ng1v1", Score: 1000, Wins: 1, Losses: 1})
	waitDrained(t, w)

	var row models.Score
	require.NoError(t, db.Where("userid = ? AND mode = ?", "alice", "ng1v1").First(&row).Error)
	assert.Equal(t, 1000, row.Score)
	assert.Equal(t, 1, row.Wins)
	assert.Equal(t, 1, row.Losses)

	var count int64
	db.Model(&models.Score{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestInsertGameOrdering(t *testing.T) {
	db := setupTestDB(t)
	w := New(db, nil, 16, 16)
	w.Start()
	defer w.Stop()

	started := time.Now().UTC()
	w.Submit(InsertGame{Game: models.Game{GameID: "g-1", Mode: "ng1v1", TeamA: `["a"]`, TeamB: `["b"]`, Winner: 0, StartedAt: started}})
	w.Submit(UpdateScore{UserID: "a", Mode: "ng1v1", Score: 1016, Wins: 1})
	w.Submit(UpdateScore{UserID: "b", Mode: "ng1v1", Score: 984, Losses: 1})
	waitDrained(t, w)

	var game models.Game
	require.NoError(t, db.Where("game_id = ?", "g-1").First(&game).Error)
	assert.Equal(t, 0, game.Winner)

	var scores int64
	db.Model(&models.Score{}).Count(&scores)
	assert.Equal(t, int64(2), scores)
}

func TestBlackListAddRemove(t *testing.T) {
	db := setupTestDB(t)
	w := New(db, nil, 16, 16)
	w.Start()
	defer w.Stop()

	w.Submit(BlackList{UserID: "alice", Target: "bob"})
	w.Submit(BlackList{UserID: "alice", Target: "bob"}) // duplicate is a no-op
	waitDrained(t, w)

	var count int64
	db.Model(&models.BlackListEntry{}).Count(&count)
	assert.Equal(t, int64(1), count)

	w.Submit(BlackList{UserID: "alice", Target: "bob", Remove: true})
	waitDrained(t, w)

	db.Model(&models.BlackListEntry{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestCatalogCRUD(t *testing.T) {
	db := setupTestDB(t)
	w := New(db, nil, 16, 16)
	w.Start()
	defer w.Stop()

	w.Submit(Catalog{Verb: "new_equ", Key: "sword-01", Data: `{"atk":5}`})
	w.Submit(Catalog{Verb: "modify_equ", Key: "sword-01", Data: `{"atk":7}`})
	w.Submit(Catalog{Verb: "insert_equ", UserID: "alice", Key: "sword-01", Data: `{"lvl":1}`})
	w.Submit(Catalog{Verb: "new_option", Key: "opt-1", Data: `{}`})
	waitDrained(t, w)

	var equ models.Equipment
	require.NoError(t, db.Where("equ_id = ?", "sword-01").First(&equ).Error)
	assert.Equal(t, `{"atk":7}`, equ.Data)

	var userEqu models.UserEquipment
	require.NoError(t, db.Where("userid = ?", "alice").First(&userEqu).Error)
	assert.Equal(t, "sword-01", userEqu.EquID)

	w.Submit(Catalog{Verb: "delete_equ", Key: "sword-01"})
	w.Submit(Catalog{Verb: "delete_option", Key: "opt-1"})
	waitDrained(t, w)

	var count int64
	db.Model(&models.Equipment{}).Count(&count)
	assert.Equal(t, int64(0), count)
	db.Model(&models.Option{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestDropOldestScoreOnOverflow(t *testing.T) {
	db := setupTestDB(t)
	w := New(db, nil, 16, 4)

	// Queue against a stopped worker, then absorb by hand.
	w.Submit(UpdateScore{UserID: "u1", Mode: "ng1v1", Score: 1000})
	w.Submit(InsertGame{Game: models.Game{GameID: "g-1"}})
	w.Submit(UpdateScore{UserID: "u2", Mode: "ng1v1", Score: 1000})
	w.Submit(InsertGame{Game: models.Game{GameID: "g-2"}})
	w.Submit(InsertGame{Game: models.Game{GameID: "g-3"}})
	w.drain()

	// Overflow: the oldest score update gives way, criticals stay.
	require.Len(t, w.pending, 4)
	if _, ok := w.pending[0].(InsertGame); !ok {
		t.Fatalf("expected oldest score update dropped, head is %T", w.pending[0])
	}
	assert.Equal(t, 4, w.Depth(), "dropped op leaves the depth")
}

func TestCriticalBackpressureAtCap(t *testing.T) {
	db := setupTestDB(t)
	w := New(db, nil, 16, 2)

	for i := 0; i < 5; i++ {
		w.Submit(InsertGame{Game: models.Game{GameID: fmt.Sprintf("g-%d", i)}})
	}
	w.drain()

	// Criticals hold at the cap; the rest stay queued behind them.
	assert.Len(t, w.pending, 2)
	assert.False(t, w.canBuffer())
	assert.Equal(t, 3, len(w.in))
	assert.Equal(t, 5, w.Depth())
}

func TestDepthZeroMeansApplied(t *testing.T) {
	db := setupTestDB(t)
	w := New(db, nil, 16, 16)

	w.Submit(UpsertUser{UserID: "alice", Hero: "axe", Honor: 50, Status: "online"})
	assert.Equal(t, 1, w.Depth(), "accepted op counts until applied")

	w.Start()
	defer w.Stop()
	waitDrained(t, w)

	// Once the depth hits zero the row must already be visible.
	var user models.User
	require.NoError(t, db.Where("userid = ?", "alice").First(&user).Error)
	assert.Equal(t, 50, user.Honor)
	assert.Equal(t, "online", user.Status)
}

func TestReplayRows(t *testing.T) {
	db := setupTestDB(t)
	w := New(db, nil, 16, 16)
	w.Start()
	defer w.Stop()

	w.Submit(InsertReplay{GameID: "g-1", UserID: "alice", URL: "replays/g-1.bin"})
	w.Submit(InsertReplayResult{GameID: "g-1", UserID: "alice", Result: `{"win":true}`})
	waitDrained(t, w)

	var replay models.Replay
	require.NoError(t, db.Where("game_id = ?", "g-1").First(&replay).Error)
	assert.Equal(t, "replays/g-1.bin", replay.URL)

	var res models.ReplayResult
	require.NoError(t, db.Where("game_id = ?", "g-1").First(&res).Error)
	assert.Equal(t, "alice", res.UserID)
}
