// Package sqlworker serializes persistence writes on one database handle.
// The event engine fires ops and never waits: ordering is FIFO, failures
// are retried with backoff, and when the pending buffer overflows the
// oldest score update is dropped before anything critical. An all-critical
// buffer stops draining the channel instead, so criticals hold at the cap
// and backpressure reaches the engine.
package sqlworker

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"erps-platform/server/internal/models"
	"erps-platform/server/internal/redis"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Op is one persistence operation.
type Op interface {
	// Critical ops are never dropped on buffer overflow.
	Critical() bool
}

// UpsertUser inserts or refreshes a user account row.
type UpsertUser struct {
	UserID string
	Hero   string
	Honor  int
	Status string
}

// UpdateStatus flips a user's online/offline status.
type UpdateStatus struct {
	UserID string
	Status string
}

// UpdateScore writes one user's per-mode rating. Droppable under pressure:
// a missed write loses at most one game of rating drift.
type UpdateScore struct {
	UserID string
	Mode   string
	Ranked bool
	Score  int
	Wins   int
	Losses int
}

// InsertGame archives a finished game.
type InsertGame struct {
	Game models.Game
}

// InsertReplay records an uploaded replay reference.
type InsertReplay struct {
	GameID string
	UserID string
	URL    string
}

// InsertReplayResult records the processed replay outcome.
type InsertReplayResult struct {
	GameID string
	UserID string
	Result string
}

// BlackList adds or removes a blacklist pair.
type BlackList struct {
	UserID string
	Target string
	Remove bool
}

// Catalog is a manager-side equipment/option CRUD write. Verb names the
// operation; payload semantics are owned by the manager tools.
type Catalog struct {
	Verb   string
	UserID string
	Key    string
	Data   string
}

func (UpsertUser) Critical() bool         { return true }
func (UpdateStatus) Critical() bool       { return true }
func (UpdateScore) Critical() bool        { return false }
func (InsertGame) Critical() bool         { return true }
func (InsertReplay) Critical() bool       { return true }
func (InsertReplayResult) Critical() bool { return true }
func (BlackList) Critical() bool          { return true }
func (Catalog) Critical() bool            { return true }

// DefaultQueueCap bounds the inbound op channel.
const DefaultQueueCap = 10000

// DefaultPendingCap bounds the in-worker retry buffer.
const DefaultPendingCap = 4096

const maxBackoff = 30 * time.Second

// Worker consumes ops on a single goroutine over one gorm handle.
type Worker struct {
	db    *gorm.DB
	cache *redis.Client // nil disables the leaderboard mirror

	in         chan Op
	pending    []Op
	inflight   atomic.Int64 // accepted but not yet applied or dropped
	pendingCap int
	stop       chan struct{}
	done       chan struct{}
}

// New creates a worker. cache may be nil.
func New(db *gorm.DB, cache *redis.Client, queueCap, pendingCap int) *Worker {
	if queueCap <= 0 {
		queueCap = DefaultQueueCap
	}
	if pendingCap <= 0 {
		pendingCap = DefaultPendingCap
	}
	return &Worker{
		db:         db,
		cache:      cache,
		in:         make(chan Op, queueCap),
		pendingCap: pendingCap,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Submit queues an op, blocking if the channel is full.
func (w *Worker) Submit(op Op) {
	w.inflight.Add(1)
	select {
	case w.in <- op:
	case <-w.stop:
		w.inflight.Add(-1)
	}
}

// Depth returns the number of accepted ops not yet applied. Zero means
// every submitted op has reached the database or been dropped.
func (w *Worker) Depth() int {
	return int(w.inflight.Load())
}

// Stop flushes queued ops and shuts the worker down.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)

	backoff := time.Second
	for {
		// A full all-critical buffer stops receiving until a flush makes
		// room; the inbound channel then blocks the engine, which is the
		// intended backpressure.
		if w.canBuffer() {
			select {
			case op := <-w.in:
				w.buffer(op)
				// Opportunistically absorb whatever else is queued so a
				// flush covers a batch, then write in FIFO order.
				w.drain()
			case <-w.stop:
				// Alternate absorb and write until everything queued has
				// been attempted; drain stops at the cap, so one pass is
				// not enough.
				for {
					w.drain()
					w.flush(&backoff)
					if len(w.in) == 0 && len(w.pending) == 0 {
						return
					}
				}
			}
		}
		w.flush(&backoff)
	}
}

func (w *Worker) drain() {
	for w.canBuffer() {
		select {
		case op := <-w.in:
			w.buffer(op)
		default:
			return
		}
	}
}

// canBuffer reports whether one more op can be accepted: either the
// pending buffer has room, or a score update can give way.
func (w *Worker) canBuffer() bool {
	if len(w.pending) < w.pendingCap {
		return true
	}
	for _, op := range w.pending {
		if !op.Critical() {
			return true
		}
	}
	return false
}

func (w *Worker) buffer(op Op) {
	if len(w.pending) >= w.pendingCap {
		w.dropOldestScore()
	}
	w.pending = append(w.pending, op)
}

func (w *Worker) dropOldestScore() bool {
	for i, op := range w.pending {
		if !op.Critical() {
			log.Printf("[SQL] WARNING: dropping score update for overflow: %+v", op)
			w.pending = append(w.pending[:i], w.pending[i+1:]...)
			w.inflight.Add(-1)
			return true
		}
	}
	return false
}

func (w *Worker) flush(backoff *time.Duration) {
	attempts := 0
	for len(w.pending) > 0 {
		op := w.pending[0]
		if err := w.exec(op); err != nil {
			attempts++
			if attempts > 8 {
				// Past the backoff cap the failure is not transient; a
				// poisoned op must not wedge everything behind it.
				log.Printf("[SQL] giving up on op %T after %d attempts: %v", op, attempts, err)
				w.pending = w.pending[1:]
				w.inflight.Add(-1)
				attempts = 0
				continue
			}
			log.Printf("[SQL] op failed, retrying in %s: %v", *backoff, err)
			select {
			case <-time.After(*backoff):
			case <-w.stop:
				// One more attempt during shutdown, then give up.
				if err := w.exec(op); err != nil {
					log.Printf("[SQL] dropping %d ops on shutdown: %v", len(w.pending), err)
					w.inflight.Add(-int64(len(w.pending)))
					w.pending = nil
					return
				}
				w.pending = w.pending[1:]
				w.inflight.Add(-1)
			}
			*backoff *= 2
			if *backoff > maxBackoff {
				*backoff = maxBackoff
			}
			continue
		}
		*backoff = time.Second
		attempts = 0
		w.pending = w.pending[1:]
		w.inflight.Add(-1)
	}
}

func (w *Worker) exec(op Op) error {
	switch o := op.(type) {
	case UpsertUser:
		user := models.User{UserID: o.UserID, Hero: o.Hero, Honor: o.Honor, Status: o.Status}
		return w.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "userid"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "hero", "honor"}),
		}).Create(&user).Error

	case UpdateStatus:
		return w.db.Model(&models.User{}).
			Where("userid = ?", o.UserID).
			Update("status", o.Status).Error

	case UpdateScore:
		row := models.Score{UserID: o.UserID, Mode: o.Mode, Score: o.Score, Wins: o.Wins, Losses: o.Losses}
		err := w.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "userid"}, {Name: "mode"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "wins", "losses"}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		if o.Ranked && w.cache != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := w.cache.SetScore(ctx, o.Mode, o.UserID, o.Score); err != nil {
				// Cache drift is acceptable; the score table is authoritative.
				log.Printf("[SQL] leaderboard mirror failed for %s/%s: %v", o.Mode, o.UserID, err)
			}
		}
		return nil

	case InsertGame:
		return w.db.Create(&o.Game).Error

	case InsertReplay:
		return w.db.Create(&models.Replay{GameID: o.GameID, UserID: o.UserID, URL: o.URL}).Error

	case InsertReplayResult:
		return w.db.Create(&models.ReplayResult{GameID: o.GameID, UserID: o.UserID, Result: o.Result}).Error

	case BlackList:
		if o.Remove {
			return w.db.Where("userid = ? AND target = ?", o.UserID, o.Target).
				Delete(&models.BlackListEntry{}).Error
		}
		row := models.BlackListEntry{UserID: o.UserID, Target: o.Target}
		return w.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error

	case Catalog:
		return w.execCatalog(o)
	}

	log.Printf("[SQL] unknown op %T, skipping", op)
	return nil
}

func (w *Worker) execCatalog(o Catalog) error {
	switch o.Verb {
	case "equ_test":
		// Probe only; managers use it to verify the write path is alive.
		return w.db.Exec("SELECT 1").Error
	case "new_equ":
		row := models.Equipment{EquID: o.Key, Data: o.Data}
		return w.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	case "modify_equ":
		return w.db.Model(&models.Equipment{}).
			Where("equ_id = ?", o.Key).
			Update("data", o.Data).Error
	case "delete_equ":
		return w.db.Where("equ_id = ?", o.Key).Delete(&models.Equipment{}).Error
	case "insert_equ":
		return w.db.Create(&models.UserEquipment{UserID: o.UserID, EquID: o.Key, Data: o.Data}).Error
	case "modify_userequ":
		return w.db.Model(&models.UserEquipment{}).
			Where("userid = ? AND equ_id = ?", o.UserID, o.Key).
			Update("data", o.Data).Error
	case "delete_userequ":
		return w.db.Where("userid = ? AND equ_id = ?", o.UserID, o.Key).
			Delete(&models.UserEquipment{}).Error
	case "new_option":
		row := models.Option{OptionID: o.Key, Data: o.Data}
		return w.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	case "modify_option":
		return w.db.Model(&models.Option{}).
			Where("option_id = ?", o.Key).
			Update("data", o.Data).Error
	case "delete_option":
		return w.db.Where("option_id = ?", o.Key).Delete(&models.Option{}).Error
	}
	log.Printf("[SQL] unknown catalog verb %q, skipping", o.Verb)
	return nil
}
