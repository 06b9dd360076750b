// Package engine holds the whole live world: users, rooms, queues and
// games. One goroutine owns all of it. Inbound events arrive on a bounded
// channel, responses leave through the publisher pool, persistence goes
// through the sql worker. Nothing in here takes a lock.
package engine

import (
	"encoding/json"
	"log"
	"time"

	"erps-platform/server/internal/broker"
	"erps-platform/server/internal/codec"
	"erps-platform/server/internal/models"
	"erps-platform/server/internal/sqlworker"
)

// Outbound accepts messages for publishing. Enqueue may block when the
// outbound queue is full; that backpressure is intentional.
type Outbound interface {
	Enqueue(broker.Message)
}

// Persister accepts persistence ops.
type Persister interface {
	Submit(sqlworker.Op)
}

// DefaultQueueCap bounds the inbound event channel.
const DefaultQueueCap = 10000

// Config tunes the engine. Zero values fall back to production defaults.
type Config struct {
	Modes          []Mode
	QueueCap       int
	TickInterval   time.Duration // matchmaking cadence
	BaseTolerance  float64       // score window at queue entry
	ToleranceSlope float64       // window growth per waited second
	ToleranceCap   float64
	PrestartAnswer time.Duration // accept deadline after a match forms
	DedupWindow    time.Duration
	OfflineGrace   time.Duration // in-memory retention after logout
	Backup         bool          // start passive, wait for takeover
}

func (c *Config) fillDefaults() {
	if len(c.Modes) == 0 {
		c.Modes = DefaultModes
	}
	if c.QueueCap <= 0 {
		c.QueueCap = DefaultQueueCap
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 500 * time.Millisecond
	}
	if c.BaseTolerance <= 0 {
		c.BaseTolerance = 50
	}
	if c.ToleranceSlope <= 0 {
		c.ToleranceSlope = 20
	}
	if c.ToleranceCap <= 0 {
		c.ToleranceCap = 400
	}
	if c.PrestartAnswer <= 0 {
		c.PrestartAnswer = 10 * time.Second
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 60 * time.Second
	}
	if c.OfflineGrace <= 0 {
		c.OfflineGrace = 5 * time.Minute
	}
}

// Engine is the single-owner event loop.
type Engine struct {
	cfg   Config
	out   Outbound
	sql   Persister
	modes map[string]Mode

	in   chan codec.Event
	stop chan struct{}
	done chan struct{}

	active bool

	users   map[string]*User
	rooms   map[string]*Room
	games   map[string]*Game
	queues  map[string][]*QueueEntry
	replays map[string]string // game id -> uploaded replay url

	dedup *dedup
	// curDedup holds the key of the request being handled so reply() can
	// record the response for replay. Empty outside handle().
	curDedup struct {
		userID, verb, requestID string
		armed                   bool
	}

	now func() time.Time
}

// New creates an engine. A backup engine stays passive until ServerDead.
func New(cfg Config, out Outbound, sql Persister) *Engine {
	cfg.fillDefaults()
	e := &Engine{
		cfg:     cfg,
		out:     out,
		sql:     sql,
		modes:   make(map[string]Mode, len(cfg.Modes)),
		in:      make(chan codec.Event, cfg.QueueCap),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		active:  !cfg.Backup,
		users:   make(map[string]*User),
		rooms:   make(map[string]*Room),
		games:   make(map[string]*Game),
		queues:  make(map[string][]*QueueEntry),
		replays: make(map[string]string),
		dedup:   newDedup(cfg.DedupWindow),
		now:     time.Now,
	}
	for _, m := range cfg.Modes {
		e.modes[m.Name] = m
	}
	return e
}

// SeedUser carries one persisted user for bulk loading.
type SeedUser struct {
	Row       models.User
	Scores    []models.Score
	BlackList []string
}

type seedEvent struct{ users []SeedUser }

func (seedEvent) EventKind() codec.Kind { return codec.KindUnknown }

// SeedUsers loads persisted users through the event loop. The supervisor
// uses it when a backup takes over and world state must be rebuilt.
func (e *Engine) SeedUsers(users []SeedUser) {
	e.Submit(seedEvent{users: users})
}

// LoadUser seeds one user from persistence before the loop starts. Used by
// the supervisor on startup and after a takeover or restart.
func (e *Engine) LoadUser(row models.User, scores []models.Score, blacklist []string) {
	u := NewUser(row.UserID, e.cfg.Modes)
	if row.Hero != "" {
		u.Hero = row.Hero
	}
	u.Honor = row.Honor
	u.Online = row.Status == "online"
	for _, s := range scores {
		u.Rank[s.Mode] = &ScoreInfo{Score: s.Score, Wins: s.Wins, Losses: s.Losses}
	}
	for _, b := range blacklist {
		u.BlackList[b] = struct{}{}
	}
	e.users[row.UserID] = u
}

// Submit queues one inbound event, blocking when the channel is full.
func (e *Engine) Submit(ev codec.Event) {
	select {
	case e.in <- ev:
	case <-e.stop:
	}
}

// Depth returns the number of queued, unhandled events.
func (e *Engine) Depth() int {
	return len(e.in)
}

// Start launches the event loop.
func (e *Engine) Start() {
	go e.run()
}

// Stop shuts the loop down without draining.
func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
}

func (e *Engine) run() {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	log.Printf("[ENGINE] loop started (active=%v, %d modes)", e.active, len(e.modes))
	for {
		select {
		case ev := <-e.in:
			e.safeHandle(ev)
		case <-ticker.C:
			e.tick()
		case <-e.stop:
			return
		}
	}
}

// safeHandle contains a handler panic to the offending event. The world may
// be left partially mutated; the supervisor reseeds from persistence when
// that matters.
func (e *Engine) safeHandle(ev codec.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ENGINE] panic handling %T: %v", ev, r)
			e.curDedup.armed = false
		}
	}()
	e.handle(ev)
}

// synthetic events injected by the supervisor and the status endpoint.

type serverDeadEvent struct{}
type resetEvent struct{}
type snapshotEvent struct{ reply chan Snapshot }
type decodeFailEvent struct{ c codec.Classified }

func (serverDeadEvent) EventKind() codec.Kind { return codec.KindUnknown }
func (resetEvent) EventKind() codec.Kind      { return codec.KindUnknown }
func (snapshotEvent) EventKind() codec.Kind   { return codec.KindUnknown }
func (decodeFailEvent) EventKind() codec.Kind { return codec.KindUnknown }

// ServerDead promotes a passive backup to active.
func (e *Engine) ServerDead() {
	e.Submit(serverDeadEvent{})
}

// Reset drops all volatile state. The supervisor issues it before reseeding
// users after a crash restart.
func (e *Engine) Reset() {
	e.Submit(resetEvent{})
}

// Snapshot holds the counters the status endpoint reports.
type Snapshot struct {
	Active bool           `json:"active"`
	Users  int            `json:"users"`
	Online int            `json:"online"`
	Rooms  int            `json:"rooms"`
	Games  int            `json:"games"`
	Queues map[string]int `json:"queues"`
	Dedup  int            `json:"dedup"`
}

// TakeSnapshot reads the world counters through the event loop.
func (e *Engine) TakeSnapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	e.Submit(snapshotEvent{reply: reply})
	select {
	case s := <-reply:
		return s
	case <-e.stop:
		return Snapshot{}
	}
}

func (e *Engine) snapshot() Snapshot {
	s := Snapshot{
		Active: e.active,
		Users:  len(e.users),
		Rooms:  len(e.rooms),
		Games:  len(e.games),
		Queues: make(map[string]int, len(e.queues)),
		Dedup:  e.dedup.size(),
	}
	for _, u := range e.users {
		if u.Online {
			s.Online++
		}
	}
	for mode, q := range e.queues {
		s.Queues[mode] = len(q)
	}
	return s
}

type metaCarrier interface {
	EventMeta() codec.Meta
}

func (e *Engine) handle(ev codec.Event) {
	switch v := ev.(type) {
	case snapshotEvent:
		v.reply <- e.snapshot()
		return
	case serverDeadEvent:
		if !e.active {
			log.Printf("[ENGINE] primary declared dead, taking over")
			e.active = true
		}
		return
	case resetEvent:
		e.reset()
		return
	case seedEvent:
		for _, su := range v.users {
			e.LoadUser(su.Row, su.Scores, su.BlackList)
		}
		log.Printf("[ENGINE] seeded %d users", len(v.users))
		return
	}

	// A passive backup observes nothing and answers nothing.
	if !e.active {
		return
	}

	if v, ok := ev.(decodeFailEvent); ok {
		body, _ := json.Marshal(map[string]interface{}{"err": "bad payload", "code": CodeBadPayload})
		e.out.Enqueue(broker.Message{Topic: v.c.ResTopic(), Payload: body})
		return
	}

	mc, ok := ev.(metaCarrier)
	if !ok {
		return
	}
	meta := mc.EventMeta()

	now := e.now()
	if replay, dup := e.dedup.check(meta.TopicID, meta.Verb, meta.RequestID, now); dup {
		if replay != nil {
			e.out.Enqueue(*replay)
		}
		return
	}
	e.curDedup.userID = meta.TopicID
	e.curDedup.verb = meta.Verb
	e.curDedup.requestID = meta.RequestID
	e.curDedup.armed = true
	defer func() {
		if e.curDedup.armed {
			// Handler produced no direct reply; remember the request anyway.
			e.dedup.mark(e.curDedup.userID, e.curDedup.verb, e.curDedup.requestID, nil, now)
		}
		e.curDedup.armed = false
	}()

	e.dispatch(ev)
}

func (e *Engine) dispatch(ev codec.Event) {
	switch v := ev.(type) {
	case codec.LoginEvent:
		e.handleLogin(v)
	case codec.LogoutEvent:
		e.handleLogout(v)
	case codec.ChooseHeroEvent:
		e.handleChooseHero(v)
	case codec.StatusEvent:
		e.handleStatus(v)
	case codec.ReconnectEvent:
		e.handleReconnect(v)
	case codec.ReplayEvent:
		e.handleReplay(v)
	case codec.BlackListEvent:
		e.handleBlackList(v)
	case codec.QueryBlackListEvent:
		e.handleQueryBlackList(v)

	case codec.CreateEvent:
		e.handleCreate(v)
	case codec.CloseEvent:
		e.handleClose(v)
	case codec.StartQueueEvent:
		e.handleStartQueue(v)
	case codec.CancelQueueEvent:
		e.handleCancelQueue(v)
	case codec.InviteEvent:
		e.handleInvite(v)
	case codec.JoinEvent:
		e.handleJoin(v)
	case codec.AcceptJoinEvent:
		e.handleAcceptJoin(v)
	case codec.KickEvent:
		e.handleKick(v)
	case codec.LeaveEvent:
		e.handleLeave(v)
	case codec.PrestartEvent:
		e.handlePrestart(v)
	case codec.PrestartGetEvent:
		e.handlePrestartGet(v)
	case codec.StartEvent:
		e.handleStart(v)

	case codec.StartGameEvent:
		e.handleStartGame(v)
	case codec.GameCloseEvent:
		e.handleGameClose(v)
	case codec.GameOverEvent:
		e.handleGameOver(v)
	case codec.GameInfoEvent:
		e.handleGameInfo(v)
	case codec.PickEvent:
		e.handlePick(v)
	case codec.GameLeaveEvent:
		e.handleGameLeave(v)
	case codec.GameExitEvent:
		e.handleGameExit(v)
	case codec.UploadEvent:
		e.handleUpload(v)
	case codec.ResultUploadEvent:
		e.handleResultUpload(v)
	case codec.RankGameStatusEvent:
		e.handleRankGameStatus(v)

	case codec.ServerLoginEvent:
		e.ok(v.Meta, nil)
	case codec.KindedCatalogEvent:
		e.handleCatalog(v)

	case codec.HeartbeatEvent:
		// Liveness is the supervisor's concern.

	default:
		log.Printf("[ENGINE] unhandled event %T", ev)
	}
}

// tick runs the periodic work: matchmaking, prestart deadlines, offline
// retention and dedup expiry.
func (e *Engine) tick() {
	if !e.active {
		return
	}
	now := e.now()
	e.matchTick(now)
	e.expirePrestarts(now)
	e.purgeOffline(now)
	e.dedup.sweep(now)
}

func (e *Engine) reset() {
	e.users = make(map[string]*User)
	e.rooms = make(map[string]*Room)
	e.games = make(map[string]*Game)
	e.queues = make(map[string][]*QueueEntry)
	e.replays = make(map[string]string)
	e.dedup = newDedup(e.cfg.DedupWindow)
	log.Printf("[ENGINE] state reset")
}

func (e *Engine) purgeOffline(now time.Time) {
	for id, u := range e.users {
		if u.Online || u.RoomID != "" || u.GameID != "" {
			continue
		}
		if !u.LogoutAt.IsZero() && now.Sub(u.LogoutAt) > e.cfg.OfflineGrace {
			delete(e.users, id)
		}
	}
}

// publish marshals and enqueues one outbound message.
func (e *Engine) publish(topic string, body map[string]interface{}) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Printf("[ENGINE] marshal failed for %s: %v", topic, err)
		return
	}
	e.out.Enqueue(broker.Message{Topic: topic, Payload: payload})
}

// reply publishes on the request's res topic and records the message for
// dedup replay.
func (e *Engine) reply(meta codec.Meta, body map[string]interface{}) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Printf("[ENGINE] marshal failed for %s: %v", meta.ResTopic(), err)
		return
	}
	msg := broker.Message{Topic: meta.ResTopic(), Payload: payload}
	if e.curDedup.armed {
		e.dedup.mark(e.curDedup.userID, e.curDedup.verb, e.curDedup.requestID, &msg, e.now())
		e.curDedup.armed = false
	}
	e.out.Enqueue(msg)
}

// ok replies with msg=ok plus extra fields.
func (e *Engine) ok(meta codec.Meta, extra map[string]interface{}) {
	body := map[string]interface{}{"msg": "ok"}
	for k, v := range extra {
		body[k] = v
	}
	e.reply(meta, body)
}

// fail replies with an error message and code.
func (e *Engine) fail(meta codec.Meta, code int, msg string) {
	e.reply(meta, map[string]interface{}{"err": msg, "code": code})
}

// FailDecode reports a payload that classified but failed to decode. The
// router calls it so malformed requests still get an answer.
func (e *Engine) FailDecode(c codec.Classified) {
	e.Submit(decodeFailEvent{c: c})
}
