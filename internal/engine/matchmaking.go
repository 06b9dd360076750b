package engine

// Matchmaking runs on the engine tick. Each pass scans every mode queue in
// FIFO order and tries to assemble one full match around the longest
// waiting entry, widening the score tolerance the longer a seed has waited.

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// tolerance is the score window a seed accepts partners from.
func (e *Engine) tolerance(waited time.Duration) float64 {
	w := e.cfg.BaseTolerance + e.cfg.ToleranceSlope*waited.Seconds()
	return math.Min(w, e.cfg.ToleranceCap)
}

func (e *Engine) matchTick(now time.Time) {
	for _, mode := range e.cfg.Modes {
		// Keep matching until the queue can no longer produce a full game.
		for e.matchOne(mode, now) {
		}
	}
}

// matchOne attempts to assemble one match for a mode. Returns true when a
// match formed and entries were consumed.
func (e *Engine) matchOne(mode Mode, now time.Time) bool {
	queue := e.queues[mode.Name]
	if len(queue) < 2 {
		return false
	}

	// Stable matching order: wait time first, room id breaks ties.
	snapshot := append([]*QueueEntry(nil), queue...)
	sort.SliceStable(snapshot, func(i, j int) bool {
		if !snapshot[i].EnteredAt.Equal(snapshot[j].EnteredAt) {
			return snapshot[i].EnteredAt.Before(snapshot[j].EnteredAt)
		}
		return snapshot[i].RoomID < snapshot[j].RoomID
	})

	for _, seed := range snapshot {
		teamA, teamB, ok := e.assemble(seed, snapshot, mode, now)
		if !ok {
			continue
		}
		e.formGame(mode, teamA, teamB, now)
		return true
	}
	return false
}

// assemble greedily packs compatible entries around the seed into two full
// teams. The seed anchors team A.
func (e *Engine) assemble(seed *QueueEntry, snapshot []*QueueEntry, mode Mode, now time.Time) (teamA, teamB []*QueueEntry, ok bool) {
	window := e.tolerance(now.Sub(seed.EnteredAt))

	sizeA := seed.PartySize
	sizeB := 0
	teamA = []*QueueEntry{seed}

	for _, cand := range snapshot {
		if cand == seed {
			continue
		}
		if sizeA == mode.TeamSize && sizeB == mode.TeamSize {
			break
		}
		if math.Abs(cand.TeamScoreAvg-seed.TeamScoreAvg) > window {
			continue
		}
		if e.blacklistClash(cand, teamA) || e.blacklistClash(cand, teamB) {
			continue
		}
		if sizeA+cand.PartySize <= mode.TeamSize {
			teamA = append(teamA, cand)
			sizeA += cand.PartySize
			continue
		}
		if sizeB+cand.PartySize <= mode.TeamSize {
			teamB = append(teamB, cand)
			sizeB += cand.PartySize
		}
	}

	if sizeA != mode.TeamSize || sizeB != mode.TeamSize {
		return nil, nil, false
	}
	return teamA, teamB, true
}

// blacklistClash reports whether any member of the candidate's room blocks
// or is blocked by any member of the already selected rooms.
func (e *Engine) blacklistClash(cand *QueueEntry, picked []*QueueEntry) bool {
	candRoom, ok := e.rooms[cand.RoomID]
	if !ok {
		return true
	}
	for _, sel := range picked {
		selRoom, ok := e.rooms[sel.RoomID]
		if !ok {
			return true
		}
		for _, a := range candRoom.Members {
			ua, ok := e.users[a]
			if !ok {
				return true
			}
			for _, b := range selRoom.Members {
				ub, ok := e.users[b]
				if !ok {
					return true
				}
				if ua.Blocked(b) || ub.Blocked(a) {
					return true
				}
			}
		}
	}
	return false
}

// formGame consumes the matched entries, moves their rooms to prestart and
// sends the accept offer to every player.
func (e *Engine) formGame(mode Mode, teamA, teamB []*QueueEntry, now time.Time) {
	g := &Game{
		ID:     uuid.New().String(),
		Mode:   mode.Name,
		State:  GamePrestart,
		Picks:  make(map[string]string),
		Bans:   make(map[string]string),
		Stats:  make(map[string]UserStat),
		Result: -1,
	}

	collect := func(entries []*QueueEntry, team *[]string) {
		for _, entry := range entries {
			e.dequeueRoom(entry.RoomID, mode.Name)
			r, ok := e.rooms[entry.RoomID]
			if !ok {
				continue
			}
			r.State = RoomPrestart
			r.GameID = g.ID
			r.PrestartAt = now
			r.Acks = make(map[string]bool)
			g.Rooms = append(g.Rooms, r.ID)
			*team = append(*team, r.Members...)
		}
	}
	collect(teamA, &g.TeamA)
	collect(teamB, &g.TeamB)

	e.games[g.ID] = g

	offer := map[string]interface{}{
		"game":        g.ID,
		"mode":        mode.Name,
		"deadline_ms": e.cfg.PrestartAnswer.Milliseconds(),
	}
	for _, id := range g.Participants() {
		e.publish(fmt.Sprintf("room/%s/res/prestart", id), offer)
	}
}

// expirePrestarts aborts matches whose accept deadline passed. Members who
// never answered count as decliners.
func (e *Engine) expirePrestarts(now time.Time) {
	for _, g := range e.games {
		if g.State != GamePrestart {
			continue
		}
		expired := false
		var silent []string
		for _, roomID := range g.Rooms {
			r, ok := e.rooms[roomID]
			if !ok || r.State != RoomPrestart {
				continue
			}
			if now.Sub(r.PrestartAt) > e.cfg.PrestartAnswer {
				expired = true
			}
			for _, id := range r.Members {
				if !r.Acks[id] {
					silent = append(silent, id)
				}
			}
		}
		if expired {
			e.abortPrestart(g, silent)
		}
	}
}
