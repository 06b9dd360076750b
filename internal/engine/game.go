package engine

// Game verbs arrive on game/<game_id>/send/<verb>. The acting user, when
// one matters, rides in the payload.

import (
	"encoding/json"
	"fmt"
	"log"

	"erps-platform/server/internal/codec"
	"erps-platform/server/internal/models"
	"erps-platform/server/internal/rating"
	"erps-platform/server/internal/sqlworker"
)

func (e *Engine) gameFor(meta codec.Meta) (*Game, bool) {
	g, ok := e.games[meta.TopicID]
	if !ok {
		e.fail(meta, CodeNotFound, "unknown game")
		return nil, false
	}
	return g, true
}

func (e *Engine) handleStartGame(ev codec.StartGameEvent) {
	g, ok := e.gameFor(ev.Meta)
	if !ok {
		return
	}
	if g.State != GamePrestart {
		e.fail(ev.Meta, CodeStateViolation, "game already started")
		return
	}
	g.State = GameRunning
	g.StartedAt = e.now()
	e.ok(ev.Meta, map[string]interface{}{"game": g.ID})
}

func (e *Engine) handleGameClose(ev codec.GameCloseEvent) {
	g, ok := e.gameFor(ev.Meta)
	if !ok {
		return
	}
	for _, roomID := range g.Rooms {
		if r, ok := e.rooms[roomID]; ok {
			for _, id := range r.Members {
				if m, ok := e.users[id]; ok {
					m.GameID = ""
				}
			}
			e.destroyRoom(r, "close", map[string]interface{}{"room": r.ID, "game": g.ID})
		}
	}
	delete(e.games, g.ID)
	e.ok(ev.Meta, map[string]interface{}{"game": g.ID})
}

func (e *Engine) handleGameOver(ev codec.GameOverEvent) {
	g, ok := e.gameFor(ev.Meta)
	if !ok {
		return
	}
	if g.Scored {
		e.fail(ev.Meta, CodeConflict, "game already scored")
		return
	}
	if g.State != GameRunning {
		e.fail(ev.Meta, CodeStateViolation, "game not running")
		return
	}

	g.State = GameOver
	g.Scored = true
	g.Result = ev.WinTeam
	for _, s := range ev.Stats {
		g.Stats[s.UserID] = UserStat{Kills: s.Kills, Deaths: s.Deaths, Assists: s.Assists}
	}

	e.settleScores(g, ev.WinTeam)
	e.archiveGame(g)
	e.ok(ev.Meta, map[string]interface{}{"game": g.ID, "win_team": ev.WinTeam})
}

// settleScores applies the rating exchange and pushes the per-user results
// out, both to persistence and to each member's score topic.
func (e *Engine) settleScores(g *Game, winTeam int) {
	mode, ok := e.modes[g.Mode]
	if !ok {
		log.Printf("[ENGINE] game %s has unknown mode %q, skipping scoring", g.ID, g.Mode)
		return
	}

	scoresA := make([]int, len(g.TeamA))
	scoresB := make([]int, len(g.TeamB))
	for i, id := range g.TeamA {
		scoresA[i] = e.scoreOf(id, g.Mode)
	}
	for i, id := range g.TeamB {
		scoresB[i] = e.scoreOf(id, g.Mode)
	}
	deltasA, deltasB := rating.Update(scoresA, scoresB, winTeam == 0)

	apply := func(ids []string, deltas []int, won bool) {
		for i, id := range ids {
			u, ok := e.users[id]
			if !ok {
				continue
			}
			si, ok := u.Rank[g.Mode]
			if !ok {
				si = &ScoreInfo{Score: DefaultScore}
				u.Rank[g.Mode] = si
			}
			si.Score += deltas[i]
			if won {
				si.Wins++
			} else {
				si.Losses++
			}
			e.sql.Submit(sqlworker.UpdateScore{
				UserID: id,
				Mode:   g.Mode,
				Ranked: mode.Ranked,
				Score:  si.Score,
				Wins:   si.Wins,
				Losses: si.Losses,
			})
			e.publish(fmt.Sprintf("member/%s/res/score", id), map[string]interface{}{
				"game":   g.ID,
				"mode":   g.Mode,
				"delta":  deltas[i],
				"score":  si.Score,
				"wins":   si.Wins,
				"losses": si.Losses,
				"win":    won,
			})
		}
	}
	apply(g.TeamA, deltasA, winTeam == 0)
	apply(g.TeamB, deltasB, winTeam == 1)
}

// archiveGame persists the finished game and tears down its rooms.
func (e *Engine) archiveGame(g *Game) {
	teamA, _ := json.Marshal(g.TeamA)
	teamB, _ := json.Marshal(g.TeamB)
	endedAt := e.now()
	e.sql.Submit(sqlworker.InsertGame{Game: models.Game{
		GameID:    g.ID,
		Mode:      g.Mode,
		TeamA:     string(teamA),
		TeamB:     string(teamB),
		Winner:    g.Result,
		StartedAt: g.StartedAt,
		EndedAt:   &endedAt,
	}})

	for _, roomID := range g.Rooms {
		if r, ok := e.rooms[roomID]; ok {
			for _, id := range r.Members {
				if m, ok := e.users[id]; ok {
					m.GameID = ""
				}
			}
			e.destroyRoom(r, "close", map[string]interface{}{"room": r.ID, "game": g.ID})
		}
	}
	delete(e.games, g.ID)
}

func (e *Engine) scoreOf(userID, mode string) int {
	if u, ok := e.users[userID]; ok {
		if si, ok := u.Rank[mode]; ok {
			return si.Score
		}
	}
	return DefaultScore
}

func (e *Engine) handleGameInfo(ev codec.GameInfoEvent) {
	g, ok := e.gameFor(ev.Meta)
	if !ok {
		return
	}
	e.ok(ev.Meta, map[string]interface{}{
		"game":   g.ID,
		"mode":   g.Mode,
		"team_a": append([]string(nil), g.TeamA...),
		"team_b": append([]string(nil), g.TeamB...),
		"state":  gameStateName(g.State),
	})
}

func (e *Engine) handlePick(ev codec.PickEvent) {
	g, ok := e.gameFor(ev.Meta)
	if !ok {
		return
	}
	if g.OnTeam(ev.UserID) < 0 {
		e.fail(ev.Meta, CodeNotFound, "not a participant")
		return
	}
	if ev.Ban {
		g.Bans[ev.UserID] = ev.Hero
	} else {
		g.Picks[ev.UserID] = ev.Hero
	}
	// The res topic doubles as the broadcast; every client watches it.
	e.ok(ev.Meta, map[string]interface{}{
		"id":   ev.UserID,
		"hero": ev.Hero,
		"ban":  ev.Ban,
	})
}

func (e *Engine) handleGameLeave(ev codec.GameLeaveEvent) {
	g, ok := e.gameFor(ev.Meta)
	if !ok {
		return
	}
	e.dropFromGame(ev.Meta, g, ev.UserID)
}

func (e *Engine) handleGameExit(ev codec.GameExitEvent) {
	g, ok := e.gameFor(ev.Meta)
	if !ok {
		return
	}
	id := ev.UserID
	if id == "" {
		e.fail(ev.Meta, CodeBadPayload, "missing id")
		return
	}
	e.dropFromGame(ev.Meta, g, id)
}

// dropFromGame removes a participant mid-game. Their room membership goes
// too; an abandoned game keeps running for the rest.
func (e *Engine) dropFromGame(meta codec.Meta, g *Game, userID string) {
	team := g.OnTeam(userID)
	if team < 0 {
		e.fail(meta, CodeNotFound, "not a participant")
		return
	}
	if team == 0 {
		g.TeamA = removeID(g.TeamA, userID)
	} else {
		g.TeamB = removeID(g.TeamB, userID)
	}
	if u, ok := e.users[userID]; ok {
		u.GameID = ""
		if r, ok := e.rooms[u.RoomID]; ok {
			r.RemoveMember(userID)
			u.RoomID = ""
			if len(r.Members) == 0 {
				delete(e.rooms, r.ID)
			}
		}
	}
	e.ok(meta, map[string]interface{}{"game": g.ID, "id": userID})
}

func (e *Engine) handleUpload(ev codec.UploadEvent) {
	// Uploads may land after the game has been archived; no presence check.
	e.replays[ev.TopicID] = ev.URL
	e.sql.Submit(sqlworker.InsertReplay{
		GameID: ev.TopicID,
		UserID: ev.UserID,
		URL:    ev.URL,
	})
	e.ok(ev.Meta, map[string]interface{}{"game": ev.TopicID})
}

func (e *Engine) handleResultUpload(ev codec.ResultUploadEvent) {
	e.sql.Submit(sqlworker.InsertReplayResult{
		GameID: ev.TopicID,
		UserID: ev.UserID,
		Result: ev.Result,
	})
	e.ok(ev.Meta, map[string]interface{}{"game": ev.TopicID})
}

func (e *Engine) handleRankGameStatus(ev codec.RankGameStatusEvent) {
	g, ok := e.gameFor(ev.Meta)
	if !ok {
		return
	}
	e.ok(ev.Meta, map[string]interface{}{
		"game":  g.ID,
		"picks": g.Picks,
		"bans":  g.Bans,
		"state": gameStateName(g.State),
	})
}

func (e *Engine) handleCatalog(ev codec.KindedCatalogEvent) {
	verb := ev.Verb
	e.sql.Submit(sqlworker.Catalog{
		Verb:   verb,
		UserID: ev.TopicID,
		Key:    ev.Key,
		Data:   ev.Data,
	})
	e.ok(ev.Meta, map[string]interface{}{"key": ev.Key})
}

func gameStateName(s GameState) string {
	switch s {
	case GamePrestart:
		return "prestart"
	case GameRunning:
		return "running"
	case GameOver:
		return "over"
	}
	return "unknown"
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
