package engine

import (
	"sort"

	"erps-platform/server/internal/codec"
	"erps-platform/server/internal/sqlworker"
)

func (e *Engine) handleLogin(ev codec.LoginEvent) {
	id := ev.TopicID
	u, ok := e.users[id]
	if !ok {
		u = NewUser(id, e.cfg.Modes)
		e.users[id] = u
	}
	u.Online = true
	u.LogoutAt = zeroTime

	e.sql.Submit(sqlworker.UpsertUser{
		UserID: id,
		Hero:   u.Hero,
		Honor:  u.Honor,
		Status: "online",
	})

	rank := make(map[string]interface{}, len(u.Rank))
	for mode, si := range u.Rank {
		rank[mode] = si
	}
	e.ok(ev.Meta, map[string]interface{}{
		"hero":  u.Hero,
		"honor": u.Honor,
		"rank":  rank,
	})
}

func (e *Engine) handleLogout(ev codec.LogoutEvent) {
	u, ok := e.users[ev.TopicID]
	if !ok {
		e.fail(ev.Meta, CodeNotFound, "unknown user")
		return
	}

	// Logging out abandons the party too.
	if u.RoomID != "" {
		if r, ok := e.rooms[u.RoomID]; ok && (r.State == RoomIdle || r.State == RoomQueued) {
			e.removeFromRoom(r, u)
		}
	}

	u.Online = false
	u.LogoutAt = e.now()
	e.sql.Submit(sqlworker.UpdateStatus{UserID: u.ID, Status: "offline"})
	e.ok(ev.Meta, nil)
}

func (e *Engine) handleChooseHero(ev codec.ChooseHeroEvent) {
	u, ok := e.users[ev.TopicID]
	if !ok {
		e.fail(ev.Meta, CodeNotFound, "unknown user")
		return
	}
	u.Hero = ev.Hero
	e.sql.Submit(sqlworker.UpsertUser{
		UserID: u.ID,
		Hero:   u.Hero,
		Honor:  u.Honor,
		Status: statusOf(u),
	})
	e.ok(ev.Meta, map[string]interface{}{"hero": u.Hero})
}

func (e *Engine) handleStatus(ev codec.StatusEvent) {
	u, ok := e.users[ev.TopicID]
	if !ok {
		e.fail(ev.Meta, CodeNotFound, "unknown user")
		return
	}
	body := map[string]interface{}{
		"online": u.Online,
		"room":   u.RoomID,
		"game":   u.GameID,
	}
	if r, ok := e.rooms[u.RoomID]; ok {
		body["room_state"] = r.State.String()
	}
	e.ok(ev.Meta, body)
}

func (e *Engine) handleReconnect(ev codec.ReconnectEvent) {
	u, ok := e.users[ev.TopicID]
	if !ok {
		e.fail(ev.Meta, CodeNotFound, "unknown user, login required")
		return
	}
	u.Online = true
	u.LogoutAt = zeroTime
	e.sql.Submit(sqlworker.UpdateStatus{UserID: u.ID, Status: "online"})

	body := map[string]interface{}{
		"room": u.RoomID,
		"game": u.GameID,
	}
	if r, ok := e.rooms[u.RoomID]; ok {
		body["room_state"] = r.State.String()
	}
	e.ok(ev.Meta, body)
}

func (e *Engine) handleReplay(ev codec.ReplayEvent) {
	url, ok := e.replays[ev.GameID]
	if !ok {
		e.fail(ev.Meta, CodeNotFound, "no replay for game")
		return
	}
	e.ok(ev.Meta, map[string]interface{}{
		"game": ev.GameID,
		"url":  url,
	})
}

func (e *Engine) handleBlackList(ev codec.BlackListEvent) {
	u, ok := e.users[ev.TopicID]
	if !ok {
		e.fail(ev.Meta, CodeNotFound, "unknown user")
		return
	}
	if ev.Target == u.ID {
		e.fail(ev.Meta, CodeConflict, "cannot blacklist self")
		return
	}

	if ev.Remove {
		if _, ok := u.BlackList[ev.Target]; !ok {
			e.fail(ev.Meta, CodeNotFound, "not on blacklist")
			return
		}
		delete(u.BlackList, ev.Target)
	} else {
		u.BlackList[ev.Target] = struct{}{}
	}
	e.sql.Submit(sqlworker.BlackList{UserID: u.ID, Target: ev.Target, Remove: ev.Remove})
	e.ok(ev.Meta, map[string]interface{}{"black_id": ev.Target})
}

func (e *Engine) handleQueryBlackList(ev codec.QueryBlackListEvent) {
	u, ok := e.users[ev.TopicID]
	if !ok {
		e.fail(ev.Meta, CodeNotFound, "unknown user")
		return
	}
	list := make([]string, 0, len(u.BlackList))
	for id := range u.BlackList {
		list = append(list, id)
	}
	sort.Strings(list)
	e.ok(ev.Meta, map[string]interface{}{"black_list": list})
}

func statusOf(u *User) string {
	if u.Online {
		return "online"
	}
	return "offline"
}
