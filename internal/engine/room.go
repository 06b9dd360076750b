package engine

// Room verbs arrive on room/<user_id>/send/<verb>: the topic names the
// acting user and the engine resolves their room from membership. Room ids
// travel in payloads (join, invite) and in the create response.

import (
	"fmt"

	"erps-platform/server/internal/codec"

	"github.com/google/uuid"
)

// maxPartySize is the largest team a room can queue for.
func (e *Engine) maxPartySize() int {
	max := 1
	for _, m := range e.cfg.Modes {
		if m.TeamSize > max {
			max = m.TeamSize
		}
	}
	return max
}

// memberRoom resolves the acting user and their room, failing the request
// when either is missing.
func (e *Engine) memberRoom(meta codec.Meta) (*User, *Room, bool) {
	u, ok := e.users[meta.TopicID]
	if !ok {
		e.fail(meta, CodeNotFound, "unknown user")
		return nil, nil, false
	}
	r, ok := e.rooms[u.RoomID]
	if !ok {
		e.fail(meta, CodeNotFound, "not in a room")
		return nil, nil, false
	}
	return u, r, true
}

// notifyRoom publishes to every member's room res topic, skipping excluded
// user ids.
func (e *Engine) notifyRoom(r *Room, verb string, body map[string]interface{}, exclude ...string) {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	for _, id := range r.Members {
		if _, ok := skip[id]; ok {
			continue
		}
		e.publish(fmt.Sprintf("room/%s/res/%s", id, verb), body)
	}
}

// dequeueRoom removes the room's queue entry, if any.
func (e *Engine) dequeueRoom(roomID, mode string) {
	q := e.queues[mode]
	for i, entry := range q {
		if entry.RoomID == roomID {
			e.queues[mode] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// removeFromRoom takes a user out of a room, dequeueing first when the room
// is queued. An emptied room is destroyed.
func (e *Engine) removeFromRoom(r *Room, u *User) {
	if r.State == RoomQueued {
		e.dequeueRoom(r.ID, r.Mode)
		r.State = RoomIdle
	}
	r.RemoveMember(u.ID)
	u.RoomID = ""
	if len(r.Members) == 0 {
		delete(e.rooms, r.ID)
		return
	}
	e.notifyRoom(r, "leave", map[string]interface{}{
		"room":   r.ID,
		"id":     u.ID,
		"master": r.Master,
	})
}

// destroyRoom frees all members and deletes the room.
func (e *Engine) destroyRoom(r *Room, notifyVerb string, body map[string]interface{}, exclude ...string) {
	if r.State == RoomQueued {
		e.dequeueRoom(r.ID, r.Mode)
	}
	if notifyVerb != "" {
		e.notifyRoom(r, notifyVerb, body, exclude...)
	}
	for _, id := range r.Members {
		if m, ok := e.users[id]; ok {
			m.RoomID = ""
		}
	}
	r.State = RoomClosed
	delete(e.rooms, r.ID)
}

func (e *Engine) handleCreate(ev codec.CreateEvent) {
	u, ok := e.users[ev.TopicID]
	if !ok {
		e.fail(ev.Meta, CodeNotFound, "unknown user")
		return
	}
	if u.RoomID != "" {
		e.fail(ev.Meta, CodeConflict, "already in a room")
		return
	}

	r := &Room{
		ID:        uuid.New().String(),
		Master:    u.ID,
		Members:   []string{u.ID},
		Mode:      ev.Mode,
		State:     RoomIdle,
		Acks:      make(map[string]bool),
		CreatedAt: e.now(),
	}
	e.rooms[r.ID] = r
	u.RoomID = r.ID
	e.ok(ev.Meta, map[string]interface{}{"room": r.ID})
}

func (e *Engine) handleClose(ev codec.CloseEvent) {
	u, r, ok := e.memberRoom(ev.Meta)
	if !ok {
		return
	}
	if r.Master != u.ID {
		e.fail(ev.Meta, CodeDenied, "only the master can close")
		return
	}
	if r.State != RoomIdle && r.State != RoomQueued {
		e.fail(ev.Meta, CodeStateViolation, "room is "+r.State.String())
		return
	}
	e.destroyRoom(r, "close", map[string]interface{}{"room": r.ID}, u.ID)
	e.ok(ev.Meta, map[string]interface{}{"room": r.ID})
}

func (e *Engine) handleStartQueue(ev codec.StartQueueEvent) {
	u, r, ok := e.memberRoom(ev.Meta)
	if !ok {
		return
	}
	if r.Master != u.ID {
		e.fail(ev.Meta, CodeDenied, "only the master can queue")
		return
	}
	if r.State != RoomIdle {
		e.fail(ev.Meta, CodeStateViolation, "room is "+r.State.String())
		return
	}
	mode, ok := e.modes[ev.Mode]
	if !ok {
		e.fail(ev.Meta, CodeNotFound, "unknown mode "+ev.Mode)
		return
	}
	if len(r.Members) > mode.TeamSize {
		e.fail(ev.Meta, CodeConflict, "party too large for "+ev.Mode)
		return
	}

	now := e.now()
	r.Mode = mode.Name
	r.State = RoomQueued
	r.QueuedAt = now
	e.queues[mode.Name] = append(e.queues[mode.Name], &QueueEntry{
		RoomID:       r.ID,
		Mode:         mode.Name,
		PartySize:    len(r.Members),
		TeamScoreAvg: r.AvgScore(e.users, mode.Name),
		EnteredAt:    now,
	})
	e.ok(ev.Meta, map[string]interface{}{"room": r.ID, "mode": mode.Name})
}

func (e *Engine) handleCancelQueue(ev codec.CancelQueueEvent) {
	u, r, ok := e.memberRoom(ev.Meta)
	if !ok {
		return
	}
	if r.Master != u.ID {
		e.fail(ev.Meta, CodeDenied, "only the master can cancel")
		return
	}
	if r.State != RoomQueued {
		e.fail(ev.Meta, CodeStateViolation, "room is "+r.State.String())
		return
	}
	e.dequeueRoom(r.ID, r.Mode)
	r.State = RoomIdle
	e.ok(ev.Meta, map[string]interface{}{"room": r.ID})
}

func (e *Engine) handleInvite(ev codec.InviteEvent) {
	u, r, ok := e.memberRoom(ev.Meta)
	if !ok {
		return
	}
	invitee, ok := e.users[ev.Invitee]
	if !ok || !invitee.Online {
		e.fail(ev.Meta, CodeNotFound, "invitee not online")
		return
	}
	if invitee.Blocked(u.ID) || u.Blocked(invitee.ID) {
		e.fail(ev.Meta, CodeDenied, "blacklisted")
		return
	}

	e.publish(fmt.Sprintf("room/%s/res/invite", invitee.ID), map[string]interface{}{
		"room": r.ID,
		"from": u.ID,
	})
	e.ok(ev.Meta, map[string]interface{}{"invite_id": invitee.ID})
}

func (e *Engine) handleJoin(ev codec.JoinEvent) {
	u, ok := e.users[ev.TopicID]
	if !ok {
		e.fail(ev.Meta, CodeNotFound, "unknown user")
		return
	}
	e.joinRoom(ev.Meta, u, ev.RoomID)
}

func (e *Engine) handleAcceptJoin(ev codec.AcceptJoinEvent) {
	u, ok := e.users[ev.TopicID]
	if !ok {
		e.fail(ev.Meta, CodeNotFound, "unknown user")
		return
	}
	if !ev.Accept {
		if r, ok := e.rooms[ev.RoomID]; ok {
			e.publish(fmt.Sprintf("room/%s/res/accept_join", r.Master), map[string]interface{}{
				"room":   r.ID,
				"id":     u.ID,
				"accept": false,
			})
		}
		e.ok(ev.Meta, map[string]interface{}{"room": ev.RoomID, "accept": false})
		return
	}
	e.joinRoom(ev.Meta, u, ev.RoomID)
}

// joinRoom carries both the direct join and the invite accept path.
func (e *Engine) joinRoom(meta codec.Meta, u *User, roomID string) {
	r, ok := e.rooms[roomID]
	if !ok {
		e.fail(meta, CodeNotFound, "unknown room")
		return
	}
	if u.RoomID != "" {
		e.fail(meta, CodeConflict, "already in a room")
		return
	}
	if r.State != RoomIdle {
		e.fail(meta, CodeStateViolation, "room is "+r.State.String())
		return
	}
	if len(r.Members) >= e.maxPartySize() {
		e.fail(meta, CodeConflict, "room is full")
		return
	}
	if master, ok := e.users[r.Master]; ok {
		if master.Blocked(u.ID) || u.Blocked(master.ID) {
			e.fail(meta, CodeDenied, "blacklisted")
			return
		}
	}

	e.notifyRoom(r, "join", map[string]interface{}{"room": r.ID, "id": u.ID})
	r.Members = append(r.Members, u.ID)
	u.RoomID = r.ID
	e.ok(meta, map[string]interface{}{
		"room":    r.ID,
		"master":  r.Master,
		"members": append([]string(nil), r.Members...),
	})
}

func (e *Engine) handleKick(ev codec.KickEvent) {
	u, r, ok := e.memberRoom(ev.Meta)
	if !ok {
		return
	}
	if r.Master != u.ID {
		e.fail(ev.Meta, CodeDenied, "only the master can kick")
		return
	}
	if ev.Target == u.ID {
		e.fail(ev.Meta, CodeConflict, "cannot kick self")
		return
	}
	if r.State != RoomIdle {
		e.fail(ev.Meta, CodeStateViolation, "room is "+r.State.String())
		return
	}
	target, ok := e.users[ev.Target]
	if !ok || !r.HasMember(ev.Target) {
		e.fail(ev.Meta, CodeNotFound, "not a member")
		return
	}

	r.RemoveMember(target.ID)
	target.RoomID = ""
	e.publish(fmt.Sprintf("room/%s/res/kick", target.ID), map[string]interface{}{"room": r.ID})
	e.notifyRoom(r, "kick", map[string]interface{}{"room": r.ID, "id": target.ID}, u.ID)
	e.ok(ev.Meta, map[string]interface{}{"kick_id": target.ID})
}

func (e *Engine) handleLeave(ev codec.LeaveEvent) {
	u, r, ok := e.memberRoom(ev.Meta)
	if !ok {
		return
	}
	if r.State == RoomPrestart || r.State == RoomInGame {
		e.fail(ev.Meta, CodeStateViolation, "room is "+r.State.String())
		return
	}
	e.removeFromRoom(r, u)
	e.ok(ev.Meta, map[string]interface{}{"room": r.ID})
}

func (e *Engine) handlePrestart(ev codec.PrestartEvent) {
	u, r, ok := e.memberRoom(ev.Meta)
	if !ok {
		return
	}
	if r.State != RoomPrestart {
		e.fail(ev.Meta, CodeStateViolation, "room is "+r.State.String())
		return
	}
	g, ok := e.games[r.GameID]
	if !ok {
		e.fail(ev.Meta, CodeNotFound, "no pending game")
		return
	}

	if !ev.Accept {
		e.ok(ev.Meta, map[string]interface{}{"game": g.ID, "accept": false})
		e.abortPrestart(g, []string{u.ID})
		return
	}

	r.Acks[u.ID] = true
	e.ok(ev.Meta, map[string]interface{}{"game": g.ID, "accept": true})

	if e.allAccepted(g) {
		e.launchGame(g)
	}
}

func (e *Engine) handlePrestartGet(ev codec.PrestartGetEvent) {
	_, r, ok := e.memberRoom(ev.Meta)
	if !ok {
		return
	}
	if r.State != RoomPrestart {
		e.ok(ev.Meta, map[string]interface{}{"state": r.State.String()})
		return
	}
	e.ok(ev.Meta, map[string]interface{}{
		"state": r.State.String(),
		"game":  r.GameID,
		"mode":  r.Mode,
	})
}

func (e *Engine) handleStart(ev codec.StartEvent) {
	u, r, ok := e.memberRoom(ev.Meta)
	if !ok {
		return
	}
	if r.Master != u.ID {
		e.fail(ev.Meta, CodeDenied, "only the master can start")
		return
	}
	if r.State != RoomInGame {
		e.fail(ev.Meta, CodeStateViolation, "room is "+r.State.String())
		return
	}
	e.ok(ev.Meta, map[string]interface{}{"game": r.GameID})
}

// allAccepted reports whether every member of every contributing room has
// accepted the pending match.
func (e *Engine) allAccepted(g *Game) bool {
	for _, roomID := range g.Rooms {
		r, ok := e.rooms[roomID]
		if !ok {
			return false
		}
		for _, id := range r.Members {
			if !r.Acks[id] {
				return false
			}
		}
	}
	return true
}

// launchGame moves all contributing rooms to ingame and announces the game.
func (e *Engine) launchGame(g *Game) {
	for _, roomID := range g.Rooms {
		r, ok := e.rooms[roomID]
		if !ok {
			continue
		}
		r.State = RoomInGame
		e.notifyRoom(r, "prestart", map[string]interface{}{
			"start": true,
			"game":  g.ID,
			"mode":  g.Mode,
		})
		for _, id := range r.Members {
			if m, ok := e.users[id]; ok {
				m.GameID = g.ID
			}
		}
	}
}

// abortPrestart cancels a pending match. Decliners are dropped back to
// their rooms; all rooms return to idle.
func (e *Engine) abortPrestart(g *Game, decliners []string) {
	for _, roomID := range g.Rooms {
		r, ok := e.rooms[roomID]
		if !ok {
			continue
		}
		r.State = RoomIdle
		r.GameID = ""
		r.Acks = make(map[string]bool)
		e.notifyRoom(r, "prestart", map[string]interface{}{
			"start":     false,
			"game":      g.ID,
			"decliners": decliners,
		})
		for _, id := range r.Members {
			if m, ok := e.users[id]; ok {
				m.GameID = ""
			}
		}
	}
	delete(e.games, g.ID)
}
