// Package codec recognizes inbound MQTT topics and decodes their JSON
// payloads into typed events. Classification is table-driven: one compiled
// regex splits the topic, a category/verb lookup names the event kind.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// Kind identifies one entry of the event dispatch table.
type Kind int

const (
	KindUnknown Kind = iota

	// member
	KindLogin
	KindLogout
	KindChooseHero
	KindStatus
	KindReconnect
	KindReplay
	KindAddBlackList
	KindQueryBlackList
	KindRemoveBlackList

	// room
	KindCreate
	KindClose
	KindStartQueue
	KindCancelQueue
	KindInvite
	KindJoin
	KindAcceptJoin
	KindKick
	KindLeave
	KindPrestart
	KindPrestartGet
	KindStart

	// game
	KindStartGame
	KindGameClose
	KindGameOver
	KindGameInfo
	KindChoose
	KindBan
	KindGameLeave
	KindGameExit
	KindUpload
	KindResultUpload
	KindRankGameStatus

	// server
	KindHeartbeat
	KindServerLogin

	// manager
	KindEquTest
	KindInsertEqu
	KindModifyUserEqu
	KindDeleteUserEqu
	KindModifyEqu
	KindNewEqu
	KindDeleteEqu
	KindModifyOption
	KindNewOption
	KindDeleteOption
)

// ErrBadPayload is returned when a payload is not valid JSON or is missing
// a required field.
var ErrBadPayload = errors.New("bad payload")

// Composite ids may contain single dashes between alphanumeric runs.
// Leading or trailing dashes do not match, so such topics are dropped.
var topicRe = regexp.MustCompile(`^(member|room|game|server|manager)/([A-Za-z0-9](?:-?[A-Za-z0-9])*)/(send|res)/([a-z_]+)$`)

var sendVerbs = map[string]map[string]Kind{
	"member": {
		"login":             KindLogin,
		"logout":            KindLogout,
		"choose_hero":       KindChooseHero,
		"status":            KindStatus,
		"reconnect":         KindReconnect,
		"replay":            KindReplay,
		"add_black_list":    KindAddBlackList,
		"query_black_list":  KindQueryBlackList,
		"remove_black_list": KindRemoveBlackList,
	},
	"room": {
		"create":       KindCreate,
		"close":        KindClose,
		"start_queue":  KindStartQueue,
		"cancel_queue": KindCancelQueue,
		"invite":       KindInvite,
		"join":         KindJoin,
		"accept_join":  KindAcceptJoin,
		"kick":         KindKick,
		"leave":        KindLeave,
		"prestart":     KindPrestart,
		"prestart_get": KindPrestartGet,
		"start":        KindStart,
	},
	"game": {
		"start_game":      KindStartGame,
		"game_close":      KindGameClose,
		"game_over":       KindGameOver,
		"game_info":       KindGameInfo,
		"choose":          KindChoose,
		"ban":             KindBan,
		"leave":           KindGameLeave,
		"exit":            KindGameExit,
		"upload":          KindUpload,
		"result_upload":   KindResultUpload,
		"rankgame_status": KindRankGameStatus,
	},
	"server": {
		"login": KindServerLogin,
	},
	"manager": {
		"equ_test":       KindEquTest,
		"insert_equ":     KindInsertEqu,
		"modify_userequ": KindModifyUserEqu,
		"delete_userequ": KindDeleteUserEqu,
		"modify_equ":     KindModifyEqu,
		"new_equ":        KindNewEqu,
		"delete_equ":     KindDeleteEqu,
		"modify_option":  KindModifyOption,
		"new_option":     KindNewOption,
		"delete_option":  KindDeleteOption,
	},
}

// Classified is the result of topic pattern recognition.
type Classified struct {
	Kind     Kind
	Category string
	Verb     string
	ID       string // captured user, room, game or server id
}

// ResTopic mirrors the request topic with send replaced by res.
func (c Classified) ResTopic() string {
	return fmt.Sprintf("%s/%s/res/%s", c.Category, c.ID, c.Verb)
}

// Classify matches a topic against the dispatch table. The boolean is
// false for topics outside the table; callers drop those silently.
func Classify(topic string) (Classified, bool) {
	m := topicRe.FindStringSubmatch(topic)
	if m == nil {
		return Classified{}, false
	}
	category, id, dir, verb := m[1], m[2], m[3], m[4]

	if dir == "res" {
		// The only res topic the core consumes is the primary's liveness beacon.
		if category == "server" && verb == "heartbeat" {
			return Classified{Kind: KindHeartbeat, Category: category, Verb: verb, ID: id}, true
		}
		return Classified{}, false
	}

	kind, ok := sendVerbs[category][verb]
	if !ok {
		return Classified{}, false
	}
	return Classified{Kind: kind, Category: category, Verb: verb, ID: id}, true
}

// Event is a decoded inbound message. TopicID is the id captured from the
// topic; Verb feeds the engine's dedup key.
type Event interface {
	EventKind() Kind
}

// Meta carries the fields shared by every decoded event.
type Meta struct {
	TopicID   string
	Category  string
	Verb      string
	RequestID string
}

// ResTopic mirrors the originating topic for responses.
func (m Meta) ResTopic() string {
	return fmt.Sprintf("%s/%s/res/%s", m.Category, m.TopicID, m.Verb)
}

// EventMeta exposes the shared fields through the embedding event, so the
// engine can read topic and request ids without a per-type switch.
func (m Meta) EventMeta() Meta { return m }

type envelope struct {
	RequestID string `json:"request_id"`
}

// LoginEvent announces a user session.
type LoginEvent struct {
	Meta
	DataID string `json:"id"`
}

// LogoutEvent ends a user session.
type LogoutEvent struct {
	Meta
	DataID string `json:"id"`
}

// ChooseHeroEvent sets the user's hero name.
type ChooseHeroEvent struct {
	Meta
	Hero string `json:"hero"`
}

// StatusEvent asks for the user's current room/game status.
type StatusEvent struct {
	Meta
}

// ReconnectEvent restores a dropped session.
type ReconnectEvent struct {
	Meta
}

// ReplayEvent requests the replay reference for a game.
type ReplayEvent struct {
	Meta
	GameID string `json:"game"`
}

// BlackListEvent adds or removes a blacklist target.
type BlackListEvent struct {
	Meta
	Remove bool
	Target string `json:"black_id"`
}

// QueryBlackListEvent lists the user's blacklist.
type QueryBlackListEvent struct {
	Meta
}

// CreateEvent creates a room owned by the sender.
type CreateEvent struct {
	Meta
	Mode string `json:"mode"`
}

// CloseEvent closes the sender's room.
type CloseEvent struct {
	Meta
}

// StartQueueEvent enters the sender's room into a mode queue.
type StartQueueEvent struct {
	Meta
	Mode string `json:"mode"`
}

// CancelQueueEvent removes the sender's room from its queue.
type CancelQueueEvent struct {
	Meta
}

// InviteEvent invites another user to the sender's room.
type InviteEvent struct {
	Meta
	Invitee string `json:"invite_id"`
	RoomID  string `json:"room"`
}

// JoinEvent joins an existing room.
type JoinEvent struct {
	Meta
	RoomID string `json:"room"`
}

// AcceptJoinEvent answers a pending invite.
type AcceptJoinEvent struct {
	Meta
	RoomID string `json:"room"`
	Accept bool   `json:"accept"`
}

// KickEvent removes a member from the master's room.
type KickEvent struct {
	Meta
	Target string `json:"kick_id"`
}

// LeaveEvent leaves the sender's room.
type LeaveEvent struct {
	Meta
}

// PrestartEvent records the sender's accept/decline for a pending match.
type PrestartEvent struct {
	Meta
	Accept bool `json:"accept"`
}

// PrestartGetEvent re-requests the prestart notification.
type PrestartGetEvent struct {
	Meta
}

// StartEvent is the master's manual start of a matched game.
type StartEvent struct {
	Meta
	GameID string `json:"game"`
}

// StartGameEvent marks a game instance as running.
type StartGameEvent struct {
	Meta
}

// GameCloseEvent tears down a game instance without scoring.
type GameCloseEvent struct {
	Meta
}

// UserStat carries one user's per-game performance counters.
type UserStat struct {
	UserID  string `json:"id"`
	Kills   int    `json:"kills"`
	Deaths  int    `json:"deaths"`
	Assists int    `json:"assists"`
}

// GameOverEvent finalizes a game with its winner and stats.
type GameOverEvent struct {
	Meta
	WinTeam int        `json:"win_team"`
	Stats   []UserStat `json:"stats"`
}

// GameInfoEvent requests the game roster.
type GameInfoEvent struct {
	Meta
}

// PickEvent is a hero choose or ban inside a ranked game.
type PickEvent struct {
	Meta
	Ban    bool
	UserID string `json:"id"`
	Hero   string `json:"hero"`
}

// GameLeaveEvent removes a user from a running game.
type GameLeaveEvent struct {
	Meta
	UserID string `json:"id"`
}

// GameExitEvent is a hard client exit from a running game.
type GameExitEvent struct {
	Meta
	UserID string `json:"id"`
}

// UploadEvent records an uploaded replay artifact reference.
type UploadEvent struct {
	Meta
	UserID string `json:"id"`
	URL    string `json:"url"`
}

// ResultUploadEvent records the processed result of an uploaded replay.
type ResultUploadEvent struct {
	Meta
	UserID string `json:"id"`
	Result string `json:"result"`
}

// RankGameStatusEvent requests pick/ban progress of a ranked game.
type RankGameStatusEvent struct {
	Meta
}

// HeartbeatEvent is the primary's liveness beacon.
type HeartbeatEvent struct {
	Meta
}

// ServerLoginEvent is the peer-server handshake.
type ServerLoginEvent struct {
	Meta
}

// CatalogEvent is a manager-side equipment/option CRUD request. The engine
// routes these to persistence untouched; payload semantics live elsewhere.
type CatalogEvent struct {
	Meta
	Key  string `json:"key"`
	Data string `json:"data"`
}

func (e LoginEvent) EventKind() Kind          { return KindLogin }
func (e LogoutEvent) EventKind() Kind         { return KindLogout }
func (e ChooseHeroEvent) EventKind() Kind     { return KindChooseHero }
func (e StatusEvent) EventKind() Kind         { return KindStatus }
func (e ReconnectEvent) EventKind() Kind      { return KindReconnect }
func (e ReplayEvent) EventKind() Kind         { return KindReplay }
func (e QueryBlackListEvent) EventKind() Kind { return KindQueryBlackList }
func (e CreateEvent) EventKind() Kind         { return KindCreate }
func (e CloseEvent) EventKind() Kind          { return KindClose }
func (e StartQueueEvent) EventKind() Kind     { return KindStartQueue }
func (e CancelQueueEvent) EventKind() Kind    { return KindCancelQueue }
func (e InviteEvent) EventKind() Kind         { return KindInvite }
func (e JoinEvent) EventKind() Kind           { return KindJoin }
func (e AcceptJoinEvent) EventKind() Kind     { return KindAcceptJoin }
func (e KickEvent) EventKind() Kind           { return KindKick }
func (e LeaveEvent) EventKind() Kind          { return KindLeave }
func (e PrestartEvent) EventKind() Kind       { return KindPrestart }
func (e PrestartGetEvent) EventKind() Kind    { return KindPrestartGet }
func (e StartEvent) EventKind() Kind          { return KindStart }
func (e StartGameEvent) EventKind() Kind      { return KindStartGame }
func (e GameCloseEvent) EventKind() Kind      { return KindGameClose }
func (e GameOverEvent) EventKind() Kind       { return KindGameOver }
func (e GameInfoEvent) EventKind() Kind       { return KindGameInfo }
func (e GameLeaveEvent) EventKind() Kind      { return KindGameLeave }
func (e GameExitEvent) EventKind() Kind       { return KindGameExit }
func (e UploadEvent) EventKind() Kind         { return KindUpload }
func (e ResultUploadEvent) EventKind() Kind   { return KindResultUpload }
func (e RankGameStatusEvent) EventKind() Kind { return KindRankGameStatus }
func (e HeartbeatEvent) EventKind() Kind      { return KindHeartbeat }
func (e ServerLoginEvent) EventKind() Kind    { return KindServerLogin }

func (e BlackListEvent) EventKind() Kind {
	if e.Remove {
		return KindRemoveBlackList
	}
	return KindAddBlackList
}

func (e PickEvent) EventKind() Kind {
	if e.Ban {
		return KindBan
	}
	return KindChoose
}

// KindedCatalogEvent wraps a CatalogEvent with its classified kind, since
// ten manager verbs share the payload shape.
type KindedCatalogEvent struct {
	CatalogEvent
	Kind Kind
}

func (e KindedCatalogEvent) EventKind() Kind { return e.Kind }

// Decode turns a classified topic plus payload into a typed event.
// Unknown JSON fields are ignored; a missing required field or invalid
// JSON yields ErrBadPayload.
func Decode(c Classified, payload []byte) (Event, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	meta := Meta{TopicID: c.ID, Category: c.Category, Verb: c.Verb, RequestID: env.RequestID}

	unmarshal := func(v interface{}) error {
		if err := json.Unmarshal(payload, v); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return nil
	}
	missing := func(field string) error {
		return fmt.Errorf("%w: missing %s", ErrBadPayload, field)
	}

	switch c.Kind {
	case KindLogin:
		e := LoginEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		if e.DataID == "" {
			return nil, missing("id")
		}
		return e, nil
	case KindLogout:
		e := LogoutEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		return e, nil
	case KindChooseHero:
		e := ChooseHeroEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		if e.Hero == "" {
			return nil, missing("hero")
		}
		return e, nil
	case KindStatus:
		return StatusEvent{Meta: meta}, nil
	case KindReconnect:
		return ReconnectEvent{Meta: meta}, nil
	case KindReplay:
		e := ReplayEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		if e.GameID == "" {
			return nil, missing("game")
		}
		return e, nil
	case KindAddBlackList, KindRemoveBlackList:
		e := BlackListEvent{Meta: meta, Remove: c.Kind == KindRemoveBlackList}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		if e.Target == "" {
			return nil, missing("black_id")
		}
		return e, nil
	case KindQueryBlackList:
		return QueryBlackListEvent{Meta: meta}, nil
	case KindCreate:
		e := CreateEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		return e, nil
	case KindClose:
		return CloseEvent{Meta: meta}, nil
	case KindStartQueue:
		e := StartQueueEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		if e.Mode == "" {
			return nil, missing("mode")
		}
		return e, nil
	case KindCancelQueue:
		return CancelQueueEvent{Meta: meta}, nil
	case KindInvite:
		e := InviteEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		if e.Invitee == "" {
			return nil, missing("invite_id")
		}
		return e, nil
	case KindJoin:
		e := JoinEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		if e.RoomID == "" {
			return nil, missing("room")
		}
		return e, nil
	case KindAcceptJoin:
		e := AcceptJoinEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		if e.RoomID == "" {
			return nil, missing("room")
		}
		return e, nil
	case KindKick:
		e := KickEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		if e.Target == "" {
			return nil, missing("kick_id")
		}
		return e, nil
	case KindLeave:
		return LeaveEvent{Meta: meta}, nil
	case KindPrestart:
		e := PrestartEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		return e, nil
	case KindPrestartGet:
		return PrestartGetEvent{Meta: meta}, nil
	case KindStart:
		e := StartEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		return e, nil
	case KindStartGame:
		return StartGameEvent{Meta: meta}, nil
	case KindGameClose:
		return GameCloseEvent{Meta: meta}, nil
	case KindGameOver:
		e := GameOverEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		if e.WinTeam != 0 && e.WinTeam != 1 {
			return nil, fmt.Errorf("%w: win_team out of range", ErrBadPayload)
		}
		return e, nil
	case KindGameInfo:
		return GameInfoEvent{Meta: meta}, nil
	case KindChoose, KindBan:
		e := PickEvent{Meta: meta, Ban: c.Kind == KindBan}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		if e.UserID == "" {
			return nil, missing("id")
		}
		return e, nil
	case KindGameLeave:
		e := GameLeaveEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		if e.UserID == "" {
			return nil, missing("id")
		}
		return e, nil
	case KindGameExit:
		e := GameExitEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		return e, nil
	case KindUpload:
		e := UploadEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		if e.URL == "" {
			return nil, missing("url")
		}
		return e, nil
	case KindResultUpload:
		e := ResultUploadEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		if e.Result == "" {
			return nil, missing("result")
		}
		return e, nil
	case KindRankGameStatus:
		return RankGameStatusEvent{Meta: meta}, nil
	case KindHeartbeat:
		return HeartbeatEvent{Meta: meta}, nil
	case KindServerLogin:
		return ServerLoginEvent{Meta: meta}, nil
	case KindEquTest, KindInsertEqu, KindModifyUserEqu, KindDeleteUserEqu,
		KindModifyEqu, KindNewEqu, KindDeleteEqu,
		KindModifyOption, KindNewOption, KindDeleteOption:
		e := CatalogEvent{Meta: meta}
		if err := unmarshal(&e); err != nil {
			return nil, err
		}
		if c.Kind != KindEquTest && e.Key == "" {
			return nil, missing("key")
		}
		return KindedCatalogEvent{CatalogEvent: e, Kind: c.Kind}, nil
	}
	return nil, fmt.Errorf("%w: unhandled kind %d", ErrBadPayload, c.Kind)
}
