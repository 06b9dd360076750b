package engine

import (
	"time"
)

var zeroTime time.Time

// Mode is a named game format with a fixed team size.
type Mode struct {
	Name     string
	TeamSize int
	Ranked   bool
}

// DefaultModes are the formats the server matches on.
var DefaultModes = []Mode{
	{Name: "ng1v1", TeamSize: 1, Ranked: false},
	{Name: "ng5v5", TeamSize: 5, Ranked: false},
	{Name: "rk1v1", TeamSize: 1, Ranked: true},
	{Name: "rk5v5", TeamSize: 5, Ranked: true},
}

// DefaultScore is the rating every user starts each mode with.
const DefaultScore = 1000

// DefaultHonor is the honor value assigned at first login.
const DefaultHonor = 50

// ScoreInfo is one user's standing in one mode.
type ScoreInfo struct {
	Score  int `json:"score"`
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}

// User is a live player session plus cumulative standing.
type User struct {
	ID        string
	Hero      string
	Honor     int
	Online    bool
	Rank      map[string]*ScoreInfo // mode -> standing
	RoomID    string                // at most one room at a time
	GameID    string
	BlackList map[string]struct{}
	LogoutAt  time.Time // grace-period anchor once offline
}

// NewUser creates a user with default standing in every configured mode.
func NewUser(id string, modes []Mode) *User {
	u := &User{
		ID:        id,
		Hero:      "default name",
		Honor:     DefaultHonor,
		Rank:      make(map[string]*ScoreInfo, len(modes)),
		BlackList: make(map[string]struct{}),
	}
	for _, m := range modes {
		u.Rank[m.Name] = &ScoreInfo{Score: DefaultScore}
	}
	return u
}

// Blocked reports whether target is on u's blacklist.
func (u *User) Blocked(target string) bool {
	_, ok := u.BlackList[target]
	return ok
}

// RoomState is the room lifecycle position.
type RoomState int

const (
	RoomIdle RoomState = iota
	RoomQueued
	RoomPrestart
	RoomInGame
	RoomClosed
)

func (s RoomState) String() string {
	switch s {
	case RoomIdle:
		return "idle"
	case RoomQueued:
		return "queued"
	case RoomPrestart:
		return "prestart"
	case RoomInGame:
		return "ingame"
	case RoomClosed:
		return "closed"
	}
	return "unknown"
}

// Room is a party of users moving through the queue lifecycle together.
type Room struct {
	ID         string
	Master     string
	Members    []string // join order; master promotion follows it
	Mode       string
	State      RoomState
	Acks       map[string]bool // prestart accept/decline per member
	GameID     string
	CreatedAt  time.Time
	QueuedAt   time.Time
	PrestartAt time.Time // countdown anchor while State == RoomPrestart
}

// HasMember reports membership.
func (r *Room) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// RemoveMember drops a member, promoting the next oldest when the master
// leaves. Returns false when the user was not a member.
func (r *Room) RemoveMember(userID string) bool {
	for i, m := range r.Members {
		if m == userID {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			if r.Master == userID && len(r.Members) > 0 {
				r.Master = r.Members[0]
			}
			return true
		}
	}
	return false
}

// AvgScore is the party's mean rating for a mode.
func (r *Room) AvgScore(users map[string]*User, mode string) float64 {
	if len(r.Members) == 0 {
		return 0
	}
	sum := 0
	for _, id := range r.Members {
		if u, ok := users[id]; ok {
			if si, ok := u.Rank[mode]; ok {
				sum += si.Score
			}
		}
	}
	return float64(sum) / float64(len(r.Members))
}

// QueueEntry is one party waiting in a mode queue.
type QueueEntry struct {
	RoomID       string
	Mode         string
	PartySize    int
	TeamScoreAvg float64
	EnteredAt    time.Time
}

// GameState is the game lifecycle position.
type GameState int

const (
	GamePrestart GameState = iota
	GameRunning
	GameOver
)

// Game is a match instance assembled from queued rooms.
type Game struct {
	ID        string
	Mode      string
	TeamA     []string // user ids snapshotted at assembly
	TeamB     []string
	Rooms     []string // contributing room ids
	State     GameState
	StartedAt time.Time
	Picks     map[string]string // user -> chosen hero
	Bans      map[string]string // user -> banned hero
	Stats     map[string]UserStat
	Result    int // winner team index; -1 until set
	Scored    bool
}

// UserStat mirrors the per-user counters reported at game over.
type UserStat struct {
	Kills   int `json:"kills"`
	Deaths  int `json:"deaths"`
	Assists int `json:"assists"`
}

// Participants returns both teams' user ids.
func (g *Game) Participants() []string {
	out := make([]string, 0, len(g.TeamA)+len(g.TeamB))
	out = append(out, g.TeamA...)
	out = append(out, g.TeamB...)
	return out
}

// OnTeam reports which team a user is on: 0, 1, or -1.
func (g *Game) OnTeam(userID string) int {
	for _, id := range g.TeamA {
		if id == userID {
			return 0
		}
	}
	for _, id := range g.TeamB {
		if id == userID {
			return 1
		}
	}
	return -1
}
