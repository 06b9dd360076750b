package models

import (
	"time"
)

// User represents a registered player account
type User struct {
	UserID    string    `gorm:"column:userid;type:varchar(64);primaryKey" json:"userid"`
	Status    string    `gorm:"column:status;type:varchar(16);default:offline" json:"status"`
	Hero      string    `gorm:"column:hero;type:varchar(64)" json:"hero"`
	Honor     int       `gorm:"column:honor;default:50" json:"honor"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "user"
}

// Score holds a user's cumulative rating for one game mode
type Score struct {
	ID     int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID string `gorm:"column:userid;type:varchar(64);not null;uniqueIndex:idx_user_mode" json:"userid"`
	Mode   string `gorm:"column:mode;type:varchar(16);not null;uniqueIndex:idx_user_mode" json:"mode"`
	Score  int    `gorm:"column:score;default:1000" json:"score"`
	Wins   int    `gorm:"column:wins;default:0" json:"wins"`
	Losses int    `gorm:"column:losses;default:0" json:"losses"`
}

// TableName specifies the table name for Score model
func (Score) TableName() string {
	return "score"
}

// Game is the archived record of a completed game
type Game struct {
	GameID    string     `gorm:"column:game_id;type:varchar(36);primaryKey" json:"game_id"`
	Mode      string     `gorm:"column:mode;type:varchar(16);not null" json:"mode"`
	TeamA     string     `gorm:"column:team_a;type:text" json:"team_a"`
	TeamB     string     `gorm:"column:team_b;type:text" json:"team_b"`
	Winner    int        `gorm:"column:winner" json:"winner"`
	StartedAt time.Time  `gorm:"column:started_at" json:"started_at"`
	EndedAt   *time.Time `gorm:"column:ended_at" json:"ended_at,omitempty"`
}

// TableName specifies the table name for Game model
func (Game) TableName() string {
	return "game"
}

// Equipment is a catalog entry shared by all users
type Equipment struct {
	EquID     string    `gorm:"column:equ_id;type:varchar(64);primaryKey" json:"equ_id"`
	Name      string    `gorm:"column:name;type:varchar(128)" json:"name"`
	Data      string    `gorm:"column:data;type:text" json:"data"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Equipment model
func (Equipment) TableName() string {
	return "equipment"
}

// UserEquipment is a per-user equipment record
type UserEquipment struct {
	ID     int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID string `gorm:"column:userid;type:varchar(64);not null;index:idx_userequ_user" json:"userid"`
	EquID  string `gorm:"column:equ_id;type:varchar(64);not null" json:"equ_id"`
	Data   string `gorm:"column:data;type:text" json:"data"`
}

// TableName specifies the table name for UserEquipment model
func (UserEquipment) TableName() string {
	return "user_equipment"
}

// Option is a string-keyed catalog record
type Option struct {
	OptionID  string    `gorm:"column:option_id;type:varchar(64);primaryKey" json:"option_id"`
	Name      string    `gorm:"column:name;type:varchar(128)" json:"name"`
	Data      string    `gorm:"column:data;type:text" json:"data"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Option model
func (Option) TableName() string {
	return "option"
}

// Replay references an uploaded replay artifact for a game
type Replay struct {
	ID       int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	GameID   string    `gorm:"column:game_id;type:varchar(36);not null;index:idx_replay_game" json:"game_id"`
	UserID   string    `gorm:"column:userid;type:varchar(64)" json:"userid"`
	URL      string    `gorm:"column:url;type:varchar(255)" json:"url"`
	Uploaded time.Time `gorm:"column:uploaded_at;autoCreateTime" json:"uploaded_at"`
}

// TableName specifies the table name for Replay model
func (Replay) TableName() string {
	return "replay"
}

// ReplayResult is the processed outcome row for an uploaded replay
type ReplayResult struct {
	ID     int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	GameID string `gorm:"column:game_id;type:varchar(36);not null;index:idx_replayres_game" json:"game_id"`
	UserID string `gorm:"column:userid;type:varchar(64)" json:"userid"`
	Result string `gorm:"column:result;type:text" json:"result"`
}

// TableName specifies the table name for ReplayResult model
func (ReplayResult) TableName() string {
	return "replay_result"
}

// BlackListEntry records that owner blocked target
type BlackListEntry struct {
	ID     int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID string `gorm:"column:userid;type:varchar(64);not null;uniqueIndex:idx_black_pair" json:"userid"`
	Target string `gorm:"column:target;type:varchar(64);not null;uniqueIndex:idx_black_pair" json:"target"`
}

// TableName specifies the table name for BlackListEntry model
func (BlackListEntry) TableName() string {
	return "black_list"
}

// All returns every model for auto-migration
func All() []interface{} {
	return []interface{}{
		&User{}, &Score{}, &Game{}, &Equipment{}, &UserEquipment{},
		&Option{}, &Replay{}, &ReplayResult{}, &BlackListEntry{},
	}
}
