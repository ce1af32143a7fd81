package models

import (
	"time"

	"gorm.io/gorm"
)

// GuildMembership is the shared shape of the per-user guild tables.
type GuildMembership struct {
	UserID      uint   `gorm:"index"`
	ServerID    string `gorm:"index;size:32"`
	ServerName  string
	ServerIcon  string
	Owner       bool
	Permissions int64
	BotAdded    bool
	MemberCount int
}

// UserServer is a guild the user can manage: they own it or hold the
// administrator permission.
type UserServer struct {
	gorm.Model
	GuildMembership
}

// VerificationServer is any guild the user is a member of.
type VerificationServer struct {
	gorm.Model
	GuildMembership
}

// BotServer is a guild the bot has joined.
type BotServer struct {
	gorm.Model
	ServerID    string `gorm:"uniqueIndex;size:32"`
	ServerName  string
	ServerIcon  string
	OwnerID     string
	MemberCount int
	JoinedAt    time.Time
}
