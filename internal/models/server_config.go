package models

import (
	"strings"

	"gorm.io/gorm"
)

const (
	NicknameRobloxUsername           = "roblox_username"
	NicknameRobloxDisplay            = "roblox_display"
	NicknameDiscordDisplay           = "discord_display"
	NicknameDiscordUsername          = "discord_username"
	NicknameDiscordDisplayWithRoblox = "discord_display_with_roblox"
	NicknameNone                     = "none"
)

const (
	SetupStepNickname     = "nickname"
	SetupStepVerifiedRole = "verified_role"
	SetupStepGroup        = "group"
	SetupStepCompleted    = "completed"
)

const DefaultVerifiedRoleName = "Verified"

type ServerConfig struct {
	gorm.Model
	ServerID            string `gorm:"uniqueIndex;size:32"`
	NicknameFormat      string
	VerifiedRoleEnabled bool
	VerifiedRoleName    string
	VerifiedRoleID      string
	RolesToRemove       string // comma separated Discord role ids
	GroupID             string
	GroupName           string
	GroupRolesEnabled   bool
	SetupCompleted      bool
	SetupStep           string

	GroupRoles []GroupRole
}

// NewServerConfig returns a config at the first setup step. Zero values are
// not left to column defaults because gorm skips false booleans on insert.
func NewServerConfig(serverID string) *ServerConfig {
	return &ServerConfig{
		ServerID:            serverID,
		NicknameFormat:      NicknameRobloxUsername,
		VerifiedRoleEnabled: true,
		VerifiedRoleName:    DefaultVerifiedRoleName,
		SetupStep:           SetupStepNickname,
	}
}

func (c *ServerConfig) RolesToRemoveList() []string {
	var out []string
	for _, id := range strings.Split(c.RolesToRemove, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func (c *ServerConfig) SetRolesToRemove(ids []string) {
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}
	c.RolesToRemove = strings.Join(clean, ",")
}

// GroupRole maps one Roblox group rank to a Discord role.
type GroupRole struct {
	gorm.Model
	ServerConfigID  uint `gorm:"index"`
	RobloxRoleID    string
	RobloxRoleName  string
	RobloxRoleRank  int
	DiscordRoleID   string
	DiscordRoleName string
}

// All lists every model for migrations.
func All() []any {
	return []any{
		&User{},
		&UserSession{},
		&LinkedAccount{},
		&UserServer{},
		&VerificationServer{},
		&BotServer{},
		&ServerConfig{},
		&GroupRole{},
	}
}
