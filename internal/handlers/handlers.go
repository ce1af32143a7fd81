package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/disblox/disblox-api/internal/bot"
	"github.com/disblox/disblox-api/internal/models"
	"github.com/disblox/disblox-api/internal/roblox"
	"github.com/disblox/disblox-api/internal/verification"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Bot is the part of the Discord bot the HTTP API depends on. It is nil when
// no bot token is configured.
type Bot interface {
	Ready() bool
	Status() bot.Status
	Guilds() []bot.GuildInfo
	Guild(guildID string) (*bot.GuildInfo, error)
	GuildMemberCounts() map[string]int
	SyncGuilds(ctx context.Context) (int, error)
	CreateRole(ctx context.Context, guildID, name, reason string) (string, error)
	RenameRole(ctx context.Context, guildID, roleID, name, reason string) error
	VerifyMember(ctx context.Context, guildID, discordID string, account *models.LinkedAccount) (*verification.Result, error)
}

// RobloxAPI is the public Roblox web API.
type RobloxAPI interface {
	AvatarURL(ctx context.Context, robloxID string) string
	Group(ctx context.Context, groupID string) (*roblox.Group, error)
}

// RobloxLinker runs the Roblox OAuth flow.
type RobloxLinker interface {
	Configured() bool
	ClientID() string
	RedirectURI() string
	AuthURL(userID uint) (authURL, state string, err error)
	Consume(state string) (roblox.PendingLink, error)
	Exchange(ctx context.Context, code string, link roblox.PendingLink) (*roblox.UserInfo, error)
}

var (
	_ Bot          = (*bot.Manager)(nil)
	_ RobloxAPI    = (*roblox.Client)(nil)
	_ RobloxLinker = (*roblox.OAuth)(nil)
)

func botReady(b Bot) bool {
	return b != nil && b.Ready()
}

func internalError(logger *zap.Logger, msg string, err error) error {
	logger.Error(msg, zap.Error(err))
	return huma.Error500InternalServerError(msg)
}

// userServer returns the caller's managed server or a 404 when they cannot
// manage it.
func userServer(ctx context.Context, db *gorm.DB, userID uint, serverID string) (*models.UserServer, error) {
	if !roblox.IsNumeric(serverID) {
		return nil, huma.Error400BadRequest("Server ID must be a numeric string")
	}
	var us models.UserServer
	err := db.WithContext(ctx).Where("user_id = ? AND server_id = ?", userID, serverID).First(&us).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, huma.Error404NotFound("Server not found or you don't have access")
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("Database error")
	}
	return &us, nil
}

type LinkedAccountInfo struct {
	ID             uint      `json:"id"`
	RobloxUsername string    `json:"roblox_username"`
	RobloxID       string    `json:"roblox_id"`
	RobloxAvatar   string    `json:"roblox_avatar,omitempty"`
	Verified       bool      `json:"verified"`
	LinkedAt       time.Time `json:"linked_at"`
}

func linkedAccountInfos(accounts []models.LinkedAccount) []LinkedAccountInfo {
	out := make([]LinkedAccountInfo, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, LinkedAccountInfo{
			ID:             a.ID,
			RobloxUsername: a.RobloxUsername,
			RobloxID:       a.RobloxID,
			RobloxAvatar:   a.RobloxAvatar,
			Verified:       a.Verified,
			LinkedAt:       a.LinkedAt,
		})
	}
	return out
}

type ServerInfo struct {
	ServerID    string    `json:"server_id"`
	ServerName  string    `json:"server_name"`
	ServerIcon  string    `json:"server_icon,omitempty"`
	Owner       bool      `json:"owner"`
	Permissions string    `json:"permissions"`
	BotAdded    bool      `json:"bot_added"`
	MemberCount int       `json:"member_count,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func serverInfo(m models.GuildMembership, updatedAt time.Time) ServerInfo {
	return ServerInfo{
		ServerID:    m.ServerID,
		ServerName:  m.ServerName,
		ServerIcon:  m.ServerIcon,
		Owner:       m.Owner,
		Permissions: formatPermissions(m.Permissions),
		BotAdded:    m.BotAdded,
		MemberCount: m.MemberCount,
		UpdatedAt:   updatedAt,
	}
}
