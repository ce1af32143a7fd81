// Package verification applies a guild's verification settings to a member.
// It talks to Discord and Roblox only through the Guild and Roblox
// interfaces so the rules can run without a gateway connection.
package verification

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/disblox/disblox-api/internal/models"
	"github.com/disblox/disblox-api/internal/roblox"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Discord rejects nicknames longer than this many characters.
const maxNicknameLength = 32

var (
	ErrNotConfigured   = errors.New("server not configured for verification")
	ErrUserNotLinked   = errors.New("discord account not linked")
	ErrNoLinkedAccount = errors.New("no linked Roblox accounts found")
)

// fallbackGroupRoles are tried in order for members outside the configured
// group. An empty entry stands for the group name.
var fallbackGroupRoles = []string{"", "Newcomers", "Member"}

// Member is a guild member as seen by the engine.
type Member struct {
	GuildID     string
	UserID      string
	Username    string
	DisplayName string
	Nick        string
	Roles       []string
}

func (m *Member) HasRole(roleID string) bool {
	return slices.Contains(m.Roles, roleID)
}

// Guild performs member changes in Discord.
type Guild interface {
	SetNickname(ctx context.Context, guildID, userID, nick string) error
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	// RoleName returns the name of a role, or false if it no longer exists.
	RoleName(guildID, roleID string) (string, bool)
	RoleByName(guildID, name string) (string, bool)
}

// Roblox answers the profile and group questions the rules need.
type Roblox interface {
	DisplayName(ctx context.Context, robloxID string) (string, error)
	UserGroupRole(ctx context.Context, robloxID, groupID string) (*roblox.Role, error)
}

// Result lists what changed for the member. Role entries are role names.
type Result struct {
	NicknameUpdated   string   `json:"nickname_updated,omitempty"`
	RolesAdded        []string `json:"roles_added"`
	RolesRemoved      []string `json:"roles_removed"`
	GroupRolesAdded   []string `json:"group_roles_added"`
	GroupRolesRemoved []string `json:"group_roles_removed"`
}

func newResult() *Result {
	return &Result{
		RolesAdded:        []string{},
		RolesRemoved:      []string{},
		GroupRolesAdded:   []string{},
		GroupRolesRemoved: []string{},
	}
}

type Engine struct {
	db     *gorm.DB
	guild  Guild
	roblox Roblox
	logger *zap.Logger
}

func NewEngine(db *gorm.DB, guild Guild, rbx Roblox, logger *zap.Logger) *Engine {
	return &Engine{db: db, guild: guild, roblox: rbx, logger: logger.Named("verification")}
}

// Config returns the completed configuration of a guild with its group roles.
func (e *Engine) Config(ctx context.Context, guildID string) (*models.ServerConfig, error) {
	var cfg models.ServerConfig
	err := e.db.WithContext(ctx).Preload("GroupRoles").Where("server_id = ?", guildID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}
	if !cfg.SetupCompleted {
		return nil, ErrNotConfigured
	}
	return &cfg, nil
}

// Account returns the account used to verify a Discord user: the first
// verified one, else the first linked one.
func (e *Engine) Account(ctx context.Context, discordID string) (*models.LinkedAccount, error) {
	var user models.User
	err := e.db.WithContext(ctx).Preload("LinkedAccounts").Where("discord_id = ?", discordID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotLinked
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	account := models.PreferredAccount(user.LinkedAccounts)
	if account == nil {
		return nil, ErrNoLinkedAccount
	}
	return account, nil
}

// VerifyMember loads the member's account and the guild config and applies it.
func (e *Engine) VerifyMember(ctx context.Context, m *Member) (*Result, error) {
	account, err := e.Account(ctx, m.UserID)
	if err != nil {
		return nil, err
	}
	cfg, err := e.Config(ctx, m.GuildID)
	if err != nil {
		return nil, err
	}
	return e.Apply(ctx, m, cfg, account), nil
}

// Apply runs the nickname, verified role and group role steps in order.
// A failed Discord call is logged and the remaining steps still run.
func (e *Engine) Apply(ctx context.Context, m *Member, cfg *models.ServerConfig, account *models.LinkedAccount) *Result {
	res := newResult()
	log := e.logger.With(zap.String("guild_id", m.GuildID), zap.String("user_id", m.UserID))

	if cfg.NicknameFormat != models.NicknameNone {
		nick := e.Nickname(ctx, m, account, cfg.NicknameFormat)
		if nick != "" && nick != m.Nick {
			if err := e.guild.SetNickname(ctx, m.GuildID, m.UserID, nick); err != nil {
				log.Warn("Failed to set nickname", zap.Error(err))
			} else {
				m.Nick = nick
				res.NicknameUpdated = nick
			}
		}
	}

	if cfg.VerifiedRoleEnabled && cfg.VerifiedRoleID != "" {
		e.applyVerifiedRole(ctx, log, m, cfg, res)
	}

	if cfg.GroupRolesEnabled && cfg.GroupID != "" {
		e.applyGroupRoles(ctx, log, m, cfg, account, res)
	}

	return res
}

func (e *Engine) applyVerifiedRole(ctx context.Context, log *zap.Logger, m *Member, cfg *models.ServerConfig, res *Result) {
	name, ok := e.guild.RoleName(m.GuildID, cfg.VerifiedRoleID)
	if !ok {
		log.Warn("Verified role not found", zap.String("role_id", cfg.VerifiedRoleID))
		return
	}
	if m.HasRole(cfg.VerifiedRoleID) {
		return
	}

	for _, roleID := range cfg.RolesToRemoveList() {
		if !m.HasRole(roleID) {
			continue
		}
		if removed, ok := e.removeRole(ctx, log, m, roleID); ok {
			res.RolesRemoved = append(res.RolesRemoved, removed)
		}
	}

	if err := e.guild.AddRole(ctx, m.GuildID, m.UserID, cfg.VerifiedRoleID); err != nil {
		log.Warn("Failed to add verified role", zap.Error(err))
		return
	}
	m.Roles = append(m.Roles, cfg.VerifiedRoleID)
	res.RolesAdded = append(res.RolesAdded, name)
}

func (e *Engine) applyGroupRoles(ctx context.Context, log *zap.Logger, m *Member, cfg *models.ServerConfig, account *models.LinkedAccount, res *Result) {
	rank, err := e.roblox.UserGroupRole(ctx, account.RobloxID, cfg.GroupID)
	if err != nil {
		// Leave roles alone rather than stripping them on a Roblox outage.
		log.Warn("Failed to fetch Roblox group roles", zap.String("roblox_id", account.RobloxID), zap.Error(err))
		return
	}

	target := ""
	if rank != nil {
		for _, gr := range cfg.GroupRoles {
			if gr.RobloxRoleID == rank.ID && gr.DiscordRoleID != "" {
				target = gr.DiscordRoleID
				break
			}
		}
	}

	for _, gr := range cfg.GroupRoles {
		if gr.DiscordRoleID == "" || gr.DiscordRoleID == target || !m.HasRole(gr.DiscordRoleID) {
			continue
		}
		if removed, ok := e.removeRole(ctx, log, m, gr.DiscordRoleID); ok {
			res.GroupRolesRemoved = append(res.GroupRolesRemoved, removed)
		}
	}

	if rank == nil {
		e.applyFallbackGroupRole(ctx, log, m, cfg, res)
		return
	}
	if target == "" || m.HasRole(target) {
		return
	}
	name, ok := e.guild.RoleName(m.GuildID, target)
	if !ok {
		log.Warn("Mapped group role not found", zap.String("role_id", target))
		return
	}
	if err := e.guild.AddRole(ctx, m.GuildID, m.UserID, target); err != nil {
		log.Warn("Failed to add group role", zap.String("role", name), zap.Error(err))
		return
	}
	m.Roles = append(m.Roles, target)
	res.GroupRolesAdded = append(res.GroupRolesAdded, name)
}

func (e *Engine) applyFallbackGroupRole(ctx context.Context, log *zap.Logger, m *Member, cfg *models.ServerConfig, res *Result) {
	for _, name := range fallbackGroupRoles {
		if name == "" {
			name = cfg.GroupName
		}
		if name == "" {
			continue
		}
		roleID, ok := e.guild.RoleByName(m.GuildID, name)
		if !ok || m.HasRole(roleID) {
			continue
		}
		if err := e.guild.AddRole(ctx, m.GuildID, m.UserID, roleID); err != nil {
			log.Warn("Failed to add fallback group role", zap.String("role", name), zap.Error(err))
			continue
		}
		m.Roles = append(m.Roles, roleID)
		res.GroupRolesAdded = append(res.GroupRolesAdded, name)
		return
	}
}

func (e *Engine) removeRole(ctx context.Context, log *zap.Logger, m *Member, roleID string) (string, bool) {
	name, ok := e.guild.RoleName(m.GuildID, roleID)
	if !ok {
		return "", false
	}
	if err := e.guild.RemoveRole(ctx, m.GuildID, m.UserID, roleID); err != nil {
		log.Warn("Failed to remove role", zap.String("role", name), zap.Error(err))
		return "", false
	}
	m.Roles = slices.DeleteFunc(m.Roles, func(id string) bool { return id == roleID })
	return name, true
}

// Nickname formats the member's nickname. It returns "" for the none format.
func (e *Engine) Nickname(ctx context.Context, m *Member, account *models.LinkedAccount, format string) string {
	var nick string
	switch format {
	case models.NicknameNone:
		return ""
	case models.NicknameRobloxDisplay:
		nick = account.RobloxUsername
		if name, err := e.roblox.DisplayName(ctx, account.RobloxID); err == nil && name != "" {
			nick = name
		}
	case models.NicknameDiscordDisplay:
		nick = m.DisplayName
	case models.NicknameDiscordUsername:
		nick = m.Username
	case models.NicknameDiscordDisplayWithRoblox:
		nick = fmt.Sprintf("%s (@%s)", m.DisplayName, account.RobloxUsername)
	default:
		nick = account.RobloxUsername
	}
	return truncate(nick, maxNicknameLength)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ValidNicknameFormat reports whether format is one the engine understands.
func ValidNicknameFormat(format string) bool {
	switch format {
	case models.NicknameRobloxUsername,
		models.NicknameRobloxDisplay,
		models.NicknameDiscordDisplay,
		models.NicknameDiscordUsername,
		models.NicknameDiscordDisplayWithRoblox,
		models.NicknameNone:
		return true
	}
	return false
}
