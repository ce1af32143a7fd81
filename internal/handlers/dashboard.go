package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/danielgtaylor/huma/v2"
	"github.com/disblox/disblox-api/internal/auth"
	"github.com/disblox/disblox-api/internal/bot"
	"github.com/disblox/disblox-api/internal/cache"
	"github.com/disblox/disblox-api/internal/models"
	"github.com/disblox/disblox-api/internal/roblox"
	"github.com/disblox/disblox-api/internal/verification"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type DashboardHandler struct {
	db     *gorm.DB
	auth   *auth.Handler
	bot    Bot
	store  *cache.Store
	logger *zap.Logger
}

// NewDashboardHandler serves /dashboard. b may be nil.
func NewDashboardHandler(db *gorm.DB, authHandler *auth.Handler, b Bot, store *cache.Store, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		db:     db,
		auth:   authHandler,
		bot:    b,
		store:  store,
		logger: logger.Named("dashboard"),
	}
}

func formatPermissions(p int64) string {
	return strconv.FormatInt(p, 10)
}

func (h *DashboardHandler) botGuildIDs() map[string]bool {
	ids := make(map[string]bool)
	if !botReady(h.bot) {
		return ids
	}
	for _, g := range h.bot.Guilds() {
		ids[g.ID] = true
	}
	return ids
}

type DashboardOutput struct {
	Body struct {
		User                auth.UserInfo       `json:"user"`
		LinkedAccounts      []LinkedAccountInfo `json:"linked_accounts"`
		UserServers         []ServerInfo        `json:"user_servers"`
		TotalLinkedAccounts int                 `json:"total_linked_accounts"`
		TotalServers        int                 `json:"total_servers"`
		ServersWithBot      int                 `json:"servers_with_bot"`
	}
}

func (h *DashboardHandler) HandleDashboard(ctx context.Context, input *auth.AuthInput) (*DashboardOutput, error) {
	id, err := h.auth.Authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	var accounts []models.LinkedAccount
	if err := h.db.WithContext(ctx).Where("user_id = ?", id.User.ID).Order("id").Find(&accounts).Error; err != nil {
		return nil, internalError(h.logger, "Failed to load linked accounts", err)
	}
	var servers []models.UserServer
	if err := h.db.WithContext(ctx).Where("user_id = ?", id.User.ID).Order("server_name").Find(&servers).Error; err != nil {
		return nil, internalError(h.logger, "Failed to load servers", err)
	}

	out := &DashboardOutput{}
	out.Body.User = auth.NewUserInfo(&id.User)
	out.Body.LinkedAccounts = linkedAccountInfos(accounts)
	out.Body.UserServers = make([]ServerInfo, 0, len(servers))
	for _, s := range servers {
		out.Body.UserServers = append(out.Body.UserServers, serverInfo(s.GuildMembership, s.UpdatedAt))
		if s.BotAdded {
			out.Body.ServersWithBot++
		}
	}
	out.Body.TotalLinkedAccounts = len(accounts)
	out.Body.TotalServers = len(servers)
	return out, nil
}

type ServersInput struct {
	auth.AuthInput
	Page  int `query:"page" default:"1" minimum:"1" maximum:"1000"`
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"100"`
}

type ServersOutput struct {
	Body []ServerInfo
}

func paginate[T any](items []T, page, limit int) []T {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	return items[start:min(start+limit, len(items))]
}

// HandleServers lists the servers the user manages. Guilds fetched from
// Discord since the last sync are preferred over the stored rows.
func (h *DashboardHandler) HandleServers(ctx context.Context, input *ServersInput) (*ServersOutput, error) {
	id, err := h.auth.Authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	servers := []ServerInfo{}
	if guilds, ok := h.auth.CachedGuilds(id.User.DiscordID); ok {
		botGuilds := h.botGuildIDs()
		for _, g := range guilds {
			if !auth.CanManage(g) {
				continue
			}
			servers = append(servers, ServerInfo{
				ServerID:    g.ID,
				ServerName:  g.Name,
				ServerIcon:  g.Icon,
				Owner:       g.Owner,
				Permissions: formatPermissions(g.Permissions),
				BotAdded:    botGuilds[g.ID],
			})
		}
	} else {
		var rows []models.UserServer
		if err := h.db.WithContext(ctx).Where("user_id = ?", id.User.ID).Order("id").Find(&rows).Error; err != nil {
			return nil, internalError(h.logger, "Failed to load servers", err)
		}
		for _, s := range rows {
			servers = append(servers, serverInfo(s.GuildMembership, s.UpdatedAt))
		}
	}

	return &ServersOutput{Body: paginate(servers, input.Page, input.Limit)}, nil
}

type LinkedAccountsOutput struct {
	Body []LinkedAccountInfo
}

func (h *DashboardHandler) HandleLinkedAccounts(ctx context.Context, input *auth.AuthInput) (*LinkedAccountsOutput, error) {
	id, err := h.auth.Authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	var accounts []models.LinkedAccount
	if err := h.db.WithContext(ctx).Where("user_id = ?", id.User.ID).Order("id").Find(&accounts).Error; err != nil {
		return nil, internalError(h.logger, "Failed to load linked accounts", err)
	}
	return &LinkedAccountsOutput{Body: linkedAccountInfos(accounts)}, nil
}

type AccountInput struct {
	auth.AuthInput
	AccountID uint `path:"account_id" minimum:"1"`
}

func (h *DashboardHandler) HandleUnlinkAccount(ctx context.Context, input *AccountInput) (*auth.MessageOutput, error) {
	id, err := h.auth.Authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	removed, err := roblox.Unlink(ctx, h.db, id.User.ID, input.AccountID)
	if err != nil {
		return nil, internalError(h.logger, "Failed to unlink account", err)
	}
	if !removed {
		return nil, huma.Error404NotFound("Linked account not found")
	}

	h.auth.InvalidateUser(id.User.DiscordID)
	return auth.Message(true, "Account unlinked successfully"), nil
}

// HandleVerificationServers lists the user's guilds that have the bot, with
// live member counts. It is empty while the bot is offline.
func (h *DashboardHandler) HandleVerificationServers(ctx context.Context, input *auth.AuthInput) (*ServersOutput, error) {
	id, err := h.auth.Authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	servers := []ServerInfo{}
	if !botReady(h.bot) {
		return &ServersOutput{Body: servers}, nil
	}

	var rows []models.VerificationServer
	if err := h.db.WithContext(ctx).Where("user_id = ?", id.User.ID).Order("server_name").Find(&rows).Error; err != nil {
		return nil, internalError(h.logger, "Failed to load verification servers", err)
	}

	counts := h.bot.GuildMemberCounts()
	for _, s := range rows {
		count, ok := counts[s.ServerID]
		if !ok {
			continue
		}
		info := serverInfo(s.GuildMembership, s.UpdatedAt)
		info.BotAdded = true
		info.MemberCount = count
		servers = append(servers, info)
	}
	return &ServersOutput{Body: servers}, nil
}

type TokenStatusOutput struct {
	Body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Data    struct {
			Expired  bool   `json:"expired"`
			UserID   string `json:"user_id"`
			Username string `json:"username"`
		} `json:"data"`
	}
}

// HandleTokenStatus reports whether the stored Discord token has expired.
func (h *DashboardHandler) HandleTokenStatus(ctx context.Context, input *auth.AuthInput) (*TokenStatusOutput, error) {
	id, err := h.auth.Authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	expiry := id.Session.DiscordTokenExpiry
	out := &TokenStatusOutput{}
	out.Body.Success = true
	out.Body.Message = "Token status retrieved"
	out.Body.Data.Expired = !expiry.IsZero() && expiry.Before(time.Now())
	out.Body.Data.UserID = id.User.DiscordID
	out.Body.Data.Username = id.User.Username
	return out, nil
}

type SyncOutput struct {
	Body struct {
		Success bool             `json:"success"`
		Message string           `json:"message"`
		Data    *auth.SyncResult `json:"data,omitempty"`
	}
}

func (h *DashboardHandler) HandleSyncServers(ctx context.Context, input *auth.AuthInput) (*SyncOutput, error) {
	id, err := h.auth.Authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	out := &SyncOutput{}
	res, err := h.auth.SyncWithStoredToken(ctx, &id.User)
	if err != nil {
		h.logger.Warn("Server sync failed", zap.String("discord_id", id.User.DiscordID), zap.Error(err))
		out.Body.Message = "Failed to sync servers. Discord token may be expired."
		return out, nil
	}
	out.Body.Success = true
	out.Body.Message = "User servers synced successfully"
	out.Body.Data = res
	return out, nil
}

type BotUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type BotStatusOutput struct {
	Body struct {
		Ready      bool     `json:"ready"`
		User       *BotUser `json:"user"`
		Latency    float64  `json:"latency"`
		Uptime     float64  `json:"uptime"`
		GuildCount int      `json:"guild_count"`
		Guilds     []string `json:"guilds"`
	}
}

func (h *DashboardHandler) status() bot.Status {
	if h.bot == nil {
		return bot.Status{GuildIDs: []string{}}
	}
	return h.bot.Status()
}

func botUser(st bot.Status) *BotUser {
	if !st.Ready || st.UserID == "" {
		return nil
	}
	return &BotUser{ID: st.UserID, Username: st.Username}
}

func (h *DashboardHandler) HandleBotStatus(ctx context.Context, input *auth.AuthInput) (*BotStatusOutput, error) {
	if _, err := h.auth.Authorize(ctx, input.Authorization); err != nil {
		return nil, err
	}

	st := h.status()
	out := &BotStatusOutput{}
	out.Body.Ready = st.Ready
	out.Body.User = botUser(st)
	out.Body.Latency = float64(st.LatencyMS) / 1000
	out.Body.Uptime = st.UptimeSeconds
	out.Body.GuildCount = st.GuildCount
	out.Body.Guilds = st.GuildIDs
	return out, nil
}

type ServerInput struct {
	auth.AuthInput
	ServerID string `path:"server_id" maxLength:"50" doc:"Discord server id"`
}

type ServerBotStatusOutput struct {
	Body struct {
		ServerID    string `json:"server_id"`
		ServerName  string `json:"server_name"`
		BotPresent  bool   `json:"bot_present"`
		BotAdded    bool   `json:"bot_added"`
		CanAddBot   bool   `json:"can_add_bot"`
		Permissions string `json:"permissions"`
	}
}

func (h *DashboardHandler) HandleServerBotStatus(ctx context.Context, input *ServerInput) (*ServerBotStatusOutput, error) {
	id, err := h.auth.Authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	us, err := userServer(ctx, h.db, id.User.ID, input.ServerID)
	if err != nil {
		return nil, err
	}

	out := &ServerBotStatusOutput{}
	out.Body.ServerID = us.ServerID
	out.Body.ServerName = us.ServerName
	out.Body.BotPresent = h.botGuildIDs()[us.ServerID]
	out.Body.BotAdded = us.BotAdded
	out.Body.CanAddBot = us.Owner || us.Permissions&discordgo.PermissionAdministrator != 0
	out.Body.Permissions = formatPermissions(us.Permissions)
	return out, nil
}

type BotServersOutput struct {
	Body []bot.GuildInfo
}

func (h *DashboardHandler) HandleBotServers(ctx context.Context, input *auth.AuthInput) (*BotServersOutput, error) {
	if _, err := h.auth.Authorize(ctx, input.Authorization); err != nil {
		return nil, err
	}
	guilds := []bot.GuildInfo{}
	if botReady(h.bot) {
		guilds = append(guilds, h.bot.Guilds()...)
	}
	return &BotServersOutput{Body: guilds}, nil
}

type BotReadyOutput struct {
	Body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Data    struct {
			Ready bool     `json:"ready"`
			User  *BotUser `json:"user"`
		} `json:"data"`
	}
}

// HandleBotReady is public so the frontend can poll it before login.
func (h *DashboardHandler) HandleBotReady(ctx context.Context, input *struct{}) (*BotReadyOutput, error) {
	st := h.status()
	out := &BotReadyOutput{}
	out.Body.Success = true
	out.Body.Message = "Bot status checked"
	out.Body.Data.Ready = st.Ready
	out.Body.Data.User = botUser(st)
	return out, nil
}

func (h *DashboardHandler) HandleSyncGuilds(ctx context.Context, input *auth.AuthInput) (*auth.MessageOutput, error) {
	if _, err := h.auth.Authorize(ctx, input.Authorization); err != nil {
		return nil, err
	}
	if !botReady(h.bot) {
		return auth.Message(false, "Bot is not ready"), nil
	}

	n, err := h.bot.SyncGuilds(ctx)
	if err != nil {
		return nil, internalError(h.logger, "Failed to sync bot guilds", err)
	}
	h.logger.Info("Synced bot guilds", zap.Int("guilds", n))
	return auth.Message(true, "Bot guilds synced successfully"), nil
}

type VerifyInServerInput struct {
	auth.AuthInput
	Body struct {
		ServerID  string `json:"server_id" minLength:"1" maxLength:"50"`
		AccountID uint   `json:"account_id" minimum:"1"`
	}
}

type VerifyInServerOutput struct {
	Body struct {
		Success bool                 `json:"success"`
		Message string               `json:"message"`
		Data    *verification.Result `json:"data"`
	}
}

func (h *DashboardHandler) HandleVerifyInServer(ctx context.Context, input *VerifyInServerInput) (*VerifyInServerOutput, error) {
	id, err := h.auth.Authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	if !roblox.IsNumeric(input.Body.ServerID) {
		return nil, huma.Error400BadRequest("Server ID must be a numeric string")
	}

	var account models.LinkedAccount
	err = h.db.WithContext(ctx).Where("id = ? AND user_id = ?", input.Body.AccountID, id.User.ID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, huma.Error404NotFound("Linked account not found")
	}
	if err != nil {
		return nil, internalError(h.logger, "Failed to load linked account", err)
	}

	if h.bot == nil {
		return nil, huma.Error503ServiceUnavailable("Bot is not ready")
	}
	res, err := h.bot.VerifyMember(ctx, input.Body.ServerID, id.User.DiscordID, &account)
	switch {
	case errors.Is(err, bot.ErrNotReady):
		return nil, huma.Error503ServiceUnavailable("Bot is not ready")
	case errors.Is(err, verification.ErrNotConfigured):
		return nil, huma.Error404NotFound("Server configuration not found")
	case errors.Is(err, bot.ErrGuildNotFound):
		return nil, huma.Error404NotFound("Server not found or bot not in server")
	case errors.Is(err, bot.ErrMemberNotFound):
		return nil, huma.Error404NotFound("User not found in server")
	case err != nil:
		return nil, internalError(h.logger, "Verification failed", err)
	}

	h.auth.InvalidateUser(id.User.DiscordID)

	out := &VerifyInServerOutput{}
	out.Body.Success = true
	out.Body.Message = "User verified in server successfully"
	out.Body.Data = res
	return out, nil
}

type CacheStatsOutput struct {
	Body cache.Stats
}

func (h *DashboardHandler) HandleCacheStats(ctx context.Context, input *auth.AuthInput) (*CacheStatsOutput, error) {
	if _, err := h.auth.Authorize(ctx, input.Authorization); err != nil {
		return nil, err
	}
	return &CacheStatsOutput{Body: h.store.Stats()}, nil
}

type CacheClearInput struct {
	auth.AuthInput
	Body struct {
		Confirm bool `json:"confirm" doc:"Must be true"`
	}
}

func (h *DashboardHandler) HandleCacheClear(ctx context.Context, input *CacheClearInput) (*auth.MessageOutput, error) {
	id, err := h.auth.Authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	if !input.Body.Confirm {
		return nil, huma.Error400BadRequest("Set confirm to true to clear all caches")
	}

	h.store.Clear()
	h.logger.Info("Caches cleared", zap.String("discord_id", id.User.DiscordID))
	return auth.Message(true, "All caches cleared successfully"), nil
}

type DebugGuild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type DebugStateOutput struct {
	Body struct {
		User struct {
			DiscordID     string `json:"discord_id"`
			Username      string `json:"username"`
			ProfileCached bool   `json:"discord_profile_cached"`
		} `json:"user"`
		UserServers []ServerInfo `json:"user_servers"`
		BotGuilds   []DebugGuild `json:"bot_guilds"`
		BotReady    bool         `json:"bot_ready"`
		CacheStats  cache.Stats  `json:"cache_stats"`
	}
}

func (h *DashboardHandler) HandleDebugState(ctx context.Context, input *auth.AuthInput) (*DebugStateOutput, error) {
	id, err := h.auth.Authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	var rows []models.UserServer
	if err := h.db.WithContext(ctx).Where("user_id = ?", id.User.ID).Order("id").Find(&rows).Error; err != nil {
		return nil, internalError(h.logger, "Failed to load servers", err)
	}

	out := &DebugStateOutput{}
	out.Body.User.DiscordID = id.User.DiscordID
	out.Body.User.Username = id.User.Username
	_, out.Body.User.ProfileCached = h.auth.CachedUser(id.User.DiscordID)
	out.Body.UserServers = make([]ServerInfo, 0, len(rows))
	for _, s := range rows {
		out.Body.UserServers = append(out.Body.UserServers, serverInfo(s.GuildMembership, s.UpdatedAt))
	}
	out.Body.BotGuilds = []DebugGuild{}
	if botReady(h.bot) {
		out.Body.BotReady = true
		for _, g := range h.bot.Guilds() {
			out.Body.BotGuilds = append(out.Body.BotGuilds, DebugGuild{ID: g.ID, Name: g.Name})
		}
	}
	out.Body.CacheStats = h.store.Stats()
	return out, nil
}
