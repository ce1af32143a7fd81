package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/disblox/disblox-api/internal/auth"
	"github.com/disblox/disblox-api/internal/models"
	"github.com/disblox/disblox-api/internal/roblox"
	"github.com/disblox/disblox-api/internal/verification"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	setupReason = "Disblox server setup"
	editReason  = "Disblox configuration update"
)

type ServerHandler struct {
	db     *gorm.DB
	auth   *auth.Handler
	bot    Bot
	roblox RobloxAPI
	logger *zap.Logger
}

// NewServerHandler serves the /server setup and edit flow. b may be nil.
func NewServerHandler(db *gorm.DB, authHandler *auth.Handler, b Bot, rbx RobloxAPI, logger *zap.Logger) *ServerHandler {
	return &ServerHandler{
		db:     db,
		auth:   authHandler,
		bot:    b,
		roblox: rbx,
		logger: logger.Named("server"),
	}
}

type SetupStep struct {
	NicknameFormat      string   `json:"nickname_format,omitempty" enum:"roblox_username,roblox_display,discord_display,discord_username,discord_display_with_roblox,none"`
	VerifiedRoleEnabled *bool    `json:"verified_role_enabled,omitempty"`
	VerifiedRoleName    string   `json:"verified_role_name,omitempty" maxLength:"100"`
	VerifiedRoleID      string   `json:"verified_role_id,omitempty" maxLength:"50"`
	RolesToRemove       []string `json:"roles_to_remove,omitempty" maxItems:"50"`
	GroupID             string   `json:"group_id,omitempty" maxLength:"20"`
	GroupURL            string   `json:"group_url,omitempty" maxLength:"500"`
	Skip                bool     `json:"skip,omitempty"`
}

func (s *SetupStep) validate() error {
	if s.NicknameFormat != "" && !verification.ValidNicknameFormat(s.NicknameFormat) {
		return huma.Error400BadRequest("Invalid nickname format")
	}
	if s.VerifiedRoleID != "" && !roblox.IsNumeric(s.VerifiedRoleID) {
		return huma.Error400BadRequest("Role ID must be a numeric string")
	}
	for _, id := range s.RolesToRemove {
		if !roblox.IsNumeric(strings.TrimSpace(id)) {
			return huma.Error400BadRequest("Role IDs must be numeric strings")
		}
	}
	if s.GroupID != "" {
		if strings.HasPrefix(strings.ToLower(s.GroupID), "http") {
			return huma.Error400BadRequest("group_id must be a numeric ID, use group_url for URLs")
		}
		if !roblox.IsNumeric(s.GroupID) {
			return huma.Error400BadRequest("Group ID must be a numeric string")
		}
	}
	return nil
}

type SetupInput struct {
	ServerInput
	Body SetupStep
}

type GroupRoleInfo struct {
	ID              uint   `json:"id"`
	RobloxRoleID    string `json:"roblox_role_id"`
	RobloxRoleName  string `json:"roblox_role_name"`
	RobloxRoleRank  int    `json:"roblox_role_rank"`
	DiscordRoleID   string `json:"discord_role_id,omitempty"`
	DiscordRoleName string `json:"discord_role_name"`
}

func groupRoleInfos(roles []models.GroupRole) []GroupRoleInfo {
	out := make([]GroupRoleInfo, 0, len(roles))
	for _, r := range roles {
		out = append(out, GroupRoleInfo{
			ID:              r.ID,
			RobloxRoleID:    r.RobloxRoleID,
			RobloxRoleName:  r.RobloxRoleName,
			RobloxRoleRank:  r.RobloxRoleRank,
			DiscordRoleID:   r.DiscordRoleID,
			DiscordRoleName: r.DiscordRoleName,
		})
	}
	return out
}

type ServerConfigInfo struct {
	ServerID            string          `json:"server_id"`
	ServerName          string          `json:"server_name,omitempty"`
	NicknameFormat      string          `json:"nickname_format"`
	VerifiedRoleEnabled bool            `json:"verified_role_enabled"`
	VerifiedRoleName    string          `json:"verified_role_name"`
	VerifiedRoleID      string          `json:"verified_role_id,omitempty"`
	RolesToRemove       []string        `json:"roles_to_remove"`
	GroupID             string          `json:"group_id,omitempty"`
	GroupName           string          `json:"group_name,omitempty"`
	GroupRolesEnabled   bool            `json:"group_roles_enabled"`
	SetupCompleted      bool            `json:"setup_completed"`
	SetupStep           string          `json:"setup_step"`
	GroupRoles          []GroupRoleInfo `json:"group_roles"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func configInfo(cfg *models.ServerConfig) *ServerConfigInfo {
	removes := cfg.RolesToRemoveList()
	if removes == nil {
		removes = []string{}
	}
	return &ServerConfigInfo{
		ServerID:            cfg.ServerID,
		NicknameFormat:      cfg.NicknameFormat,
		VerifiedRoleEnabled: cfg.VerifiedRoleEnabled,
		VerifiedRoleName:    cfg.VerifiedRoleName,
		VerifiedRoleID:      cfg.VerifiedRoleID,
		RolesToRemove:       removes,
		GroupID:             cfg.GroupID,
		GroupName:           cfg.GroupName,
		GroupRolesEnabled:   cfg.GroupRolesEnabled,
		SetupCompleted:      cfg.SetupCompleted,
		SetupStep:           cfg.SetupStep,
		GroupRoles:          groupRoleInfos(cfg.GroupRoles),
		CreatedAt:           cfg.CreatedAt,
		UpdatedAt:           cfg.UpdatedAt,
	}
}

type SetupOutput struct {
	Body struct {
		Success        bool              `json:"success"`
		Message        string            `json:"message"`
		CurrentStep    string            `json:"current_step"`
		SetupCompleted bool              `json:"setup_completed"`
		Config         *ServerConfigInfo `json:"config,omitempty"`
	}
}

func setupOutput(msg string, cfg *models.ServerConfig) *SetupOutput {
	out := &SetupOutput{}
	out.Body.Success = true
	out.Body.Message = msg
	out.Body.CurrentStep = cfg.SetupStep
	out.Body.SetupCompleted = cfg.SetupCompleted
	out.Body.Config = configInfo(cfg)
	return out
}

type ConfigOutput struct {
	Body struct {
		Success bool              `json:"success"`
		Config  *ServerConfigInfo `json:"config"`
	}
}

// access authorizes the caller for the guild in the path.
func (h *ServerHandler) access(ctx context.Context, input *ServerInput) (*models.UserServer, error) {
	id, err := h.auth.Authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	return userServer(ctx, h.db, id.User.ID, input.ServerID)
}

// config returns the guild's config, or nil when it has none.
func (h *ServerHandler) config(ctx context.Context, serverID string) (*models.ServerConfig, error) {
	var cfg models.ServerConfig
	err := h.db.WithContext(ctx).
		Preload("GroupRoles", func(db *gorm.DB) *gorm.DB { return db.Order("roblox_role_rank desc") }).
		Where("server_id = ?", serverID).
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, internalError(h.logger, "Failed to load server configuration", err)
	}
	return &cfg, nil
}

func (h *ServerHandler) requireConfig(ctx context.Context, serverID string) (*models.ServerConfig, error) {
	cfg, err := h.config(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, huma.Error404NotFound("Server configuration not found")
	}
	return cfg, nil
}

func (h *ServerHandler) save(ctx context.Context, cfg *models.ServerConfig) error {
	if err := h.db.WithContext(ctx).Omit(clause.Associations).Save(cfg).Error; err != nil {
		return internalError(h.logger, "Failed to save server configuration", err)
	}
	return nil
}

// botInGuild reports whether Discord roles can be managed for the guild now.
func (h *ServerHandler) botInGuild(guildID string) bool {
	if !botReady(h.bot) {
		return false
	}
	_, err := h.bot.Guild(guildID)
	return err == nil
}

func (h *ServerHandler) applyVerifiedRole(cfg *models.ServerConfig, step *SetupStep) {
	if step.VerifiedRoleEnabled != nil {
		cfg.VerifiedRoleEnabled = *step.VerifiedRoleEnabled
	}
	if name := strings.TrimSpace(step.VerifiedRoleName); name != "" {
		cfg.VerifiedRoleName = name
	}
	if step.VerifiedRoleID != "" {
		cfg.VerifiedRoleID = step.VerifiedRoleID
	}
	if step.RolesToRemove != nil {
		cfg.SetRolesToRemove(step.RolesToRemove)
	}
}

// ensureVerifiedRole creates the verified role in Discord when the guild has
// none yet.
func (h *ServerHandler) ensureVerifiedRole(ctx context.Context, cfg *models.ServerConfig, reason string) {
	if !cfg.VerifiedRoleEnabled || cfg.VerifiedRoleID != "" || !h.botInGuild(cfg.ServerID) {
		return
	}
	roleID, err := h.bot.CreateRole(ctx, cfg.ServerID, cfg.VerifiedRoleName, reason)
	if err != nil {
		h.logger.Warn("Failed to create verified role", zap.String("server_id", cfg.ServerID), zap.Error(err))
		return
	}
	cfg.VerifiedRoleID = roleID
}

func (h *ServerHandler) resolveGroupID(step *SetupStep) (string, error) {
	switch {
	case step.GroupURL != "":
		groupID, err := roblox.ParseGroupID(step.GroupURL)
		if err != nil {
			return "", huma.Error400BadRequest(roblox.ErrInvalidGroupURL.Error())
		}
		return groupID, nil
	case step.GroupID != "":
		return step.GroupID, nil
	}
	return "", huma.Error400BadRequest("Please provide either a group URL or group ID, or set skip to true")
}

// disableGroup turns group roles off and drops the rank mappings.
func (h *ServerHandler) disableGroup(ctx context.Context, cfg *models.ServerConfig) error {
	cfg.GroupRolesEnabled = false
	cfg.GroupID = ""
	cfg.GroupName = ""
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("server_config_id = ?", cfg.ID).Delete(&models.GroupRole{}).Error; err != nil {
			return err
		}
		return tx.Omit(clause.Associations).Save(cfg).Error
	})
	if err != nil {
		return internalError(h.logger, "Failed to update group configuration", err)
	}
	cfg.GroupRoles = nil
	return nil
}

// configureGroup fetches the Roblox group, creates a Discord role for every
// rank above guest and replaces the stored mappings.
func (h *ServerHandler) configureGroup(ctx context.Context, cfg *models.ServerConfig, step *SetupStep, reason string) error {
	groupID, err := h.resolveGroupID(step)
	if err != nil {
		return err
	}

	group, err := h.roblox.Group(ctx, groupID)
	if err != nil {
		if errors.Is(err, roblox.ErrGroupNotFound) {
			return huma.Error400BadRequest("Invalid group ID or group not found")
		}
		h.logger.Error("Failed to fetch Roblox group", zap.String("group_id", groupID), zap.Error(err))
		return huma.Error503ServiceUnavailable("Failed to fetch group information from Roblox")
	}

	createRoles := h.botInGuild(cfg.ServerID)
	mappings := make([]models.GroupRole, 0, len(group.Roles))
	for _, role := range group.Roles {
		if role.Rank <= 0 {
			continue
		}
		gr := models.GroupRole{
			ServerConfigID:  cfg.ID,
			RobloxRoleID:    role.ID,
			RobloxRoleName:  role.Name,
			RobloxRoleRank:  role.Rank,
			DiscordRoleName: role.Name,
		}
		if createRoles {
			roleID, err := h.bot.CreateRole(ctx, cfg.ServerID, role.Name, reason)
			if err != nil {
				h.logger.Warn("Failed to create group role",
					zap.String("server_id", cfg.ServerID),
					zap.String("role", role.Name),
					zap.Error(err),
				)
			} else {
				gr.DiscordRoleID = roleID
			}
		}
		mappings = append(mappings, gr)
	}

	cfg.GroupID = group.ID
	cfg.GroupName = group.Name
	cfg.GroupRolesEnabled = true

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("server_config_id = ?", cfg.ID).Delete(&models.GroupRole{}).Error; err != nil {
			return err
		}
		if len(mappings) > 0 {
			if err := tx.Create(&mappings).Error; err != nil {
				return err
			}
		}
		return tx.Omit(clause.Associations).Save(cfg).Error
	})
	if err != nil {
		return internalError(h.logger, "Failed to save group configuration", fmt.Errorf("group %s: %w", group.ID, err))
	}
	cfg.GroupRoles = mappings

	h.logger.Info("Group configured",
		zap.String("server_id", cfg.ServerID),
		zap.String("group_id", group.ID),
		zap.Int("roles", len(mappings)),
	)
	return nil
}

func (h *ServerHandler) HandleGetConfig(ctx context.Context, input *ServerInput) (*ConfigOutput, error) {
	if _, err := h.access(ctx, input); err != nil {
		return nil, err
	}
	cfg, err := h.requireConfig(ctx, input.ServerID)
	if err != nil {
		return nil, err
	}

	out := &ConfigOutput{}
	out.Body.Success = true
	out.Body.Config = configInfo(cfg)
	return out, nil
}

func (h *ServerHandler) HandleSetupStatus(ctx context.Context, input *ServerInput) (*SetupOutput, error) {
	if _, err := h.access(ctx, input); err != nil {
		return nil, err
	}
	cfg, err := h.config(ctx, input.ServerID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		out := &SetupOutput{}
		out.Body.Success = true
		out.Body.Message = "Server setup not started"
		out.Body.CurrentStep = models.SetupStepNickname
		return out, nil
	}
	return setupOutput("Setup status retrieved", cfg), nil
}

func (h *ServerHandler) HandleSetupNickname(ctx context.Context, input *SetupInput) (*SetupOutput, error) {
	if _, err := h.access(ctx, &input.ServerInput); err != nil {
		return nil, err
	}
	if err := input.Body.validate(); err != nil {
		return nil, err
	}
	if input.Body.NicknameFormat == "" {
		return nil, huma.Error400BadRequest("nickname_format is required")
	}

	cfg, err := h.config(ctx, input.ServerID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = models.NewServerConfig(input.ServerID)
	}
	cfg.NicknameFormat = input.Body.NicknameFormat
	if !cfg.SetupCompleted {
		cfg.SetupStep = models.SetupStepVerifiedRole
	}
	if err := h.save(ctx, cfg); err != nil {
		return nil, err
	}
	return setupOutput("Nickname format configured successfully", cfg), nil
}

func (h *ServerHandler) HandleSetupVerifiedRole(ctx context.Context, input *SetupInput) (*SetupOutput, error) {
	if _, err := h.access(ctx, &input.ServerInput); err != nil {
		return nil, err
	}
	if err := input.Body.validate(); err != nil {
		return nil, err
	}

	cfg, err := h.config(ctx, input.ServerID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, huma.Error400BadRequest("Please configure nickname format first")
	}

	h.applyVerifiedRole(cfg, &input.Body)
	if !cfg.SetupCompleted {
		cfg.SetupStep = models.SetupStepGroup
	}
	if err := h.save(ctx, cfg); err != nil {
		return nil, err
	}
	return setupOutput("Verified role configured successfully", cfg), nil
}

func (h *ServerHandler) HandleSetupGroup(ctx context.Context, input *SetupInput) (*SetupOutput, error) {
	if _, err := h.access(ctx, &input.ServerInput); err != nil {
		return nil, err
	}
	if err := input.Body.validate(); err != nil {
		return nil, err
	}

	cfg, err := h.config(ctx, input.ServerID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, huma.Error400BadRequest("Please configure previous steps first")
	}

	msg := "Group configured successfully"
	if input.Body.Skip {
		if err := h.disableGroup(ctx, cfg); err != nil {
			return nil, err
		}
		msg = "Group configuration skipped"
	} else if err := h.configureGroup(ctx, cfg, &input.Body, setupReason); err != nil {
		return nil, err
	}

	h.ensureVerifiedRole(ctx, cfg, setupReason)
	cfg.SetupCompleted = true
	cfg.SetupStep = models.SetupStepCompleted
	if err := h.save(ctx, cfg); err != nil {
		return nil, err
	}
	return setupOutput(msg, cfg), nil
}

type GroupRolesOutput struct {
	Body struct {
		Success    bool            `json:"success"`
		GroupID    string          `json:"group_id,omitempty"`
		GroupName  string          `json:"group_name,omitempty"`
		GroupRoles []GroupRoleInfo `json:"group_roles"`
	}
}

func (h *ServerHandler) HandleGroupRoles(ctx context.Context, input *ServerInput) (*GroupRolesOutput, error) {
	if _, err := h.access(ctx, input); err != nil {
		return nil, err
	}
	cfg, err := h.requireConfig(ctx, input.ServerID)
	if err != nil {
		return nil, err
	}

	out := &GroupRolesOutput{}
	out.Body.Success = true
	out.Body.GroupID = cfg.GroupID
	out.Body.GroupName = cfg.GroupName
	out.Body.GroupRoles = groupRoleInfos(cfg.GroupRoles)
	return out, nil
}

type EditOutput struct {
	Body struct {
		Success      bool              `json:"success"`
		ServerConfig *ServerConfigInfo `json:"server_config"`
		GroupRoles   []GroupRoleInfo   `json:"group_roles"`
	}
}

func (h *ServerHandler) HandleEditConfig(ctx context.Context, input *ServerInput) (*EditOutput, error) {
	us, err := h.access(ctx, input)
	if err != nil {
		return nil, err
	}
	cfg, err := h.requireConfig(ctx, input.ServerID)
	if err != nil {
		return nil, err
	}

	info := configInfo(cfg)
	info.ServerName = us.ServerName

	out := &EditOutput{}
	out.Body.Success = true
	out.Body.ServerConfig = info
	out.Body.GroupRoles = info.GroupRoles
	return out, nil
}

func (h *ServerHandler) HandleEditNickname(ctx context.Context, input *SetupInput) (*SetupOutput, error) {
	if _, err := h.access(ctx, &input.ServerInput); err != nil {
		return nil, err
	}
	if err := input.Body.validate(); err != nil {
		return nil, err
	}
	if input.Body.NicknameFormat == "" {
		return nil, huma.Error400BadRequest("nickname_format is required")
	}
	cfg, err := h.requireConfig(ctx, input.ServerID)
	if err != nil {
		return nil, err
	}

	cfg.NicknameFormat = input.Body.NicknameFormat
	if err := h.save(ctx, cfg); err != nil {
		return nil, err
	}
	return setupOutput("Nickname format updated successfully", cfg), nil
}

func (h *ServerHandler) HandleEditVerifiedRole(ctx context.Context, input *SetupInput) (*SetupOutput, error) {
	if _, err := h.access(ctx, &input.ServerInput); err != nil {
		return nil, err
	}
	if err := input.Body.validate(); err != nil {
		return nil, err
	}
	cfg, err := h.requireConfig(ctx, input.ServerID)
	if err != nil {
		return nil, err
	}

	oldName, oldID := cfg.VerifiedRoleName, cfg.VerifiedRoleID
	h.applyVerifiedRole(cfg, &input.Body)
	if cfg.VerifiedRoleID != "" && cfg.VerifiedRoleID == oldID && cfg.VerifiedRoleName != oldName && h.botInGuild(cfg.ServerID) {
		if err := h.bot.RenameRole(ctx, cfg.ServerID, cfg.VerifiedRoleID, cfg.VerifiedRoleName, editReason); err != nil {
			h.logger.Warn("Failed to rename verified role", zap.String("server_id", cfg.ServerID), zap.Error(err))
		}
	}
	h.ensureVerifiedRole(ctx, cfg, editReason)

	if err := h.save(ctx, cfg); err != nil {
		return nil, err
	}
	return setupOutput("Verified role settings updated successfully", cfg), nil
}

func (h *ServerHandler) HandleEditGroup(ctx context.Context, input *SetupInput) (*SetupOutput, error) {
	if _, err := h.access(ctx, &input.ServerInput); err != nil {
		return nil, err
	}
	if err := input.Body.validate(); err != nil {
		return nil, err
	}
	cfg, err := h.requireConfig(ctx, input.ServerID)
	if err != nil {
		return nil, err
	}

	if input.Body.Skip {
		if err := h.disableGroup(ctx, cfg); err != nil {
			return nil, err
		}
		return setupOutput("Group configuration disabled successfully", cfg), nil
	}
	if err := h.configureGroup(ctx, cfg, &input.Body, editReason); err != nil {
		return nil, err
	}
	return setupOutput("Group configuration updated successfully", cfg), nil
}

func (h *ServerHandler) HandleResetConfig(ctx context.Context, input *ServerInput) (*auth.MessageOutput, error) {
	if _, err := h.access(ctx, input); err != nil {
		return nil, err
	}
	cfg, err := h.requireConfig(ctx, input.ServerID)
	if err != nil {
		return nil, err
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("server_config_id = ?", cfg.ID).Delete(&models.GroupRole{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.ServerConfig{}, cfg.ID).Error
	})
	if err != nil {
		return nil, internalError(h.logger, "Failed to reset server configuration", err)
	}

	h.logger.Info("Server configuration reset", zap.String("server_id", cfg.ServerID))
	return auth.Message(true, "Server configuration reset successfully"), nil
}
