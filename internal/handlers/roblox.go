package handlers

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/disblox/disblox-api/internal/auth"
	"github.com/disblox/disblox-api/internal/models"
	"github.com/disblox/disblox-api/internal/roblox"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type RobloxHandler struct {
	db          *gorm.DB
	auth        *auth.Handler
	oauth       RobloxLinker
	api         RobloxAPI
	frontendURL string
	logger      *zap.Logger
}

func NewRobloxHandler(db *gorm.DB, authHandler *auth.Handler, oauth RobloxLinker, api RobloxAPI, frontendURL string, logger *zap.Logger) *RobloxHandler {
	return &RobloxHandler{
		db:          db,
		auth:        authHandler,
		oauth:       oauth,
		api:         api,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger.Named("roblox"),
	}
}

type RobloxAuthOutput struct {
	Body struct {
		Success bool   `json:"success"`
		AuthURL string `json:"auth_url"`
		State   string `json:"state"`
	}
}

func (h *RobloxHandler) HandleAuthURL(ctx context.Context, input *auth.AuthInput) (*RobloxAuthOutput, error) {
	id, err := h.auth.Authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	if !h.oauth.Configured() {
		return nil, huma.Error503ServiceUnavailable("Roblox OAuth2 is not configured")
	}

	authURL, state, err := h.oauth.AuthURL(id.User.ID)
	if err != nil {
		return nil, internalError(h.logger, "Failed to generate Roblox authorization URL", err)
	}

	out := &RobloxAuthOutput{}
	out.Body.Success = true
	out.Body.AuthURL = authURL
	out.Body.State = state
	return out, nil
}

type RobloxCallbackInput struct {
	Code             string `query:"code" maxLength:"1000"`
	State            string `query:"state" maxLength:"200"`
	Error            string `query:"error" maxLength:"200"`
	ErrorDescription string `query:"error_description" maxLength:"500"`
}

func (h *RobloxHandler) callbackRedirect(params url.Values) *auth.RedirectOutput {
	return &auth.RedirectOutput{Status: 307, Url: h.frontendURL + "/roblox/callback?" + params.Encode()}
}

func (h *RobloxHandler) callbackError(msg string) *auth.RedirectOutput {
	return h.callbackRedirect(url.Values{"error": {msg}})
}

// HandleCallback links the Roblox account that completed authorization. The
// browser always lands on the frontend; failures travel in the error param.
func (h *RobloxHandler) HandleCallback(ctx context.Context, input *RobloxCallbackInput) (*auth.RedirectOutput, error) {
	if input.Error != "" {
		msg := input.ErrorDescription
		if msg == "" {
			msg = input.Error
		}
		return h.callbackError(msg), nil
	}
	if input.Code == "" || input.State == "" {
		return h.callbackError("Invalid request parameters"), nil
	}

	link, err := h.oauth.Consume(input.State)
	if err != nil {
		return h.callbackError("Invalid or expired state parameter"), nil
	}

	var user models.User
	if err := h.db.WithContext(ctx).First(&user, link.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return h.callbackError("User not found"), nil
		}
		h.logger.Error("Failed to load user for Roblox link", zap.Uint("user_id", link.UserID), zap.Error(err))
		return h.callbackError("Database error"), nil
	}

	info, err := h.oauth.Exchange(ctx, input.Code, link)
	if err != nil {
		h.logger.Warn("Roblox token exchange failed", zap.String("discord_id", user.DiscordID), zap.Error(err))
		if errors.Is(err, roblox.ErrInvalidUserInfo) {
			return h.callbackError("Invalid user information from Roblox"), nil
		}
		return h.callbackError("Failed to exchange authorization code"), nil
	}

	account, err := roblox.Link(ctx, h.db, user.ID, info, h.api.AvatarURL(ctx, info.ID))
	switch {
	case errors.Is(err, roblox.ErrLinkedToSelf):
		return h.callbackError("This Roblox account is already linked to your Discord account"), nil
	case errors.Is(err, roblox.ErrLinkedToOther):
		return h.callbackError("This Roblox account is already linked to another Discord account"), nil
	case err != nil:
		h.logger.Error("Failed to store linked account", zap.String("discord_id", user.DiscordID), zap.Error(err))
		return h.callbackError("Failed to link Roblox account"), nil
	}

	h.logger.Info("Roblox account linked",
		zap.String("discord_id", user.DiscordID),
		zap.String("roblox_id", account.RobloxID),
		zap.String("roblox_username", account.RobloxUsername),
	)

	h.auth.InvalidateUser(user.DiscordID)
	if _, err := h.auth.SyncWithStoredToken(ctx, &user); err != nil {
		h.logger.Debug("Server resync after link skipped", zap.String("discord_id", user.DiscordID), zap.Error(err))
	}

	return h.callbackRedirect(url.Values{"code": {"success"}, "state": {"linked"}}), nil
}

func (h *RobloxHandler) HandleUnlink(ctx context.Context, input *AccountInput) (*auth.MessageOutput, error) {
	id, err := h.auth.Authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	removed, err := roblox.Unlink(ctx, h.db, id.User.ID, input.AccountID)
	if err != nil {
		return nil, internalError(h.logger, "Failed to unlink account", err)
	}
	if !removed {
		return auth.Message(false, "Linked account not found"), nil
	}

	h.auth.InvalidateUser(id.User.DiscordID)
	return auth.Message(true, "Roblox account unlinked successfully"), nil
}

type RobloxStatusOutput struct {
	Body struct {
		Configured  bool   `json:"configured"`
		ClientID    string `json:"client_id,omitempty"`
		RedirectURI string `json:"redirect_uri,omitempty"`
	}
}

func (h *RobloxHandler) HandleStatus(ctx context.Context, input *auth.AuthInput) (*RobloxStatusOutput, error) {
	if _, err := h.auth.Authorize(ctx, input.Authorization); err != nil {
		return nil, err
	}

	out := &RobloxStatusOutput{}
	out.Body.Configured = h.oauth.Configured()
	if out.Body.Configured {
		out.Body.ClientID = h.oauth.ClientID()
		out.Body.RedirectURI = h.oauth.RedirectURI()
	}
	return out, nil
}
