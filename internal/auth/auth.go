package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/danielgtaylor/huma/v2"
	"github.com/disblox/disblox-api/internal/cache"
	"github.com/disblox/disblox-api/internal/config"
	"github.com/disblox/disblox-api/internal/models"
	"github.com/disblox/disblox-api/internal/ratelimit"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

const (
	stateTTL   = 10 * time.Minute
	sessionTTL = 7 * 24 * time.Hour
)

type Handler struct {
	oauthConfig *oauth2.Config
	db          *gorm.DB
	cfg         *config.Config
	logger      *zap.Logger
	directory   GuildDirectory

	users          *cache.Namespace[*discordgo.User]
	guilds         *cache.Namespace[[]*discordgo.UserGuild]
	states         *cache.Namespace[struct{}]
	discordLimiter *ratelimit.Endpoint

	userAPI   string
	guildsAPI string
	now       func() time.Time
}

// NewHandler wires Discord OAuth and session handling. directory may be nil
// when the bot is disabled.
func NewHandler(cfg *config.Config, db *gorm.DB, store *cache.Store, directory GuildDirectory, logger *zap.Logger) *Handler {
	return &Handler{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.DiscordRedirectURI,
			Scopes:       []string{"identify", "email", "guilds"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  DiscordAuthorizeEndpoint,
				TokenURL: DiscordTokenEndpoint,
			},
		},
		db:        db,
		cfg:       cfg,
		logger:    logger.Named("auth"),
		directory: directory,

		users:          cache.NewNamespace[*discordgo.User](store, "discord_users", 500, 30*time.Minute),
		guilds:         cache.NewNamespace[[]*discordgo.UserGuild](store, "discord_user_guilds", 1000, 30*time.Minute),
		states:         cache.NewNamespace[struct{}](store, "discord_oauth_states", 1000, stateTTL),
		discordLimiter: ratelimit.NewEndpoint(50, time.Minute),

		userAPI:   DiscordUserAPI,
		guildsAPI: DiscordUserGuildsAPI,
		now:       time.Now,
	}
}

// MessageOutput is the plain acknowledgement body shared by many operations.
type MessageOutput struct {
	Body MessageBody
}

type MessageBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func Message(success bool, msg string) *MessageOutput {
	return &MessageOutput{Body: MessageBody{Success: success, Message: msg}}
}

type RedirectOutput struct {
	Status int
	Url    string `header:"Location"`
}

func redirect(to string) *RedirectOutput {
	return &RedirectOutput{Status: 307, Url: to}
}

// AuthURL builds a Discord authorization URL with a fresh single use state.
func (h *Handler) AuthURL() string {
	state := uuid.NewString()
	h.states.Set(state, struct{}{})
	return h.oauthConfig.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "consent"))
}

func (h *Handler) HandleLogin(ctx context.Context, input *struct{}) (*RedirectOutput, error) {
	return redirect(h.AuthURL()), nil
}

type AuthURLOutput struct {
	Body struct {
		Success bool   `json:"success"`
		AuthURL string `json:"auth_url"`
	}
}

func (h *Handler) HandleDiscordURL(ctx context.Context, input *struct{}) (*AuthURLOutput, error) {
	out := &AuthURLOutput{}
	out.Body.Success = true
	out.Body.AuthURL = h.AuthURL()
	return out, nil
}

type CallbackInput struct {
	Code             string `query:"code" maxLength:"1000"`
	State            string `query:"state" maxLength:"100"`
	Error            string `query:"error" maxLength:"200"`
	ErrorDescription string `query:"error_description" maxLength:"500"`
	GuildID          string `query:"guild_id" maxLength:"50"`
}

func (h *Handler) frontend(path string, params url.Values) string {
	return strings.TrimRight(h.cfg.FrontendURL, "/") + path + "?" + params.Encode()
}

func (h *Handler) loginError(msg string) *RedirectOutput {
	return redirect(h.frontend("/login", url.Values{"error": {msg}}))
}

// HandleCallback finishes the Discord login and hands tokens to the frontend.
// Failures never surface as API errors; the browser is sent back to the
// login page with a reason instead.
func (h *Handler) HandleCallback(ctx context.Context, input *CallbackInput) (*RedirectOutput, error) {
	if input.Error != "" || input.Code == "" {
		switch {
		case input.Error == "access_denied":
			return h.loginError("Authorization was cancelled by the user"), nil
		case input.Error != "":
			desc := input.ErrorDescription
			if desc == "" {
				desc = input.Error
			}
			return h.loginError("Discord authorization failed: " + desc), nil
		default:
			return h.loginError("Authorization was cancelled or failed"), nil
		}
	}

	if _, ok := h.states.Take(input.State); !ok {
		h.logger.Warn("Discord callback with unknown state")
		return h.loginError("invalid state"), nil
	}

	tokens, err := h.authenticate(ctx, input.Code)
	if err != nil {
		h.logger.Error("Discord authentication failed", zap.Error(err))
		return h.loginError("authentication failed"), nil
	}

	params := url.Values{
		"access_token":  {tokens.AccessToken},
		"refresh_token": {tokens.RefreshToken},
	}
	if input.GuildID != "" {
		params.Set("guild_id", input.GuildID)
	}
	return redirect(h.frontend("/auth/callback", params)), nil
}

// authenticate exchanges the code, stores the user and a new session, and
// issues JWTs for it.
func (h *Handler) authenticate(ctx context.Context, code string) (*TokenPair, error) {
	token, err := h.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	discordUser, err := h.fetchDiscordUser(ctx, token)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := h.db.WithContext(ctx).FirstOrInit(&user, models.User{DiscordID: discordUser.ID}).Error; err != nil {
		return nil, err
	}
	user.Username = discordUser.Username
	user.Discriminator = discordUser.Discriminator
	user.Avatar = discordUser.Avatar
	user.Email = discordUser.Email
	if err := h.db.WithContext(ctx).Save(&user).Error; err != nil {
		return nil, err
	}

	session := models.UserSession{
		UserID:              user.ID,
		SessionToken:        uuid.NewString(),
		ExpiresAt:           h.now().Add(sessionTTL),
		DiscordAccessToken:  token.AccessToken,
		DiscordRefreshToken: token.RefreshToken,
		DiscordTokenExpiry:  token.Expiry,
	}
	if err := h.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, err
	}

	if _, err := h.SyncUserServers(ctx, &user, token); err != nil {
		h.logger.Warn("Server sync after login failed", zap.String("discord_id", user.DiscordID), zap.Error(err))
	}

	return h.IssueTokens(&user, &session)
}

type MeOutput struct {
	Body struct {
		Success bool     `json:"success"`
		Data    UserInfo `json:"data"`
	}
}

type UserInfo struct {
	DiscordID string    `json:"discord_id"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"created_at"`
}

func NewUserInfo(u *models.User) UserInfo {
	return UserInfo{
		DiscordID: u.DiscordID,
		Username:  u.Username,
		Avatar:    u.Avatar,
		CreatedAt: u.CreatedAt,
	}
}

func (h *Handler) HandleMe(ctx context.Context, input *AuthInput) (*MeOutput, error) {
	id, err := h.Authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	out := &MeOutput{}
	out.Body.Success = true
	out.Body.Data = NewUserInfo(&id.User)
	return out, nil
}

func (h *Handler) HandleLogout(ctx context.Context, input *AuthInput) (*MessageOutput, error) {
	id, err := h.Authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	h.InvalidateUser(id.User.DiscordID)
	if err := h.db.WithContext(ctx).Unscoped().Delete(&id.Session).Error; err != nil {
		h.logger.Error("Failed to delete session", zap.Uint("session_id", id.Session.ID), zap.Error(err))
		return nil, huma.Error500InternalServerError("Logout failed")
	}
	return Message(true, "Logged out successfully"), nil
}

type RefreshInput struct {
	Body struct {
		RefreshToken string `json:"refresh_token" minLength:"1"`
	}
}

type RefreshOutput struct {
	Body struct {
		Success bool       `json:"success"`
		Message string     `json:"message"`
		Data    *TokenPair `json:"data"`
	}
}

func (h *Handler) HandleRefresh(ctx context.Context, input *RefreshInput) (*RefreshOutput, error) {
	claims, err := h.ParseToken(input.Body.RefreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, huma.Error401Unauthorized("Invalid refresh token")
	}

	var user models.User
	if err := h.db.WithContext(ctx).Where("discord_id = ?", claims.Subject).First(&user).Error; err != nil {
		return nil, huma.Error401Unauthorized("User not found")
	}

	var session models.UserSession
	err = h.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND expires_at > ?", claims.SessionID, user.ID, h.now()).
		First(&session).Error
	if err != nil {
		return nil, huma.Error401Unauthorized("Session expired")
	}

	tokens, err := h.IssueTokens(&user, &session)
	if err != nil {
		return nil, huma.Error500InternalServerError("Token refresh failed")
	}

	out := &RefreshOutput{}
	out.Body.Success = true
	out.Body.Message = "Token refreshed successfully"
	out.Body.Data = tokens
	return out, nil
}

func (h *Handler) HandleDiscordRefresh(ctx context.Context, input *AuthInput) (*MessageOutput, error) {
	id, err := h.Authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	if _, err := h.DiscordToken(ctx, &id.User, true); err != nil {
		if errors.Is(err, ErrNoDiscordToken) {
			return nil, huma.Error400BadRequest("No Discord refresh token available")
		}
		h.logger.Warn("Discord token refresh failed", zap.String("discord_id", id.User.DiscordID), zap.Error(err))
		return nil, huma.Error400BadRequest("Discord token refresh failed")
	}

	h.InvalidateUser(id.User.DiscordID)
	return Message(true, "Discord token refreshed successfully"), nil
}
