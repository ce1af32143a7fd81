package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/disblox/disblox-api/internal/models"
	"github.com/disblox/disblox-api/internal/ratelimit"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

type contextKey string

const DiscordIDKey contextKey = "discord_id"

// AuthInput is embedded by every operation that needs a logged in user.
type AuthInput struct {
	Authorization string `header:"Authorization" doc:"Bearer access token"`
}

// Identity is the authenticated caller.
type Identity struct {
	User    models.User
	Session models.UserSession
}

func unauthorized(msg string) error {
	return huma.ErrorWithHeaders(
		huma.Error401Unauthorized(msg),
		http.Header{"X-Token-Expired": {"true"}},
	)
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authorize resolves the bearer access token to a user with a live session.
func (h *Handler) Authorize(ctx context.Context, header string) (*Identity, error) {
	tokenString := bearerToken(header)
	if tokenString == "" {
		return nil, unauthorized("Not authenticated")
	}

	claims, err := h.ParseToken(tokenString, TokenTypeAccess)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, unauthorized("Token has expired")
		}
		return nil, unauthorized("Invalid token")
	}

	var id Identity
	if err := h.db.WithContext(ctx).Where("discord_id = ?", claims.Subject).First(&id.User).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, unauthorized("User not found")
		}
		return nil, huma.Error500InternalServerError("Database error")
	}

	err = h.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND expires_at > ?", claims.SessionID, id.User.ID, h.now()).
		First(&id.Session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, unauthorized("Session expired")
		}
		return nil, huma.Error500InternalServerError("Database error")
	}

	return &id, nil
}

// Identify records the Discord id of requests carrying a valid access token.
// It never rejects a request; operations still call Authorize.
func (h *Handler) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenString := bearerToken(r.Header.Get("Authorization")); tokenString != "" {
			if claims, err := h.ParseToken(tokenString, TokenTypeAccess); err == nil {
				ctx := context.WithValue(r.Context(), DiscordIDKey, claims.Subject)
				r = r.WithContext(ctx)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// ClientKey keys rate limits by Discord id when known, else by client IP.
func ClientKey(r *http.Request) string {
	if id, ok := r.Context().Value(DiscordIDKey).(string); ok && id != "" {
		return "user:" + id
	}
	return "ip:" + ratelimit.ClientIP(r)
}
