package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/disblox/disblox-api/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var ErrWrongTokenType = errors.New("wrong token type")

// Claims identify a user session. The subject is the Discord user id.
type Claims struct {
	SessionID uint   `json:"session_id"`
	Type      string `json:"type"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

func (h *Handler) accessTTL() time.Duration {
	return time.Duration(h.cfg.AccessTokenExpireMinutes) * time.Minute
}

func (h *Handler) refreshTTL() time.Duration {
	return time.Duration(h.cfg.RefreshTokenExpireHours) * time.Hour
}

func (h *Handler) signToken(user *models.User, session *models.UserSession, tokenType string, ttl time.Duration) (string, error) {
	now := h.now()
	claims := Claims{
		SessionID: session.ID,
		Type:      tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.DiscordID,
			ID:        strconv.FormatUint(uint64(session.ID), 10) + "-" + strconv.FormatInt(now.UnixNano(), 36),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.cfg.JWTSecret))
}

// IssueTokens signs an access and refresh token for the session.
func (h *Handler) IssueTokens(user *models.User, session *models.UserSession) (*TokenPair, error) {
	access, err := h.signToken(user, session, TokenTypeAccess, h.accessTTL())
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := h.signToken(user, session, TokenTypeRefresh, h.refreshTTL())
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(h.accessTTL().Seconds()),
	}, nil
}

// ParseToken verifies signature and expiry and checks the token type.
func (h *Handler) ParseToken(tokenString, tokenType string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(h.cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(h.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Type != tokenType {
		return nil, ErrWrongTokenType
	}
	if claims.Subject == "" || claims.SessionID == 0 {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
