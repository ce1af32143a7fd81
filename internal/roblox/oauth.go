package roblox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/disblox/disblox-api/internal/cache"
	"github.com/disblox/disblox-api/internal/config"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

const (
	AuthorizeEndpoint = "https://apis.roblox.com/oauth/v1/authorize"
	TokenEndpoint     = "https://apis.roblox.com/oauth/v1/token"
	UserInfoEndpoint  = "https://apis.roblox.com/oauth/v1/userinfo"

	pendingTTL = 10 * time.Minute
)

var (
	ErrNotConfigured   = errors.New("roblox oauth is not configured")
	ErrUnknownState    = errors.New("invalid or expired state parameter")
	ErrInvalidUserInfo = errors.New("invalid user information from Roblox")
)

// PendingLink is an authorization started by a dashboard user and waiting
// for Roblox to redirect back.
type PendingLink struct {
	UserID   uint
	Verifier string
}

// OAuth drives the Roblox authorization code flow with PKCE.
type OAuth struct {
	config      *oauth2.Config
	pending     *cache.Namespace[PendingLink]
	userInfoURL string
	configured  bool
}

func NewOAuth(cfg *config.Config, store *cache.Store) *OAuth {
	return &OAuth{
		config: &oauth2.Config{
			ClientID:     cfg.RobloxClientID,
			ClientSecret: cfg.RobloxClientSecret,
			RedirectURL:  cfg.RobloxRedirectURI,
			Scopes:       []string{"openid", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   AuthorizeEndpoint,
				TokenURL:  TokenEndpoint,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		pending:     cache.NewNamespace[PendingLink](store, "roblox_oauth_states", 1000, pendingTTL),
		userInfoURL: UserInfoEndpoint,
		configured:  cfg.RobloxConfigured(),
	}
}

func (o *OAuth) Configured() bool {
	return o.configured
}

func (o *OAuth) ClientID() string    { return o.config.ClientID }
func (o *OAuth) RedirectURI() string { return o.config.RedirectURL }

// AuthURL starts a link for userID and returns the URL and its state.
func (o *OAuth) AuthURL(userID uint) (authURL, state string, err error) {
	if !o.Configured() {
		return "", "", ErrNotConfigured
	}
	state = uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	o.pending.Set(state, PendingLink{UserID: userID, Verifier: verifier})
	return o.config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), state, nil
}

// Consume returns the pending link for state. Each state can be used once.
func (o *OAuth) Consume(state string) (PendingLink, error) {
	link, ok := o.pending.Take(state)
	if !ok {
		return PendingLink{}, ErrUnknownState
	}
	return link, nil
}

type UserInfo struct {
	ID       string
	Username string
}

// Exchange trades the code for a token and reads the Roblox identity.
func (o *OAuth) Exchange(ctx context.Context, code string, link PendingLink) (*UserInfo, error) {
	token, err := o.config.Exchange(ctx, code, oauth2.VerifierOption(link.Verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("get user info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read user info: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get user info: status=%d", resp.StatusCode)
	}

	parsed := gjson.ParseBytes(body)
	info := &UserInfo{ID: parsed.Get("sub").String()}
	info.Username = parsed.Get("preferred_username").String()
	if info.Username == "" {
		info.Username = parsed.Get("name").String()
	}
	if info.ID == "" || info.Username == "" {
		return nil, ErrInvalidUserInfo
	}
	return info, nil
}
