package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/oauth2"
)

const (
	DiscordAuthorizeEndpoint = "https://discord.com/oauth2/authorize"
	DiscordTokenEndpoint     = "https://discord.com/api/oauth2/token"
	DiscordUserAPI           = "https://discord.com/api/users/@me"
	DiscordUserGuildsAPI     = "https://discord.com/api/users/@me/guilds"
)

var ErrDiscordRateLimited = errors.New("rate limit exceeded for Discord API")

// getJSON performs an authenticated GET and decodes the JSON body into out.
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrDiscordRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord api: status=%d, body=%s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// fetchDiscordUser returns the token owner's profile and caches it under the
// Discord id.
func (h *Handler) fetchDiscordUser(ctx context.Context, token *oauth2.Token) (*discordgo.User, error) {
	if !h.discordLimiter.Allow("user_info") {
		return nil, ErrDiscordRateLimited
	}

	var user discordgo.User
	if err := getJSON(ctx, h.oauthConfig.Client(ctx, token), h.userAPI, &user); err != nil {
		return nil, fmt.Errorf("get user info: %w", err)
	}
	if user.ID == "" {
		return nil, errors.New("get user info: empty user id")
	}
	h.users.Set(user.ID, &user)
	return &user, nil
}

// fetchUserGuilds lists the guilds of the token owner. A cached list is used
// unless fresh is set.
func (h *Handler) fetchUserGuilds(ctx context.Context, discordID string, token *oauth2.Token, fresh bool) ([]*discordgo.UserGuild, error) {
	if !fresh {
		if guilds, ok := h.guilds.Get(discordID); ok {
			return guilds, nil
		}
	}
	if !h.discordLimiter.Allow("user_guilds") {
		return nil, ErrDiscordRateLimited
	}

	var guilds []*discordgo.UserGuild
	if err := getJSON(ctx, h.oauthConfig.Client(ctx, token), h.guildsAPI, &guilds); err != nil {
		return nil, fmt.Errorf("get user guilds: %w", err)
	}
	h.guilds.Set(discordID, guilds)
	return guilds, nil
}

// CachedUser returns the profile fetched at the user's last login.
func (h *Handler) CachedUser(discordID string) (*discordgo.User, bool) {
	return h.users.Get(discordID)
}

// CachedGuilds returns the last guild list fetched for the user.
func (h *Handler) CachedGuilds(discordID string) ([]*discordgo.UserGuild, bool) {
	return h.guilds.Get(discordID)
}

// InvalidateUser drops every cached entry for the user.
func (h *Handler) InvalidateUser(discordID string) {
	h.users.Delete(discordID)
	h.guilds.Delete(discordID)
}

// CanManage reports whether a guild entry grants management rights.
func CanManage(g *discordgo.UserGuild) bool {
	return g.Owner || g.Permissions&discordgo.PermissionAdministrator != 0
}
