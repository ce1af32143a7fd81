package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/disblox/disblox-api/internal/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

var ErrNoDiscordToken = errors.New("no discord token stored for user")

// GuildDirectory reports the guilds the bot is in with their member counts.
type GuildDirectory interface {
	GuildMemberCounts() map[string]int
}

type SyncResult struct {
	ServersSynced             int `json:"servers_synced"`
	VerificationServersSynced int `json:"verification_servers_synced"`
}

func (h *Handler) botGuilds() map[string]int {
	if h.directory == nil {
		return nil
	}
	return h.directory.GuildMemberCounts()
}

// SyncUserServers replaces the user's stored guild lists with what Discord
// currently reports for the token.
func (h *Handler) SyncUserServers(ctx context.Context, user *models.User, token *oauth2.Token) (*SyncResult, error) {
	guilds, err := h.fetchUserGuilds(ctx, user.DiscordID, token, true)
	if err != nil {
		return nil, err
	}

	counts := h.botGuilds()
	var managed []models.UserServer
	var member []models.VerificationServer
	for _, g := range guilds {
		membership := membershipFor(user.ID, g, counts)
		member = append(member, models.VerificationServer{GuildMembership: membership})
		if CanManage(g) {
			managed = append(managed, models.UserServer{GuildMembership: membership})
		}
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("user_id = ?", user.ID).Delete(&models.UserServer{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("user_id = ?", user.ID).Delete(&models.VerificationServer{}).Error; err != nil {
			return err
		}
		if len(managed) > 0 {
			if err := tx.Create(&managed).Error; err != nil {
				return err
			}
		}
		if len(member) > 0 {
			if err := tx.Create(&member).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store user servers: %w", err)
	}

	h.logger.Debug("Synced user servers",
		zap.String("discord_id", user.DiscordID),
		zap.Int("servers", len(managed)),
		zap.Int("verification_servers", len(member)),
	)

	return &SyncResult{ServersSynced: len(managed), VerificationServersSynced: len(member)}, nil
}

func membershipFor(userID uint, g *discordgo.UserGuild, botGuilds map[string]int) models.GuildMembership {
	count, botAdded := botGuilds[g.ID]
	return models.GuildMembership{
		UserID:      userID,
		ServerID:    g.ID,
		ServerName:  g.Name,
		ServerIcon:  g.Icon,
		Owner:       g.Owner,
		Permissions: g.Permissions,
		BotAdded:    botAdded,
		MemberCount: count,
	}
}

// latestSession returns the newest session that holds a Discord token.
func (h *Handler) latestSession(ctx context.Context, user *models.User) (*models.UserSession, error) {
	var session models.UserSession
	err := h.db.WithContext(ctx).
		Where("user_id = ? AND discord_access_token <> ''", user.ID).
		Order("id desc").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoDiscordToken
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// DiscordToken returns a usable Discord token for the user, refreshing and
// persisting it when it has expired. force refreshes regardless of expiry.
func (h *Handler) DiscordToken(ctx context.Context, user *models.User, force bool) (*oauth2.Token, error) {
	session, err := h.latestSession(ctx, user)
	if err != nil {
		return nil, err
	}

	stored := &oauth2.Token{
		AccessToken:  session.DiscordAccessToken,
		RefreshToken: session.DiscordRefreshToken,
		TokenType:    "Bearer",
		Expiry:       session.DiscordTokenExpiry,
	}
	if force {
		if stored.RefreshToken == "" {
			return nil, ErrNoDiscordToken
		}
		stored.Expiry = h.now().Add(-1)
		stored.AccessToken = ""
	}

	fresh, err := h.oauthConfig.TokenSource(ctx, stored).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh discord token: %w", err)
	}

	if fresh.AccessToken != session.DiscordAccessToken {
		session.DiscordAccessToken = fresh.AccessToken
		if fresh.RefreshToken != "" {
			session.DiscordRefreshToken = fresh.RefreshToken
		}
		session.DiscordTokenExpiry = fresh.Expiry
		if err := h.db.WithContext(ctx).Save(session).Error; err != nil {
			return nil, fmt.Errorf("store discord token: %w", err)
		}
	}
	return fresh, nil
}

// SyncWithStoredToken syncs the user's servers using their stored Discord token.
func (h *Handler) SyncWithStoredToken(ctx context.Context, user *models.User) (*SyncResult, error) {
	token, err := h.DiscordToken(ctx, user, false)
	if err != nil {
		return nil, err
	}
	return h.SyncUserServers(ctx, user, token)
}
