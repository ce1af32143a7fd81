package bot

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disblox/disblox-api/internal/verification"
	"go.uber.org/zap"
)

// Gateway handlers run on discordgo's goroutines without a request context.
const eventTimeout = 30 * time.Second

func eventContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), eventTimeout)
}

func (m *Manager) onReady(s *discordgo.Session, r *discordgo.Ready) {
	m.mu.Lock()
	m.ready = true
	m.user = r.User
	m.mu.Unlock()

	m.logger.Info("Bot is ready",
		zap.String("user", r.User.Username),
		zap.Int("guilds", len(r.Guilds)),
	)

	if err := m.registerCommands(); err != nil {
		m.logger.Error("Failed to register slash commands", zap.Error(err))
	}

	ctx, cancel := eventContext()
	defer cancel()
	if _, err := m.SyncGuilds(ctx); err != nil {
		m.logger.Error("Failed to sync guilds", zap.Error(err))
	}
	m.updatePresence()
}

func (m *Manager) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if !m.Ready() {
		return
	}
	m.logger.Debug("Guild available", zap.String("guild_id", g.ID), zap.String("name", g.Name))

	ctx, cancel := eventContext()
	defer cancel()
	if err := upsertBotServer(ctx, m.db, guildInfo(g.Guild), m.now()); err != nil {
		m.logger.Error("Failed to store guild", zap.String("guild_id", g.ID), zap.Error(err))
	}
	m.updatePresence()
}

func (m *Manager) onGuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	// Unavailable guilds are outages, not removals.
	if g.Unavailable {
		return
	}
	m.logger.Info("Removed from guild", zap.String("guild_id", g.ID))

	ctx, cancel := eventContext()
	defer cancel()
	if err := removeGuildData(ctx, m.db, g.ID); err != nil {
		m.logger.Error("Failed to clean up guild", zap.String("guild_id", g.ID), zap.Error(err))
	}
	m.updatePresence()
}

func (m *Manager) onMemberAdd(s *discordgo.Session, e *discordgo.GuildMemberAdd) {
	if e.User == nil || e.User.Bot {
		return
	}
	ctx, cancel := eventContext()
	defer cancel()

	log := m.logger.With(zap.String("guild_id", e.GuildID), zap.String("user_id", e.User.ID))
	defer m.updatePresence()

	cfg, err := m.engine.Config(ctx, e.GuildID)
	if err != nil {
		if !errors.Is(err, verification.ErrNotConfigured) {
			log.Error("Failed to load server config", zap.Error(err))
		}
		return
	}

	account, err := m.engine.Account(ctx, e.User.ID)
	switch {
	case errors.Is(err, verification.ErrUserNotLinked), errors.Is(err, verification.ErrNoLinkedAccount):
		if err := m.notifier.NotifyLinkRequired(e.User.ID); err != nil {
			log.Debug("Link instructions not delivered", zap.Error(err))
		}
	case err != nil:
		log.Error("Failed to load linked account", zap.Error(err))
	default:
		res := m.engine.Apply(ctx, newMember(e.GuildID, e.Member), cfg, account)
		if err := m.notifier.NotifyResult(e.User.ID, res, false); err != nil {
			log.Debug("Result DM not delivered", zap.Error(err))
		}
	}
}

func (m *Manager) onMemberRemove(s *discordgo.Session, e *discordgo.GuildMemberRemove) {
	if e.User == nil {
		return
	}
	m.forgetMember(e.GuildID, e.User.ID)
	m.updatePresence()
}

func (m *Manager) onBanAdd(s *discordgo.Session, e *discordgo.GuildBanAdd) {
	if e.User == nil {
		return
	}
	m.forgetMember(e.GuildID, e.User.ID)
}

func (m *Manager) forgetMember(guildID, userID string) {
	ctx, cancel := eventContext()
	defer cancel()
	if err := removeMember(ctx, m.db, guildID, userID); err != nil {
		m.logger.Error("Failed to remove member data",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}
