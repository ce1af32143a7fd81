package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disblox/disblox-api/internal/models"
	"gorm.io/gorm"
)

// syncBotServers upserts a BotServer row per guild and drops rows for guilds
// the bot has left.
func syncBotServers(ctx context.Context, db *gorm.DB, guilds []GuildInfo, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]string, 0, len(guilds))
		for _, g := range guilds {
			ids = append(ids, g.ID)
			if err := saveBotServer(tx, g, now); err != nil {
				return err
			}
		}

		stale := tx.Unscoped()
		if len(ids) > 0 {
			stale = stale.Where("server_id NOT IN ?", ids)
		} else {
			stale = stale.Where("1 = 1")
		}
		return stale.Delete(&models.BotServer{}).Error
	})
}

// upsertBotServer stores a single guild without touching the other rows.
func upsertBotServer(ctx context.Context, db *gorm.DB, g GuildInfo, now time.Time) error {
	return saveBotServer(db.WithContext(ctx), g, now)
}

func saveBotServer(tx *gorm.DB, g GuildInfo, now time.Time) error {
	var server models.BotServer
	err := tx.Where("server_id = ?", g.ID).First(&server).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if server.ID == 0 {
		server.ServerID = g.ID
		server.JoinedAt = now
	}
	server.ServerName = g.Name
	server.ServerIcon = g.Icon
	server.OwnerID = g.OwnerID
	server.MemberCount = g.MemberCount
	if err := tx.Save(&server).Error; err != nil {
		return fmt.Errorf("save bot server %s: %w", g.ID, err)
	}
	return nil
}

// removeGuildData deletes everything stored for a guild the bot was removed from.
func removeGuildData(ctx context.Context, db *gorm.DB, guildID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cfg models.ServerConfig
		err := tx.Where("server_id = ?", guildID).First(&cfg).Error
		switch {
		case err == nil:
			if err := tx.Unscoped().Where("server_config_id = ?", cfg.ID).Delete(&models.GroupRole{}).Error; err != nil {
				return err
			}
			if err := tx.Unscoped().Delete(&cfg).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if err := tx.Unscoped().Where("server_id = ?", guildID).Delete(&models.UserServer{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Where("server_id = ?", guildID).Delete(&models.BotServer{}).Error
	})
}

// removeMember forgets a user's membership of a guild. Users left with no
// linked accounts and no servers are deleted.
func removeMember(ctx context.Context, db *gorm.DB, guildID, discordID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		err := tx.Where("discord_id = ?", discordID).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Unscoped().Where("user_id = ? AND server_id = ?", user.ID, guildID).Delete(&models.UserServer{}).Error; err != nil {
			return err
		}

		var accounts, servers int64
		if err := tx.Model(&models.LinkedAccount{}).Where("user_id = ?", user.ID).Count(&accounts).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.UserServer{}).Where("user_id = ?", user.ID).Count(&servers).Error; err != nil {
			return err
		}
		if accounts > 0 || servers > 0 {
			return nil
		}

		if err := tx.Unscoped().Where("user_id = ?", user.ID).Delete(&models.VerificationServer{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("user_id = ?", user.ID).Delete(&models.UserSession{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&user).Error
	})
}
