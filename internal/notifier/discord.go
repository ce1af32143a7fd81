package notifier

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/disblox/disblox-api/internal/verification"
	"go.uber.org/zap"
)

// Notifier sends direct messages to Discord users.
type Notifier interface {
	NotifyResult(userID string, res *verification.Result, isUpdate bool) error
	NotifyLinkRequired(userID string) error
}

type DiscordNotifier struct {
	session *discordgo.Session
	links   Links
	logger  *zap.Logger
}

func NewDiscordNotifier(session *discordgo.Session, links Links, logger *zap.Logger) *DiscordNotifier {
	return &DiscordNotifier{
		session: session,
		links:   links,
		logger:  logger.Named("notifier"),
	}
}

func (n *DiscordNotifier) NotifyResult(userID string, res *verification.Result, isUpdate bool) error {
	return n.sendDM(userID, ResultEmbed(res, isUpdate))
}

func (n *DiscordNotifier) NotifyLinkRequired(userID string) error {
	return n.sendDM(userID, LinkAccountEmbed(n.links))
}

func (n *DiscordNotifier) sendDM(userID string, embed *discordgo.MessageEmbed) error {
	if n.session == nil {
		return fmt.Errorf("discord session is nil")
	}

	channel, err := n.session.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}

	// Members with closed DMs are common; callers decide whether to care.
	if _, err := n.session.ChannelMessageSendEmbed(channel.ID, embed); err != nil {
		n.logger.Debug("Failed to send DM", zap.String("user_id", userID), zap.Error(err))
		return err
	}
	return nil
}
