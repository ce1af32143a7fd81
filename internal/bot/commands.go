package bot

import (
	"errors"

	"github.com/bwmarrin/discordgo"
	"github.com/disblox/disblox-api/internal/notifier"
	"github.com/disblox/disblox-api/internal/verification"
	"go.uber.org/zap"
)

const (
	msgGuildOnly           = "This command can only be used in a server."
	msgNotConfigured       = "This server is not configured for verification. Please contact an administrator."
	msgPanelNotConfigured  = "This server is not configured for verification. Please set up the bot first."
	msgNeedManageRoles     = "You need 'Manage Roles' permission to update other users."
	msgNeedManageMessages  = "You need 'Manage Messages' permission to use this command."
	msgPanelSent           = "Verification message sent!"
	msgPanelFailed         = "An error occurred while sending the verification message."
	msgMemberNotFound      = "User not found in server."
	msgVerificationFailed  = "An error occurred during verification. Please try again."
	msgUpdateFailed        = "An error occurred during update. Please try again."
	msgOtherUserNotLinked  = "This user doesn't have a linked Discord account."
	msgOtherUserNoAccounts = "This user doesn't have any Roblox accounts linked."
)

func commands() []*discordgo.ApplicationCommand {
	guildOnly := false
	manageMessages := int64(discordgo.PermissionManageMessages)
	return []*discordgo.ApplicationCommand{
		{Name: "verify", Description: "Verify your Roblox account", DMPermission: &guildOnly},
		{
			Name:         "update",
			Description:  "Update your roles and nickname",
			DMPermission: &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "The member to update",
			}},
		},
		{
			Name:                     "verifychannel",
			Description:              "Send verification message to current channel",
			DMPermission:             &guildOnly,
			DefaultMemberPermissions: &manageMessages,
		},
		{Name: "invite", Description: "Get the Disblox dashboard link"},
		{Name: "support", Description: "Get support links and social media"},
	}
}

func (m *Manager) registerCommands() error {
	appID := m.appID
	if appID == "" && m.session.State.User != nil {
		appID = m.session.State.User.ID
	}
	registered, err := m.session.ApplicationCommandBulkOverwrite(appID, "", commands())
	if err != nil {
		return err
	}
	m.logger.Info("Registered slash commands", zap.Int("count", len(registered)))
	return nil
}

func hasPermission(mem *discordgo.Member, perm int64) bool {
	if mem == nil {
		return false
	}
	return mem.Permissions&discordgo.PermissionAdministrator != 0 || mem.Permissions&perm != 0
}

// verifyReply turns a verification error into the message shown to the
// invoking member. self is false when a moderator updates someone else.
func verifyReply(err error, self, update bool, links notifier.Links) string {
	switch {
	case errors.Is(err, verification.ErrUserNotLinked):
		if !self {
			return msgOtherUserNotLinked
		}
		return "You need to link your Discord account first. Visit our dashboard to get started. " + links.Dashboard
	case errors.Is(err, verification.ErrNoLinkedAccount):
		if !self {
			return msgOtherUserNoAccounts
		}
		return "You don't have any Roblox accounts linked. Visit our dashboard to link your account. " + links.Dashboard
	case errors.Is(err, verification.ErrNotConfigured):
		return msgNotConfigured
	case errors.Is(err, ErrMemberNotFound):
		return msgMemberNotFound
	case update:
		return msgUpdateFailed
	default:
		return msgVerificationFailed
	}
}

// targetUserID returns the user picked in the /update option, if any.
func targetUserID(data discordgo.ApplicationCommandInteractionData) string {
	for _, opt := range data.Options {
		if opt.Name == "user" && opt.Type == discordgo.ApplicationCommandOptionUser {
			return opt.UserValue(nil).ID
		}
	}
	return ""
}

func (m *Manager) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		switch i.ApplicationCommandData().Name {
		case "verify":
			m.handleVerify(i)
		case "update":
			m.handleUpdate(i)
		case "verifychannel":
			m.handleVerifyChannel(i)
		case "invite":
			m.respondEmbed(i, notifier.InviteEmbed(m.links, m.now()))
		case "support":
			m.respondEmbed(i, notifier.SupportEmbed(m.links, m.now()))
		}
	case discordgo.InteractionMessageComponent:
		switch i.MessageComponentData().CustomID {
		case notifier.VerifyButtonID:
			m.handleVerify(i)
		case notifier.HelpButtonID:
			if m.deferEphemeral(i) {
				m.followup(i, &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{notifier.HelpEmbed(m.links)}})
			}
		}
	}
}

func (m *Manager) handleVerify(i *discordgo.InteractionCreate) {
	if i.GuildID == "" || i.Member == nil {
		m.respondText(i, msgGuildOnly)
		return
	}
	if !m.deferEphemeral(i) {
		return
	}

	ctx, cancel := eventContext()
	defer cancel()

	res, err := m.engine.VerifyMember(ctx, newMember(i.GuildID, i.Member))
	if err != nil {
		m.logVerifyError(i, err)
		m.followupText(i, verifyReply(err, true, false, m.links))
		return
	}
	m.followup(i, &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{notifier.ResultEmbed(res, false)}})
}

func (m *Manager) handleUpdate(i *discordgo.InteractionCreate) {
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		m.respondText(i, msgGuildOnly)
		return
	}
	if !m.deferEphemeral(i) {
		return
	}

	ctx, cancel := eventContext()
	defer cancel()

	target := i.Member
	self := true
	if id := targetUserID(i.ApplicationCommandData()); id != "" && id != i.Member.User.ID {
		if !hasPermission(i.Member, discordgo.PermissionManageRoles) {
			m.followupText(i, msgNeedManageRoles)
			return
		}
		mem, err := m.member(ctx, i.GuildID, id)
		if err != nil {
			m.followupText(i, msgMemberNotFound)
			return
		}
		target, self = mem, false
	}

	res, err := m.engine.VerifyMember(ctx, newMember(i.GuildID, target))
	if err != nil {
		m.logVerifyError(i, err)
		m.followupText(i, verifyReply(err, self, true, m.links))
		return
	}
	m.followup(i, &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{notifier.ResultEmbed(res, true)}})
}

func (m *Manager) handleVerifyChannel(i *discordgo.InteractionCreate) {
	if i.GuildID == "" || i.Member == nil {
		m.respondText(i, msgGuildOnly)
		return
	}
	if !hasPermission(i.Member, discordgo.PermissionManageMessages) {
		m.respondText(i, msgNeedManageMessages)
		return
	}

	ctx, cancel := eventContext()
	defer cancel()

	if _, err := m.engine.Config(ctx, i.GuildID); err != nil {
		if !errors.Is(err, verification.ErrNotConfigured) {
			m.logger.Error("Failed to load server config", zap.String("guild_id", i.GuildID), zap.Error(err))
		}
		m.respondText(i, msgPanelNotConfigured)
		return
	}

	name := "the server"
	if g, err := m.Guild(i.GuildID); err == nil {
		name = g.Name
	}
	if _, err := m.session.ChannelMessageSendComplex(i.ChannelID, notifier.VerifyPanel(name, m.now()), discordgo.WithContext(ctx)); err != nil {
		m.logger.Warn("Failed to send verification panel", zap.String("channel_id", i.ChannelID), zap.Error(err))
		m.respondText(i, msgPanelFailed)
		return
	}
	m.respondText(i, msgPanelSent)
}

func (m *Manager) logVerifyError(i *discordgo.InteractionCreate, err error) {
	if errors.Is(err, verification.ErrUserNotLinked) ||
		errors.Is(err, verification.ErrNoLinkedAccount) ||
		errors.Is(err, verification.ErrNotConfigured) ||
		errors.Is(err, ErrMemberNotFound) {
		return
	}
	m.logger.Error("Verification failed", zap.String("guild_id", i.GuildID), zap.Error(err))
}

func (m *Manager) respond(i *discordgo.InteractionCreate, data *discordgo.InteractionResponseData) {
	data.Flags = discordgo.MessageFlagsEphemeral
	err := m.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		m.logger.Warn("Failed to respond to interaction", zap.Error(err))
	}
}

func (m *Manager) respondText(i *discordgo.InteractionCreate, content string) {
	m.respond(i, &discordgo.InteractionResponseData{Content: content})
}

func (m *Manager) respondEmbed(i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	m.respond(i, &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}})
}

// deferEphemeral acknowledges the interaction. Replies then go through followup.
func (m *Manager) deferEphemeral(i *discordgo.InteractionCreate) bool {
	err := m.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		m.logger.Warn("Failed to defer interaction", zap.Error(err))
		return false
	}
	return true
}

func (m *Manager) followup(i *discordgo.InteractionCreate, params *discordgo.WebhookParams) {
	params.Flags = discordgo.MessageFlagsEphemeral
	if _, err := m.session.FollowupMessageCreate(i.Interaction, true, params); err != nil {
		m.logger.Warn("Failed to send followup", zap.Error(err))
	}
}

func (m *Manager) followupText(i *discordgo.InteractionCreate, content string) {
	m.followup(i, &discordgo.WebhookParams{Content: content})
}
