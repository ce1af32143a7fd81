package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disblox/disblox-api/internal/verification"
)

const (
	footerText = "Disblox Verification System"

	colorBlurple = 0x5865F2
	colorGreen   = 0x2ECC71
	colorBlue    = 0x3498DB

	VerifyButtonID = "verify_button"
	HelpButtonID   = "help_button"
)

// Links are the public URLs shown to Discord users.
type Links struct {
	Dashboard string
	Support   string
}

func footer() *discordgo.MessageEmbedFooter {
	return &discordgo.MessageEmbedFooter{Text: footerText}
}

func bullets(items []string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "• " + item
	}
	return strings.Join(lines, "\n")
}

func field(name, value string, inline bool) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline}
}

// ResultEmbed summarises a verification or update for the member.
func ResultEmbed(res *verification.Result, isUpdate bool) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "Verification Complete",
		Description: "Your Roblox account has been successfully verified!",
		Color:       colorGreen,
		Footer:      footer(),
	}
	if isUpdate {
		embed.Title = "Update Complete"
		embed.Description = "Your roles and nickname have been updated!"
		embed.Color = colorBlue
	}

	if res.NicknameUpdated != "" {
		embed.Fields = append(embed.Fields, field("Nickname Updated", "New nickname: "+res.NicknameUpdated, false))
	}
	if len(res.RolesAdded) > 0 {
		embed.Fields = append(embed.Fields, field("Roles Added", bullets(res.RolesAdded), true))
	}
	if isUpdate && len(res.RolesRemoved) > 0 {
		embed.Fields = append(embed.Fields, field("Roles Removed", bullets(res.RolesRemoved), true))
	}
	if len(res.GroupRolesAdded) > 0 {
		embed.Fields = append(embed.Fields, field("Group Roles Added", bullets(res.GroupRolesAdded), true))
	}
	if isUpdate && len(res.GroupRolesRemoved) > 0 {
		embed.Fields = append(embed.Fields, field("Group Roles Removed", bullets(res.GroupRolesRemoved), true))
	}
	return embed
}

// LinkAccountEmbed tells a member how to link a Roblox account.
func LinkAccountEmbed(links Links) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "👋 Link Your Roblox Account",
		Description: "You need to link your Roblox account to use this server's features.",
		Color:       colorBlue,
		Fields: []*discordgo.MessageEmbedField{
			field("How to link:", fmt.Sprintf(
				"1. Visit our website %s\n2. Log in with Discord\n3. Link your Roblox account\n4. Come back and try `/verify` again or verify on the website.",
				links.Dashboard), false),
		},
		Footer: footer(),
	}
}

func HelpEmbed(links Links) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "❓ Need Help with Verification?",
		Description: "Here's how to get verified:",
		Color:       colorBlurple,
		Fields: []*discordgo.MessageEmbedField{
			field("📋 Step 1: Link Your Account", fmt.Sprintf("Visit our dashboard: %s and link your Roblox account with your Discord account.", links.Dashboard), false),
			field("🔗 Step 2: Verify", "Click the 'Verify with Disblox' button above to complete verification.", false),
			field("🎯 Step 3: Access Granted", "Once verified, you'll receive the appropriate roles and access to the server.", false),
		},
		Footer: footer(),
	}
}

func InviteEmbed(links Links, now time.Time) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "🔗 Disblox Dashboard",
		Description: "Click the link below to access the Disblox dashboard and invite the bot to your server.",
		Color:       colorBlurple,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			field("Dashboard Link", fmt.Sprintf("[%s](%s)", links.Dashboard, links.Dashboard), false),
		},
		Footer: footer(),
	}
}

func SupportEmbed(links Links, now time.Time) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "🆘 Support & Social Links",
		Description: "Need help? Here are our support channels and social media links.",
		Color:       colorBlurple,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			field("Discord Support Server", fmt.Sprintf("[%s](%s)", links.Support, links.Support), false),
			field("Twitter/X", "[https://x.com/disblox](https://x.com/disblox)", false),
		},
		Footer: footer(),
	}
}

// VerifyPanel is the message posted by /verifychannel.
func VerifyPanel(guildName string, now time.Time) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       fmt.Sprintf("👋 Welcome to %s!", guildName),
			Description: "Click the button below to verify with Disblox and gain access to the rest of the server.",
			Color:       colorBlurple,
			Timestamp:   now.UTC().Format(time.RFC3339),
			Footer:      footer(),
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "✅ Verify with Disblox", Style: discordgo.PrimaryButton, CustomID: VerifyButtonID},
				discordgo.Button{Label: "❓ Need help?", Style: discordgo.SecondaryButton, CustomID: HelpButtonID},
			}},
		},
	}
}
