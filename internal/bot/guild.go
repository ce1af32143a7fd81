package bot

import (
	"context"
	"slices"

	"github.com/bwmarrin/discordgo"
	"github.com/disblox/disblox-api/internal/verification"
)

const auditReason = "Disblox verification"

var _ verification.Guild = (*Manager)(nil)

func (m *Manager) SetNickname(ctx context.Context, guildID, userID, nick string) error {
	return m.session.GuildMemberNickname(guildID, userID, nick,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(auditReason))
}

func (m *Manager) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return m.session.GuildMemberRoleAdd(guildID, userID, roleID,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(auditReason))
}

func (m *Manager) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return m.session.GuildMemberRoleRemove(guildID, userID, roleID,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(auditReason))
}

func (m *Manager) RoleName(guildID, roleID string) (string, bool) {
	if roleID == "" {
		return "", false
	}
	role, err := m.session.State.Role(guildID, roleID)
	if err != nil {
		return "", false
	}
	return role.Name, true
}

func (m *Manager) RoleByName(guildID, name string) (string, bool) {
	g, err := m.session.State.Guild(guildID)
	if err != nil {
		return "", false
	}
	m.session.State.RLock()
	defer m.session.State.RUnlock()
	for _, role := range g.Roles {
		if role.Name == name {
			return role.ID, true
		}
	}
	return "", false
}

// newMember converts a gateway member. The display name ignores the guild
// nickname since the nickname is what verification rewrites.
func newMember(guildID string, mem *discordgo.Member) *verification.Member {
	vm := &verification.Member{
		GuildID: guildID,
		Nick:    mem.Nick,
		Roles:   slices.Clone(mem.Roles),
	}
	if mem.User != nil {
		vm.UserID = mem.User.ID
		vm.Username = mem.User.Username
		vm.DisplayName = mem.User.GlobalName
		if vm.DisplayName == "" {
			vm.DisplayName = mem.User.Username
		}
	}
	return vm
}
