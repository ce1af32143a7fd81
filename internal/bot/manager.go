// Package bot runs the Disblox Discord bot and exposes the guild state the
// dashboard needs.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disblox/disblox-api/internal/models"
	"github.com/disblox/disblox-api/internal/notifier"
	"github.com/disblox/disblox-api/internal/verification"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotReady       = errors.New("bot is not ready")
	ErrGuildNotFound  = errors.New("server not found or bot not in server")
	ErrMemberNotFound = errors.New("user not found in server")
)

const roleColor = 0x3498DB

type Config struct {
	Token         string
	ApplicationID string
	Links         notifier.Links
}

type Manager struct {
	session  *discordgo.Session
	db       *gorm.DB
	engine   *verification.Engine
	notifier notifier.Notifier
	links    notifier.Links
	appID    string
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.RWMutex
	ready     bool
	user      *discordgo.User
	startedAt time.Time
}

// New prepares a gateway session. Nothing connects until Run is called.
func New(cfg Config, db *gorm.DB, rbx verification.Roblox, logger *zap.Logger) (*Manager, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	m := newManager(session, db, rbx, cfg, logger)
	session.AddHandler(m.onReady)
	session.AddHandler(m.onGuildCreate)
	session.AddHandler(m.onGuildDelete)
	session.AddHandler(m.onMemberAdd)
	session.AddHandler(m.onMemberRemove)
	session.AddHandler(m.onBanAdd)
	session.AddHandler(m.onInteraction)
	return m, nil
}

func newManager(session *discordgo.Session, db *gorm.DB, rbx verification.Roblox, cfg Config, logger *zap.Logger) *Manager {
	logger = logger.Named("bot")
	m := &Manager{
		session: session,
		db:      db,
		links:   cfg.Links,
		appID:   cfg.ApplicationID,
		logger:  logger,
		now:     time.Now,
	}
	m.engine = verification.NewEngine(db, m, rbx, logger)
	m.notifier = notifier.NewDiscordNotifier(session, cfg.Links, logger)
	return m
}

// Run opens the gateway connection and keeps it until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.startedAt = m.now()
	m.mu.Unlock()

	if err := m.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	m.logger.Info("Discord gateway connected")

	<-ctx.Done()

	m.mu.Lock()
	m.ready = false
	m.mu.Unlock()
	m.logger.Info("Closing Discord gateway")
	return m.session.Close()
}

func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

type Status struct {
	Ready         bool     `json:"ready"`
	UserID        string   `json:"user_id,omitempty"`
	Username      string   `json:"username,omitempty"`
	LatencyMS     int64    `json:"latency_ms"`
	UptimeSeconds float64  `json:"uptime_seconds"`
	GuildCount    int      `json:"guild_count"`
	GuildIDs      []string `json:"guild_ids"`
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	ready, user, startedAt := m.ready, m.user, m.startedAt
	m.mu.RUnlock()

	st := Status{Ready: ready, GuildIDs: []string{}}
	if !startedAt.IsZero() {
		st.UptimeSeconds = m.now().Sub(startedAt).Seconds()
	}
	if !ready {
		return st
	}
	if user != nil {
		st.UserID = user.ID
		st.Username = user.Username
	}
	st.LatencyMS = m.session.HeartbeatLatency().Milliseconds()
	for _, g := range m.Guilds() {
		st.GuildIDs = append(st.GuildIDs, g.ID)
	}
	st.GuildCount = len(st.GuildIDs)
	return st
}

type GuildInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon,omitempty"`
	OwnerID     string `json:"owner_id"`
	MemberCount int    `json:"member_count"`
}

func guildInfo(g *discordgo.Guild) GuildInfo {
	return GuildInfo{
		ID:          g.ID,
		Name:        g.Name,
		Icon:        g.Icon,
		OwnerID:     g.OwnerID,
		MemberCount: g.MemberCount,
	}
}

// Guilds lists the guilds in the gateway state, ordered by id.
func (m *Manager) Guilds() []GuildInfo {
	if !m.Ready() {
		return nil
	}
	state := m.session.State
	state.RLock()
	out := make([]GuildInfo, 0, len(state.Guilds))
	for _, g := range state.Guilds {
		out = append(out, guildInfo(g))
	}
	state.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) Guild(guildID string) (*GuildInfo, error) {
	if !m.Ready() {
		return nil, ErrNotReady
	}
	g, err := m.session.State.Guild(guildID)
	if err != nil {
		return nil, ErrGuildNotFound
	}
	m.session.State.RLock()
	info := guildInfo(g)
	m.session.State.RUnlock()
	return &info, nil
}

// GuildMemberCounts maps guild id to member count. It is empty until the
// bot is ready.
func (m *Manager) GuildMemberCounts() map[string]int {
	counts := make(map[string]int)
	for _, g := range m.Guilds() {
		counts[g.ID] = g.MemberCount
	}
	return counts
}

func (m *Manager) totalMembers() int {
	total := 0
	for _, g := range m.Guilds() {
		total += g.MemberCount
	}
	return total
}

func (m *Manager) updatePresence() {
	name := fmt.Sprintf("%d users", m.totalMembers())
	if err := m.session.UpdateWatchStatus(0, name); err != nil {
		m.logger.Warn("Failed to update presence", zap.Error(err))
	}
}

// SyncGuilds stores the guilds the bot is in and returns how many there are.
func (m *Manager) SyncGuilds(ctx context.Context) (int, error) {
	if !m.Ready() {
		return 0, ErrNotReady
	}
	guilds := m.Guilds()
	if err := syncBotServers(ctx, m.db, guilds, m.now()); err != nil {
		return 0, err
	}
	return len(guilds), nil
}

// CreateRole creates a role in the guild and returns its id.
func (m *Manager) CreateRole(ctx context.Context, guildID, name, reason string) (string, error) {
	if !m.Ready() {
		return "", ErrNotReady
	}
	color := roleColor
	role, err := m.session.GuildRoleCreate(guildID, &discordgo.RoleParams{Name: name, Color: &color},
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		return "", fmt.Errorf("create role %q: %w", name, err)
	}
	return role.ID, nil
}

func (m *Manager) RenameRole(ctx context.Context, guildID, roleID, name, reason string) error {
	if !m.Ready() {
		return ErrNotReady
	}
	if _, ok := m.RoleName(guildID, roleID); !ok {
		return fmt.Errorf("role %s not found in guild %s", roleID, guildID)
	}
	_, err := m.session.GuildRoleEdit(guildID, roleID, &discordgo.RoleParams{Name: name},
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		return fmt.Errorf("rename role %s: %w", roleID, err)
	}
	return nil
}

// member returns a guild member from the gateway state, falling back to the
// REST API for members not cached yet.
func (m *Manager) member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if mem, err := m.session.State.Member(guildID, userID); err == nil {
		return mem, nil
	}
	mem, err := m.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, ErrMemberNotFound
	}
	if mem.GuildID == "" {
		mem.GuildID = guildID
	}
	return mem, nil
}

// VerifyMember applies the guild's configuration to a member with the given
// account and sends them the result.
func (m *Manager) VerifyMember(ctx context.Context, guildID, discordID string, account *models.LinkedAccount) (*verification.Result, error) {
	if _, err := m.Guild(guildID); err != nil {
		return nil, err
	}
	cfg, err := m.engine.Config(ctx, guildID)
	if err != nil {
		return nil, err
	}
	mem, err := m.member(ctx, guildID, discordID)
	if err != nil {
		return nil, err
	}

	res := m.engine.Apply(ctx, newMember(guildID, mem), cfg, account)
	if err := m.notifier.NotifyResult(discordID, res, true); err != nil {
		m.logger.Debug("Result DM not delivered", zap.String("user_id", discordID), zap.Error(err))
	}
	return res, nil
}
