package handlers

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/disblox/disblox-api/internal/auth"
	"github.com/disblox/disblox-api/internal/bot"
	"github.com/disblox/disblox-api/internal/cache"
	"github.com/disblox/disblox-api/internal/config"
	"github.com/disblox/disblox-api/internal/models"
	"github.com/disblox/disblox-api/internal/roblox"
	"github.com/disblox/disblox-api/internal/testutil"
	"github.com/disblox/disblox-api/internal/verification"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:                "test-secret",
		AccessTokenExpireMinutes: 60,
		RefreshTokenExpireHours:  168,
		DiscordClientID:          "client",
		DiscordClientSecret:      "secret",
		DiscordRedirectURI:       "http://localhost/auth/callback",
		FrontendURL:              "https://www.disblox.xyz",
	}
}

type testEnv struct {
	db    *gorm.DB
	store *cache.Store
	auth  *auth.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)
	store := cache.NewStore()
	return &testEnv{
		db:    db,
		store: store,
		auth:  auth.NewHandler(testConfig(), db, store, nil, zap.NewNop()),
	}
}

// login creates a user with a live session and returns its Authorization header.
func (e *testEnv) login(t *testing.T, discordID, username string) (models.User, *models.UserSession, string) {
	t.Helper()
	user := testutil.CreateUser(t, e.db, discordID, username)
	session := models.UserSession{
		UserID:       user.ID,
		SessionToken: uuid.NewString(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	if err := e.db.Create(&session).Error; err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	tokens, err := e.auth.IssueTokens(&user, &session)
	if err != nil {
		t.Fatalf("IssueTokens returned error: %v", err)
	}
	return user, &session, "Bearer " + tokens.AccessToken
}

func (e *testEnv) linkAccount(t *testing.T, user models.User, robloxID, username string) models.LinkedAccount {
	t.Helper()
	account := models.LinkedAccount{
		UserID:         user.ID,
		RobloxID:       robloxID,
		RobloxUsername: username,
		Verified:       true,
		LinkedAt:       time.Now(),
	}
	if err := e.db.Create(&account).Error; err != nil {
		t.Fatalf("failed to create linked account: %v", err)
	}
	return account
}

func statusOf(err error) int {
	var se huma.StatusError
	if errors.As(err, &se) {
		return se.GetStatus()
	}
	return 0
}

func expectStatus(t *testing.T, err error, want int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected status %d, got no error", want)
	}
	if got := statusOf(err); got != want {
		t.Fatalf("expected status %d, got %d (%v)", want, got, err)
	}
}

type fakeBot struct {
	ready     bool
	guilds    []bot.GuildInfo
	created   []string
	renamed   map[string]string
	synced    int
	verifyErr error
	verified  []string
}

func (f *fakeBot) Ready() bool { return f.ready }

func (f *fakeBot) Status() bot.Status {
	ids := []string{}
	for _, g := range f.guilds {
		ids = append(ids, g.ID)
	}
	return bot.Status{Ready: f.ready, UserID: "999", Username: "Disblox", LatencyMS: 42, GuildCount: len(ids), GuildIDs: ids}
}

func (f *fakeBot) Guilds() []bot.GuildInfo { return f.guilds }

func (f *fakeBot) Guild(guildID string) (*bot.GuildInfo, error) {
	if !f.ready {
		return nil, bot.ErrNotReady
	}
	for i := range f.guilds {
		if f.guilds[i].ID == guildID {
			return &f.guilds[i], nil
		}
	}
	return nil, bot.ErrGuildNotFound
}

func (f *fakeBot) GuildMemberCounts() map[string]int {
	counts := make(map[string]int)
	for _, g := range f.guilds {
		counts[g.ID] = g.MemberCount
	}
	return counts
}

func (f *fakeBot) SyncGuilds(ctx context.Context) (int, error) {
	f.synced++
	return len(f.guilds), nil
}

func (f *fakeBot) CreateRole(ctx context.Context, guildID, name, reason string) (string, error) {
	f.created = append(f.created, name)
	return strconv.Itoa(5000 + len(f.created)), nil
}

func (f *fakeBot) RenameRole(ctx context.Context, guildID, roleID, name, reason string) error {
	if f.renamed == nil {
		f.renamed = make(map[string]string)
	}
	f.renamed[roleID] = name
	return nil
}

func (f *fakeBot) VerifyMember(ctx context.Context, guildID, discordID string, account *models.LinkedAccount) (*verification.Result, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	f.verified = append(f.verified, guildID+":"+account.RobloxID)
	return &verification.Result{NicknameUpdated: account.RobloxUsername, RolesAdded: []string{"Verified"}}, nil
}

type fakeRoblox struct {
	groups map[string]*roblox.Group
	err    error
}

func (f *fakeRoblox) AvatarURL(ctx context.Context, robloxID string) string {
	return "https://tr.rbxcdn.com/" + robloxID
}

func (f *fakeRoblox) Group(ctx context.Context, groupID string) (*roblox.Group, error) {
	if f.err != nil {
		return nil, f.err
	}
	g, ok := f.groups[groupID]
	if !ok {
		return nil, roblox.ErrGroupNotFound
	}
	return g, nil
}

type fakeLinker struct {
	configured  bool
	pending     map[string]roblox.PendingLink
	info        *roblox.UserInfo
	exchangeErr error
}

func (f *fakeLinker) Configured() bool    { return f.configured }
func (f *fakeLinker) ClientID() string    { return "roblox-client" }
func (f *fakeLinker) RedirectURI() string { return "http://localhost/roblox/callback" }

func (f *fakeLinker) AuthURL(userID uint) (string, string, error) {
	if !f.configured {
		return "", "", roblox.ErrNotConfigured
	}
	state := uuid.NewString()
	if f.pending == nil {
		f.pending = make(map[string]roblox.PendingLink)
	}
	f.pending[state] = roblox.PendingLink{UserID: userID, Verifier: "verifier"}
	return "https://apis.roblox.com/oauth/v1/authorize?state=" + state, state, nil
}

func (f *fakeLinker) Consume(state string) (roblox.PendingLink, error) {
	link, ok := f.pending[state]
	if !ok {
		return roblox.PendingLink{}, roblox.ErrUnknownState
	}
	delete(f.pending, state)
	return link, nil
}

func (f *fakeLinker) Exchange(ctx context.Context, code string, link roblox.PendingLink) (*roblox.UserInfo, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.info, nil
}
