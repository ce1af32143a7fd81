package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/disblox/disblox-api/internal/auth"
	"github.com/disblox/disblox-api/internal/bot"
	"github.com/disblox/disblox-api/internal/models"
	"github.com/disblox/disblox-api/internal/testutil"
	"github.com/disblox/disblox-api/internal/verification"
	"go.uber.org/zap"
)

func newDashboard(env *testEnv, b Bot) *DashboardHandler {
	return NewDashboardHandler(env.db, env.auth, b, env.store, zap.NewNop())
}

func addVerificationServer(t *testing.T, env *testEnv, user models.User, serverID string, botAdded bool) {
	t.Helper()
	row := models.VerificationServer{GuildMembership: models.GuildMembership{
		UserID:     user.ID,
		ServerID:   serverID,
		ServerName: "Server " + serverID,
		BotAdded:   botAdded,
	}}
	if err := env.db.Create(&row).Error; err != nil {
		t.Fatalf("failed to create verification server: %v", err)
	}
}

func grantServer(t *testing.T, env *testEnv, user models.User, serverID string, botAdded bool) {
	t.Helper()
	row := models.UserServer{GuildMembership: models.GuildMembership{
		UserID:      user.ID,
		ServerID:    serverID,
		ServerName:  "Server " + serverID,
		Owner:       true,
		Permissions: 8,
		BotAdded:    botAdded,
	}}
	if err := env.db.Create(&row).Error; err != nil {
		t.Fatalf("failed to create user server: %v", err)
	}
}

func TestDashboardRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	h := newDashboard(env, nil)
	ctx := context.Background()

	_, err := h.HandleDashboard(ctx, &auth.AuthInput{})
	expectStatus(t, err, 401)

	_, err = h.HandleLinkedAccounts(ctx, &auth.AuthInput{Authorization: "Bearer garbage"})
	expectStatus(t, err, 401)

	_, err = h.HandleCacheStats(ctx, &auth.AuthInput{Authorization: "Basic abc"})
	expectStatus(t, err, 401)
}

func TestHandleDashboard(t *testing.T) {
	env := newTestEnv(t)
	user, _, header := env.login(t, "111", "alice")
	env.linkAccount(t, user, "9001", "alice_rbx")
	grantServer(t, env, user, "100", true)
	grantServer(t, env, user, "200", false)

	resp, err := newDashboard(env, nil).HandleDashboard(context.Background(), &auth.AuthInput{Authorization: header})
	if err != nil {
		t.Fatalf("HandleDashboard returned error: %v", err)
	}
	if resp.Body.User.DiscordID != "111" {
		t.Errorf("expected discord id 111, got %s", resp.Body.User.DiscordID)
	}
	if resp.Body.TotalLinkedAccounts != 1 || resp.Body.LinkedAccounts[0].RobloxUsername != "alice_rbx" {
		t.Errorf("unexpected linked accounts: %+v", resp.Body.LinkedAccounts)
	}
	if resp.Body.TotalServers != 2 {
		t.Errorf("expected 2 servers, got %d", resp.Body.TotalServers)
	}
	if resp.Body.ServersWithBot != 1 {
		t.Errorf("expected 1 server with bot, got %d", resp.Body.ServersWithBot)
	}
}

func TestHandleServersFromDatabase(t *testing.T) {
	env := newTestEnv(t)
	user, _, header := env.login(t, "111", "alice")
	for _, id := range []string{"100", "200", "300"} {
		grantServer(t, env, user, id, false)
	}
	h := newDashboard(env, nil)

	resp, err := h.HandleServers(context.Background(), &ServersInput{AuthInput: auth.AuthInput{Authorization: header}, Page: 1, Limit: 50})
	if err != nil {
		t.Fatalf("HandleServers returned error: %v", err)
	}
	if len(resp.Body) != 3 {
		t.Fatalf("expected 3 servers, got %d", len(resp.Body))
	}
	if resp.Body[0].Permissions != "8" {
		t.Errorf("expected permissions to be a decimal string, got %q", resp.Body[0].Permissions)
	}

	resp, err = h.HandleServers(context.Background(), &ServersInput{AuthInput: auth.AuthInput{Authorization: header}, Page: 2, Limit: 2})
	if err != nil {
		t.Fatalf("HandleServers returned error: %v", err)
	}
	if len(resp.Body) != 1 || resp.Body[0].ServerID != "300" {
		t.Errorf("expected only server 300 on page 2, got %+v", resp.Body)
	}
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	tests := []struct {
		name        string
		page, limit int
		want        int
	}{
		{"FirstPage", 1, 2, 2},
		{"LastPage", 3, 2, 1},
		{"PastEnd", 4, 2, 0},
		{"Defaults", 0, 0, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := paginate(items, tt.page, tt.limit); len(got) != tt.want {
				t.Errorf("expected %d items, got %d", tt.want, len(got))
			}
		})
	}
}

func TestHandleUnlinkAccount(t *testing.T) {
	env := newTestEnv(t)
	user, _, header := env.login(t, "111", "alice")
	other := testutil.CreateUser(t, env.db, "222", "bob")
	mine := env.linkAccount(t, user, "9001", "alice_rbx")
	theirs := env.linkAccount(t, other, "9002", "bob_rbx")
	h := newDashboard(env, nil)
	ctx := context.Background()

	_, err := h.HandleUnlinkAccount(ctx, &AccountInput{AuthInput: auth.AuthInput{Authorization: header}, AccountID: theirs.ID})
	expectStatus(t, err, 404)

	resp, err := h.HandleUnlinkAccount(ctx, &AccountInput{AuthInput: auth.AuthInput{Authorization: header}, AccountID: mine.ID})
	if err != nil {
		t.Fatalf("HandleUnlinkAccount returned error: %v", err)
	}
	if !resp.Body.Success || resp.Body.Message != "Account unlinked successfully" {
		t.Errorf("unexpected response: %+v", resp.Body)
	}

	var count int64
	env.db.Unscoped().Model(&models.LinkedAccount{}).Where("id = ?", mine.ID).Count(&count)
	if count != 0 {
		t.Errorf("expected account to be hard deleted")
	}
}

func TestHandleVerificationServers(t *testing.T) {
	env := newTestEnv(t)
	user, _, header := env.login(t, "111", "alice")
	addVerificationServer(t, env, user, "100", true)
	addVerificationServer(t, env, user, "200", false)
	addVerificationServer(t, env, user, "300", false)
	ctx := context.Background()
	input := &auth.AuthInput{Authorization: header}

	t.Run("BotOffline", func(t *testing.T) {
		resp, err := newDashboard(env, nil).HandleVerificationServers(ctx, input)
		if err != nil {
			t.Fatalf("HandleVerificationServers returned error: %v", err)
		}
		if len(resp.Body) != 0 {
			t.Errorf("expected no servers while the bot is offline, got %d", len(resp.Body))
		}
	})

	t.Run("BotReady", func(t *testing.T) {
		b := &fakeBot{ready: true, guilds: []bot.GuildInfo{
			{ID: "100", Name: "Server 100", MemberCount: 10},
			{ID: "200", Name: "Server 200", MemberCount: 25},
		}}
		resp, err := newDashboard(env, b).HandleVerificationServers(ctx, input)
		if err != nil {
			t.Fatalf("HandleVerificationServers returned error: %v", err)
		}
		if len(resp.Body) != 2 {
			t.Fatalf("expected 2 servers with the bot, got %d", len(resp.Body))
		}
		for _, s := range resp.Body {
			if s.ServerID == "300" {
				t.Errorf("server without the bot was listed")
			}
			if s.ServerID == "200" && (s.MemberCount != 25 || !s.BotAdded) {
				t.Errorf("expected live member count for 200, got %+v", s)
			}
		}
	})
}

func TestHandleTokenStatus(t *testing.T) {
	env := newTestEnv(t)
	_, session, header := env.login(t, "111", "alice")
	h := newDashboard(env, nil)
	ctx := context.Background()

	resp, err := h.HandleTokenStatus(ctx, &auth.AuthInput{Authorization: header})
	if err != nil {
		t.Fatalf("HandleTokenStatus returned error: %v", err)
	}
	if resp.Body.Data.Expired {
		t.Errorf("expected no expiry without a stored token expiry")
	}
	if resp.Body.Data.UserID != "111" || resp.Body.Data.Username != "alice" {
		t.Errorf("unexpected user in token status: %+v", resp.Body.Data)
	}

	env.db.Model(session).Updates(models.UserSession{
		DiscordAccessToken: "expired",
		DiscordTokenExpiry: time.Now().Add(-time.Hour),
	})
	resp, err = h.HandleTokenStatus(ctx, &auth.AuthInput{Authorization: header})
	if err != nil {
		t.Fatalf("HandleTokenStatus returned error: %v", err)
	}
	if !resp.Body.Data.Expired {
		t.Errorf("expected expired token")
	}
}

func TestHandleSyncServersWithoutToken(t *testing.T) {
	env := newTestEnv(t)
	_, _, header := env.login(t, "111", "alice")

	resp, err := newDashboard(env, nil).HandleSyncServers(context.Background(), &auth.AuthInput{Authorization: header})
	if err != nil {
		t.Fatalf("HandleSyncServers returned error: %v", err)
	}
	if resp.Body.Success {
		t.Errorf("expected sync to fail without a stored Discord token")
	}
	if resp.Body.Message != "Failed to sync servers. Discord token may be expired." {
		t.Errorf("unexpected message: %s", resp.Body.Message)
	}
}

func TestHandleBotStatus(t *testing.T) {
	env := newTestEnv(t)
	_, _, header := env.login(t, "111", "alice")
	ctx := context.Background()

	resp, err := newDashboard(env, nil).HandleBotStatus(ctx, &auth.AuthInput{Authorization: header})
	if err != nil {
		t.Fatalf("HandleBotStatus returned error: %v", err)
	}
	if resp.Body.Ready || resp.Body.User != nil || len(resp.Body.Guilds) != 0 {
		t.Errorf("expected an empty status without the bot, got %+v", resp.Body)
	}

	b := &fakeBot{ready: true, guilds: []bot.GuildInfo{{ID: "100"}}}
	resp, err = newDashboard(env, b).HandleBotStatus(ctx, &auth.AuthInput{Authorization: header})
	if err != nil {
		t.Fatalf("HandleBotStatus returned error: %v", err)
	}
	if !resp.Body.Ready || resp.Body.User == nil || resp.Body.User.Username != "Disblox" {
		t.Errorf("unexpected bot status: %+v", resp.Body)
	}
	if resp.Body.Latency != 0.042 {
		t.Errorf("expected latency in seconds, got %v", resp.Body.Latency)
	}
	if resp.Body.GuildCount != 1 {
		t.Errorf("expected 1 guild, got %d", resp.Body.GuildCount)
	}
}

func TestHandleServerBotStatus(t *testing.T) {
	env := newTestEnv(t)
	user, _, header := env.login(t, "111", "alice")
	grantServer(t, env, user, "100", true)
	b := &fakeBot{ready: true, guilds: []bot.GuildInfo{{ID: "100", Name: "Server 100"}}}
	h := newDashboard(env, b)
	ctx := context.Background()

	_, err := h.HandleServerBotStatus(ctx, &ServerInput{AuthInput: auth.AuthInput{Authorization: header}, ServerID: "abc"})
	expectStatus(t, err, 400)

	_, err = h.HandleServerBotStatus(ctx, &ServerInput{AuthInput: auth.AuthInput{Authorization: header}, ServerID: "200"})
	expectStatus(t, err, 404)

	resp, err := h.HandleServerBotStatus(ctx, &ServerInput{AuthInput: auth.AuthInput{Authorization: header}, ServerID: "100"})
	if err != nil {
		t.Fatalf("HandleServerBotStatus returned error: %v", err)
	}
	if !resp.Body.BotPresent || !resp.Body.BotAdded || !resp.Body.CanAddBot {
		t.Errorf("unexpected server bot status: %+v", resp.Body)
	}
}

func TestHandleBotReady(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := newDashboard(env, nil).HandleBotReady(ctx, &struct{}{})
	if err != nil {
		t.Fatalf("HandleBotReady returned error: %v", err)
	}
	if resp.Body.Data.Ready || resp.Body.Data.User != nil {
		t.Errorf("expected bot not ready, got %+v", resp.Body.Data)
	}

	resp, err = newDashboard(env, &fakeBot{ready: true}).HandleBotReady(ctx, &struct{}{})
	if err != nil {
		t.Fatalf("HandleBotReady returned error: %v", err)
	}
	if !resp.Body.Data.Ready || resp.Body.Data.User.ID != "999" {
		t.Errorf("expected bot ready, got %+v", resp.Body.Data)
	}
}

func TestHandleSyncGuilds(t *testing.T) {
	env := newTestEnv(t)
	_, _, header := env.login(t, "111", "alice")
	ctx := context.Background()
	input := &auth.AuthInput{Authorization: header}

	resp, err := newDashboard(env, &fakeBot{}).HandleSyncGuilds(ctx, input)
	if err != nil {
		t.Fatalf("HandleSyncGuilds returned error: %v", err)
	}
	if resp.Body.Success || resp.Body.Message != "Bot is not ready" {
		t.Errorf("unexpected response: %+v", resp.Body)
	}

	b := &fakeBot{ready: true}
	resp, err = newDashboard(env, b).HandleSyncGuilds(ctx, input)
	if err != nil {
		t.Fatalf("HandleSyncGuilds returned error: %v", err)
	}
	if !resp.Body.Success || b.synced != 1 {
		t.Errorf("expected a guild sync, got %+v (synced %d)", resp.Body, b.synced)
	}
}

func TestHandleVerifyInServer(t *testing.T) {
	env := newTestEnv(t)
	user, _, header := env.login(t, "111", "alice")
	account := env.linkAccount(t, user, "9001", "alice_rbx")
	ctx := context.Background()

	input := func(accountID uint) *VerifyInServerInput {
		in := &VerifyInServerInput{AuthInput: auth.AuthInput{Authorization: header}}
		in.Body.ServerID = "100"
		in.Body.AccountID = accountID
		return in
	}

	t.Run("UnknownAccount", func(t *testing.T) {
		_, err := newDashboard(env, &fakeBot{ready: true}).HandleVerifyInServer(ctx, input(account.ID+100))
		expectStatus(t, err, 404)
	})

	t.Run("NoBot", func(t *testing.T) {
		_, err := newDashboard(env, nil).HandleVerifyInServer(ctx, input(account.ID))
		expectStatus(t, err, 503)
	})

	errorCases := []struct {
		name string
		err  error
		want int
	}{
		{"NotReady", bot.ErrNotReady, 503},
		{"NotConfigured", verification.ErrNotConfigured, 404},
		{"GuildMissing", bot.ErrGuildNotFound, 404},
		{"MemberMissing", bot.ErrMemberNotFound, 404},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newDashboard(env, &fakeBot{ready: true, verifyErr: tc.err}).HandleVerifyInServer(ctx, input(account.ID))
			expectStatus(t, err, tc.want)
		})
	}

	t.Run("Success", func(t *testing.T) {
		b := &fakeBot{ready: true}
		resp, err := newDashboard(env, b).HandleVerifyInServer(ctx, input(account.ID))
		if err != nil {
			t.Fatalf("HandleVerifyInServer returned error: %v", err)
		}
		if !resp.Body.Success || resp.Body.Data.NicknameUpdated != "alice_rbx" {
			t.Errorf("unexpected response: %+v", resp.Body)
		}
		if len(b.verified) != 1 || b.verified[0] != "100:9001" {
			t.Errorf("unexpected verify calls: %v", b.verified)
		}
	})
}

func TestHandleCacheClear(t *testing.T) {
	env := newTestEnv(t)
	_, _, header := env.login(t, "111", "alice")
	h := newDashboard(env, nil)
	ctx := context.Background()

	input := &CacheClearInput{AuthInput: auth.AuthInput{Authorization: header}}
	_, err := h.HandleCacheClear(ctx, input)
	expectStatus(t, err, 400)

	input.Body.Confirm = true
	resp, err := h.HandleCacheClear(ctx, input)
	if err != nil {
		t.Fatalf("HandleCacheClear returned error: %v", err)
	}
	if resp.Body.Message != "All caches cleared successfully" {
		t.Errorf("unexpected message: %s", resp.Body.Message)
	}

	stats, err := h.HandleCacheStats(ctx, &auth.AuthInput{Authorization: header})
	if err != nil {
		t.Fatalf("HandleCacheStats returned error: %v", err)
	}
	if len(stats.Body.Namespaces) == 0 {
		t.Errorf("expected the auth caches to be listed")
	}
}

func TestHandleDebugState(t *testing.T) {
	env := newTestEnv(t)
	user, _, header := env.login(t, "111", "alice")
	grantServer(t, env, user, "100", true)
	b := &fakeBot{ready: true, guilds: []bot.GuildInfo{{ID: "100", Name: "Server 100"}}}

	resp, err := newDashboard(env, b).HandleDebugState(context.Background(), &auth.AuthInput{Authorization: header})
	if err != nil {
		t.Fatalf("HandleDebugState returned error: %v", err)
	}
	if !resp.Body.BotReady || len(resp.Body.BotGuilds) != 1 || len(resp.Body.UserServers) != 1 {
		t.Errorf("unexpected debug state: %+v", resp.Body)
	}
	if resp.Body.User.ProfileCached {
		t.Errorf("no Discord profile was fetched for this session")
	}
}
