package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/disblox/disblox-api/internal/auth"
	"github.com/disblox/disblox-api/internal/bot"
	"github.com/disblox/disblox-api/internal/models"
	"github.com/disblox/disblox-api/internal/roblox"
	"github.com/disblox/disblox-api/internal/testutil"
	"go.uber.org/zap"
)

const testGuild = "100"

func testGroup() *roblox.Group {
	return &roblox.Group{
		ID:   "4242",
		Name: "Disblox Fans",
		Roles: []roblox.Role{
			{ID: "3", Name: "Owner", Rank: 255},
			{ID: "2", Name: "Member", Rank: 1},
			{ID: "1", Name: "Guest", Rank: 0},
		},
	}
}

type serverFixture struct {
	env    *testEnv
	h      *ServerHandler
	bot    *fakeBot
	header string
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	env := newTestEnv(t)
	user, _, header := env.login(t, "111", "alice")
	testutil.GrantServer(t, env.db, user, testGuild)
	b := &fakeBot{ready: true, guilds: []bot.GuildInfo{{ID: testGuild, Name: "Server 100"}}}
	rbx := &fakeRoblox{groups: map[string]*roblox.Group{"4242": testGroup()}}
	return &serverFixture{
		env:    env,
		h:      NewServerHandler(env.db, env.auth, b, rbx, zap.NewNop()),
		bot:    b,
		header: header,
	}
}

func (f *serverFixture) server() ServerInput {
	return ServerInput{AuthInput: auth.AuthInput{Authorization: f.header}, ServerID: testGuild}
}

func (f *serverFixture) step(body SetupStep) *SetupInput {
	return &SetupInput{ServerInput: f.server(), Body: body}
}

func boolPtr(b bool) *bool { return &b }

func TestServerAccess(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	_, err := f.h.HandleSetupStatus(ctx, &ServerInput{AuthInput: auth.AuthInput{}, ServerID: testGuild})
	expectStatus(t, err, 401)

	_, err = f.h.HandleSetupStatus(ctx, &ServerInput{AuthInput: auth.AuthInput{Authorization: f.header}, ServerID: "not-a-number"})
	expectStatus(t, err, 400)

	_, err = f.h.HandleSetupStatus(ctx, &ServerInput{AuthInput: auth.AuthInput{Authorization: f.header}, ServerID: "999"})
	expectStatus(t, err, 404)
}

func TestSetupFlow(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	server := f.server()

	status, err := f.h.HandleSetupStatus(ctx, &server)
	if err != nil {
		t.Fatalf("HandleSetupStatus returned error: %v", err)
	}
	if status.Body.Message != "Server setup not started" || status.Body.CurrentStep != models.SetupStepNickname {
		t.Errorf("unexpected initial status: %+v", status.Body)
	}

	_, err = f.h.HandleGetConfig(ctx, &server)
	expectStatus(t, err, 404)

	_, err = f.h.HandleSetupVerifiedRole(ctx, f.step(SetupStep{VerifiedRoleName: "Verified"}))
	expectStatus(t, err, 400)

	_, err = f.h.HandleSetupGroup(ctx, f.step(SetupStep{Skip: true}))
	expectStatus(t, err, 400)

	_, err = f.h.HandleSetupNickname(ctx, f.step(SetupStep{NicknameFormat: "shouting"}))
	expectStatus(t, err, 400)

	resp, err := f.h.HandleSetupNickname(ctx, f.step(SetupStep{NicknameFormat: models.NicknameDiscordDisplayWithRoblox}))
	if err != nil {
		t.Fatalf("HandleSetupNickname returned error: %v", err)
	}
	if resp.Body.CurrentStep != models.SetupStepVerifiedRole || resp.Body.Config.NicknameFormat != models.NicknameDiscordDisplayWithRoblox {
		t.Errorf("unexpected nickname step response: %+v", resp.Body)
	}

	resp, err = f.h.HandleSetupVerifiedRole(ctx, f.step(SetupStep{
		VerifiedRoleEnabled: boolPtr(true),
		VerifiedRoleName:    "Linked",
		RolesToRemove:       []string{"700", " 701 "},
	}))
	if err != nil {
		t.Fatalf("HandleSetupVerifiedRole returned error: %v", err)
	}
	if resp.Body.CurrentStep != models.SetupStepGroup {
		t.Errorf("expected group step, got %s", resp.Body.CurrentStep)
	}
	if got := resp.Body.Config.RolesToRemove; len(got) != 2 || got[1] != "701" {
		t.Errorf("unexpected roles to remove: %v", got)
	}

	_, err = f.h.HandleSetupGroup(ctx, f.step(SetupStep{}))
	expectStatus(t, err, 400)

	_, err = f.h.HandleSetupGroup(ctx, f.step(SetupStep{GroupID: "1"}))
	expectStatus(t, err, 400)

	resp, err = f.h.HandleSetupGroup(ctx, f.step(SetupStep{GroupURL: "https://www.roblox.com/communities/4242/disblox-fans"}))
	if err != nil {
		t.Fatalf("HandleSetupGroup returned error: %v", err)
	}
	if !resp.Body.SetupCompleted || resp.Body.CurrentStep != models.SetupStepCompleted {
		t.Errorf("expected setup to be completed, got %+v", resp.Body)
	}
	if resp.Body.Config.GroupName != "Disblox Fans" || !resp.Body.Config.GroupRolesEnabled {
		t.Errorf("unexpected group config: %+v", resp.Body.Config)
	}
	if resp.Body.Config.VerifiedRoleID == "" {
		t.Errorf("expected the verified role to be created")
	}

	wantCreated := []string{"Owner", "Member", "Linked"}
	if len(f.bot.created) != len(wantCreated) {
		t.Fatalf("expected roles %v to be created, got %v", wantCreated, f.bot.created)
	}
	for i, name := range wantCreated {
		if f.bot.created[i] != name {
			t.Errorf("expected role %d to be %s, got %s", i, name, f.bot.created[i])
		}
	}

	roles, err := f.h.HandleGroupRoles(ctx, &server)
	if err != nil {
		t.Fatalf("HandleGroupRoles returned error: %v", err)
	}
	if len(roles.Body.GroupRoles) != 2 {
		t.Fatalf("expected 2 group roles (guest rank excluded), got %d", len(roles.Body.GroupRoles))
	}
	if roles.Body.GroupRoles[0].RobloxRoleRank != 255 || roles.Body.GroupRoles[1].RobloxRoleRank != 1 {
		t.Errorf("expected roles ordered by rank descending, got %+v", roles.Body.GroupRoles)
	}
	for _, r := range roles.Body.GroupRoles {
		if r.DiscordRoleID == "" {
			t.Errorf("expected a Discord role for %s", r.RobloxRoleName)
		}
	}
}

func TestSetupGroupSkip(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	if _, err := f.h.HandleSetupNickname(ctx, f.step(SetupStep{NicknameFormat: models.NicknameRobloxUsername})); err != nil {
		t.Fatalf("HandleSetupNickname returned error: %v", err)
	}
	if _, err := f.h.HandleSetupVerifiedRole(ctx, f.step(SetupStep{VerifiedRoleEnabled: boolPtr(false)})); err != nil {
		t.Fatalf("HandleSetupVerifiedRole returned error: %v", err)
	}

	resp, err := f.h.HandleSetupGroup(ctx, f.step(SetupStep{Skip: true}))
	if err != nil {
		t.Fatalf("HandleSetupGroup returned error: %v", err)
	}
	if !resp.Body.SetupCompleted || resp.Body.Config.GroupRolesEnabled {
		t.Errorf("unexpected skipped setup: %+v", resp.Body)
	}
	if len(f.bot.created) != 0 {
		t.Errorf("expected no roles to be created, got %v", f.bot.created)
	}
}

func TestSetupGroupWithoutBot(t *testing.T) {
	f := newServerFixture(t)
	f.h.bot = nil
	ctx := context.Background()

	f.h.HandleSetupNickname(ctx, f.step(SetupStep{NicknameFormat: models.NicknameRobloxUsername}))
	f.h.HandleSetupVerifiedRole(ctx, f.step(SetupStep{}))
	resp, err := f.h.HandleSetupGroup(ctx, f.step(SetupStep{GroupID: "4242"}))
	if err != nil {
		t.Fatalf("HandleSetupGroup returned error: %v", err)
	}
	if len(resp.Body.Config.GroupRoles) != 2 {
		t.Fatalf("expected mappings to be stored, got %d", len(resp.Body.Config.GroupRoles))
	}
	for _, r := range resp.Body.Config.GroupRoles {
		if r.DiscordRoleID != "" {
			t.Errorf("expected no Discord role without the bot, got %s", r.DiscordRoleID)
		}
	}
}

func TestSetupGroupRobloxUnavailable(t *testing.T) {
	f := newServerFixture(t)
	f.h.roblox = &fakeRoblox{err: errors.New("connection refused")}
	ctx := context.Background()

	f.h.HandleSetupNickname(ctx, f.step(SetupStep{NicknameFormat: models.NicknameRobloxUsername}))
	_, err := f.h.HandleSetupGroup(ctx, f.step(SetupStep{GroupID: "4242"}))
	expectStatus(t, err, 503)
}

func TestSetupStepValidate(t *testing.T) {
	tests := []struct {
		name  string
		step  SetupStep
		valid bool
	}{
		{"Empty", SetupStep{}, true},
		{"KnownFormat", SetupStep{NicknameFormat: models.NicknameNone}, true},
		{"UnknownFormat", SetupStep{NicknameFormat: "bogus"}, false},
		{"NumericRole", SetupStep{VerifiedRoleID: "123"}, true},
		{"NonNumericRole", SetupStep{VerifiedRoleID: "abc"}, false},
		{"NonNumericRemoveRole", SetupStep{RolesToRemove: []string{"1", "x"}}, false},
		{"GroupURLAsID", SetupStep{GroupID: "https://www.roblox.com/groups/1"}, false},
		{"NonNumericGroup", SetupStep{GroupID: "12a"}, false},
		{"NumericGroup", SetupStep{GroupID: "12"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.validate()
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid {
				expectStatus(t, err, 400)
			}
		})
	}
}

func completeSetup(t *testing.T, f *serverFixture) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.h.HandleSetupNickname(ctx, f.step(SetupStep{NicknameFormat: models.NicknameRobloxUsername})); err != nil {
		t.Fatalf("HandleSetupNickname returned error: %v", err)
	}
	if _, err := f.h.HandleSetupVerifiedRole(ctx, f.step(SetupStep{})); err != nil {
		t.Fatalf("HandleSetupVerifiedRole returned error: %v", err)
	}
	if _, err := f.h.HandleSetupGroup(ctx, f.step(SetupStep{GroupID: "4242"})); err != nil {
		t.Fatalf("HandleSetupGroup returned error: %v", err)
	}
}

func TestEditConfig(t *testing.T) {
	f := newServerFixture(t)
	completeSetup(t, f)
	ctx := context.Background()
	server := f.server()

	edit, err := f.h.HandleEditConfig(ctx, &server)
	if err != nil {
		t.Fatalf("HandleEditConfig returned error: %v", err)
	}
	if edit.Body.ServerConfig.ServerName != "Server 100" || len(edit.Body.GroupRoles) != 2 {
		t.Errorf("unexpected edit view: %+v", edit.Body)
	}

	t.Run("Nickname", func(t *testing.T) {
		_, err := f.h.HandleEditNickname(ctx, f.step(SetupStep{}))
		expectStatus(t, err, 400)

		resp, err := f.h.HandleEditNickname(ctx, f.step(SetupStep{NicknameFormat: models.NicknameNone}))
		if err != nil {
			t.Fatalf("HandleEditNickname returned error: %v", err)
		}
		if resp.Body.Config.NicknameFormat != models.NicknameNone || !resp.Body.SetupCompleted {
			t.Errorf("unexpected nickname edit: %+v", resp.Body)
		}
	})

	t.Run("VerifiedRoleRename", func(t *testing.T) {
		roleID := edit.Body.ServerConfig.VerifiedRoleID
		resp, err := f.h.HandleEditVerifiedRole(ctx, f.step(SetupStep{VerifiedRoleName: "Checked"}))
		if err != nil {
			t.Fatalf("HandleEditVerifiedRole returned error: %v", err)
		}
		if resp.Body.Config.VerifiedRoleName != "Checked" {
			t.Errorf("expected role name to be updated, got %s", resp.Body.Config.VerifiedRoleName)
		}
		if f.bot.renamed[roleID] != "Checked" {
			t.Errorf("expected Discord role %s to be renamed, got %v", roleID, f.bot.renamed)
		}
	})

	t.Run("GroupDisable", func(t *testing.T) {
		resp, err := f.h.HandleEditGroup(ctx, f.step(SetupStep{Skip: true}))
		if err != nil {
			t.Fatalf("HandleEditGroup returned error: %v", err)
		}
		if resp.Body.Message != "Group configuration disabled successfully" || resp.Body.Config.GroupRolesEnabled {
			t.Errorf("unexpected group disable: %+v", resp.Body)
		}
		var count int64
		f.env.db.Model(&models.GroupRole{}).Count(&count)
		if count != 0 {
			t.Errorf("expected group mappings to be deleted, found %d", count)
		}
	})

	t.Run("GroupUpdate", func(t *testing.T) {
		resp, err := f.h.HandleEditGroup(ctx, f.step(SetupStep{GroupID: "4242"}))
		if err != nil {
			t.Fatalf("HandleEditGroup returned error: %v", err)
		}
		if resp.Body.Message != "Group configuration updated successfully" || len(resp.Body.Config.GroupRoles) != 2 {
			t.Errorf("unexpected group update: %+v", resp.Body)
		}
	})
}

func TestResetConfig(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	server := f.server()

	_, err := f.h.HandleResetConfig(ctx, &server)
	expectStatus(t, err, 404)

	completeSetup(t, f)
	resp, err := f.h.HandleResetConfig(ctx, &server)
	if err != nil {
		t.Fatalf("HandleResetConfig returned error: %v", err)
	}
	if resp.Body.Message != "Server configuration reset successfully" {
		t.Errorf("unexpected message: %s", resp.Body.Message)
	}

	var configs, roles int64
	f.env.db.Unscoped().Model(&models.ServerConfig{}).Count(&configs)
	f.env.db.Unscoped().Model(&models.GroupRole{}).Count(&roles)
	if configs != 0 || roles != 0 {
		t.Errorf("expected config and mappings to be removed, found %d configs and %d roles", configs, roles)
	}

	status, err := f.h.HandleSetupStatus(ctx, &server)
	if err != nil {
		t.Fatalf("HandleSetupStatus returned error: %v", err)
	}
	if status.Body.CurrentStep != models.SetupStepNickname {
		t.Errorf("expected setup to start over, got %s", status.Body.CurrentStep)
	}
}
