package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/disblox/disblox-api/internal/auth"
	"github.com/disblox/disblox-api/internal/config"
	"github.com/disblox/disblox-api/internal/logging"
	"github.com/disblox/disblox-api/internal/middleware"
	"github.com/disblox/disblox-api/internal/ratelimit"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type NonceOutput struct {
	Body struct {
		Nonce string `json:"nonce"`
	}
}

func handleNonce(ctx context.Context, input *struct{}) (*NonceOutput, error) {
	out := &NonceOutput{}
	out.Body.Nonce = middleware.Nonce(ctx)
	return out, nil
}

func bearerAuth(o *huma.Operation) {
	o.Security = []map[string][]string{{"bearerAuth": {}}}
}

func RegisterRoutes(
	r *chi.Mux,
	cfg *config.Config,
	logger *zap.Logger,
	limiter *ratelimit.Limiter,
	authHandler *auth.Handler,
	dashboardHandler *DashboardHandler,
	robloxHandler *RobloxHandler,
	serverHandler *ServerHandler,
) huma.API {
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logging.Middleware(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders(cfg.Development()))
	if cfg.EnableCORS {
		r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(authHandler.Identify)
	r.Use(ratelimit.Middleware(limiter, auth.ClientKey, logger))

	// Initialize Huma API
	humaConfig := huma.DefaultConfig("Disblox API", "1.0.0")
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearerAuth": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	api := humachi.New(r, humaConfig)

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	huma.Get(api, "/api/csp-nonce", handleNonce)

	// Auth routes
	huma.Get(api, "/auth/login", authHandler.HandleLogin)
	huma.Get(api, "/auth/discord-url", authHandler.HandleDiscordURL)
	huma.Get(api, "/auth/callback", authHandler.HandleCallback)
	huma.Post(api, "/auth/refresh", authHandler.HandleRefresh)
	huma.Get(api, "/auth/me", authHandler.HandleMe, bearerAuth)
	huma.Post(api, "/auth/logout", authHandler.HandleLogout, bearerAuth)
	huma.Post(api, "/auth/discord-refresh", authHandler.HandleDiscordRefresh, bearerAuth)

	// Dashboard routes
	huma.Get(api, "/dashboard/user", dashboardHandler.HandleDashboard, bearerAuth)
	huma.Get(api, "/dashboard/user/servers", dashboardHandler.HandleServers, bearerAuth)
	huma.Get(api, "/dashboard/user/linked-accounts", dashboardHandler.HandleLinkedAccounts, bearerAuth)
	huma.Delete(api, "/dashboard/user/linked-account/{account_id}", dashboardHandler.HandleUnlinkAccount, bearerAuth)
	huma.Get(api, "/dashboard/user/verification-servers", dashboardHandler.HandleVerificationServers, bearerAuth)
	huma.Get(api, "/dashboard/user/token-status", dashboardHandler.HandleTokenStatus, bearerAuth)
	huma.Post(api, "/dashboard/user/sync-servers", dashboardHandler.HandleSyncServers, bearerAuth)
	huma.Get(api, "/dashboard/bot/status", dashboardHandler.HandleBotStatus, bearerAuth)
	huma.Get(api, "/dashboard/bot/status/{server_id}", dashboardHandler.HandleServerBotStatus, bearerAuth)
	huma.Get(api, "/dashboard/bot/servers", dashboardHandler.HandleBotServers, bearerAuth)
	huma.Get(api, "/dashboard/bot/ready", dashboardHandler.HandleBotReady)
	huma.Post(api, "/dashboard/bot/sync-guilds", dashboardHandler.HandleSyncGuilds, bearerAuth)
	huma.Post(api, "/dashboard/bot/manual-sync", dashboardHandler.HandleSyncGuilds, bearerAuth)
	huma.Post(api, "/dashboard/bot/verify-in-server", dashboardHandler.HandleVerifyInServer, bearerAuth)
	huma.Get(api, "/dashboard/cache/stats", dashboardHandler.HandleCacheStats, bearerAuth)
	huma.Post(api, "/dashboard/cache/clear", dashboardHandler.HandleCacheClear, bearerAuth)
	huma.Get(api, "/dashboard/debug/state", dashboardHandler.HandleDebugState, bearerAuth)

	// Roblox routes
	huma.Get(api, "/roblox/auth", robloxHandler.HandleAuthURL, bearerAuth)
	huma.Get(api, "/roblox/auth-url", robloxHandler.HandleAuthURL, bearerAuth)
	huma.Get(api, "/roblox/callback", robloxHandler.HandleCallback)
	huma.Delete(api, "/roblox/unlink/{account_id}", robloxHandler.HandleUnlink, bearerAuth)
	huma.Get(api, "/roblox/status", robloxHandler.HandleStatus, bearerAuth)

	// Server setup routes
	huma.Get(api, "/server/{server_id}/config", serverHandler.HandleGetConfig, bearerAuth)
	huma.Delete(api, "/server/{server_id}/config", serverHandler.HandleResetConfig, bearerAuth)
	huma.Get(api, "/server/{server_id}/setup", serverHandler.HandleSetupStatus, bearerAuth)
	huma.Post(api, "/server/{server_id}/setup/nickname", serverHandler.HandleSetupNickname, bearerAuth)
	huma.Post(api, "/server/{server_id}/setup/verified-role", serverHandler.HandleSetupVerifiedRole, bearerAuth)
	huma.Post(api, "/server/{server_id}/setup/group", serverHandler.HandleSetupGroup, bearerAuth)
	huma.Get(api, "/server/{server_id}/group-roles", serverHandler.HandleGroupRoles, bearerAuth)
	huma.Get(api, "/server/{server_id}/edit", serverHandler.HandleEditConfig, bearerAuth)
	huma.Put(api, "/server/{server_id}/edit/nickname", serverHandler.HandleEditNickname, bearerAuth)
	huma.Put(api, "/server/{server_id}/edit/verified-role", serverHandler.HandleEditVerifiedRole, bearerAuth)
	huma.Put(api, "/server/{server_id}/edit/group", serverHandler.HandleEditGroup, bearerAuth)

	return api
}
