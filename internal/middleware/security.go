package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/cors"
	"github.com/unrolled/secure"
)

const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' 'nonce-$NONCE'; " +
	"style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data: https://cdn.discordapp.com https://tr.rbxcdn.com; " +
	"connect-src 'self' https://discord.com https://apis.roblox.com; " +
	"font-src 'self'; " +
	"object-src 'none'; " +
	"base-uri 'self'; " +
	"frame-ancestors 'none'"

// SecurityHeaders sets the hardening headers on every response. The CSP
// carries a fresh nonce per request, which is also exposed as X-CSP-Nonce.
func SecurityHeaders(development bool) func(http.Handler) http.Handler {
	sec := secure.New(secure.Options{
		ContentSecurityPolicy: contentSecurityPolicy,
		STSSeconds:            31536000,
		STSIncludeSubdomains:  true,
		STSPreload:            true,
		ForceSTSHeader:        true,
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		PermissionsPolicy:     "geolocation=(), microphone=(), camera=()",
		IsDevelopment:         development,
	})

	return func(next http.Handler) http.Handler {
		return sec.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if nonce := secure.CSPNonce(r.Context()); nonce != "" {
				h.Set("X-CSP-Nonce", nonce)
			}
			h.Set("X-Download-Options", "noopen")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
			next.ServeHTTP(w, r)
		}))
	}
}

// Nonce returns the CSP nonce generated for the current request.
func Nonce(ctx context.Context) string {
	return secure.CSPNonce(ctx)
}

// CORS allows browser access from the given origins. A lone "*" allows any
// origin without credentials.
func CORS(origins []string) func(http.Handler) http.Handler {
	wildcard := len(origins) == 0 || (len(origins) == 1 && origins[0] == "*")
	if wildcard {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Token-Expired", "X-CSP-Nonce", "Retry-After"},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	})
}
