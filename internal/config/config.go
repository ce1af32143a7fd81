package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	APIHost string `mapstructure:"API_HOST"`
	APIPort string `mapstructure:"API_PORT"`

	DBDriver      string `mapstructure:"DB_DRIVER"`
	DatabasePath  string `mapstructure:"DATABASE_PATH"`
	MySQLHost     string `mapstructure:"MYSQL_HOST"`
	MySQLPort     int    `mapstructure:"MYSQL_PORT"`
	MySQLUser     string `mapstructure:"MYSQL_USER"`
	MySQLPassword string `mapstructure:"MYSQL_PASSWORD"`
	MySQLDatabase string `mapstructure:"MYSQL_DATABASE"`

	DiscordToken         string `mapstructure:"DISCORD_TOKEN"`
	DiscordApplicationID string `mapstructure:"DISCORD_APPLICATION_ID"`
	DiscordClientID      string `mapstructure:"DISCORD_CLIENT_ID"`
	DiscordClientSecret  string `mapstructure:"DISCORD_CLIENT_SECRET"`
	DiscordRedirectURI   string `mapstructure:"DISCORD_REDIRECT_URI"`

	RobloxClientID     string `mapstructure:"ROBLOX_CLIENT_ID"`
	RobloxClientSecret string `mapstructure:"ROBLOX_CLIENT_SECRET"`
	RobloxRedirectURI  string `mapstructure:"ROBLOX_REDIRECT_URI"`

	JWTSecret                string `mapstructure:"JWT_SECRET_KEY"`
	AccessTokenExpireMinutes int    `mapstructure:"JWT_ACCESS_TOKEN_EXPIRE_MINUTES"`
	RefreshTokenExpireHours  int    `mapstructure:"JWT_REFRESH_TOKEN_EXPIRE_HOURS"`

	FrontendURL  string `mapstructure:"FRONTEND_URL"`
	DashboardURL string `mapstructure:"DASHBOARD_URL"`
	SupportURL   string `mapstructure:"SUPPORT_URL"`

	EnableCORS         bool     `mapstructure:"ENABLE_CORS"`
	CORSAllowedOrigins []string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	RateLimitPerMinute int `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	RateLimitPerHour   int `mapstructure:"RATE_LIMIT_PER_HOUR"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	Environment string `mapstructure:"ENVIRONMENT"`
}

var keys = []string{
	"DISCORD_TOKEN",
	"DISCORD_APPLICATION_ID",
	"DISCORD_CLIENT_ID",
	"DISCORD_CLIENT_SECRET",
	"ROBLOX_CLIENT_ID",
	"ROBLOX_CLIENT_SECRET",
	"ROBLOX_REDIRECT_URI",
	"JWT_SECRET_KEY",
	"MYSQL_HOST",
	"MYSQL_USER",
	"MYSQL_PASSWORD",
	"MYSQL_DATABASE",
	"DASHBOARD_URL",
	"ENABLE_CORS",
	"CORS_ALLOWED_ORIGINS",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"ENVIRONMENT",
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("API_HOST", "0.0.0.0")
	v.SetDefault("API_PORT", "8000")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DATABASE_PATH", "disblox.db")
	v.SetDefault("MYSQL_PORT", 3306)
	v.SetDefault("DISCORD_REDIRECT_URI", "http://localhost:8000/auth/callback")
	v.SetDefault("JWT_ACCESS_TOKEN_EXPIRE_MINUTES", 10080)
	v.SetDefault("JWT_REFRESH_TOKEN_EXPIRE_HOURS", 168)
	v.SetDefault("FRONTEND_URL", "https://www.disblox.xyz")
	v.SetDefault("SUPPORT_URL", "https://discord.gg/disblox")
	v.SetDefault("CORS_ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 60)
	v.SetDefault("RATE_LIMIT_PER_HOUR", 1000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ENVIRONMENT", "production")

	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Comma separated origins arrive from the environment untrimmed.
	cfg.CORSAllowedOrigins = splitList(strings.Join(cfg.CORSAllowedOrigins, ","))
	if cfg.DashboardURL == "" {
		cfg.DashboardURL = strings.TrimRight(cfg.FrontendURL, "/") + "/dashboard"
	}

	return &cfg, nil
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET_KEY is required"))
	}
	if c.DiscordClientID == "" {
		errs = append(errs, errors.New("DISCORD_CLIENT_ID is required"))
	}
	if c.DiscordClientSecret == "" {
		errs = append(errs, errors.New("DISCORD_CLIENT_SECRET is required"))
	}
	switch c.DBDriver {
	case "sqlite":
	case "mysql":
		if c.MySQLHost == "" || c.MySQLUser == "" || c.MySQLDatabase == "" {
			errs = append(errs, errors.New("MYSQL_HOST, MYSQL_USER and MYSQL_DATABASE are required for the mysql driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver))
	}
	return errors.Join(errs...)
}

func (c *Config) RobloxConfigured() bool {
	return c.RobloxClientID != "" && c.RobloxClientSecret != "" && c.RobloxRedirectURI != ""
}

func (c *Config) BotEnabled() bool {
	return c.DiscordToken != ""
}

// Development relaxes the security headers for local HTTP.
func (c *Config) Development() bool {
	return strings.EqualFold(c.Environment, "development")
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.APIHost, c.APIPort)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
