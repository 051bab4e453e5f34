package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitRule is one entry of the configurable policy table.
type RateLimitRule struct {
	Name          string
	Pattern       string
	Limit         int
	WindowSeconds int
	Mode          string
}

// Config is the resolved runtime configuration.
// It merges file defaults and environment overrides to support both local and deployed runs.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	DatabaseURL string
	RedisURL    string

	MagicLinkBaseURL   string
	EmailVerifyBaseURL string

	RPDisplayName string
	RPID          string
	RPOrigins     []string

	SecureCookies bool

	MagicLinkTTL         time.Duration
	EmailVerificationTTL time.Duration
	SessionLifetime      time.Duration
	RotationAge          time.Duration
	RotatedRetention     time.Duration
	ChallengeTTL         time.Duration

	LockoutThreshold int
	LockoutWindow    time.Duration
	LockoutDuration  time.Duration

	RateLimitRules       []RateLimitRule
	MagicLinkEmailLimit  int
	MagicLinkEmailWindow time.Duration

	MaxDBConns      int32
	CleanupInterval time.Duration
}

// configFile mirrors the YAML schema used by configs/default.yaml.
// It is intentionally separate from Config so runtime-only fields stay internal.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL string `yaml:"postgres_url"`
		RedisURL    string `yaml:"redis_url"`
	} `yaml:"dependencies"`
	Links struct {
		MagicLinkBaseURL   string `yaml:"magic_link_base_url"`
		EmailVerifyBaseURL string `yaml:"email_verify_base_url"`
	} `yaml:"links"`
	Passkeys struct {
		RPDisplayName string   `yaml:"rp_display_name"`
		RPID          string   `yaml:"rp_id"`
		RPOrigins     []string `yaml:"rp_origins"`
	} `yaml:"passkeys"`
	RateLimits []struct {
		Name          string `yaml:"name"`
		Pattern       string `yaml:"pattern"`
		Limit         int    `yaml:"limit"`
		WindowSeconds int    `yaml:"window_seconds"`
		Mode          string `yaml:"mode"`
	} `yaml:"rate_limits"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// This order keeps local bootstrap simple while allowing environment-specific overrides.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:            "latchkey-auth-service",
		HTTPPort:             8080,
		GRPCPort:             9090,
		MagicLinkBaseURL:     "http://localhost:8080/auth/v1/magic-link/verify",
		EmailVerifyBaseURL:   "http://localhost:8080/auth/v1/email/verify",
		RPDisplayName:        "Latchkey",
		RPID:                 "localhost",
		RPOrigins:            []string{"http://localhost:8080"},
		SecureCookies:        false,
		MagicLinkTTL:         15 * time.Minute,
		EmailVerificationTTL: 24 * time.Hour,
		SessionLifetime:      14 * 24 * time.Hour,
		RotationAge:          7 * 24 * time.Hour,
		RotatedRetention:     90 * 24 * time.Hour,
		ChallengeTTL:         60 * time.Second,
		LockoutThreshold:     5,
		LockoutWindow:        time.Hour,
		LockoutDuration:      15 * time.Minute,
		RateLimitRules: []RateLimitRule{
			{Name: "magic_link", Pattern: "/auth/v1/magic-link", Limit: 5, WindowSeconds: 60, Mode: "ip"},
			{Name: "magic_link_verify", Pattern: "/auth/v1/magic-link/verify", Limit: 10, WindowSeconds: 60, Mode: "ip"},
			{Name: "passkey_login", Pattern: "/auth/v1/passkeys/login", Limit: 10, WindowSeconds: 60, Mode: "ip"},
			{Name: "passkey_register", Pattern: "/auth/v1/passkeys/register", Limit: 10, WindowSeconds: 60, Mode: "account"},
			{Name: "email_verify_request", Pattern: "/auth/v1/email/verify-request", Limit: 3, WindowSeconds: 300, Mode: "account"},
		},
		MagicLinkEmailLimit:  3,
		MagicLinkEmailWindow: 15 * time.Minute,
		MaxDBConns:           20,
		CleanupInterval:      time.Hour,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		if f.Dependencies.PostgresURL != "" {
			cfg.DatabaseURL = f.Dependencies.PostgresURL
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if f.Links.MagicLinkBaseURL != "" {
			cfg.MagicLinkBaseURL = f.Links.MagicLinkBaseURL
		}
		if f.Links.EmailVerifyBaseURL != "" {
			cfg.EmailVerifyBaseURL = f.Links.EmailVerifyBaseURL
		}
		if f.Passkeys.RPDisplayName != "" {
			cfg.RPDisplayName = f.Passkeys.RPDisplayName
		}
		if f.Passkeys.RPID != "" {
			cfg.RPID = f.Passkeys.RPID
		}
		if len(f.Passkeys.RPOrigins) > 0 {
			cfg.RPOrigins = f.Passkeys.RPOrigins
		}
		if len(f.RateLimits) > 0 {
			rules := make([]RateLimitRule, 0, len(f.RateLimits))
			for _, r := range f.RateLimits {
				rules = append(rules, RateLimitRule{
					Name:          r.Name,
					Pattern:       r.Pattern,
					Limit:         r.Limit,
					WindowSeconds: r.WindowSeconds,
					Mode:          strings.ToLower(strings.TrimSpace(r.Mode)),
				})
			}
			cfg.RateLimitRules = rules
		}
	}

	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.MagicLinkBaseURL = envOrDefault("MAGIC_LINK_BASE_URL", cfg.MagicLinkBaseURL)
	cfg.EmailVerifyBaseURL = envOrDefault("EMAIL_VERIFY_BASE_URL", cfg.EmailVerifyBaseURL)
	cfg.RPDisplayName = envOrDefault("PASSKEY_RP_DISPLAY_NAME", cfg.RPDisplayName)
	cfg.RPID = envOrDefault("PASSKEY_RP_ID", cfg.RPID)
	cfg.RPOrigins = envCSV("PASSKEY_RP_ORIGINS", cfg.RPOrigins)
	cfg.SecureCookies = envBool("SECURE_COOKIES", cfg.SecureCookies)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))

	cfg.MagicLinkTTL = time.Duration(envInt("MAGIC_LINK_TTL_MINUTES", int(cfg.MagicLinkTTL.Minutes()))) * time.Minute
	cfg.EmailVerificationTTL = time.Duration(envInt("EMAIL_VERIFICATION_TTL_HOURS", int(cfg.EmailVerificationTTL.Hours()))) * time.Hour
	cfg.SessionLifetime = time.Duration(envInt("SESSION_LIFETIME_DAYS", int(cfg.SessionLifetime.Hours()/24))) * 24 * time.Hour
	cfg.RotationAge = time.Duration(envInt("SESSION_ROTATION_DAYS", int(cfg.RotationAge.Hours()/24))) * 24 * time.Hour
	cfg.RotatedRetention = time.Duration(envInt("ROTATED_RETENTION_DAYS", int(cfg.RotatedRetention.Hours()/24))) * 24 * time.Hour
	cfg.ChallengeTTL = time.Duration(envInt("CHALLENGE_TTL_SECONDS", int(cfg.ChallengeTTL.Seconds()))) * time.Second

	cfg.LockoutThreshold = envInt("LOCKOUT_THRESHOLD", cfg.LockoutThreshold)
	cfg.LockoutWindow = time.Duration(envInt("LOCKOUT_WINDOW_MINUTES", int(cfg.LockoutWindow.Minutes()))) * time.Minute
	cfg.LockoutDuration = time.Duration(envInt("LOCKOUT_DURATION_MINUTES", int(cfg.LockoutDuration.Minutes()))) * time.Minute

	cfg.MagicLinkEmailLimit = envInt("MAGIC_LINK_EMAIL_LIMIT", cfg.MagicLinkEmailLimit)
	cfg.MagicLinkEmailWindow = time.Duration(envInt("MAGIC_LINK_EMAIL_WINDOW_MINUTES", int(cfg.MagicLinkEmailWindow.Minutes()))) * time.Minute
	cfg.CleanupInterval = time.Duration(envInt("CLEANUP_INTERVAL_MINUTES", int(cfg.CleanupInterval.Minutes()))) * time.Minute

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("missing DB_URL/POSTGRES_URL")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("missing REDIS_URL")
	}

	return cfg, nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envBool parses common boolean env forms while keeping a deterministic fallback.
func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
