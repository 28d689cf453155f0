package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies RETROPICK_* environment variable overrides and
// appends the sessions snapshot file. An empty path uses defaults and the
// environment only. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if cfg.SessionsFile != "" {
		sessionsPath := cfg.SessionsFile
		if !filepath.IsAbs(sessionsPath) && path != "" {
			sessionsPath = filepath.Join(filepath.Dir(path), sessionsPath)
		}
		extra, err := LoadSessionsFile(sessionsPath)
		if err != nil {
			return nil, err
		}
		cfg.Sessions = append(cfg.Sessions, extra...)
	}

	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and per-replica settings
// at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "RETROPICK_CHAIN_RPC_URL")
	setStr(&cfg.Chain.PrivateKey, "RETROPICK_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "RETROPICK_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "RETROPICK_CHAIN_KEY_PASSWORD")
	setStr(&cfg.Chain.MarketAddress, "RETROPICK_CHAIN_MARKET_ADDRESS")
	setUint64(&cfg.Chain.FromBlock, "RETROPICK_CHAIN_FROM_BLOCK")
	setBool(&cfg.Chain.FollowLatest, "RETROPICK_CHAIN_FOLLOW_LATEST")

	// ── Workflow ──
	setStr(&cfg.Workflow.CreatorAddress, "RETROPICK_WORKFLOW_CREATOR_ADDRESS")
	setStr(&cfg.Workflow.MarketFactoryAddress, "RETROPICK_WORKFLOW_MARKET_FACTORY_ADDRESS")
	setStr(&cfg.Workflow.CREReceiverAddress, "RETROPICK_WORKFLOW_CRE_RECEIVER_ADDRESS")
	setStr(&cfg.Workflow.CreationCron, "RETROPICK_WORKFLOW_CREATION_CRON")
	setStr(&cfg.Workflow.SessionCron, "RETROPICK_WORKFLOW_SESSION_CRON")
	setDuration(&cfg.Workflow.HTTPResolveAfter, "RETROPICK_WORKFLOW_HTTP_RESOLVE_AFTER")

	// ── AI ──
	setStr(&cfg.AI.Provider, "RETROPICK_AI_PROVIDER")
	setStr(&cfg.AI.URL, "RETROPICK_AI_URL")
	setStr(&cfg.AI.Model, "RETROPICK_AI_MODEL")
	setStr(&cfg.AI.APIKey, "RETROPICK_AI_API_KEY")

	// ── Consensus ──
	setStr(&cfg.Consensus.Mode, "RETROPICK_CONSENSUS_MODE")
	setInt(&cfg.Consensus.Replicas, "RETROPICK_CONSENSUS_REPLICAS")
	setStr(&cfg.Consensus.Policy, "RETROPICK_CONSENSUS_POLICY")
	setInt(&cfg.Consensus.Quorum, "RETROPICK_CONSENSUS_QUORUM")
	setStr(&cfg.Consensus.ReplicaID, "RETROPICK_CONSENSUS_REPLICA_ID")
	setDuration(&cfg.Consensus.Timeout, "RETROPICK_CONSENSUS_TIMEOUT")

	setStr(&cfg.SessionsFile, "RETROPICK_SESSIONS_FILE")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "RETROPICK_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "RETROPICK_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "RETROPICK_DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "RETROPICK_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "RETROPICK_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "RETROPICK_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "RETROPICK_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "RETROPICK_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "RETROPICK_SUPABASE_SSL_MODE")
	setBool(&cfg.Supabase.RunMigrations, "RETROPICK_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "RETROPICK_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "RETROPICK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RETROPICK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RETROPICK_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "RETROPICK_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "RETROPICK_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "RETROPICK_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "RETROPICK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RETROPICK_S3_REGION")
	setStr(&cfg.S3.Bucket, "RETROPICK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RETROPICK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RETROPICK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RETROPICK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RETROPICK_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "RETROPICK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "RETROPICK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "RETROPICK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "RETROPICK_SERVER_API_KEY")
	setStringSlice(&cfg.Server.AuthorizedKeys, "RETROPICK_SERVER_AUTHORIZED_KEYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RETROPICK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RETROPICK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RETROPICK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RETROPICK_NOTIFY_EVENTS")

	// ── AMQP ──
	setStr(&cfg.AMQP.URL, "RETROPICK_AMQP_URL")
	setStr(&cfg.AMQP.Exchange, "RETROPICK_AMQP_EXCHANGE")

	// ── Top-level ──
	setStr(&cfg.Mode, "RETROPICK_MODE")
	setStr(&cfg.LogLevel, "RETROPICK_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
