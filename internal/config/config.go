// Package config defines the replica configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by RETROPICK_* environment variables.
type Config struct {
	Chain     ChainConfig     `toml:"chain"`
	Workflow  WorkflowConfig  `toml:"workflow"`
	AI        AIConfig        `toml:"ai"`
	Consensus ConsensusConfig `toml:"consensus"`
	Feeds     []FeedConfig    `toml:"feeds"`
	Sessions  []SessionConfig `toml:"sessions"`
	// SessionsFile is a YAML snapshot appended to Sessions at load time.
	// A relative path is resolved against the config file's directory.
	SessionsFile string         `toml:"sessions_file"`
	Redis        RedisConfig    `toml:"redis"`
	Supabase     SupabaseConfig `toml:"supabase"`
	S3           S3Config       `toml:"s3"`
	Server       ServerConfig   `toml:"server"`
	Notify       NotifyConfig   `toml:"notify"`
	AMQP         AMQPConfig     `toml:"amqp"`
	Mode         string         `toml:"mode"`
	LogLevel     string         `toml:"log_level"`
}

// ChainConfig holds the RPC endpoint, signing key and market contract.
type ChainConfig struct {
	RPCURL           string   `toml:"rpc_url"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	MarketAddress    string   `toml:"market_address"`
	GasLimit         uint64   `toml:"gas_limit"`
	ReceiptTimeout   duration `toml:"receipt_timeout"`
	// LogPoll is the SettlementRequested polling interval.
	LogPoll   duration `toml:"log_poll"`
	FromBlock uint64   `toml:"from_block"`
	// FollowLatest reads logs up to the head instead of the finalized block.
	FollowLatest bool `toml:"follow_latest"`
}

// WorkflowConfig holds the receiver addresses and job schedules.
type WorkflowConfig struct {
	CreatorAddress       string   `toml:"creator_address"`
	MarketFactoryAddress string   `toml:"market_factory_address"`
	CREReceiverAddress   string   `toml:"cre_receiver_address"`
	CreationCron         string   `toml:"creation_cron"`
	SessionCron          string   `toml:"session_cron"`
	HTTPResolveAfter     duration `toml:"http_resolve_after"`
	// LockTTL bounds the cross-process locks held for a scheduled tick and
	// for a transmitter election.
	LockTTL duration `toml:"lock_ttl"`
}

// AIConfig selects the settlement oracle provider.
type AIConfig struct {
	Provider     string `toml:"provider"`
	URL          string `toml:"url"`
	Model        string `toml:"model"`
	APIKey       string `toml:"api_key"`
	MockResponse string `toml:"mock_response"`
}

// ConsensusConfig selects how replicas agree on observed values.
type ConsensusConfig struct {
	// Mode is "solo", "local" (in-process replicas) or "board" (Redis).
	Mode      string   `toml:"mode"`
	Replicas  int      `toml:"replicas"`
	Policy    string   `toml:"policy"`
	Quorum    int      `toml:"quorum"`
	ReplicaID string   `toml:"replica_id"`
	Timeout   duration `toml:"timeout"`
	Poll      duration `toml:"poll"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	APIKey         string   `toml:"api_key"`
	AuthorizedKeys []string `toml:"authorized_keys"`
	RateLimit      int      `toml:"rate_limit"`
	RateWindow     duration `toml:"rate_window"`
	// EventChannel is the signal bus channel pipeline events are published
	// on and the WebSocket hub relays.
	EventChannel string `toml:"event_channel"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// AMQPConfig holds the event exchange parameters. Empty URL disables it.
type AMQPConfig struct {
	URL           string `toml:"url"`
	Exchange      string `toml:"exchange"`
	RoutingPrefix string `toml:"routing_prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			GasLimit:       500_000,
			ReceiptTimeout: duration{2 * time.Minute},
			LogPoll:        duration{12 * time.Second},
		},
		Workflow: WorkflowConfig{
			CreationCron:     "*/15 * * * *",
			SessionCron:      "*/5 * * * *",
			HTTPResolveAfter: duration{24 * time.Hour},
			LockTTL:          duration{5 * time.Minute},
		},
		AI: AIConfig{Provider: "openai"},
		Consensus: ConsensusConfig{
			Mode:     "solo",
			Replicas: 1,
			Policy:   "identical",
			Timeout:  duration{30 * time.Second},
			Poll:     duration{250 * time.Millisecond},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "retropick",
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "retropick-reports",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:      true,
			Port:         8080,
			RateLimit:    120,
			RateWindow:   duration{time.Minute},
			EventChannel: "events",
		},
		AMQP:     AMQPConfig{Exchange: "retropick.events", RoutingPrefix: "retropick"},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"full":   true, // cron jobs, log watcher and HTTP server
	"cron":   true,
	"watch":  true,
	"server": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validProviders = map[string]bool{
	"mock": true, "openai": true, "deepseek": true, "gemini": true, "compatible": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, cron, watch, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.PrivateKey == "" && c.Chain.EncryptedKeyPath == "" {
		errs = append(errs, "chain: either private_key or encrypted_key_path must be set")
	}
	if c.Chain.EncryptedKeyPath != "" && c.Chain.KeyPassword == "" {
		errs = append(errs, "chain: key_password is required when encrypted_key_path is set")
	}
	errs = checkAddress(errs, "chain.market_address", c.Chain.MarketAddress)
	if (mode == "full" || mode == "watch") && c.Chain.MarketAddress == "" {
		errs = append(errs, "chain: market_address is required for mode "+mode)
	}

	// Workflow
	errs = checkAddress(errs, "workflow.creator_address", c.Workflow.CreatorAddress)
	errs = checkAddress(errs, "workflow.market_factory_address", c.Workflow.MarketFactoryAddress)
	errs = checkAddress(errs, "workflow.cre_receiver_address", c.Workflow.CREReceiverAddress)
	if mode == "full" || mode == "cron" {
		if strings.TrimSpace(c.Workflow.CreationCron) == "" && strings.TrimSpace(c.Workflow.SessionCron) == "" {
			errs = append(errs, "workflow: at least one of creation_cron or session_cron must be set")
		}
	}

	// AI
	if !validProviders[strings.ToLower(strings.TrimSpace(c.AI.Provider))] {
		errs = append(errs, fmt.Sprintf("ai: unknown provider %q", c.AI.Provider))
	}
	if !strings.EqualFold(c.AI.Provider, "mock") && strings.TrimSpace(c.AI.APIKey) == "" {
		errs = append(errs, "ai: api_key is required unless provider is mock (or set RETROPICK_AI_API_KEY)")
	}

	// Consensus
	switch strings.ToLower(c.Consensus.Mode) {
	case "solo", "local":
	case "board":
		if !c.Redis.Enabled {
			errs = append(errs, "consensus: board mode requires redis.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("consensus: unknown mode %q (valid: solo, local, board)", c.Consensus.Mode))
	}
	if c.Consensus.Replicas < 1 {
		errs = append(errs, "consensus: replicas must be >= 1")
	}
	switch strings.ToLower(c.Consensus.Policy) {
	case "identical":
	case "quorum":
		if c.Consensus.Quorum < 1 || c.Consensus.Quorum > c.Consensus.Replicas {
			errs = append(errs, "consensus: quorum must be between 1 and replicas")
		}
	default:
		errs = append(errs, fmt.Sprintf("consensus: unknown policy %q (valid: identical, quorum)", c.Consensus.Policy))
	}

	// Feeds
	seen := map[string]bool{}
	for i, f := range c.Feeds {
		if strings.TrimSpace(f.ID) == "" {
			errs = append(errs, fmt.Sprintf("feeds[%d]: id must not be empty", i))
			continue
		}
		if seen[f.ID] {
			errs = append(errs, fmt.Sprintf("feeds[%d]: duplicate id %q", i, f.ID))
		}
		seen[f.ID] = true
		if strings.TrimSpace(f.Kind) == "" {
			errs = append(errs, fmt.Sprintf("feeds[%d]: kind must not be empty", i))
		}
	}

	// Sessions
	for i, s := range c.Sessions {
		if _, err := s.ToDomain(); err != nil {
			errs = append(errs, fmt.Sprintf("sessions[%d]: %v", i, err))
		}
	}

	// Supabase
	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled || mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		for i, k := range c.Server.AuthorizedKeys {
			errs = checkAddress(errs, fmt.Sprintf("server.authorized_keys[%d]", i), k)
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.AMQP.URL != "" && c.AMQP.Exchange == "" {
		errs = append(errs, "amqp: exchange must not be empty when url is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkAddress(errs []string, field, v string) []string {
	if v != "" && !common.IsHexAddress(v) {
		return append(errs, fmt.Sprintf("%s: %q is not a hex address", field, v))
	}
	return errs
}

// Address parses a validated address field; empty yields the zero address.
func Address(v string) common.Address {
	if v == "" {
		return common.Address{}
	}
	return common.HexToAddress(v)
}
