package config

import "time"

// Config represents the complete hookguard configuration.
type Config struct {
	Include      []string           `yaml:"include,omitempty"`
	Service      ServiceConfig      `yaml:"service"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Verification VerificationConfig `yaml:"verification"`
	Dedup        DedupConfig        `yaml:"dedup"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Admin        AdminConfig        `yaml:"admin,omitempty"`

	// SourceFiles lists every file that contributed to this config, root
	// first, in load order.
	SourceFiles []string `yaml:"-"`
	// Warnings collects non-fatal adjustments made by Validate.
	Warnings []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// PIDFile, when set, is locked at start so only one instance runs.
	PIDFile string `yaml:"pid_file"`
}

// WebhookConfig defines the inbound HTTP listener.
type WebhookConfig struct {
	Listen       string        `yaml:"listen"`
	Path         string        `yaml:"path"`
	MaxBodySize  string        `yaml:"max_body_size"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// VerificationConfig holds the push secrets and replay windows.
type VerificationConfig struct {
	VerificationToken string `yaml:"verification_token"`
	EncryptKey        string `yaml:"encrypt_key"`
	// TimestampTolerance is the allowed clock skew in seconds.
	TimestampTolerance int64         `yaml:"timestamp_tolerance"`
	EventTTL           time.Duration `yaml:"event_ttl"`
	NonceTTL           time.Duration `yaml:"nonce_ttl"`
}

// DedupConfig selects and tunes the dedup store.
type DedupConfig struct {
	Backend       string         `yaml:"backend"`
	FailurePolicy string         `yaml:"failure_policy"`
	OpTimeout     time.Duration  `yaml:"op_timeout"`
	KeyPrefix     string         `yaml:"key_prefix"`
	EventPrefix   string         `yaml:"event_prefix"`
	NoncePrefix   string         `yaml:"nonce_prefix"`
	SweepInterval time.Duration  `yaml:"sweep_interval"`
	MaxEntries    int            `yaml:"max_entries"`
	Redis         RedisConfig    `yaml:"redis"`
	SQLite        SQLiteConfig   `yaml:"sqlite"`
	Postgres      PostgresConfig `yaml:"postgres"`
}

// RedisConfig configures the redis backend. Addr accepts host:port or a
// redis:// URL.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// SQLiteConfig configures the sqlite backend.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig configures the postgres backend.
type PostgresConfig struct {
	URL string `yaml:"url"`
}

// DispatchConfig configures the worker pool and event routing.
type DispatchConfig struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
	ForwardURL     string        `yaml:"forward_url"`
	// Routes maps event types to handler names. "*" is the fallback.
	Routes map[string]string `yaml:"routes"`
}

// AdminConfig defines bearer auth for the admin endpoints.
type AdminConfig struct {
	// Token is the single full-access bearer token.
	Token  string       `yaml:"token"`
	Tokens []AdminToken `yaml:"tokens,omitempty"`
}

// AdminToken defines a bearer token and its scopes.
type AdminToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// ChecksumManifest is the .checksums file written by `config lock`.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a config with every default applied.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "hookguard",
			LogLevel:  "INFO",
			LogFormat: "json",
		},
		Webhook: WebhookConfig{
			Listen:       "127.0.0.1:8081",
			Path:         "/webhook/event",
			MaxBodySize:  "1MB",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Verification: VerificationConfig{
			TimestampTolerance: 300,
			EventTTL:           24 * time.Hour,
			NonceTTL:           5 * time.Minute,
		},
		Dedup: DedupConfig{
			Backend:       "memory",
			FailurePolicy: "closed",
			OpTimeout:     2 * time.Second,
			KeyPrefix:     "hookguard",
			EventPrefix:   "event",
			NoncePrefix:   "nonce",
			SweepInterval: time.Minute,
			MaxEntries:    1_000_000,
			Redis: RedisConfig{
				DialTimeout:  5 * time.Second,
				ReadTimeout:  time.Second,
				WriteTimeout: time.Second,
			},
			SQLite: SQLiteConfig{Path: "./data/dedup.db"},
		},
		Dispatch: DispatchConfig{
			Workers:        4,
			QueueSize:      256,
			HandlerTimeout: 30 * time.Second,
			Routes:         map[string]string{"*": "log"},
		},
	}
}
