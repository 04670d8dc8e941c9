// Package config loads and watches the engine configuration.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	cfg *Config
	mu  sync.RWMutex
)

// Config is the full application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Sync     SyncConfig     `mapstructure:"sync"`
	DNS      DNSConfig      `mapstructure:"dns"`
	AI       AIConfig       `mapstructure:"ai"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, sslMode)
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	DB      int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// SyncConfig bounds the scheduler: cron cadence, worker-pool width, the
// per-run fetch limit, and the connect/auth timeout for mailbox passes.
type SyncConfig struct {
	Schedule    string        `mapstructure:"schedule"`
	Workers     int           `mapstructure:"workers"`
	FetchLimit  int           `mapstructure:"fetch_limit"`
	AuthTimeout time.Duration `mapstructure:"auth_timeout"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

type DNSConfig struct {
	Resolver string        `mapstructure:"resolver"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AIConfig carries process-wide provider API keys. Per-tenant provider order
// lives in the database.
type AIConfig struct {
	OpenAIKey   string        `mapstructure:"openai_key"`
	DeepSeekKey string        `mapstructure:"deepseek_key"`
	GeminiKey   string        `mapstructure:"gemini_key"`
	ClaudeKey   string        `mapstructure:"claude_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SecretsConfig struct {
	// EncryptionSecret is the server-side secret the credential key is
	// derived from. Never logged.
	EncryptionSecret string `mapstructure:"encryption_secret"`
}

// Load reads configuration from the given file plus MAILPILOT_* environment
// overrides and installs it as the process configuration.
func Load(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MAILPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	mu.Lock()
	cfg = loaded
	mu.Unlock()

	v.OnConfigChange(func(_ fsnotify.Event) {
		updated := &Config{}
		if err := v.Unmarshal(updated); err != nil {
			return
		}
		mu.Lock()
		cfg = updated
		mu.Unlock()
	})
	v.WatchConfig()

	return nil
}

// Get returns the current configuration, or nil when Load has not run.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Set installs a configuration directly, primarily for tests.
func Set(c *Config) {
	mu.Lock()
	cfg = c
	mu.Unlock()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mailpilot")
	v.SetDefault("app.env", "development")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("sync.schedule", "0 */2 * * * *")
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.fetch_limit", 50)
	v.SetDefault("sync.auth_timeout", 30*time.Second)
	v.SetDefault("sync.send_timeout", 30*time.Second)
	v.SetDefault("dns.resolver", "1.1.1.1:53")
	v.SetDefault("dns.timeout", 5*time.Second)
	v.SetDefault("ai.timeout", 30*time.Second)
}
