package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Session   SessionConfig   `mapstructure:"session"`
	Media     MediaConfig     `mapstructure:"media"`
	AWS       AWSConfig       `mapstructure:"aws"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	Mode      string `mapstructure:"mode"` // gin mode: debug, release, test
	PublicDir string `mapstructure:"public_dir"`
	// TrustedProxies lists the proxy addresses or CIDRs whose
	// X-Forwarded-For is believed. Empty means the peer address is used.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type StoreConfig struct {
	Backend            string      `mapstructure:"backend"` // file, memory, redis, sqlite
	Path               string      `mapstructure:"path"`
	DegradeOnReadError bool        `mapstructure:"degrade_on_read_error"`
	Redis              RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

type AdminConfig struct {
	Username string `mapstructure:"username"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

type SessionConfig struct {
	Secret      string        `mapstructure:"secret"`
	CookieName  string        `mapstructure:"cookie_name"`
	Secure      bool          `mapstructure:"secure"`
	TTL         time.Duration `mapstructure:"ttl"`
	RememberTTL time.Duration `mapstructure:"remember_ttl"`
}

type MediaConfig struct {
	Backend      string   `mapstructure:"backend"` // local or s3
	Dir          string   `mapstructure:"dir"`
	URLPrefix    string   `mapstructure:"url_prefix"`
	MaxUploadMB  int64    `mapstructure:"max_upload_mb"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

type AWSConfig struct {
	Region   string `mapstructure:"region"`
	S3Bucket string `mapstructure:"s3_bucket"`
	S3Prefix string `mapstructure:"s3_prefix"`
	Endpoint string `mapstructure:"endpoint"`
}

type RateLimitConfig struct {
	Every time.Duration `mapstructure:"every"`
	Burst int           `mapstructure:"burst"`
}

const envPrefix = "VIDSHARE"

// DefaultSessionSecret is only accepted in debug and test mode.
const DefaultSessionSecret = "your-secret-key-change-in-production"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.public_dir", "public")
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", "database/data.json")
	v.SetDefault("store.degrade_on_read_error", false)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.key", "vidshare:dataset")

	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.email", "admin@example.com")
	v.SetDefault("admin.password", "admin123")

	v.SetDefault("session.secret", DefaultSessionSecret)
	v.SetDefault("session.cookie_name", "session")
	v.SetDefault("session.secure", false)
	v.SetDefault("session.ttl", "24h")
	v.SetDefault("session.remember_ttl", "720h")

	v.SetDefault("media.backend", "local")
	v.SetDefault("media.dir", "uploads")
	v.SetDefault("media.url_prefix", "/uploads")
	v.SetDefault("media.max_upload_mb", 500)
	v.SetDefault("media.allowed_types", []string{"video/mp4", "video/avi", "video/mov", "video/wmv", "video/flv"})

	v.SetDefault("aws.region", "us-west-2")
	v.SetDefault("aws.s3_bucket", "")
	v.SetDefault("aws.s3_prefix", "videos")
	v.SetDefault("aws.endpoint", "")

	v.SetDefault("ratelimit.every", "3s")
	v.SetDefault("ratelimit.burst", 10)
}

// Load reads configuration from, in increasing precedence: defaults, the
// YAML file, a .env file in the working directory, and VIDSHARE_*
// environment variables (VIDSHARE_STORE_BACKEND overrides store.backend).
// An empty path searches for config.yaml in cmd/config/ and the working
// directory and tolerates its absence; an explicit path must exist.
func Load(path string) (*Config, error) {
	// .env is optional; the real environment wins over it.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("cmd/config/")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}

	// Serverless hosts have no writable disk.
	if os.Getenv("VERCEL") == "1" {
		cfg.Store.Backend = "memory"
		cfg.Session.Secure = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "file", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("config: store.path is required for the %s backend", c.Store.Backend)
		}
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("config: store.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown store.backend %q", c.Store.Backend)
	}

	switch c.Media.Backend {
	case "local":
		if c.Media.Dir == "" {
			return fmt.Errorf("config: media.dir is required for local media")
		}
	case "s3":
		if c.AWS.S3Bucket == "" {
			return fmt.Errorf("config: aws.s3_bucket is required for s3 media")
		}
	default:
		return fmt.Errorf("config: unknown media.backend %q", c.Media.Backend)
	}

	if c.Session.Secret == "" {
		return fmt.Errorf("config: session.secret must not be empty")
	}
	if c.Session.Secret == DefaultSessionSecret && c.Server.Mode != "debug" && c.Server.Mode != "test" {
		return fmt.Errorf("config: session.secret must be changed from the default in %s mode", c.Server.Mode)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	return nil
}

func (c *Config) MaxUploadBytes() int64 {
	return c.Media.MaxUploadMB << 20
}
