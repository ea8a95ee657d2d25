package main

import (
	"encoding/base64"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/MrEthical07/tokengate"
)

// appConfig is the file and flag configuration of the tokengate binary. Keys in the
// YAML file use the koanf tags; top-level keys can also be set with flags of the
// same name.
type appConfig struct {
	Listen         string        `koanf:"listen"`
	RedisAddr      string        `koanf:"redis_addr"`
	RedisPrefix    string        `koanf:"redis_prefix"`
	DatabaseURL    string        `koanf:"database_url"`
	LogFormat      string        `koanf:"log_format"`
	LogLevel       string        `koanf:"log_level"`
	TrustForwarded bool          `koanf:"trust_forwarded"`
	StartupTimeout time.Duration `koanf:"startup_timeout"`
	Audit          bool          `koanf:"audit"`

	Captcha  captchaSection  `koanf:"captcha"`
	Token    tokenSection    `koanf:"token"`
	Throttle throttleSection `koanf:"throttle"`

	// Users seeds the in-memory identity store used when no database is configured.
	Users []seedUser `koanf:"users"`
}

type captchaSection struct {
	TTL             time.Duration `koanf:"ttl"`
	Length          int           `koanf:"length"`
	CaseInsensitive bool          `koanf:"case_insensitive"`
}

type tokenSection struct {
	TTL    time.Duration `koanf:"ttl"`
	Format string        `koanf:"format"`
	// SigningKey is the base64 HS256 secret used when Format is "jwt".
	SigningKey string `koanf:"signing_key"`
	Issuer     string `koanf:"issuer"`
}

type throttleSection struct {
	Enabled     bool          `koanf:"enabled"`
	PerIP       bool          `koanf:"per_ip"`
	MaxAttempts int           `koanf:"max_attempts"`
	Cooldown    time.Duration `koanf:"cooldown"`
}

type seedUser struct {
	Username string   `koanf:"username"`
	Phone    string   `koanf:"phone"`
	Email    string   `koanf:"email"`
	Password string   `koanf:"password"`
	Status   string   `koanf:"status"`
	Roles    []string `koanf:"roles"`
}

func defaultAppConfig() appConfig {
	engine := tokengate.DefaultConfig()
	return appConfig{
		Listen:         ":8080",
		RedisPrefix:    "tg",
		LogFormat:      "json",
		LogLevel:       "info",
		StartupTimeout: 30 * time.Second,
		Captcha: captchaSection{
			TTL:    engine.Captcha.TTL,
			Length: engine.Captcha.Length,
		},
		Token: tokenSection{
			TTL:    engine.Token.TTL,
			Format: string(engine.Token.Format),
		},
		Throttle: throttleSection{
			MaxAttempts: engine.Security.MaxLoginAttempts,
			Cooldown:    engine.Security.LoginCooldownDuration,
		},
	}
}

// registerConfigFlags declares the flags that may override top-level file keys.
func registerConfigFlags(fs *pflag.FlagSet) {
	def := defaultAppConfig()
	fs.String("listen", def.Listen, "HTTP listen address")
	fs.String("redis_addr", def.RedisAddr, "Redis address; empty keeps all state in memory")
	fs.String("redis_prefix", def.RedisPrefix, "Redis key prefix")
	fs.String("database_url", def.DatabaseURL, "PostgreSQL URL of the identity store")
	fs.String("log_format", def.LogFormat, "log format: json or text")
	fs.String("log_level", def.LogLevel, "log level: debug, info, warn or error")
	fs.Bool("trust_forwarded", def.TrustForwarded, "take the client IP from X-Forwarded-For")
	fs.Duration("startup_timeout", def.StartupTimeout, "how long to wait for Redis and PostgreSQL")
	fs.Bool("audit", def.Audit, "write audit events to the log")
}

// loadConfig layers defaults, the YAML file at path (if any) and changed flags.
func loadConfig(path string, fs *pflag.FlagSet) (appConfig, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return appConfig{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}
	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return appConfig{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := defaultAppConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return appConfig{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}

// engineConfig translates the file configuration into a validated engine config.
func (c appConfig) engineConfig() (tokengate.Config, error) {
	cfg := tokengate.DefaultConfig()

	cfg.Captcha.TTL = c.Captcha.TTL
	cfg.Captcha.Length = c.Captcha.Length
	cfg.Captcha.CaseInsensitive = c.Captcha.CaseInsensitive
	cfg.Captcha.RedisPrefix = c.RedisPrefix

	cfg.Token.TTL = c.Token.TTL
	cfg.Token.Format = tokengate.TokenFormat(c.Token.Format)
	cfg.Token.Issuer = c.Token.Issuer
	cfg.Token.RedisPrefix = c.RedisPrefix
	if c.Token.SigningKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.Token.SigningKey)
		if err != nil {
			return tokengate.Config{}, oops.Code("CONFIG_INVALID").With("key", "token.signing_key").Wrap(err)
		}
		cfg.Token.PrivateKey = key
	}

	cfg.Security.EnableLoginThrottle = c.Throttle.Enabled
	cfg.Security.EnableIPThrottle = c.Throttle.PerIP
	cfg.Security.MaxLoginAttempts = c.Throttle.MaxAttempts
	cfg.Security.LoginCooldownDuration = c.Throttle.Cooldown
	cfg.Security.RedisPrefix = c.RedisPrefix

	cfg.Audit.Enabled = c.Audit

	if err := cfg.Validate(); err != nil {
		return tokengate.Config{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}
