package tokengate

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/tokengate/internal"
)

// Config holds every tunable of an [Engine]. Start from [DefaultConfig] and override
// fields; [Builder.Build] validates the result.
type Config struct {
	Captcha  CaptchaConfig
	Token    TokenConfig
	Password PasswordConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Security SecurityConfig
}

/*
====================================
CAPTCHA CONFIG
====================================
*/

// CaptchaConfig controls challenge generation and matching.
type CaptchaConfig struct {
	TTL             time.Duration
	Length          int
	Alphabet        string
	CaseInsensitive bool
	// RenderImage draws issued codes as PNG data URIs. Requires a digit alphabet.
	RenderImage bool
	ImageWidth  int
	ImageHeight int
	RedisPrefix string
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenFormat selects how session tokens are presented to clients.
type TokenFormat string

const (
	// TokenOpaque issues random bearer strings; only their digest is stored.
	TokenOpaque TokenFormat = "opaque"
	// TokenJWT issues signed JWTs whose jti is the stored token id.
	TokenJWT TokenFormat = "jwt"
)

// TokenConfig controls session token lifetime and encoding.
type TokenConfig struct {
	TTL           time.Duration
	Format        TokenFormat
	SigningMethod string // "hs256" (default for jwt) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RedisPrefix   string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig configures the default argon2id hasher. It is ignored when a hasher is
// supplied through [Builder.WithHasher].
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	AcceptBcrypt   bool
	BcryptCost     int
	UpgradeOnLogin bool
}

// AuditConfig controls asynchronous audit dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls failed-login throttling. Throttling needs a Redis client.
type SecurityConfig struct {
	EnableLoginThrottle   bool
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
	RedisPrefix           string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used by [New].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Captcha: CaptchaConfig{
			TTL:             2 * time.Minute,
			Length:          4,
			Alphabet:        internal.DigitAlphabet,
			CaseInsensitive: false,
			RenderImage:     true,
			ImageWidth:      120,
			ImageHeight:     40,
			RedisPrefix:     "tg",
		},
		Token: TokenConfig{
			TTL:           24 * time.Hour,
			Format:        TokenOpaque,
			SigningMethod: "hs256",
			Leeway:        0,
			RedisPrefix:   "tg",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			AcceptBcrypt:   true,
			BcryptCost:     10,
			UpgradeOnLogin: false,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			EnableLoginThrottle:   false,
			EnableIPThrottle:      false,
			MaxLoginAttempts:      5,
			LoginCooldownDuration: 15 * time.Minute,
			RedisPrefix:           "tg",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate returns the first inconsistency found; it does not check anything that
// needs a network round-trip.
func (c *Config) Validate() error {
	// Captcha
	if c.Captcha.TTL <= 0 {
		return errors.New("Captcha TTL must be > 0")
	}
	if c.Captcha.Length < 4 || c.Captcha.Length > 16 {
		return errors.New("Captcha Length must be within [4, 16]")
	}
	if len(c.Captcha.Alphabet) < 2 {
		return errors.New("Captcha Alphabet must have at least 2 symbols")
	}
	if c.Captcha.RenderImage {
		if strings.Trim(c.Captcha.Alphabet, internal.DigitAlphabet) != "" {
			return errors.New("Captcha RenderImage requires a digit-only Alphabet")
		}
		if c.Captcha.ImageWidth <= 0 || c.Captcha.ImageHeight <= 0 {
			return errors.New("Captcha image dimensions must be > 0")
		}
	}

	// Token
	if c.Token.TTL <= 0 {
		return errors.New("Token TTL must be > 0")
	}
	switch c.Token.Format {
	case TokenOpaque:
	case TokenJWT:
		if c.Token.SigningMethod != "hs256" && c.Token.SigningMethod != "ed25519" {
			return errors.New("unsupported Token SigningMethod")
		}
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("Token format jwt requires PrivateKey")
		}
		if c.Token.SigningMethod == "ed25519" && len(c.Token.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
		if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
			return errors.New("Token Leeway must be within [0, 2m]")
		}
	default:
		return errors.New("unsupported Token Format")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password Time and Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}
	if c.Password.MinLength < 0 {
		return errors.New("Password MinLength must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Security
	if c.Security.EnableIPThrottle && !c.Security.EnableLoginThrottle {
		return errors.New("Security EnableIPThrottle requires EnableLoginThrottle")
	}
	if c.Security.EnableLoginThrottle {
		if c.Security.MaxLoginAttempts <= 0 {
			return errors.New("Security MaxLoginAttempts must be > 0")
		}
		if c.Security.LoginCooldownDuration <= 0 {
			return errors.New("Security LoginCooldownDuration must be > 0")
		}
	}

	return nil
}
