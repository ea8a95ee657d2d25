package tokengate

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/tokengate/captcha"
	internalaudit "github.com/MrEthical07/tokengate/internal/audit"
	"github.com/MrEthical07/tokengate/internal/rate"
	"github.com/MrEthical07/tokengate/jwt"
	"github.com/MrEthical07/tokengate/password"
	"github.com/MrEthical07/tokengate/session"
	"github.com/redis/go-redis/v9"
)

// dummyPassword is hashed once per engine; unknown identities are verified against
// the result.
const dummyPassword = "tokengate-dummy-password"

// Builder assembles an [Engine]. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	lookup       IdentityLookup
	handlers     map[LoginMode]LoginHandler
	hasher       PasswordHasher
	captchaStore captcha.Store
	tokenStore   session.Store
	auditSink    AuditSink
	logger       *slog.Logger
	clock        func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config:   defaultConfig(),
		handlers: make(map[LoginMode]LoginHandler, 3),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis makes the default captcha and token stores Redis-backed and enables
// login throttling support. Without it both stores live in process memory.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityLookup registers the username, phone and email handlers over lookup.
// Handlers passed to [Builder.WithLoginHandler] take precedence.
func (b *Builder) WithIdentityLookup(lookup IdentityLookup) *Builder {
	b.lookup = lookup
	return b
}

// WithLoginHandler binds a custom handler to mode.
func (b *Builder) WithLoginHandler(mode LoginMode, h LoginHandler) *Builder {
	b.handlers[mode] = h
	return b
}

// WithHasher replaces the argon2id/bcrypt chain built from Config.Password.
func (b *Builder) WithHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

// WithCaptchaStore overrides the verification code store.
func (b *Builder) WithCaptchaStore(s captcha.Store) *Builder {
	b.captchaStore = s
	return b
}

// WithTokenStore overrides the session token store.
func (b *Builder) WithTokenStore(s session.Store) *Builder {
	b.tokenStore = s
	return b
}

// WithAuditSink sets the destination of audit events. Config.Audit.Enabled must be
// set for events to be dispatched.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger used for non-fatal backend warnings.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil && cfg.Security.EnableLoginThrottle {
		return nil, errors.New("login throttle requires redis client")
	}
	if b.lookup == nil && len(b.handlers) == 0 {
		return nil, errors.New("identity lookup or login handlers required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	// -------- HANDLERS --------
	registry := NewHandlerRegistry()
	if b.lookup != nil {
		for mode, h := range map[LoginMode]LoginHandler{
			ModeUsername: UsernameHandler{Lookup: b.lookup},
			ModePhone:    PhoneHandler{Lookup: b.lookup},
			ModeEmail:    EmailHandler{Lookup: b.lookup},
		} {
			if err := registry.Register(mode, h); err != nil {
				return nil, err
			}
		}
	}
	for mode, h := range b.handlers {
		if err := registry.Register(mode, h); err != nil {
			return nil, err
		}
	}
	registry.Freeze()

	// -------- PASSWORDS --------
	hasher := b.hasher
	if hasher == nil {
		chain, err := newPasswordChain(cfg.Password)
		if err != nil {
			return nil, err
		}
		hasher = chain
	}
	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("hash dummy password: %w", err)
	}

	// -------- STORES --------
	policy := captcha.MatchExact
	if cfg.Captcha.CaseInsensitive {
		policy = captcha.MatchFold
	}
	captchaStore := b.captchaStore
	if captchaStore == nil {
		if b.redis != nil {
			captchaStore = captcha.NewRedisStore(b.redis, cfg.Captcha.RedisPrefix, policy).WithClock(clock)
		} else {
			captchaStore = captcha.NewMemoryStore(policy).WithClock(clock)
		}
	}

	tokenStore := b.tokenStore
	if tokenStore == nil {
		if b.redis != nil {
			tokenStore = session.NewRedisStore(b.redis, cfg.Token.RedisPrefix).WithClock(clock)
		} else {
			tokenStore = session.NewMemoryStore().WithClock(clock)
		}
	}

	codec, err := newTokenCodec(cfg.Token, clock)
	if err != nil {
		return nil, err
	}

	var renderer captcha.Renderer
	if cfg.Captcha.RenderImage {
		r := captcha.DefaultImageRenderer()
		r.Width = cfg.Captcha.ImageWidth
		r.Height = cfg.Captcha.ImageHeight
		renderer = r
	}

	engine := &Engine{
		config:       cfg,
		handlers:     registry,
		hasher:       hasher,
		dummyHash:    dummyHash,
		captchaStore: captchaStore,
		issuer: captcha.NewIssuer(captchaStore, renderer, captcha.IssuerConfig{
			TTL:      cfg.Captcha.TTL,
			Length:   cfg.Captcha.Length,
			Alphabet: cfg.Captcha.Alphabet,
		}).WithClock(clock),
		tokenStore: tokenStore,
		codec:      codec,
		metrics:    NewMetrics(cfg.Metrics),
		logger:     logger,
		clock:      clock,
	}

	if u, ok := hasher.(passwordUpgradeChecker); ok {
		engine.upgradeChecker = u
	}
	if u, ok := b.lookup.(PasswordUpdater); ok {
		engine.updater = u
	}

	if cfg.Security.EnableLoginThrottle {
		engine.rateLimiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:      cfg.Security.EnableIPThrottle,
			MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
			LoginCooldownDuration: cfg.Security.LoginCooldownDuration,
			Prefix:                cfg.Security.RedisPrefix,
		})
	}

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true

	return engine, nil
}

// NewPasswordHasher returns the hasher Build installs when none is supplied: argon2id,
// plus bcrypt verification when cfg.AcceptBcrypt is set.
func NewPasswordHasher(cfg PasswordConfig) (PasswordHasher, error) {
	chain, err := newPasswordChain(cfg)
	if err != nil {
		return nil, err
	}
	return chain, nil
}

func newPasswordChain(cfg PasswordConfig) (*password.Chain, error) {
	primary, err := password.NewArgon2(password.Config{
		Memory:           cfg.Memory,
		Time:             cfg.Time,
		Parallelism:      cfg.Parallelism,
		SaltLength:       cfg.SaltLength,
		KeyLength:        cfg.KeyLength,
		MinPasswordBytes: cfg.MinLength,
	})
	if err != nil {
		return nil, err
	}
	if !cfg.AcceptBcrypt {
		return password.NewChain(primary), nil
	}

	legacy, err := password.NewBcrypt(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	return password.NewChain(primary, legacy), nil
}

func newTokenCodec(cfg TokenConfig, now func() time.Time) (session.Codec, error) {
	if cfg.Format != TokenJWT {
		return session.OpaqueCodec{}, nil
	}

	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.SigningMethod),
		PrivateKey:    cloneBytes(cfg.PrivateKey),
		PublicKey:     cloneBytes(cfg.PublicKey),
		Issuer:        cfg.Issuer,
		Audience:      cfg.Audience,
		Leeway:        cfg.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	return session.JWTCodec{Manager: jm}, nil
}
