package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair (EdDSA).
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
)

const (
	minHMACSecret       = 32
	maxLeeway           = 2 * time.Minute
	defaultMaxFutureIAT = 10 * time.Minute
)

var (
	ErrUnsupportedMethod = errors.New("jwt: unsupported signing method")
	ErrInvalidKey        = errors.New("jwt: invalid key")
	ErrUnknownKeyID      = errors.New("jwt: unknown kid")
	ErrIncompleteClaims  = errors.New("jwt: token lacks subject or id")
)

// Config holds signing keys and validation rules.
//
// For Ed25519 the keys may be raw (32 or 64 bytes) or PEM. PublicKey may be
// omitted when PrivateKey is set. VerifyKeys switches verification to kid lookup;
// KeyID is stamped on every minted token and must then be one of its keys.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
	// Now overrides the clock used for exp, nbf and iat checks.
	Now func() time.Time
}

// Manager mints and verifies the signed tokens handed out at login.
type Manager struct {
	method  jwt.SigningMethod
	sign    any
	verify  any
	keyring map[string]any
	kid     string

	issuer    string
	audience  string
	maxFuture time.Duration
	now       func() time.Time
	parser    *jwt.Parser
}

// SessionClaims are the claims carried by a token. Subject is the principal and
// ID is the token id held by the token store.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// NewManager resolves every key in cfg up front so a bad key fails at startup.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, fmt.Errorf("jwt: leeway must be within [0, %s]", maxLeeway)
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = defaultMaxFutureIAT
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("jwt: MaxFutureIAT must be within (0, 24h]")
	}

	m := &Manager{
		kid:       strings.TrimSpace(cfg.KeyID),
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		maxFuture: cfg.MaxFutureIAT,
		now:       cfg.Now,
	}
	if m.now == nil {
		m.now = time.Now
	}

	var toVerifyKey func([]byte) (any, error)
	switch cfg.SigningMethod {
	case MethodHS256:
		m.method = jwt.SigningMethodHS256
		toVerifyKey = func(b []byte) (any, error) {
			if len(b) < minHMACSecret {
				return nil, fmt.Errorf("%w: hs256 secret shorter than %d bytes", ErrInvalidKey, minHMACSecret)
			}
			return b, nil
		}
		secret, err := toVerifyKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		m.sign, m.verify = secret, secret
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		toVerifyKey = func(b []byte) (any, error) { return edPublicKey(b) }
		if len(cfg.PrivateKey) > 0 {
			priv, err := edPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.sign, m.verify = priv, priv.Public()
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := edPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			m.verify = pub
		}
		if m.verify == nil && len(cfg.VerifyKeys) == 0 {
			return nil, fmt.Errorf("%w: ed25519 needs a public, private or verify key", ErrInvalidKey)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, cfg.SigningMethod)
	}

	if len(cfg.VerifyKeys) > 0 {
		m.keyring = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, fmt.Errorf("%w: empty kid in verify keys", ErrInvalidKey)
			}
			key, err := toVerifyKey(raw)
			if err != nil {
				return nil, fmt.Errorf("kid %q: %w", kid, err)
			}
			m.keyring[kid] = key
		}
		if m.kid != "" {
			if _, ok := m.keyring[m.kid]; !ok {
				return nil, fmt.Errorf("%w: KeyID %q not in verify keys", ErrUnknownKeyID, m.kid)
			}
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(m.now),
	}
	if cfg.RequireIAT {
		opts = append(opts, jwt.WithIssuedAt())
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	m.parser = jwt.NewParser(opts...)

	return m, nil
}

// CanSign reports whether the manager holds a signing key. A verify-only manager
// can still parse tokens minted elsewhere.
func (m *Manager) CanSign() bool {
	return m.sign != nil
}

// CreateSession signs a token for principal whose jti is tokenID.
func (m *Manager) CreateSession(principal, tokenID string, issuedAt, expiresAt time.Time) (string, error) {
	if principal == "" || tokenID == "" {
		return "", ErrIncompleteClaims
	}
	if !expiresAt.After(issuedAt) {
		return "", errors.New("jwt: expiry must follow issue time")
	}
	if m.sign == nil {
		return "", fmt.Errorf("%w: manager is verify-only", ErrInvalidKey)
	}

	claims := SessionClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   principal,
		ID:        tokenID,
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	tok := jwt.NewWithClaims(m.method, claims)
	if m.kid != "" {
		tok.Header["kid"] = m.kid
	}
	return tok.SignedString(m.sign)
}

// ParseSession verifies the signature and registered claims of raw.
func (m *Manager) ParseSession(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	tok, err := m.parser.ParseWithClaims(raw, claims, m.keyFor)
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrIncompleteClaims
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(m.now().Add(m.maxFuture)) {
		return nil, fmt.Errorf("%w: iat too far in the future", jwt.ErrTokenInvalidClaims)
	}
	return claims, nil
}

func (m *Manager) keyFor(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	switch {
	case m.keyring != nil:
		if key, ok := m.keyring[kid]; ok {
			return key, nil
		}
		return nil, ErrUnknownKeyID
	case m.kid != "" && kid != m.kid:
		return nil, ErrUnknownKeyID
	case m.verify == nil:
		return nil, ErrInvalidKey
	}
	return m.verify, nil
}

func edPrivateKey(b []byte) (ed25519.PrivateKey, error) {
	if len(b) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(b), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("%w: ed25519 private key: %v", ErrInvalidKey, err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ed25519 private key", ErrInvalidKey)
	}
	return key, nil
}

func edPublicKey(b []byte) (ed25519.PublicKey, error) {
	if len(b) == ed25519.PublicKeySize {
		return ed25519.PublicKey(b), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("%w: ed25519 public key: %v", ErrInvalidKey, err)
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ed25519 public key", ErrInvalidKey)
	}
	return key, nil
}
