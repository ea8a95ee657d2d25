package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Prefix = "$argon2id$"

// DefaultMaxPasswordBytes caps input length when Config.MaxPasswordBytes is zero.
const DefaultMaxPasswordBytes = 1024

// Lower bounds for both configured and stored parameters.
const (
	minMemoryKB   = 8 * 1024
	minSaltLength = 16
	minKeyLength  = 16
)

var b64 = base64.StdEncoding

// Config holds Argon2id cost parameters. MinPasswordBytes applies to Hash only,
// so short passwords stored before the limit was raised still verify.
type Config struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MinPasswordBytes int
	MaxPasswordBytes int
}

// DefaultConfig returns the parameters used when none are configured.
func DefaultConfig() Config {
	return Config{
		Memory:           64 * 1024,
		Time:             3,
		Parallelism:      2,
		SaltLength:       16,
		KeyLength:        32,
		MinPasswordBytes: 8,
		MaxPasswordBytes: DefaultMaxPasswordBytes,
	}
}

func (c Config) validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("argon2 memory must be >= %d KiB", minMemoryKB)
	case c.Time < 1:
		return errors.New("argon2 time must be >= 1")
	case c.Parallelism < 1:
		return errors.New("argon2 parallelism must be >= 1")
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("argon2 salt length must be >= %d", minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("argon2 key length must be >= %d", minKeyLength)
	case c.MinPasswordBytes < 0:
		return errors.New("minimum password length must be >= 0")
	case c.MaxPasswordBytes < c.MinPasswordBytes:
		return errors.New("maximum password length must be >= minimum")
	}
	return nil
}

// Argon2 produces and checks PHC strings of the form
// $argon2id$v=19$m=<KiB>,t=<passes>,p=<lanes>$<salt>$<key>.
type Argon2 struct {
	cfg Config
}

// NewArgon2 returns an error when cfg is below the minimum cost parameters.
func NewArgon2(cfg Config) (*Argon2, error) {
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2{cfg: cfg}, nil
}

// Hash derives a key from the raw password bytes under a fresh random salt.
func (a *Argon2) Hash(password string) (string, error) {
	if n := len(password); n < a.cfg.MinPasswordBytes {
		return "", fmt.Errorf("%w: at least %d bytes", ErrPasswordTooShort, a.cfg.MinPasswordBytes)
	} else if n > a.cfg.MaxPasswordBytes {
		return "", fmt.Errorf("%w: at most %d bytes", ErrPasswordTooLong, a.cfg.MaxPasswordBytes)
	}

	h := argon2Hash{
		memory: a.cfg.Memory,
		passes: a.cfg.Time,
		lanes:  a.cfg.Parallelism,
		salt:   make([]byte, a.cfg.SaltLength),
	}
	if _, err := rand.Read(h.salt); err != nil {
		return "", err
	}
	h.key = h.derive(password, a.cfg.KeyLength)
	return h.String(), nil
}

// Verify re-derives the key with the stored parameters. A malformed hash is an
// error; a mismatch is (false, nil).
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	h, err := parseArgon2(encodedHash)
	if err != nil {
		return false, err
	}
	// Nothing this long was ever hashed here; skip the derivation.
	if len(password) > a.cfg.MaxPasswordBytes {
		return false, nil
	}
	got := h.derive(password, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

// Handles reports whether encodedHash is an argon2id PHC string.
func (a *Argon2) Handles(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, argon2Prefix)
}

// NeedsUpgrade reports whether encodedHash is cheaper than the configured cost
// or has a different key length.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	h, err := parseArgon2(encodedHash)
	if err != nil {
		return false, err
	}
	weaker := h.memory < a.cfg.Memory || h.passes < a.cfg.Time || h.lanes < a.cfg.Parallelism
	return weaker || uint32(len(h.key)) != a.cfg.KeyLength, nil
}

type argon2Hash struct {
	memory uint32
	passes uint32
	lanes  uint8
	salt   []byte
	key    []byte
}

func (h argon2Hash) derive(password string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), h.salt, h.passes, h.memory, h.lanes, keyLen)
}

func (h argon2Hash) String() string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix, argon2.Version, h.memory, h.passes, h.lanes,
		b64.EncodeToString(h.salt), b64.EncodeToString(h.key))
}

func parseArgon2(s string) (argon2Hash, error) {
	var h argon2Hash
	rest, ok := strings.CutPrefix(s, argon2Prefix)
	if !ok {
		return h, ErrMalformedHash
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 4 {
		return h, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[0], "v=%d", &version); err != nil {
		return h, fmt.Errorf("%w: version %q", ErrMalformedHash, fields[0])
	}
	if version != argon2.Version {
		return h, fmt.Errorf("%w: argon2 version %d", ErrUnsupportedHash, version)
	}

	// Sscanf tolerates trailing input, so re-encode and compare to reject it.
	if _, err := fmt.Sscanf(fields[1], "m=%d,t=%d,p=%d", &h.memory, &h.passes, &h.lanes); err != nil ||
		fields[1] != fmt.Sprintf("m=%d,t=%d,p=%d", h.memory, h.passes, h.lanes) {
		return h, fmt.Errorf("%w: parameters %q", ErrMalformedHash, fields[1])
	}
	if h.memory < minMemoryKB || h.passes < 1 || h.lanes < 1 {
		return h, fmt.Errorf("%w: parameters below minimum", ErrMalformedHash)
	}

	var err error
	if h.salt, err = b64.DecodeString(fields[2]); err != nil || len(h.salt) < minSaltLength {
		return h, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if h.key, err = b64.DecodeString(fields[3]); err != nil || len(h.key) == 0 {
		return h, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	return h, nil
}
