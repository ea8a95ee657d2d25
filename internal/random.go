package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	opaqueTokenSize = 32
	tokenIDSize     = 16
)

// CaptchaAlphabet omits glyphs that are easy to confuse when read off an image.
const CaptchaAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DigitAlphabet is the only alphabet the image renderer can draw.
const DigitAlphabet = "0123456789"

// TokenID is the identifier stored for a principal's active session.
type TokenID [tokenIDSize]byte

func NewTokenID() (TokenID, error) {
	var id TokenID
	_, err := rand.Read(id[:])
	return id, err
}

func (t TokenID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(t[:])
}

func ParseTokenID(s string) (TokenID, error) {
	var id TokenID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid token id size")
	}

	copy(id[:], raw)
	return id, nil
}

// NewOpaqueToken returns a bearer token carrying 256 bits of entropy.
func NewOpaqueToken() (string, error) {
	var raw [opaqueTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashToken derives the storage key for an opaque token so that a store dump does
// not hand out usable bearer credentials.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewCode draws length symbols uniformly from alphabet.
func NewCode(alphabet string, length int) (string, error) {
	if length < 4 || length > 16 {
		return "", errors.New("invalid code length")
	}
	if len(alphabet) < 2 {
		return "", errors.New("invalid code alphabet")
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}

	code := b.String()
	if len(code) != length {
		return "", fmt.Errorf("invalid code generation length")
	}
	return code, nil
}
