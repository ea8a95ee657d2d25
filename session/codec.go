package session

import (
	"errors"
	"time"

	"github.com/MrEthical07/tokengate/internal"
	"github.com/MrEthical07/tokengate/jwt"
)

// ErrMalformedToken is returned by [Codec.Resolve] for strings the codec did not mint.
var ErrMalformedToken = errors.New("malformed session token")

// Minted is a freshly created bearer token and the id a [Store] keeps for it.
type Minted struct {
	Token   string
	TokenID string
}

// Codec converts between bearer tokens and store token ids.
type Codec interface {
	Mint(principal string, issuedAt, expiresAt time.Time) (Minted, error)
	// Resolve returns the token id and, when the token carries one, the principal.
	Resolve(token string) (tokenID, principal string, err error)
}

// OpaqueCodec mints random bearer strings and stores only their SHA-256 digest.
type OpaqueCodec struct{}

func (OpaqueCodec) Mint(string, time.Time, time.Time) (Minted, error) {
	token, err := internal.NewOpaqueToken()
	if err != nil {
		return Minted{}, err
	}
	return Minted{Token: token, TokenID: internal.HashToken(token)}, nil
}

func (OpaqueCodec) Resolve(token string) (string, string, error) {
	// 32 random bytes in unpadded base64url
	if len(token) != 43 {
		return "", "", ErrMalformedToken
	}
	return internal.HashToken(token), "", nil
}

// JWTCodec mints signed tokens whose jti is a random token id.
type JWTCodec struct {
	Manager *jwt.Manager
}

func (c JWTCodec) Mint(principal string, issuedAt, expiresAt time.Time) (Minted, error) {
	id, err := internal.NewTokenID()
	if err != nil {
		return Minted{}, err
	}
	token, err := c.Manager.CreateSession(principal, id.String(), issuedAt, expiresAt)
	if err != nil {
		return Minted{}, err
	}
	return Minted{Token: token, TokenID: id.String()}, nil
}

func (c JWTCodec) Resolve(token string) (string, string, error) {
	claims, err := c.Manager.ParseSession(token)
	if err != nil {
		return "", "", errors.Join(ErrMalformedToken, err)
	}
	if _, err := internal.ParseTokenID(claims.ID); err != nil {
		return "", "", ErrMalformedToken
	}
	return claims.ID, claims.Subject, nil
}
