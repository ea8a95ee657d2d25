package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"
)

// FuzzParseSession checks the parser never panics and never accepts a token
// that could not be mapped back to a stored token.
func FuzzParseSession(f *testing.F) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		f.Fatal(err)
	}
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		Issuer:        "tokengate",
		RequireIAT:    true,
		KeyID:         "primary",
		VerifyKeys:    map[string][]byte{"primary": pub},
	})
	if err != nil {
		f.Fatal(err)
	}

	now := time.Now()
	good, err := m.CreateSession("alice", "5f0c", now, now.Add(time.Hour))
	if err != nil {
		f.Fatal(err)
	}
	parts := strings.Split(good, ".")

	for _, seed := range []string{
		good,
		parts[0] + "." + parts[1] + ".",
		parts[0] + ".e30." + parts[2],
		"",
		"..",
		"eyJhbGciOiJub25lIn0.eyJzdWIiOiJhbGljZSJ9.",
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		claims, err := m.ParseSession(raw)
		if err != nil {
			return
		}
		if claims.Subject == "" || claims.ID == "" || claims.Issuer != "tokengate" {
			t.Fatalf("accepted unusable claims %+v", claims)
		}
	})
}
