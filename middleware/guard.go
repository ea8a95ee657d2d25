package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/tokengate"
)

// TokenResolver maps a bearer token to the session it stands for. *tokengate.Engine
// satisfies it.
type TokenResolver interface {
	Lookup(ctx context.Context, token string) (*tokengate.SessionToken, error)
}

type sessionKey struct{}

// SessionFromContext returns the session injected by [RequireToken].
func SessionFromContext(ctx context.Context) (*tokengate.SessionToken, bool) {
	s, ok := ctx.Value(sessionKey{}).(*tokengate.SessionToken)
	return s, ok && s != nil
}

// RequireToken lets a request through only when its bearer token is the
// principal's active token. Every rejection is the same bare 401.
func RequireToken(tokens TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok || tokens == nil {
				unauthorized(w)
				return
			}
			s, err := tokens.Lookup(r.Context(), raw)
			if err != nil {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, s)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="tokengate"`)
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
}

// BearerToken extracts the token from an Authorization header value. The scheme
// is matched case-insensitively.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
