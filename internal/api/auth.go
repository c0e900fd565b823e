package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/clipstream/clipstream/internal/news"
)

// TokenVerifier resolves a bearer token to a user ID. The identity provider
// itself is an external system; implementations only translate its tokens.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

var errUnknownToken = errors.New("unknown token")

// StaticVerifier resolves tokens from a fixed table, typically loaded from
// configuration.
type StaticVerifier struct {
	tokens map[string]string
}

// NewStaticVerifier builds a verifier over a token -> user ID table.
func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	return &StaticVerifier{tokens: tokens}
}

// Verify implements TokenVerifier.
func (v *StaticVerifier) Verify(token string) (string, error) {
	userID, ok := v.tokens[token]
	if !ok {
		return "", errUnknownToken
	}
	return userID, nil
}

// permission declares what a route demands beyond routing.
type permission struct {
	authenticate bool
	ownerOnly    bool
}

// permissions is the authorization table for the v1 API. Guards and handlers
// consult this table; no handler branches on its own method name.
var permissions = map[string]permission{
	"POST /v1/articles":        {authenticate: true},
	"GET /v1/articles":         {},
	"GET /v1/articles/{id}":    {},
	"DELETE /v1/articles/{id}": {authenticate: true, ownerOnly: true},
	"POST /v1/channels":        {authenticate: true},
	"GET /v1/channels":         {},
	"GET /v1/channels/{id}":    {},
	"DELETE /v1/channels/{id}": {authenticate: true, ownerOnly: true},
}

type userIDKey struct{}

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func userIDFrom(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}

// guard wraps a handler with the route's declared permission. Authenticated
// routes reject requests whose bearer token does not resolve to a user.
func (s *Server) guard(route string, next http.HandlerFunc) http.HandlerFunc {
	perm := permissions[route]
	return func(w http.ResponseWriter, r *http.Request) {
		if perm.authenticate {
			userID, err := s.verifier.Verify(bearerToken(r))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			r = r.WithContext(withUserID(r.Context(), userID))
		}
		next(w, r)
	}
}

// checkOwner enforces the route's ownership rule. Records without an owner
// cannot be deleted by anyone.
func checkOwner(route, requesterID, ownerID string) error {
	if !permissions[route].ownerOnly {
		return nil
	}
	if ownerID == "" || ownerID != requesterID {
		return news.ErrForbidden
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
