package server

import (
	"net/http"
)

// Authenticator decides whether an upgrade request may join. It returns the
// user ID the session is known by.
type Authenticator interface {
	Name() string
	Authenticate(r *http.Request) (userID string, err error)
}

// TokenAuthMiddleware accepts requests whose "token" query parameter (or
// bearer Authorization header) is one of a fixed set of tokens.
type TokenAuthMiddleware struct {
	tokens map[string]struct{}
}

// NewTokenAuthMiddleware returns nil when tokens is empty, which disables
// authentication.
func NewTokenAuthMiddleware(tokens []string) *TokenAuthMiddleware {
	if len(tokens) == 0 {
		return nil
	}
	m := &TokenAuthMiddleware{tokens: make(map[string]struct{}, len(tokens))}
	for _, t := range tokens {
		m.tokens[t] = struct{}{}
	}
	return m
}

func (m *TokenAuthMiddleware) Name() string {
	return "TokenAuthMiddleware"
}

func (m *TokenAuthMiddleware) Authenticate(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
			token = h[7:]
		}
	}

	if _, ok := m.tokens[token]; !ok || token == "" {
		return "", ErrUnauthorized
	}

	// a user may be named explicitly, otherwise the session ID is used
	return r.URL.Query().Get("user"), nil
}

// anonymous lets every request in.
type anonymous struct{}

func (anonymous) Name() string { return "anonymous" }

func (anonymous) Authenticate(r *http.Request) (string, error) {
	return r.URL.Query().Get("user"), nil
}
