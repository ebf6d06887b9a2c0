package auth

import (
	"context"
	"net/http"
	"strings"

	"social-chat/domain/chat"
	"social-chat/errors"
)

type contextKey string

const principalKey contextKey = "principal"

type TokenValidator interface {
	ValidateToken(token string) (chat.Principal, error)
}

// Authenticate extracts the principal from an HTTP request.
// Browsers cannot set headers on a websocket upgrade, so the token query parameter is accepted too.
func Authenticate(r *http.Request, tokens TokenValidator) (chat.Principal, error) {
	tokenStr := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if tokenStr == "" {
		tokenStr = r.URL.Query().Get("token")
	}
	if tokenStr == "" {
		return chat.Principal{}, errors.ErrInvalidToken
	}
	return tokens.ValidateToken(tokenStr)
}

// Middleware rejects unauthenticated requests and injects the principal into the context.
func Middleware(tokens TokenValidator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := Authenticate(r, tokens)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func WithPrincipal(ctx context.Context, p chat.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (chat.Principal, bool) {
	p, ok := ctx.Value(principalKey).(chat.Principal)
	return p, ok
}
