package utils

import (
	"context"
	"net/http"

	"github.com/Iemontine/microblog/apperr"
)

type contextKey string

const (
	UserIDKey  contextKey = "userID"
	sessionKey contextKey = "session"
)

// GetUserIDFromContext returns the signed-in account id.
func GetUserIDFromContext(ctx context.Context) (uint, error) {
	userID, ok := ctx.Value(UserIDKey).(uint)
	if !ok || userID == 0 {
		return 0, apperr.New(apperr.Unauthenticated, "sign in required")
	}
	return userID, nil
}

// SessionFromContext returns the session loaded by SessionManager.Middleware,
// or a fresh one.
func SessionFromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionKey).(*Session); ok {
		return s
	}
	return &Session{}
}

// Middleware loads the session cookie into the request context.
func (m *SessionManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.Load(r)
		ctx := context.WithValue(r.Context(), sessionKey, s)
		if s.AccountID != 0 {
			ctx = context.WithValue(ctx, UserIDKey, s.AccountID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthMiddleware rejects requests without a signed-in account.
func AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := GetUserIDFromContext(r.Context()); err != nil {
			WriteError(w, err)
			return
		}
		next(w, r)
	}
}
