package web

import (
	"context"
	"github.com/relaydesk/taskrelay/custom_errors"
	"net/http"
	"strings"
	"time"
)

type ctxKey int

const userIDKey ctxKey = iota

func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey).(int64)
	return id
}

// dashboardAuth accepts requests carrying a valid auth cookie.
func (handler *HttpRouteHandler) dashboardAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookie)
		if err != nil {
			writeError(w, custom_errors.ErrUnauthorized)
			return
		}
		userID, ok := parseAuthToken(cookie.Value, handler.secretKey, time.Now())
		if !ok {
			writeError(w, custom_errors.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

// workerAuth resolves the bearer API key to its user. An unknown key is terminal.
func (handler *HttpRouteHandler) workerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		apiKey, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(apiKey) == "" {
			writeError(w, custom_errors.ErrUnauthorized)
			return
		}
		user, err := handler.users.FindByAPIKey(r.Context(), strings.TrimSpace(apiKey))
		if err != nil {
			writeError(w, err)
			return
		}
		if user == nil {
			writeError(w, custom_errors.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, user.ID)))
	})
}
