package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/learnkit/authn"
)

type identityContextKey struct{}

// IdentityFromContext returns the identity SessionLoader attached, if any.
func IdentityFromContext(ctx context.Context) (*authn.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*authn.Identity)
	return id, ok && id != nil
}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id *authn.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// SessionResolver is the part of the Engine SessionLoader needs.
type SessionResolver interface {
	ResolveSession(ctx context.Context, sessionID string) (*authn.Identity, error)
}

// SessionLoader resolves the cookieName cookie on every request.
func SessionLoader(engine SessionResolver, cookieName string, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" || engine == nil {
				next.ServeHTTP(w, r)
				return
			}

			id, err := engine.ResolveSession(r.Context(), cookie.Value)
			switch {
			case err == nil:
				r = r.WithContext(WithIdentity(r.Context(), id))
			case errors.Is(err, authn.ErrSessionNotFound):
			case errors.Is(err, authn.ErrSessionSuperseded):
				logger.Debug("superseded session presented", zap.String("request_id", authn.RequestIDFromContext(r.Context())))
			default:
				logger.Warn("session resolution failed", zap.Error(err))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireLogin answers anonymous requests with a 302 to loginURL, passing
// the requested path as "next".
func RequireLogin(loginURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := IdentityFromContext(r.Context()); !ok {
				target := loginURL + "?next=" + url.QueryEscape(r.URL.RequestURI())
				http.Redirect(w, r, target, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
