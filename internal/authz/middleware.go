package authz

import (
	"log/slog"
	"net/http"

	"github.com/palisade-authz/palisade/internal/platform/httpx"
	"github.com/palisade-authz/palisade/internal/shared"
)

// Middleware wires the resolver into chi route groups.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// Require denies the request unless the caller holds a role permitting
// (resource, action) in their domain. Denials are generic: the response
// never reveals which role or policy check failed.
func (m Middleware) Require(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := shared.IdentityFromContext(r.Context())
			if !ok || ident.UserID == "" {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			allowed, err := m.Resolver.Authorize(r.Context(), ident.UserID, ident.Domain, resource, action)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authorization check failed",
						slog.String("resource", resource), slog.String("action", action), slog.Any("error", err))
				}
				// Fail closed.
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			if !allowed {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
