package middleware

import (
	"net/http"
	"slices"

	"github.com/trialhub/trialhub-backend/api/responses"
	"github.com/trialhub/trialhub-backend/pkg/enums"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
	"github.com/trialhub/trialhub-backend/pkg/logger"
)

// RequireRole admits only callers acting as one of allowed. It must run after Auth.
func RequireRole(logg *logger.Logger, allowed ...enums.ActorRole) func(http.Handler) http.Handler {
	for _, role := range allowed {
		if !role.IsValid() {
			panic("middleware: unknown role " + string(role))
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if slices.Contains(allowed, role) {
				next.ServeHTTP(w, r)
				return
			}
			err := pkgerrors.Newf(pkgerrors.CodeForbidden, "role %q not permitted for this action", role).
				WithDetails(map[string]any{"allowed_roles": allowed})
			responses.WriteError(r.Context(), logg, w, err)
		})
	}
}
