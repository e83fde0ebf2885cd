package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/example/threaded-comments/internal/platform/api"
	"github.com/example/threaded-comments/internal/platform/httpserver"
)

// IsStaff reports whether the role in ctx may moderate any comment.
func IsStaff(ctx context.Context) bool {
	role, _ := RoleFromContext(ctx)
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "admin", "staff":
		return true
	}
	return false
}

// RequireStaff allows request only if RequireUser already injected role=admin or role=staff.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsStaff(r.Context()) {
			api.Forbidden(w, api.CodeForbidden, "staff role required",
				httpserver.RequestIDFromContext(r.Context()))
			return
		}
		next.ServeHTTP(w, r)
	})
}
