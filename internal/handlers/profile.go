package handlers

import (
	"net/http"
	"strings"

	"github.com/storyforge/api/internal/platform/auth"
	"github.com/storyforge/api/internal/platform/httpx"
	"github.com/storyforge/api/internal/services"
)

// ProfileMiddleware provisions the caller's account row before mutating
// handlers run. Books and orders reference the account by foreign key, so a
// first-time caller whose first request is a create must have the row in
// place. Reads pass through untouched; the profile endpoint itself provisions
// on read.
func ProfileMiddleware(users services.UserService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut:
			default:
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			identity, ok := auth.IdentityFromContext(ctx)
			if users == nil || !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
				// Authentication runs earlier in the chain and rejects
				// anonymous callers on its own.
				next.ServeHTTP(w, r)
				return
			}

			_, err := users.EnsureProfile(ctx, services.EnsureProfileCommand{
				UserID: strings.TrimSpace(identity.UID),
				Email:  strings.TrimSpace(identity.Email),
				Roles:  identity.Roles,
			})
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("profile_error", "failed to resolve profile", http.StatusInternalServerError))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
