package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storyforge/api/internal/platform/auth"
	"github.com/storyforge/api/internal/platform/httpx"
	"github.com/storyforge/api/internal/services"
)

// MeHandlers exposes the authenticated profile endpoint.
type MeHandlers struct {
	authn *auth.Authenticator
	users services.UserService
}

// NewMeHandlers constructs a new MeHandlers instance.
func NewMeHandlers(authn *auth.Authenticator, users services.UserService) *MeHandlers {
	return &MeHandlers{authn: authn, users: users}
}

// Routes registers the /me endpoints.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/", h.getProfile)
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	user, err := h.users.EnsureProfile(ctx, services.EnsureProfileCommand{
		UserID: strings.TrimSpace(identity.UID),
		Email:  strings.TrimSpace(identity.Email),
		Roles:  identity.Roles,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_error", "failed to resolve profile", http.StatusInternalServerError))
		return
	}

	httpx.WriteSuccess(w, http.StatusOK, "", userPayload{
		ID:        user.ID,
		Email:     user.Email,
		Firstname: user.Firstname,
		Lastname:  user.Lastname,
		Roles:     user.Roles,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	})
}

type userPayload struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Firstname string   `json:"firstname,omitempty"`
	Lastname  string   `json:"lastname,omitempty"`
	Roles     []string `json:"roles"`
	CreatedAt string   `json:"created_at"`
}
