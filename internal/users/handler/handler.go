package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"lagerkoll/internal/platform/middleware"
	"lagerkoll/internal/users/models"
	dErrors "lagerkoll/pkg/domain-errors"
	"lagerkoll/pkg/platform/httputil"
	"lagerkoll/pkg/requestcontext"
)

// Service is the account surface the handler needs.
type Service interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	Create(ctx context.Context, req models.CreateUserRequest) (*models.User, error)
	Update(ctx context.Context, id uuid.UUID, req models.UpdateUserRequest) (*models.User, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Handler serves sign-in and account management.
type Handler struct {
	users     Service
	validator middleware.TokenValidator
	logger    *slog.Logger
}

func New(users Service, validator middleware.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{users: users, validator: validator, logger: logger}
}

// Register mounts /api/auth and the admin-only /api/users routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/auth/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Get("/api/auth/me", h.handleMe)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin, h.logger))
			r.Get("/api/users", h.handleList)
			r.Post("/api/users", h.handleCreate)
			r.Get("/api/users/{id}", h.handleGet)
			r.Put("/api/users/{id}", h.handleUpdate)
			r.Delete("/api/users/{id}", h.handleDelete)
		})
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "login", err)
		return
	}
	res, err := h.users.Login(r.Context(), req)
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	userID := requestcontext.UserID(r.Context())
	if userID == uuid.Nil {
		// admin-token callers have a role but no account
		h.fail(w, r, "me", dErrors.New(dErrors.CodeNotFound, "no account is bound to this credential"))
		return
	}
	user, err := h.users.Get(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "me", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.fail(w, r, "list users", err)
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	httputil.WriteJSON(w, http.StatusOK, users)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.URLID(r)
	if err != nil {
		h.fail(w, r, "get user", err)
		return
	}
	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get user", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "create user", err)
		return
	}
	user, err := h.users.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, "create user", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.URLID(r)
	if err != nil {
		h.fail(w, r, "update user", err)
		return
	}
	var req models.UpdateUserRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "update user", err)
		return
	}
	user, err := h.users.Update(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, "update user", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.URLID(r)
	if err != nil {
		h.fail(w, r, "delete user", err)
		return
	}
	if err := h.users.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail logs at warn for client errors and error for internal ones, then
// writes the envelope.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	level := slog.LevelWarn
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, op+" failed",
		"request_id", middleware.GetRequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
