package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"lagerkoll/internal/admin/models"
	"lagerkoll/internal/admin/service"
	"lagerkoll/internal/admin/spreadsheet"
	"lagerkoll/internal/platform/middleware"
	dErrors "lagerkoll/pkg/domain-errors"
	"lagerkoll/pkg/platform/httputil"
	"lagerkoll/pkg/requestcontext"
)

// maxUploadBytes caps an uploaded workbook.
const maxUploadBytes = 10 << 20

type Service interface {
	VerifyPassword(ctx context.Context, req models.PasswordConfirmation) error
	ClearAllData(ctx context.Context, req models.PasswordConfirmation) error
	Import(ctx context.Context, resource models.Resource, r io.Reader) (*models.ImportResult, error)
	Export(ctx context.Context, resource models.Resource, w io.Writer) error
}

// Handler serves /api/admin. Every route requires the admin role.
type Handler struct {
	admin     Service
	validator middleware.TokenValidator
	logger    *slog.Logger
}

func New(admin Service, validator middleware.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{admin: admin, validator: validator, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Use(middleware.RequireRole(middleware.RoleAdmin, h.logger))
		r.Post("/verify-password", h.handleVerifyPassword)
		r.Post("/clear-all-data", h.handleClearAllData)
		r.Post("/import/{resource}", h.handleImport)
		r.Get("/export/{resource}", h.handleExport)
	})
}

func (h *Handler) handleVerifyPassword(w http.ResponseWriter, r *http.Request) {
	var req models.PasswordConfirmation
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "verify password", err)
		return
	}
	if err := h.admin.VerifyPassword(r.Context(), req); err != nil {
		h.fail(w, r, "verify password", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

func (h *Handler) handleClearAllData(w http.ResponseWriter, r *http.Request) {
	var req models.PasswordConfirmation
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "clear all data", err)
		return
	}
	if err := h.admin.ClearAllData(r.Context(), req); err != nil {
		h.fail(w, r, "clear all data", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleImport expects a multipart form with the workbook in field "file".
func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	resource, err := models.ParseResource(chi.URLParam(r, "resource"))
	if err != nil {
		h.fail(w, r, "import", err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, "import", dErrors.Wrap(err, dErrors.CodeBadRequest, `multipart field "file" is required`))
		return
	}
	defer file.Close()

	res, err := h.admin.Import(r.Context(), resource, file)
	if err != nil {
		h.fail(w, r, "import", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// handleExport renders into a buffer first so a failure can still be
// reported as a JSON error.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	resource, err := models.ParseResource(chi.URLParam(r, "resource"))
	if err != nil {
		h.fail(w, r, "export", err)
		return
	}
	var buf bytes.Buffer
	if err := h.admin.Export(r.Context(), resource, &buf); err != nil {
		h.fail(w, r, "export", err)
		return
	}
	name := service.ExportFilename(resource, requestcontext.Now(r.Context()))
	w.Header().Set("Content-Type", spreadsheet.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

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
