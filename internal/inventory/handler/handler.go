package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"lagerkoll/internal/inventory/models"
	"lagerkoll/internal/platform/middleware"
	dErrors "lagerkoll/pkg/domain-errors"
	"lagerkoll/pkg/platform/httputil"
)

// Service is the warehouse surface the handler needs.
type Service interface {
	ListArticles(ctx context.Context) ([]*models.Article, error)
	GetArticle(ctx context.Context, id uuid.UUID) (*models.Article, error)
	CreateArticle(ctx context.Context, req models.CreateArticleRequest) (*models.Article, error)
	UpdateArticle(ctx context.Context, id uuid.UUID, req models.UpdateArticleRequest) (*models.Article, error)
	DeleteArticle(ctx context.Context, id uuid.UUID) error

	ListOrderLines(ctx context.Context, filter models.OrderLineFilter) ([]*models.OrderLine, error)
	GetOrderLine(ctx context.Context, id uuid.UUID) (*models.OrderLine, error)
	CreateOrderLine(ctx context.Context, req models.CreateOrderLineRequest) (*models.OrderLine, error)
	UpdateOrderLine(ctx context.Context, id uuid.UUID, req models.UpdateOrderLineRequest) (*models.OrderLine, error)
	DeleteOrderLine(ctx context.Context, id uuid.UUID) error
	MarkInventoried(ctx context.Context, id uuid.UUID) (*models.OrderLine, error)

	ListCounts(ctx context.Context, filter models.InventoryCountFilter) ([]*models.InventoryCount, error)
	GetCount(ctx context.Context, id uuid.UUID) (*models.InventoryCount, error)
	CreateCount(ctx context.Context, req models.CreateInventoryCountRequest) (*models.InventoryCount, error)
	UpdateCount(ctx context.Context, id uuid.UUID, req models.UpdateInventoryCountRequest) (*models.InventoryCount, error)
	DeleteCount(ctx context.Context, id uuid.UUID) error
}

// Handler serves the warehouse REST resources to any signed-in user.
type Handler struct {
	inventory Service
	validator middleware.TokenValidator
	logger    *slog.Logger
}

func New(inventory Service, validator middleware.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{inventory: inventory, validator: validator, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))

		r.Route("/api/articles", func(r chi.Router) {
			r.Get("/", h.handleListArticles)
			r.Post("/", h.handleCreateArticle)
			r.Get("/{id}", h.handleGetArticle)
			r.Put("/{id}", h.handleUpdateArticle)
			r.Delete("/{id}", h.handleDeleteArticle)
		})
		r.Route("/api/order-lines", func(r chi.Router) {
			r.Get("/", h.handleListOrderLines)
			r.Post("/", h.handleCreateOrderLine)
			r.Get("/{id}", h.handleGetOrderLine)
			r.Put("/{id}", h.handleUpdateOrderLine)
			r.Delete("/{id}", h.handleDeleteOrderLine)
			r.Post("/{id}/inventory", h.handleMarkInventoried)
		})
		r.Route("/api/inventory-counts", func(r chi.Router) {
			r.Get("/", h.handleListCounts)
			r.Post("/", h.handleCreateCount)
			r.Get("/{id}", h.handleGetCount)
			r.Put("/{id}", h.handleUpdateCount)
			r.Delete("/{id}", h.handleDeleteCount)
		})
	})
}

// Articles

func (h *Handler) handleListArticles(w http.ResponseWriter, r *http.Request) {
	articles, err := h.inventory.ListArticles(r.Context())
	respond(h, w, r, "list articles", http.StatusOK, nonNil(articles), err)
}

func (h *Handler) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	withID(h, w, r, "get article", func(id uuid.UUID) {
		a, err := h.inventory.GetArticle(r.Context(), id)
		respond(h, w, r, "get article", http.StatusOK, a, err)
	})
}

func (h *Handler) handleCreateArticle(w http.ResponseWriter, r *http.Request) {
	var req models.CreateArticleRequest
	if !h.decode(w, r, "create article", &req) {
		return
	}
	a, err := h.inventory.CreateArticle(r.Context(), req)
	respond(h, w, r, "create article", http.StatusCreated, a, err)
}

func (h *Handler) handleUpdateArticle(w http.ResponseWriter, r *http.Request) {
	withID(h, w, r, "update article", func(id uuid.UUID) {
		var req models.UpdateArticleRequest
		if !h.decode(w, r, "update article", &req) {
			return
		}
		a, err := h.inventory.UpdateArticle(r.Context(), id, req)
		respond(h, w, r, "update article", http.StatusOK, a, err)
	})
}

func (h *Handler) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	withID(h, w, r, "delete article", func(id uuid.UUID) {
		h.noContent(w, r, "delete article", h.inventory.DeleteArticle(r.Context(), id))
	})
}

// Order lines

func (h *Handler) handleListOrderLines(w http.ResponseWriter, r *http.Request) {
	filter := models.OrderLineFilter{OrderNumber: r.URL.Query().Get("orderNumber")}
	lines, err := h.inventory.ListOrderLines(r.Context(), filter)
	respond(h, w, r, "list order lines", http.StatusOK, nonNil(lines), err)
}

func (h *Handler) handleGetOrderLine(w http.ResponseWriter, r *http.Request) {
	withID(h, w, r, "get order line", func(id uuid.UUID) {
		l, err := h.inventory.GetOrderLine(r.Context(), id)
		respond(h, w, r, "get order line", http.StatusOK, l, err)
	})
}

func (h *Handler) handleCreateOrderLine(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOrderLineRequest
	if !h.decode(w, r, "create order line", &req) {
		return
	}
	l, err := h.inventory.CreateOrderLine(r.Context(), req)
	respond(h, w, r, "create order line", http.StatusCreated, l, err)
}

func (h *Handler) handleUpdateOrderLine(w http.ResponseWriter, r *http.Request) {
	withID(h, w, r, "update order line", func(id uuid.UUID) {
		var req models.UpdateOrderLineRequest
		if !h.decode(w, r, "update order line", &req) {
			return
		}
		l, err := h.inventory.UpdateOrderLine(r.Context(), id, req)
		respond(h, w, r, "update order line", http.StatusOK, l, err)
	})
}

func (h *Handler) handleDeleteOrderLine(w http.ResponseWriter, r *http.Request) {
	withID(h, w, r, "delete order line", func(id uuid.UUID) {
		h.noContent(w, r, "delete order line", h.inventory.DeleteOrderLine(r.Context(), id))
	})
}

func (h *Handler) handleMarkInventoried(w http.ResponseWriter, r *http.Request) {
	withID(h, w, r, "mark inventoried", func(id uuid.UUID) {
		l, err := h.inventory.MarkInventoried(r.Context(), id)
		respond(h, w, r, "mark inventoried", http.StatusOK, l, err)
	})
}

// Inventory counts

func (h *Handler) handleListCounts(w http.ResponseWriter, r *http.Request) {
	var filter models.InventoryCountFilter
	if raw := r.URL.Query().Get("articleId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.fail(w, r, "list inventory counts", dErrors.New(dErrors.CodeBadRequest, "invalid articleId"))
			return
		}
		filter.ArticleID = id
	}
	counts, err := h.inventory.ListCounts(r.Context(), filter)
	respond(h, w, r, "list inventory counts", http.StatusOK, nonNil(counts), err)
}

func (h *Handler) handleGetCount(w http.ResponseWriter, r *http.Request) {
	withID(h, w, r, "get inventory count", func(id uuid.UUID) {
		c, err := h.inventory.GetCount(r.Context(), id)
		respond(h, w, r, "get inventory count", http.StatusOK, c, err)
	})
}

func (h *Handler) handleCreateCount(w http.ResponseWriter, r *http.Request) {
	var req models.CreateInventoryCountRequest
	if !h.decode(w, r, "create inventory count", &req) {
		return
	}
	c, err := h.inventory.CreateCount(r.Context(), req)
	respond(h, w, r, "create inventory count", http.StatusCreated, c, err)
}

func (h *Handler) handleUpdateCount(w http.ResponseWriter, r *http.Request) {
	withID(h, w, r, "update inventory count", func(id uuid.UUID) {
		var req models.UpdateInventoryCountRequest
		if !h.decode(w, r, "update inventory count", &req) {
			return
		}
		c, err := h.inventory.UpdateCount(r.Context(), id, req)
		respond(h, w, r, "update inventory count", http.StatusOK, c, err)
	})
}

func (h *Handler) handleDeleteCount(w http.ResponseWriter, r *http.Request) {
	withID(h, w, r, "delete inventory count", func(id uuid.UUID) {
		h.noContent(w, r, "delete inventory count", h.inventory.DeleteCount(r.Context(), id))
	})
}

// helpers

func withID(h *Handler, w http.ResponseWriter, r *http.Request, op string, fn func(uuid.UUID)) {
	id, err := httputil.URLID(r)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	fn(id)
}

func respond[T any](h *Handler, w http.ResponseWriter, r *http.Request, op string, status int, v T, err error) {
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	httputil.WriteJSON(w, status, v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, op string, v any) bool {
	if err := httputil.DecodeJSON(r, v); err != nil {
		h.fail(w, r, op, err)
		return false
	}
	return true
}

func (h *Handler) noContent(w http.ResponseWriter, r *http.Request, op string, err error) {
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
