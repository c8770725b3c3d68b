// Package service implements the administrator surface: password
// confirmation, wiping inventory data and spreadsheet import/export. It owns
// no storage; every mutation goes through the users and inventory services so
// the usual change events are published.
package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"lagerkoll/internal/admin/models"
	invmodels "lagerkoll/internal/inventory/models"
	usermodels "lagerkoll/internal/users/models"
	"lagerkoll/pkg/platform/tracing"
	"lagerkoll/pkg/requestcontext"
)

// Accounts is the slice of the users service the admin surface needs.
type Accounts interface {
	VerifyPassword(ctx context.Context, userID uuid.UUID, password string) error
	List(ctx context.Context) ([]*usermodels.User, error)
	ImportUsers(ctx context.Context, reqs []usermodels.CreateUserRequest) ([]*usermodels.User, error)
}

// Inventory is the slice of the inventory service the admin surface needs.
type Inventory interface {
	ClearAll(ctx context.Context) error
	ListArticles(ctx context.Context) ([]*invmodels.Article, error)
	ListOrderLines(ctx context.Context, filter invmodels.OrderLineFilter) ([]*invmodels.OrderLine, error)
	ListCounts(ctx context.Context, filter invmodels.InventoryCountFilter) ([]*invmodels.InventoryCount, error)
	ImportArticles(ctx context.Context, reqs []invmodels.CreateArticleRequest) ([]*invmodels.Article, error)
	ImportOrderLines(ctx context.Context, reqs []invmodels.CreateOrderLineRequest) ([]*invmodels.OrderLine, error)
	ImportCounts(ctx context.Context, rows []invmodels.ImportCountRow) ([]*invmodels.InventoryCount, error)
}

type Service struct {
	accounts  Accounts
	inventory Inventory
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(accounts Accounts, inventory Inventory, opts ...Option) *Service {
	s := &Service{
		accounts:  accounts,
		inventory: inventory,
		logger:    slog.Default(),
		tracer:    tracing.Tracer("lagerkoll/admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerifyPassword confirms the signed-in admin's password.
func (s *Service) VerifyPassword(ctx context.Context, req models.PasswordConfirmation) (err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "admin.VerifyPassword")
	defer func() { tracing.End(span, err) }()

	if err := req.Validate(); err != nil {
		return err
	}
	return s.accounts.VerifyPassword(ctx, requestcontext.UserID(ctx), req.Password)
}

// ClearAllData deletes all articles, order lines and counts after the caller
// re-enters their password. User accounts survive.
func (s *Service) ClearAllData(ctx context.Context, req models.PasswordConfirmation) (err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "admin.ClearAllData")
	defer func() { tracing.End(span, err) }()

	if err := s.VerifyPassword(ctx, req); err != nil {
		s.audit(ctx, "clear_all_data_refused")
		return err
	}
	if err := s.inventory.ClearAll(ctx); err != nil {
		return err
	}
	s.audit(ctx, "clear_all_data")
	return nil
}

func (s *Service) audit(ctx context.Context, event string, attrs ...any) {
	args := append([]any{
		"log_type", "audit",
		"event", event,
		"actor_id", requestcontext.UserID(ctx),
		"request_id", requestcontext.RequestID(ctx),
	}, attrs...)
	s.logger.InfoContext(ctx, event, args...)
}
