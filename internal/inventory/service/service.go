// Package service applies warehouse mutations: articles, order lines and
// inventory counts. Each successful mutation commits first and then hands
// exactly one realtime event to the publisher; failures publish nothing.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"lagerkoll/internal/inventory/models"
	"lagerkoll/internal/platform/metrics"
	"lagerkoll/internal/realtime"
	dErrors "lagerkoll/pkg/domain-errors"
	"lagerkoll/pkg/platform/sentinel"
	"lagerkoll/pkg/platform/tracing"
	"lagerkoll/pkg/platform/tx"
	"lagerkoll/pkg/requestcontext"
)

type ArticleStore interface {
	CreateArticle(ctx context.Context, a *models.Article) error
	UpdateArticle(ctx context.Context, a *models.Article) error
	DeleteArticle(ctx context.Context, id uuid.UUID) error
	FindArticle(ctx context.Context, id uuid.UUID) (*models.Article, error)
	FindArticleByNumber(ctx context.Context, number string) (*models.Article, error)
	ListArticles(ctx context.Context) ([]*models.Article, error)
}

type OrderLineStore interface {
	CreateOrderLine(ctx context.Context, l *models.OrderLine) error
	UpdateOrderLine(ctx context.Context, l *models.OrderLine) error
	DeleteOrderLine(ctx context.Context, id uuid.UUID) error
	FindOrderLine(ctx context.Context, id uuid.UUID) (*models.OrderLine, error)
	ListOrderLines(ctx context.Context, filter models.OrderLineFilter) ([]*models.OrderLine, error)
}

type CountStore interface {
	CreateCount(ctx context.Context, c *models.InventoryCount) error
	UpdateCount(ctx context.Context, c *models.InventoryCount) error
	DeleteCount(ctx context.Context, id uuid.UUID) error
	FindCount(ctx context.Context, id uuid.UUID) (*models.InventoryCount, error)
	ListCounts(ctx context.Context, filter models.InventoryCountFilter) ([]*models.InventoryCount, error)
}

// Store is everything the service persists through.
type Store interface {
	ArticleStore
	OrderLineStore
	CountStore
	ClearAll(ctx context.Context) error
}

type Service struct {
	store     Store
	publisher realtime.Publisher
	tx        tx.Runner
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithPublisher(p realtime.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithTx sets the unit-of-work runner. Defaults to an in-memory runner.
func WithTx(r tx.Runner) Option {
	return func(s *Service) { s.tx = r }
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: realtime.PublisherFunc(func(context.Context, realtime.Event) {}),
		logger:    slog.Default(),
		tracer:    tracing.Tracer("lagerkoll/inventory"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = tx.NewMemoryRunner()
	}
	return s
}

// ClearAll deletes every article, order line and count and publishes a
// single data_cleared event. Accounts are kept.
func (s *Service) ClearAll(ctx context.Context) (err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "inventory.ClearAll")
	defer func() { tracing.End(span, err) }()

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.ClearAll(ctx); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear data")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.published(ctx, realtime.Cleared(), "data_cleared")
	return nil
}

// published runs after commit: one event, one audit line, one metric.
func (s *Service) published(ctx context.Context, ev realtime.Event, action string, attrs ...any) {
	s.publisher.Publish(ctx, ev)
	resource := string(ev.Resource())
	if resource == "" {
		resource = "all"
	}
	s.metrics.IncrementMutation(resource, ev.Kind().String())

	args := append([]any{
		"log_type", "audit",
		"event", action,
		"actor_id", requestcontext.UserID(ctx),
		"request_id", requestcontext.RequestID(ctx),
	}, attrs...)
	s.logger.InfoContext(ctx, action, args...)
}

// storeErr translates sentinel store errors for the named entity.
func storeErr(entity string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, entity+" not found")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeConflict, entity+" already exists")
	case errors.Is(err, sentinel.ErrReferenceMissing):
		return dErrors.New(dErrors.CodeNotFound, "article not found")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, entity+" store failure")
	}
}

// toValidation turns a model invariant failure into a client error.
func toValidation(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	return err
}
