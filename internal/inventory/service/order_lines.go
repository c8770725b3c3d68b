package service

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"lagerkoll/internal/inventory/models"
	"lagerkoll/internal/realtime"
	dErrors "lagerkoll/pkg/domain-errors"
	"lagerkoll/pkg/platform/tracing"
	"lagerkoll/pkg/requestcontext"
)

func (s *Service) ListOrderLines(ctx context.Context, filter models.OrderLineFilter) ([]*models.OrderLine, error) {
	lines, err := s.store.ListOrderLines(ctx, filter)
	if err != nil {
		return nil, storeErr("order line", err)
	}
	return lines, nil
}

func (s *Service) GetOrderLine(ctx context.Context, id uuid.UUID) (*models.OrderLine, error) {
	l, err := s.store.FindOrderLine(ctx, id)
	if err != nil {
		return nil, storeErr("order line", err)
	}
	return l, nil
}

func (s *Service) CreateOrderLine(ctx context.Context, req models.CreateOrderLineRequest) (line *models.OrderLine, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "inventory.CreateOrderLine")
	defer func() { tracing.End(span, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		l, err := models.NewOrderLine(uuid.New(), req, requestcontext.Now(ctx))
		if err != nil {
			return toValidation(err)
		}
		if err := s.store.CreateOrderLine(ctx, l); err != nil {
			return storeErr("order line", err)
		}
		line = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, realtime.Created(realtime.ResourceOrderLine, line), "order_line_created",
		"order_line_id", line.ID, "order_number", line.OrderNumber)
	return line, nil
}

func (s *Service) UpdateOrderLine(ctx context.Context, id uuid.UUID, req models.UpdateOrderLineRequest) (line *models.OrderLine, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "inventory.UpdateOrderLine", attribute.String("order_line_id", id.String()))
	defer func() { tracing.End(span, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		l, err := s.store.FindOrderLine(ctx, id)
		if err != nil {
			return storeErr("order line", err)
		}
		if err := req.Apply(l, requestcontext.Now(ctx)); err != nil {
			return toValidation(err)
		}
		if err := s.store.UpdateOrderLine(ctx, l); err != nil {
			return storeErr("order line", err)
		}
		line = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, realtime.Updated(realtime.ResourceOrderLine, line), "order_line_updated", "order_line_id", line.ID)
	return line, nil
}

func (s *Service) DeleteOrderLine(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "inventory.DeleteOrderLine", attribute.String("order_line_id", id.String()))
	defer func() { tracing.End(span, err) }()

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return storeErr("order line", s.store.DeleteOrderLine(ctx, id))
	})
	if err != nil {
		return err
	}
	s.published(ctx, realtime.Deleted(realtime.ResourceOrderLine, id), "order_line_deleted", "order_line_id", id)
	return nil
}

// MarkInventoried records that the signed-in user verified a picked line.
// Lines that are not "Plockat" are refused with a business rule error and
// left unchanged; a line already inventoried is a conflict.
func (s *Service) MarkInventoried(ctx context.Context, id uuid.UUID) (line *models.OrderLine, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "inventory.MarkInventoried", attribute.String("order_line_id", id.String()))
	defer func() { tracing.End(span, err) }()

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		l, err := s.store.FindOrderLine(ctx, id)
		if err != nil {
			return storeErr("order line", err)
		}
		if err := l.ApplyInventoried(requestcontext.UserID(ctx), requestcontext.Now(ctx)); err != nil {
			return err
		}
		if err := s.store.UpdateOrderLine(ctx, l); err != nil {
			return storeErr("order line", err)
		}
		line = l
		return nil
	})
	if err != nil {
		if dErrors.Is(err, dErrors.CodeBusinessRule) {
			s.logger.WarnContext(ctx, "order line inventory refused",
				"order_line_id", id,
				"reason", dErrors.MessageOf(err),
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, err
	}
	s.published(ctx, realtime.Inventoried(line), "order_line_inventoried", "order_line_id", line.ID)
	return line, nil
}

// ImportOrderLines creates every row as a new line in one unit of work.
func (s *Service) ImportOrderLines(ctx context.Context, reqs []models.CreateOrderLineRequest) (imported []*models.OrderLine, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "inventory.ImportOrderLines", attribute.Int("rows", len(reqs)))
	defer func() { tracing.End(span, err) }()

	if len(reqs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "no order lines to import")
	}
	for i := range reqs {
		reqs[i].Normalize()
		if err := reqs[i].Validate(); err != nil {
			return nil, rowError(i, err)
		}
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		lines := make([]*models.OrderLine, 0, len(reqs))
		for i, req := range reqs {
			l, err := models.NewOrderLine(uuid.New(), req, now)
			if err != nil {
				return rowError(i, toValidation(err))
			}
			lines = append(lines, l)
		}
		for i, l := range lines {
			if err := s.store.CreateOrderLine(ctx, l); err != nil {
				return rowError(i, storeErr("order line", err))
			}
		}
		imported = lines
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, realtime.Imported(realtime.ResourceOrderLine, imported, len(imported)), "order_lines_imported",
		"count", len(imported))
	return imported, nil
}
