package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"lagerkoll/internal/inventory/models"
	"lagerkoll/internal/realtime"
	dErrors "lagerkoll/pkg/domain-errors"
	"lagerkoll/pkg/platform/sentinel"
	"lagerkoll/pkg/platform/tracing"
	"lagerkoll/pkg/requestcontext"
)

func (s *Service) ListCounts(ctx context.Context, filter models.InventoryCountFilter) ([]*models.InventoryCount, error) {
	counts, err := s.store.ListCounts(ctx, filter)
	if err != nil {
		return nil, storeErr("inventory count", err)
	}
	return counts, nil
}

func (s *Service) GetCount(ctx context.Context, id uuid.UUID) (*models.InventoryCount, error) {
	c, err := s.store.FindCount(ctx, id)
	if err != nil {
		return nil, storeErr("inventory count", err)
	}
	return c, nil
}

// CreateCount logs a count against an article, attributed to the signed-in
// user.
func (s *Service) CreateCount(ctx context.Context, req models.CreateInventoryCountRequest) (count *models.InventoryCount, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "inventory.CreateCount", attribute.String("article_id", req.ArticleID.String()))
	defer func() { tracing.End(span, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		c, err := models.NewInventoryCount(uuid.New(), req.ArticleID, requestcontext.UserID(ctx), *req.Count, req.Note, requestcontext.Now(ctx))
		if err != nil {
			return toValidation(err)
		}
		if err := s.store.CreateCount(ctx, c); err != nil {
			return storeErr("inventory count", err)
		}
		count = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, realtime.Created(realtime.ResourceInventoryCount, count), "inventory_count_created",
		"inventory_count_id", count.ID, "article_id", count.ArticleID, "count", count.Count)
	return count, nil
}

func (s *Service) UpdateCount(ctx context.Context, id uuid.UUID, req models.UpdateInventoryCountRequest) (count *models.InventoryCount, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "inventory.UpdateCount", attribute.String("inventory_count_id", id.String()))
	defer func() { tracing.End(span, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		c, err := s.store.FindCount(ctx, id)
		if err != nil {
			return storeErr("inventory count", err)
		}
		if err := req.Apply(c, requestcontext.Now(ctx)); err != nil {
			return toValidation(err)
		}
		if err := s.store.UpdateCount(ctx, c); err != nil {
			return storeErr("inventory count", err)
		}
		count = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, realtime.Updated(realtime.ResourceInventoryCount, count), "inventory_count_updated",
		"inventory_count_id", count.ID, "count", count.Count)
	return count, nil
}

func (s *Service) DeleteCount(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "inventory.DeleteCount", attribute.String("inventory_count_id", id.String()))
	defer func() { tracing.End(span, err) }()

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return storeErr("inventory count", s.store.DeleteCount(ctx, id))
	})
	if err != nil {
		return err
	}
	s.published(ctx, realtime.Deleted(realtime.ResourceInventoryCount, id), "inventory_count_deleted", "inventory_count_id", id)
	return nil
}

// ImportCounts resolves each row's article by number and logs the counts as
// the importing user.
func (s *Service) ImportCounts(ctx context.Context, rows []models.ImportCountRow) (imported []*models.InventoryCount, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "inventory.ImportCounts", attribute.Int("rows", len(rows)))
	defer func() { tracing.End(span, err) }()

	if len(rows) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "no inventory counts to import")
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		userID := requestcontext.UserID(ctx)
		articles := make(map[string]uuid.UUID)
		counts := make([]*models.InventoryCount, 0, len(rows))
		for i, row := range rows {
			articleID, ok := articles[row.ArticleNumber]
			if !ok {
				a, err := s.store.FindArticleByNumber(ctx, row.ArticleNumber)
				if errors.Is(err, sentinel.ErrNotFound) {
					return rowError(i, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown article number %q", row.ArticleNumber)))
				}
				if err != nil {
					return storeErr("article", err)
				}
				articleID = a.ID
				articles[row.ArticleNumber] = articleID
			}
			c, err := models.NewInventoryCount(uuid.New(), articleID, userID, row.Count, row.Note, now)
			if err != nil {
				return rowError(i, toValidation(err))
			}
			counts = append(counts, c)
		}
		for i, c := range counts {
			if err := s.store.CreateCount(ctx, c); err != nil {
				return rowError(i, storeErr("inventory count", err))
			}
		}
		imported = counts
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, realtime.Imported(realtime.ResourceInventoryCount, imported, len(imported)), "inventory_counts_imported",
		"count", len(imported))
	return imported, nil
}
