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

func (s *Service) ListArticles(ctx context.Context) ([]*models.Article, error) {
	articles, err := s.store.ListArticles(ctx)
	if err != nil {
		return nil, storeErr("article", err)
	}
	return articles, nil
}

func (s *Service) GetArticle(ctx context.Context, id uuid.UUID) (*models.Article, error) {
	a, err := s.store.FindArticle(ctx, id)
	if err != nil {
		return nil, storeErr("article", err)
	}
	return a, nil
}

func (s *Service) CreateArticle(ctx context.Context, req models.CreateArticleRequest) (article *models.Article, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "inventory.CreateArticle")
	defer func() { tracing.End(span, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := models.NewArticle(uuid.New(), req.ArticleNumber, req.Description, req.Location, requestcontext.Now(ctx))
		if err != nil {
			return toValidation(err)
		}
		if err := s.store.CreateArticle(ctx, a); err != nil {
			return articleErr(a.ArticleNumber, err)
		}
		article = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, realtime.Created(realtime.ResourceArticle, article), "article_created",
		"article_id", article.ID, "article_number", article.ArticleNumber)
	return article, nil
}

func (s *Service) UpdateArticle(ctx context.Context, id uuid.UUID, req models.UpdateArticleRequest) (article *models.Article, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "inventory.UpdateArticle", attribute.String("article_id", id.String()))
	defer func() { tracing.End(span, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.store.FindArticle(ctx, id)
		if err != nil {
			return storeErr("article", err)
		}
		if err := req.Apply(a, requestcontext.Now(ctx)); err != nil {
			return toValidation(err)
		}
		if err := s.store.UpdateArticle(ctx, a); err != nil {
			return articleErr(a.ArticleNumber, err)
		}
		article = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, realtime.Updated(realtime.ResourceArticle, article), "article_updated", "article_id", article.ID)
	return article, nil
}

// DeleteArticle removes the article together with its counts. One
// article_deleted event covers both; clients invalidate counts through the
// article's cache keys.
func (s *Service) DeleteArticle(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "inventory.DeleteArticle", attribute.String("article_id", id.String()))
	defer func() { tracing.End(span, err) }()

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return storeErr("article", s.store.DeleteArticle(ctx, id))
	})
	if err != nil {
		return err
	}
	s.published(ctx, realtime.Deleted(realtime.ResourceArticle, id), "article_deleted", "article_id", id)
	return nil
}

// ImportArticles upserts by article number: new numbers are created, known
// numbers get their description and location replaced. A number repeated
// within the file aborts the import.
func (s *Service) ImportArticles(ctx context.Context, reqs []models.CreateArticleRequest) (imported []*models.Article, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "inventory.ImportArticles", attribute.Int("rows", len(reqs)))
	defer func() { tracing.End(span, err) }()

	if len(reqs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "no articles to import")
	}
	seen := make(map[string]int, len(reqs))
	for i := range reqs {
		reqs[i].Normalize()
		if err := reqs[i].Validate(); err != nil {
			return nil, rowError(i, err)
		}
		if first, dup := seen[reqs[i].ArticleNumber]; dup {
			return nil, rowError(i, dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("article number %s repeats row %d", reqs[i].ArticleNumber, first+1)))
		}
		seen[reqs[i].ArticleNumber] = i
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		type pending struct {
			article *models.Article
			exists  bool
		}
		batch := make([]pending, 0, len(reqs))
		for i, req := range reqs {
			existing, err := s.store.FindArticleByNumber(ctx, req.ArticleNumber)
			if err == nil {
				existing.Description, existing.Location, existing.UpdatedAt = req.Description, req.Location, now
				batch = append(batch, pending{article: existing, exists: true})
				continue
			}
			if !errors.Is(err, sentinel.ErrNotFound) {
				return storeErr("article", err)
			}
			a, err := models.NewArticle(uuid.New(), req.ArticleNumber, req.Description, req.Location, now)
			if err != nil {
				return rowError(i, toValidation(err))
			}
			batch = append(batch, pending{article: a})
		}
		for i, p := range batch {
			write := s.store.CreateArticle
			if p.exists {
				write = s.store.UpdateArticle
			}
			if err := write(ctx, p.article); err != nil {
				return rowError(i, articleErr(p.article.ArticleNumber, err))
			}
			imported = append(imported, p.article)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, realtime.Imported(realtime.ResourceArticle, imported, len(imported)), "articles_imported",
		"count", len(imported))
	return imported, nil
}

func articleErr(number string, err error) error {
	if errors.Is(err, sentinel.ErrAlreadyUsed) {
		return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("article number %s is already in use", number))
	}
	return storeErr("article", err)
}

// rowError prefixes err with its 1-based spreadsheet data row.
func rowError(i int, err error) error {
	return dErrors.Wrap(err, dErrors.CodeOf(err), fmt.Sprintf("row %d: %s", i+1, dErrors.MessageOf(err)))
}
