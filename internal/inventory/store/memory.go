// Package store persists articles, order lines and inventory counts in memory
// or in Postgres. Both implementations keep the same referential rules:
// deleting an article deletes its counts and deleting a user clears the
// user reference on counts and order lines.
package store

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"lagerkoll/internal/inventory/models"
	"lagerkoll/pkg/platform/sentinel"
)

// InMemory keeps all three tables behind one lock so cascades are atomic.
type InMemory struct {
	mu       sync.RWMutex
	articles map[uuid.UUID]*models.Article
	byNumber map[string]uuid.UUID
	lines    map[uuid.UUID]*models.OrderLine
	counts   map[uuid.UUID]*models.InventoryCount
}

func NewInMemory() *InMemory {
	return &InMemory{
		articles: make(map[uuid.UUID]*models.Article),
		byNumber: make(map[string]uuid.UUID),
		lines:    make(map[uuid.UUID]*models.OrderLine),
		counts:   make(map[uuid.UUID]*models.InventoryCount),
	}
}

func (s *InMemory) CreateArticle(_ context.Context, a *models.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byNumber[a.ArticleNumber]; taken {
		return sentinel.ErrAlreadyUsed
	}
	stored := a.Clone()
	stored.TotalCounted, stored.CountEntries = 0, 0
	s.articles[a.ID] = stored
	s.byNumber[a.ArticleNumber] = a.ID
	return nil
}

func (s *InMemory) UpdateArticle(_ context.Context, a *models.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.articles[a.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if existing.ArticleNumber != a.ArticleNumber {
		if _, taken := s.byNumber[a.ArticleNumber]; taken {
			return sentinel.ErrAlreadyUsed
		}
		delete(s.byNumber, existing.ArticleNumber)
		s.byNumber[a.ArticleNumber] = a.ID
	}
	s.articles[a.ID] = a.Clone()
	return nil
}

// DeleteArticle removes the article and every count logged against it.
func (s *InMemory) DeleteArticle(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.articles[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	for cid, c := range s.counts {
		if c.ArticleID == id {
			delete(s.counts, cid)
		}
	}
	delete(s.byNumber, a.ArticleNumber)
	delete(s.articles, id)
	return nil
}

func (s *InMemory) FindArticle(_ context.Context, id uuid.UUID) (*models.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.articles[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.withTotals(a), nil
}

func (s *InMemory) FindArticleByNumber(_ context.Context, number string) (*models.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byNumber[number]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.withTotals(s.articles[id]), nil
}

// ListArticles returns articles ordered by article number with derived totals.
func (s *InMemory) ListArticles(_ context.Context) ([]*models.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[uuid.UUID][2]int, len(s.articles))
	for _, c := range s.counts {
		t := totals[c.ArticleID]
		totals[c.ArticleID] = [2]int{t[0] + c.Count, t[1] + 1}
	}
	out := make([]*models.Article, 0, len(s.articles))
	for _, a := range s.articles {
		c := a.Clone()
		t := totals[a.ID]
		c.TotalCounted, c.CountEntries = t[0], t[1]
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *models.Article) int {
		return cmp.Compare(a.ArticleNumber, b.ArticleNumber)
	})
	return out, nil
}

// withTotals must be called with mu held.
func (s *InMemory) withTotals(a *models.Article) *models.Article {
	out := a.Clone()
	out.TotalCounted, out.CountEntries = 0, 0
	for _, c := range s.counts {
		if c.ArticleID == a.ID {
			out.TotalCounted += c.Count
			out.CountEntries++
		}
	}
	return out
}

func (s *InMemory) CreateOrderLine(_ context.Context, l *models.OrderLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.lines[l.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.lines[l.ID] = l.Clone()
	return nil
}

func (s *InMemory) UpdateOrderLine(_ context.Context, l *models.OrderLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lines[l.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.lines[l.ID] = l.Clone()
	return nil
}

func (s *InMemory) DeleteOrderLine(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lines[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.lines, id)
	return nil
}

func (s *InMemory) FindOrderLine(_ context.Context, id uuid.UUID) (*models.OrderLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.lines[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return l.Clone(), nil
}

// ListOrderLines orders by order number, then article number.
func (s *InMemory) ListOrderLines(_ context.Context, filter models.OrderLineFilter) ([]*models.OrderLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.OrderLine, 0, len(s.lines))
	for _, l := range s.lines {
		if filter.OrderNumber != "" && l.OrderNumber != filter.OrderNumber {
			continue
		}
		out = append(out, l.Clone())
	}
	slices.SortFunc(out, func(a, b *models.OrderLine) int {
		return cmp.Or(
			cmp.Compare(a.OrderNumber, b.OrderNumber),
			cmp.Compare(a.ArticleNumber, b.ArticleNumber),
			a.CreatedAt.Compare(b.CreatedAt),
		)
	})
	return out, nil
}

func (s *InMemory) CreateCount(_ context.Context, c *models.InventoryCount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.articles[c.ArticleID]; !ok {
		return sentinel.ErrReferenceMissing
	}
	s.counts[c.ID] = c.Clone()
	return nil
}

func (s *InMemory) UpdateCount(_ context.Context, c *models.InventoryCount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.counts[c.ID]; !ok {
		return sentinel.ErrNotFound
	}
	if _, ok := s.articles[c.ArticleID]; !ok {
		return sentinel.ErrReferenceMissing
	}
	s.counts[c.ID] = c.Clone()
	return nil
}

func (s *InMemory) DeleteCount(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.counts[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.counts, id)
	return nil
}

func (s *InMemory) FindCount(_ context.Context, id uuid.UUID) (*models.InventoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.counts[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c.Clone(), nil
}

// ListCounts returns the newest counts first.
func (s *InMemory) ListCounts(_ context.Context, filter models.InventoryCountFilter) ([]*models.InventoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.InventoryCount, 0, len(s.counts))
	for _, c := range s.counts {
		if filter.ArticleID != uuid.Nil && c.ArticleID != filter.ArticleID {
			continue
		}
		out = append(out, c.Clone())
	}
	slices.SortFunc(out, func(a, b *models.InventoryCount) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return out, nil
}

// DetachUser clears userID from counts and order lines it appears on.
func (s *InMemory) DetachUser(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.counts {
		if c.UserID != nil && *c.UserID == userID {
			c.UserID = nil
		}
	}
	for _, l := range s.lines {
		if l.InventoriedBy != nil && *l.InventoriedBy == userID {
			l.InventoriedBy = nil
		}
	}
	return nil
}

// ClearAll removes every article, order line and count. Users are kept.
func (s *InMemory) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.counts)
	clear(s.lines)
	clear(s.articles)
	clear(s.byNumber)
	return nil
}
