package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "lagerkoll/pkg/domain-errors"
)

// InventoryCount is one counted quantity of an article. UserID is nil when
// the counting user was deleted or the count was imported.
type InventoryCount struct {
	ID        uuid.UUID  `json:"id"`
	ArticleID uuid.UUID  `json:"articleId"`
	UserID    *uuid.UUID `json:"userId"`
	Count     int        `json:"count"`
	Note      string     `json:"note"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func NewInventoryCount(id, articleID, userID uuid.UUID, count int, note string, now time.Time) (*InventoryCount, error) {
	c := &InventoryCount{
		ID:        id,
		ArticleID: articleID,
		Count:     count,
		Note:      strings.TrimSpace(note),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if userID != uuid.Nil {
		c.UserID = &userID
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *InventoryCount) check() error {
	switch {
	case c.ArticleID == uuid.Nil:
		return dErrors.New(dErrors.CodeInvariantViolation, "article is required")
	case c.Count < 0:
		return dErrors.New(dErrors.CodeInvariantViolation, "count cannot be negative")
	case len(c.Note) > maxTextLength:
		return dErrors.New(dErrors.CodeInvariantViolation, "note must be at most 500 characters")
	}
	return nil
}

func (c *InventoryCount) Clone() *InventoryCount {
	out := *c
	if c.UserID != nil {
		id := *c.UserID
		out.UserID = &id
	}
	return &out
}

type CreateInventoryCountRequest struct {
	ArticleID uuid.UUID `json:"articleId"`
	Count     *int      `json:"count"`
	Note      string    `json:"note"`
}

func (r *CreateInventoryCountRequest) Normalize() {
	r.Note = strings.TrimSpace(r.Note)
}

func (r *CreateInventoryCountRequest) Validate() error {
	switch {
	case r.ArticleID == uuid.Nil:
		return dErrors.New(dErrors.CodeValidation, "articleId is required")
	case r.Count == nil:
		return dErrors.New(dErrors.CodeValidation, "count is required")
	case *r.Count < 0:
		return dErrors.New(dErrors.CodeValidation, "count cannot be negative")
	}
	return nil
}

type UpdateInventoryCountRequest struct {
	Count *int    `json:"count,omitempty"`
	Note  *string `json:"note,omitempty"`
}

func (r *UpdateInventoryCountRequest) Normalize() {
	trimPtr(&r.Note)
}

func (r *UpdateInventoryCountRequest) Validate() error {
	if r.Count == nil && r.Note == nil {
		return dErrors.New(dErrors.CodeValidation, "nothing to update")
	}
	if r.Count != nil && *r.Count < 0 {
		return dErrors.New(dErrors.CodeValidation, "count cannot be negative")
	}
	return nil
}

func (r *UpdateInventoryCountRequest) Apply(c *InventoryCount, now time.Time) error {
	if r.Count != nil {
		c.Count = *r.Count
	}
	if r.Note != nil {
		c.Note = *r.Note
	}
	c.UpdatedAt = now
	return c.check()
}

// ImportCountRow is a spreadsheet row; the article is referenced by number.
type ImportCountRow struct {
	ArticleNumber string
	Count         int
	Note          string
}

// InventoryCountFilter narrows a listing. Zero value lists everything.
type InventoryCountFilter struct {
	ArticleID uuid.UUID
}
