package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "lagerkoll/pkg/domain-errors"
)

const (
	maxArticleNumberLength = 64
	maxTextLength          = 500
)

// Article is a catalogued item that counts are logged against.
//
// Invariants:
//   - ArticleNumber is non-empty, at most 64 characters and unique
//   - TotalCounted and CountEntries are derived from inventory counts on read
type Article struct {
	ID            uuid.UUID `json:"id"`
	ArticleNumber string    `json:"articleNumber"`
	Description   string    `json:"description"`
	Location      string    `json:"location"`
	TotalCounted  int       `json:"totalCounted"`
	CountEntries  int       `json:"countEntries"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func NewArticle(id uuid.UUID, articleNumber, description, location string, now time.Time) (*Article, error) {
	a := &Article{
		ID:            id,
		ArticleNumber: strings.TrimSpace(articleNumber),
		Description:   strings.TrimSpace(description),
		Location:      strings.TrimSpace(location),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.check(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Article) check() error {
	switch {
	case a.ArticleNumber == "":
		return dErrors.New(dErrors.CodeInvariantViolation, "article number is required")
	case len(a.ArticleNumber) > maxArticleNumberLength:
		return dErrors.New(dErrors.CodeInvariantViolation, "article number must be at most 64 characters")
	case len(a.Description) > maxTextLength || len(a.Location) > maxTextLength:
		return dErrors.New(dErrors.CodeInvariantViolation, "description and location must be at most 500 characters")
	}
	return nil
}

func (a *Article) Clone() *Article {
	c := *a
	return &c
}

type CreateArticleRequest struct {
	ArticleNumber string `json:"articleNumber"`
	Description   string `json:"description"`
	Location      string `json:"location"`
}

func (r *CreateArticleRequest) Normalize() {
	r.ArticleNumber = strings.TrimSpace(r.ArticleNumber)
	r.Description = strings.TrimSpace(r.Description)
	r.Location = strings.TrimSpace(r.Location)
}

func (r *CreateArticleRequest) Validate() error {
	if r.ArticleNumber == "" {
		return dErrors.New(dErrors.CodeValidation, "articleNumber is required")
	}
	if len(r.ArticleNumber) > maxArticleNumberLength {
		return dErrors.New(dErrors.CodeValidation, "articleNumber must be at most 64 characters")
	}
	return nil
}

// UpdateArticleRequest is a partial update; nil fields are left unchanged.
type UpdateArticleRequest struct {
	ArticleNumber *string `json:"articleNumber,omitempty"`
	Description   *string `json:"description,omitempty"`
	Location      *string `json:"location,omitempty"`
}

func (r *UpdateArticleRequest) Normalize() {
	trimPtr(&r.ArticleNumber)
	trimPtr(&r.Description)
	trimPtr(&r.Location)
}

func (r *UpdateArticleRequest) Validate() error {
	if r.ArticleNumber == nil && r.Description == nil && r.Location == nil {
		return dErrors.New(dErrors.CodeValidation, "nothing to update")
	}
	if r.ArticleNumber != nil && (*r.ArticleNumber == "" || len(*r.ArticleNumber) > maxArticleNumberLength) {
		return dErrors.New(dErrors.CodeValidation, "articleNumber must be 1-64 characters")
	}
	return nil
}

// Apply copies the set fields onto a and re-checks its invariants.
func (r *UpdateArticleRequest) Apply(a *Article, now time.Time) error {
	if r.ArticleNumber != nil {
		a.ArticleNumber = *r.ArticleNumber
	}
	if r.Description != nil {
		a.Description = *r.Description
	}
	if r.Location != nil {
		a.Location = *r.Location
	}
	a.UpdatedAt = now
	return a.check()
}

func trimPtr(p **string) {
	if *p != nil {
		v := strings.TrimSpace(**p)
		*p = &v
	}
}
