package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "lagerkoll/pkg/domain-errors"
)

// PickStatus values are stored and exchanged in Swedish, as printed on the
// pick lists.
type PickStatus string

const (
	PickStatusPicked    PickStatus = "Plockat"
	PickStatusNotPicked PickStatus = "Ej plockat"
)

func (p PickStatus) Valid() bool {
	return p == PickStatusPicked || p == PickStatusNotPicked
}

// ParsePickStatus accepts the canonical values ignoring case and surrounding
// whitespace. Empty means not picked.
func ParsePickStatus(s string) (PickStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", strings.ToLower(string(PickStatusNotPicked)):
		return PickStatusNotPicked, nil
	case strings.ToLower(string(PickStatusPicked)):
		return PickStatusPicked, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, `pickStatus must be "Plockat" or "Ej plockat"`)
}

// OrderLine is one line of a customer order awaiting verification.
//
// Invariants:
//   - OrderNumber and ArticleNumber are non-empty
//   - Quantity >= 0
//   - Inventoried implies InventoriedAt is set
type OrderLine struct {
	ID            uuid.UUID  `json:"id"`
	OrderNumber   string     `json:"orderNumber"`
	ArticleNumber string     `json:"articleNumber"`
	Description   string     `json:"description"`
	Quantity      int        `json:"quantity"`
	PickStatus    PickStatus `json:"pickStatus"`
	Inventoried   bool       `json:"inventoried"`
	InventoriedBy *uuid.UUID `json:"inventoriedBy"`
	InventoriedAt *time.Time `json:"inventoriedAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func NewOrderLine(id uuid.UUID, req CreateOrderLineRequest, now time.Time) (*OrderLine, error) {
	l := &OrderLine{
		ID:            id,
		OrderNumber:   req.OrderNumber,
		ArticleNumber: req.ArticleNumber,
		Description:   req.Description,
		Quantity:      req.Quantity,
		PickStatus:    req.PickStatus,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := l.check(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *OrderLine) check() error {
	switch {
	case l.OrderNumber == "":
		return dErrors.New(dErrors.CodeInvariantViolation, "order number is required")
	case l.ArticleNumber == "":
		return dErrors.New(dErrors.CodeInvariantViolation, "article number is required")
	case l.Quantity < 0:
		return dErrors.New(dErrors.CodeInvariantViolation, "quantity cannot be negative")
	case !l.PickStatus.Valid():
		return dErrors.New(dErrors.CodeInvariantViolation, "invalid pick status")
	case l.Inventoried && l.InventoriedAt == nil:
		return dErrors.New(dErrors.CodeInvariantViolation, "inventoried order line needs a timestamp")
	}
	return nil
}

// CanMarkInventoried reports why the line cannot be inventoried, or nil.
func (l *OrderLine) CanMarkInventoried() error {
	if l.Inventoried {
		return dErrors.New(dErrors.CodeConflict, "order line is already inventoried")
	}
	if l.PickStatus != PickStatusPicked {
		return dErrors.New(dErrors.CodeBusinessRule, `order line must have pick status "Plockat" before it can be inventoried`)
	}
	return nil
}

// ApplyInventoried marks the line inventoried by userID (uuid.Nil for an
// unattributed caller).
func (l *OrderLine) ApplyInventoried(userID uuid.UUID, now time.Time) error {
	if err := l.CanMarkInventoried(); err != nil {
		return err
	}
	l.Inventoried = true
	l.InventoriedAt = &now
	l.InventoriedBy = nil
	if userID != uuid.Nil {
		l.InventoriedBy = &userID
	}
	l.UpdatedAt = now
	return nil
}

func (l *OrderLine) Clone() *OrderLine {
	c := *l
	if l.InventoriedBy != nil {
		by := *l.InventoriedBy
		c.InventoriedBy = &by
	}
	if l.InventoriedAt != nil {
		at := *l.InventoriedAt
		c.InventoriedAt = &at
	}
	return &c
}

type CreateOrderLineRequest struct {
	OrderNumber   string     `json:"orderNumber"`
	ArticleNumber string     `json:"articleNumber"`
	Description   string     `json:"description"`
	Quantity      int        `json:"quantity"`
	PickStatus    PickStatus `json:"pickStatus"`
}

func (r *CreateOrderLineRequest) Normalize() {
	r.OrderNumber = strings.TrimSpace(r.OrderNumber)
	r.ArticleNumber = strings.TrimSpace(r.ArticleNumber)
	r.Description = strings.TrimSpace(r.Description)
	if status, err := ParsePickStatus(string(r.PickStatus)); err == nil {
		r.PickStatus = status
	}
}

func (r *CreateOrderLineRequest) Validate() error {
	switch {
	case r.OrderNumber == "":
		return dErrors.New(dErrors.CodeValidation, "orderNumber is required")
	case r.ArticleNumber == "":
		return dErrors.New(dErrors.CodeValidation, "articleNumber is required")
	case r.Quantity < 0:
		return dErrors.New(dErrors.CodeValidation, "quantity cannot be negative")
	case !r.PickStatus.Valid():
		return dErrors.New(dErrors.CodeValidation, `pickStatus must be "Plockat" or "Ej plockat"`)
	}
	return nil
}

// UpdateOrderLineRequest is a partial update. The inventoried flag is only
// changed through the inventory action.
type UpdateOrderLineRequest struct {
	OrderNumber   *string     `json:"orderNumber,omitempty"`
	ArticleNumber *string     `json:"articleNumber,omitempty"`
	Description   *string     `json:"description,omitempty"`
	Quantity      *int        `json:"quantity,omitempty"`
	PickStatus    *PickStatus `json:"pickStatus,omitempty"`
}

func (r *UpdateOrderLineRequest) Normalize() {
	trimPtr(&r.OrderNumber)
	trimPtr(&r.ArticleNumber)
	trimPtr(&r.Description)
	if r.PickStatus != nil {
		if status, err := ParsePickStatus(string(*r.PickStatus)); err == nil {
			r.PickStatus = &status
		}
	}
}

func (r *UpdateOrderLineRequest) Validate() error {
	if r.OrderNumber == nil && r.ArticleNumber == nil && r.Description == nil && r.Quantity == nil && r.PickStatus == nil {
		return dErrors.New(dErrors.CodeValidation, "nothing to update")
	}
	switch {
	case r.OrderNumber != nil && *r.OrderNumber == "":
		return dErrors.New(dErrors.CodeValidation, "orderNumber cannot be empty")
	case r.ArticleNumber != nil && *r.ArticleNumber == "":
		return dErrors.New(dErrors.CodeValidation, "articleNumber cannot be empty")
	case r.Quantity != nil && *r.Quantity < 0:
		return dErrors.New(dErrors.CodeValidation, "quantity cannot be negative")
	case r.PickStatus != nil && !r.PickStatus.Valid():
		return dErrors.New(dErrors.CodeValidation, `pickStatus must be "Plockat" or "Ej plockat"`)
	}
	return nil
}

func (r *UpdateOrderLineRequest) Apply(l *OrderLine, now time.Time) error {
	if r.OrderNumber != nil {
		l.OrderNumber = *r.OrderNumber
	}
	if r.ArticleNumber != nil {
		l.ArticleNumber = *r.ArticleNumber
	}
	if r.Description != nil {
		l.Description = *r.Description
	}
	if r.Quantity != nil {
		l.Quantity = *r.Quantity
	}
	if r.PickStatus != nil {
		l.PickStatus = *r.PickStatus
	}
	l.UpdatedAt = now
	return l.check()
}

// OrderLineFilter narrows a listing. Zero value lists everything.
type OrderLineFilter struct {
	OrderNumber string
}
