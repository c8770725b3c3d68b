package models

import (
	"strings"

	dErrors "lagerkoll/pkg/domain-errors"
)

// Resource names a bulk import/export target. Values match the REST
// collection paths.
type Resource string

const (
	ResourceArticles        Resource = "articles"
	ResourceOrderLines      Resource = "order-lines"
	ResourceInventoryCounts Resource = "inventory-counts"
	ResourceUsers           Resource = "users"
)

// Resources lists every import/export target in display order.
var Resources = []Resource{ResourceArticles, ResourceOrderLines, ResourceInventoryCounts, ResourceUsers}

func ParseResource(s string) (Resource, error) {
	r := Resource(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Resources {
		if r == known {
			return r, nil
		}
	}
	return "", dErrors.New(dErrors.CodeBadRequest, "unknown resource "+s)
}

// PasswordConfirmation is the body of verify-password and clear-all-data.
type PasswordConfirmation struct {
	Password string `json:"password"`
}

func (p PasswordConfirmation) Validate() error {
	if p.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}
	return nil
}

// ImportResult reports a committed bulk import.
type ImportResult struct {
	Resource Resource `json:"resource"`
	Count    int      `json:"count"`
}
