package service

import (
	"fmt"
	"strings"

	dErrors "lagerkoll/pkg/domain-errors"
)

// toValidation turns a model invariant failure into a client error.
func toValidation(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	return err
}

// rowError prefixes err with its 1-based spreadsheet data row.
func rowError(i int, err error) error {
	return dErrors.Wrap(err, dErrors.CodeOf(err), fmt.Sprintf("row %d: %s", i+1, dErrors.MessageOf(err)))
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
