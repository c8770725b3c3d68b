package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into coded domain errors:
//   - ErrNotFound: row does not exist
//   - ErrAlreadyUsed: a unique key (username, article number) is taken
//   - ErrReferenceMissing: a foreign key points at a row that does not exist
//   - ErrUnavailable: backing store temporarily unreachable
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyUsed      = errors.New("already used")
	ErrReferenceMissing = errors.New("referenced row missing")
	ErrUnavailable      = errors.New("unavailable")
)
