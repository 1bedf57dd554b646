package capture

import (
	"errors"
	"fmt"
)

// PreconditionError reports that a relation does not qualify for capture.
// The install pass records it and moves on; the relation is excluded rather
// than left to fail at row-write time in production.
type PreconditionError struct {
	Relation string
	Reason   string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("capture precondition failed for relation %q: %s", e.Relation, e.Reason)
}

// IsPrecondition reports whether err is a capture precondition failure.
// Uses errors.As to handle wrapped errors.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
