package tenancy

import (
	"errors"
	"fmt"
)

// ErrScopeViolation matches every *ScopeViolation through errors.Is.
var ErrScopeViolation = errors.New("tenant scope violation")

// ScopeViolation reports a data-access operation that could not be
// attributed to exactly one tenant. It is never retried.
type ScopeViolation struct {
	Entity   Entity
	Action   Action
	Reason   string
	Expected string
	Got      string
}

func (v *ScopeViolation) Error() string {
	msg := fmt.Sprintf("tenant scope violation: %s %s: %s", v.Action, v.Entity, v.Reason)
	if v.Expected != "" || v.Got != "" {
		msg += fmt.Sprintf(" (context tenant %q, operation tenant %q)", v.Expected, v.Got)
	}
	return msg
}

func (v *ScopeViolation) Unwrap() error { return ErrScopeViolation }

// IsScopeViolation is shorthand for errors.Is(err, ErrScopeViolation).
func IsScopeViolation(err error) bool {
	return errors.Is(err, ErrScopeViolation)
}
