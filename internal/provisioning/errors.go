package provisioning

import (
	"errors"
	"fmt"
)

var (
	ErrMissingField       = errors.New("missing_required_field")
	ErrEmailTaken         = errors.New("email_already_registered")
	ErrSlugGeneration     = errors.New("slug_generation_failed")
	ErrSchemaVerification = errors.New("schema_verification_failed")
)

// Error records which provisioning step failed so callers and job records
// can report a precise failure point after rollback.
type Error struct {
	Step string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provisioning step %s: %v", e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
