package cli

import "github.com/stackforge/gitstack/errs"

// SilentError wraps an error whose user-facing message has already been
// printed, so main's top-level error handler does not print it a second
// time.
type SilentError struct {
	Err error
}

func NewSilentError(err error) *SilentError {
	return &SilentError{Err: err}
}

func (e *SilentError) Error() string { return e.Err.Error() }
func (e *SilentError) Unwrap() error { return e.Err }

// ExitCode maps the error taxonomy to a process exit code: 0 for success,
// a distinct non-zero code for Conflict (so scripts can special-case it
// without parsing stderr), and a generic non-zero code for every other
// error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var conflict *errs.Conflict
	if asConflict(err, &conflict) {
		return 2
	}
	return 1
}

func asConflict(err error, target **errs.Conflict) bool {
	for err != nil {
		if c, ok := err.(*errs.Conflict); ok {
			*target = c
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
