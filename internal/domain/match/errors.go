package match

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("match not found")
	ErrConflict   = errors.New("match already exists for job and resume")
	ErrValidation = errors.New("invalid match data")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
