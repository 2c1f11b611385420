package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrShowtimeNotFound  = errors.New("showtime not found")
	ErrUnitNotFound      = errors.New("unit not found")
	ErrConflict          = errors.New("unit is not available")
	ErrRejected          = errors.New("hold is not owned by the caller or is already gone")
	ErrHoldLimitReached  = errors.New("maximum number of held units reached")
	ErrSelectionExpired  = errors.New("your selections have expired, please select your units again")
	ErrUnitAlreadyBooked = errors.New("unit(s) are already booked")
	ErrEmptySelection    = errors.New("at least one unit must be selected")
)

// FinalizeError lists the requested units that were not validly held by the
// caller. No unit of the request is mutated when it is returned.
type FinalizeError struct {
	Units []string
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSelectionExpired, strings.Join(e.Units, ", "))
}

func (e *FinalizeError) Is(target error) bool {
	return target == ErrSelectionExpired
}

// ExternalWriteError reports a failed durable booking write. The units have
// been rolled back to AVAILABLE, so the caller may retry with a new selection.
type ExternalWriteError struct {
	Err error
}

func (e *ExternalWriteError) Error() string {
	return fmt.Sprintf("booking could not be stored: %v", e.Err)
}

func (e *ExternalWriteError) Unwrap() error {
	return e.Err
}
