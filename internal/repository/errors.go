// Package repository defines error types that are reused across multiple
// repositories. These values allow higher layers such as handlers and the
// reservation coordinator to distinguish between failure scenarios that
// need different treatment: seat contention is an expected, frequent
// outcome that callers present to the user, while an infrastructure
// failure must surface as a server error and be retried by the caller.
package repository

import (
	"errors"
	"fmt"
	"strings"
)

// ErrScheduleNotFound indicates that a schedule was not located in the DB.
var ErrScheduleNotFound = errors.New("schedule not found")

// ErrScheduleNotBookable is returned when a hold or booking is attempted
// on a schedule that has departed or been withdrawn from sale. Handlers
// should translate this into an HTTP 409 response.
var ErrScheduleNotBookable = errors.New("schedule not bookable")

// ErrStaleHold is returned when a promotion is attempted after the
// session's locks expired, even though no other session has taken the
// seats since. It is deliberately distinct from ConflictError so clients
// can tell "you were too slow" apart from "someone else took it".
var ErrStaleHold = errors.New("seat hold expired or not owned by session")

// ErrTicketNotFound indicates that a support ticket does not exist.
var ErrTicketNotFound = errors.New("ticket not found")

// ConflictError is returned by lock acquisition when one or more of the
// requested seats carry a live lock held by a different session or are
// already confirmed-booked. It names exactly the blocking seats so the
// caller can tell the user which seats to drop before retrying; the
// repository never retries on its own.
type ConflictError struct {
	SeatNos []string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("seats unavailable: %s", strings.Join(e.SeatNos, ","))
}

// AsConflict unwraps a ConflictError from err, returning nil when err is
// of a different kind.
func AsConflict(err error) *ConflictError {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}
