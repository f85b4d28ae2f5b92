package store

import "errors"

var (
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrStationNotFound = errors.New("station not found")
	ErrJobNotFound     = errors.New("badge job not found")
	// ErrInvalidState is returned when a badge job transition is
	// attempted from the wrong status, e.g. retrying a job that is not
	// failed.
	ErrInvalidState = errors.New("invalid badge job state")
)
