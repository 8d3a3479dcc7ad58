package domain

import "errors"

var (
	ErrJobNotFound       = errors.New("scheduled job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrJobConflict is returned when a guarded update matched no row,
	// i.e. another actor moved the job first.
	ErrJobConflict = errors.New("job was modified concurrently")
)
