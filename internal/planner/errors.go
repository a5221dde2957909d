package planner

import "errors"

// Domain errors.
var (
	ErrJobNotFound     = errors.New("planner: job not found")
	ErrUnknownHandler  = errors.New("planner: no handler defined for job name")
	ErrInvalidSchedule = errors.New("planner: invalid schedule")
	ErrStopped         = errors.New("planner: stopped")
)
