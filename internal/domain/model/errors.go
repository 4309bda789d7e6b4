package model

import "errors"

var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrGroupNotFound is returned when a group id does not exist.
	ErrGroupNotFound = errors.New("group not found")
	// ErrRuleNotFound is returned when a requested rule id does not exist.
	ErrRuleNotFound = errors.New("rule not found")
)
