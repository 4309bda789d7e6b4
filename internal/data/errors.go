package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	ErrJobRequired   = errors.New("job is required")
	ErrGroupRequired = errors.New("group is required")
	ErrRuleRequired  = errors.New("rule is required")
)
