package harvest

import "errors"

var (
	// ErrApplicationNotFound is returned when a reference search does not
	// lead to an application page.
	ErrApplicationNotFound = errors.New("harvest: application not found")
	// ErrRateLimitCeiling is returned when a run waited out more rate-limit
	// cooldowns than allowed.
	ErrRateLimitCeiling = errors.New("harvest: rate-limit wait ceiling reached")
)
