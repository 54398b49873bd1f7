package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Storage errors
	ErrJobNotFound   = fmt.Errorf("download job not found")
	ErrTrackNotFound = fmt.Errorf("offline track not found")
	ErrQueueClosed   = fmt.Errorf("queue store closed")
	ErrLocked        = fmt.Errorf("data directory is locked by another process")

	// Remote service errors
	ErrAPIRequest          = fmt.Errorf("API request failed")
	ErrServiceUnavailable  = fmt.Errorf("service unavailable")
	ErrItemNotFound        = fmt.Errorf("item not found")
	ErrRangeNotSatisfiable = fmt.Errorf("requested range not satisfiable")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrInvalidQuality  = fmt.Errorf("invalid quality")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
