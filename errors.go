package aitt

import "errors"

// Sentinel errors returned by the Client API (spec.md §6/§7), mirroring
// the original's AITT_ERROR enum as idiomatic Go error values so callers
// use errors.Is instead of comparing integer codes.
var (
	ErrInvalidParameter = errors.New("aitt: invalid parameter")
	ErrNotReady         = errors.New("aitt: not ready")
	ErrTimedOut         = errors.New("aitt: timed out")
	ErrSystem           = errors.New("aitt: system error")
	ErrBrokerError      = errors.New("aitt: broker error")
	ErrNoData           = errors.New("aitt: no data")
)
