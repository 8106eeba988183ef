package store

import "errors"

// Sentinel errors surfaced by store operations. internal/command maps these
// onto the exact RESP error strings spec.md §7 requires.
var (
	ErrWrongType     = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	ErrNotInteger    = errors.New("ERR value is not an integer or out of range")
	ErrNotFloat      = errors.New("ERR value is not a valid float")
	ErrStreamIDZero  = errors.New("ERR The ID specified in XADD must be greater than 0-0")
	ErrStreamIDOrder = errors.New("ERR The ID specified in XADD is equal or smaller than the target stream top item")
)
