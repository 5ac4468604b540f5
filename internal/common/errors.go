package common

import "errors"

// Stable error kinds surfaced by the engine. Callers match with
// errors.Is; layers may wrap them with extra context.
var (
	ErrBadRequest         = errors.New("bad request")
	ErrUnknownAsset       = errors.New("unknown asset")
	ErrInsufficientFree   = errors.New("insufficient free balance")
	ErrInsufficientLocked = errors.New("insufficient locked balance")
	ErrOverflow           = errors.New("arithmetic overflow")
	ErrUnknownOrder       = errors.New("unknown order")
	ErrNotPermitted       = errors.New("not permitted")
	ErrNotCancelable      = errors.New("order not cancelable")
	ErrPairExists         = errors.New("order pair exists")

	// ErrInvariant indicates an internal underflow or inconsistency
	// during settlement. It is fatal: the submission that triggered it
	// must be unwound by the caller, and its occurrence is a bug.
	ErrInvariant = errors.New("invariant violation")
)
