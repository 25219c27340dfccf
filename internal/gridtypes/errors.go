package gridtypes

import "gitlab.com/NebulousLabs/errors"

// Sentinel error kinds. Components wrap these with errors.AddContext;
// internal/api unwraps with errors.Contains to pick an HTTP status.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrInsufficientCredit = errors.New("insufficient credits")
	ErrNotFound           = errors.New("not found")
	ErrInternal           = errors.New("internal error")
)
