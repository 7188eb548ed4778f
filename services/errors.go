package services

import "errors"

// Error taxonomy of the escrow engine. Operations wrap these with context;
// use errors.Is to classify.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("tournament not found")
	ErrInvalidState       = errors.New("operation not allowed in current tournament state")
	ErrUnauthorized       = errors.New("caller is not authorized")
	ErrUnknownPlayer      = errors.New("player is not on any roster")
	ErrAlreadyContributed = errors.New("player slot already funded")
	ErrTransferFailed     = errors.New("token transfer failed")
)

// Token ledger failures. The engine reports them wrapped in ErrTransferFailed.
var (
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
	ErrInvalidAmount         = errors.New("token amount must be positive")
	ErrAmountOverflow        = errors.New("token amount overflows")
)

// ErrNotOwner is returned by the ownership registry when the sender of a
// transfer does not hold the token.
var ErrNotOwner = errors.New("sender does not own the tournament token")

// ErrorCode returns a stable machine-readable code for err, or "internal".
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotOwner):
		return "unauthorized"
	case errors.Is(err, ErrUnknownPlayer):
		return "unknown_player"
	case errors.Is(err, ErrAlreadyContributed):
		return "already_contributed"
	case errors.Is(err, ErrTransferFailed),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInsufficientAllowance):
		return "transfer_failed"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrAmountOverflow):
		return "invalid_argument"
	}
	return "internal"
}
