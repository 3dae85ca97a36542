package topup

import "errors"

// ValidationError is a caller-correctable rejection. Code is stable and safe
// to return to clients.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	ErrInvalidUserID   = &ValidationError{Code: "invalid_user_id", Message: "user id is required"}
	ErrAmountNotNumber = &ValidationError{Code: "amount_not_number", Message: "amount must be a whole number"}
	ErrAmountTooLow    = &ValidationError{Code: "amount_too_low", Message: "amount is below the minimum topup"}
	ErrAmountTooHigh   = &ValidationError{Code: "amount_too_high", Message: "amount is above the maximum topup"}
	ErrUserNotFound    = &ValidationError{Code: "user_not_found", Message: "user not found"}
)

var (
	ErrGateway        = errors.New("gateway error")
	ErrIntentNotFound = errors.New("intent not found")
	ErrAmountMismatch = errors.New("callback amount does not match intent")
	ErrUnknownOutcome = errors.New("unknown payment outcome")
)
