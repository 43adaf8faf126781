package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound              = errors.New("entity not found")
	ErrAlreadyExists         = errors.New("entity already exists")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInvalidExecContext    = errors.New("invalid executor context")
	ErrForbidden             = errors.New("forbidden")
	ErrUserBanned            = errors.New("user is banned")
	ErrModelNotFound         = errors.New("model not found or inactive")
	ErrParameterNotSupported = errors.New("parameter not supported by model")
	ErrParameterInvalid      = errors.New("parameter value not allowed")
	ErrPriceNotFound         = errors.New("no price configured for model")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrTooManyReferences     = errors.New("too many reference images")
	ErrProviderSubmitFailed  = errors.New("upstream submission failed")
	ErrTerminalState         = errors.New("generation is already in a terminal state")
	ErrBroadcastNotPending   = errors.New("broadcast is not in pending state")
	ErrRecipientBlocked      = errors.New("recipient blocked the bot")
)

// ActiveLimitError is returned when a user already runs the maximum number of
// parallel generations. It carries the counts the API surfaces in the 409 body.
type ActiveLimitError struct {
	ActiveCount int
	Limit       int
}

func (e *ActiveLimitError) Error() string { return "active generation limit reached" }

// ProviderBalanceLowError gates admission when the upstream account is running dry.
type ProviderBalanceLowError struct {
	Balance   float64
	Threshold float64
}

func (e *ProviderBalanceLowError) Error() string { return "provider balance low" }
