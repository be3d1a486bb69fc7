package exception

import "github.com/yanun0323/errors"

// Order execution errors
var (
	ErrOrderDuplicatePlan     = errors.New("order: plan already submitted")
	ErrOrderUnknown           = errors.New("order: not found")
	ErrOrderInvalidTransition = errors.New("order: invalid state transition")
	ErrOrderInvalidFill       = errors.New("order: invalid fill quantity")
	ErrOrderTerminal          = errors.New("order: already terminal")
	ErrOrderConnectionRetry   = errors.New("order: connection retry exhausted")
)
