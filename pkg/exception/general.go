package exception

import "github.com/yanun0323/errors"

// General errors
var (
	ErrNilInstance = errors.New("nil instance")
)
