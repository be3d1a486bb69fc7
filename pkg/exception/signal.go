package exception

import "github.com/yanun0323/errors"

// Signal extraction errors
var (
	ErrSignalNilClassifier = errors.New("signal: nil classifier")
)
