package exception

import "github.com/yanun0323/errors"

// Ledger errors
var (
	ErrLedgerDuplicateFill = errors.New("ledger: duplicate fill")
	ErrLedgerZeroQuantity  = errors.New("ledger: zero fill quantity")
	ErrLedgerStoreUnset    = errors.New("ledger: durable store not configured")
)
