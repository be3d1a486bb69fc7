package exception

import "github.com/yanun0323/errors"

// Journal errors
var (
	ErrJournalClosed       = errors.New("journal: writer closed")
	ErrJournalChecksum     = errors.New("journal: checksum mismatch")
	ErrJournalTruncated    = errors.New("journal: truncated record")
	ErrJournalPayloadSize  = errors.New("journal: payload exceeds limit")
	ErrJournalSeqRegressed = errors.New("journal: sequence regressed")
)
