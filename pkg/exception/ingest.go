package exception

import "github.com/yanun0323/errors"

// Ingest errors
var (
	ErrIngestHelloTimeout   = errors.New("ingest: hello frame timed out")
	ErrIngestSessionInvalid = errors.New("ingest: session invalidated")
	ErrIngestUnknownOpcode  = errors.New("ingest: unknown gateway opcode")
)
