package signal

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"main/internal/schema"
	"main/pkg/exception"
)

// RejectReason enumerates why a raw signal produced no intent.
type RejectReason uint16

const (
	RejectReasonNone RejectReason = iota
	RejectNoSymbolFound
	RejectAmbiguousDirection
	RejectLowConfidence
	RejectMalformedText
	RejectTransientError
)

func (r RejectReason) String() string {
	switch r {
	case RejectNoSymbolFound:
		return "no_symbol_found"
	case RejectAmbiguousDirection:
		return "ambiguous_direction"
	case RejectLowConfidence:
		return "low_confidence"
	case RejectMalformedText:
		return "malformed_text"
	case RejectTransientError:
		return "transient_error"
	default:
		return "none"
	}
}

// Transient reports whether the rejection is retryable.
func (r RejectReason) Transient() bool {
	return r == RejectTransientError
}

// Rejection is the structured outcome for a signal that produced no intent.
type Rejection struct {
	Reason RejectReason `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

// Config tunes the extractor.
type Config struct {
	ConfidenceThreshold float64
	ClassifyTimeout     time.Duration
	DefaultSize         decimal.Decimal
	MaxTextLength       int
	MaxAttempts         int
}

func (c Config) withDefaults() Config {
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = 3 * time.Second
	}
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = 4000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

// Extractor converts raw chat signals into trade intents. It holds no
// mutable shared state; concurrent Extract calls are safe whenever the
// classifier is.
type Extractor struct {
	classifier Classifier
	cfg        Config
}

// NewExtractor builds an extractor over a pluggable classification backend.
func NewExtractor(classifier Classifier, cfg Config) (*Extractor, error) {
	if classifier == nil {
		return nil, exception.ErrSignalNilClassifier
	}
	return &Extractor{classifier: classifier, cfg: cfg.withDefaults()}, nil
}

// MaxAttempts is the bounded retry count for transient rejections.
func (e *Extractor) MaxAttempts() int {
	return e.cfg.MaxAttempts
}

// Extract parses and classifies one raw signal. Exactly one of the return
// values is set. Classifier failures surface as a transient rejection so
// the caller can requeue the signal up to the retry budget.
func (e *Extractor) Extract(ctx context.Context, raw schema.RawSignal) (schema.TradeIntent, *Rejection) {
	text := strings.TrimSpace(raw.RawText)
	if text == "" || !utf8.ValidString(text) {
		return schema.TradeIntent{}, &Rejection{Reason: RejectMalformedText}
	}
	if utf8.RuneCountInString(text) > e.cfg.MaxTextLength {
		return schema.TradeIntent{}, &Rejection{Reason: RejectMalformedText, Detail: "text too long"}
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.ClassifyTimeout)
	defer cancel()

	result, err := e.classifier.Classify(cctx, text)
	if err != nil {
		return schema.TradeIntent{}, &Rejection{Reason: RejectTransientError, Detail: err.Error()}
	}

	if result.Symbol == "" {
		return schema.TradeIntent{}, &Rejection{Reason: RejectNoSymbolFound}
	}
	if result.Direction == schema.DirectionUnknown {
		return schema.TradeIntent{}, &Rejection{Reason: RejectAmbiguousDirection}
	}
	if result.Confidence < e.cfg.ConfidenceThreshold {
		return schema.TradeIntent{}, &Rejection{Reason: RejectLowConfidence}
	}

	size := result.SuggestedSize
	if size.Sign() <= 0 {
		size = e.cfg.DefaultSize
	}
	return schema.TradeIntent{
		IntentID:      uuid.NewString(),
		Symbol:        result.Symbol,
		Direction:     result.Direction,
		Confidence:    result.Confidence,
		SuggestedSize: size,
		Source:        raw,
	}, nil
}
