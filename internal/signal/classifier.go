package signal

import (
	"context"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"main/internal/schema"
)

// Classification is the raw output of a classification backend.
type Classification struct {
	Symbol        string
	Direction     schema.Direction
	Confidence    float64
	SuggestedSize decimal.Decimal
}

// Classifier extracts trading meaning from free-form message text.
// Implementations must be safe for concurrent use; the pipeline runs
// extraction for multiple in-flight messages at once.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

var (
	longWords  = []string{"做多", "买入", "买进", "long", "buy"}
	shortWords = []string{"做空", "卖出", "short", "sell"}
	closeWords = []string{"平仓", "止盈", "止损平仓", "close", "take profit", "tp hit"}

	cashtagPattern = regexp.MustCompile(`\$([A-Za-z]{2,10})\b`)
	pairPattern    = regexp.MustCompile(`\b([A-Z]{2,10})(?:/|-)?(?:USDT|USD|PERP)\b`)
	sizePattern    = regexp.MustCompile(`(?:size|仓位|数量|x)\s*[:=]?\s*([0-9]+(?:\.[0-9]+)?)`)
)

// RuleClassifier is the keyword/pattern classification backend. It knows
// the phrasing used by the monitored channels and scores confidence from
// how many independent cues agree.
type RuleClassifier struct {
	symbols *schema.Registry
}

// NewRuleClassifier builds a rule-based classifier restricted to the
// registered symbols.
func NewRuleClassifier(symbols *schema.Registry) *RuleClassifier {
	return &RuleClassifier{symbols: symbols}
}

// Classify derives symbol, direction and confidence from message text.
// It never fails transiently; unrecognized text simply scores zero.
func (c *RuleClassifier) Classify(_ context.Context, text string) (Classification, error) {
	lower := strings.ToLower(text)

	var out Classification
	longHit := containsAny(lower, longWords) || containsAny(text, longWords)
	shortHit := containsAny(lower, shortWords) || containsAny(text, shortWords)
	closeHit := containsAny(lower, closeWords) || containsAny(text, closeWords)

	switch {
	case (longHit && shortHit) || (closeHit && (longHit || shortHit)):
		// conflicting cues, leave ambiguous for the extractor
		out.Direction = schema.DirectionUnknown
		out.Symbol = c.findSymbol(text)
		return out, nil
	case closeHit:
		out.Direction = schema.DirectionClose
	case longHit:
		out.Direction = schema.DirectionLong
	case shortHit:
		out.Direction = schema.DirectionShort
	default:
		out.Direction = schema.DirectionUnknown
	}

	out.Symbol = c.findSymbol(text)

	score := 0.0
	if out.Direction != schema.DirectionUnknown {
		score += 0.5
	}
	if out.Symbol != "" {
		score += 0.3
		if strings.Contains(text, "$"+out.Symbol) {
			score += 0.1
		}
	}
	if m := sizePattern.FindStringSubmatch(lower); m != nil {
		if size, err := decimal.NewFromString(m[1]); err == nil && size.Sign() > 0 {
			out.SuggestedSize = size
			score += 0.1
		}
	}
	out.Confidence = score
	return out, nil
}

func (c *RuleClassifier) findSymbol(text string) string {
	if m := cashtagPattern.FindStringSubmatch(text); m != nil {
		symbol := strings.ToUpper(m[1])
		if c.symbols == nil || c.symbols.Has(symbol) {
			return symbol
		}
	}
	for _, m := range pairPattern.FindAllStringSubmatch(text, -1) {
		symbol := strings.ToUpper(m[1])
		if c.symbols == nil || c.symbols.Has(symbol) {
			return symbol
		}
	}
	return ""
}

func containsAny(text string, words []string) bool {
	for _, word := range words {
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}
