// Package threshold decides whether a transfer amount is large enough to
// alert on.
package threshold

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Evaluator holds the configured minimum amounts. Rules are keyed by token
// contract address (lowercase) or ticker symbol (uppercase); 0x-prefixed
// keys are treated as addresses. With any rule configured the evaluator is
// strict: unlisted tokens are rejected unless a default applies. With no
// rules at all it is lenient and passes everything.
type Evaluator struct {
	byAddress  map[string]decimal.Decimal
	bySymbol   map[string]decimal.Decimal
	defaultMin decimal.Decimal
	hasDefault bool
}

// New parses the rule table. Values are decimal strings of human-readable
// amounts; an unparsable or negative value is a configuration error.
func New(rules map[string]string, defaultMin string) (*Evaluator, error) {
	e := &Evaluator{
		byAddress: make(map[string]decimal.Decimal),
		bySymbol:  make(map[string]decimal.Decimal),
	}
	for key, raw := range rules {
		min, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("threshold for %q: %w", key, err)
		}
		if min.IsNegative() {
			return nil, fmt.Errorf("threshold for %q is negative", key)
		}
		key = strings.TrimSpace(key)
		if strings.HasPrefix(strings.ToLower(key), "0x") {
			e.byAddress[strings.ToLower(key)] = min
		} else {
			e.bySymbol[strings.ToUpper(key)] = min
		}
	}
	if s := strings.TrimSpace(defaultMin); s != "" {
		min, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("default threshold: %w", err)
		}
		if min.IsPositive() {
			e.defaultMin = min
			e.hasDefault = true
		}
	}
	return e, nil
}

// Strict reports whether any per-token rule is configured.
func (e *Evaluator) Strict() bool {
	return len(e.byAddress) > 0 || len(e.bySymbol) > 0
}

// Passes evaluates a transfer. Lookup order: address rule, symbol rule,
// configured default. In strict mode an unmatched transfer is rejected; in
// lenient mode it passes. An unparsable amount always fails closed.
func (e *Evaluator) Passes(tokenAddr, symbol, humanAmount string) bool {
	min, ok := e.lookup(tokenAddr, symbol)
	if !ok {
		return !e.Strict()
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(humanAmount))
	if err != nil {
		return false
	}
	return amount.GreaterThanOrEqual(min)
}

func (e *Evaluator) lookup(tokenAddr, symbol string) (decimal.Decimal, bool) {
	if min, ok := e.byAddress[strings.ToLower(strings.TrimSpace(tokenAddr))]; ok {
		return min, true
	}
	if min, ok := e.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]; ok {
		return min, true
	}
	if e.hasDefault {
		return e.defaultMin, true
	}
	return decimal.Decimal{}, false
}
