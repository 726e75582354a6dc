// Package domain provides the core domain models and error taxonomy shared
// by every subsystem: the transaction log, the lot engine, the valuation
// kernel, and the risk engine.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error so transport layers can map it to a
// protocol-specific response (HTTP status code, exit code, ...) without
// the core ever depending on a transport package.
type Kind string

const (
	InvalidInstrument Kind = "invalid_instrument"
	MarketData        Kind = "market_data"
	PricingModel      Kind = "pricing_model"
	RiskCalculation   Kind = "risk_calculation"
	Portfolio         Kind = "portfolio"
	Configuration     Kind = "configuration"
	Network           Kind = "network"
	Serialization     Kind = "serialization"
	DateTime          Kind = "date_time"
)

// Error is the single error type returned across subsystem boundaries.
// It carries a Kind so callers can branch on category without string
// matching, and wraps the underlying cause for %w-based unwrapping.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a Kind-tagged error, optionally wrapping a cause.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// IsKind reports whether err (or something it wraps) is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == k
	}
	return false
}
