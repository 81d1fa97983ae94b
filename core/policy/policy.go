// Package policy defines the rejection vocabulary shared by all engine
// components. Every rejection carries a stable machine-checkable reason plus
// a human-readable message so callers can distinguish policy violations for
// UI messaging instead of collapsing them into a generic failure.
package policy

import (
	"errors"
	"fmt"
)

// Reason codes. Stable; clients match on these.
const (
	ReasonInvalidInput        = "invalid-input"
	ReasonRequestNotActive    = "request-not-active"
	ReasonIneligibleByType    = "ineligible-by-type"
	ReasonCooldownActive      = "cooldown-active"
	ReasonAlreadyPledged      = "already-pledged"
	ReasonInvalidCode         = "invalid-code"
	ReasonTooManyAttempts     = "too-many-attempts"
	ReasonNotArrived          = "not-arrived"
	ReasonInsufficientCredits = "insufficient-credits"
	ReasonSelfSwap            = "self-swap"
	ReasonAlreadyResolved     = "already-resolved"
	ReasonNoLocation          = "no-location"
)

// Rejection is a synchronous refusal of an operation.
type Rejection struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

// Reject builds a Rejection with a formatted message.
func Reject(reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// As extracts a Rejection from an error chain.
func As(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// Is reports whether err is a Rejection with the given reason.
func Is(err error, reason string) bool {
	r, ok := As(err)
	return ok && r.Reason == reason
}
