package exchange

import (
	"errors"
	"fmt"

	"github.com/perpjournal/tradesync/internal/model"
)

// Kind classifies exchange failures into the common taxonomy the orchestrator
// maps to user-visible messages. Anything unclassified collapses to KindInternal.
type Kind string

const (
	KindAuth        Kind = "AUTH_ERROR"
	KindClockSkew   Kind = "CLOCK_SKEW"
	KindPermission  Kind = "PERMISSION_ERROR"
	KindRateLimited Kind = "RATE_LIMITED"
	KindNetwork     Kind = "NETWORK_ERROR"
	KindValidation  Kind = "VALIDATION_ERROR"
	KindInternal    Kind = "INTERNAL"
)

// Error carries the venue, the classification, the native code when one was
// returned, and an optional remediation string surfaced to the user.
type Error struct {
	Exchange    model.Exchange
	Kind        Kind
	Code        string
	Remediation string
	Err         error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s (code %s): %v", e.Exchange, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Exchange, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a classification for the given venue.
func NewError(ex model.Exchange, kind Kind, code string, err error) *Error {
	return &Error{Exchange: ex, Kind: kind, Code: code, Err: err}
}

// KindOf extracts the classification from an error chain, defaulting to
// KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindInternal
}

// UserMessage renders a user-facing message for a failed sync or validation.
// The remediation text wins when the client attached one.
func UserMessage(err error) string {
	var ee *Error
	if !errors.As(err, &ee) {
		return err.Error()
	}
	if ee.Remediation != "" {
		return ee.Remediation
	}
	switch ee.Kind {
	case KindAuth:
		return fmt.Sprintf("Invalid API credentials for %s. Please check your API key and secret.", ee.Exchange)
	case KindClockSkew:
		return fmt.Sprintf("Request timestamp rejected by %s. Check that your system clock is synchronized (NTP).", ee.Exchange)
	case KindPermission:
		return fmt.Sprintf("API key for %s lacks the required read permission.", ee.Exchange)
	case KindRateLimited:
		return fmt.Sprintf("Rate limited by %s. Please retry later.", ee.Exchange)
	case KindNetwork:
		return fmt.Sprintf("Request timeout. %s API is slow or unreachable.", ee.Exchange)
	default:
		return ee.Err.Error()
	}
}
