package invoke

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/agentgraph/graph/model"
)

// Category is the alerting taxonomy for failed calls.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryQuota      Category = "quota"
	CategoryAuth       Category = "auth"
	CategoryTimeout    Category = "timeout"
	CategoryRateLimit  Category = "rate_limit"
	CategoryUnknown    Category = "unknown"
)

// Categorized is implemented by errors from outside the provider adapters
// that know their own category, such as missing credentials.
type Categorized interface {
	error
	ErrorCategory() Category
}

// TimeoutError is returned when a call exceeds its overall budget or makes no
// progress within the stall window.
type TimeoutError struct {
	// Stall is true when the stall watchdog fired rather than the overall
	// deadline.
	Stall bool

	// After is the budget that was exceeded.
	After time.Duration
}

// Error returns "stall timeout: ..." or "overall timeout after ...".
func (e *TimeoutError) Error() string {
	if e.Stall {
		return fmt.Sprintf("stall timeout: no progress for %s", e.After)
	}
	return fmt.Sprintf("overall timeout after %s", e.After)
}

// Normalized is the single-message, structured form of a failed call.
type Normalized struct {
	Message    string          `json:"message"`
	Category   Category        `json:"category"`
	Kind       model.ErrorKind `json:"kind,omitempty"`
	Provider   string          `json:"provider,omitempty"`
	Gateway    string          `json:"gateway,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	Timeout    bool            `json:"timeout,omitempty"`
	Cause      string          `json:"cause,omitempty"`
}

// Normalize converts any error raised during a call into a Normalized value
// with a user-facing message.
func Normalize(provider string, err error) Normalized {
	if err == nil {
		return Normalized{Category: CategoryUnknown, Provider: provider}
	}

	var te *TimeoutError
	if errors.As(err, &te) {
		return Normalized{
			Message:  fmt.Sprintf("%s request timed out (%s)", provider, te.Error()),
			Category: CategoryTimeout,
			Kind:     model.KindTimeout,
			Provider: provider,
			Timeout:  true,
		}
	}

	if errors.Is(err, context.Canceled) {
		return Normalized{Message: "request cancelled", Category: CategoryUnknown, Provider: provider, Cause: err.Error()}
	}

	var c Categorized
	if errors.As(err, &c) {
		return Normalized{Message: c.Error(), Category: c.ErrorCategory(), Provider: provider}
	}

	pe := model.Classify(provider, err)
	n := Normalized{
		Category:   categoryFor(pe.Kind),
		Kind:       pe.Kind,
		Provider:   pe.Provider,
		Gateway:    pe.Gateway,
		StatusCode: pe.StatusCode,
		Timeout:    pe.Kind == model.KindTimeout,
		Cause:      pe.Message,
	}
	n.Message = friendlyMessage(pe)
	return n
}

func categoryFor(kind model.ErrorKind) Category {
	switch kind {
	case model.KindAuth, model.KindAccessDenied:
		return CategoryAuth
	case model.KindQuota:
		return CategoryQuota
	case model.KindTimeout:
		return CategoryTimeout
	case model.KindRateLimit:
		return CategoryRateLimit
	case model.KindValidation, model.KindNotFound:
		return CategoryValidation
	default:
		return CategoryUnknown
	}
}

func friendlyMessage(pe *model.ProviderError) string {
	who := pe.Provider
	if pe.Gateway != "" && pe.Gateway != pe.Provider {
		who = fmt.Sprintf("%s (via %s)", pe.Provider, pe.Gateway)
	}

	switch pe.Kind {
	case model.KindAuth:
		return fmt.Sprintf("Authentication failed for %s: check that the API key is valid", who)
	case model.KindQuota:
		return fmt.Sprintf("Insufficient credits for %s: add credits or choose a cheaper model", who)
	case model.KindAccessDenied:
		return fmt.Sprintf("Access denied by %s: the API key is not allowed to use this model", who)
	case model.KindNotFound:
		return fmt.Sprintf("Model not found at %s: %s", who, pe.Message)
	case model.KindRateLimit:
		return fmt.Sprintf("Rate limit reached for %s: retry later", who)
	case model.KindServer:
		return fmt.Sprintf("%s is temporarily unavailable (status %d): retry later", who, pe.StatusCode)
	case model.KindTimeout:
		return fmt.Sprintf("%s request timed out", who)
	case model.KindValidation:
		return fmt.Sprintf("Invalid request to %s: %s", who, pe.Message)
	default:
		return fmt.Sprintf("%s call failed: %s", who, pe.Message)
	}
}
