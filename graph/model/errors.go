package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrorKind is the closed set of failure classes a provider adapter reports.
type ErrorKind string

const (
	KindAuth         ErrorKind = "auth"
	KindQuota        ErrorKind = "quota"
	KindAccessDenied ErrorKind = "access_denied"
	KindNotFound     ErrorKind = "not_found"
	KindTimeout      ErrorKind = "timeout"
	KindRateLimit    ErrorKind = "rate_limit"
	KindServer       ErrorKind = "server"
	KindValidation   ErrorKind = "validation"
	KindUnknown      ErrorKind = "unknown"
)

// Known gateways, derived from the request host.
const (
	GatewayOpenAI     = "openai"
	GatewayAnthropic  = "anthropic"
	GatewayGoogle     = "google"
	GatewayOpenRouter = "openrouter"
)

// ProviderError is the only error type provider adapters return for failures
// reported by, or on the way to, a provider.
//
// The executor relies on Kind for its retry and fallback decisions and maps
// it onto the alerting categories; callers should match on Kind, never on
// Message.
//
// Example:
//
//	var pe *model.ProviderError
//	if errors.As(err, &pe) && pe.Kind == model.KindQuota {
//	    // top up the tenant's account
//	}
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	Gateway    string // empty when not derivable
	StatusCode int    // 0 when no HTTP response was received
	Message    string
	Cause      error
}

// Error returns "provider[ via gateway][ (status)]: message", e.g.
// "openai via openrouter (429): rate limited".
func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Gateway != "" && e.Gateway != e.Provider {
		b.WriteString(" via ")
		b.WriteString(e.Gateway)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (%d)", e.StatusCode)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap returns the SDK or transport error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// KindForStatus maps an HTTP status code to an ErrorKind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusPaymentRequired:
		return KindQuota
	case status == http.StatusForbidden:
		return KindAccessDenied
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindValidation
	case status >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}

// GatewayFromURL derives the gateway name from a request URL. It returns ""
// for hosts it does not recognize.
func GatewayFromURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.HasSuffix(host, "openrouter.ai"):
		return GatewayOpenRouter
	case strings.HasSuffix(host, "openai.com"):
		return GatewayOpenAI
	case strings.HasSuffix(host, "anthropic.com"):
		return GatewayAnthropic
	case strings.HasSuffix(host, "googleapis.com"):
		return GatewayGoogle
	default:
		return ""
	}
}

// GatewayFromRequest is GatewayFromURL for an optional request.
func GatewayFromRequest(req *http.Request) string {
	if req == nil {
		return ""
	}
	return GatewayFromURL(req.URL)
}

// Classify converts an arbitrary adapter-side error into a *ProviderError.
// Errors that already are provider errors pass through unchanged. Context
// errors become KindTimeout; everything else falls back to message sniffing.
func Classify(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Kind: KindTimeout, Provider: provider, Message: "request timed out", Cause: err}
	}
	return &ProviderError{Kind: kindFromMessage(err.Error()), Provider: provider, Message: err.Error(), Cause: err}
}

func kindFromMessage(msg string) ErrorKind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "api key") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "authentication"):
		return KindAuth
	case strings.Contains(lower, "insufficient") || strings.Contains(lower, "credit") || strings.Contains(lower, "quota"):
		return KindQuota
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		return KindRateLimit
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return KindTimeout
	case strings.Contains(lower, "not found"):
		return KindNotFound
	case strings.Contains(lower, "forbidden") || strings.Contains(lower, "access denied"):
		return KindAccessDenied
	case strings.Contains(lower, "invalid"):
		return KindValidation
	default:
		return KindUnknown
	}
}

// IsTransient reports whether an error is worth a single immediate retry at
// the adapter level.
func IsTransient(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == KindServer || pe.Kind == KindRateLimit
}
