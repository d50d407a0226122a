// Package apperror defines the unified error taxonomy shared by every
// component of the orchestrator, the classifier that maps raw failures onto
// it, and the only error envelope allowed to cross a service boundary.
package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Kind is the category of a UnifiedError.
type Kind string

const (
	KindContract            Kind = "ContractError"
	KindValidation          Kind = "ValidationError"
	KindInsufficientBalance Kind = "InsufficientBalance"
	KindSlippageExceeded    Kind = "SlippageExceeded"
	KindNetwork             Kind = "NetworkError"
	KindCache               Kind = "CacheError"
	KindUnknown             Kind = "UnknownError"
)

type kindInfo struct {
	codePrefix  string
	message     string
	retryable   bool
	suggestions []string
}

var kinds = map[Kind]kindInfo{
	KindContract: {
		codePrefix: "CONTRACT_ERROR",
		message:    "The contract call failed",
		retryable:  true,
		suggestions: []string{
			"Retry the operation in a few moments",
			"Check that the contract is not paused",
			"Verify the transaction parameters",
		},
	},
	KindValidation: {
		codePrefix: "VALIDATION_ERROR",
		message:    "The request is invalid",
		suggestions: []string{
			"Check the request parameters",
			"Ensure all required fields are provided",
		},
	},
	KindInsufficientBalance: {
		codePrefix: "INSUFFICIENT_BALANCE",
		message:    "The account balance is too low for this operation",
		suggestions: []string{
			"Top up the account balance",
			"Reduce the amount",
			"Keep enough balance to cover fees",
		},
	},
	KindSlippageExceeded: {
		codePrefix: "SLIPPAGE_EXCEEDED",
		message:    "The price moved beyond the allowed slippage",
		retryable:  true,
		suggestions: []string{
			"Increase the slippage tolerance",
			"Retry with a smaller amount",
			"Wait for the market to settle",
		},
	},
	KindNetwork: {
		codePrefix: "NETWORK_ERROR",
		message:    "A network request to an external service failed",
		retryable:  true,
		suggestions: []string{
			"Check your network connection",
			"Retry the operation",
			"The external service may be temporarily unavailable",
		},
	},
	KindCache: {
		codePrefix: "CACHE_ERROR",
		message:    "The cache is unavailable",
		suggestions: []string{
			"The operation continues without cached data",
			"Check the cache service health",
		},
	},
	KindUnknown: {
		codePrefix: "UNKNOWN_ERROR",
		message:    "An unexpected error occurred",
		suggestions: []string{
			"Retry the operation later",
			"Contact support if the problem persists",
		},
	},
}

// UnifiedError is the classified form of any failure. Values are never
// mutated after construction.
type UnifiedError struct {
	Kind        Kind           `json:"kind"`
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Suggestions []string       `json:"suggestions"`
	Retryable   bool           `json:"retryable"`
	Timestamp   time.Time      `json:"timestamp"`
}

func (e *UnifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MarshalJSON renders e without the raw cause in Details.
func (e UnifiedError) MarshalJSON() ([]byte, error) {
	type plain UnifiedError
	out := plain(e)
	if _, ok := e.Details["cause"]; ok {
		out.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			if k != "cause" {
				out.Details[k] = v
			}
		}
		if len(out.Details) == 0 {
			out.Details = nil
		}
	}
	return json.Marshal(out)
}

// Is matches any UnifiedError of the same kind.
func (e *UnifiedError) Is(target error) bool {
	var other *UnifiedError
	if errors.As(target, &other) {
		return other.Kind == e.Kind && (other.Code == "" || other.Code == e.Code)
	}
	return false
}

// Cause returns the raw failure text captured at classification, if any.
func (e *UnifiedError) Cause() string {
	if s, ok := e.Details["cause"].(string); ok {
		return s
	}
	return ""
}

var seq atomic.Uint64

func nextCode(k Kind) string {
	return fmt.Sprintf("%s_%d_%d", infoFor(k).codePrefix, time.Now().UnixMilli(), seq.Add(1))
}

func infoFor(k Kind) kindInfo {
	info, ok := kinds[k]
	if !ok {
		return kinds[KindUnknown]
	}
	return info
}

// New creates a UnifiedError of kind. An empty message uses the kind default.
func New(kind Kind, message string, details map[string]any) *UnifiedError {
	if _, ok := kinds[kind]; !ok {
		kind = KindUnknown
	}
	info := kinds[kind]
	if message == "" {
		message = info.message
	}
	return &UnifiedError{
		Kind:        kind,
		Code:        nextCode(kind),
		Message:     message,
		Details:     copyDetails(details),
		Suggestions: Suggestions(kind),
		Retryable:   info.retryable,
		Timestamp:   time.Now(),
	}
}

// Validation is shorthand for New(KindValidation, ...).
func Validation(format string, args ...any) *UnifiedError {
	return New(KindValidation, fmt.Sprintf(format, args...), nil)
}

// Suggestions returns a copy of the default remediation hints for kind.
func Suggestions(kind Kind) []string {
	return append([]string(nil), infoFor(kind).suggestions...)
}

// IsRetryable reports the fixed retryability of kind.
func IsRetryable(kind Kind) bool {
	return infoFor(kind).retryable
}

// IsKind reports whether err classifies as kind without generating a new code.
func IsKind(err error, kind Kind) bool {
	var ue *UnifiedError
	if errors.As(err, &ue) {
		return ue.Kind == kind
	}
	return err != nil && KindOf(err) == kind
}

func copyDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}

// String implements fmt.Stringer for log attributes.
func (k Kind) String() string {
	return string(k)
}

// CodePrefix is the stable per-kind part of Code.
func (k Kind) CodePrefix() string {
	return infoFor(k).codePrefix
}

// HasPrefix reports whether code was generated for kind.
func HasPrefix(code string, kind Kind) bool {
	return strings.HasPrefix(code, kind.CodePrefix()+"_")
}
