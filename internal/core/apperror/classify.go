package apperror

import (
	"context"
	"errors"
	"net"
	"strings"
)

// statusCoder is implemented by transport errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

type rule struct {
	kind    Kind
	phrases []string
}

// rules is evaluated top to bottom; the first matching phrase wins.
var rules = []rule{
	{KindInsufficientBalance, []string{"insufficient balance", "insufficient funds", "not enough balance"}},
	{KindSlippageExceeded, []string{"slippage", "price impact", "min amount out", "too little received"}},
	{KindValidation, []string{"invalid", "validation", "required", "malformed", "must be"}},
	{KindCache, []string{"cache", "redis"}},
	{KindNetwork, []string{
		"network", "timeout", "timed out", "econnrefused", "connection refused",
		"connection reset", "fetch failed", "unavailable", "eof",
		"429", "internal server error", "502", "503", "504",
	}},
	{KindContract, []string{"contract", "revert", "abort", "nonce", "execution"}},
}

// KindOf returns the kind err would classify as.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ue *UnifiedError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindNetwork
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code >= 500 || code == 429 {
			return KindNetwork
		}
	}
	return matchText(err.Error())
}

func matchText(text string) Kind {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, p := range r.phrases {
			if strings.Contains(lower, p) {
				return r.kind
			}
		}
	}
	return KindUnknown
}

// Classify maps any failure onto a UnifiedError. An error that is already
// unified is returned unchanged. The raw error text is kept in
// Details["cause"] and never in Message.
func Classify(err error, details map[string]any) *UnifiedError {
	if err == nil {
		return nil
	}
	var ue *UnifiedError
	if errors.As(err, &ue) {
		return ue
	}
	merged := make(map[string]any, len(details)+1)
	for k, v := range details {
		merged[k] = v
	}
	merged["cause"] = err.Error()
	return New(KindOf(err), "", merged)
}
