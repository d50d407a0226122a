package apperror

import "time"

// Response is the error envelope returned to callers.
type Response struct {
	Success   bool      `json:"success"`
	Error     Body      `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Body is the caller-visible part of a UnifiedError. It never carries Details.
type Body struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
	Retryable   bool     `json:"retryable"`
}

// FormatResponse builds the envelope for err.
func FormatResponse(err *UnifiedError) Response {
	if err == nil {
		err = New(KindUnknown, "", nil)
	}
	return Response{
		Success: false,
		Error: Body{
			Code:        err.Code,
			Message:     err.Message,
			Suggestions: append([]string(nil), err.Suggestions...),
			Retryable:   err.Retryable,
		},
		Timestamp: time.Now(),
	}
}

// FormatError classifies err and builds its envelope.
func FormatError(err error) Response {
	return FormatResponse(Classify(err, nil))
}
