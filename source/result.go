package source

import (
	"encoding/json"
	"fmt"
)

// Result codes produced by this package. Errors from the resilient client
// keep their own codes (CIRCUIT_OPEN, TRANSIENT_UPSTREAM, ...).
const (
	CodePanic  = "PANIC"
	CodeDecode = "DECODE_ERROR"
)

// Result is the normalized outcome of one task.
type Result struct {
	Success    bool            `json:"success"`
	Found      bool            `json:"found"`
	Confidence float64         `json:"confidence"`
	Data       json.RawMessage `json:"data,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// OK returns a successful result carrying data. data may be a
// json.RawMessage, a []byte holding JSON, or any value json.Marshal accepts.
func OK(data any) Result {
	raw, err := encode(data)
	if err != nil {
		return Err(CodeDecode, err.Error())
	}
	return Result{Success: true, Found: true, Confidence: 1, Data: raw}
}

// NotFound returns a successful lookup that matched nothing.
func NotFound() Result {
	return Result{Success: true}
}

// Err returns a failed result.
func Err(code, message string) Result {
	return Result{ErrorCode: code, Message: message}
}

// WithConfidence returns r with its confidence set, clamped to [0, 1].
func (r Result) WithConfidence(c float64) Result {
	switch {
	case c < 0:
		c = 0
	case c > 1:
		c = 1
	}
	r.Confidence = c
	return r
}

// WithFound returns r with its found flag set.
func (r Result) WithFound(found bool) Result {
	r.Found = found
	if !found {
		r.Confidence = 0
	}
	return r
}

func encode(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return json.RawMessage(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return b, nil
	}
}
