package runner

import "fmt"

// RequestError is the declared, catchable business-error channel. A
// handler returns one to signal an expected failure carrying a payload
// the caller should receive; the runner uploads the payload durably
// before the result references it.
type RequestError struct {
	// Code is a stable, caller-visible error code.
	Code string
	// Message is caller-visible and must not carry sensitive data.
	Message string
	// Payload is serialized with the allocation's serializer and
	// uploaded as the result's output blob. May be nil.
	Payload any
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request error %s: %s", e.Code, e.Message)
}
