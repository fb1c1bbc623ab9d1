// README: Coded errors carried from services to transport and clients.
package types

import "fmt"

// Error is the coded error shape every core operation returns for caller
// faults. Code is stable and machine-readable; Retryable tells clients a
// short backoff and retry may succeed (contention class). Infrastructure
// failures are returned as plain wrapped errors, not *Error.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// Is matches by code so sentinels compare equal to derived copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithMessagef returns a copy of the sentinel carrying a specific message.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// WithDetails returns a copy of the sentinel carrying structured details.
func (e *Error) WithDetails(details any) *Error {
	c := *e
	c.Details = details
	return &c
}
