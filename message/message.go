// Package message defines the RPC envelope exchanged between client and server
// and the status-code taxonomy shared by every call.
//
// Envelope is the body of every protocol frame. It gets serialized by the codec
// layer and wrapped in a frame for transmission over TCP.
package message

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies the terminal status of a call or stream.
type Code uint8

const (
	CodeOK              Code = 0 // Call completed normally
	CodeInvalidArgument Code = 1 // Malformed input — caller-correctable
	CodeNotFound        Code = 2 // Unknown order id — caller-correctable
	CodeCancelled       Code = 3 // Caller aborted the call
	CodeInternal        Code = 4 // Unexpected server fault
	CodeUnavailable     Code = 5 // Transport-level rejection (e.g. rate limit)
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeNotFound:
		return "NotFound"
	case CodeCancelled:
		return "Cancelled"
	case CodeInternal:
		return "Internal"
	case CodeUnavailable:
		return "Unavailable"
	}
	return fmt.Sprintf("Code(%d)", uint8(c))
}

// Envelope carries the data for a single frame body.
//
//   - On Request:  Method is set, Payload contains the serialized request.
//   - On Data:     Payload contains one serialized stream message.
//   - On Response: Payload contains the serialized reply.
//   - On Error:    Code and Error describe the terminal failure.
type Envelope struct {
	Method  string // Format: "ServiceName.MethodName", e.g. "OrderService.Create"
	Code    Code   // Terminal status; CodeOK everywhere except Error frames
	Error   string // Human-readable message, non-empty iff Code != CodeOK
	Payload []byte // JSON-encoded schema message
}

// Error is a status error with a code attached. It is what handlers return
// and what stream readers observe on an explicit terminal error.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return e.Code.String() + ": " + e.Msg
}

// Errorf builds an *Error with the given code.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the status code from an error.
// Context cancellation and deadline expiry map to CodeCancelled;
// anything unrecognized is a server fault.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancelled
	}
	return CodeInternal
}

// FromEnvelope reconstructs the *Error carried by an Error-frame envelope.
func FromEnvelope(env *Envelope) *Error {
	return &Error{Code: env.Code, Msg: env.Error}
}
