// Unified error handling for the PlasticPilot daemon
//
// Copyright (C) 2025 Go port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error.
type ErrorCode string

const (
	// Session-level errors
	ErrDeviceUnavailable  ErrorCode = "DEVICE_UNAVAILABLE"
	ErrDeviceDisconnected ErrorCode = "DEVICE_DISCONNECTED"
	ErrSinkRejected       ErrorCode = "SINK_REJECTED"
	ErrSessionState       ErrorCode = "SESSION_STATE"

	// Input classification (not a failure; used for debug log tagging)
	ErrAmbiguousInput ErrorCode = "AMBIGUOUS_INPUT"

	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"
	ErrConfigOutOfRange ErrorCode = "CONFIG_OUT_OF_RANGE"

	// Transport errors
	ErrSerialOpen ErrorCode = "SERIAL_OPEN"
	ErrSerialIO   ErrorCode = "SERIAL_IO"

	// Everything else
	ErrInternal ErrorCode = "INTERNAL"
)

// PilotError is the unified error type for the daemon.
type PilotError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Section is the config section or component context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Line is the config file line number (if applicable)
	Line int

	// Err wraps the underlying error
	Err error

	// Context provides additional structured context
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *PilotError) Error() string {
	switch {
	case e.Section != "" && e.Option != "":
		return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.Section, e.Option, e.Message)
	case e.Section != "":
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Section, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *PilotError) Unwrap() error {
	return e.Err
}

// SetSection sets the context section.
func (e *PilotError) SetSection(section string) *PilotError {
	e.Section = section
	return e
}

// SetOption sets the config option.
func (e *PilotError) SetOption(option string) *PilotError {
	e.Option = option
	return e
}

// SetLine sets the config file line number.
func (e *PilotError) SetLine(line int) *PilotError {
	e.Line = line
	return e
}

// SetContext adds structured context.
func (e *PilotError) SetContext(key string, value interface{}) *PilotError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new PilotError.
func New(code ErrorCode, message string) *PilotError {
	return &PilotError{Code: code, Message: message}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code ErrorCode, message string) *PilotError {
	return &PilotError{Code: code, Message: message, Err: err}
}

// Session errors

// DeviceUnavailableError reports that a controller could not be listed or
// opened. The session stays inactive.
func DeviceUnavailableError(id string, err error) *PilotError {
	return Wrap(err, ErrDeviceUnavailable, fmt.Sprintf("controller '%s' unavailable", id)).
		SetContext("controller_id", id)
}

// DeviceDisconnectedError reports a mid-session poll failure.
func DeviceDisconnectedError(name string, err error) *PilotError {
	return Wrap(err, ErrDeviceDisconnected, fmt.Sprintf("controller '%s' disconnected", name)).
		SetContext("controller", name)
}

// SinkRejectedError reports a hard failure from the printer command channel.
func SinkRejectedError(reason string, err error) *PilotError {
	return Wrap(err, ErrSinkRejected, fmt.Sprintf("printer rejected command: %s", reason))
}

// SessionStateError reports an operation invalid in the current session state.
func SessionStateError(state, operation string) *PilotError {
	return New(ErrSessionState, fmt.Sprintf("cannot %s while session is %s", operation, state)).
		SetContext("state", state)
}

// AmbiguousInputError tags simultaneous extrude and retract pressure. This
// is suppressed input, not a session failure; it exists for debug logging.
func AmbiguousInputError(left, right float64) *PilotError {
	return New(ErrAmbiguousInput, fmt.Sprintf("both triggers active (left=%.2f right=%.2f)", left, right))
}

// Config errors

// ConfigSectionError creates an error for a missing config section.
func ConfigSectionError(section string) *PilotError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigOptionError creates an error for a missing config option.
func ConfigOptionError(section, option string) *PilotError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' not found in section '%s'", option, section)).
		SetSection(section).
		SetOption(option)
}

// ConfigTypeError creates an error for a config value that failed to parse.
func ConfigTypeError(section, option, value, targetType string, err error) *PilotError {
	return Wrap(err, ErrConfigType, fmt.Sprintf("failed to parse '%s' as %s", value, targetType)).
		SetSection(section).
		SetOption(option)
}

// ConfigOutOfRangeError creates an error for a value outside its declared
// bounds or violating a cross-field invariant.
func ConfigOutOfRangeError(section, option, reason string) *PilotError {
	return New(ErrConfigOutOfRange, reason).
		SetSection(section).
		SetOption(option)
}

// Transport errors

// SerialOpenError reports a failure to open or configure the serial port.
func SerialOpenError(port string, err error) *PilotError {
	return Wrap(err, ErrSerialOpen, fmt.Sprintf("cannot open serial port '%s'", port)).
		SetContext("port", port)
}

// SerialIOError reports a read or write failure on an open port.
func SerialIOError(operation string, err error) *PilotError {
	return Wrap(err, ErrSerialIO, fmt.Sprintf("serial %s failed", operation)).
		SetContext("operation", operation)
}

// InternalError creates a catch-all error for unexpected conditions.
func InternalError(message string) *PilotError {
	return New(ErrInternal, message)
}

// RecoverPanic converts a recovered panic into a PilotError. Call it in a
// deferred function.
func RecoverPanic() *PilotError {
	if r := recover(); r != nil {
		switch x := r.(type) {
		case string:
			return InternalError(fmt.Sprintf("panic: %s", x))
		case runtime.Error:
			return InternalError(fmt.Sprintf("panic: %s", x.Error()))
		case error:
			return InternalError(x.Error())
		default:
			return InternalError(fmt.Sprintf("panic: %v", x))
		}
	}
	return nil
}

// Is reports whether err (or anything it wraps) carries the given code.
func Is(err error, code ErrorCode) bool {
	var pe *PilotError
	if stderrors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or ErrInternal if err is not a
// PilotError.
func CodeOf(err error) ErrorCode {
	var pe *PilotError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ErrInternal
}

// Reason returns the human-readable message for surfacing to operators:
// the PilotError message when available, otherwise err.Error().
func Reason(err error) string {
	var pe *PilotError
	if stderrors.As(err, &pe) {
		return pe.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// IsConfig reports whether err is any configuration error.
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigType) ||
		Is(err, ErrConfigOutOfRange)
}

// IsDevice reports whether err is a controller device error.
func IsDevice(err error) bool {
	return Is(err, ErrDeviceUnavailable) || Is(err, ErrDeviceDisconnected)
}

// IsSerial reports whether err is a serial transport error.
func IsSerial(err error) bool {
	return Is(err, ErrSerialOpen) || Is(err, ErrSerialIO)
}
