package physics

import (
	"errors"
	"time"
)

// Core physics errors
var (
	// Configuration errors

	ErrUnknownDriver     = errors.New("driver not recognized")
	ErrUnknownStatsSink  = errors.New("stats sink not recognized")
	ErrUnknownEngine     = errors.New("worker engine not recognized")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrMissingNetworkURL = errors.New("network driver requires a url")

	// Backend availability errors

	ErrBackendUnavailable = errors.New("physics backend unavailable")
	ErrNotInitialized     = errors.New("driver not initialized")
	ErrAlreadyInitialized = errors.New("driver already initialized")

	// Runtime faults

	ErrWorkerFault    = errors.New("background simulation failed")
	ErrWorkerStalled  = errors.New("background simulation stalled")
	ErrConnectionLost = errors.New("state connection lost")
	ErrCommandQueue   = errors.New("command queue full")
	ErrDriverClosed   = errors.New("driver closed")
	ErrNotSupported   = errors.New("operation not supported by driver")

	// Registration errors

	ErrBodyNotRegistered       = errors.New("body not registered")
	ErrBodyAlreadyRegistered   = errors.New("body already registered")
	ErrConstraintNotRegistered = errors.New("constraint not registered")
	ErrMaterialExists          = errors.New("material already registered")
	ErrMaterialNotFound        = errors.New("material not found")

	// Stale data, never surfaced to callers, counted only

	ErrStaleSnapshot = errors.New("stale snapshot discarded")
	ErrStaleState    = errors.New("stale state message discarded")

	// Assertion violations

	ErrWindowIncomplete   = errors.New("stat window read before it was full")
	ErrUnexpectedBodyType = errors.New("unexpected body classification")
)

// ErrorCode groups errors by class.
type ErrorCode int

const (
	ErrorCodeSuccess ErrorCode = 0

	// Configuration error codes (1000-1999)

	ErrorCodeUnknownDriver    ErrorCode = 1001
	ErrorCodeUnknownStatsSink ErrorCode = 1002
	ErrorCodeUnknownEngine    ErrorCode = 1003
	ErrorCodeInvalidConfig    ErrorCode = 1004

	// Backend unavailable codes (2000-2999)

	ErrorCodeBackendUnavailable ErrorCode = 2001
	ErrorCodeNotInitialized     ErrorCode = 2002

	// Runtime fault codes (3000-3999)

	ErrorCodeWorkerFault    ErrorCode = 3001
	ErrorCodeWorkerStalled  ErrorCode = 3002
	ErrorCodeConnectionLost ErrorCode = 3003
	ErrorCodeCommandQueue   ErrorCode = 3004
	ErrorCodeDriverClosed   ErrorCode = 3005

	// Stale data codes (4000-4999)

	ErrorCodeStaleSnapshot ErrorCode = 4001
	ErrorCodeStaleState    ErrorCode = 4002

	// Assertion codes (5000-5999)

	ErrorCodeWindowIncomplete   ErrorCode = 5001
	ErrorCodeUnexpectedBodyType ErrorCode = 5002

	ErrorCodeUnknownError ErrorCode = 9999
)

// Error is a physics error with a class code and context.
type Error struct {
	Code      ErrorCode
	Message   string
	Cause     error
	Context   map[string]any
	Timestamp int64
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a coded error.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Context:   make(map[string]any),
		Timestamp: time.Now().Unix(),
	}
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// IsFatal reports whether the error stops the simulation.
func (e *Error) IsFatal() bool {
	switch e.Code {
	case ErrorCodeUnknownDriver,
		ErrorCodeUnknownStatsSink,
		ErrorCodeUnknownEngine,
		ErrorCodeInvalidConfig,
		ErrorCodeBackendUnavailable,
		ErrorCodeWorkerFault,
		ErrorCodeWorkerStalled,
		ErrorCodeDriverClosed:
		return true
	default:
		return false
	}
}

// IsStale reports whether the error only describes discarded late data.
func (e *Error) IsStale() bool {
	return e.Code == ErrorCodeStaleSnapshot || e.Code == ErrorCodeStaleState
}

var errorCodeMap = map[error]ErrorCode{
	ErrUnknownDriver:      ErrorCodeUnknownDriver,
	ErrUnknownStatsSink:   ErrorCodeUnknownStatsSink,
	ErrUnknownEngine:      ErrorCodeUnknownEngine,
	ErrInvalidConfig:      ErrorCodeInvalidConfig,
	ErrMissingNetworkURL:  ErrorCodeInvalidConfig,
	ErrBackendUnavailable: ErrorCodeBackendUnavailable,
	ErrNotInitialized:     ErrorCodeNotInitialized,
	ErrWorkerFault:        ErrorCodeWorkerFault,
	ErrWorkerStalled:      ErrorCodeWorkerStalled,
	ErrConnectionLost:     ErrorCodeConnectionLost,
	ErrCommandQueue:       ErrorCodeCommandQueue,
	ErrDriverClosed:       ErrorCodeDriverClosed,
	ErrStaleSnapshot:      ErrorCodeStaleSnapshot,
	ErrStaleState:         ErrorCodeStaleState,
	ErrWindowIncomplete:   ErrorCodeWindowIncomplete,
	ErrUnexpectedBodyType: ErrorCodeUnexpectedBodyType,
}

// GetErrorCode returns the code for err.
func GetErrorCode(err error) ErrorCode {
	if code, exists := errorCodeMap[err]; exists {
		return code
	}

	var physicsErr *Error
	if errors.As(err, &physicsErr) {
		return physicsErr.Code
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return ErrorCodeUnknownError
}

// WrapError wraps err into a coded Error.
func WrapError(err error, message string) *Error {
	return NewError(GetErrorCode(err), message, err)
}

// IsFatal reports whether err is a fatal physics error.
func IsFatal(err error) bool {
	var physicsErr *Error
	if errors.As(err, &physicsErr) {
		return physicsErr.IsFatal()
	}
	return false
}

// Fault wraps a runtime fault as a coded error carrying the driver kind.
func Fault(kind DriverKind, sentinel error, cause error) *Error {
	var wrapped error = sentinel
	if cause != nil {
		wrapped = &faultCause{sentinel: sentinel, cause: cause}
	}
	e := NewError(GetErrorCode(sentinel), "physics "+string(kind)+" driver", wrapped)
	return e.WithContext("driver", string(kind))
}

// faultCause keeps both the sentinel and the underlying cause reachable
// through errors.Is.
type faultCause struct {
	sentinel error
	cause    error
}

func (f *faultCause) Error() string   { return f.sentinel.Error() + ": " + f.cause.Error() }
func (f *faultCause) Unwrap() []error { return []error{f.sentinel, f.cause} }
