package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrNotFound         = fmt.Errorf("not found")
	ErrSessionNotFound  = fmt.Errorf("session not found")
	ErrCapacityExceeded = fmt.Errorf("capacity exceeded")
	ErrEmbeddingFailed  = fmt.Errorf("embedding generation failed")
	ErrIndexUnavailable = fmt.Errorf("persistent index unavailable")
	ErrIndexStore       = fmt.Errorf("index store operation failed")
	ErrIndexSearch      = fmt.Errorf("index search failed")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrDecryption       = fmt.Errorf("decryption failed")
	ErrEngineClosed     = fmt.Errorf("engine is closed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Engine.StoreContext")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and the
// gateway's error responses.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	CodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
	CodeEmbeddingFailed  ErrorCode = "EMBEDDING_FAILED"
	CodeIndexUnavailable ErrorCode = "INDEX_UNAVAILABLE"
	CodeIndexStore       ErrorCode = "INDEX_STORE"
	CodeIndexSearch      ErrorCode = "INDEX_SEARCH"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeDecryption       ErrorCode = "DECRYPTION"
	CodeEngineClosed     ErrorCode = "ENGINE_CLOSED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrInvalidInput:     CodeInvalidInput,
	ErrNotFound:         CodeNotFound,
	ErrSessionNotFound:  CodeSessionNotFound,
	ErrCapacityExceeded: CodeCapacityExceeded,
	ErrEmbeddingFailed:  CodeEmbeddingFailed,
	ErrIndexUnavailable: CodeIndexUnavailable,
	ErrIndexStore:       CodeIndexStore,
	ErrIndexSearch:      CodeIndexSearch,
	ErrConfigLoad:       CodeConfigLoad,
	ErrDecryption:       CodeDecryption,
	ErrEngineClosed:     CodeEngineClosed,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and walks the chain with errors.Is.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
