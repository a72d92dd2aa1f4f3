package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeNetwork represents network-related errors
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeParsing represents HTML parsing errors
	ErrorTypeParsing ErrorType = "parsing"
	// ErrorTypeRateLimit represents rate limiting errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeStorage represents sink/storage errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeProgress represents progress-store errors
	ErrorTypeProgress ErrorType = "progress"
	// ErrorTypeValidation represents record validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// HarvestError represents a pipeline-specific error with source attribution
type HarvestError struct {
	Type    ErrorType
	Source  string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *HarvestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Source, e.Message)
}

// Unwrap returns the underlying error
func (e *HarvestError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is retryable
func (e *HarvestError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNetwork:
		return true
	case ErrorTypeStorage:
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error must abort the current run.
// Per-unit failures (network, parsing, rate limiting, validation) are
// recovered at their origin; only structural failures propagate.
func (e *HarvestError) IsFatal() bool {
	switch e.Type {
	case ErrorTypeStorage, ErrorTypeProgress, ErrorTypeConfiguration:
		return true
	default:
		return false
	}
}

// New creates a new HarvestError
func New(errType ErrorType, source, message string, err error) *HarvestError {
	return &HarvestError{
		Type:    errType,
		Source:  source,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewNetwork creates a new network error
func NewNetwork(source, message string, err error) *HarvestError {
	return New(ErrorTypeNetwork, source, message, err)
}

// NewParsing creates a new parsing error
func NewParsing(source, message string, err error) *HarvestError {
	return New(ErrorTypeParsing, source, message, err)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(source string, duration time.Duration) *HarvestError {
	message := fmt.Sprintf("rate limited for %v", duration)
	return New(ErrorTypeRateLimit, source, message, nil)
}

// NewStorage creates a new storage error
func NewStorage(source, message string, err error) *HarvestError {
	return New(ErrorTypeStorage, source, message, err)
}

// NewProgress creates a new progress-store error
func NewProgress(source, message string, err error) *HarvestError {
	return New(ErrorTypeProgress, source, message, err)
}

// NewValidation creates a new validation error
func NewValidation(source, message string) *HarvestError {
	return New(ErrorTypeValidation, source, message, nil)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *HarvestError {
	return New(ErrorTypeConfiguration, "", message, err)
}
