package errors

import (
	"errors"
	"fmt"
)

// Domain error types for business logic

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidState indicates an operation is not valid for the current state
	ErrInvalidState = errors.New("invalid state")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrUnavailable indicates a service is unavailable
	ErrUnavailable = errors.New("service unavailable")
)

// Run lifecycle errors

var (
	// ErrRunCancelled indicates a run was cancelled before completing
	ErrRunCancelled = errors.New("run cancelled")

	// ErrRunNotFinished indicates a result was requested for a run still in progress
	ErrRunNotFinished = errors.New("run not finished")

	// ErrInsufficientResearch indicates research produced no competitors and no trends
	ErrInsufficientResearch = errors.New("insufficient research data")

	// ErrEmptyAnalysis indicates the analysis step produced no usable output
	ErrEmptyAnalysis = errors.New("analysis produced no usable output")

	// ErrReviewTimeout indicates a review decision did not arrive in time
	ErrReviewTimeout = errors.New("review decision timed out")
)

// Cost-related errors

var (
	// ErrBudgetExceeded indicates the run budget would be or has been exceeded
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrDailyLimitExceeded indicates the daily spending limit was exceeded
	ErrDailyLimitExceeded = errors.New("daily cost limit exceeded")
)

// External provider errors

var (
	// ErrExternal indicates an upstream provider returned an error
	ErrExternal = errors.New("external service error")

	// ErrRateLimitExceeded indicates API rate limit exceeded
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrMalformedResponse indicates a provider response could not be parsed
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrEmptyResponse indicates a provider returned no usable content
	ErrEmptyResponse = errors.New("empty provider response")
)

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
