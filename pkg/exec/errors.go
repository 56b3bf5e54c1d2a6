package exec

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout matches every *TimeoutError
	ErrTimeout = errors.New("execution timed out")

	// ErrUnsupported matches every *UnsupportedOperationError
	ErrUnsupported = errors.New("unsupported operation")

	// ErrNoMoreRows is returned by Next on an exhausted stream
	ErrNoMoreRows = errors.New("no more rows")
)

// Category classifies command errors
type Category int

const (
	// CategoryExecution covers failures while running a valid plan
	CategoryExecution Category = iota
	// CategoryConfiguration covers plans that cannot run as built
	CategoryConfiguration
	// CategoryDataShape covers values of the wrong shape at runtime
	CategoryDataShape
)

func (c Category) String() string {
	switch c {
	case CategoryConfiguration:
		return "configuration"
	case CategoryDataShape:
		return "data shape"
	default:
		return "execution"
	}
}

// CommandError is raised when a command cannot be executed
type CommandError struct {
	Category Category
	Database string
	Message  string
	Cause    error
}

// NewCommandError builds a CommandError with a formatted message
func NewCommandError(category Category, database, format string, args ...any) *CommandError {
	return &CommandError{Category: category, Database: database, Message: fmt.Sprintf(format, args...)}
}

// WrapCommandError builds a CommandError around cause
func WrapCommandError(category Category, database string, cause error, format string, args ...any) *CommandError {
	return &CommandError{Category: category, Database: database, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *CommandError) Error() string {
	msg := e.Message
	if e.Database != "" {
		msg += fmt.Sprintf(" [database=%s]", e.Database)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Cause }

// TimeoutError is raised when a step or statement exceeds its time budget
type TimeoutError struct {
	Limit   time.Duration
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout expired after %s (limit %s)", e.Elapsed.Round(time.Millisecond), e.Limit)
}

// Is lets errors.Is(err, ErrTimeout) match
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// UnsupportedOperationError is raised by steps that do not implement an
// optional capability such as serialization
type UnsupportedOperationError struct {
	Operation string
	Target    string
}

func (e *UnsupportedOperationError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s is not supported", e.Operation)
	}
	return fmt.Sprintf("%s is not supported by %s", e.Operation, e.Target)
}

// Is lets errors.Is(err, ErrUnsupported) match
func (e *UnsupportedOperationError) Is(target error) bool { return target == ErrUnsupported }
