package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	goerrors "github.com/go-errors/errors"
)

type ErrorType string

const (
	ErrTypeValidation ErrorType = "VALIDATION"
	ErrTypeNetwork    ErrorType = "NETWORK"
	ErrTypeServer     ErrorType = "SERVER"
	ErrTypeAIParsing  ErrorType = "AI_PARSING"
	ErrTypeNotFound   ErrorType = "NOT_FOUND"
	ErrTypeInternal   ErrorType = "INTERNAL"
)

// DomainError is the single error type crossing package boundaries. Op names
// the operation that failed ("create job"); Status is the HTTP status for
// server errors and 0 otherwise.
type DomainError struct {
	Type    ErrorType
	Op      string
	Message string
	Status  int
	Err     error
	Stack   []byte
}

func (e *DomainError) Error() string {
	parts := []string{string(e.Type)}
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func (e *DomainError) StackTrace() []byte {
	return e.Stack
}

func New(errType ErrorType, message string, err error) *DomainError {
	var stack []byte
	if err != nil {
		if stackErr, ok := err.(*goerrors.Error); ok {
			stack = stackErr.Stack()
		} else {
			stack = goerrors.Wrap(err, 2).Stack()
		}
	} else {
		stack = goerrors.New(message).Stack()
	}

	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Stack:   stack,
	}
}

// WithOp returns a copy of e tagged with the failing operation.
func (e *DomainError) WithOp(op string) *DomainError {
	c := *e
	c.Op = op
	return &c
}

func Validation(message string) *DomainError {
	return New(ErrTypeValidation, message, nil)
}

func Network(message string, err error) *DomainError {
	return New(ErrTypeNetwork, message, err)
}

// Server builds the error for a non-2xx response. message is the server's
// reason when it sent one.
func Server(status int, message string) *DomainError {
	e := New(ErrTypeServer, message, nil)
	e.Status = status
	return e
}

func AIParsing(message string, err error) *DomainError {
	return New(ErrTypeAIParsing, message, err)
}

func NotFound(message string, err error) *DomainError {
	return New(ErrTypeNotFound, message, err)
}

func Internal(message string, err error) *DomainError {
	return New(ErrTypeInternal, message, err)
}

// As returns the first DomainError in err's chain.
func As(err error) (*DomainError, bool) {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func IsType(err error, t ErrorType) bool {
	de, ok := As(err)
	return ok && de.Type == t
}

// StatusOf returns the HTTP status of a server error, or 0.
func StatusOf(err error) int {
	if de, ok := As(err); ok {
		return de.Status
	}
	return 0
}

// UserMessage renders err for display: "<op> failed: <reason>".
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	de, ok := As(err)
	if !ok {
		return err.Error()
	}
	reason := de.Message
	if reason == "" && de.Err != nil {
		reason = de.Err.Error()
	}
	if de.Op == "" {
		return reason
	}
	return fmt.Sprintf("%s failed: %s", de.Op, reason)
}
