package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError reports bad input. It is never retried and nothing was written.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// NotFoundError is returned for unknown slugs, ids and tran_ids.
type NotFoundError struct {
	msg string
}

func NewNotFoundError(msg string) *NotFoundError {
	return &NotFoundError{msg: msg}
}

func (err *NotFoundError) Error() string { return err.msg }

// ProcessingError means the payment has not been confirmed yet. Callers should retry later.
type ProcessingError struct {
	TranID string
}

func (err *ProcessingError) Error() string {
	return fmt.Sprintf("payment %s is still being processed", err.TranID)
}

// RejectedError means the gateway declined or cancelled the payment. Callers must stop retrying.
type RejectedError struct {
	TranID string
}

func (err *RejectedError) Error() string {
	return fmt.Sprintf("payment %s was rejected", err.TranID)
}

// GatewayIntegrityError means a success signal could not be re-validated against the gateway.
type GatewayIntegrityError struct {
	TranID string
	Reason string
}

func (err *GatewayIntegrityError) Error() string {
	return fmt.Sprintf("payment %s failed gateway validation: %s", err.TranID, err.Reason)
}

func IsProcessing(err error) bool {
	_, ok := errors.Cause(err).(*ProcessingError)
	return ok
}

func IsRejected(err error) bool {
	_, ok := errors.Cause(err).(*RejectedError)
	return ok
}

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

func IsGatewayIntegrity(err error) bool {
	_, ok := errors.Cause(err).(*GatewayIntegrityError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
