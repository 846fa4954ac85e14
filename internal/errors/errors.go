// Package errors provides code-typed errors for the search and identity core.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeFeatureDisabled        Code = "search.feature.disabled"
	CodeDimensionMismatch      Code = "embedding.dimension.mismatch"
	CodeSearchUnavailable      Code = "search.encoder.unavailable"
	CodeConflictDuringReassign Code = "person.reassign.conflict"
	CodeTransactionAborted     Code = "store.transaction.aborted"
	CodeNotFound               Code = "store.entity.not_found"
	CodeInvalidInput           Code = "request.invalid"
	CodeDatabaseFailure        Code = "store.database.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

// DimensionMismatch reports a vector whose length differs from the store's dimension.
func DimensionMismatch(want, got int) error {
	return New(CodeDimensionMismatch,
		fmt.Sprintf("embedding has %d dimensions, expected %d", got, want),
		Field("expected", want), Field("actual", got))
}

// FeatureDisabled reports a request for a feature switched off in the system config.
func FeatureDisabled(feature string) error {
	return New(CodeFeatureDisabled, feature+" is not enabled", Field("feature", feature))
}

// NotFound reports a missing entity.
func NotFound(kind, id string) error {
	return New(CodeNotFound, kind+" not found", Field("kind", kind), Field("id", id))
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error code to the status the HTTP adapter answers with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeFeatureDisabled:
		return http.StatusNotImplemented
	case CodeDimensionMismatch, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeSearchUnavailable:
		return http.StatusServiceUnavailable
	case CodeTransactionAborted:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Is is re-exported so callers importing this package keep access to errors.Is.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is re-exported so callers importing this package keep access to errors.As.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

func flatten(fields []Attr) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}
