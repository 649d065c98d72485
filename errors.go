package fulltext

import (
	"errors"
	"fmt"
)

// ErrorKind represents the category of error
type ErrorKind string

const (
	KindInvalidInput        ErrorKind = "invalid_input"
	KindMissingCollaborator ErrorKind = "missing_collaborator"
	KindUnresolvedScope     ErrorKind = "unresolved_scope"
	KindDuplicateBinding    ErrorKind = "duplicate_binding"
	KindExecution           ErrorKind = "execution"
	KindInternal            ErrorKind = "internal"
)

// Error codes
const (
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeInvalidOperand      = "INVALID_OPERAND"
	ErrCodeUnknownField        = "UNKNOWN_FIELD"
	ErrCodeUnknownOperator     = "UNKNOWN_OPERATOR"
	ErrCodeUnknownOrder        = "UNKNOWN_ORDER"
	ErrCodeUnknownSchema       = "UNKNOWN_SCHEMA"
	ErrCodeInvalidFilter       = "INVALID_FILTER"
	ErrCodeMissingCollaborator = "MISSING_COLLABORATOR"
	ErrCodeMissingTSVectorType = "MISSING_TSVECTOR_TYPE"
	ErrCodeUnresolvedScope     = "UNRESOLVED_SCOPE"
	ErrCodeDuplicateBinding    = "DUPLICATE_BINDING"
	ErrCodeQueryExecution      = "QUERY_EXECUTION_ERROR"
	ErrCodeCatalogLoad         = "CATALOG_LOAD_FAILED"
	ErrCodeInternalError       = "INTERNAL_ERROR"
)

// Error is the error type returned across package boundaries.
type Error struct {
	Kind    ErrorKind      `json:"kind"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s:%s] field '%s': %s", e.Kind, e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a single detail to the error
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause adds a cause to the error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithField adds field context to the error
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// NewError creates a new Error
func NewError(kind ErrorKind, code, message string) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// NewInvalidInputError reports a request-level validation failure.
func NewInvalidInputError(code, message string) *Error {
	return NewError(KindInvalidInput, code, message)
}

// NewInvalidOperandError reports a filter operand of the wrong shape.
func NewInvalidOperandError(field, operator string, value any) *Error {
	return NewError(KindInvalidInput, ErrCodeInvalidOperand,
		fmt.Sprintf("operator '%s' expects a string operand, got %T", operator, value)).
		WithField(field).
		WithDetail("operator", operator)
}

// NewMissingCollaboratorError reports a capability absent at build time.
func NewMissingCollaboratorError(code, message string) *Error {
	return NewError(KindMissingCollaborator, code, message)
}

// NewUnresolvedScopeError reports a predicate built outside any row-set scope.
func NewUnresolvedScopeError(field string) *Error {
	return NewError(KindUnresolvedScope, ErrCodeUnresolvedScope,
		"no enclosing query scope; rank and rank ordering are unavailable").
		WithField(field)
}

// NewDuplicateBindingError reports a second matches filter on one field within a scope.
func NewDuplicateBindingError(field string) *Error {
	return NewError(KindDuplicateBinding, ErrCodeDuplicateBinding,
		"field is already bound to a matches filter in this scope").
		WithField(field)
}

// NewExecutionError wraps a database failure.
func NewExecutionError(message string, cause error) *Error {
	return NewError(KindExecution, ErrCodeQueryExecution, message).WithCause(cause)
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
