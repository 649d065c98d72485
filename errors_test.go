package fulltext

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	err := NewDuplicateBindingError("fullText")
	assert.Equal(t, "[duplicate_binding:DUPLICATE_BINDING] field 'fullText': field is already bound to a matches filter in this scope", err.Error())

	err = NewMissingCollaboratorError(ErrCodeMissingTSVectorType, "no tsvector")
	assert.Equal(t, "[missing_collaborator:MISSING_TSVECTOR_TYPE] no tsvector", err.Error())
}

func TestError_Constructors(t *testing.T) {
	operand := NewInvalidOperandError("fullText", OpMatches, 5)
	assert.Equal(t, KindInvalidInput, operand.Kind)
	assert.Equal(t, ErrCodeInvalidOperand, operand.Code)
	assert.Equal(t, "fullText", operand.Field)
	assert.Equal(t, OpMatches, operand.Details["operator"])
	assert.Contains(t, operand.Message, "int")

	scope := NewUnresolvedScopeError("fullText")
	assert.Equal(t, KindUnresolvedScope, scope.Kind)
	assert.Equal(t, ErrCodeUnresolvedScope, scope.Code)

	cause := errors.New("connection reset")
	exec := NewExecutionError("query failed", cause)
	assert.Equal(t, KindExecution, exec.Kind)
	assert.ErrorIs(t, exec, cause)
}

func TestIsKind(t *testing.T) {
	wrapped := fmt.Errorf("plan: %w", NewInvalidInputError(ErrCodeUnknownField, "unknown field"))
	assert.True(t, IsKind(wrapped, KindInvalidInput))
	assert.False(t, IsKind(wrapped, KindExecution))
	assert.False(t, IsKind(errors.New("plain"), KindInvalidInput))
	assert.False(t, IsKind(nil, KindInvalidInput))
}

func TestError_ChainedDetails(t *testing.T) {
	err := NewError(KindInternal, ErrCodeInternalError, "boom").
		WithField("x").
		WithDetail("a", 1).
		WithDetail("b", 2)
	require.Len(t, err.Details, 2)
	assert.Equal(t, "x", err.Field)
}
