package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("disk full")
	err := Wrap(CodeDependency, cause, "saving artifact")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, CodeDependency, err.Code())
	assert.Equal(t, "DEPENDENCY_ERROR: saving artifact", err.Error())
}

func TestAsFindsTypedErrorInChain(t *testing.T) {
	typed := New(CodeQuotaExceeded, "limit reached")
	wrapped := fmt.Errorf("send rejected: %w", typed)

	found := As(wrapped)
	require.NotNil(t, found)
	assert.Equal(t, CodeQuotaExceeded, found.Code())

	assert.Nil(t, As(stdErrors.New("plain")))
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeStateConflict, "pending only"))

	assert.True(t, HasCode(err, CodeStateConflict))
	assert.False(t, HasCode(err, CodeNotFound))
	assert.False(t, HasCode(nil, CodeNotFound))
}

func TestMetadataForUnknownCodeFallsBack(t *testing.T) {
	meta := MetadataFor(Code("NOPE"))
	assert.Equal(t, http.StatusInternalServerError, meta.HTTPStatus)
}

func TestDumpCollectsChain(t *testing.T) {
	err := Wrap(CodeInternal, stdErrors.New("root"), "top")
	d := Dump(err)

	assert.Equal(t, CodeInternal, d.Code)
	assert.Len(t, d.Chain, 2)
}
