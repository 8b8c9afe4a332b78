package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindMatching(t *testing.T) {
	err := Newf(KindDuplicateName, "create metric", "metric %q already exists", "Jam Count")
	wrapped := fmt.Errorf("seed catalog: %w", err)

	assert.True(t, Is(wrapped, ErrDuplicateName))
	assert.False(t, Is(wrapped, ErrInvalidDate))
	assert.True(t, IsKind(wrapped, KindDuplicateName))
	assert.Equal(t, KindDuplicateName, KindOf(wrapped))
	assert.Equal(t, `create metric: metric "Jam Count" already exists`, err.Error())
}

func TestErrorUnwrap(t *testing.T) {
	base := stderrors.New("disk full")
	err := New(KindIO, "copy raster", base)

	assert.True(t, stderrors.Is(err, base))
	assert.Equal(t, KindGeneric, KindOf(base))
}

func TestErrorWithContext(t *testing.T) {
	err := New(KindMetricInputMissing, "resolve input", nil).With("input_ref", "centerline")

	assert.Equal(t, "centerline", err.Context["input_ref"])
	assert.Equal(t, "resolve input: metric-input-missing", err.Error())
	assert.True(t, Is(err, ErrMetricInputMissing))
}

func TestErrorIsMatchesOperation(t *testing.T) {
	err := New(KindNetwork, "fetch sites", stderrors.New("timeout"))

	assert.True(t, Is(err, &Error{Kind: KindNetwork, Op: "fetch sites"}))
	assert.False(t, Is(err, &Error{Kind: KindNetwork, Op: "fetch discharge"}))
}
