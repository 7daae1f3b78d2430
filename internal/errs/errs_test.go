package errs

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDisk = errors.New("disk full")

func TestIsMatchesByCode(t *testing.T) {
	err := Newf(InsufficientFunds, "need %s more", "10")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NotErrorIs(t, err, ErrUserFrozen)

	wrapped := fmt.Errorf("open trade: %w", err)
	assert.ErrorIs(t, wrapped, ErrInsufficientFunds)
	assert.Equal(t, InsufficientFunds, CodeOf(wrapped))
	assert.Equal(t, KindFunds, KindOf(wrapped))
}

func TestWrapKeepsCause(t *testing.T) {
	require.NoError(t, Wrap(nil, Internal, "noop"))

	err := Wrap(errDisk, Internal, "persist balance")
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, err, errDisk)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, "persist balance", Message(err))
}

func TestUntaggedErrorsAreInternal(t *testing.T) {
	assert.Equal(t, Internal, CodeOf(errDisk))
	assert.Equal(t, KindInternal, KindOf(errDisk))
	assert.Equal(t, "internal error", Message(errDisk))
}

func TestEveryCodeHasKind(t *testing.T) {
	for code, kind := range kinds {
		if code != Internal {
			assert.NotEqual(t, KindInternal, kind, code)
		}
	}
	assert.Equal(t, KindTransient, KindOfCode(Unavailable))
	assert.Equal(t, "conflict", KindConflict.String())
}
