package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"simtrade-core/internal/errs"
	"simtrade-core/pkg/db"
)

func TestEnsureAndGates(t *testing.T) {
	ctx := context.Background()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	d := NewDirectory(database, zap.NewNop())
	u, err := d.Ensure(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, u.Blocked())
	assert.False(t, d.Blocked("alice"))

	_, err = d.SetFlags(ctx, "alice", true, false)
	require.NoError(t, err)
	assert.True(t, d.Blocked("alice"))

	// Reload from the store keeps the flag.
	fresh := NewDirectory(database, nil)
	require.NoError(t, fresh.Load(ctx))
	assert.True(t, fresh.Blocked("alice"))
	assert.Equal(t, []string{"alice"}, fresh.IDs())
}

func TestEnsureRejectsEmptyID(t *testing.T) {
	_, err := NewDirectory(nil, nil).Ensure(context.Background(), "")
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestSetFlagsUnknownUser(t *testing.T) {
	_, err := NewDirectory(nil, nil).SetFlags(context.Background(), "ghost", true, true)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
