package progress_test

import (
	"context"
	"testing"

	"github.com/book-expert/reading-assistant/internal/core"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, store core.ProgressStore) {
	t.Helper()

	ctx := context.Background()

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, empty, "a fresh store holds no checkpoint")

	require.NoError(t, store.Clear(ctx), "clearing an empty store succeeds")

	require.NoError(t, store.Save(ctx, core.Checkpoint{SequenceID: "abc", NextUnitIndex: 2}))
	require.NoError(t, store.Save(ctx, core.Checkpoint{SequenceID: "abc", NextUnitIndex: 3}))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, &core.Checkpoint{SequenceID: "abc", NextUnitIndex: 3}, loaded)

	invalidErr := store.Save(ctx, core.Checkpoint{SequenceID: "", NextUnitIndex: 1})
	require.ErrorIs(t, invalidErr, core.ErrPersistence)
	require.ErrorIs(t, invalidErr, core.ErrInvalidCheckpoint)

	require.NoError(t, store.Clear(ctx))

	cleared, err := store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, cleared)
}
