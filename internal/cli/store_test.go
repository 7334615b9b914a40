package cli

import (
	"context"
	"testing"

	"github.com/harun/stepwise/pkg/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveCommand(t *testing.T) {
	env := newTestEnv(t)

	// creates the databases
	_, _, err := env.execute(t, "", "sessions", "list")
	require.NoError(t, err)

	store, err := archive.NewSQLiteStore(archive.Config{DBPath: env.dataDir + "/archive.db"})
	require.NoError(t, err)
	require.NoError(t, store.AddMessage(context.Background(), archive.Record{MsgID: "m1", Message: "archived body"}))
	require.NoError(t, store.Close())

	t.Run("get", func(t *testing.T) {
		out, _, err := env.execute(t, "", "archive", "get", "m1")
		require.NoError(t, err)
		assert.Equal(t, "archived body\n", out)
	})

	t.Run("get unknown", func(t *testing.T) {
		_, _, err := env.execute(t, "", "archive", "get", "nope")
		assert.ErrorIs(t, err, archive.ErrNotFound)
	})

	t.Run("clean keeps recent", func(t *testing.T) {
		out, _, err := env.execute(t, "", "archive", "clean", "--before", "1h")
		require.NoError(t, err)
		assert.Contains(t, out, "Deleted 0 archived messages")
	})

	t.Run("clean rejects zero", func(t *testing.T) {
		_, _, err := env.execute(t, "", "archive", "clean", "--before", "0s")
		assert.Error(t, err)
	})
}

func TestSessionsCommand_Errors(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.execute(t, "", "sessions", "show", "missing")
	assert.Error(t, err)

	out, _, err := env.execute(t, "", "sessions", "clean")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 0 sessions")
}

func TestJanitorCommand_Once(t *testing.T) {
	env := newTestEnv(t)

	out, _, err := env.execute(t, "", "janitor", "--once", "--before", "24h")
	require.NoError(t, err)
	assert.Equal(t, "Deleted 0 archived messages and 0 sessions\n", out)

	_, _, err = env.execute(t, "", "janitor", "--once", "--schedule", "not a schedule")
	assert.Error(t, err)
}
