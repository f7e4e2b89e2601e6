package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/driver"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/driver/databasesql"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/driver/pgxv5"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/internal/testutil"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

func setupPostgres(t *testing.T, drv driver.Driver, db *testutil.TestDB) Store {
	t.Helper()
	ctx := context.Background()

	_, err := Migrate(ctx, drv)
	require.NoError(t, err)
	require.NoError(t, db.CleanTables(ctx))

	return NewPostgresStore(drv, &PostgresConfig{LockTimeout: 2 * time.Second})
}

func TestIntegration_PostgresStore_PGX(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	drv := pgxv5.New(db.Pool)

	runStoreTests(t, func(t *testing.T) Store {
		return setupPostgres(t, drv, db)
	})
}

func TestIntegration_PostgresStore_DatabaseSQL(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	drv, err := databasesql.Open(db.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = drv.Close() })

	runStoreTests(t, func(t *testing.T) Store {
		return setupPostgres(t, drv, db)
	})
}

func TestIntegration_PostgresStore_LockTimeoutConflicts(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	drv := pgxv5.New(db.Pool)
	store := setupPostgres(t, drv, db).(*PostgresStore)
	store.lockTimeout = 100 * time.Millisecond

	_, path, _ := seedConversation(t, store, 0)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.RunInTx(ctx, func(ctx context.Context) error {
			if err := store.LockPath(ctx, path.ID); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := store.RunInTx(ctx, func(ctx context.Context) error {
		return store.LockPath(ctx, path.ID)
	})
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrConcurrencyConflict)

	close(release)
	require.NoError(t, <-done)
}

func TestIntegration_PostgresStore_PinDuringReplaceConflicts(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	drv := pgxv5.New(db.Pool)
	store := setupPostgres(t, drv, db)

	_, path, msgs := seedConversation(t, store, 4)
	ctx := context.Background()

	read := make(chan struct{})
	pinned := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.RunInTx(ctx, func(ctx context.Context) error {
			if err := store.LockPath(ctx, path.ID); err != nil {
				return err
			}
			current, err := store.ListMessages(ctx, path.ID, ListMessagesParams{IncludeSuperseded: true})
			if err != nil {
				return err
			}
			close(read)
			<-pinned
			// msgs[1] was unpinned when read, so the plan drops it
			return store.ReplacePathMessages(ctx, path.ID, []*types.Message{current[0], current[2], current[3]})
		})
	}()
	<-read

	require.NoError(t, store.SetPinned(ctx, msgs[1].ID, true))
	close(pinned)

	err := <-done
	require.ErrorIs(t, err, types.ErrConcurrencyConflict)

	got, err := store.GetMessage(ctx, msgs[1].ID)
	require.NoError(t, err)
	require.True(t, got.Pinned)
	require.Equal(t, 1, got.SequenceInPath)

	count, err := store.CountMessages(ctx, path.ID)
	require.NoError(t, err)
	require.Equal(t, 4, count)
}
