package persistence_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpotLedger/internal/core"
	"SpotLedger/internal/event"
	"SpotLedger/internal/persistence"
	"SpotLedger/internal/testutil"
)

func TestPersistenceWorker_WritesLogAndMarkets(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, persistence.NewMigrator(db, os.DirFS("../../migrations"), zerolog.Nop()).Up(ctx))

	persistChan := make(chan core.CoreOutput, 16)
	engine := core.NewMarketEngine(persistChan, nil, core.Options{Logger: zerolog.Nop()})

	require.NoError(t, engine.ProcessEvent(&event.SpotMarketListed{Market: *testutil.DefaultQuoteMarket(), Sequence: 1}))
	require.NoError(t, engine.ProcessEvent(&event.SpotMarketListed{Market: *testutil.DefaultBaseMarket(), Sequence: 1}))
	close(persistChan)

	worker := persistence.NewPersistenceWorker(db, persistChan, 10, 10*time.Millisecond, nil, zerolog.Nop())
	require.NoError(t, worker.Run(ctx))

	snapMgr := persistence.NewSnapshotManager(db)
	latest, err := snapMgr.GetLatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest)

	rows, err := snapMgr.LoadEventsFrom(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, rows[0].StateHash, rows[1].PrevHash)

	markets, err := persistence.NewMarketStore(db).LoadMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, markets, 2)
	m, _ := engine.GetMarket(1)
	assert.Equal(t, m.CanonicalBytes(), markets[1].CanonicalBytes())

	dup, err := persistence.NewPostgresIdempotencyChecker(db).IsDuplicate(ctx, "SpotMarketListed", "spot_listed:1")
	require.NoError(t, err)
	assert.True(t, dup)

	snap := engine.CreateSnapshot()
	require.NoError(t, snapMgr.SaveSnapshot(ctx, snap))
	none, err := snapMgr.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, none, "unverified snapshots are not loaded")

	require.NoError(t, snapMgr.MarkVerified(ctx, snap.Sequence))
	loaded, err := snapMgr.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, snap.StateHash, loaded.StateHash)
	assert.Equal(t, snap.SourceSequences, loaded.SourceSequences)
}

func TestIntegrityChecker_HealthyChain(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, persistence.NewMigrator(db, os.DirFS("../../migrations"), zerolog.Nop()).Up(ctx))

	persistChan := make(chan core.CoreOutput, 16)
	engine := core.NewMarketEngine(persistChan, nil, core.Options{Logger: zerolog.Nop()})
	require.NoError(t, engine.ProcessEvent(&event.SpotMarketListed{Market: *testutil.DefaultBaseMarket(), Sequence: 1}))
	close(persistChan)

	worker := persistence.NewPersistenceWorker(db, persistChan, 10, 10*time.Millisecond, nil, zerolog.Nop())
	require.NoError(t, worker.Run(ctx))

	report, err := persistence.NewIntegrityChecker(db).VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)
	assert.Equal(t, int64(0), report.LastSequence)

	_, err = db.ExecContext(ctx, `UPDATE spot.markets SET state_hash = '\x00'::bytea`)
	require.NoError(t, err)
	report, err = persistence.NewIntegrityChecker(db).VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, report.IsHealthy)
	assert.Equal(t, []uint16{1}, report.MarketMismatches)
}
