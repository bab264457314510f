package reorgtally

import (
	"context"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gateway-validator/ingestion-core/internal/applydriver"
	"github.com/gateway-validator/ingestion-core/internal/db"
	"github.com/gateway-validator/ingestion-core/internal/ingestion"
	"github.com/gateway-validator/ingestion-core/internal/logger"
	"github.com/gateway-validator/ingestion-core/internal/migrations"
	"github.com/gateway-validator/ingestion-core/internal/store"
	"github.com/gateway-validator/ingestion-core/pkg/chain"
	"github.com/gateway-validator/ingestion-core/pkg/config"
	"github.com/gateway-validator/ingestion-core/pkg/validator"
	"github.com/stretchr/testify/require"
)

type fakeRecoverer struct {
	signer validator.ID
	err    error
}

func (f fakeRecoverer) Recover([]byte, []byte) (validator.ID, error) {
	return f.signer, f.err
}

type noopOracle struct{}

func (noopOracle) USDValue(context.Context, chain.Address, uint64) (uint64, error) { return 0, nil }
func (noopOracle) CashUSDValue(context.Context, uint64) (uint64, error)            { return 0, nil }

type recordingLedger struct {
	unapplied []chain.BlockEvent
	applied   []chain.BlockEvent
}

func (l *recordingLedger) Apply(_ context.Context, ev chain.BlockEvent) error {
	l.applied = append(l.applied, ev)
	return nil
}

func (l *recordingLedger) Unapply(_ context.Context, ev chain.BlockEvent) error {
	l.unapplied = append(l.unapplied, ev)
	return nil
}

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "reorgtally_test_*.db")
	require.NoError(t, err)
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	require.NoError(t, migrations.RunMigrations(tmpFile.Name()))
	sqlDB, err := db.NewSQLiteDB(tmpFile.Name())
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	return store.New(sqlDB, logger.NewNopLogger())
}

func oneMemberSet(id validator.ID) validator.Set {
	return validator.NewThresholdSet([]validator.ID{id})
}

func TestReceiveRejectsHashMismatch(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	signer := common.HexToAddress("0x1")

	genesis := chain.Block{ChainID: chain.Eth, Number: 1, BlockHash: common.HexToHash("0xAA")}
	require.NoError(t, st.SetLastProcessedBlock(ctx, chain.Eth, genesis))

	driver := applydriver.New(&recordingLedger{}, st, logger.NewNopLogger())
	q := ingestion.New(st, noopOracle{}, driver, config.IngressConfig{MaxEventBlocks: 1000}, nil, logger.NewNopLogger())
	r := New(st, oneMemberSet(signer), fakeRecoverer{signer: signer}, q, driver, logger.NewNopLogger())

	reorg := chain.Reorg{ChainID: chain.Eth, FromHash: common.HexToHash("0xBB"), ToHash: common.HexToHash("0xCC")}
	err := r.Receive(ctx, chain.Eth, reorg, []byte("sig"))
	require.Error(t, err)
}

func TestReceiveRejectsCrossChainReorg(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	signer := common.HexToAddress("0x1")

	genesis := chain.Block{ChainID: chain.Eth, Number: 1, BlockHash: common.HexToHash("0xAA")}
	require.NoError(t, st.SetLastProcessedBlock(ctx, chain.Eth, genesis))

	driver := applydriver.New(&recordingLedger{}, st, logger.NewNopLogger())
	q := ingestion.New(st, noopOracle{}, driver, config.IngressConfig{MaxEventBlocks: 1000}, nil, logger.NewNopLogger())
	r := New(st, oneMemberSet(signer), fakeRecoverer{signer: signer}, q, driver, logger.NewNopLogger())

	reorg := chain.Reorg{ChainID: chain.Matic, FromHash: common.HexToHash("0xAA"), ToHash: common.HexToHash("0xCC")}
	err := r.Receive(ctx, chain.Eth, reorg, []byte("sig"))
	require.Error(t, err, "a Matic-tagged reorg must never be accepted on the Eth receiver")
}

func TestReceiveAppliesOnQuorumRevertAndReplay(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	signer := common.HexToAddress("0x1")

	genesis := chain.Block{ChainID: chain.Eth, Number: 5, BlockHash: common.HexToHash("0xAA")}
	require.NoError(t, st.SetLastProcessedBlock(ctx, chain.Eth, genesis))

	revertedEvent := chain.BlockEvent{ChainID: chain.Eth, BlockNumber: 5, Kind: chain.Lock,
		Lock: &chain.LockEvent{Asset: chain.Address{0x01}, Amount: 10}}
	// Still in the queue (not yet matured): revert must remove it, not unapply.
	require.NoError(t, st.EnqueueEvent(ctx, chain.Eth, revertedEvent, 5))

	forwardEvent := chain.BlockEvent{ChainID: chain.Eth, BlockNumber: 6, Kind: chain.Lock,
		Lock: &chain.LockEvent{Asset: chain.Address{0x02}, Amount: 20}}

	reorg := chain.Reorg{
		ChainID:  chain.Eth,
		FromHash: common.HexToHash("0xAA"),
		ToHash:   common.HexToHash("0xDD"),
		ReverseBlocks: []chain.Block{
			{ChainID: chain.Eth, Number: 5, BlockHash: common.HexToHash("0xAA"), Events: []chain.BlockEvent{revertedEvent}},
		},
		ForwardBlocks: []chain.Block{
			{ChainID: chain.Eth, Number: 5, BlockHash: common.HexToHash("0xEE"), Events: nil},
			{ChainID: chain.Eth, Number: 6, BlockHash: common.HexToHash("0xDD"), Events: []chain.BlockEvent{forwardEvent}},
		},
	}

	ledger := &recordingLedger{}
	driver := applydriver.New(ledger, st, logger.NewNopLogger())
	q := ingestion.New(st, noopOracle{}, driver, config.IngressConfig{MaxEventBlocks: 1000, MinEventBlocks: 0, QuotaUSD: 0}, nil, logger.NewNopLogger())
	r := New(st, oneMemberSet(signer), fakeRecoverer{signer: signer}, q, driver, logger.NewNopLogger())

	require.NoError(t, r.Receive(ctx, chain.Eth, reorg, []byte("sig")))

	require.Empty(t, ledger.unapplied, "queued event should be removed from the queue, not unapplied")

	last, ok, err := st.GetLastProcessedBlock(ctx, chain.Eth)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(6), last.Number)
	require.Equal(t, common.HexToHash("0xDD"), last.BlockHash)

	pendingBlocks, err := st.ListPendingBlocks(ctx, chain.Eth)
	require.NoError(t, err)
	require.Empty(t, pendingBlocks)

	pendingReorgs, err := st.ListPendingReorgs(ctx, chain.Eth)
	require.NoError(t, err)
	require.Empty(t, pendingReorgs)
}

func TestReceivePersistsTallyWithoutQuorum(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	memberA := common.HexToAddress("0x1")
	memberB := common.HexToAddress("0x2")
	memberC := common.HexToAddress("0x3")
	set := validator.NewThresholdSet([]validator.ID{memberA, memberB, memberC})

	genesis := chain.Block{ChainID: chain.Eth, Number: 5, BlockHash: common.HexToHash("0xAA")}
	require.NoError(t, st.SetLastProcessedBlock(ctx, chain.Eth, genesis))

	reorg := chain.Reorg{ChainID: chain.Eth, FromHash: common.HexToHash("0xAA"), ToHash: common.HexToHash("0xDD")}
	ledger := &recordingLedger{}
	driver := applydriver.New(ledger, st, logger.NewNopLogger())
	q := ingestion.New(st, noopOracle{}, driver, config.IngressConfig{MaxEventBlocks: 1000}, nil, logger.NewNopLogger())
	r := New(st, set, fakeRecoverer{signer: memberA}, q, driver, logger.NewNopLogger())

	require.NoError(t, r.Receive(ctx, chain.Eth, reorg, []byte("sig")))

	tallies, err := st.ListPendingReorgs(ctx, chain.Eth)
	require.NoError(t, err)
	require.Len(t, tallies, 1)
	require.Len(t, tallies[0].Support, 1, "single vote is not yet a majority of three")

	last, _, err := st.GetLastProcessedBlock(ctx, chain.Eth)
	require.NoError(t, err)
	require.Equal(t, uint64(5), last.Number, "last processed block must not move without quorum")
}
