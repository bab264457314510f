package blocktally

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
}

func (f fakeRecoverer) Recover([]byte, []byte) (validator.ID, error) {
	return f.signer, nil
}

type noopOracle struct{}

func (noopOracle) USDValue(context.Context, chain.Address, uint64) (uint64, error) { return 0, nil }
func (noopOracle) CashUSDValue(context.Context, uint64) (uint64, error)            { return 0, nil }

type noopLedger struct{}

func (noopLedger) Apply(context.Context, chain.BlockEvent) error   { return nil }
func (noopLedger) Unapply(context.Context, chain.BlockEvent) error { return nil }

func setupReceiver(t *testing.T, members []validator.ID, signer validator.ID) (*Receiver, *store.Store) {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "blocktally_test_*.db")
	require.NoError(t, err)
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	require.NoError(t, migrations.RunMigrations(tmpFile.Name()))
	sqlDB, err := db.NewSQLiteDB(tmpFile.Name())
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	st := store.New(sqlDB, logger.NewNopLogger())
	set := validator.NewThresholdSet(members)
	q := ingestion.New(st, noopOracle{}, applydriver.New(noopLedger{}, st, logger.NewNopLogger()), config.IngressConfig{MaxEventBlocks: 1000}, nil, logger.NewNopLogger())
	r := New(st, set, fakeRecoverer{signer: signer}, q, logger.NewNopLogger())
	return r, st
}

func TestReceiveAppendsAndAdvancesOnQuorum(t *testing.T) {
	signer := common.HexToAddress("0x1")
	r, st := setupReceiver(t, []validator.ID{signer}, signer)
	ctx := context.Background()

	genesis := chain.Block{ChainID: chain.Eth, Number: 1, BlockHash: common.HexToHash("0x01")}
	require.NoError(t, st.SetLastProcessedBlock(ctx, chain.Eth, genesis))

	b2 := chain.Block{ChainID: chain.Eth, Number: 2, BlockHash: common.HexToHash("0x02"), ParentHash: genesis.BlockHash}
	require.NoError(t, r.Receive(ctx, chain.Eth, []chain.Block{b2}, []byte("sig")))

	last, ok, err := st.GetLastProcessedBlock(ctx, chain.Eth)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), last.Number, "sole validator's vote is already quorum")

	pending, err := st.ListPendingBlocks(ctx, chain.Eth)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestReceiveTalliesWithoutAdvancingBelowQuorum(t *testing.T) {
	memberA := common.HexToAddress("0x1")
	memberB := common.HexToAddress("0x2")
	memberC := common.HexToAddress("0x3")
	r, st := setupReceiver(t, []validator.ID{memberA, memberB, memberC}, memberA)
	ctx := context.Background()

	genesis := chain.Block{ChainID: chain.Eth, Number: 1, BlockHash: common.HexToHash("0x01")}
	require.NoError(t, st.SetLastProcessedBlock(ctx, chain.Eth, genesis))

	b2 := chain.Block{ChainID: chain.Eth, Number: 2, BlockHash: common.HexToHash("0x02"), ParentHash: genesis.BlockHash}
	require.NoError(t, r.Receive(ctx, chain.Eth, []chain.Block{b2}, []byte("sig")))

	last, _, err := st.GetLastProcessedBlock(ctx, chain.Eth)
	require.NoError(t, err)
	require.Equal(t, uint64(1), last.Number, "one of three votes is not a majority")

	pending, err := st.ListPendingBlocks(ctx, chain.Eth)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Contains(t, pending[0].Support, memberA)
}

func TestReceiveIgnoresDisconnectedBlock(t *testing.T) {
	signer := common.HexToAddress("0x1")
	r, st := setupReceiver(t, []validator.ID{signer}, signer)
	ctx := context.Background()

	genesis := chain.Block{ChainID: chain.Eth, Number: 1, BlockHash: common.HexToHash("0x01")}
	require.NoError(t, st.SetLastProcessedBlock(ctx, chain.Eth, genesis))

	disconnected := chain.Block{ChainID: chain.Eth, Number: 2, BlockHash: common.HexToHash("0x02"), ParentHash: common.HexToHash("0xDEAD")}
	require.NoError(t, r.Receive(ctx, chain.Eth, []chain.Block{disconnected}, []byte("sig")))

	pending, err := st.ListPendingBlocks(ctx, chain.Eth)
	require.NoError(t, err)
	require.Empty(t, pending, "block with mismatched parent_hash must be ignored, not appended")
}

func TestReceiveIgnoresStaleBlock(t *testing.T) {
	signer := common.HexToAddress("0x1")
	r, st := setupReceiver(t, []validator.ID{signer}, signer)
	ctx := context.Background()

	genesis := chain.Block{ChainID: chain.Eth, Number: 5, BlockHash: common.HexToHash("0x05")}
	require.NoError(t, st.SetLastProcessedBlock(ctx, chain.Eth, genesis))

	stale := chain.Block{ChainID: chain.Eth, Number: 3, BlockHash: common.HexToHash("0x03")}
	require.NoError(t, r.Receive(ctx, chain.Eth, []chain.Block{stale}, []byte("sig")))

	pending, err := st.ListPendingBlocks(ctx, chain.Eth)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestReceiveTwiceBySameValidatorLeavesTallyUnchanged(t *testing.T) {
	memberA := common.HexToAddress("0x1")
	memberB := common.HexToAddress("0x2")
	memberC := common.HexToAddress("0x3")
	r, st := setupReceiver(t, []validator.ID{memberA, memberB, memberC}, memberA)
	ctx := context.Background()

	genesis := chain.Block{ChainID: chain.Eth, Number: 1, BlockHash: common.HexToHash("0x01")}
	require.NoError(t, st.SetLastProcessedBlock(ctx, chain.Eth, genesis))

	b2 := chain.Block{ChainID: chain.Eth, Number: 2, BlockHash: common.HexToHash("0x02"), ParentHash: genesis.BlockHash}
	require.NoError(t, r.Receive(ctx, chain.Eth, []chain.Block{b2}, []byte("sig")))
	require.NoError(t, r.Receive(ctx, chain.Eth, []chain.Block{b2}, []byte("sig")))

	pending, err := st.ListPendingBlocks(ctx, chain.Eth)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Len(t, pending[0].Support, 1, "resubmitting the same block by the same validator must not double-count")
	require.Contains(t, pending[0].Support, memberA)
	require.Empty(t, pending[0].Dissent)

	last, _, err := st.GetLastProcessedBlock(ctx, chain.Eth)
	require.NoError(t, err)
	require.Equal(t, uint64(1), last.Number, "a single validator's repeated vote still is not a majority of three")
}

func TestReceiveRejectsUnknownValidator(t *testing.T) {
	signer := common.HexToAddress("0x1")
	stranger := common.HexToAddress("0x2")
	r, st := setupReceiver(t, []validator.ID{signer}, stranger)
	ctx := context.Background()

	genesis := chain.Block{ChainID: chain.Eth, Number: 1, BlockHash: common.HexToHash("0x01")}
	require.NoError(t, st.SetLastProcessedBlock(ctx, chain.Eth, genesis))

	b2 := chain.Block{ChainID: chain.Eth, Number: 2, BlockHash: common.HexToHash("0x02"), ParentHash: genesis.BlockHash}
	err := r.Receive(ctx, chain.Eth, []chain.Block{b2}, []byte("sig"))
	require.Error(t, err)
}
