package store

import (
	"context"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gateway-validator/ingestion-core/internal/db"
	"github.com/gateway-validator/ingestion-core/internal/logger"
	"github.com/gateway-validator/ingestion-core/internal/migrations"
	"github.com/gateway-validator/ingestion-core/pkg/chain"
	"github.com/gateway-validator/ingestion-core/pkg/validator"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "store_test_*.db")
	require.NoError(t, err)
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	require.NoError(t, migrations.RunMigrations(tmpFile.Name()))
	sqlDB, err := db.NewSQLiteDB(tmpFile.Name())
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	return New(sqlDB, logger.NewNopLogger())
}

func TestFirstAndLastProcessedBlockRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetFirstBlock(ctx, chain.Eth)
	require.NoError(t, err)
	require.False(t, ok)

	block := chain.Block{ChainID: chain.Eth, Number: 42, BlockHash: common.HexToHash("0xAB")}
	require.NoError(t, s.SetFirstBlock(ctx, chain.Eth, block))

	got, ok, err := s.GetFirstBlock(ctx, chain.Eth)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, block.BlockHash, got.BlockHash)

	require.NoError(t, s.SetLastProcessedBlock(ctx, chain.Eth, block))
	last, ok, err := s.GetLastProcessedBlock(ctx, chain.Eth)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), last.Number)
}

func TestAppendAndAdvancePendingBlocks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	signer := common.HexToAddress("0x1")

	b1 := ChainBlockTally{
		Block:   chain.Block{ChainID: chain.Eth, Number: 2, BlockHash: common.HexToHash("0x02"), ParentHash: common.HexToHash("0x01")},
		Support: map[validator.ID]struct{}{signer: {}},
		Dissent: map[validator.ID]struct{}{},
	}
	b2 := ChainBlockTally{
		Block:   chain.Block{ChainID: chain.Eth, Number: 3, BlockHash: common.HexToHash("0x03"), ParentHash: common.HexToHash("0x02")},
		Support: map[validator.ID]struct{}{},
		Dissent: map[validator.ID]struct{}{},
	}

	require.NoError(t, s.AppendPendingBlock(ctx, chain.Eth, b1))
	require.NoError(t, s.AppendPendingBlock(ctx, chain.Eth, b2))

	pending, err := s.ListPendingBlocks(ctx, chain.Eth)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, uint64(2), pending[0].Block.Number, "oldest→newest insertion order")
	require.Equal(t, uint64(3), pending[1].Block.Number)
	require.Contains(t, pending[0].Support, signer)

	require.NoError(t, s.AdvancePendingBlocks(ctx, chain.Eth, 2))
	pending, err = s.ListPendingBlocks(ctx, chain.Eth)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, uint64(3), pending[0].Block.Number)
}

func TestUpdatePendingBlockVotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	signer := common.HexToAddress("0x1")

	b := ChainBlockTally{
		Block:   chain.Block{ChainID: chain.Eth, Number: 2, BlockHash: common.HexToHash("0x02"), ParentHash: common.HexToHash("0x01")},
		Support: map[validator.ID]struct{}{},
		Dissent: map[validator.ID]struct{}{},
	}
	require.NoError(t, s.AppendPendingBlock(ctx, chain.Eth, b))

	require.NoError(t, s.UpdatePendingBlockVotes(ctx, chain.Eth, 2,
		map[validator.ID]struct{}{signer: {}}, map[validator.ID]struct{}{}))

	pending, err := s.ListPendingBlocks(ctx, chain.Eth)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Contains(t, pending[0].Support, signer)
}

func TestClearPendingBlocksLeavesReorgsIntact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	signer := common.HexToAddress("0x1")

	b := ChainBlockTally{
		Block:   chain.Block{ChainID: chain.Eth, Number: 2, BlockHash: common.HexToHash("0x02")},
		Support: map[validator.ID]struct{}{}, Dissent: map[validator.ID]struct{}{},
	}
	require.NoError(t, s.AppendPendingBlock(ctx, chain.Eth, b))

	reorg := ChainReorgTally{
		Reorg:   chain.Reorg{ChainID: chain.Eth, FromHash: common.HexToHash("0x01"), ToHash: common.HexToHash("0x09")},
		Support: map[validator.ID]struct{}{signer: {}},
	}
	require.NoError(t, s.UpsertPendingReorg(ctx, chain.Eth, reorg))

	require.NoError(t, s.ClearPendingBlocks(ctx, chain.Eth))

	pending, err := s.ListPendingBlocks(ctx, chain.Eth)
	require.NoError(t, err)
	require.Empty(t, pending)

	reorgs, err := s.ListPendingReorgs(ctx, chain.Eth)
	require.NoError(t, err)
	require.Len(t, reorgs, 1, "ClearPendingBlocks must not touch pending reorgs")
}

func TestResetPendingClearsBoth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := ChainBlockTally{
		Block:   chain.Block{ChainID: chain.Eth, Number: 2, BlockHash: common.HexToHash("0x02")},
		Support: map[validator.ID]struct{}{}, Dissent: map[validator.ID]struct{}{},
	}
	require.NoError(t, s.AppendPendingBlock(ctx, chain.Eth, b))

	reorg := ChainReorgTally{
		Reorg:   chain.Reorg{ChainID: chain.Eth, FromHash: common.HexToHash("0x01"), ToHash: common.HexToHash("0x09")},
		Support: map[validator.ID]struct{}{},
	}
	require.NoError(t, s.UpsertPendingReorg(ctx, chain.Eth, reorg))

	require.NoError(t, s.ResetPending(ctx, chain.Eth))

	pending, err := s.ListPendingBlocks(ctx, chain.Eth)
	require.NoError(t, err)
	require.Empty(t, pending)

	reorgs, err := s.ListPendingReorgs(ctx, chain.Eth)
	require.NoError(t, err)
	require.Empty(t, reorgs)
}

func TestIngestionQueueRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev1 := chain.BlockEvent{ChainID: chain.Eth, BlockNumber: 2, Kind: chain.Lock,
		Lock: &chain.LockEvent{Asset: chain.Address{0x01}, Amount: 5}}
	ev2 := chain.BlockEvent{ChainID: chain.Eth, BlockNumber: 3, Kind: chain.LockCash,
		LockCash: &chain.LockCashEvent{Principal: 9}}

	require.NoError(t, s.EnqueueEvent(ctx, chain.Eth, ev1, 2))
	require.NoError(t, s.EnqueueEvent(ctx, chain.Eth, ev2, 3))

	queued, err := s.ListQueuedEvents(ctx, chain.Eth)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	require.Equal(t, ev1.BlockNumber, queued[0].Event.BlockNumber)

	require.NoError(t, s.RemoveQueuedEvents(ctx, chain.Eth, []int64{queued[0].Position}))

	queued, err = s.ListQueuedEvents(ctx, chain.Eth)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	require.Equal(t, ev2.BlockNumber, queued[0].Event.BlockNumber)
}

func TestUpsertPendingReorgUpdatesExistingVote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	signerA := common.HexToAddress("0x1")
	signerB := common.HexToAddress("0x2")

	reorg := chain.Reorg{ChainID: chain.Eth, FromHash: common.HexToHash("0x01"), ToHash: common.HexToHash("0x09")}

	require.NoError(t, s.UpsertPendingReorg(ctx, chain.Eth, ChainReorgTally{
		Reorg: reorg, Support: map[validator.ID]struct{}{signerA: {}},
	}))
	require.NoError(t, s.UpsertPendingReorg(ctx, chain.Eth, ChainReorgTally{
		Reorg: reorg, Support: map[validator.ID]struct{}{signerA: {}, signerB: {}},
	}))

	reorgs, err := s.ListPendingReorgs(ctx, chain.Eth)
	require.NoError(t, err)
	require.Len(t, reorgs, 1, "the same reorg must upsert, not duplicate")
	require.Len(t, reorgs[0].Support, 2)
}
