package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gateway-validator/ingestion-core/internal/logger"
	"github.com/gateway-validator/ingestion-core/pkg/chain"
	"github.com/gateway-validator/ingestion-core/pkg/validator"
)

// Store is the SQLite-backed persistence layer for every per-chain
// singleton named in §3.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// New wraps an already-migrated SQLite connection.
func New(db *sql.DB, log *logger.Logger) *Store {
	return &Store{db: db, log: log.WithComponent("store")}
}

// GetFirstBlock returns the bootstrap block recorded for id, if any.
func (s *Store) GetFirstBlock(ctx context.Context, id chain.ID) (chain.Block, bool, error) {
	return s.getSingletonBlock(ctx, "first_block", id)
}

// SetFirstBlock records the bootstrap block for id. Calling it again for the
// same chain overwrites the recorded block; callers decide once-only semantics.
func (s *Store) SetFirstBlock(ctx context.Context, id chain.ID, block chain.Block) error {
	return s.setSingletonBlock(ctx, "first_block", id, block)
}

// GetLastProcessedBlock returns the highest block whose events have been
// admitted into the ingression queue.
func (s *Store) GetLastProcessedBlock(ctx context.Context, id chain.ID) (chain.Block, bool, error) {
	return s.getSingletonBlock(ctx, "last_processed_block", id)
}

// SetLastProcessedBlock advances LastProcessedBlock for id.
func (s *Store) SetLastProcessedBlock(ctx context.Context, id chain.ID, block chain.Block) error {
	return s.setSingletonBlock(ctx, "last_processed_block", id, block)
}

func (s *Store) getSingletonBlock(ctx context.Context, table string, id chain.ID) (chain.Block, bool, error) {
	var hashHex string
	var block chain.Block
	query := fmt.Sprintf(`SELECT number, block_hash FROM %s WHERE chain_id = ?`, table) //nolint:gosec
	err := s.db.QueryRowContext(ctx, query, id).Scan(&block.Number, &hashHex)
	if errors.Is(err, sql.ErrNoRows) {
		return chain.Block{}, false, nil
	}
	if err != nil {
		return chain.Block{}, false, fmt.Errorf("query %s: %w", table, err)
	}
	block.ChainID = id
	block.BlockHash = chain.Hash(common.HexToHash(hashHex))
	return block, true, nil
}

func (s *Store) setSingletonBlock(ctx context.Context, table string, id chain.ID, block chain.Block) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (chain_id, number, block_hash) VALUES (?, ?, ?)
		ON CONFLICT(chain_id) DO UPDATE SET number = excluded.number, block_hash = excluded.block_hash
	`, table) //nolint:gosec
	_, err := s.db.ExecContext(ctx, query, id, block.Number, block.BlockHash.Hex())
	if err != nil {
		return fmt.Errorf("write %s: %w", table, err)
	}
	return nil
}

// ListPendingBlocks returns PendingChainBlocks for id, ordered oldest→newest
// by insertion position.
func (s *Store) ListPendingBlocks(ctx context.Context, id chain.ID) ([]ChainBlockTally, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, block_hash, parent_hash, events_json, support_json, dissent_json
		FROM pending_chain_blocks WHERE chain_id = ? ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list pending blocks: %w", err)
	}
	defer rows.Close()

	var out []ChainBlockTally
	for rows.Next() {
		var number uint64
		var blockHash, parentHash, eventsJSON, supportJSON, dissentJSON string
		if err := rows.Scan(&number, &blockHash, &parentHash, &eventsJSON, &supportJSON, &dissentJSON); err != nil {
			return nil, fmt.Errorf("scan pending block: %w", err)
		}
		tally, err := decodeTally(id, number, blockHash, parentHash, eventsJSON, supportJSON, dissentJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, tally)
	}
	return out, rows.Err()
}

// AppendPendingBlock appends a new tally to the tail of PendingChainBlocks.
func (s *Store) AppendPendingBlock(ctx context.Context, id chain.ID, tally ChainBlockTally) error {
	eventsJSON, err := json.Marshal(tally.Block.Events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	supportJSON, err := json.Marshal(tally.Support)
	if err != nil {
		return fmt.Errorf("encode support: %w", err)
	}
	dissentJSON, err := json.Marshal(tally.Dissent)
	if err != nil {
		return fmt.Errorf("encode dissent: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	position, err := nextPosition(ctx, tx, "pending_chain_blocks", id)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pending_chain_blocks
			(chain_id, position, number, block_hash, parent_hash, events_json, support_json, dissent_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, position, tally.Block.Number, tally.Block.BlockHash.Hex(), tally.Block.ParentHash.Hex(),
		string(eventsJSON), string(supportJSON), string(dissentJSON))
	if err != nil {
		return fmt.Errorf("insert pending block: %w", err)
	}

	return tx.Commit()
}

// UpdatePendingBlockVotes overwrites the support/dissent sets for the
// pending block at blockNumber. No-op if the block is not pending.
func (s *Store) UpdatePendingBlockVotes(
	ctx context.Context, id chain.ID, blockNumber uint64, support, dissent map[validator.ID]struct{},
) error {
	supportJSON, err := json.Marshal(support)
	if err != nil {
		return fmt.Errorf("encode support: %w", err)
	}
	dissentJSON, err := json.Marshal(dissent)
	if err != nil {
		return fmt.Errorf("encode dissent: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE pending_chain_blocks SET support_json = ?, dissent_json = ?
		WHERE chain_id = ? AND number = ?
	`, string(supportJSON), string(dissentJSON), id, blockNumber)
	if err != nil {
		return fmt.Errorf("update pending block votes: %w", err)
	}
	return nil
}

// AdvancePendingBlocks removes every pending block at or below
// throughNumber: they have reached quorum and been folded into
// LastProcessedBlock, or lost and been purged.
func (s *Store) AdvancePendingBlocks(ctx context.Context, id chain.ID, throughNumber uint64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_chain_blocks WHERE chain_id = ? AND number <= ?
	`, id, throughNumber)
	if err != nil {
		return fmt.Errorf("advance pending blocks: %w", err)
	}
	return nil
}

// ClearPendingBlocks empties PendingChainBlocks for id, used when the head
// tally reaches quorum dissent and the whole pending tail is purged (§4.3).
func (s *Store) ClearPendingBlocks(ctx context.Context, id chain.ID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_chain_blocks WHERE chain_id = ?`, id)
	if err != nil {
		return fmt.Errorf("clear pending blocks: %w", err)
	}
	return nil
}

// ResetPending clears PendingChainBlocks and PendingChainReorgs for id, the
// terminal step of a reorg tally reaching quorum (§4.4).
func (s *Store) ResetPending(ctx context.Context, id chain.ID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_chain_blocks WHERE chain_id = ?`, id); err != nil {
		return fmt.Errorf("clear pending blocks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_chain_reorgs WHERE chain_id = ?`, id); err != nil {
		return fmt.Errorf("clear pending reorgs: %w", err)
	}
	return tx.Commit()
}

// ListPendingReorgs returns PendingChainReorgs for id.
func (s *Store) ListPendingReorgs(ctx context.Context, id chain.ID) ([]ChainReorgTally, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_hash, to_hash, reverse_blocks_json, forward_blocks_json, support_json
		FROM pending_chain_reorgs WHERE chain_id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list pending reorgs: %w", err)
	}
	defer rows.Close()

	var out []ChainReorgTally
	for rows.Next() {
		var fromHash, toHash, reverseJSON, forwardJSON, supportJSON string
		if err := rows.Scan(&fromHash, &toHash, &reverseJSON, &forwardJSON, &supportJSON); err != nil {
			return nil, fmt.Errorf("scan pending reorg: %w", err)
		}
		tally, err := decodeReorgTally(id, fromHash, toHash, reverseJSON, forwardJSON, supportJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, tally)
	}
	return out, rows.Err()
}

// reorgKey hashes the full structural content of a reorg claim (chain,
// endpoints, and both complete block/event sequences). Two reorgs sharing
// endpoints but differing in their reverse/forward paths — which
// formulate_reorg can produce across calls as a worker's own view of the
// chain changes (§4.2) — must be tracked as distinct PendingChainReorgs
// entries (§3); keying storage identity on endpoints alone would let one
// silently overwrite the other's support set.
func reorgKey(reorg chain.Reorg) string {
	return crypto.Keccak256Hash(chain.EncodeReorg(reorg)).Hex()
}

// UpsertPendingReorg inserts or replaces the reorg tally keyed by the full
// structural identity of its Reorg field (see reorgKey), matching
// chain.Reorg.Equal used by callers to locate an existing tally.
func (s *Store) UpsertPendingReorg(ctx context.Context, id chain.ID, tally ChainReorgTally) error {
	reverseJSON, err := json.Marshal(tally.Reorg.ReverseBlocks)
	if err != nil {
		return fmt.Errorf("encode reverse blocks: %w", err)
	}
	forwardJSON, err := json.Marshal(tally.Reorg.ForwardBlocks)
	if err != nil {
		return fmt.Errorf("encode forward blocks: %w", err)
	}
	supportJSON, err := json.Marshal(tally.Support)
	if err != nil {
		return fmt.Errorf("encode support: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_chain_reorgs
			(chain_id, reorg_key, from_hash, to_hash, reverse_blocks_json, forward_blocks_json, support_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chain_id, reorg_key) DO UPDATE SET
			reverse_blocks_json = excluded.reverse_blocks_json,
			forward_blocks_json = excluded.forward_blocks_json,
			support_json = excluded.support_json
	`, id, reorgKey(tally.Reorg), tally.Reorg.FromHash.Hex(), tally.Reorg.ToHash.Hex(),
		string(reverseJSON), string(forwardJSON), string(supportJSON))
	if err != nil {
		return fmt.Errorf("upsert pending reorg: %w", err)
	}
	return nil
}

// RecordIngressionOutcome appends one entry to the queryable ingression
// outcome log: the recorded result of one apply_chain_event/
// unapply_chain_event invocation made by internal/applydriver.
func (s *Store) RecordIngressionOutcome(ctx context.Context, o IngressionOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_outcomes (chain_id, block_number, kind, direction, outcome, usd_value, error_detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, o.ChainID, o.BlockNumber, o.Kind, o.Direction, o.Outcome, o.USDValue, o.Error)
	if err != nil {
		return fmt.Errorf("record ingression outcome: %w", err)
	}
	return nil
}

// ListIngressionOutcomes returns the outcome log for id, oldest→newest.
func (s *Store) ListIngressionOutcomes(ctx context.Context, id chain.ID) ([]IngressionOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, block_number, kind, direction, outcome, usd_value, error_detail
		FROM ingestion_outcomes WHERE chain_id = ? ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list ingression outcomes: %w", err)
	}
	defer rows.Close()

	var out []IngressionOutcome
	for rows.Next() {
		o := IngressionOutcome{ChainID: id}
		if err := rows.Scan(&o.Position, &o.BlockNumber, &o.Kind, &o.Direction, &o.Outcome, &o.USDValue, &o.Error); err != nil {
			return nil, fmt.Errorf("scan ingression outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// EnqueueEvent appends event to the tail of the ingression queue.
func (s *Store) EnqueueEvent(ctx context.Context, id chain.ID, event chain.BlockEvent, queuedAtBlock uint64) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	position, err := nextPosition(ctx, tx, "ingestion_queue", id)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ingestion_queue (chain_id, position, block_number, kind, event_json, queued_at_block)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, position, event.BlockNumber, event.Kind, string(eventJSON), queuedAtBlock)
	if err != nil {
		return fmt.Errorf("insert queued event: %w", err)
	}

	return tx.Commit()
}

// ListQueuedEvents returns the ingression queue for id, ordered oldest→newest.
func (s *Store) ListQueuedEvents(ctx context.Context, id chain.ID) ([]QueuedEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, event_json, queued_at_block FROM ingestion_queue
		WHERE chain_id = ? ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list queued events: %w", err)
	}
	defer rows.Close()

	var out []QueuedEvent
	for rows.Next() {
		var position int64
		var eventJSON string
		var queuedAtBlock uint64
		if err := rows.Scan(&position, &eventJSON, &queuedAtBlock); err != nil {
			return nil, fmt.Errorf("scan queued event: %w", err)
		}
		var event chain.BlockEvent
		if err := json.Unmarshal([]byte(eventJSON), &event); err != nil {
			return nil, fmt.Errorf("decode queued event: %w", err)
		}
		out = append(out, QueuedEvent{Position: position, Event: event, QueuedAtBlock: queuedAtBlock})
	}
	return out, rows.Err()
}

// RemoveQueuedEvents deletes the queue rows at the given positions, the
// terminal step of an ingress_queue round admitting or dropping events.
func (s *Store) RemoveQueuedEvents(ctx context.Context, id chain.ID, positions []int64) error {
	if len(positions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM ingestion_queue WHERE chain_id = ? AND position = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, pos := range positions {
		if _, err := stmt.ExecContext(ctx, id, pos); err != nil {
			return fmt.Errorf("delete queued event at position %d: %w", pos, err)
		}
	}

	return tx.Commit()
}

func nextPosition(ctx context.Context, tx *sql.Tx, table string, id chain.ID) (int64, error) {
	var maxPosition sql.NullInt64
	query := fmt.Sprintf(`SELECT MAX(position) FROM %s WHERE chain_id = ?`, table) //nolint:gosec
	if err := tx.QueryRowContext(ctx, query, id).Scan(&maxPosition); err != nil {
		return 0, fmt.Errorf("compute next position in %s: %w", table, err)
	}
	if !maxPosition.Valid {
		return 0, nil
	}
	return maxPosition.Int64 + 1, nil
}

func decodeTally(
	id chain.ID, number uint64, blockHash, parentHash, eventsJSON, supportJSON, dissentJSON string,
) (ChainBlockTally, error) {
	var events []chain.BlockEvent
	if err := json.Unmarshal([]byte(eventsJSON), &events); err != nil {
		return ChainBlockTally{}, fmt.Errorf("decode events: %w", err)
	}
	support := newVoteSet()
	if err := json.Unmarshal([]byte(supportJSON), &support); err != nil {
		return ChainBlockTally{}, fmt.Errorf("decode support: %w", err)
	}
	dissent := newVoteSet()
	if err := json.Unmarshal([]byte(dissentJSON), &dissent); err != nil {
		return ChainBlockTally{}, fmt.Errorf("decode dissent: %w", err)
	}
	return ChainBlockTally{
		Block: chain.Block{
			ChainID:    id,
			Number:     number,
			BlockHash:  common.HexToHash(blockHash),
			ParentHash: common.HexToHash(parentHash),
			Events:     events,
		},
		Support: support,
		Dissent: dissent,
	}, nil
}

func decodeReorgTally(
	id chain.ID, fromHash, toHash, reverseJSON, forwardJSON, supportJSON string,
) (ChainReorgTally, error) {
	var reverse, forward []chain.Block
	if err := json.Unmarshal([]byte(reverseJSON), &reverse); err != nil {
		return ChainReorgTally{}, fmt.Errorf("decode reverse blocks: %w", err)
	}
	if err := json.Unmarshal([]byte(forwardJSON), &forward); err != nil {
		return ChainReorgTally{}, fmt.Errorf("decode forward blocks: %w", err)
	}
	support := newVoteSet()
	if err := json.Unmarshal([]byte(supportJSON), &support); err != nil {
		return ChainReorgTally{}, fmt.Errorf("decode support: %w", err)
	}
	return ChainReorgTally{
		Reorg: chain.Reorg{
			ChainID:       id,
			FromHash:      common.HexToHash(fromHash),
			ToHash:        common.HexToHash(toHash),
			ReverseBlocks: reverse,
			ForwardBlocks: forward,
		},
		Support: support,
	}, nil
}
