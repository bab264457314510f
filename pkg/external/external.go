// Package external defines the interfaces this core consumes but does not
// implement (§6): the chain RPC, the ledger mutator, and the risk/price
// oracle behind risk-adjusted event values. Only in-memory fakes live here;
// real RPC/ledger/oracle integrations are out of scope (§1).
package external

import (
	"context"

	"github.com/gateway-validator/ingestion-core/pkg/chain"
	"github.com/gateway-validator/ingestion-core/pkg/reason"
)

// ErrMissingBlock is returned when neither the worker's local cache nor the
// chain RPC has a block for a requested hash (§4.2 MissingBlock).
var ErrMissingBlock = reason.Of(reason.MissingBlock)

// ChainRPC is the consumed blockchain RPC surface (§6). Implementations are
// expected to be the only source of I/O the worker performs; on-chain
// receivers never call this interface.
type ChainRPC interface {
	// BlockByNumber fetches the canonical block at number on the given
	// chain's starport-observed contract.
	BlockByNumber(ctx context.Context, id chain.ID, number uint64, starport chain.Address) (chain.Block, error)
	// BlockByHash fetches a (possibly non-canonical, e.g. during a reorg
	// walk) block by hash.
	BlockByHash(ctx context.Context, id chain.ID, hash chain.Hash, starport chain.Address) (chain.Block, error)
	// BlocksRange fetches blocks [from, to] inclusive, ascending.
	BlocksRange(ctx context.Context, id chain.ID, from, to uint64, starport chain.Address) ([]chain.Block, error)
}

// Ledger is the consumed ledger mutator (§6): apply_chain_event and its
// inverse, unapply_chain_event.
type Ledger interface {
	// Apply applies event forward. A non-nil error aborts only this one
	// event inside ingress_queue (§7): the caller must not propagate it
	// to the rest of the round.
	Apply(ctx context.Context, event chain.BlockEvent) error
	// Unapply reverts a previously applied event. A non-nil error here is
	// fatal to the whole reorg message (§7): the caller must abort.
	Unapply(ctx context.Context, event chain.BlockEvent) error
}

// PriceOracle supplies the USD value used by risk-adjusted value
// computation (§4.5). Asset registry and decay-curve internals live behind
// this interface and are out of scope (§1); only the boundary is defined
// here.
type PriceOracle interface {
	// USDValue returns the USD value of amount units of asset.
	USDValue(ctx context.Context, asset chain.Address, amount uint64) (uint64, error)
	// CashUSDValue returns the USD value of principal cash units.
	CashUSDValue(ctx context.Context, principal uint64) (uint64, error)
}
