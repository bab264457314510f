package external

import (
	"context"
	"fmt"
	"sync"

	"github.com/gateway-validator/ingestion-core/pkg/chain"
)

// FakeChainRPC is an in-memory ChainRPC backed by a map keyed by
// (chain, number) and (chain, hash), used for tests and local exercising.
type FakeChainRPC struct {
	mu       sync.Mutex
	byNumber map[chain.ID]map[uint64]chain.Block
	byHash   map[chain.ID]map[chain.Hash]chain.Block
}

// NewFakeChainRPC constructs an empty FakeChainRPC.
func NewFakeChainRPC() *FakeChainRPC {
	return &FakeChainRPC{
		byNumber: make(map[chain.ID]map[uint64]chain.Block),
		byHash:   make(map[chain.ID]map[chain.Hash]chain.Block),
	}
}

// Seed registers a block as fetchable by both number and hash.
func (f *FakeChainRPC) Seed(b chain.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.byNumber[b.ChainID] == nil {
		f.byNumber[b.ChainID] = make(map[uint64]chain.Block)
	}
	if f.byHash[b.ChainID] == nil {
		f.byHash[b.ChainID] = make(map[chain.Hash]chain.Block)
	}
	f.byNumber[b.ChainID][b.Number] = b
	f.byHash[b.ChainID][b.BlockHash] = b
}

// BlockByNumber implements ChainRPC.
func (f *FakeChainRPC) BlockByNumber(_ context.Context, id chain.ID, number uint64, _ chain.Address) (chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.byNumber[id][number]
	if !ok {
		return chain.Block{}, fmt.Errorf("%w: chain=%s number=%d", ErrMissingBlock, id, number)
	}
	return b, nil
}

// BlockByHash implements ChainRPC.
func (f *FakeChainRPC) BlockByHash(_ context.Context, id chain.ID, hash chain.Hash, _ chain.Address) (chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.byHash[id][hash]
	if !ok {
		return chain.Block{}, fmt.Errorf("%w: chain=%s hash=%s", ErrMissingBlock, id, hash)
	}
	return b, nil
}

// BlocksRange implements ChainRPC.
func (f *FakeChainRPC) BlocksRange(ctx context.Context, id chain.ID, from, to uint64, starport chain.Address) ([]chain.Block, error) {
	blocks := make([]chain.Block, 0, to-from+1)
	for n := from; n <= to; n++ {
		b, err := f.BlockByNumber(ctx, id, n, starport)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// FakeLedger is an in-memory Ledger: balances keyed by recipient address,
// governance executions recorded by proposal ID, with apply/unapply exactly
// inverting each other (§8 property 4).
type FakeLedger struct {
	mu          sync.Mutex
	balances    map[chain.Address]uint64
	cashBalance map[chain.Address]uint64
	executed    map[uint64]int
	// FailApply, when set, causes Apply to fail for any event whose
	// identity (block number + kind) matches, without mutating state.
	FailApply func(event chain.BlockEvent) error
	// FailUnapply, when set, causes Unapply to fail similarly.
	FailUnapply func(event chain.BlockEvent) error
}

// NewFakeLedger constructs an empty FakeLedger.
func NewFakeLedger() *FakeLedger {
	return &FakeLedger{
		balances:    make(map[chain.Address]uint64),
		cashBalance: make(map[chain.Address]uint64),
		executed:    make(map[uint64]int),
	}
}

// Balance returns the current asset balance credited to recipient.
func (l *FakeLedger) Balance(recipient chain.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[recipient]
}

// CashBalance returns the current cash balance credited to recipient.
func (l *FakeLedger) CashBalance(recipient chain.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cashBalance[recipient]
}

// ExecutedCount returns how many times proposalID has net-applied.
func (l *FakeLedger) ExecutedCount(proposalID uint64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.executed[proposalID]
}

// Apply implements Ledger.
func (l *FakeLedger) Apply(_ context.Context, event chain.BlockEvent) error {
	if l.FailApply != nil {
		if err := l.FailApply(event); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch event.Kind {
	case chain.Lock:
		if event.Lock != nil {
			l.balances[event.Lock.Recipient] += event.Lock.Amount
		}
	case chain.LockCash:
		if event.LockCash != nil {
			l.cashBalance[event.LockCash.Recipient] += event.LockCash.Principal
		}
	case chain.ExecuteProposal:
		if event.Proposal != nil {
			l.executed[event.Proposal.ProposalID]++
		}
	}
	return nil
}

// Unapply implements Ledger, exactly inverting Apply.
func (l *FakeLedger) Unapply(_ context.Context, event chain.BlockEvent) error {
	if l.FailUnapply != nil {
		if err := l.FailUnapply(event); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch event.Kind {
	case chain.Lock:
		if event.Lock != nil {
			l.balances[event.Lock.Recipient] -= event.Lock.Amount
		}
	case chain.LockCash:
		if event.LockCash != nil {
			l.cashBalance[event.LockCash.Recipient] -= event.LockCash.Principal
		}
	case chain.ExecuteProposal:
		if event.Proposal != nil {
			l.executed[event.Proposal.ProposalID]--
		}
	}
	return nil
}

// FakePriceOracle returns a fixed USD-per-unit price for every asset and a
// fixed USD-per-unit price for cash, for deterministic tests.
type FakePriceOracle struct {
	AssetUnitPriceUSD uint64
	CashUnitPriceUSD  uint64
}

// NewFakePriceOracle constructs a FakePriceOracle with $1/unit for both
// assets and cash by default.
func NewFakePriceOracle() *FakePriceOracle {
	return &FakePriceOracle{AssetUnitPriceUSD: 1, CashUnitPriceUSD: 1}
}

// USDValue implements PriceOracle.
func (p *FakePriceOracle) USDValue(_ context.Context, _ chain.Address, amount uint64) (uint64, error) {
	return amount * p.AssetUnitPriceUSD, nil
}

// CashUSDValue implements PriceOracle.
func (p *FakePriceOracle) CashUSDValue(_ context.Context, principal uint64) (uint64, error) {
	return principal * p.CashUnitPriceUSD, nil
}
