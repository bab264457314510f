// Package validator defines the consumed validator-identity and quorum
// contracts (§6) plus a secp256k1-backed default implementation of
// signing and signature recovery. Validator key issuance, staking, and
// set-membership bookkeeping are out of scope for this core (§1); only the
// signing and recovery primitives and quorum predicates are implemented here.
package validator

import "github.com/ethereum/go-ethereum/common"

// ID identifies a validator by its recovered on-chain address.
type ID = common.Address

// Set is the current validator set consumed by quorum predicates. It is
// supplied by an external collaborator; this package only requires that
// membership checks and quorum predicates be monotonic (§4.3, §9): once a
// predicate is true for a set of supporters it remains true as more
// validators are added to that set.
type Set interface {
	// Contains reports whether id is a member of the current validator set.
	Contains(id ID) bool
	// HasEnoughSupport reports whether support is a quorum of the set.
	HasEnoughSupport(support map[ID]struct{}) bool
	// HasEnoughDissent reports whether dissent is a quorum of the set.
	HasEnoughDissent(dissent map[ID]struct{}) bool
}

// Recoverer recovers the signing validator's identity from a payload and
// signature. Implementations must return ErrCryptoError for malformed or
// unrecoverable signatures (§7).
type Recoverer interface {
	Recover(payload []byte, signature []byte) (ID, error)
}
