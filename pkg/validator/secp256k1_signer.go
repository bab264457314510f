package validator

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/crypto"
)

// Secp256k1Signer signs with the same curve and compact-recovery scheme
// Secp256k1Recoverer expects, so every signature it produces recovers back
// to its own ID.
type Secp256k1Signer struct {
	key *secp256k1.PrivateKey
	id  ID
}

// NewSecp256k1Signer wraps an already-loaded private key. Key loading,
// storage, and custody are out of scope for this core.
func NewSecp256k1Signer(key *secp256k1.PrivateKey) *Secp256k1Signer {
	return &Secp256k1Signer{key: key, id: pubKeyToAddress(key.PubKey())}
}

// ID returns the address signatures from this Signer recover to.
func (s *Secp256k1Signer) ID() ID {
	return s.id
}

// Sign hashes payload with Keccak256 and produces a 65-byte compact
// signature over it.
func (s *Secp256k1Signer) Sign(payload []byte) ([]byte, error) {
	digest := crypto.Keccak256(payload)
	return ecdsa.SignCompact(s.key, digest, true), nil
}
