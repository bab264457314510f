package validator

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gateway-validator/ingestion-core/pkg/reason"
)

// ErrCryptoError is returned when a signature cannot be recovered to a
// validator identity (§7 CryptoError).
var ErrCryptoError = reason.Of(reason.CryptoError)

const compactSigLen = 65

// Secp256k1Recoverer recovers validator identities from compact-format
// secp256k1 signatures, the same curve and recovery scheme used elsewhere in
// the wider pack for validator key material.
type Secp256k1Recoverer struct{}

// NewSecp256k1Recoverer constructs the default Recoverer.
func NewSecp256k1Recoverer() *Secp256k1Recoverer {
	return &Secp256k1Recoverer{}
}

// Recover hashes payload with Keccak256 (the same digest used for storage
// hashing elsewhere in this core) and recovers the signer's address from the
// 65-byte compact signature.
func (Secp256k1Recoverer) Recover(payload []byte, signature []byte) (ID, error) {
	if len(signature) != compactSigLen {
		return ID{}, ErrCryptoError
	}

	digest := crypto.Keccak256(payload)

	pubKey, _, err := ecdsa.RecoverCompact(signature, digest)
	if err != nil {
		return ID{}, ErrCryptoError
	}

	return pubKeyToAddress(pubKey), nil
}

// pubKeyToAddress derives an address the same way go-ethereum derives
// externally-owned-account addresses: Keccak256 of the uncompressed public
// key (minus the leading format byte), low 20 bytes.
func pubKeyToAddress(pub *secp256k1.PublicKey) ID {
	raw := pub.SerializeUncompressed()
	hash := crypto.Keccak256(raw[1:])
	var addr ID
	copy(addr[:], hash[12:])
	return addr
}
