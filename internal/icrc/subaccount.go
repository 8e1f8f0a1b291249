package icrc

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
)

// ComputeSubaccount derives the deposit sub-account of a principal from a
// nonce, using a domain-separated SHA-256 so the derivation cannot collide
// with other account schemes.
func ComputeSubaccount(controller ledger.Principal, nonce uint64) Subaccount {
	const domain = "core"

	h := sha256.New()
	h.Write([]byte{0x04})
	h.Write([]byte(domain))
	h.Write([]byte(controller))

	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	h.Write(nonceBytes[:])

	var sub Subaccount
	copy(sub[:], h.Sum(nil))
	return sub
}
