package pair

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ComputeID derives the deterministic pair identifier from the two token
// addresses. The hash is order-sensitive: (X, Y) and (Y, X) are different
// pairs because the curve treats the two sides asymmetrically.
func ComputeID(tokenX, tokenY common.Address) common.Hash {
	return common.BytesToHash(crypto.Keccak256(tokenX.Bytes(), tokenY.Bytes()))
}
