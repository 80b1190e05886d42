package chain

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// HashContent computes the content address of an uploaded document: the
// 0x-prefixed hex Keccak-256 of its bytes. This is the hash that gets
// anchored and later compared on verification.
func HashContent(b []byte) string {
	return hexutil.Encode(crypto.Keccak256(b))
}
