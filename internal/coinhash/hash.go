// Package coinhash derives the stable 32-byte coin name used as the key of
// the coin-name index.
package coinhash

import (
	"crypto/sha256"
	"math/big"
	"math/bits"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/coinforest/pkg/models"
)

// CompactAmount encodes an amount using the canonical variable-length signed
// big-endian encoding: empty for zero, a single byte for 0 < v < 128, and
// otherwise the smallest k-byte signed big-endian representation where
// k = 1 + bit_length(v)/8.
//
// No third-party varint/bignum library in the pack matches this exact rule
// (it mirrors CLVM's integer encoding, not a standard varint), so it is
// hand-rolled here on top of math/big for the byte-fill step.
func CompactAmount(v uint64) []byte {
	if v == 0 {
		return nil
	}
	if v < 128 {
		return []byte{byte(v)}
	}
	size := 1 + bits.Len64(v)/8
	buf := make([]byte, size)
	new(big.Int).SetUint64(v).FillBytes(buf)
	return buf
}

// CoinName derives the deterministic name of a coin: the SHA-256 digest of
// its parent name, puzzle hash, and compact amount, concatenated.
func CoinName(c models.Coin) chainhash.Hash {
	h := sha256.New()
	h.Write(c.ParentCoinName[:])
	h.Write(c.PuzzleHash[:])
	h.Write(CompactAmount(c.Amount))
	var name chainhash.Hash
	copy(name[:], h.Sum(nil))
	return name
}
