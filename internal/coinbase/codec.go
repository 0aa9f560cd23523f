// Package coinbase implements the bijection between coinbase-shaped coin
// names and small negative integers, so that coinbase parents never need an
// entry in the coin-name index.
package coinbase

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// defaultPrefixes mirrors the two mainnet coinbase prefixes used by the
// reference schema: the farmer-reward and pool-reward prefixes.
var defaultPrefixes = [][16]byte{
	hexPrefix("3ff07eb358e8255a65c30a2dce0e5fbb"),
	hexPrefix("ccd5bb71183532bff220ba46c268991a"),
}

func hexPrefix(s string) [16]byte {
	var out [16]byte
	for i := 0; i < 16; i++ {
		hi := hexNibble(s[i*2])
		lo := hexNibble(s[i*2+1])
		out[i] = hi<<4 | lo
	}
	return out
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	panic(fmt.Sprintf("invalid hex digit %q", c))
}

// Codec encodes/decodes coinbase coin names using an ordered table of
// 16-byte prefixes. The zero value is not usable; construct with New.
type Codec struct {
	prefixes []([16]byte)
	index    map[[16]byte]int
}

// New builds a Codec from the built-in default prefix table.
func New() *Codec {
	return NewWithPrefixes(defaultPrefixes)
}

// NewWithPrefixes builds a Codec from a caller-supplied ordered prefix table.
func NewWithPrefixes(prefixes [][16]byte) *Codec {
	c := &Codec{
		prefixes: append([][16]byte(nil), prefixes...),
		index:    make(map[[16]byte]int, len(prefixes)),
	}
	for i, p := range prefixes {
		c.index[p] = i
	}
	return c
}

// isCoinbaseShaped reports whether bytes [16:24] of name are all zero, the
// structural precondition for a coinbase name regardless of prefix table
// membership.
func isCoinbaseShaped(name chainhash.Hash) bool {
	for _, b := range name[16:24] {
		if b != 0 {
			return false
		}
	}
	return true
}

// AsCoinbaseIndex returns the encoded negative integer for a coinbase-shaped
// name whose prefix is in the table, and false otherwise (including names
// that are zero-windowed but carry an unknown prefix, or whose bytes [24:32]
// are 2^55 or more — those must be indexed normally).
func (c *Codec) AsCoinbaseIndex(name chainhash.Hash) (int64, bool) {
	if !isCoinbaseShaped(name) {
		return 0, false
	}
	var prefix [16]byte
	copy(prefix[:], name[:16])
	prefixIndex, ok := c.index[prefix]
	if !ok {
		return 0, false
	}
	high := binary.BigEndian.Uint64(name[24:32])
	if high >= 1<<55 {
		// high<<8 would overflow int64, so the encoding would not be invertible.
		return 0, false
	}
	v := int64(high)<<8 | int64(prefixIndex)
	return -v, true
}

// NameForCoinbaseIndex inverts AsCoinbaseIndex. It is defined only for v <= 0.
func (c *Codec) NameForCoinbaseIndex(v int64) (chainhash.Hash, error) {
	if v > 0 {
		return chainhash.Hash{}, fmt.Errorf("coinbase: index %d is not <= 0", v)
	}
	u := uint64(-v)
	prefixIndex := int(u & 0xFF)
	if prefixIndex >= len(c.prefixes) {
		return chainhash.Hash{}, fmt.Errorf("coinbase: prefix index %d out of range", prefixIndex)
	}
	high := u >> 8

	var name chainhash.Hash
	copy(name[:16], c.prefixes[prefixIndex][:])
	binary.BigEndian.PutUint64(name[24:32], high)
	return name, nil
}
