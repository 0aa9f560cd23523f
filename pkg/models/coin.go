// Package models holds the shared data types passed between the coin-name
// index, the ingest pipeline, the relational store, and the replay driver.
package models

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// Coin is the ephemeral triple a coin name is derived from. Two coins with
// equal fields have equal names.
type Coin struct {
	ParentCoinName chainhash.Hash
	PuzzleHash     chainhash.Hash
	Amount         uint64
}

// CoinInfo is a persisted coin plus the block indices that created and, if
// applicable, spent it. SpentIndex is 0 while the coin is unspent.
type CoinInfo struct {
	Coin
	ConfirmedIndex uint64
	SpentIndex     uint64
}

// BlockSpendInfo describes one block: the coins it confirms (creates) and the
// coin names it spends.
type BlockSpendInfo struct {
	Index     uint64
	Timestamp uint64
	Spends    []chainhash.Hash
	Confirms  []Coin
}

// Row is a single (hash, id) pair as persisted in a Sorted Row File.
type Row struct {
	Hash chainhash.Hash
	ID   uint64
}
