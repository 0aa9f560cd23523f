package store

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/coinforest/internal/coinbase"
	"github.com/rawblock/coinforest/pkg/models"
)

// NamedBlockIterator wraps a BlockIterator, resolving the coin ids it yields
// back to full Coin values (by name) so the replay driver never has to know
// about the relational store's internal ids.
type NamedBlockIterator struct {
	inner *BlockIterator
	store *Store
	codec *coinbase.Codec
	ctx   context.Context
	cur   models.BlockSpendInfo
	err   error
}

// BlocksWithNames opens a NamedBlockIterator over every stored block.
func (s *Store) BlocksWithNames(ctx context.Context, codec *coinbase.Codec) (*NamedBlockIterator, error) {
	inner, err := s.Blocks(ctx)
	if err != nil {
		return nil, err
	}
	return &NamedBlockIterator{inner: inner, store: s, codec: codec, ctx: ctx}, nil
}

// Next advances the iterator, resolving the underlying block's ids to names.
func (it *NamedBlockIterator) Next() bool {
	if it.err != nil || !it.inner.Next() {
		if err := it.inner.Err(); err != nil {
			it.err = err
		}
		return false
	}
	index, timestamp, spendIDs, confirmIDs := it.inner.Block()

	spendNames, err := it.store.FetchCoinNamesForIDs(it.ctx, spendIDs)
	if err != nil {
		it.err = err
		return false
	}
	infos, parents, err := it.store.CoinInfosForIDs(it.ctx, confirmIDs)
	if err != nil {
		it.err = err
		return false
	}

	var positiveParents []int64
	for _, id := range confirmIDs {
		if p := parents[id]; p > 0 {
			positiveParents = append(positiveParents, p)
		}
	}
	parentNames, err := it.store.FetchCoinNamesForIDs(it.ctx, positiveParents)
	if err != nil {
		it.err = err
		return false
	}

	block := models.BlockSpendInfo{
		Index:     index,
		Timestamp: timestamp,
	}
	for _, id := range spendIDs {
		name, ok := spendNames[id]
		if !ok {
			it.err = fmt.Errorf("store: no name for spent coin id %d", id)
			return false
		}
		block.Spends = append(block.Spends, name)
	}
	for _, id := range confirmIDs {
		info := infos[id]
		parentID := parents[id]
		var parentName chainhash.Hash
		if parentID <= 0 {
			name, err := it.codec.NameForCoinbaseIndex(parentID)
			if err != nil {
				it.err = fmt.Errorf("store: resolve coinbase parent for coin %d: %w", id, err)
				return false
			}
			parentName = name
		} else {
			name, ok := parentNames[parentID]
			if !ok {
				it.err = fmt.Errorf("store: no name for parent coin id %d", parentID)
				return false
			}
			parentName = name
		}
		block.Confirms = append(block.Confirms, models.Coin{
			ParentCoinName: parentName,
			PuzzleHash:     info.PuzzleHash,
			Amount:         info.Amount,
		})
	}

	it.cur = block
	return true
}

// Block returns the block most recently produced by Next.
func (it *NamedBlockIterator) Block() models.BlockSpendInfo { return it.cur }

// Err returns the first error encountered during iteration, if any.
func (it *NamedBlockIterator) Err() error { return it.err }

// Close releases the underlying query result.
func (it *NamedBlockIterator) Close() { it.inner.Close() }
