// Package ingest buffers incoming blocks and flushes them to the relational
// store and the coin-name forest as a single unit, resolving each coin's
// parent through a three-tier lookup: the coinbase codec, the still-unflushed
// coins of the current batch, and finally the forest.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/jackc/pgx/v5"

	"github.com/rawblock/coinforest/internal/coinbase"
	"github.com/rawblock/coinforest/internal/coinhash"
	"github.com/rawblock/coinforest/internal/forest"
	"github.com/rawblock/coinforest/internal/store"
	"github.com/rawblock/coinforest/pkg/models"
)

// DefaultCacheSize is the number of buffered coin confirmations above which
// AcceptBlock triggers an automatic Flush.
const DefaultCacheSize = 50000

var (
	// ErrDanglingParent is returned when a confirmed coin's parent cannot be
	// resolved anywhere: not the coinbase codec, not another coin confirmed
	// earlier in the same flush, and not the forest.
	ErrDanglingParent = errors.New("ingest: parent coin not found")

	// ErrUnknownSpend is returned when a block's spend list names a coin this
	// index has never seen confirmed.
	ErrUnknownSpend = errors.New("ingest: spent coin not found")

	// ErrCycle is returned when a block's own confirms contain a
	// parent/child cycle, which can only mean malformed input.
	ErrCycle = errors.New("ingest: cycle in block confirms")

	// ErrRewindUnimplemented is returned by RewindToBlockIndex: undoing a
	// flushed batch requires replaying the coin-name forest backwards, which
	// this index does not support. A rewind must be performed by rebuilding
	// from a replay stream captured before the target block.
	ErrRewindUnimplemented = errors.New("ingest: rewind is not implemented")
)

// Pipeline buffers BlockSpendInfo values in memory and periodically flushes
// them as a single relational transaction plus one forest append.
type Pipeline struct {
	store  *store.Store
	forest *forest.Forest
	codec  *coinbase.Codec

	CacheSize int

	pending          []models.BlockSpendInfo
	pendingCoinCount int

	// OnFlush, if set, is called after each successful Flush with the
	// number of blocks and coins just committed. The monitor HTTP/websocket
	// server uses this to broadcast a flush event to connected clients;
	// nothing in this package depends on that server existing.
	OnFlush func(blockCount, coinCount int)
}

// New constructs a Pipeline over an already-open store and forest.
func New(st *store.Store, f *forest.Forest, codec *coinbase.Codec) *Pipeline {
	return &Pipeline{
		store:     st,
		forest:    f,
		codec:     codec,
		CacheSize: DefaultCacheSize,
	}
}

// AcceptBlock buffers block and triggers a Flush once the number of buffered
// confirmations exceeds CacheSize.
func (p *Pipeline) AcceptBlock(ctx context.Context, block models.BlockSpendInfo) error {
	p.pending = append(p.pending, block)
	p.pendingCoinCount += len(block.Confirms)
	if p.pendingCoinCount > p.CacheSize {
		return p.Flush(ctx)
	}
	return nil
}

// Flush writes every buffered block inside one relational transaction,
// appends the batch's coin names to the forest as the last step, and then
// commits. If the process dies after the forest append but before the
// commit, the new forest file is orphaned; Reconcile reports the resulting
// excess of forest rows over coin rows on the next run.
func (p *Pipeline) Flush(ctx context.Context) error {
	if len(p.pending) == 0 {
		return nil
	}
	unflushed := make(map[chainhash.Hash]int64)

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, block := range p.pending {
		if err := p.storeBlock(ctx, tx, block, unflushed); err != nil {
			return fmt.Errorf("ingest: flush block %d: %w", block.Index, err)
		}
	}

	rows := make([]models.Row, 0, len(unflushed))
	for name, id := range unflushed {
		rows = append(rows, models.Row{Hash: name, ID: uint64(id)})
	}
	if err := p.forest.AddRows(rows); err != nil {
		return fmt.Errorf("ingest: append forest rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ingest: commit flush: %w", err)
	}

	log.Printf("ingest: flushed %d blocks, %d coins", len(p.pending), len(unflushed))
	if p.OnFlush != nil {
		p.OnFlush(len(p.pending), len(unflushed))
	}
	p.pending = nil
	p.pendingCoinCount = 0
	return nil
}

func (p *Pipeline) storeBlock(ctx context.Context, tx pgx.Tx, block models.BlockSpendInfo, unflushed map[chainhash.Hash]int64) error {
	coinByName := make(map[chainhash.Hash]models.Coin, len(block.Confirms))
	for _, c := range block.Confirms {
		coinByName[coinhash.CoinName(c)] = c
	}

	sortedConfirms, err := topologicalSortConfirms(coinByName)
	if err != nil {
		return err
	}

	for _, coin := range sortedConfirms {
		name := coinhash.CoinName(coin)
		parentID, err := p.resolveParent(coin.ParentCoinName, unflushed)
		if err != nil {
			return err
		}

		id, err := p.store.InsertCoin(ctx, tx, name, parentID, coin.PuzzleHash, coin.Amount, block.Index)
		if err != nil {
			return err
		}
		unflushed[name] = id
	}

	spendIDs := make([]int64, len(block.Spends))
	for i, spentName := range block.Spends {
		id, err := p.resolveSpend(spentName, unflushed)
		if err != nil {
			return err
		}
		spendIDs[i] = id
		if err := p.store.SetSpent(ctx, tx, id, block.Index); err != nil {
			return err
		}
	}

	confirmIDs := make([]int64, 0, len(sortedConfirms))
	for _, coin := range sortedConfirms {
		confirmIDs = append(confirmIDs, unflushed[coinhash.CoinName(coin)])
	}

	return p.store.InsertBlock(ctx, tx, block.Index, block.Timestamp, spendIDs, confirmIDs)
}

// resolveCoinID implements the three-tier lookup spec step 6 calls for on
// every name→id resolution, whether for a confirm's parent or a spend: the
// coinbase codec (cheap, no I/O), then the coins confirmed earlier in this
// same flush, then the forest. ok is false only when none of the three
// tiers has the name.
func (p *Pipeline) resolveCoinID(name chainhash.Hash, unflushed map[chainhash.Hash]int64) (id int64, ok bool, err error) {
	if idx, isCoinbase := p.codec.AsCoinbaseIndex(name); isCoinbase {
		return idx, true, nil
	}
	if id, inFlush := unflushed[name]; inFlush {
		return id, true, nil
	}
	rows, missing, err := p.forest.FindHashes([]chainhash.Hash{name})
	if err != nil {
		return 0, false, err
	}
	if missing[name] {
		return 0, false, nil
	}
	return int64(rows[0].ID), true, nil
}

// resolveParent resolves a confirmed coin's parent via resolveCoinID.
func (p *Pipeline) resolveParent(parentName chainhash.Hash, unflushed map[chainhash.Hash]int64) (int64, error) {
	id, ok, err := p.resolveCoinID(parentName, unflushed)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrDanglingParent, parentName)
	}
	return id, nil
}

// resolveSpend resolves a spent coin's id via the same three-tier lookup as
// resolveParent, matching spec step 6's "same three-tier lookup" for spends.
func (p *Pipeline) resolveSpend(name chainhash.Hash, unflushed map[chainhash.Hash]int64) (int64, error) {
	id, ok, err := p.resolveCoinID(name, unflushed)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSpend, name)
	}
	return id, nil
}

// topologicalSortConfirms orders a block's confirmed coins so that every
// coin whose parent is confirmed in the same block comes after that parent.
// Ties (coins with no ordering constraint between them) are broken by
// ascending coin name for determinism. A cycle can only arise from malformed
// input, since a coin's own name depends on its parent's name.
func topologicalSortConfirms(coinByName map[chainhash.Hash]models.Coin) ([]models.Coin, error) {
	names := make([]chainhash.Hash, 0, len(coinByName))
	for name := range coinByName {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return namesLess(names[i], names[j])
	})

	var result []models.Coin
	visited := make(map[chainhash.Hash]bool, len(names))
	tempMarked := make(map[chainhash.Hash]bool, len(names))

	var visit func(name chainhash.Hash) error
	visit = func(name chainhash.Hash) error {
		if tempMarked[name] {
			return fmt.Errorf("%w: coin %s", ErrCycle, name)
		}
		if visited[name] {
			return nil
		}
		tempMarked[name] = true
		coin := coinByName[name]
		if _, ok := coinByName[coin.ParentCoinName]; ok {
			if err := visit(coin.ParentCoinName); err != nil {
				return err
			}
		}
		delete(tempMarked, name)
		visited[name] = true
		result = append(result, coin)
		return nil
	}

	for _, name := range names {
		if !visited[name] {
			if err := visit(name); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

func namesLess(a, b chainhash.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// RewindToBlockIndex is declared on Pipeline but always fails; see
// ErrRewindUnimplemented.
func (p *Pipeline) RewindToBlockIndex(ctx context.Context, index uint64) error {
	return fmt.Errorf("%w: requested index %d", ErrRewindUnimplemented, index)
}

// Reconcile delegates to the forest, comparing its row count against the
// store's coin count to detect an orphaned file from an incomplete flush.
func (p *Pipeline) Reconcile(ctx context.Context) error {
	total, err := p.store.TotalCoins(ctx)
	if err != nil {
		return err
	}
	return p.forest.Reconcile(total)
}
