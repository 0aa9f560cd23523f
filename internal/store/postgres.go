// Package store persists coins and blocks in PostgreSQL: an auto-incrementing
// coin table keyed by id, with the coin name carried as a denormalised column
// so coin-to-name lookups never need a forest scan, and a block table storing
// each block's spend and confirm id lists as packed big-endian blobs.
package store

import (
	"context"
	_ "embed"
	"encoding/binary"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/coinforest/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a pgx connection pool over the coin and block tables.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pgx connection pool against connStr and verifies it with a
// ping.
func Connect(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	log.Println("store: connected to PostgreSQL")
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates the coin and block tables if they do not already exist.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	log.Println("store: schema initialized")
	return nil
}

// BeginTx opens a transaction. The ingest pipeline uses one transaction per
// flush so a crash mid-flush never leaves a half-written block.
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	return tx, nil
}

// InsertCoin inserts one coin row and returns its assigned id. parentID
// follows the signed convention: positive ids reference a real coin row,
// non-positive ids are a coinbase codec encoding.
func (s *Store) InsertCoin(ctx context.Context, tx pgx.Tx, name chainhash.Hash, parentID int64, puzzleHash chainhash.Hash, amount uint64, confirmedIndex uint64) (int64, error) {
	const q = `INSERT INTO coin (name, parent, puzzle_hash, amount, confirmed, spent)
		VALUES ($1, $2, $3, $4, $5, 0) RETURNING id`
	var id int64
	err := tx.QueryRow(ctx, q, name[:], parentID, puzzleHash[:], int64(amount), int64(confirmedIndex)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert coin %s: %w", name, err)
	}
	return id, nil
}

// SetSpent marks a coin as spent at spentIndex.
func (s *Store) SetSpent(ctx context.Context, tx pgx.Tx, id int64, spentIndex uint64) error {
	const q = `UPDATE coin SET spent = $1 WHERE id = $2`
	if _, err := tx.Exec(ctx, q, int64(spentIndex), id); err != nil {
		return fmt.Errorf("store: set spent on coin %d: %w", id, err)
	}
	return nil
}

// InsertBlock inserts one block's metadata, packing the spend and confirm id
// lists as fixed-width big-endian blobs.
func (s *Store) InsertBlock(ctx context.Context, tx pgx.Tx, index uint64, timestamp uint64, spendIDs, confirmIDs []int64) error {
	const q = `INSERT INTO block (block_index, timestamp, spends, confirms) VALUES ($1, $2, $3, $4)`
	_, err := tx.Exec(ctx, q, int64(index), int64(timestamp), packIDs(spendIDs), packIDs(confirmIDs))
	if err != nil {
		return fmt.Errorf("store: insert block %d: %w", index, err)
	}
	return nil
}

// FetchCoinNamesForIDs resolves a batch of positive coin ids back to names.
func (s *Store) FetchCoinNamesForIDs(ctx context.Context, ids []int64) (map[int64]chainhash.Hash, error) {
	out := make(map[int64]chainhash.Hash, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM coin WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("store: fetch coin names: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var name []byte
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("store: scan coin name row: %w", err)
		}
		var h chainhash.Hash
		copy(h[:], name)
		out[id] = h
	}
	return out, rows.Err()
}

// CoinInfosForIDs fetches full coin rows (puzzle hash, amount, parent,
// confirmed/spent indices) for a batch of positive coin ids.
func (s *Store) CoinInfosForIDs(ctx context.Context, ids []int64) (map[int64]models.CoinInfo, map[int64]int64, error) {
	out := make(map[int64]models.CoinInfo, len(ids))
	parents := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return out, parents, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, parent, puzzle_hash, amount, confirmed, spent FROM coin WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("store: fetch coin infos: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, parent, amount, confirmed, spent int64
		var puzzle []byte
		if err := rows.Scan(&id, &parent, &puzzle, &amount, &confirmed, &spent); err != nil {
			return nil, nil, fmt.Errorf("store: scan coin info row: %w", err)
		}
		var ci models.CoinInfo
		copy(ci.PuzzleHash[:], puzzle)
		ci.Amount = uint64(amount)
		ci.ConfirmedIndex = uint64(confirmed)
		ci.SpentIndex = uint64(spent)
		out[id] = ci
		parents[id] = parent
	}
	return out, parents, rows.Err()
}

// TotalCoins returns the number of coin rows, used by the forest to detect
// an orphaned row file left by an incomplete flush.
func (s *Store) TotalCoins(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM coin`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count coins: %w", err)
	}
	return uint64(n), nil
}

// BlockIterator lazily scans the block table in block_index order, mirroring
// the sql.Rows iteration contract.
type BlockIterator struct {
	rows pgx.Rows
	cur  storedBlock
	err  error
}

type storedBlock struct {
	index      uint64
	timestamp  uint64
	spendIDs   []int64
	confirmIDs []int64
}

// Blocks opens a lazy, ascending scan over every stored block.
func (s *Store) Blocks(ctx context.Context) (*BlockIterator, error) {
	rows, err := s.pool.Query(ctx, `SELECT block_index, timestamp, spends, confirms FROM block ORDER BY block_index ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: query blocks: %w", err)
	}
	return &BlockIterator{rows: rows}, nil
}

// Next advances the iterator.
func (it *BlockIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	var index, timestamp int64
	var spendsBlob, confirmsBlob []byte
	if err := it.rows.Scan(&index, &timestamp, &spendsBlob, &confirmsBlob); err != nil {
		it.err = fmt.Errorf("store: scan block row: %w", err)
		return false
	}
	it.cur = storedBlock{
		index:      uint64(index),
		timestamp:  uint64(timestamp),
		spendIDs:   unpackIDs(spendsBlob),
		confirmIDs: unpackIDs(confirmsBlob),
	}
	return true
}

// Block returns the block most recently produced by Next, along with its
// spend and confirm coin ids (still needing name resolution by the caller).
func (it *BlockIterator) Block() (index, timestamp uint64, spendIDs, confirmIDs []int64) {
	return it.cur.index, it.cur.timestamp, it.cur.spendIDs, it.cur.confirmIDs
}

// Err returns the first error encountered during iteration, if any.
func (it *BlockIterator) Err() error { return it.err }

// Close releases the underlying query result.
func (it *BlockIterator) Close() { it.rows.Close() }

func packIDs(ids []int64) []byte {
	buf := make([]byte, 8*len(ids))
	for i, id := range ids {
		binary.BigEndian.PutUint64(buf[i*8:], uint64(id))
	}
	return buf
}

func unpackIDs(buf []byte) []int64 {
	n := len(buf) / 8
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		out[i] = int64(binary.BigEndian.Uint64(buf[i*8:]))
	}
	return out
}
