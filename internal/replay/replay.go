// Package replay implements the textual block-stream format used to load a
// coin-name index from scratch and to dump one back out for comparison or
// seeding another index.
//
// Each block is a header line followed by spend_count S lines and
// confirm_count C lines:
//
//	B block_index timestamp spend_count confirm_count
//	S spend_hash_hex
//	...
//	C parent_hash_hex puzzle_hash_hex amount
//	...
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/coinforest/pkg/models"
)

// progressEvery controls how often Load logs its position, mirroring the
// "accepted block N" progress line of the tooling this format is borrowed
// from.
const progressEvery = 1000

// Acceptor is the subset of the ingest pipeline that Load needs: buffering
// blocks and flushing the final partial batch.
type Acceptor interface {
	AcceptBlock(ctx context.Context, block models.BlockSpendInfo) error
	Flush(ctx context.Context) error
}

// BlockSource is the subset of the relational store that Dump needs: an
// ascending iterator over stored blocks, already resolved to names.
type BlockSource interface {
	Next() bool
	Block() models.BlockSpendInfo
	Err() error
}

// Parser reads a sequence of BlockSpendInfo values from a textual stream.
type Parser struct {
	r    *bufio.Reader
	line int
}

// NewParser wraps r for line-oriented parsing.
func NewParser(r io.Reader) *Parser {
	return &Parser{r: bufio.NewReaderSize(r, 1<<20)}
}

// Next parses and returns the next block in the stream. It returns
// io.EOF once the stream is exhausted with no partial block pending.
func (p *Parser) Next() (models.BlockSpendInfo, error) {
	line, err := p.readLine()
	if err != nil {
		return models.BlockSpendInfo{}, err
	}
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "B" {
		return models.BlockSpendInfo{}, fmt.Errorf("replay: line %d: expected block header, got %q", p.line, line)
	}
	if len(fields) != 5 {
		return models.BlockSpendInfo{}, fmt.Errorf("replay: line %d: malformed block header %q", p.line, line)
	}

	index, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return models.BlockSpendInfo{}, fmt.Errorf("replay: line %d: bad block index: %w", p.line, err)
	}
	timestamp, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return models.BlockSpendInfo{}, fmt.Errorf("replay: line %d: bad timestamp: %w", p.line, err)
	}
	spendCount, err := strconv.Atoi(fields[3])
	if err != nil {
		return models.BlockSpendInfo{}, fmt.Errorf("replay: line %d: bad spend count: %w", p.line, err)
	}
	confirmCount, err := strconv.Atoi(fields[4])
	if err != nil {
		return models.BlockSpendInfo{}, fmt.Errorf("replay: line %d: bad confirm count: %w", p.line, err)
	}

	block := models.BlockSpendInfo{
		Index:     index,
		Timestamp: timestamp,
		Spends:    make([]chainhash.Hash, 0, spendCount),
		Confirms:  make([]models.Coin, 0, confirmCount),
	}

	for i := 0; i < spendCount; i++ {
		line, err := p.readLine()
		if err != nil {
			return models.BlockSpendInfo{}, fmt.Errorf("replay: line %d: truncated spend list: %w", p.line, err)
		}
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != "S" {
			return models.BlockSpendInfo{}, fmt.Errorf("replay: line %d: malformed spend line %q", p.line, line)
		}
		h, err := parseHash(fields[1])
		if err != nil {
			return models.BlockSpendInfo{}, fmt.Errorf("replay: line %d: %w", p.line, err)
		}
		block.Spends = append(block.Spends, h)
	}

	for i := 0; i < confirmCount; i++ {
		line, err := p.readLine()
		if err != nil {
			return models.BlockSpendInfo{}, fmt.Errorf("replay: line %d: truncated confirm list: %w", p.line, err)
		}
		fields := strings.Fields(line)
		if len(fields) != 4 || fields[0] != "C" {
			return models.BlockSpendInfo{}, fmt.Errorf("replay: line %d: malformed confirm line %q", p.line, line)
		}
		parent, err := parseHash(fields[1])
		if err != nil {
			return models.BlockSpendInfo{}, fmt.Errorf("replay: line %d: %w", p.line, err)
		}
		puzzle, err := parseHash(fields[2])
		if err != nil {
			return models.BlockSpendInfo{}, fmt.Errorf("replay: line %d: %w", p.line, err)
		}
		amount, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return models.BlockSpendInfo{}, fmt.Errorf("replay: line %d: bad amount: %w", p.line, err)
		}
		block.Confirms = append(block.Confirms, models.Coin{
			ParentCoinName: parent,
			PuzzleHash:     puzzle,
			Amount:         amount,
		})
	}

	return block, nil
}

func (p *Parser) readLine() (string, error) {
	line, err := p.r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	p.line++
	return strings.TrimRight(line, "\r\n"), nil
}

func parseHash(s string) (chainhash.Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("bad hex %q: %w", s, err)
	}
	if len(b) != chainhash.HashSize {
		return chainhash.Hash{}, fmt.Errorf("hash %q has %d bytes, want %d", s, len(b), chainhash.HashSize)
	}
	var h chainhash.Hash
	copy(h[:], b)
	return h, nil
}

// WriteBlock writes block in canonical form: spends sorted ascending by
// hash, confirms sorted by (parent name, puzzle hash, amount), so two
// functionally identical streams always compare byte-equal.
func WriteBlock(w io.Writer, block models.BlockSpendInfo) error {
	spends := append([]chainhash.Hash(nil), block.Spends...)
	sort.Slice(spends, func(i, j int) bool {
		return bytes.Compare(spends[i][:], spends[j][:]) < 0
	})
	confirms := append([]models.Coin(nil), block.Confirms...)
	sort.Slice(confirms, func(i, j int) bool {
		a, b := confirms[i], confirms[j]
		if c := bytes.Compare(a.ParentCoinName[:], b.ParentCoinName[:]); c != 0 {
			return c < 0
		}
		if c := bytes.Compare(a.PuzzleHash[:], b.PuzzleHash[:]); c != 0 {
			return c < 0
		}
		return a.Amount < b.Amount
	})

	if _, err := fmt.Fprintf(w, "B %d %d %d %d\n", block.Index, block.Timestamp, len(spends), len(confirms)); err != nil {
		return err
	}
	for _, s := range spends {
		if _, err := fmt.Fprintf(w, "S %s\n", hex.EncodeToString(s[:])); err != nil {
			return err
		}
	}
	for _, c := range confirms {
		if _, err := fmt.Fprintf(w, "C %s %s %d\n", hex.EncodeToString(c.ParentCoinName[:]), hex.EncodeToString(c.PuzzleHash[:]), c.Amount); err != nil {
			return err
		}
	}
	return nil
}

// Load reads blocks from r and feeds them to acc, stopping once a block
// index exceeds maxBlockIndex (or at end of stream), then flushes the
// final partial batch. Progress is logged every progressEvery blocks.
func Load(ctx context.Context, r io.Reader, acc Acceptor, maxBlockIndex uint64) error {
	p := NewParser(r)
	lastIndex := uint64(0)
	for {
		block, err := p.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		if block.Index > maxBlockIndex {
			break
		}
		if lastIndex/progressEvery < block.Index/progressEvery {
			log.Printf("replay: accepted block %d", block.Index)
		}
		if err := acc.AcceptBlock(ctx, block); err != nil {
			return fmt.Errorf("replay: accept block %d: %w", block.Index, err)
		}
		lastIndex = block.Index
	}
	return acc.Flush(ctx)
}

// Dump writes every block from src to w in canonical form, stopping once a
// block index exceeds maxBlockIndex.
func Dump(w io.Writer, src BlockSource, maxBlockIndex uint64) error {
	for src.Next() {
		block := src.Block()
		if block.Index > maxBlockIndex {
			break
		}
		if err := WriteBlock(w, block); err != nil {
			return fmt.Errorf("replay: write block %d: %w", block.Index, err)
		}
	}
	return src.Err()
}

// Describe writes a human-readable, non-canonical rendering of each block to
// w: one line of summary followed by indented spend and confirm lines. It
// exists for operators eyeballing a stream, not for round-tripping.
func Describe(w io.Writer, src BlockSource, maxBlockIndex uint64) error {
	for src.Next() {
		block := src.Block()
		if block.Index > maxBlockIndex {
			break
		}
		fmt.Fprintf(w, "block %d @ %d: %d spends, %d confirms\n",
			block.Index, block.Timestamp, len(block.Spends), len(block.Confirms))
		for _, s := range block.Spends {
			fmt.Fprintf(w, "  spend  %s\n", s.String())
		}
		for _, c := range block.Confirms {
			fmt.Fprintf(w, "  confirm parent=%s puzzle=%s amount=%d\n",
				c.ParentCoinName.String(), c.PuzzleHash.String(), c.Amount)
		}
	}
	return src.Err()
}
