package replay

import (
	"bytes"
	"io"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/coinforest/pkg/models"
)

func hashFor(b byte) (h chainhash.Hash) {
	h[0] = b
	return h
}

func TestWriteThenParseRoundTrip(t *testing.T) {
	block := models.BlockSpendInfo{
		Index:     42,
		Timestamp: 1234567890,
		Spends:    []chainhash.Hash{hashFor(2), hashFor(1)},
		Confirms: []models.Coin{
			{ParentCoinName: hashFor(9), PuzzleHash: hashFor(8), Amount: 100},
			{ParentCoinName: hashFor(1), PuzzleHash: hashFor(2), Amount: 50},
		},
	}

	var buf bytes.Buffer
	if err := WriteBlock(&buf, block); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	p := NewParser(&buf)
	got, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.Index != block.Index || got.Timestamp != block.Timestamp {
		t.Errorf("header mismatch: got %+v", got)
	}
	if len(got.Spends) != 2 || len(got.Confirms) != 2 {
		t.Fatalf("count mismatch: got %d spends, %d confirms", len(got.Spends), len(got.Confirms))
	}
	// spends must come back sorted ascending
	if bytes.Compare(got.Spends[0][:], got.Spends[1][:]) >= 0 {
		t.Errorf("spends not sorted ascending: %x then %x", got.Spends[0], got.Spends[1])
	}

	if _, err := p.Next(); err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestParserRejectsMalformedHeader(t *testing.T) {
	p := NewParser(bytes.NewBufferString("X not a block\n"))
	if _, err := p.Next(); err == nil {
		t.Error("expected an error for a malformed header")
	}
}

func TestWriteBlockIsCanonical(t *testing.T) {
	block := models.BlockSpendInfo{
		Index: 1,
		Confirms: []models.Coin{
			{ParentCoinName: hashFor(2), PuzzleHash: hashFor(1), Amount: 5},
			{ParentCoinName: hashFor(1), PuzzleHash: hashFor(1), Amount: 5},
		},
	}
	var a, b bytes.Buffer
	// reverse the confirms slice; canonical output must be identical either way
	reversed := models.BlockSpendInfo{
		Index:    block.Index,
		Confirms: []models.Coin{block.Confirms[1], block.Confirms[0]},
	}
	if err := WriteBlock(&a, block); err != nil {
		t.Fatalf("WriteBlock a: %v", err)
	}
	if err := WriteBlock(&b, reversed); err != nil {
		t.Fatalf("WriteBlock b: %v", err)
	}
	if a.String() != b.String() {
		t.Errorf("canonical output differs by input order:\na=%q\nb=%q", a.String(), b.String())
	}
}
