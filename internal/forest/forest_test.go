package forest

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/coinforest/pkg/models"
)

func hashFor(b byte) (h chainhash.Hash) {
	h[0] = b
	return h
}

func TestAddRowsAndFindHashes(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(dir, "coin")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	batch1 := []models.Row{
		{Hash: hashFor(5), ID: 5},
		{Hash: hashFor(1), ID: 1},
		{Hash: hashFor(3), ID: 3},
	}
	if err := f.AddRows(batch1); err != nil {
		t.Fatalf("AddRows batch1: %v", err)
	}

	batch2 := []models.Row{
		{Hash: hashFor(2), ID: 2},
		{Hash: hashFor(4), ID: 4},
	}
	if err := f.AddRows(batch2); err != nil {
		t.Fatalf("AddRows batch2: %v", err)
	}

	if f.RowCount() != 5 {
		t.Fatalf("RowCount() = %d, want 5", f.RowCount())
	}

	queries := []chainhash.Hash{hashFor(1), hashFor(2), hashFor(3), hashFor(4), hashFor(5), hashFor(9)}
	found, missing, err := f.FindHashes(queries)
	if err != nil {
		t.Fatalf("FindHashes: %v", err)
	}
	if len(found) != 5 {
		t.Fatalf("found %d rows, want 5", len(found))
	}
	byHash := make(map[chainhash.Hash]models.Row, len(found))
	for _, r := range found {
		byHash[r.Hash] = r
	}
	for i := byte(1); i <= 5; i++ {
		r, ok := byHash[hashFor(i)]
		if !ok {
			t.Errorf("hash %d not found", i)
			continue
		}
		if r.ID != uint64(i) {
			t.Errorf("hash %d resolved to id %d, want %d", i, r.ID, i)
		}
	}
	if !missing[hashFor(9)] {
		t.Error("hash 9 should be reported missing")
	}
	if len(missing) != 1 {
		t.Errorf("missing set has %d entries, want 1", len(missing))
	}
}

func TestMergeTriggersAtThreshold(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(dir, "coin")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.MergeThreshold = 3

	for i := byte(0); i < 5; i++ {
		if err := f.AddRows([]models.Row{{Hash: hashFor(i), ID: uint64(i)}}); err != nil {
			t.Fatalf("AddRows %d: %v", i, err)
		}
	}

	if len(f.files) >= 5 {
		t.Errorf("expected a merge to have reduced file count below 5, got %d", len(f.files))
	}
	if f.RowCount() != 5 {
		t.Errorf("RowCount() = %d, want 5 after merges", f.RowCount())
	}

	found, missing, err := f.FindHashes([]chainhash.Hash{hashFor(0), hashFor(1), hashFor(2), hashFor(3), hashFor(4)})
	if err != nil {
		t.Fatalf("FindHashes after merge: %v", err)
	}
	if len(found) != 5 {
		t.Errorf("found %d rows after merge, want 5", len(found))
	}
	if len(missing) != 0 {
		t.Errorf("missing %d hashes after merge, want 0", len(missing))
	}
}

func TestReopenAfterMerge(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(dir, "coin")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.MergeThreshold = 2
	for i := byte(0); i < 4; i++ {
		if err := f.AddRows([]models.Row{{Hash: hashFor(i), ID: uint64(i)}}); err != nil {
			t.Fatalf("AddRows %d: %v", i, err)
		}
	}

	reopened, err := Open(dir, "coin")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.RowCount() != f.RowCount() {
		t.Errorf("reopened RowCount() = %d, want %d", reopened.RowCount(), f.RowCount())
	}
}
