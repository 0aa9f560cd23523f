package rowfile

import (
	"path/filepath"
	"testing"

	"github.com/rawblock/coinforest/pkg/models"
)

func makeHash(b byte) (h [32]byte) {
	h[0] = b
	return h
}

func TestCreateAndReadRow(t *testing.T) {
	dir := t.TempDir()
	rows := []models.Row{
		{Hash: makeHash(1), ID: 10},
		{Hash: makeHash(2), ID: 20},
		{Hash: makeHash(3), ID: 30},
	}
	path := filepath.Join(dir, "test.db")
	f, err := Create(path, rows)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if f.RowCount() != 3 {
		t.Fatalf("RowCount() = %d, want 3", f.RowCount())
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reopened.RowCount() != 3 {
		t.Fatalf("reopened RowCount() = %d, want 3", reopened.RowCount())
	}
	row, err := reopened.ReadRow(1)
	if err != nil {
		t.Fatalf("ReadRow(1): %v", err)
	}
	if row.Hash != rows[1].Hash || row.ID != rows[1].ID {
		t.Errorf("ReadRow(1) = %+v, want %+v", row, rows[1])
	}
}

func TestReadRowOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.db")
	f, err := Create(path, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.ReadRow(0); err == nil {
		t.Error("ReadRow(0) on empty file should have failed")
	}
}

func TestIteratorOrder(t *testing.T) {
	dir := t.TempDir()
	rows := []models.Row{
		{Hash: makeHash(1), ID: 1},
		{Hash: makeHash(2), ID: 2},
		{Hash: makeHash(3), ID: 3},
	}
	path := filepath.Join(dir, "iter.db")
	f, err := Create(path, rows)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	it, err := f.Rows()
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	defer it.Close()

	var got []models.Row
	for it.Next() {
		got = append(got, it.Row())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration error: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("got %d rows, want %d", len(got), len(rows))
	}
	for i, r := range got {
		if r != rows[i] {
			t.Errorf("row %d = %+v, want %+v", i, r, rows[i])
		}
	}
}
