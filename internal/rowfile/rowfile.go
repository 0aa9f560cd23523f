// Package rowfile implements the Sorted Row File: an immutable, write-once
// file of (hash, id) rows sorted ascending by hash.
package rowfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/coinforest/pkg/models"
)

// RowSize is the on-disk size of one (hash, id) record: 32 bytes of hash
// followed by 8 bytes of big-endian unsigned id.
const RowSize = chainhash.HashSize + 8

// ErrCorrupt indicates a row file whose size is not a multiple of RowSize,
// or a read of a non-existent ordinal.
var ErrCorrupt = errors.New("rowfile: corrupt or out-of-range row file")

// File is a handle onto an on-disk Sorted Row File. It is safe to use from
// a single goroutine at a time; the file is never mutated after Create.
type File struct {
	path     string
	rowCount uint64
}

// Create writes rows, which the caller MUST have already sorted strictly
// ascending by hash, to a new file at path. The format provides no way to
// detect an unsorted input; that guarantee is the caller's (the Forest's)
// responsibility.
func Create(path string, rows []models.Row) (*File, error) {
	i := 0
	return CreateFromIterator(path, func() (models.Row, bool, error) {
		if i >= len(rows) {
			return models.Row{}, false, nil
		}
		r := rows[i]
		i++
		return r, true, nil
	})
}

// Open opens an existing Sorted Row File, deriving its row count from the
// file size.
func Open(path string) (*File, error) {
	f := &File{path: path}
	n, err := f.RequeryCount()
	if err != nil {
		return nil, err
	}
	f.rowCount = n
	return f, nil
}

// Path returns the file's path on disk.
func (f *File) Path() string { return f.path }

// RowCount returns the cached row count (file size / RowSize).
func (f *File) RowCount() uint64 { return f.rowCount }

// RequeryCount re-derives the row count from the file's current size on
// disk, used to audit the file after a merge.
func (f *File) RequeryCount() (uint64, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return 0, fmt.Errorf("rowfile: stat %s: %w", f.path, err)
	}
	size := info.Size()
	if size%RowSize != 0 {
		return 0, fmt.Errorf("%w: %s has size %d, not a multiple of %d", ErrCorrupt, f.path, size, RowSize)
	}
	return uint64(size) / RowSize, nil
}

// ReadRow returns the i-th record (0-based). i must be in [0, RowCount()).
func (f *File) ReadRow(i uint64) (models.Row, error) {
	if i >= f.rowCount {
		return models.Row{}, fmt.Errorf("%w: row %d out of range (count %d)", ErrCorrupt, i, f.rowCount)
	}
	fh, err := os.Open(f.path)
	if err != nil {
		return models.Row{}, fmt.Errorf("rowfile: open %s: %w", f.path, err)
	}
	defer fh.Close()

	var buf [RowSize]byte
	if _, err := fh.ReadAt(buf[:], int64(i)*RowSize); err != nil {
		return models.Row{}, fmt.Errorf("rowfile: read row %d of %s: %w", i, f.path, err)
	}
	return decodeRow(buf), nil
}

func decodeRow(buf [RowSize]byte) models.Row {
	var r models.Row
	copy(r.Hash[:], buf[:chainhash.HashSize])
	r.ID = binary.BigEndian.Uint64(buf[chainhash.HashSize:])
	return r
}

// Iterator lazily scans a Sorted Row File in order, never materialising the
// whole file in memory.
type Iterator struct {
	fh   *os.File
	r    *bufio.Reader
	cur  models.Row
	err  error
	done bool
}

// Rows opens a lazy, ordered scan over all rows in the file.
func (f *File) Rows() (*Iterator, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("rowfile: open %s: %w", f.path, err)
	}
	return &Iterator{fh: fh, r: bufio.NewReaderSize(fh, 1<<20)}, nil
}

// Next advances the iterator, returning false at EOF or on error (check Err).
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	var buf [RowSize]byte
	if _, err := io.ReadFull(it.r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			it.done = true
		} else {
			it.err = fmt.Errorf("rowfile: scan: %w", err)
		}
		return false
	}
	it.cur = decodeRow(buf)
	return true
}

// Row returns the row most recently produced by Next.
func (it *Iterator) Row() models.Row { return it.cur }

// Err returns the first error encountered during iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Close releases the underlying file handle.
func (it *Iterator) Close() error { return it.fh.Close() }
