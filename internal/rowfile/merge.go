package rowfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/rawblock/coinforest/pkg/models"
)

// CreateFromIterator streams rows from next into a new Sorted Row File
// without ever materialising the whole sequence in memory. next returns
// (row, true, nil) for each row in order, and (zero, false, nil) at the end.
// The caller is responsible for guaranteeing the rows arrive sorted.
func CreateFromIterator(path string, next func() (models.Row, bool, error)) (*File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rowfile: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 1<<20)
	var buf [RowSize]byte
	var count uint64
	for {
		row, ok, err := next()
		if err != nil {
			return nil, fmt.Errorf("rowfile: merge source for %s: %w", path, err)
		}
		if !ok {
			break
		}
		copy(buf[:32], row.Hash[:])
		binary.BigEndian.PutUint64(buf[32:], row.ID)
		if _, err := w.Write(buf[:]); err != nil {
			return nil, fmt.Errorf("rowfile: write %s: %w", path, err)
		}
		count++
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("rowfile: flush %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("rowfile: sync %s: %w", path, err)
	}
	return &File{path: path, rowCount: count}, nil
}
