// Package forest implements the Row-File Forest: a directory of Sorted Row
// Files with a logarithmic merge policy and multi-key binary-search lookup.
package forest

import (
	"bytes"
	"container/heap"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/coinforest/internal/rowfile"
	"github.com/rawblock/coinforest/pkg/models"
)

// DefaultMergeThreshold is the file count at which add_rows triggers a
// merge of the two smallest files. Empirically chosen upstream; exposed
// here as a tunable rather than baked in.
const DefaultMergeThreshold = 10

// ErrInvariant indicates a forest post-condition violation: a row count
// mismatch after add_rows or after a merge. This always indicates a bug or
// on-disk corruption and is fatal to the process.
var ErrInvariant = errors.New("forest: row count invariant violated")

// Forest holds a family of Sorted Row Files under one directory, named
// "<prefix>NNNNNN.db" with unique 6-digit sequence numbers.
type Forest struct {
	dir            string
	prefix         string
	files          map[uint64]*rowfile.File
	rowCount       uint64
	MergeThreshold int
}

// Open scans dir for files matching "<prefix>[0-9]{6}.db" and returns a
// Forest over them. The directory need not exist yet's contents need not
// exist; an empty forest is valid.
func Open(dir, prefix string) (*Forest, error) {
	pattern := filepath.Join(dir, prefix+"??????.db")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("forest: glob %s: %w", pattern, err)
	}

	f := &Forest{
		dir:            dir,
		prefix:         prefix,
		files:          make(map[uint64]*rowfile.File),
		MergeThreshold: DefaultMergeThreshold,
	}
	for _, path := range matches {
		seq, ok := seqFromPath(path, prefix)
		if !ok {
			continue
		}
		rf, err := rowfile.Open(path)
		if err != nil {
			return nil, err
		}
		f.files[seq] = rf
		f.rowCount += rf.RowCount()
	}
	return f, nil
}

func seqFromPath(path, prefix string) (uint64, bool) {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, ".db")
	digits := strings.TrimPrefix(name, prefix)
	if len(digits) != 6 {
		return 0, false
	}
	seq, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// RowCount returns the total row count across every file in the forest.
func (f *Forest) RowCount() uint64 { return f.rowCount }

// NewName returns the lowest unused "<prefix>NNNNNN.db" path, scanned
// monotonically from sequence 1.
func (f *Forest) NewName() string {
	return f.pathForSeq(f.nextSeq())
}

func (f *Forest) nextSeq() uint64 {
	var seq uint64 = 1
	for {
		if _, used := f.files[seq]; !used {
			return seq
		}
		seq++
	}
}

func (f *Forest) pathForSeq(seq uint64) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s%06d.db", f.prefix, seq))
}

func compareHash(a, b chainhash.Hash) int {
	return bytes.Compare(a[:], b[:])
}

// AddRows sorts batch ascending by hash, writes it as a new file, and
// invokes the merge policy. After it returns, RowCount() equals the old
// total plus len(batch) — enforced as a post-condition.
func (f *Forest) AddRows(batch []models.Row) error {
	if len(batch) == 0 {
		return nil
	}
	sorted := append([]models.Row(nil), batch...)
	sort.Slice(sorted, func(i, j int) bool {
		return compareHash(sorted[i].Hash, sorted[j].Hash) < 0
	})

	seq := f.nextSeq()
	path := f.pathForSeq(seq)
	rf, err := rowfile.Create(path, sorted)
	if err != nil {
		return err
	}
	f.files[seq] = rf
	f.rowCount += uint64(len(sorted))

	if err := f.mergeOnce(); err != nil {
		return err
	}
	if sum := f.sumFileRows(); sum != f.rowCount {
		return fmt.Errorf("%w: add_rows: forest reports %d, files sum to %d", ErrInvariant, f.rowCount, sum)
	}
	return nil
}

func (f *Forest) sumFileRows() uint64 {
	var sum uint64
	for _, rf := range f.files {
		sum += rf.RowCount()
	}
	return sum
}

// FindHashes resolves a batch of hashes against the forest, searching files
// in descending sequence-number order. New files take the lowest unused
// sequence number, so once a merge has freed low numbers this order is not
// strictly newest-first. Returns the located rows and the set of hashes,
// among queries, that were not found in any file.
func (f *Forest) FindHashes(queries []chainhash.Hash) ([]models.Row, map[chainhash.Hash]bool, error) {
	missing := make(map[chainhash.Hash]bool, len(queries))
	for _, q := range queries {
		missing[q] = true
	}
	if len(queries) == 0 {
		return nil, missing, nil
	}

	seqs := make([]uint64, 0, len(f.files))
	for seq := range f.files {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] > seqs[j] })

	var found []models.Row
	pending := make([]chainhash.Hash, 0, len(queries))
	for q := range missing {
		pending = append(pending, q)
	}
	sort.Slice(pending, func(i, j int) bool { return compareHash(pending[i], pending[j]) < 0 })

	for _, seq := range seqs {
		if len(pending) == 0 {
			break
		}
		rf := f.files[seq]
		hits, err := searchFile(rf, pending)
		if err != nil {
			return nil, nil, err
		}
		if len(hits) == 0 {
			continue
		}
		next := pending[:0:0]
		for _, q := range pending {
			if _, ok := hits[q]; !ok {
				next = append(next, q)
			}
		}
		for q, row := range hits {
			found = append(found, row)
			delete(missing, q)
		}
		pending = next
	}
	return found, missing, nil
}

// searchFile runs the recursive multi-key binary-search descent over a
// single file, returning every query it locates.
func searchFile(rf *rowfile.File, queries []chainhash.Hash) (map[chainhash.Hash]models.Row, error) {
	hits := make(map[chainhash.Hash]models.Row)
	n := rf.RowCount()
	if n == 0 {
		return hits, nil
	}
	var descend func(qs []chainhash.Hash, lo, hi uint64) error
	descend = func(qs []chainhash.Hash, lo, hi uint64) error {
		for len(qs) > 0 && lo < hi {
			if len(qs) == 1 {
				row, ok, err := binarySearchOne(rf, qs[0], lo, hi)
				if err != nil {
					return err
				}
				if ok {
					hits[qs[0]] = row
				}
				return nil
			}

			mid := lo + (hi-lo)/2
			row, err := rf.ReadRow(mid)
			if err != nil {
				return err
			}

			var below, above []chainhash.Hash
			for _, q := range qs {
				switch c := compareHash(q, row.Hash); {
				case c == 0:
					hits[q] = row
				case c < 0:
					below = append(below, q)
				default:
					above = append(above, q)
				}
			}
			if len(below) > 0 {
				if err := descend(below, lo, mid); err != nil {
					return err
				}
			}
			qs, lo = above, mid+1
		}
		return nil
	}
	if err := descend(queries, 0, n); err != nil {
		return nil, err
	}
	return hits, nil
}

// binarySearchOne resolves a single remaining query within [lo, hi).
func binarySearchOne(rf *rowfile.File, query chainhash.Hash, lo, hi uint64) (models.Row, bool, error) {
	for lo < hi {
		mid := lo + (hi-lo)/2
		row, err := rf.ReadRow(mid)
		if err != nil {
			return models.Row{}, false, err
		}
		switch c := compareHash(query, row.Hash); {
		case c == 0:
			return row, true, nil
		case c < 0:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return models.Row{}, false, nil
}

// mergeOnce implements the single-pass merge policy: once the file count
// reaches MergeThreshold, merge the two smallest files into one.
func (f *Forest) mergeOnce() error {
	if len(f.files) < f.MergeThreshold {
		return nil
	}

	type entry struct {
		seq  uint64
		file *rowfile.File
	}
	all := make([]entry, 0, len(f.files))
	for seq, rf := range f.files {
		all = append(all, entry{seq, rf})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].file.RowCount() < all[j].file.RowCount()
	})
	a, b := all[0], all[1]

	mergedSeq := f.nextSeqExcluding(a.seq, b.seq)
	mergedPath := f.pathForSeq(mergedSeq)
	log.Printf("forest: merging %s and %s into %s", a.file.Path(), b.file.Path(), mergedPath)

	expected := a.file.RowCount() + b.file.RowCount()
	n, err := mergeFiles([]*rowfile.File{a.file, b.file}, mergedPath)
	if err != nil {
		return err
	}
	if n != expected {
		return fmt.Errorf("%w: merge of %s+%s produced %d rows, expected %d",
			ErrInvariant, a.file.Path(), b.file.Path(), n, expected)
	}

	merged, err := rowfile.Open(mergedPath)
	if err != nil {
		return err
	}
	actual, err := merged.RequeryCount()
	if err != nil {
		return err
	}
	if actual != merged.RowCount() {
		return fmt.Errorf("%w: merged file %s requery count %d != %d", ErrInvariant, mergedPath, actual, merged.RowCount())
	}

	if err := removeFile(a.file.Path()); err != nil {
		return err
	}
	if err := removeFile(b.file.Path()); err != nil {
		return err
	}
	delete(f.files, a.seq)
	delete(f.files, b.seq)
	f.files[mergedSeq] = merged
	return nil
}

// nextSeqExcluding behaves like nextSeq but additionally skips seqs a and b,
// which are about to be removed but whose files are still on disk mid-merge.
func (f *Forest) nextSeqExcluding(a, b uint64) uint64 {
	var seq uint64 = 1
	for {
		if seq == a || seq == b {
			seq++
			continue
		}
		if _, used := f.files[seq]; !used {
			return seq
		}
		seq++
	}
}

// Reconcile compares the forest's row count against the number of coin rows
// the relational store reports. If the forest has more rows than the store
// accounts for, an earlier process likely crashed between writing a new
// forest file and committing the flush transaction that named it; the
// excess file(s) are orphaned. Recovery (rebuilding or truncating the
// forest) is left to the operator — this only surfaces the condition.
func (f *Forest) Reconcile(totalCoins uint64) error {
	if f.rowCount > totalCoins {
		log.Printf("forest: row count %d exceeds %d coin rows in the relational store; "+
			"an orphaned file from an incomplete flush is likely present", f.rowCount, totalCoins)
	}
	return nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("forest: remove %s: %w", path, err)
	}
	return nil
}

// mergeFiles n-way merges files into a single new Sorted Row File at
// outPath using a binary heap keyed by current hash, reading one row
// look-ahead per input file.
func mergeFiles(files []*rowfile.File, outPath string) (uint64, error) {
	h := &rowHeap{}
	heap.Init(h)

	its := make([]*rowfile.Iterator, 0, len(files))
	defer func() {
		for _, it := range its {
			it.Close()
		}
	}()

	for _, rf := range files {
		it, err := rf.Rows()
		if err != nil {
			return 0, err
		}
		its = append(its, it)
		if it.Next() {
			heap.Push(h, &heapItem{row: it.Row(), it: it})
		} else if it.Err() != nil {
			return 0, it.Err()
		}
	}

	next := func() (models.Row, bool, error) {
		if h.Len() == 0 {
			return models.Row{}, false, nil
		}
		item := heap.Pop(h).(*heapItem)
		row := item.row
		if item.it.Next() {
			item.row = item.it.Row()
			heap.Push(h, item)
		} else if err := item.it.Err(); err != nil {
			return models.Row{}, false, err
		}
		return row, true, nil
	}

	var count uint64
	countingNext := func() (models.Row, bool, error) {
		row, ok, err := next()
		if ok {
			count++
		}
		return row, ok, err
	}

	if _, err := rowfile.CreateFromIterator(outPath, countingNext); err != nil {
		return 0, err
	}
	return count, nil
}

type heapItem struct {
	row models.Row
	it  *rowfile.Iterator
}

type rowHeap []*heapItem

func (h rowHeap) Len() int { return len(h) }
func (h rowHeap) Less(i, j int) bool {
	return compareHash(h[i].row.Hash, h[j].row.Hash) < 0
}
func (h rowHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *rowHeap) Push(x any)   { *h = append(*h, x.(*heapItem)) }
func (h *rowHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
