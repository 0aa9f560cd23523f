package ingest

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/coinforest/internal/coinhash"
	"github.com/rawblock/coinforest/pkg/models"
)

func TestTopologicalSortOrdersParentBeforeChild(t *testing.T) {
	root := models.Coin{ParentCoinName: hashFor(1), PuzzleHash: hashFor(2), Amount: 100}
	rootName := coinhash.CoinName(root)
	child := models.Coin{ParentCoinName: rootName, PuzzleHash: hashFor(3), Amount: 50}
	childName := coinhash.CoinName(child)

	byName := map[chainhash.Hash]models.Coin{
		rootName:  root,
		childName: child,
	}

	sorted, err := topologicalSortConfirms(byName)
	if err != nil {
		t.Fatalf("topologicalSortConfirms: %v", err)
	}
	if len(sorted) != 2 {
		t.Fatalf("got %d coins, want 2", len(sorted))
	}
	rootIdx, childIdx := -1, -1
	for i, c := range sorted {
		name := coinhash.CoinName(c)
		if name == rootName {
			rootIdx = i
		}
		if name == childName {
			childIdx = i
		}
	}
	if rootIdx == -1 || childIdx == -1 {
		t.Fatalf("one of the coins was dropped by the sort")
	}
	if rootIdx > childIdx {
		t.Errorf("parent sorted after child: rootIdx=%d childIdx=%d", rootIdx, childIdx)
	}
}

func TestTopologicalSortDetectsCycle(t *testing.T) {
	a := models.Coin{PuzzleHash: hashFor(1), Amount: 1}
	aName := coinhash.CoinName(a)
	b := models.Coin{ParentCoinName: aName, PuzzleHash: hashFor(2), Amount: 2}
	bName := coinhash.CoinName(b)
	// Rewrite a to (falsely) depend on b, forming a cycle. This can't arise
	// from real coin names (a coin's name commits to its parent's name) but
	// the sort must still reject it rather than loop forever.
	a.ParentCoinName = bName

	byName := map[chainhash.Hash]models.Coin{
		aName: a,
		bName: b,
	}
	if _, err := topologicalSortConfirms(byName); err == nil {
		t.Error("expected a cycle error, got nil")
	}
}

func hashFor(b byte) (h chainhash.Hash) {
	h[0] = b
	return h
}
