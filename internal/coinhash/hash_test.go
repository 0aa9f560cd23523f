package coinhash

import (
	"bytes"
	"testing"

	"github.com/rawblock/coinforest/pkg/models"
)

func TestCompactAmountZero(t *testing.T) {
	if got := CompactAmount(0); got != nil {
		t.Errorf("CompactAmount(0) = %v, want nil", got)
	}
}

func TestCompactAmountSmall(t *testing.T) {
	got := CompactAmount(42)
	want := []byte{42}
	if !bytes.Equal(got, want) {
		t.Errorf("CompactAmount(42) = %v, want %v", got, want)
	}
}

func TestCompactAmountLarge(t *testing.T) {
	got := CompactAmount(1_000_000_000_000)
	if len(got) == 0 {
		t.Fatal("CompactAmount returned empty for non-zero value")
	}
	// the high bit of the leading byte must be clear: a signed big-endian
	// encoding would otherwise be read back as negative.
	if got[0]&0x80 != 0 {
		t.Errorf("CompactAmount(1e12)[0] = %#x, high bit set", got[0])
	}
}

func TestCoinNameDeterministic(t *testing.T) {
	c := models.Coin{Amount: 1000}
	a := CoinName(c)
	b := CoinName(c)
	if a != b {
		t.Error("CoinName is not deterministic for identical coins")
	}
}

func TestCoinNameDistinguishesAmount(t *testing.T) {
	c1 := models.Coin{Amount: 1}
	c2 := models.Coin{Amount: 2}
	if CoinName(c1) == CoinName(c2) {
		t.Error("CoinName collided for coins differing only in amount")
	}
}
