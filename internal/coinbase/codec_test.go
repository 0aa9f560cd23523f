package coinbase

import "testing"

func TestRoundTrip(t *testing.T) {
	c := New()
	// low byte of -v selects the prefix table index, so only values whose
	// magnitude is congruent to 0 or 1 mod 256 are valid for the two-entry
	// default table.
	for _, v := range []int64{0, -1, -256, -257, -256000, -256001} {
		name, err := c.NameForCoinbaseIndex(v)
		if err != nil {
			t.Fatalf("NameForCoinbaseIndex(%d): %v", v, err)
		}
		got, ok := c.AsCoinbaseIndex(name)
		if !ok {
			t.Fatalf("AsCoinbaseIndex did not recognize name produced for %d", v)
		}
		if got != v {
			t.Errorf("round trip of %d produced %d", v, got)
		}
	}
}

func TestAsCoinbaseIndexRejectsOrdinaryName(t *testing.T) {
	c := New()
	var name [32]byte
	for i := range name {
		name[i] = byte(i + 1)
	}
	if _, ok := c.AsCoinbaseIndex(name); ok {
		t.Error("AsCoinbaseIndex accepted a non-coinbase-shaped name")
	}
}

func TestAsCoinbaseIndexRejectsUnknownPrefix(t *testing.T) {
	c := New()
	var name [32]byte
	// zero-windowed (bytes 16:24) but a prefix that isn't in the table.
	name[0] = 0xAB
	if _, ok := c.AsCoinbaseIndex(name); ok {
		t.Error("AsCoinbaseIndex accepted an unknown prefix")
	}
}

func TestNameForCoinbaseIndexRejectsPositive(t *testing.T) {
	c := New()
	if _, err := c.NameForCoinbaseIndex(1); err == nil {
		t.Error("NameForCoinbaseIndex(1) should have failed")
	}
}
