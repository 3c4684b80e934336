package names

import (
	"slices"
	"testing"
)

func TestRandom_FromPool(t *testing.T) {
	p := Pool()
	for i := 0; i < 200; i++ {
		if n := Random(); !slices.Contains(p, n) {
			t.Fatalf("Random()=%q, not in pool", n)
		}
	}
}

func TestPool_ReturnsCopy(t *testing.T) {
	p := Pool()
	p[0] = "changed"
	if Pool()[0] == "changed" {
		t.Fatalf("Pool exposed internal slice")
	}
}
