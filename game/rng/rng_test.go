package rng

import (
	"sync"
	"testing"
)

func TestSeededProviderDeterminism(t *testing.T) {
	drawSequence := func(seed int64, characterID string, n int) []float64 {
		p := NewSeededProvider(seed)
		src := p.ForCharacter(characterID)
		out := make([]float64, n)
		for i := range out {
			out[i] = src.Float64()
		}
		return out
	}

	first := drawSequence(42, "char-1", 20)
	second := drawSequence(42, "char-1", 20)

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("draw %d diverged: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestSeededProviderPerCharacterIsolation(t *testing.T) {
	p := NewSeededProvider(42)
	a := p.ForCharacter("char-a")
	b := p.ForCharacter("char-b")

	same := true
	for i := 0; i < 10; i++ {
		if a.Float64() != b.Float64() {
			same = false
		}
	}
	if same {
		t.Error("different characters drew identical sequences")
	}
}

func TestSeededProviderRetainsState(t *testing.T) {
	p := NewSeededProvider(7)

	// Interleaved turns for one character must continue the same stream.
	src1 := p.ForCharacter("char-1")
	v1 := src1.Float64()
	src2 := p.ForCharacter("char-1")
	v2 := src2.Float64()

	// Fresh provider draws the same two values back-to-back.
	fresh := NewSeededProvider(7).ForCharacter("char-1")
	if fresh.Float64() != v1 {
		t.Error("first draw does not replay")
	}
	if fresh.Float64() != v2 {
		t.Error("second draw does not continue the retained stream")
	}
}

func TestSeedChangesSequence(t *testing.T) {
	a := NewSeededProvider(1).ForCharacter("char-1")
	b := NewSeededProvider(2).ForCharacter("char-1")

	same := true
	for i := 0; i < 10; i++ {
		if a.Float64() != b.Float64() {
			same = false
		}
	}
	if same {
		t.Error("different seeds drew identical sequences")
	}
}

func TestCryptoProvider(t *testing.T) {
	p := NewCryptoProvider()
	if p.Seeded() {
		t.Error("crypto provider reports seeded")
	}

	a := p.ForCharacter("char-1")
	b := p.ForCharacter("char-1")

	same := true
	for i := 0; i < 10; i++ {
		if a.Float64() != b.Float64() {
			same = false
		}
	}
	if same {
		t.Error("crypto sources drew identical sequences")
	}
}

func TestFloat64Range(t *testing.T) {
	src := NewSeededProvider(99).ForCharacter("char-1")
	for i := 0; i < 1000; i++ {
		v := src.Float64()
		if v < 0 || v >= 1 {
			t.Fatalf("Float64() = %v, want [0,1)", v)
		}
	}
}

func TestIntNBounds(t *testing.T) {
	src := NewSeededProvider(99).ForCharacter("char-1")
	for i := 0; i < 1000; i++ {
		v := src.IntN(5)
		if v < 0 || v >= 5 {
			t.Fatalf("IntN(5) = %d, want [0,5)", v)
		}
	}
}

func TestProviderConcurrentAccess(t *testing.T) {
	p := NewSeededProvider(42)
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			src := p.ForCharacter("shared")
			for j := 0; j < 100; j++ {
				_ = src.Float64()
			}
		}(i)
	}
	wg.Wait()
}

func TestSystemClock(t *testing.T) {
	c := SystemClock()
	if c.Now().IsZero() {
		t.Error("system clock returned zero time")
	}
}
