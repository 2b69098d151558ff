package dsp

import "testing"

func TestRandomAmplitude(t *testing.T) {
	tests := []struct {
		name      string
		amplitude float32
		wantAmp   int
	}{
		{"zero", 0.0, 0},
		{"negative", -1.0, 0},
		{"half", 0.5, 128},
		{"one", 1.0, 256},
		{"over", 2.0, 256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rg := NewRandom(0, tt.amplitude)
			if rg.amp != tt.wantAmp {
				t.Errorf("amp = %d, want %d", rg.amp, tt.wantAmp)
			}
		})
	}
}

func TestRandomSeedZeroKeepsTable(t *testing.T) {
	rg := NewRandom(0, 1)
	if rg.index1 != 0 || rg.index2 != 31 {
		t.Errorf("indices = %d/%d, want 0/31", rg.index1, rg.index2)
	}
	for i := range rg.tab {
		if rg.tab[i] != randomTable[i] {
			t.Errorf("tab[%d] = %#x, want %#x", i, rg.tab[i], randomTable[i])
		}
	}
}

func TestRandomCentered(t *testing.T) {
	rg := NewRandom(0, 1)
	const numBits = 16
	center := 1 << (numBits - 1)

	const n = 10000
	sum, lo, hi := 0, center*2, 0
	for i := 0; i < n; i++ {
		v := rg.Bits(numBits)
		sum += v
		lo, hi = min(lo, v), max(hi, v)
	}
	avg := float64(sum) / n
	if avg < float64(center)*0.90 || avg > float64(center)*1.10 {
		t.Errorf("average = %.1f, expected near %d", avg, center)
	}
	if lo >= center || hi <= center {
		t.Errorf("expected spread around center: min=%d, max=%d, center=%d", lo, hi, center)
	}
}

func TestRandomZeroAmplitude(t *testing.T) {
	rg := NewRandom(7, 0)
	for i := 0; i < 100; i++ {
		if v := rg.Bits(16); v != 1<<15 {
			t.Fatalf("iteration %d: got %d, want %d", i, v, 1<<15)
		}
	}
}

func TestRandomDeterministic(t *testing.T) {
	a, b := NewRandom(42, 0.75), NewRandom(42, 0.75)
	c := NewRandom(43, 0.75)
	differs := false
	for i := 0; i < 200; i++ {
		va, vb, vc := a.Bits(16), b.Bits(16), c.Bits(16)
		if va != vb {
			t.Fatalf("iteration %d: %d != %d for the same seed", i, va, vb)
		}
		differs = differs || va != vc
	}
	if !differs {
		t.Errorf("seeds 42 and 43 produced the same sequence")
	}
}
