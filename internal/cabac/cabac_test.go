package cabac

import (
	"math/rand"
	"testing"

	"github.com/deepteams/hevcrdo/internal/hevc"
	"github.com/deepteams/hevcrdo/internal/scan"
	"github.com/stretchr/testify/require"
)

func TestBinBitsMonotonic(t *testing.T) {
	if d := int(bin2bits[0]) - One; d < -2 || d > 2 {
		t.Errorf("MPS cost at state 0 = %d, want ~%d", bin2bits[0], One)
	}
	for s := 1; s < 63; s++ {
		if bin2bits[s<<1] > bin2bits[(s-1)<<1] {
			t.Errorf("MPS cost rises at state %d: %d > %d", s, bin2bits[s<<1], bin2bits[(s-1)<<1])
		}
		if bin2bits[s<<1|1] < bin2bits[(s-1)<<1|1] {
			t.Errorf("LPS cost falls at state %d", s)
		}
		if bin2bits[s<<1] >= bin2bits[s<<1|1] {
			t.Errorf("state %d: MPS cost %d not below LPS cost %d", s, bin2bits[s<<1], bin2bits[s<<1|1])
		}
	}
}

func TestNextStateFlipsMPS(t *testing.T) {
	// LPS at state 0 swaps the MPS.
	if got := Next(0<<1|1, 0); got != 0<<1|0 {
		t.Errorf("Next(state0 mps1, 0) = %#x, want %#x", got, 0)
	}
	// MPS moves up one state.
	if got := Next(5<<1|1, 1); got != 6<<1|1 {
		t.Errorf("Next(state5 mps1, 1) = %#x, want %#x", got, 6<<1|1)
	}
	// MPS saturates at 62.
	if got := Next(62<<1, 0); got != 62<<1 {
		t.Errorf("Next(state62, mps) = %#x, want %#x", got, 62<<1)
	}
}

func TestInit(t *testing.T) {
	tests := []struct {
		name  string
		slice hevc.SliceType
		qp    int
		idx   int
		want  uint8
	}{
		// init value 154 is the equiprobable state at every QP.
		{"neutral", hevc.SliceI, 37, CtxQPDelta, 1},
		// init value 139: pre = ((-5*26)>>4) + 72 = 63.
		{"split_cu qp26", hevc.SliceI, 26, CtxSplitCU, 0},
		// init value 184 at qp 22: slope 10, offset 48, pre = (220>>4)+48 = 61.
		{"part_mode qp22", hevc.SliceI, 22, CtxPartMode, 2 << 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Init(tt.slice, tt.qp)
			if got := c[tt.idx]; got != tt.want {
				t.Errorf("ctx[%d] = %#x, want %#x", tt.idx, got, tt.want)
			}
		})
	}
	for _, s := range []hevc.SliceType{hevc.SliceI, hevc.SliceP, hevc.SliceB} {
		c := Init(s, 30)
		for i, v := range c {
			if v>>1 > 62 {
				t.Errorf("%v ctx[%d] state %d out of range", s, i, v>>1)
			}
		}
	}
}

func TestRollbackExact(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	c := Init(hevc.SliceB, 32)
	before := c.Snapshot()
	for i := 0; i < 2000; i++ {
		c.Encode(rng.Intn(NumContexts), rng.Intn(2))
	}
	require.NotEqual(t, before, c)
	c.Restore(&before)
	require.Equal(t, before, c)
}

func TestRestoreFromKeepsHead(t *testing.T) {
	c := Init(hevc.SliceP, 27)
	snap := c.Snapshot()
	for i := 0; i < 20; i++ {
		c.Encode(CtxSplitCU, 1)
		c.Encode(CtxSig+5, 1)
	}
	head := c[CtxSplitCU]
	c.RestoreFrom(&snap, CoeffOffset)
	require.Equal(t, head, c[CtxSplitCU])
	require.Equal(t, snap[CoeffOffset:], c[CoeffOffset:])
}

func TestIndexOutOfRangePanics(t *testing.T) {
	c := Init(hevc.SliceI, 30)
	defer func() {
		r := recover()
		if _, ok := r.(*hevc.FatalError); !ok {
			t.Fatalf("recover() = %v, want *hevc.FatalError", r)
		}
	}()
	c.Encode(NumContexts, 0)
}

func TestBitsDoesNotMutate(t *testing.T) {
	c := Init(hevc.SliceI, 30)
	snap := c.Snapshot()
	c.Bits(CtxSig+3, 1)
	c.LastPosBits(5, 7, 3, true, scan.Diag, false)
	require.Equal(t, snap, c)
}

func TestBinarizationCosts(t *testing.T) {
	tests := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"EG0(0)", EGkBits(0, 0), 1 * One},
		{"EG0(1)", EGkBits(1, 0), 3 * One},
		{"EG1(0)", EGkBits(0, 1), 2 * One},
		{"EG1(2)", EGkBits(2, 1), 4 * One},
		{"rem0 rice0", RemainingBits(0, 0), 1 * One},
		{"rem2 rice0", RemainingBits(2, 0), 3 * One},
		{"rem3 rice0", RemainingBits(3, 0), 4 * One},
		{"rem4 rice0", RemainingBits(4, 0), 6 * One},
		{"rem5 rice1", RemainingBits(5, 1), 4 * One},
		{"tu 1 of 3", TUnaryBypassBits(1, 3), 2 * One},
		{"tu 3 of 3", TUnaryBypassBits(3, 3), 3 * One},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestUpdateRice(t *testing.T) {
	if got := UpdateRice(0, 3); got != 0 {
		t.Errorf("UpdateRice(0, 3) = %d, want 0", got)
	}
	if got := UpdateRice(0, 4); got != 1 {
		t.Errorf("UpdateRice(0, 4) = %d, want 1", got)
	}
	if got := UpdateRice(MaxRice, 1000); got != MaxRice {
		t.Errorf("UpdateRice(max, 1000) = %d, want %d", got, MaxRice)
	}
}

func TestSigCtx(t *testing.T) {
	tests := []struct {
		name                   string
		log2, scanIdx, x, y, n int
		luma                   bool
		want                   int
	}{
		{"4x4 luma dc", 2, scan.Diag, 0, 0, 0, true, CtxSig},
		{"4x4 luma (3,2)", 2, scan.Diag, 3, 2, 0, true, CtxSig + 8},
		{"4x4 chroma (1,0)", 2, scan.Diag, 1, 0, 0, false, CtxSig + 27 + 1},
		{"8x8 dc", 3, scan.Diag, 0, 0, 0, true, CtxSig},
		{"8x8 diag first csb", 3, scan.Diag, 1, 0, 0, true, CtxSig + 1 + 9},
		{"8x8 horz other csb", 3, scan.Horz, 4, 0, 3, true, CtxSig + 2 + 3 + 15},
		{"16x16 luma", 4, scan.Diag, 5, 5, 1, true, CtxSig + 1 + 3 + 21},
		{"16x16 chroma", 4, scan.Diag, 2, 0, 2, false, CtxSig + 27 + 0 + 12},
	}
	for _, tt := range tests {
		if got := SigCtx(tt.log2, tt.scanIdx, tt.luma, tt.x, tt.y, tt.n); got != tt.want {
			t.Errorf("%s: SigCtx = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestResidueBits(t *testing.T) {
	blk := make([]int16, 64)
	// One sub-block with nonzero scan positions 0 and 5: sign hiding applies.
	blk[0] = 3
	blk[2] = -1 // (2,0) is diagonal scan position 5
	buf := make([]byte, scan.MaxStreamSize)
	n := scan.Serialize(buf, blk, 3, scan.Diag, nil)

	base := Init(hevc.SliceI, 32)

	c1 := base
	plain, err := c1.ResidueBits(buf[:n], 3, true, false)
	require.NoError(t, err)
	require.Greater(t, plain, uint32(2*One))
	require.Equal(t, base[:CoeffOffset], c1[:CoeffOffset], "residual coding touched non-coefficient contexts")

	c2 := base
	hidden, err := c2.ResidueBits(buf[:n], 3, true, true)
	require.NoError(t, err)
	require.Equal(t, plain-One, hidden)
	require.Equal(t, c1, c2)

	c3 := base
	again, err := c3.ResidueBits(buf[:n], 3, true, false)
	require.NoError(t, err)
	require.Equal(t, plain, again)
}

func TestResidueBitsGrowWithMagnitude(t *testing.T) {
	base := Init(hevc.SliceP, 30)
	prev := uint32(0)
	for _, v := range []int16{1, 2, 3, 8, 40, 300} {
		blk := make([]int16, 16)
		blk[0] = v
		buf := make([]byte, scan.MaxStreamSize)
		n := scan.Serialize(buf, blk, 2, scan.Diag, nil)
		c := base
		bits, err := c.ResidueBits(buf[:n], 2, true, false)
		require.NoError(t, err)
		if bits < prev {
			t.Errorf("bits(|%d|) = %d, below bits of smaller level %d", v, bits, prev)
		}
		prev = bits
	}
}

func TestSyntaxCosts(t *testing.T) {
	c := Init(hevc.SliceP, 30)
	if c.RefIdx(0, 1) != 0 {
		t.Error("RefIdx with one active reference must be free")
	}
	if c.MergeIdx(0, 1) != 0 {
		t.Error("MergeIdx with one candidate must be free")
	}
	d := c
	if d.Mvd(hevc.MV{}) >= d.Mvd(hevc.MV{X: 40, Y: -12}) {
		t.Error("zero MVD not cheaper than a large MVD")
	}
	e := c
	amp := e.PartModeInter(hevc.Part2NxnU, true, false, false)
	f := c
	sym := f.PartModeInter(hevc.Part2Nx2N, true, false, false)
	if amp <= sym {
		t.Errorf("AMP part mode cost %d not above 2Nx2N cost %d", amp, sym)
	}
	g, h := c, c
	if dm, explicit := g.ChromaPredMode(hevc.ChromaDM), h.ChromaPredMode(0); explicit <= dm {
		t.Errorf("explicit chroma mode cost %d not above DM cost %d", explicit, dm)
	}
}
