package tq

import (
	"math/rand"
	"testing"

	"github.com/deepteams/hevcrdo/internal/cabac"
	"github.com/deepteams/hevcrdo/internal/dsp"
	"github.com/deepteams/hevcrdo/internal/hevc"
	"github.com/deepteams/hevcrdo/internal/quant"
	"github.com/deepteams/hevcrdo/internal/scan"
	"github.com/stretchr/testify/require"
)

// tuPair returns a source block and a prediction that differs from it by
// noise of the given amplitude.
func tuPair(rng *rand.Rand, n, amp int) (src, pred []byte) {
	src = make([]byte, n*n)
	pred = make([]byte, n*n)
	for i := range src {
		s := 128 + rng.Intn(64) - 32
		src[i] = byte(s)
		pred[i] = byte(hevc.Clip3(0, 255, s+rng.Intn(2*amp+1)-amp))
	}
	return src, pred
}

func newInput(log2 int, src, pred []byte, qp int, lambdaQ8 int64) *Input {
	n := 1 << log2
	return &Input{
		Log2:        log2,
		Luma:        true,
		IntraMode:   -1,
		Src:         src,
		SrcStride:   n,
		Pred:        pred,
		PredStride:  n,
		Recon:       make([]byte, n*n),
		ReconStride: n,
		EarlyCBF:    true,
		QPDiv:       qp / 6,
		QPMod:       qp % 6,
		LambdaQ8:    lambdaQ8,
		Rounding:    &quant.Rounding{Fixed: 1 << hevc.RoundFactorQ / 6},
		CBFCtx:      cabac.CbfLumaCtx(1),
	}
}

func TestSkipReturnsPredictionCost(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	src, pred := tuPair(rng, 16, 20)
	ctx := cabac.Init(hevc.SliceP, 30)
	before := ctx

	for _, tt := range []struct {
		name     string
		skip     bool
		earlyCBF bool
		sad      bool
	}{
		{"skip", true, true, false},
		{"early_cbf=0", false, false, false},
		{"skip sad", true, true, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			in := newInput(4, src, pred, 30, 256*20)
			in.Skip, in.EarlyCBF, in.SADCost = tt.skip, tt.earlyCBF, tt.sad
			var e Engine
			var blk Block
			out := make([]byte, scan.MaxStreamSize)
			r := e.Evaluate(in, &ctx, &blk, out)

			want := dsp.SSD(src, 16, pred, 16, 16, 16)
			if tt.sad {
				want = dsp.SAD(src, 16, pred, 16, 16, 16)
			}
			if r.CBF {
				t.Errorf("CBF = true, want false")
			}
			if r.Cost != want || r.Dist != want {
				t.Errorf("cost = %d, dist = %d, want %d", r.Cost, r.Dist, want)
			}
			if r.Bytes != 0 || r.Bits != 0 {
				t.Errorf("bytes = %d, bits = %d, want 0", r.Bytes, r.Bits)
			}
			require.Equal(t, pred, in.Recon)
			require.Equal(t, before, ctx)
		})
	}
}

func TestZeroCBFDominance(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	var e Engine
	var blk Block
	out := make([]byte, scan.MaxStreamSize)
	zeroChosen, codedChosen := 0, 0
	for i := 0; i < 300; i++ {
		log2 := 2 + rng.Intn(4)
		n := 1 << log2
		src, pred := tuPair(rng, n, 1+rng.Intn(12))
		qp := 22 + rng.Intn(16)
		lam := int64(256 * (1 + rng.Intn(400)))
		ctx := cabac.Init(hevc.SliceP, qp)
		before := ctx

		in := newInput(log2, src, pred, qp, lam)
		in.ZeroCBF = true
		in.SpatialSSD = true
		r := e.Evaluate(in, &ctx, &blk, out)

		zeroCost := dsp.SSD(src, n, pred, n, n, n) + quant.RateCost(before.Bits(in.CBFCtx, 0), lam)
		if r.CBF {
			codedChosen++
			if r.Cost >= zeroCost {
				t.Fatalf("coded cost %d kept against zero-CBF cost %d", r.Cost, zeroCost)
			}
			continue
		}
		zeroChosen++
		require.Equal(t, zeroCost, r.Cost)
		if r.Rejected >= 0 && r.Cost > r.Rejected {
			t.Fatalf("zero-CBF cost %d chosen against cheaper coded cost %d", r.Cost, r.Rejected)
		}
		want := before
		want.Encode(in.CBFCtx, 0)
		require.Equal(t, want, ctx, "contexts not rolled back to the zero-CBF outcome")
		require.Equal(t, pred, in.Recon[:n*n])
		require.Zero(t, r.Bytes)
	}
	require.NotZero(t, zeroChosen)
	require.NotZero(t, codedChosen)
}

func TestCodedResultMatchesStream(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	src, pred := tuPair(rng, 8, 30)
	ctx := cabac.Init(hevc.SliceI, 22)
	before := ctx
	in := newInput(3, src, pred, 22, 256)
	in.IntraMode = hevc.ModeDC
	in.SpatialSSD = true

	var e Engine
	var blk Block
	out := make([]byte, scan.MaxStreamSize)
	r := e.Evaluate(in, &ctx, &blk, out)
	require.True(t, r.CBF)
	require.NotZero(t, r.Bytes)
	require.Equal(t, r.Dist, dsp.SSD(src, 8, in.Recon, 8, 8, 8))

	var levels [64]int16
	_, err := scan.Descan(out[:r.Bytes], 3, levels[:])
	require.NoError(t, err)
	require.Equal(t, blk.Levels[:64], levels[:])

	want := before
	bits := want.Encode(in.CBFCtx, 1)
	rb, err := want.ResidueBits(out[:r.Bytes], 3, true, false)
	require.NoError(t, err)
	require.Equal(t, bits+rb, r.Bits)
	require.Equal(t, want, ctx)

	for y := 0; y < 8; y++ {
		rowZero := true
		for x := 0; x < 8; x++ {
			rowZero = rowZero && blk.Levels[y*8+x] == 0
		}
		if got := blk.ZeroRows>>y&1 == 1; got != rowZero {
			t.Errorf("ZeroRows bit %d = %v, want %v", y, got, rowZero)
		}
	}
}

func TestFrequencyDistortionTracksSpatial(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	var e Engine
	var blk Block
	out := make([]byte, scan.MaxStreamSize)
	for log2 := 2; log2 <= 5; log2++ {
		n := 1 << log2
		src, pred := tuPair(rng, n, 25)
		ctx := cabac.Init(hevc.SliceP, 27)
		in := newInput(log2, src, pred, 27, 256)
		in.NeedSpatialSSD = true
		freq := *in
		freq.NeedSpatialSSD = false
		cf := ctx
		rf := e.Evaluate(&freq, &cf, &blk, out)
		rs := e.Evaluate(in, &ctx, &blk, out)
		require.True(t, rs.CBF)
		require.Equal(t, dsp.SSD(src, n, in.Recon, n, n, n), rs.Dist)
		// Transform rounding keeps the two close.
		diff := rf.Dist - rs.Dist
		if diff < 0 {
			diff = -diff
		}
		if diff > rs.Dist/4+int64(2*n*n) {
			t.Errorf("log2 %d: frequency dist %d, spatial %d", log2, rf.Dist, rs.Dist)
		}
	}
}

func TestNoiseTermRaisesDistortion(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	src, pred := tuPair(rng, 8, 40)
	for i := range pred {
		pred[i] = 128
	}
	var e Engine
	var blk Block
	out := make([]byte, scan.MaxStreamSize)
	ctx := cabac.Init(hevc.SliceP, 37)
	in := newInput(3, src, pred, 37, 256*50)
	in.SpatialSSD = true
	c1 := ctx
	plain := e.Evaluate(in, &c1, &blk, out)
	in.NoiseStrength = 1
	c2 := ctx
	noisy := e.Evaluate(in, &c2, &blk, out)
	require.GreaterOrEqual(t, noisy.Dist, plain.Dist)
}

func TestFatalCombinations(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	src, pred := tuPair(rng, 8, 10)
	tests := []struct {
		name  string
		setup func(*Input)
	}{
		{"rdoq with tu rounding", func(in *Input) { in.RDOQ, in.AdaptRound, in.AdaptLambdaMod = true, true, 1 }},
		{"transform 64", func(in *Input) { in.Log2 = 6 }},
		{"transform 2", func(in *Input) { in.Log2 = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := newInput(3, src, pred, 30, 256)
			tt.setup(in)
			ctx := cabac.Init(hevc.SliceI, 30)
			defer func() {
				if _, ok := recover().(*hevc.FatalError); !ok {
					t.Fatal("no fatal error")
				}
			}()
			var e Engine
			var blk Block
			e.Evaluate(in, &ctx, &blk, make([]byte, scan.MaxStreamSize))
		})
	}
}

func TestAdaptiveRoundingOnContexts(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	src, pred := tuPair(rng, 16, 15)
	ctx := cabac.Init(hevc.SliceB, 32)
	in := newInput(4, src, pred, 32, 256*10)
	in.AdaptRound, in.AdaptLambdaMod = true, 1
	in.SignHiding = true
	var e Engine
	var blk Block
	r := e.Evaluate(in, &ctx, &blk, make([]byte, scan.MaxStreamSize))
	require.Equal(t, 256, len(e.round.R01))
	for _, v := range e.round.R01 {
		require.GreaterOrEqual(t, v, int32(0))
		require.LessOrEqual(t, v, int32(1<<(hevc.RoundFactorQ-1)))
	}
	if r.CBF {
		require.NotZero(t, r.Bytes)
	}
}

func BenchmarkEvaluate16(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	src, pred := tuPair(rng, 16, 20)
	in := newInput(4, src, pred, 30, 256*20)
	in.RDOQ, in.SignHiding, in.ZeroCBF = true, true, true
	var e Engine
	var blk Block
	out := make([]byte, scan.MaxStreamSize)
	base := cabac.Init(hevc.SliceP, 30)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ctx := base
		e.Evaluate(in, &ctx, &blk, out)
	}
}
