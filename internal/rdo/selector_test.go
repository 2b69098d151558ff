package rdo

import (
	"errors"
	"math/rand"
	"slices"
	"testing"

	"github.com/deepteams/hevcrdo/internal/cabac"
	"github.com/deepteams/hevcrdo/internal/hevc"
	"github.com/deepteams/hevcrdo/internal/quant"
	"github.com/stretchr/testify/require"
)

const testQP = 32

func newPicture(w, h int, format hevc.ChromaFormat) *Picture {
	ch := h >> format.ShiftY()
	return &Picture{Y: hevc.NewPlane(w, h), Cb: hevc.NewPlane(w/2, ch), Cr: hevc.NewPlane(w/2, ch)}
}

func randomPicture(rng *rand.Rand, w, h int, format hevc.ChromaFormat) *Picture {
	p := newPicture(w, h, format)
	for _, pl := range []hevc.Plane{p.Y, p.Cb, p.Cr} {
		for i := range pl.Pix {
			pl.Pix[i] = byte(rng.Intn(256))
		}
	}
	return p
}

func testConfig(slice hevc.SliceType, preset int) Config {
	return Config{
		Preset:          preset,
		SliceType:       slice,
		SignHiding:      true,
		ZeroCBF:         true,
		MaxInterTUDepth: 1,
		SearchRange:     4,
	}
}

func newTestSelector(cfg Config, w, h int) (*Selector, *Grid) {
	qc := quant.NewContext(quant.Params{
		MinQP:        0,
		MaxQP:        51,
		SliceType:    cfg.SliceType,
		ChromaFormat: cfg.ChromaFormat,
	})
	g := NewGrid(w, h)
	return NewSelector(cfg, qc, g), g
}

func cuInput(x, y, log2 int, src, recon, ref *Picture) *CUInput {
	return &CUInput{
		X: x, Y: y, Log2: log2, Depth: hevc.MaxCULog2 - log2,
		QP: testQP, PredQP: testQP,
		CTBY: 0, LimitY: hevc.MaxCUSize,
		Src: src, Recon: recon, Ref: ref,
	}
}

// coverage returns the samples covered by the decision's transform
// units, per plane.
func coverage(d *Decision) [3]int {
	var a [3]int
	for _, tu := range d.TUs {
		a[tu.Plane] += 1 << (2 * tu.Log2)
	}
	return a
}

func spatialSSD(src, recon *Picture, x, y, size int, sy int) int64 {
	var d int64
	for p := 0; p < 3; p++ {
		s, r := src.plane(p), recon.plane(p)
		px, py, w, h := x, y, size, size
		if p > 0 {
			px, py, w, h = x>>1, y>>sy, size>>1, size>>sy
		}
		for j := py; j < py+h; j++ {
			for i := px; i < px+w; i++ {
				e := int64(s.At(i, j)) - int64(r.At(i, j))
				d += e * e
			}
		}
	}
	return d
}

func TestNewSelectorRejectsRDOQWithTURounding(t *testing.T) {
	cfg := testConfig(hevc.SliceI, 0)
	cfg.RDOQ = RDOQCU
	cfg.QuantRounding = RoundTU
	err := func() (err error) {
		defer hevc.Recover(&err)
		newTestSelector(cfg, 64, 64)
		return nil
	}()
	var fe *hevc.FatalError
	require.True(t, errors.As(err, &fe), "err = %v, want *hevc.FatalError", err)
	require.Equal(t, "rdo: coefficient RDOQ combined with TU-level rounding", fe.Msg)
}

func TestEvaluateCUCoverage(t *testing.T) {
	for _, tc := range []struct {
		name   string
		log2   int
		preset int
		format hevc.ChromaFormat
		rdoq   RDOQLevel
	}{
		{"8x8 slow", 3, 0, hevc.Chroma420, RDOQOff},
		{"8x8 rdoq", 3, 2, hevc.Chroma420, RDOQCU},
		{"16x16", 4, 3, hevc.Chroma420, RDOQTU},
		{"32x32 422", 5, 4, hevc.Chroma422, RDOQOff},
		{"64x64 fast", 6, 6, hevc.Chroma420, RDOQOff},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(int64(tc.log2)))
			src := randomPicture(rng, 64, 64, tc.format)
			recon := newPicture(64, 64, tc.format)
			cfg := testConfig(hevc.SliceI, tc.preset)
			cfg.ChromaFormat = tc.format
			cfg.RDOQ = tc.rdoq
			s, g := newTestSelector(cfg, 64, 64)

			ctx := cabac.Init(hevc.SliceI, testQP)
			d, err := s.EvaluateCU(cuInput(0, 0, tc.log2, src, recon, nil), &ctx)
			require.NoError(t, err)
			require.Equal(t, hevc.PredIntra, d.Pred)

			n := 1 << tc.log2
			cov := coverage(d)
			require.Equal(t, n*n, cov[0], "luma coverage")
			chroma := (n >> 1) * (n >> tc.format.ShiftY())
			require.Equal(t, chroma, cov[1], "Cb coverage")
			require.Equal(t, chroma, cov[2], "Cr coverage")

			end := 0
			for _, tu := range d.TUs {
				require.Equal(t, end, tu.Offset)
				if !tu.CBF && tu.Length != 0 {
					t.Errorf("TU at %d,%d plane %d has %d bytes without CBF", tu.X, tu.Y, tu.Plane, tu.Length)
				}
				end += tu.Length
			}
			require.Equal(t, end, len(d.Stream))

			require.Equal(t, spatialSSD(src, recon, 0, 0, n, tc.format.ShiftY()), d.Dist)
			require.Equal(t, d.Bits.Total(), d.Bits.Header+d.Bits.CBF+d.Bits.Residual)

			for y := 0; y < 64; y += 4 {
				for x := 0; x < 64; x += 4 {
					in := x < n && y < n
					if got := g.At(x, y).Coded; got != in {
						t.Fatalf("grid (%d, %d) coded = %v, want %v", x, y, got, in)
					}
				}
			}
		})
	}
}

func TestEvaluateCUDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	src := randomPicture(rng, 64, 64, hevc.Chroma420)
	ref := randomPicture(rng, 64, 64, hevc.Chroma420)

	run := func() (*Decision, cabac.Contexts, []byte) {
		recon := newPicture(64, 64, hevc.Chroma420)
		s, _ := newTestSelector(testConfig(hevc.SliceP, 1), 64, 64)
		ctx := cabac.Init(hevc.SliceP, testQP)
		d, err := s.EvaluateCU(cuInput(16, 16, 4, src, recon, ref), &ctx)
		require.NoError(t, err)
		return d, ctx, recon.Y.Pix
	}
	d1, ctx1, rec1 := run()
	d2, ctx2, rec2 := run()
	require.Equal(t, d1, d2)
	require.Equal(t, ctx1, ctx2)
	require.Equal(t, rec1, rec2)
}

func TestTryKeepsBestOnTie(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	src := randomPicture(rng, 64, 64, hevc.Chroma420)
	recon := newPicture(64, 64, hevc.Chroma420)
	s, _ := newTestSelector(testConfig(hevc.SliceI, 0), 64, 64)
	ctx := cabac.Init(hevc.SliceI, testQP)
	s.begin(cuInput(0, 0, 4, src, recon, nil), &ctx)

	c := &s.cand
	c.reset(hevc.PredIntra, hevc.Part2Nx2N)
	c.pus[0] = PU{W: 16, H: 16, LumaMode: hevc.ModePlanar}
	won, err := s.try(c)
	require.NoError(t, err)
	require.True(t, won)

	best := s.st.Best()
	wantCtx, wantCost := best.ctx, best.cost
	wantRecon := slices.Clone(best.recon[0])
	require.NotEqual(t, ctx, wantCtx, "coding must have moved the contexts")

	// The identical candidate costs the same and must not replace the best
	// one, although it was fully coded on the other slot.
	won, err = s.try(c)
	require.NoError(t, err)
	require.False(t, won)
	best = s.st.Best()
	require.Equal(t, wantCtx, best.ctx)
	require.Equal(t, wantCost, best.cost)
	require.Equal(t, wantRecon, best.recon[0])

	// Contexts of the caller only change at commit.
	require.Equal(t, cabac.Init(hevc.SliceI, testQP), ctx)
	d := s.commit(&ctx)
	require.Equal(t, wantCtx, ctx)
	require.Equal(t, wantCost, d.Cost)
	require.Equal(t, hevc.ModePlanar, d.PUs[0].LumaMode)
}

func TestMatchingReferenceCodesNoResidual(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	src := randomPicture(rng, 64, 64, hevc.Chroma420)
	recon := newPicture(64, 64, hevc.Chroma420)
	s, _ := newTestSelector(testConfig(hevc.SliceP, 2), 64, 64)
	ctx := cabac.Init(hevc.SliceP, testQP)

	d, err := s.EvaluateCU(cuInput(16, 16, 4, src, recon, src), &ctx)
	require.NoError(t, err)
	require.NotEqual(t, hevc.PredIntra, d.Pred)
	require.Zero(t, d.Dist)
	require.Equal(t, hevc.MV{}, d.PUs[0].MV)
	for _, tu := range d.TUs {
		require.False(t, tu.CBF, "TU at %d,%d plane %d", tu.X, tu.Y, tu.Plane)
	}
	require.Empty(t, d.Stream)
}

func TestNotCodedAlternativeIsKept(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	ref := randomPicture(rng, 64, 64, hevc.Chroma420)
	src := newPicture(64, 64, hevc.Chroma420)
	for p := 0; p < 3; p++ {
		for i, v := range ref.plane(p).Pix {
			src.plane(p).Pix[i] = byte(hevc.Clip3(0, 255, int(v)+rng.Intn(7)-3))
		}
	}
	recon := newPicture(64, 64, hevc.Chroma420)
	s, _ := newTestSelector(testConfig(hevc.SliceP, 3), 64, 64)
	ctx := cabac.Init(hevc.SliceP, testQP)
	s.begin(cuInput(16, 16, 4, src, recon, ref), &ctx)

	c := &s.cand
	c.reset(hevc.PredInter, hevc.Part2Nx2N)
	c.pus[0], _ = s.searchPU(0, 0, 16, 16)
	require.NoError(t, s.tryInter(c))
	best := s.st.Best().cost

	var st state
	ok, err := s.evaluate(c, &st, 1<<62)
	require.NoError(t, err)
	require.True(t, ok)
	coded := st.cost
	c.notCoded = true
	ok, err = s.evaluate(c, &st, 1<<62)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, min(coded, st.cost), best)
}

// stripes fills a 16x16 source block at (16, 16) whose rows repeat the
// reconstructed sample left of them, so horizontal prediction is exact.
func stripes(t *testing.T) (src, recon *Picture) {
	t.Helper()
	rng := rand.New(rand.NewSource(9))
	recon = randomPicture(rng, 64, 64, hevc.Chroma420)
	src = newPicture(64, 64, hevc.Chroma420)
	copy(src.Y.Pix, recon.Y.Pix)
	for y := 16; y < 32; y++ {
		for x := 16; x < 32; x++ {
			src.Y.Pix[src.Y.Offset(x, y)] = recon.Y.At(15, y)
		}
	}
	for i := range recon.Cb.Pix {
		recon.Cb.Pix[i], recon.Cr.Pix[i] = 128, 128
		src.Cb.Pix[i], src.Cr.Pix[i] = 128, 128
	}
	return src, recon
}

func TestRankModesShortlist(t *testing.T) {
	for _, tc := range []struct {
		preset int
		want   int
		gated  bool
	}{
		{0, 8, false},
		{3, 3, false},
		{4, 2, true},
		{6, 1, true},
	} {
		src, recon := stripes(t)
		s, g := newTestSelector(testConfig(hevc.SliceI, tc.preset), 64, 64)
		g.Fill(0, 0, 64, 16, Cell{Coded: true, Intra: true, Mode: hevc.ModeDC})
		g.Fill(0, 16, 16, 16, Cell{Coded: true, Intra: true, Mode: hevc.ModeDC})
		ctx := cabac.Init(hevc.SliceI, testQP)
		s.begin(cuInput(16, 16, 4, src, recon, nil), &ctx)
		s.clearDone()

		mpm := [3]int{hevc.ModePlanar, hevc.ModeDC, hevc.ModeVertical}
		modes := s.rankModes(0, 0, 4, mpm)
		require.Len(t, modes, tc.want, "preset %d", tc.preset)
		// The exact mode is no most probable mode but always survives.
		require.Equal(t, hevc.ModeHorizontal, modes[0], "preset %d", tc.preset)
		if tc.gated {
			for _, m := range modes[1:] {
				require.Contains(t, mpm[:], m, "preset %d", tc.preset)
			}
		}
	}
}

func TestEvaluateCUPicksExactIntraMode(t *testing.T) {
	src, recon := stripes(t)
	s, g := newTestSelector(testConfig(hevc.SliceI, 0), 64, 64)
	g.Fill(0, 0, 64, 16, Cell{Coded: true, Intra: true, Mode: hevc.ModeDC})
	g.Fill(0, 16, 16, 16, Cell{Coded: true, Intra: true, Mode: hevc.ModeDC})
	ctx := cabac.Init(hevc.SliceI, testQP)

	d, err := s.EvaluateCU(cuInput(16, 16, 4, src, recon, nil), &ctx)
	require.NoError(t, err)
	require.Equal(t, hevc.PredIntra, d.Pred)
	require.Equal(t, hevc.ModeHorizontal, d.PUs[0].LumaMode)
	require.Zero(t, d.Dist)
	require.Equal(t, uint8(hevc.ModeHorizontal), g.At(20, 20).Mode)
}

func TestMinCUSizeGatesPartitions(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	src := randomPicture(rng, 64, 64, hevc.Chroma420)
	ref := randomPicture(rng, 64, 64, hevc.Chroma420)

	cfg := testConfig(hevc.SliceI, 0)
	cfg.MinCULog2 = 4
	s, _ := newTestSelector(cfg, 64, 64)
	def, _ := newTestSelector(testConfig(hevc.SliceI, 0), 64, 64)

	// part_mode is coded for a 16x16 intra CU only when 16 is the minimum.
	var c candidate
	c.reset(hevc.PredIntra, hevc.Part2Nx2N)
	c.pus[0] = PU{W: 16, H: 16, LumaMode: hevc.ModeDC}
	ctx := cabac.Init(hevc.SliceI, testQP)
	s.begin(cuInput(16, 16, 4, src, newPicture(64, 64, hevc.Chroma420), nil), &ctx)
	def.begin(cuInput(16, 16, 4, src, newPicture(64, 64, hevc.Chroma420), nil), &ctx)
	a, b, p := ctx, ctx, ctx
	require.Equal(t, s.headerBits(&c, &a)-def.headerBits(&c, &b), p.PartModeIntra(hevc.Part2Nx2N))

	// NxN splits the 16x16 minimum CU into four 8x8 units.
	recon := newPicture(64, 64, hevc.Chroma420)
	s.begin(cuInput(16, 16, 4, src, recon, nil), &ctx)
	require.NoError(t, s.tryNxN())
	require.True(t, s.haveBest)
	d := s.commit(&ctx)
	require.Equal(t, hevc.PartNxN, d.Part)
	require.Len(t, d.PUs, 4)
	luma := 0
	for i, pu := range d.PUs {
		require.Equal(t, 8, pu.W, "PU %d", i)
		require.Equal(t, 8, pu.H, "PU %d", i)
	}
	for _, tu := range d.TUs {
		if tu.Plane == 0 {
			require.Equal(t, 3, tu.Log2)
			luma++
		}
	}
	require.Equal(t, 4, luma)

	// AMP is never offered at the minimum CU size.
	pcfg := testConfig(hevc.SliceP, 0)
	pcfg.MinCULog2 = 4
	ps, _ := newTestSelector(pcfg, 64, 64)
	for _, tc := range []struct {
		log2 int
		amp  bool
	}{{4, false}, {5, true}} {
		pctx := cabac.Init(hevc.SliceP, testQP)
		ps.begin(cuInput(0, 0, tc.log2, src, newPicture(64, 64, hevc.Chroma420), ref), &pctx)
		hasAMP := slices.ContainsFunc(ps.interParts(), hevc.PartMode.IsAMP)
		if hasAMP != tc.amp {
			t.Errorf("log2 %d: AMP offered = %v, want %v", tc.log2, hasAMP, tc.amp)
		}
	}

	for _, slice := range []hevc.SliceType{hevc.SliceI, hevc.SliceP} {
		cfg := testConfig(slice, 0)
		cfg.MinCULog2 = 4
		s, _ := newTestSelector(cfg, 64, 64)
		recon := newPicture(64, 64, hevc.Chroma420)
		ctx := cabac.Init(slice, testQP)
		d, err := s.EvaluateCU(cuInput(16, 16, 4, src, recon, ref), &ctx)
		require.NoError(t, err, "%v", slice)
		require.Equal(t, [3]int{256, 64, 64}, coverage(d), "%v", slice)
	}
}
