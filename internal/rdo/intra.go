package rdo

import (
	"math"
	"slices"

	"github.com/deepteams/hevcrdo/internal/cabac"
	"github.com/deepteams/hevcrdo/internal/dsp"
	"github.com/deepteams/hevcrdo/internal/hevc"
	"github.com/deepteams/hevcrdo/internal/predict"
	"github.com/deepteams/hevcrdo/internal/quant"
	"github.com/deepteams/hevcrdo/internal/tq"
)

type rankedMode struct {
	mode int
	cost int64
}

// intraCandidates tries 2Nx2N with the shortlisted modes at each allowed
// transform depth, then NxN at the minimum CU size, then the explicit
// chroma modes of the intra winner.
func (s *Selector) intraCandidates() error {
	log2 := s.in.Log2
	minDepth := 0
	if log2 > hevc.MaxTULog2 {
		minDepth = 1
	}
	maxDepth := minDepth
	if s.cfg.tryIntraTUSplit() && log2-minDepth > hevc.MinTULog2 {
		maxDepth++
	}

	c := &s.cand
	c.reset(hevc.PredIntra, hevc.Part2Nx2N)
	c.pus[0] = PU{W: s.size, H: s.size}
	s.clearDone()
	rank := min(log2, hevc.MaxTULog2)
	modes := s.rankModes(0, 0, rank, s.mpm(c, 0))
	for _, m := range modes {
		for d := minDepth; d <= maxDepth; d++ {
			c.pus[0].LumaMode = m
			c.tuDepth = d
			if _, err := s.try(c); err != nil {
				return err
			}
		}
	}

	if log2 == s.cfg.minCULog2() && s.cfg.tryNxN() {
		if err := s.tryNxN(); err != nil {
			return err
		}
	}

	best := s.st.Best()
	if s.cfg.ChromaRDO && s.haveBest && best.cand.pred == hevc.PredIntra {
		s.cand = best.cand
		s.cand.leaves = nil
		for idx := range predict.ChromaModes {
			s.cand.chromaIdx = idx
			if _, err := s.try(&s.cand); err != nil {
				return err
			}
		}
	}
	return nil
}

// rankModes orders the intra modes of the 2^log2 block at CU offset
// (x, y) by SATD plus the estimated mode bits, and returns the shortlist
// to evaluate fully. The best ranked mode is always kept; at fast presets
// the others must be most probable modes.
func (s *Selector) rankModes(x, y, log2 int, mpm [3]int) []int {
	in := s.in
	n := 1 << log2
	s.refs.Gather(in.Recon.Y, in.X+x, in.Y+y, n, s.lumaAvail)
	src := in.Src.Y.Block(in.X+x, in.Y+y)
	for m := 0; m < hevc.NumIntraModes; m++ {
		predict.Intra(s.mcBuf, n, &s.refs, m)
		satd := dsp.SATD(src, in.Src.Y.Stride, s.mcBuf, n, n, n)
		idx := predict.MPMIndex(mpm, m)
		bits := s.init.IntraLumaCost(idx >= 0, idx)
		s.ranked[m] = rankedMode{mode: m, cost: satd + quant.RateCost(bits, s.lam.satd)}
	}
	slices.SortStableFunc(s.ranked[:], func(a, b rankedMode) int {
		switch {
		case a.cost < b.cost:
			return -1
		case a.cost > b.cost:
			return 1
		}
		return 0
	})

	k := s.cfg.intraCandidates()
	s.shortlist = append(s.shortlist[:0], s.ranked[0].mode)
	for _, r := range s.ranked[1:] {
		if len(s.shortlist) >= k {
			break
		}
		if s.cfg.mpmGating() && predict.MPMIndex(mpm, r.mode) < 0 {
			continue
		}
		s.shortlist = append(s.shortlist, r.mode)
	}
	return s.shortlist
}

// tryNxN picks the mode of each quarter-size prediction unit in turn by
// its own rate-distortion cost, reconstructing it before the next one is
// ranked, and then evaluates the whole NxN candidate.
func (s *Selector) tryNxN() error {
	c := &s.cand
	c.reset(hevc.PredIntra, hevc.PartNxN)
	c.tuDepth = 1
	s.clearDone()
	ctx := s.init
	puLog2 := s.in.Log2 - 1
	for i := 0; i < 4; i++ {
		x, y, w, h := hevc.PartNxN.Rect(i, s.size)
		c.pus[i] = PU{X: x, Y: y, W: w, H: h}
		mpm := s.mpm(c, i)
		modes := s.rankModes(x, y, puLog2, mpm)
		best, bestCost := modes[0], int64(math.MaxInt64)
		for _, m := range modes {
			tmp := ctx
			if cost := s.intraPUCost(&tmp, x, y, puLog2, m, mpm, false); cost < bestCost {
				best, bestCost = m, cost
			}
		}
		c.pus[i].LumaMode = best
		s.intraPUCost(&ctx, x, y, puLog2, best, mpm, true)
		s.markDone(x, y, w)
	}
	_, err := s.try(c)
	return err
}

// intraPUCost codes the 2^log2 intra unit at CU offset (x, y) with mode
// m on ctx and returns its luma cost. With write set the reconstruction
// goes to the picture.
func (s *Selector) intraPUCost(ctx *cabac.Contexts, x, y, log2, m int, mpm [3]int, write bool) int64 {
	in := s.in
	px, py := in.X+x, in.Y+y
	s.refs.Gather(in.Recon.Y, px, py, 1<<log2, s.lumaAvail)
	pred := s.pred[0][y*s.size+x:]
	predict.Intra(pred, s.size, &s.refs, m)

	idx := predict.MPMIndex(mpm, m)
	bits := ctx.IntraLuma(idx >= 0, idx)
	round, _ := s.rounding(true, log2, true, true)
	t := tq.Input{
		Log2:          log2,
		Luma:          true,
		IntraMode:     m,
		Src:           in.Src.Y.Block(px, py),
		SrcStride:     in.Src.Y.Stride,
		Pred:          pred,
		PredStride:    s.size,
		EarlyCBF:      true,
		QPDiv:         s.entry.QPDiv,
		QPMod:         s.entry.QPMod,
		LambdaQ8:      s.lam.ssd,
		Rounding:      round,
		RDOQ:          s.cfg.RDOQ == RDOQTU,
		SignHiding:    s.cfg.SignHiding,
		ZeroCBF:       s.cfg.ZeroCBF,
		SpatialSSD:    s.cfg.SpatialSSD,
		NoiseStrength: s.cfg.noiseStrength(),
		CBFCtx:        cabac.CbfLumaCtx(1),
	}
	if write {
		t.Recon, t.ReconStride = in.Recon.Y.Block(px, py), in.Recon.Y.Stride
	}
	r := s.eng.Evaluate(&t, ctx, &s.blk, s.tree)
	return r.Cost + quant.RateCost(bits, s.lam.ssd)
}
