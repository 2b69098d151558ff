package rdo

import (
	"math"

	"github.com/deepteams/hevcrdo/internal/cabac"
	"github.com/deepteams/hevcrdo/internal/dsp"
	"github.com/deepteams/hevcrdo/internal/hevc"
	"github.com/deepteams/hevcrdo/internal/predict"
	"github.com/deepteams/hevcrdo/internal/quant"
	"github.com/deepteams/hevcrdo/internal/tq"
	"github.com/deepteams/hevcrdo/internal/tutree"
)

// interCandidates tries, in order: 2Nx2N merge as skip and coded, 2Nx2N
// with a searched vector, then the rectangular and asymmetric partitions
// with the cheaper motion of each prediction unit.
func (s *Selector) interCandidates() error {
	n := s.size
	c := &s.cand

	merge, _ := s.mergePU(0, 0, n, n)
	c.reset(hevc.PredSkip, hevc.Part2Nx2N)
	c.pus[0] = merge
	if _, err := s.try(c); err != nil {
		return err
	}
	c.pred = hevc.PredInter
	if err := s.tryInter(c); err != nil {
		return err
	}

	c.reset(hevc.PredInter, hevc.Part2Nx2N)
	c.pus[0], _ = s.searchPU(0, 0, n, n)
	if err := s.tryInter(c); err != nil {
		return err
	}

	for _, part := range s.interParts() {
		c.reset(hevc.PredInter, part)
		for i := 0; i < part.NumParts(); i++ {
			c.pus[i] = s.motionPU(part.Rect(i, n))
		}
		if err := s.tryInter(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Selector) interParts() []hevc.PartMode {
	var parts []hevc.PartMode
	if s.cfg.tryRectParts() {
		parts = append(parts, hevc.Part2NxN, hevc.PartNx2N)
	}
	if s.cfg.amp() && s.in.Log2 > s.cfg.minCULog2() {
		parts = append(parts, hevc.Part2NxnU, hevc.Part2NxnD, hevc.PartnLx2N, hevc.PartnRx2N)
	}
	return parts
}

// tryInter chooses the transform tree of c, evaluates it and then the
// same prediction with no residual at all. 2Nx2N merge has the skip
// candidate instead.
func (s *Selector) tryInter(c *candidate) error {
	if err := s.chooseTree(c); err != nil {
		return err
	}
	if _, err := s.try(c); err != nil {
		return err
	}
	if c.part == hevc.Part2Nx2N && c.pus[0].Merge {
		return nil
	}
	c.notCoded = true
	_, err := s.try(c)
	c.notCoded = false
	return err
}

// mergePU returns the merge candidate of the w×h unit at CU offset
// (x, y) with the lowest SAD plus index bits.
func (s *Selector) mergePU(x, y, w, h int) (PU, int64) {
	in := s.in
	list := s.grid.MergeCandidates(in.X+x, in.Y+y, w, h, in.LimitY)
	pu := PU{X: x, Y: y, W: w, H: h, Merge: true}
	best := int64(math.MaxInt64)
	for i, mv := range list {
		ctx := s.init
		bits := ctx.MergeFlag(true) + ctx.MergeIdx(i, hevc.MaxMergeCand)
		if cost := s.interSAD(x, y, w, h, mv) + quant.RateCost(bits, s.lam.satd); cost < best {
			best = cost
			pu.MergeIdx, pu.MV = i, mv
		}
	}
	return pu, best
}

// searchPU runs the motion search of the w×h unit at CU offset (x, y)
// around the first predictor and signals the vector against the cheaper
// predictor.
func (s *Selector) searchPU(x, y, w, h int) (PU, int64) {
	in := s.in
	mvp := s.grid.MVPCandidates(in.X+x, in.Y+y, w, h, in.LimitY)
	rate := func(mv hevc.MV) int64 {
		return quant.RateCost(s.init.MvdCost(mv.Sub(mvp[0])), s.lam.satd)
	}
	mv, _ := predict.Search(in.Src.Y, in.Ref.Y, in.X+x, in.Y+y, w, h, mvp[0], s.cfg.SearchRange, rate)

	pu := PU{X: x, Y: y, W: w, H: h, MV: mv}
	bits := ^uint32(0)
	for i, p := range mvp {
		if b := s.init.MvdCost(mv.Sub(p)) + s.init.Bits(cabac.CtxMvpFlag, i); b < bits {
			bits = b
			pu.MVPIdx = i
		}
	}
	pu.MVD = mv.Sub(mvp[pu.MVPIdx])
	bits += s.init.Bits(cabac.CtxMergeFlag, 0)
	return pu, s.interSAD(x, y, w, h, mv) + quant.RateCost(bits, s.lam.satd)
}

// motionPU returns the cheaper of the merge and searched motion.
func (s *Selector) motionPU(x, y, w, h int) PU {
	merge, mc := s.mergePU(x, y, w, h)
	search, sc := s.searchPU(x, y, w, h)
	if sc < mc {
		return search
	}
	return merge
}

func (s *Selector) interSAD(x, y, w, h int, mv hevc.MV) int64 {
	in := s.in
	predict.MC(s.mcBuf, w, in.Ref.Y, in.X+x, in.Y+y, w, h, mv)
	return dsp.SAD(in.Src.Y.Block(in.X+x, in.Y+y), in.Src.Y.Stride, s.mcBuf, w, w, h)
}

// predictInter motion compensates every prediction unit of c into the
// prediction buffers. Chroma uses the luma vector at chroma resolution.
func (s *Selector) predictInter(c *candidate) {
	in := s.in
	cw := s.size >> 1
	for i := 0; i < c.part.NumParts(); i++ {
		pu := &c.pus[i]
		predict.MC(s.pred[0][pu.Y*s.size+pu.X:], s.size, in.Ref.Y, in.X+pu.X, in.Y+pu.Y, pu.W, pu.H, pu.MV)
		cmv := hevc.MV{X: pu.MV.X >> 1, Y: pu.MV.Y >> s.sy}
		cx, cy := pu.X>>1, pu.Y>>s.sy
		for p := 1; p <= 2; p++ {
			predict.MC(s.pred[p][cy*cw+cx:], cw, *in.Ref.plane(p), (in.X+pu.X)>>1, (in.Y+pu.Y)>>s.sy, pu.W>>1, pu.H>>s.sy, cmv)
		}
	}
}

// chooseTree decides the transform tree of an inter candidate on luma
// alone: every node is costed whole and split, down to MaxInterTUDepth.
func (s *Selector) chooseTree(c *candidate) error {
	s.predictInter(c)
	c.leaves = c.leaves[:0]
	ctx := s.init
	maxDepth := max(s.cfg.MaxInterTUDepth, 0)
	if s.in.Log2 > hevc.MaxTULog2 {
		maxDepth = max(maxDepth, 1)
		for q := 0; q < 4; q++ {
			s.tuNode(&ctx, c, hevc.MaxTULog2, (q&1)<<hevc.MaxTULog2, (q>>1)<<hevc.MaxTULog2, 1, maxDepth)
		}
	} else {
		s.tuNode(&ctx, c, s.in.Log2, 0, 0, 0, maxDepth)
	}

	split, early, err := tutree.Pack(s.in.Log2, c.leaves)
	if err != nil {
		return err
	}
	leaves, err := tutree.Build(s.in.Log2, split, early)
	if err != nil {
		return err
	}
	c.leaves = append(c.leaves[:0], leaves...)
	return nil
}

// tuNode appends the cheaper of the whole node and its four children to
// c.leaves and returns its cost. ctx ends in the state of the choice.
func (s *Selector) tuNode(ctx *cabac.Contexts, c *candidate, log2, x, y, depth, maxDepth int) int64 {
	hasFlag := log2 > hevc.MinTULog2
	whole := *ctx
	var bits uint32
	if hasFlag {
		bits = whole.SplitTransform(false, log2)
	}
	r := s.lumaOnly(&whole, c, log2, x, y, depth)
	cost := r.Cost + quant.RateCost(bits, s.lam.ssd)

	start := len(c.leaves)
	if hasFlag && depth < maxDepth {
		split := *ctx
		sc := quant.RateCost(split.SplitTransform(true, log2), s.lam.ssd)
		half := 1 << (log2 - 1)
		for k := 0; k < 4 && sc < cost; k++ {
			sc += s.tuNode(&split, c, log2-1, x+(k&1)*half, y+(k>>1)*half, depth+1, maxDepth)
		}
		if sc < cost {
			*ctx = split
			return sc
		}
		c.leaves = c.leaves[:start]
	}
	*ctx = whole
	c.leaves = append(c.leaves, tutree.Leaf{
		Log2Size: log2,
		X:        x,
		Y:        y,
		Depth:    depth,
		EarlyCBF: r.CBF || s.cfg.Preset < 3,
	})
	return cost
}

// lumaOnly costs the luma block of a transform node without writing any
// reconstruction.
func (s *Selector) lumaOnly(ctx *cabac.Contexts, c *candidate, log2, x, y, depth int) tq.Result {
	in := s.in
	round, _ := s.rounding(true, log2, false, true)
	t := tq.Input{
		Log2:          log2,
		Luma:          true,
		IntraMode:     -1,
		Src:           in.Src.Y.Block(in.X+x, in.Y+y),
		SrcStride:     in.Src.Y.Stride,
		Pred:          s.pred[0][y*s.size+x:],
		PredStride:    s.size,
		EarlyCBF:      true,
		QPDiv:         s.entry.QPDiv,
		QPMod:         s.entry.QPMod,
		LambdaQ8:      s.lam.ssd,
		Rounding:      round,
		RDOQ:          c.rdoq || s.cfg.RDOQ == RDOQTU,
		SignHiding:    s.cfg.SignHiding,
		ZeroCBF:       s.cfg.ZeroCBF,
		SpatialSSD:    s.cfg.SpatialSSD,
		NoiseStrength: s.cfg.noiseStrength(),
		CBFCtx:        cabac.CbfLumaCtx(depth),
	}
	return s.eng.Evaluate(&t, ctx, &s.blk, s.tree)
}
