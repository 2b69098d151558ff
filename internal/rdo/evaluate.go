package rdo

import (
	"slices"

	"github.com/deepteams/hevcrdo/internal/cabac"
	"github.com/deepteams/hevcrdo/internal/dsp"
	"github.com/deepteams/hevcrdo/internal/hevc"
	"github.com/deepteams/hevcrdo/internal/predict"
	"github.com/deepteams/hevcrdo/internal/quant"
	"github.com/deepteams/hevcrdo/internal/scan"
	"github.com/deepteams/hevcrdo/internal/tq"
	"github.com/deepteams/hevcrdo/internal/tutree"
)

const maxStream = scan.MaxStreamSize

// evaluate codes c into st, starting from the contexts at CU start. It
// returns false when the running cost passed limit before the candidate
// was complete. Inter transform trees are shrunk once coded, and the
// shrunk tree is what the candidate is costed with.
func (s *Selector) evaluate(c *candidate, st *state, limit int64) (bool, error) {
	ok, err := s.run(c, st, limit)
	if err != nil || !ok || c.pred != hevc.PredInter || c.notCoded || len(st.cand.leaves) < 4 {
		return ok, err
	}
	shrunk := tutree.Shrink(st.cand.leaves, hevc.MaxTULog2, s.cfg.ChromaFormat == hevc.Chroma422)
	if len(shrunk) == len(st.cand.leaves) {
		return true, nil
	}
	next := st.cand
	next.leaves = shrunk
	return s.run(&next, st, limit)
}

func (s *Selector) run(c *candidate, st *state, limit int64) (bool, error) {
	st.reset(c, &s.init)
	if s.cfg.RDOQ == RDOQTU {
		st.cand.rdoq = true
	}
	s.clearDone()
	s.firstTU = true
	st.bits.Header = s.headerBits(c, &st.ctx)

	if c.pred != hevc.PredIntra {
		s.predictInter(c)
	}
	if c.pred == hevc.PredSkip || c.notCoded {
		if c.notCoded {
			st.bits.Header += st.ctx.RqtRootCbf(false)
		}
		s.predictionOnly(st)
		return true, nil
	}
	if c.pred == hevc.PredInter && !(c.part == hevc.Part2Nx2N && c.pus[0].Merge) {
		st.bits.Header += st.ctx.RqtRootCbf(true)
	}

	if c.pred == hevc.PredIntra {
		leaves, err := tutree.Build(s.in.Log2, tutree.Uniform(s.in.Log2, c.tuDepth), nil)
		if err != nil {
			return false, err
		}
		st.cand.leaves = append(st.cand.leaves[:0], leaves...)
	}
	leaves := st.cand.leaves
	st.bits.Header += s.transformTreeBits(&st.ctx, leaves, c)

	for i := range leaves {
		s.codeLeaf(st, &leaves[i])
		if st.cost > limit {
			return false, nil
		}
	}

	if s.cfg.CUQPDelta && s.anyCBF(st) {
		st.bits.Header += st.ctx.QPDelta(s.in.QP - s.in.PredQP)
		s.updateCost(st)
	}
	return true, nil
}

func (s *Selector) anyCBF(st *state) bool {
	for _, tu := range st.tus {
		if tu.CBF {
			return true
		}
	}
	return false
}

func (s *Selector) updateCost(st *state) {
	st.cost = st.dist + quant.RateCost(st.bits.Total(), s.lam.ssd)
}

// headerBits codes the CU and PU syntax of c.
func (s *Selector) headerBits(c *candidate, ctx *cabac.Contexts) uint32 {
	in := s.in
	var bits uint32
	if s.cfg.SliceType != hevc.SliceI {
		bits += ctx.Skip(c.pred == hevc.PredSkip, s.grid.SkipCtxInc(in.X, in.Y))
		if c.pred == hevc.PredSkip {
			return bits + ctx.MergeIdx(c.pus[0].MergeIdx, hevc.MaxMergeCand)
		}
		bits += ctx.PredMode(c.pred == hevc.PredIntra)
	}

	if c.pred == hevc.PredIntra {
		if in.Log2 == s.cfg.minCULog2() {
			bits += ctx.PartModeIntra(c.part)
		}
		for i := 0; i < c.part.NumParts(); i++ {
			idx := predict.MPMIndex(s.mpm(c, i), c.pus[i].LumaMode)
			bits += ctx.IntraLuma(idx >= 0, idx)
		}
		return bits + ctx.ChromaPredMode(c.chromaIdx)
	}

	bits += ctx.PartModeInter(c.part, s.cfg.amp(), in.Log2 == s.cfg.minCULog2(), in.Log2 == 3)
	for i := 0; i < c.part.NumParts(); i++ {
		pu := &c.pus[i]
		bits += ctx.MergeFlag(pu.Merge)
		if pu.Merge {
			bits += ctx.MergeIdx(pu.MergeIdx, hevc.MaxMergeCand)
			continue
		}
		if s.cfg.SliceType == hevc.SliceB {
			bits += ctx.InterPredIdc(cabac.PredL0, in.Depth, pu.W+pu.H)
		}
		bits += ctx.RefIdx(0, 1)
		bits += ctx.Mvd(pu.MVD)
		bits += ctx.MvpFlag(pu.MVPIdx)
	}
	return bits
}

// mpm returns the most probable modes of prediction unit i. Neighbours
// inside the CU are the candidate's own earlier units.
func (s *Selector) mpm(c *candidate, i int) [3]int {
	pu := &c.pus[i]
	left, above := s.grid.neighbourModes(s.in.X+pu.X, s.in.Y+pu.Y, s.in.CTBY)
	if pu.X > 0 {
		left = c.pus[i-1].LumaMode
	}
	if pu.Y > 0 {
		above = c.pus[i-2].LumaMode
	}
	return predict.MPM(left, above)
}

// transformTreeBits codes the split_transform_flag of every node of the
// tree whose leaves are given. Splits are inferred above the largest
// transform size and at the first level of an NxN intra CU.
func (s *Selector) transformTreeBits(ctx *cabac.Contexts, leaves []tutree.Leaf, c *candidate) uint32 {
	inferred := 0
	if c.pred == hevc.PredIntra && c.part == hevc.PartNxN {
		inferred = 1
	}
	var bits uint32
	i := 0
	var walk func(log2, x, y, depth int)
	walk = func(log2, x, y, depth int) {
		if i >= len(leaves) {
			return
		}
		coded := log2 <= hevc.MaxTULog2 && log2 > hevc.MinTULog2 && depth >= inferred
		if l := &leaves[i]; l.Log2Size == log2 && l.X == x && l.Y == y {
			if coded {
				bits += ctx.SplitTransform(false, log2)
			}
			i++
			return
		}
		if coded {
			bits += ctx.SplitTransform(true, log2)
		}
		half := 1 << (log2 - 1)
		for k := 0; k < 4; k++ {
			walk(log2-1, x+(k&1)*half, y+(k>>1)*half, depth+1)
		}
	}
	walk(s.in.Log2, 0, 0, 0)
	return bits
}

// codeLeaf codes the luma block of leaf l and the chroma blocks that go
// with it. A 4x4 luma leaf carries the chroma of its 8x8 parent once the
// fourth leaf is done.
func (s *Selector) codeLeaf(st *state, l *tutree.Leaf) {
	c := &st.cand
	in := s.in
	n := l.Size()
	intra := c.pred == hevc.PredIntra

	lumaMode := -1
	pred := s.pred[0][l.Y*s.size+l.X:]
	if intra {
		lumaMode = c.puAt(l.X, l.Y).LumaMode
		s.refs.Gather(in.Recon.Y, in.X+l.X, in.Y+l.Y, n, s.lumaAvail)
		predict.Intra(pred, s.size, &s.refs, lumaMode)
	}
	r := s.codeBlock(st, c, 0, in.X+l.X, in.Y+l.Y, l.Log2Size, pred, s.size, lumaMode, cabac.CbfLumaCtx(l.Depth), l.EarlyCBF)
	l.CBF[tutree.PlaneY] = r.CBF
	s.markDone(l.X, l.Y, n)

	switch {
	case l.Log2Size > hevc.MinTULog2:
		s.codeChroma(st, l, l.X, l.Y, l.Log2Size-1, l.Depth)
	case l.X&4 != 0 && l.Y&4 != 0:
		s.codeChroma(st, l, l.X&^7, l.Y&^7, hevc.MinTULog2, l.Depth-1)
	}
}

// codeChroma codes the Cb and Cr blocks of the luma area at CU offset
// (x, y). 4:2:2 areas are two stacked square blocks per plane.
func (s *Selector) codeChroma(st *state, l *tutree.Leaf, x, y, log2, depth int) {
	c := &st.cand
	in := s.in
	n := 1 << log2
	mode := -1
	if c.pred == hevc.PredIntra {
		mode = predict.ChromaMode(c.chromaIdx, c.pus[0].LumaMode)
	}
	parts := 1
	if s.cfg.ChromaFormat == hevc.Chroma422 {
		parts = 2
	}
	cw := s.size >> 1
	for p := 1; p <= 2; p++ {
		for k := 0; k < parts; k++ {
			ox, oy := x>>1, y>>s.sy+k*n
			pred := s.pred[p][oy*cw+ox:]
			px, py := in.X>>1+ox, in.Y>>s.sy+oy
			if mode >= 0 {
				s.refs.Gather(*in.Recon.plane(p), px, py, n, s.chromaAvail)
				predict.Intra(pred, cw, &s.refs, mode)
			}
			r := s.codeBlock(st, c, p, px, py, log2, pred, cw, mode, cabac.CbfChromaCtx(depth), true)
			l.CBF[p+2*k] = r.CBF
		}
	}
}

// codeBlock runs one transform block through the engine and adds its
// outcome to st.
func (s *Selector) codeBlock(st *state, c *candidate, plane, x, y, log2 int, pred []byte, predStride, mode, cbfCtx int, early bool) tq.Result {
	luma := plane == 0
	src, rec := s.in.Src.plane(plane), s.in.Recon.plane(plane)
	e, lam := s.entry, s.lam.ssd
	if !luma {
		e, lam = s.chroma[plane-1], s.lam.chroma
	}
	round, adapt := s.rounding(luma, log2, c.pred == hevc.PredIntra, s.firstTU)
	in := tq.Input{
		Log2:           log2,
		Luma:           luma,
		IntraMode:      mode,
		Src:            src.Block(x, y),
		SrcStride:      src.Stride,
		Pred:           pred,
		PredStride:     predStride,
		Recon:          rec.Block(x, y),
		ReconStride:    rec.Stride,
		EarlyCBF:       early,
		QPDiv:          e.QPDiv,
		QPMod:          e.QPMod,
		LambdaQ8:       lam,
		Rounding:       round,
		AdaptRound:     adapt,
		AdaptLambdaMod: s.lam.mod,
		RDOQ:           c.rdoq,
		SignHiding:     s.cfg.SignHiding,
		ZeroCBF:        s.cfg.ZeroCBF,
		SpatialSSD:     s.cfg.SpatialSSD,
		NoiseStrength:  s.cfg.noiseStrength(),
		CBFCtx:         cbfCtx,
	}
	s.firstTU = false

	off := len(st.stream)
	st.stream = slices.Grow(st.stream, maxStream)
	r := s.eng.Evaluate(&in, &st.ctx, &s.blk, st.stream[off:off+maxStream])
	if !early {
		r.CBFBits = st.ctx.Encode(cbfCtx, 0)
		r.Bits = r.CBFBits
	}
	st.stream = st.stream[:off+r.Bytes]

	d := r.Dist
	if !luma {
		d = s.chromaDist(d)
	}
	st.dist += d
	st.bits.CBF += r.CBFBits
	st.bits.Residual += r.Bits - r.CBFBits
	st.tus = append(st.tus, TU{X: x, Y: y, Log2: log2, Plane: plane, CBF: r.CBF, Offset: off, Length: r.Bytes})
	s.updateCost(st)
	return r
}

// chromaDist weights a chroma distortion by the ratio of the luma and
// chroma lambdas, so chroma bits are priced at the luma lambda.
func (s *Selector) chromaDist(d int64) int64 {
	if s.lam.chroma <= 0 {
		return d
	}
	return d * s.lam.ssd / s.lam.chroma
}

// rounding returns the quantizer rounding of a block, or adapt = true
// when the factors are regenerated from the live contexts.
func (s *Selector) rounding(luma bool, log2 int, intra, first bool) (r *quant.Rounding, adapt bool) {
	switch s.cfg.QuantRounding {
	case RoundFixed:
		if intra {
			return &s.fixed[1], false
		}
		return &s.fixed[0], false
	case RoundTU:
		if !first {
			return nil, true
		}
	}
	l, k := b2i(luma), log2-hevc.MinTULog2
	if !s.cuValid[l][k] {
		quant.GenRounding(&s.cuRound[l][k], &s.init, log2, luma, s.lam.mod)
		s.cuValid[l][k] = true
	}
	return &s.cuRound[l][k], false
}

// predictionOnly reconstructs the whole CU from its prediction.
func (s *Selector) predictionOnly(st *state) {
	for p := 0; p < 3; p++ {
		w, h := s.planeSize(p)
		x, y := s.planePos(p)
		src, rec := s.in.Src.plane(p), s.in.Recon.plane(p)
		hevc.CopyRect(rec.Block(x, y), rec.Stride, s.pred[p], w, w, h)
		d := dsp.SSD(src.Block(x, y), src.Stride, s.pred[p], w, w, h)
		if p > 0 {
			d = s.chromaDist(d)
		}
		st.dist += d
	}
	s.updateCost(st)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
