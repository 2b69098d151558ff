package cabac

import "github.com/deepteams/hevcrdo/internal/hevc"

// Bypass returns the cost of n bypass bins.
func Bypass(n int) uint32 { return uint32(n) << FracBits }

// TUnaryBypassBits returns the cost of v coded as truncated unary with
// maximum max, all bins bypass.
func TUnaryBypassBits(v, max int) uint32 {
	if v < max {
		return Bypass(v + 1)
	}
	return Bypass(max)
}

// EGkBits returns the cost of v coded as a k-th order Exp-Golomb code.
func EGkBits(v, k int) uint32 {
	n := 0
	for v >= 1<<k {
		v -= 1 << k
		k++
		n++
	}
	return Bypass(n + 1 + k)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SplitCU codes split_cu_flag. ctxInc counts the left and top neighbours
// that are deeper than the current CU.
func (c *Contexts) SplitCU(split bool, ctxInc int) uint32 {
	return c.Encode(CtxSplitCU+ctxInc, b2i(split))
}

// Skip codes cu_skip_flag. ctxInc counts the skipped left and top
// neighbours.
func (c *Contexts) Skip(skip bool, ctxInc int) uint32 {
	return c.Encode(CtxSkip+ctxInc, b2i(skip))
}

// PredMode codes pred_mode_flag.
func (c *Contexts) PredMode(intra bool) uint32 {
	return c.Encode(CtxPredMode, b2i(intra))
}

// PartModeIntra codes part_mode of an intra CU.
func (c *Contexts) PartModeIntra(part hevc.PartMode) uint32 {
	return c.Encode(CtxPartMode, b2i(part == hevc.Part2Nx2N))
}

// Inter part_mode binarizations: the high nibble is the bin count and the
// first bin is bit 3 of the low nibble.
var (
	interPartBins = [2][8]uint8{
		{0x18, 0x24, 0x20, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		{0x18, 0x36, 0x32, 0xFF, 0x44, 0x45, 0x40, 0x41},
	}
	interPartBinsMinCU = [2][4]uint8{
		{0x18, 0x24, 0x32, 0x30},
		{0x18, 0x24, 0x20, 0xFF},
	}
)

// PartModeInter codes part_mode of an inter CU. The first three bins are
// context coded, the fourth bin of an AMP partition is bypass.
func (c *Contexts) PartModeInter(part hevc.PartMode, amp, isMinCU, cuIs8 bool) uint32 {
	var bins uint8
	if isMinCU {
		hevc.Assert(int(part) < 4, "cabac: part mode %v not allowed at min CU size", part)
		bins = interPartBinsMinCU[b2i(cuIs8)][part]
	} else {
		bins = interPartBins[b2i(amp)][part]
	}
	hevc.Assert(bins != 0xFF, "cabac: part mode %v not allowed", part)
	count := int(bins >> 4)
	var bits uint32
	for i := 0; i < count && i < 3; i++ {
		bits += c.Encode(CtxPartMode+i, int(bins>>(3-i))&1)
	}
	if count == 4 {
		bits += Bypass(1)
	}
	return bits
}

// IntraLuma codes prev_intra_luma_pred_flag and the mpm_idx or
// rem_intra_luma_pred_mode of one prediction unit.
func (c *Contexts) IntraLuma(inMPM bool, mpmIdx int) uint32 {
	bits := c.Encode(CtxPrevIntraLuma, b2i(inMPM))
	if !inMPM {
		return bits + Bypass(5)
	}
	if mpmIdx == 0 {
		return bits + Bypass(1)
	}
	return bits + Bypass(2)
}

// IntraLumaCost is IntraLuma without the state update.
func (c *Contexts) IntraLumaCost(inMPM bool, mpmIdx int) uint32 {
	bits := c.Bits(CtxPrevIntraLuma, b2i(inMPM))
	switch {
	case !inMPM:
		return bits + Bypass(5)
	case mpmIdx == 0:
		return bits + Bypass(1)
	}
	return bits + Bypass(2)
}

// ChromaPredMode codes intra_chroma_pred_mode.
func (c *Contexts) ChromaPredMode(mode int) uint32 {
	if mode == hevc.ChromaDM {
		return c.Encode(CtxChromaPredMode, 0)
	}
	return c.Encode(CtxChromaPredMode, 1) + Bypass(2)
}

// MergeFlag codes merge_flag.
func (c *Contexts) MergeFlag(merge bool) uint32 {
	return c.Encode(CtxMergeFlag, b2i(merge))
}

// MergeIdx codes merge_idx: one context-coded bin followed by truncated
// unary bypass bins.
func (c *Contexts) MergeIdx(idx, maxCand int) uint32 {
	if maxCand <= 1 {
		return 0
	}
	bits := c.Encode(CtxMergeIdx, b2i(idx > 0))
	if maxCand > 2 && idx > 0 {
		bits += TUnaryBypassBits(idx-1, maxCand-2)
	}
	return bits
}

// Prediction list selection for inter_pred_idc.
const (
	PredL0 = 0
	PredL1 = 1
	PredBi = 2
)

// InterPredIdc codes inter_pred_idc of a B-slice prediction unit.
func (c *Contexts) InterPredIdc(idc, cuDepth, puWPlusH int) uint32 {
	if puWPlusH == 12 {
		return c.Encode(CtxInterPredIdc+4, idc)
	}
	bi := b2i(idc == PredBi)
	bits := c.Encode(CtxInterPredIdc+cuDepth, bi)
	if bi == 0 {
		bits += c.Encode(CtxInterPredIdc+4, idc)
	}
	return bits
}

// RefIdx codes ref_idx_lX. Nothing is coded with a single active
// reference.
func (c *Contexts) RefIdx(ref, active int) uint32 {
	if active <= 1 {
		return 0
	}
	bits := c.Encode(CtxRefIdx, b2i(ref > 0))
	if active > 2 && ref > 0 {
		bits += c.Encode(CtxRefIdx+1, b2i(ref > 1))
	}
	if active > 3 && ref > 1 {
		bits += TUnaryBypassBits(ref-2, active-3)
	}
	return bits
}

// MvpFlag codes mvp_lX_flag.
func (c *Contexts) MvpFlag(idx int) uint32 {
	return c.Encode(CtxMvpFlag, idx)
}

// Mvd codes a motion vector difference.
func (c *Contexts) Mvd(d hevc.MV) uint32 {
	ax, ay := absInt(int(d.X)), absInt(int(d.Y))
	bits := c.Encode(CtxMvdGt0, b2i(ax > 0))
	bits += c.Encode(CtxMvdGt0, b2i(ay > 0))
	if ax > 0 {
		bits += c.Encode(CtxMvdGt1, b2i(ax > 1))
	}
	if ay > 0 {
		bits += c.Encode(CtxMvdGt1, b2i(ay > 1))
	}
	for _, a := range [2]int{ax, ay} {
		if a > 1 {
			bits += EGkBits(a-2, 1)
		}
		if a > 0 {
			bits += Bypass(1)
		}
	}
	return bits
}

// MvdCost is Mvd without the state update.
func (c *Contexts) MvdCost(d hevc.MV) uint32 {
	tmp := *c
	return tmp.Mvd(d)
}

// RqtRootCbf codes rqt_root_cbf.
func (c *Contexts) RqtRootCbf(cbf bool) uint32 {
	return c.Encode(CtxRqtRootCbf, b2i(cbf))
}

// SplitTransform codes split_transform_flag of a transform node.
func (c *Contexts) SplitTransform(split bool, log2 int) uint32 {
	return c.Encode(CtxSplitTransform+5-log2, b2i(split))
}

// CbfLumaCtx returns the cbf_luma context at a transform depth.
func CbfLumaCtx(depth int) int { return CtxCbfLuma + b2i(depth == 0) }

// CbfChromaCtx returns the cbf_cb/cbf_cr context at a transform depth.
func CbfChromaCtx(depth int) int { return CtxCbfChroma + depth }

// CbfLuma codes cbf_luma at a transform depth.
func (c *Contexts) CbfLuma(cbf bool, depth int) uint32 {
	return c.Encode(CbfLumaCtx(depth), b2i(cbf))
}

// CbfChroma codes cbf_cb or cbf_cr at a transform depth.
func (c *Contexts) CbfChroma(cbf bool, depth int) uint32 {
	return c.Encode(CbfChromaCtx(depth), b2i(cbf))
}

// QPDelta codes cu_qp_delta_abs and cu_qp_delta_sign_flag.
func (c *Contexts) QPDelta(delta int) uint32 {
	a := absInt(delta)
	prefix := a
	if prefix > 5 {
		prefix = 5
	}
	var bits uint32
	for i := 0; i < prefix; i++ {
		bits += c.Encode(CtxQPDelta+b2i(i > 0), 1)
	}
	if prefix < 5 {
		bits += c.Encode(CtxQPDelta+b2i(prefix > 0), 0)
	} else {
		bits += EGkBits(a-5, 0)
	}
	if a > 0 {
		bits += Bypass(1)
	}
	return bits
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
