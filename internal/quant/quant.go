package quant

import (
	"math"

	"github.com/deepteams/hevcrdo/internal/cabac"
	"github.com/deepteams/hevcrdo/internal/hevc"
	"github.com/deepteams/hevcrdo/internal/scan"
)

var (
	quantScales   = [6]int32{26214, 23302, 20560, 18396, 16384, 14564}
	dequantScales = [6]int32{40, 45, 51, 57, 64, 72}
)

// Scale returns the forward quantizer scale of a QP remainder.
func Scale(qpMod int) int32 { return quantScales[qpMod] }

// DequantScale returns the inverse quantizer scale of a QP remainder.
func DequantScale(qpMod int) int32 { return dequantScales[qpMod] }

// TransformShift is the gain of the forward transform of a 2^log2 block,
// as a power of two.
func TransformShift(log2 int) int {
	return hevc.MaxTrDynamicRange - hevc.BitDepth - log2
}

// QBits returns the right shift of the forward quantizer.
func QBits(log2, qpDiv int) int {
	return hevc.QuantShift + qpDiv + TransformShift(log2)
}

// Rounding is the quantizer rounding policy of one transform block, in
// Q14. With nil arrays every position uses Fixed. Otherwise R01 decides
// between levels 0 and 1 and R12 rounds every larger level; both are
// indexed by raster position.
type Rounding struct {
	Fixed    int32
	R01, R12 []int32
}

func (r *Rounding) at(pos int) (r01, r12 int32) {
	if r.R01 == nil {
		return r.Fixed, r.Fixed
	}
	return r.R01[pos], r.R12[pos]
}

// Quantize quantizes the 2^log2 square block src into dst and returns
// the number of nonzero levels.
func Quantize(dst, src []int16, log2, qpDiv, qpMod int, r *Rounding) int {
	n := 1 << (2 * log2)
	qBits := QBits(log2, qpDiv)
	rShift := qBits - hevc.RoundFactorQ
	scale := int64(quantScales[qpMod])
	nz := 0
	for i, c := range src[:n] {
		a := int64(c)
		neg := a < 0
		if neg {
			a = -a
		}
		a *= scale
		r01, r12 := r.at(i)
		lvl := (a + int64(r01)<<rShift) >> qBits
		if lvl != 0 {
			lvl = max((a+int64(r12)<<rShift)>>qBits, 1)
			nz++
		}
		if neg {
			lvl = -lvl
		}
		dst[i] = clip16(lvl)
	}
	return nz
}

// Dequantize scales the levels of a 2^log2 square block back to transform
// coefficients.
func Dequantize(dst, src []int16, log2, qpDiv, qpMod int) {
	n := 1 << (2 * log2)
	scale := int64(dequantScales[qpMod])
	// Flat scaling list (16) folded into the shift.
	shift := hevc.BitDepth + log2 - 9
	for i, c := range src[:n] {
		if c == 0 {
			dst[i] = 0
			continue
		}
		v := int64(c) * scale
		if shift > qpDiv {
			s := shift - qpDiv
			v = (v + 1<<(s-1)) >> s
		} else {
			v <<= qpDiv - shift
		}
		dst[i] = clip16(v)
	}
}

func clip16(v int64) int16 {
	if v < math.MinInt16 {
		return math.MinInt16
	}
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	return int16(v)
}

// Largest rounding factor derived from context state: one half.
const maxAdaptiveRound = 1 << (hevc.RoundFactorQ - 1)

// GenRounding fills r with per-position rounding factors derived from the
// live context state: each boundary's deadzone is set from the bit cost
// difference between the two outcomes, weighted by the lambda modifier.
// Significance contexts assume no coded neighbour sub-blocks.
func GenRounding(r *Rounding, ctx *cabac.Contexts, log2 int, luma bool, lamMod float64) {
	n := 1 << log2
	if cap(r.R01) < n*n {
		r.R01 = make([]int32, n*n)
		r.R12 = make([]int32, n*n)
	}
	r.R01, r.R12 = r.R01[:n*n], r.R12[:n*n]

	gt1 := func(csb int) int {
		g := cabac.NewGt1State(luma)
		g.StartCSB(csb)
		return g.Gt1Ctx()
	}
	gt1First, gt1Other := gt1(0), gt1(1)

	w := n >> 2
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			sig := cabac.SigCtx(log2, scan.Diag, luma, x, y, 0)
			g := gt1First
			if (y>>2)*w+x>>2 != 0 {
				g = gt1Other
			}
			pos := y*n + x
			r.R01[pos] = deadzoneRound(ctx.Bits(sig, 1), ctx.Bits(sig, 0), lamMod)
			r.R12[pos] = deadzoneRound(ctx.Bits(g, 1), ctx.Bits(g, 0), lamMod)
		}
	}
}

func deadzoneRound(bits1, bits0 uint32, lamMod float64) int32 {
	delta := (float64(bits1) - float64(bits0)) / cabac.One
	dz := (delta*math.Pow(2, -8.0/3)*lamMod + 1) / 2
	round := (1 - dz) * (1 << hevc.RoundFactorQ)
	return int32(clipF(round, 0, maxAdaptiveRound))
}
