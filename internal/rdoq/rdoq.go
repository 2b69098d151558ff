// Package rdoq refines quantized transform levels with rate estimates
// taken from the live CABAC contexts, and hides one sign per coefficient
// group in the parity of its levels.
package rdoq

import (
	"math"

	"github.com/deepteams/hevcrdo/internal/cabac"
	"github.com/deepteams/hevcrdo/internal/hevc"
	"github.com/deepteams/hevcrdo/internal/quant"
	"github.com/deepteams/hevcrdo/internal/scan"
)

const maxCoeffs = hevc.MaxTUSize * hevc.MaxTUSize

// Params describes one transform block. Levels and CSBF are rewritten in
// place.
type Params struct {
	Log2    int
	ScanIdx int
	Luma    bool

	QPDiv, QPMod int
	LambdaQ8     int64

	Coeffs []int16 // transform coefficients, raster order
	Levels []int16 // quantized levels, raster order
	CSBF   []uint8 // coded flag per 4x4 sub-block, raster order

	// TURounding is set when the levels were produced with rounding
	// factors derived from the same contexts.
	TURounding bool
}

// Optimizer holds the per-position scratch of Optimize. The zero value is
// ready to use; it must not be shared between goroutines.
type Optimizer struct {
	chosen [maxCoeffs]float64 // cost of the chosen level
	dist0  [maxCoeffs]float64 // distortion at level 0
	sig    [maxCoeffs]float64 // rate of sig_coeff_flag=1 inside chosen
	maxAbs [maxCoeffs]int32
}

type block struct {
	n, w    int
	order   []uint8
	pos     *[16]uint8
	qBits   int
	scale   int64
	distMul float64 // spatial distortion per squared Q(qBits) error
}

func newBlock(p *Params) block {
	hevc.Assert(p.Log2 >= hevc.MinTULog2 && p.Log2 <= hevc.MaxTULog2, "rdoq: invalid transform size %d", 1<<p.Log2)
	n := 1 << p.Log2
	scale := int64(quant.Scale(p.QPMod))
	ts := quant.TransformShift(p.Log2)
	return block{
		n:       n,
		w:       n >> 2,
		order:   scan.CSBOrder(p.Log2, p.ScanIdx),
		pos:     &scan.Order4x4[p.ScanIdx],
		qBits:   quant.QBits(p.Log2, p.QPDiv),
		scale:   scale,
		distMul: math.Pow(2, float64(-2*ts)) / (float64(scale) * float64(scale)),
	}
}

// raster returns the raster index of scan position p of sub-block i.
func (b *block) raster(i, p int) int {
	r := int(b.order[i])
	return ((r/b.w)*4+int(b.pos[p])>>2)*b.n + (r%b.w)*4 + int(b.pos[p])&3
}

func (b *block) xy(i, p int) (int, int) {
	r := int(b.order[i])
	return (r%b.w)*4 + int(b.pos[p])&3, (r/b.w)*4 + int(b.pos[p])>>2
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Optimize chooses every level among {q, q-1, 0}, where q is the level of
// plain half rounding, minimizing distortion plus estimated rate under ctx.
// It then drops sub-blocks that are cheaper left uncoded and re-derives
// the last significant position. ctx is read, never advanced. It reports
// whether any level survives.
func (o *Optimizer) Optimize(p *Params, ctx *cabac.Contexts) bool {
	hevc.Assert(!p.TURounding, "rdoq: coefficient RDOQ combined with TU-level rounding")
	b := newBlock(p)
	lambda := float64(p.LambdaQ8) / (1 << hevc.LambdaQShift) / cabac.One
	half := int64(1) << (b.qBits - 1)
	nCSB := b.w * b.w

	lastCSB, lastP := -1, -1
	for i := nCSB - 1; i >= 0; i-- {
		for q := 15; q >= 0; q-- {
			r := b.raster(i, q)
			m := (abs64(int64(p.Coeffs[r]))*b.scale + half) >> b.qBits
			o.maxAbs[r] = int32(min(m, math.MaxInt16))
			if m != 0 && lastCSB < 0 {
				lastCSB, lastP = i, q
			}
		}
	}
	for i := range p.Levels[:b.n*b.n] {
		p.Levels[i] = 0
	}
	for i := range p.CSBF[:nCSB] {
		p.CSBF[i] = 0
	}
	if lastCSB < 0 {
		return false
	}
	gLast := lastCSB*16 + lastP

	gs := cabac.NewGt1State(p.Luma)
	for i := lastCSB; i >= 0; i-- {
		r := int(b.order[i])
		right := r%b.w+1 < b.w && p.CSBF[r+1] != 0
		below := r/b.w+1 < b.w && p.CSBF[r+b.w] != 0
		nbr := b2i(right) | b2i(below)<<1

		saved := gs
		local, started := gs, false
		rice, k, gt2Used := 0, 0, false
		coded := false
		start := 15
		if i == lastCSB {
			start = lastP
		}
		for q := 15; q > start; q-- {
			g := i*16 + q
			o.chosen[g], o.dist0[g], o.sig[g] = 0, 0, 0
		}
		for q := start; q >= 0; q-- {
			g := i*16 + q
			ri := b.raster(i, q)
			c := int64(p.Coeffs[ri])
			lvlD := abs64(c) * b.scale
			d0 := float64(lvlD) * float64(lvlD) * b.distMul
			x, y := b.xy(i, q)
			sigCtx := cabac.SigCtx(p.Log2, p.ScanIdx, p.Luma, x, y, nbr)
			isLast := g == gLast
			o.dist0[g] = d0

			m := int64(o.maxAbs[ri])
			cost0 := d0 + lambda*float64(ctx.Bits(sigCtx, 0))
			if m == 0 {
				o.chosen[g], o.sig[g] = cost0, 0
				continue
			}
			tmp := local
			if !started {
				tmp.StartCSB(i)
			}
			sigRate := 0.0
			if !isLast {
				sigRate = lambda * float64(ctx.Bits(sigCtx, 1))
			}
			best, bestCost := int64(0), cost0
			if isLast {
				bestCost = math.Inf(1)
			}
			for l := m; l >= max(m-1, 1); l-- {
				e := float64(lvlD - l<<b.qBits)
				cost := e*e*b.distMul + sigRate + lambda*float64(levelBits(ctx, &tmp, int(l), k, gt2Used, rice))
				if cost < bestCost {
					best, bestCost = l, cost
				}
			}
			if best == 0 {
				o.chosen[g], o.sig[g] = cost0, 0
				continue
			}
			o.chosen[g], o.sig[g] = bestCost, sigRate
			if !started {
				local, started = tmp, true
			}
			base := 1
			if k < scan.MaxGt1PerCSB {
				local.Update(best > 1)
				base = 2
				if best > 1 && !gt2Used {
					gt2Used = true
					base = 3
				}
			}
			if int(best) >= base && (k >= scan.MaxGt1PerCSB || best > 1) {
				rice = cabac.UpdateRice(rice, int(best))
			}
			k++
			coded = true
			if c < 0 {
				best = -best
			}
			p.Levels[ri] = int16(best)
		}
		if started {
			gs = local
		}

		if i != 0 && i != lastCSB {
			csbfCtx := cabac.CSBFCtx(p.Luma, right, below)
			if coded {
				costCoded := lambda * float64(ctx.Bits(csbfCtx, 1))
				costZero := lambda * float64(ctx.Bits(csbfCtx, 0))
				for q := 0; q < 16; q++ {
					costCoded += o.chosen[i*16+q]
					costZero += o.dist0[i*16+q]
				}
				if costZero < costCoded {
					for q := 0; q < 16; q++ {
						p.Levels[b.raster(i, q)] = 0
					}
					coded = false
					gs = saved
				}
			}
			if !coded {
				for q := 0; q < 16; q++ {
					o.chosen[i*16+q], o.sig[i*16+q] = o.dist0[i*16+q], 0
				}
			}
		}
		p.CSBF[r] = b2u8(coded)
	}

	return o.trimLast(p, &b, ctx, gLast, lambda)
}

// trimLast moves the last significant position to the scan position that
// minimizes the total cost, dropping every level after it.
func (o *Optimizer) trimLast(p *Params, b *block, ctx *cabac.Contexts, gLast int, lambda float64) bool {
	var tail float64
	for g := 0; g <= gLast; g++ {
		tail += o.dist0[g]
	}
	var prefix float64
	bestG, bestCost := -1, math.Inf(1)
	for g := 0; g <= gLast; g++ {
		tail -= o.dist0[g]
		i, q := g>>4, g&15
		if p.Levels[b.raster(i, q)] != 0 {
			x, y := b.xy(i, q)
			cost := prefix + o.chosen[g] - o.sig[g] + tail +
				lambda*float64(ctx.LastPosBits(x, y, p.Log2, p.Luma, p.ScanIdx, false))
			if cost < bestCost {
				bestG, bestCost = g, cost
			}
		}
		prefix += o.chosen[g]
	}
	if bestG < 0 {
		return false
	}
	for g := bestG + 1; g <= gLast; g++ {
		p.Levels[b.raster(g>>4, g&15)] = 0
	}
	for i := bestG>>4 + 1; i <= gLast>>4; i++ {
		p.CSBF[b.order[i]] = 0
	}
	return true
}

// levelBits estimates the bits of a nonzero level after sig_coeff_flag:
// greater1/greater2 flags, remaining level and sign. k counts the nonzero
// levels already chosen in the sub-block.
func levelBits(ctx *cabac.Contexts, gs *cabac.Gt1State, l, k int, gt2Used bool, rice int) uint32 {
	bits := uint32(cabac.One) // sign
	base := 1
	if k < scan.MaxGt1PerCSB {
		bits += ctx.Bits(gs.Gt1Ctx(), b2i(l > 1))
		base = 2
		if l > 1 && !gt2Used {
			bits += ctx.Bits(gs.Gt2Ctx(), b2i(l > 2))
			base = 3
		}
	}
	if l >= base && (k >= scan.MaxGt1PerCSB || l > 1) {
		bits += cabac.RemainingBits(l-base, rice)
	}
	return bits
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func b2u8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
