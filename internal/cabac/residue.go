package cabac

import (
	"github.com/deepteams/hevcrdo/internal/scan"
)

// lastPrefix maps a last-position coordinate to its prefix.
var lastPrefix = [32]uint8{
	0, 1, 2, 3, 4, 4, 5, 5, 6, 6, 6, 6, 7, 7, 7, 7,
	8, 8, 8, 8, 8, 8, 8, 8, 9, 9, 9, 9, 9, 9, 9, 9,
}

// ctxIdxMap4x4 is the significance context of each raster position of a
// 4x4 transform block.
var ctxIdxMap4x4 = [16]uint8{0, 1, 4, 5, 2, 3, 4, 5, 6, 6, 8, 8, 7, 7, 8, 8}

// MaxRice is the largest Rice parameter of coeff_abs_level_remaining.
const MaxRice = 4

// remainBinReduction is the unary prefix length beyond which
// coeff_abs_level_remaining switches to its Exp-Golomb escape.
const remainBinReduction = 3

func lastCtx(log2 int, luma bool) (off, shift int) {
	if luma {
		return 3*(log2-2) + (log2-1)>>2, (log2 + 1) >> 2
	}
	return 15, log2 - 2
}

func (c *Contexts) lastComponent(base, pos, log2 int, luma, update bool) uint32 {
	off, shift := lastCtx(log2, luma)
	prefix := int(lastPrefix[pos])
	max := log2<<1 - 1
	var bits uint32
	code := func(idx, bin int) {
		if update {
			bits += c.Encode(idx, bin)
		} else {
			bits += c.Bits(idx, bin)
		}
	}
	for i := 0; i < prefix; i++ {
		code(base+off+i>>shift, 1)
	}
	if prefix < max {
		code(base+off+prefix>>shift, 0)
	}
	if prefix > 3 {
		bits += Bypass(prefix>>1 - 1)
	}
	return bits
}

// LastPosBits returns the cost of last_sig_coeff_x/y for a last position
// in block coordinates. The vertical scan codes the coordinates swapped.
func (c *Contexts) LastPosBits(x, y, log2 int, luma bool, scanIdx int, update bool) uint32 {
	if scanIdx == scan.Vert {
		x, y = y, x
	}
	return c.lastComponent(CtxLastX, x, log2, luma, update) +
		c.lastComponent(CtxLastY, y, log2, luma, update)
}

// CSBFCtx returns the coded_sub_block_flag context index.
func CSBFCtx(luma bool, right, below bool) int {
	idx := CtxCSBF
	if !luma {
		idx += 2
	}
	if right || below {
		idx++
	}
	return idx
}

// SigCtx returns the sig_coeff_flag context index of the coefficient at
// block position (x, y). nbr holds the coded flags of the right (bit 0)
// and bottom (bit 1) sub-blocks.
func SigCtx(log2, scanIdx int, luma bool, x, y, nbr int) int {
	var sig int
	switch {
	case log2 == 2:
		sig = int(ctxIdxMap4x4[y<<2|x])
	case x == 0 && y == 0:
		sig = 0
	default:
		xp, yp := x&3, y&3
		switch nbr {
		case 0:
			switch {
			case xp+yp == 0:
				sig = 2
			case xp+yp < 3:
				sig = 1
			}
		case 1:
			switch yp {
			case 0:
				sig = 2
			case 1:
				sig = 1
			}
		case 2:
			switch xp {
			case 0:
				sig = 2
			case 1:
				sig = 1
			}
		default:
			sig = 2
		}
		if luma {
			if x>>2 != 0 || y>>2 != 0 {
				sig += 3
			}
			if log2 == 3 {
				if scanIdx == scan.Diag {
					sig += 9
				} else {
					sig += 15
				}
			} else {
				sig += 21
			}
		} else {
			if log2 == 3 {
				sig += 9
			} else {
				sig += 12
			}
		}
	}
	if !luma {
		sig += 27
	}
	return CtxSig + sig
}

// Gt1State tracks the greater1 context selection across the sub-blocks of
// one transform block.
type Gt1State struct {
	luma   bool
	c1     int
	ctxSet int
	first  bool
}

// NewGt1State returns the state at the start of a transform block.
func NewGt1State(luma bool) Gt1State {
	return Gt1State{luma: luma, c1: 1, first: true}
}

// StartCSB selects the context set for sub-block i. It must be called
// only for sub-blocks that code at least one greater1 flag.
func (g *Gt1State) StartCSB(i int) {
	g.ctxSet = 0
	if i > 0 && g.luma {
		g.ctxSet = 2
	}
	if !g.first && g.c1 == 0 {
		g.ctxSet++
	}
	g.first = false
	g.c1 = 1
}

// Gt1Ctx returns the context index of the next greater1 flag.
func (g *Gt1State) Gt1Ctx() int {
	idx := CtxGt1 + g.ctxSet*4 + g.c1
	if !g.luma {
		idx += 16
	}
	return idx
}

// Gt2Ctx returns the context index of the greater2 flag of the sub-block.
func (g *Gt1State) Gt2Ctx() int {
	if g.luma {
		return CtxGt2 + g.ctxSet
	}
	return CtxGt2 + 4 + g.ctxSet
}

// Update advances the state after coding a greater1 flag.
func (g *Gt1State) Update(gt1 bool) {
	switch {
	case gt1:
		g.c1 = 0
	case g.c1 > 0 && g.c1 < 3:
		g.c1++
	}
}

// RemainingBits returns the cost of coeff_abs_level_remaining.
func RemainingBits(rem, rice int) uint32 {
	if rem < remainBinReduction<<rice {
		return Bypass(rem>>rice + 1 + rice)
	}
	length := rice
	rem -= remainBinReduction << rice
	for rem >= 1<<length {
		rem -= 1 << length
		length++
	}
	return Bypass(remainBinReduction + length + 1 - rice + length)
}

// UpdateRice returns the Rice parameter after coding a level of abs.
func UpdateRice(rice, abs int) int {
	if abs > 3<<rice && rice < MaxRice {
		return rice + 1
	}
	return rice
}

// SignHidden reports whether the sign of the first coefficient of a
// sub-block is inferred from parity, given the scan positions of its last
// and first nonzero coefficients.
func SignHidden(lastPos, firstPos int) bool {
	return lastPos-firstPos > 3
}

// ResidueBits returns the cost of the residual_coding of a coefficient
// stream produced by scan.Serialize and advances the contexts. With sbh
// set, the sign of the first coefficient of each eligible sub-block is not
// charged. A malformed stream returns the error of the scan reader.
func (c *Contexts) ResidueBits(stream []byte, log2 int, luma, sbh bool) (uint32, error) {
	r, err := scan.NewReader(stream, log2)
	if err != nil {
		return 0, err
	}
	bits := c.LastPosBits(r.LastX, r.LastY, log2, luma, r.ScanIdx, true)
	lastPos := r.LastPos()
	w := 1 << (log2 - 2)
	pos := &scan.Order4x4[r.ScanIdx]
	gs := NewGt1State(luma)

	var sb scan.SubBlock
	for {
		ok, err := r.Next(&sb)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		i := sb.Index
		if i < r.LastCSB && i > 0 {
			bits += c.Encode(CSBFCtx(luma, sb.Right, sb.Below), b2i(sb.Coded))
		}
		if !sb.Coded {
			continue
		}
		nbr := b2i(sb.Right) | b2i(sb.Below)<<1
		xs, ys := (sb.Raster%w)*4, (sb.Raster/w)*4

		start := 15
		if i == r.LastCSB {
			start = lastPos - 1
		}
		inferDC := i < r.LastCSB && i > 0
		for p := start; p >= 0; p-- {
			sig := int(sb.Sig>>p) & 1
			if p == 0 && inferDC {
				break
			}
			if sig == 1 {
				inferDC = false
			}
			x, y := xs+int(pos[p])&3, ys+int(pos[p])>>2
			bits += c.Encode(SigCtx(log2, r.ScanIdx, luma, x, y, nbr), sig)
		}

		first, last := -1, -1
		for p := 0; p < 16; p++ {
			if sb.Abs[p] != 0 {
				if first < 0 {
					first = p
				}
				last = p
			}
		}
		if first < 0 {
			continue
		}

		gs.StartCSB(i)
		firstGt1 := -1
		k := 0
		for p := 15; p >= 0 && k < scan.MaxGt1PerCSB; p-- {
			if sb.Abs[p] == 0 {
				continue
			}
			gt1 := sb.Abs[p] > 1
			bits += c.Encode(gs.Gt1Ctx(), b2i(gt1))
			gs.Update(gt1)
			if gt1 && firstGt1 < 0 {
				firstGt1 = p
			}
			k++
		}
		if firstGt1 >= 0 {
			bits += c.Encode(gs.Gt2Ctx(), b2i(sb.Abs[firstGt1] > 2))
		}

		signs := sb.NumCoded
		if sbh && SignHidden(last, first) {
			signs--
		}
		bits += Bypass(signs)

		rice := 0
		k = 0
		for p := 15; p >= 0; p-- {
			a := int(sb.Abs[p])
			if a == 0 {
				continue
			}
			base := 1
			if k < scan.MaxGt1PerCSB {
				base = 2
				if p == firstGt1 {
					base = 3
				}
			}
			if a >= base && (k >= scan.MaxGt1PerCSB || a > 1) {
				bits += RemainingBits(a-base, rice)
				rice = UpdateRice(rice, a)
			}
			k++
		}
	}
	return bits, nil
}
