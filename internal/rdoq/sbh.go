package rdoq

import (
	"math"

	"github.com/deepteams/hevcrdo/internal/cabac"
)

// HideSigns makes the level parity of every sub-block that qualifies for
// sign hiding agree with the sign of its first nonzero level: even sums
// mean positive, odd sums negative. A disagreeing sub-block gets one level
// changed by one, picked by the smallest rounding error from p.Coeffs. The
// last sub-block is never extended past its last nonzero level. It reports
// whether any level remains.
func HideSigns(p *Params) bool {
	b := newBlock(p)
	nCSB := b.w * b.w
	lastCSB := -1
	for i := nCSB - 1; i >= 0 && lastCSB < 0; i-- {
		for q := 0; q < 16; q++ {
			if p.Levels[b.raster(i, q)] != 0 {
				lastCSB = i
				break
			}
		}
	}
	if lastCSB < 0 {
		return false
	}

	for i := lastCSB; i >= 0; i-- {
		first, last, sum := -1, -1, 0
		for q := 0; q < 16; q++ {
			if l := p.Levels[b.raster(i, q)]; l != 0 {
				if first < 0 {
					first = q
				}
				last = q
				sum += int(absLevel(l))
			}
		}
		if first < 0 || !cabac.SignHidden(last, first) {
			continue
		}
		neg := p.Levels[b.raster(i, first)] < 0
		if (sum&1 == 1) == neg {
			continue
		}

		start := 15
		if i == lastCSB {
			start = last
		}
		minCost, minPos, minChange := int64(math.MaxInt64), -1, 0
		for q := start; q >= 0; q-- {
			ri := b.raster(i, q)
			c := p.Coeffs[ri]
			a := absLevel(p.Levels[ri])
			// Rounding error in 1/256 of a quantizer step.
			d := (abs64(int64(c))*b.scale - int64(a)<<b.qBits) >> (b.qBits - 8)
			var cost int64
			var change int
			switch {
			case a == 0:
				if q < first && (c < 0) != neg {
					continue
				}
				cost, change = -d, 1
			case d > 0 && a < math.MaxInt16:
				cost, change = -d, 1
			case q == first && a == 1:
				continue
			default:
				cost, change = d, -1
			}
			if cost < minCost {
				minCost, minPos, minChange = cost, ri, change
			}
		}
		if minPos < 0 {
			continue
		}
		l := p.Levels[minPos]
		switch {
		case l == 0:
			l = 1
			if p.Coeffs[minPos] < 0 || (p.Coeffs[minPos] == 0 && neg) {
				l = -1
			}
		case l > 0:
			l += int16(minChange)
		default:
			l -= int16(minChange)
		}
		p.Levels[minPos] = l
	}

	cbf := false
	for i := 0; i <= lastCSB; i++ {
		coded := false
		for q := 0; q < 16 && !coded; q++ {
			coded = p.Levels[b.raster(i, q)] != 0
		}
		p.CSBF[b.order[i]] = b2u8(coded)
		cbf = cbf || coded
	}
	return cbf
}

func absLevel(l int16) int32 {
	if l < 0 {
		return -int32(l)
	}
	return int32(l)
}
