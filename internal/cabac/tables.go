// Package cabac models the CABAC context state of an HEVC slice for bit
// cost estimation. It never emits bits: every operation returns an
// estimated cost in 1/4096 bit units and, for the Encode family, advances
// the probability state the way the real coder would.
package cabac

import "math"

// Probability state transitions, HEVC Table 9-53.
var transIdxMPS = [64]uint8{
	1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
	17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32,
	33, 34, 35, 36, 37, 38, 39, 40, 41, 42, 43, 44, 45, 46, 47, 48,
	49, 50, 51, 52, 53, 54, 55, 56, 57, 58, 59, 60, 61, 62, 62, 63,
}

var transIdxLPS = [64]uint8{
	0, 0, 1, 2, 2, 4, 4, 5, 6, 7, 8, 9, 9, 11, 11, 12,
	13, 13, 15, 15, 16, 16, 18, 18, 19, 19, 21, 21, 22, 22, 23, 24,
	24, 25, 26, 26, 27, 27, 28, 29, 29, 30, 30, 30, 31, 32, 32, 33,
	33, 33, 34, 34, 35, 35, 35, 36, 36, 36, 37, 37, 37, 38, 38, 63,
}

// FracBits is the fixed-point precision of every cost returned by the
// package.
const FracBits = 12

// One is the cost of a single bypass bin.
const One = 1 << FracBits

// bin2bits[ctx^bin] is the cost of coding bin with context byte ctx
// (state<<1 | mps). Even entries are MPS costs, odd entries LPS costs.
var bin2bits [128]uint32

// nextState[ctx<<1|bin] is the context byte after coding bin.
var nextState [256]uint8

func init() {
	alpha := math.Pow(0.01875/0.5, 1.0/63)
	for s := 0; s < 64; s++ {
		pLPS := 0.5 * math.Pow(alpha, float64(s))
		bin2bits[s<<1] = uint32(math.Round(-math.Log2(1-pLPS) * One))
		bin2bits[s<<1|1] = uint32(math.Round(-math.Log2(pLPS) * One))
	}
	for ctx := 0; ctx < 128; ctx++ {
		state, mps := ctx>>1, ctx&1
		for bin := 0; bin < 2; bin++ {
			var next int
			if bin == mps {
				next = int(transIdxMPS[state])<<1 | mps
			} else {
				nmps := mps
				if state == 0 {
					nmps = 1 - mps
				}
				next = int(transIdxLPS[state])<<1 | nmps
			}
			nextState[ctx<<1|bin] = uint8(next)
		}
	}
}

// BinBits returns the cost of coding bin with context byte ctx without
// changing it.
func BinBits(ctx uint8, bin int) uint32 {
	return bin2bits[int(ctx)^bin]
}

// Next returns the context byte after coding bin.
func Next(ctx uint8, bin int) uint8 {
	return nextState[int(ctx)<<1|bin]
}
