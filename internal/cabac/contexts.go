package cabac

import (
	"github.com/deepteams/hevcrdo/internal/hevc"
)

// Context index layout. Coefficient contexts form the tail of the table so
// that a partial restore from CoeffOffset rolls back residual coding only.
const (
	CtxSplitCU        = 0   // 3
	CtxSkip           = 3   // 3
	CtxPredMode       = 6   // 1
	CtxPartMode       = 7   // 4
	CtxPrevIntraLuma  = 11  // 1
	CtxChromaPredMode = 12  // 1
	CtxRqtRootCbf     = 13  // 1
	CtxMergeFlag      = 14  // 1
	CtxMergeIdx       = 15  // 1
	CtxInterPredIdc   = 16  // 5
	CtxRefIdx         = 21  // 2
	CtxMvpFlag        = 23  // 1
	CtxMvdGt0         = 24  // 1
	CtxMvdGt1         = 25  // 1
	CtxQPDelta        = 26  // 3
	CtxSplitTransform = 29  // 3
	CtxCbfLuma        = 32  // 2
	CtxCbfChroma      = 34  // 5
	CtxLastX          = 39  // 18
	CtxLastY          = 57  // 18
	CtxCSBF           = 75  // 4
	CtxSig            = 79  // 42
	CtxGt1            = 121 // 24
	CtxGt2            = 145 // 6

	NumContexts = 151

	// CoeffOffset is the first context touched by residual coding.
	CoeffOffset = CtxLastX
)

// initValues lists, per syntax element, its first context index and the
// init values for the three init types (I, P, B).
var initValues = []struct {
	off  int
	vals [3][]uint8
}{
	{CtxSplitCU, [3][]uint8{{139, 141, 157}, {107, 139, 126}, {107, 139, 126}}},
	{CtxSkip, [3][]uint8{{154, 154, 154}, {197, 185, 201}, {197, 185, 201}}},
	{CtxPredMode, [3][]uint8{{154}, {149}, {134}}},
	{CtxPartMode, [3][]uint8{{184, 154, 154, 154}, {154, 139, 154, 154}, {154, 139, 154, 154}}},
	{CtxPrevIntraLuma, [3][]uint8{{184}, {154}, {183}}},
	{CtxChromaPredMode, [3][]uint8{{63}, {152}, {152}}},
	{CtxRqtRootCbf, [3][]uint8{{154}, {79}, {79}}},
	{CtxMergeFlag, [3][]uint8{{154}, {110}, {154}}},
	{CtxMergeIdx, [3][]uint8{{154}, {122}, {137}}},
	{CtxInterPredIdc, [3][]uint8{{154, 154, 154, 154, 154}, {95, 79, 63, 31, 31}, {95, 79, 63, 31, 31}}},
	{CtxRefIdx, [3][]uint8{{154, 154}, {153, 153}, {153, 153}}},
	{CtxMvpFlag, [3][]uint8{{154}, {168}, {168}}},
	{CtxMvdGt0, [3][]uint8{{154}, {140}, {169}}},
	{CtxMvdGt1, [3][]uint8{{154}, {198}, {198}}},
	{CtxQPDelta, [3][]uint8{{154, 154, 154}, {154, 154, 154}, {154, 154, 154}}},
	{CtxSplitTransform, [3][]uint8{{153, 138, 138}, {124, 138, 94}, {224, 167, 122}}},
	{CtxCbfLuma, [3][]uint8{{111, 141}, {153, 111}, {153, 111}}},
	{CtxCbfChroma, [3][]uint8{{94, 138, 182, 154, 154}, {149, 107, 167, 154, 154}, {149, 92, 167, 154, 154}}},
	{CtxLastX, [3][]uint8{lastInitI, lastInitP, lastInitB}},
	{CtxLastY, [3][]uint8{lastInitI, lastInitP, lastInitB}},
	{CtxCSBF, [3][]uint8{{91, 171, 134, 141}, {121, 140, 61, 154}, {121, 140, 61, 154}}},
	{CtxSig, [3][]uint8{sigInitI, sigInitP, sigInitB}},
	{CtxGt1, [3][]uint8{gt1InitI, gt1InitP, gt1InitB}},
	{CtxGt2, [3][]uint8{{138, 153, 136, 167, 152, 152}, {107, 167, 91, 122, 107, 167}, {107, 167, 91, 107, 107, 167}}},
}

var (
	lastInitI = []uint8{110, 110, 124, 125, 140, 153, 125, 127, 140, 109, 111, 143, 127, 111, 79, 108, 123, 63}
	lastInitP = []uint8{125, 110, 94, 110, 95, 79, 125, 111, 110, 78, 110, 111, 111, 95, 94, 108, 123, 108}
	lastInitB = []uint8{125, 110, 124, 110, 95, 94, 125, 111, 111, 79, 125, 126, 111, 111, 79, 108, 123, 93}

	sigInitI = []uint8{
		111, 111, 125, 110, 110, 94, 124, 108, 124, 107, 125, 141, 179, 153,
		125, 107, 125, 141, 179, 153, 125, 107, 125, 141, 179, 153, 125, 140,
		139, 182, 182, 152, 136, 152, 136, 153, 136, 139, 111, 136, 139, 111,
	}
	sigInitP = []uint8{
		155, 154, 139, 153, 139, 123, 123, 63, 153, 166, 183, 140, 136, 153,
		154, 166, 183, 140, 136, 153, 154, 166, 183, 140, 136, 153, 154, 170,
		153, 123, 123, 107, 121, 107, 121, 167, 151, 183, 140, 151, 183, 140,
	}
	sigInitB = []uint8{
		170, 154, 139, 153, 139, 123, 123, 63, 124, 166, 183, 140, 136, 153,
		154, 166, 183, 140, 136, 153, 154, 166, 183, 140, 136, 153, 154, 170,
		153, 138, 138, 122, 121, 122, 121, 167, 151, 183, 140, 151, 183, 140,
	}

	gt1InitI = []uint8{
		140, 92, 137, 138, 140, 152, 138, 139, 153, 74, 149, 92,
		139, 107, 122, 152, 140, 179, 166, 182, 140, 227, 122, 197,
	}
	gt1InitP = []uint8{
		154, 196, 196, 167, 154, 152, 167, 182, 182, 134, 149, 136,
		153, 121, 136, 137, 169, 194, 166, 167, 154, 167, 137, 182,
	}
	gt1InitB = []uint8{
		154, 196, 167, 167, 154, 152, 167, 182, 182, 134, 149, 136,
		153, 121, 136, 122, 169, 208, 166, 167, 154, 152, 167, 182,
	}
)

// Contexts is the probability state of every context of a slice, one
// byte per context holding state<<1 | mps. It is a value type: assigning
// it takes a snapshot.
type Contexts [NumContexts]uint8

// Init returns the context table of a slice of the given type at the
// given slice QP.
func Init(slice hevc.SliceType, qp int) Contexts {
	var c Contexts
	it := slice.InitType()
	qp = hevc.Clip3(0, 51, qp)
	for _, e := range initValues {
		for i, v := range e.vals[it] {
			c[e.off+i] = initState(v, qp)
		}
	}
	return c
}

func initState(v uint8, qp int) uint8 {
	slope := int(v>>4)*5 - 45
	offset := int(v&15)<<3 - 16
	pre := hevc.Clip3(1, 126, (slope*qp)>>4+offset)
	if pre <= 63 {
		return uint8((63 - pre) << 1)
	}
	return uint8((pre-64)<<1 | 1)
}

// Snapshot returns a copy of the table.
func (c *Contexts) Snapshot() Contexts { return *c }

// Restore overwrites the whole table with s.
func (c *Contexts) Restore(s *Contexts) { *c = *s }

// RestoreFrom overwrites the contexts from index off onward with the
// values in s. Use CoeffOffset when only residual coding can have changed
// the table.
func (c *Contexts) RestoreFrom(s *Contexts, off int) {
	hevc.Assert(off >= 0 && off < NumContexts, "cabac: context offset %d out of range", off)
	copy(c[off:], s[off:])
}

// State returns the context byte at idx.
func (c *Contexts) State(idx int) uint8 {
	hevc.Assert(idx >= 0 && idx < NumContexts, "cabac: context index %d out of range", idx)
	return c[idx]
}

// Bits returns the cost of coding bin with context idx, leaving the state
// unchanged.
func (c *Contexts) Bits(idx, bin int) uint32 {
	hevc.Assert(idx >= 0 && idx < NumContexts, "cabac: context index %d out of range", idx)
	return bin2bits[int(c[idx])^bin]
}

// Encode returns the cost of coding bin with context idx and advances the
// state.
func (c *Contexts) Encode(idx, bin int) uint32 {
	hevc.Assert(idx >= 0 && idx < NumContexts, "cabac: context index %d out of range", idx)
	s := c[idx]
	c[idx] = nextState[int(s)<<1|bin]
	return bin2bits[int(s)^bin]
}
