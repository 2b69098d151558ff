// Package quant maps quantization parameters to quantizer scales,
// rounding factors, chroma QPs and Lagrangian multipliers.
//
// A Context is built once per picture and is read-only afterwards, so it
// can be shared by every worker of the picture.
package quant

import (
	"math"

	"github.com/deepteams/hevcrdo/internal/hevc"
)

// Recipe selects how lambda accounts for the sample bit depth.
type Recipe int

const (
	// RecipeBase ignores the bit depth.
	RecipeBase Recipe = iota
	// RecipeBitDepth offsets the QP by 6*(bitDepth-8).
	RecipeBitDepth
	// RecipeBitDepth8 is RecipeBitDepth plus an 8-bit-domain lambda for
	// distortions measured on 8-bit samples.
	RecipeBitDepth8

	NumRecipes
)

// Lambda modifiers.
const (
	constLambdaMod = 0.85
	pSliceMod      = 0.4624
	bSliceMod      = 0.4624
	bLayerMod      = 0.68
	satdGain       = 1.9
)

// QpC for QpY+offset in [30, 43], 4:2:0.
var chromaQPTable = [14]uint8{29, 30, 31, 32, 33, 33, 34, 34, 35, 35, 36, 36, 37, 37}

// Params configures a Context.
type Params struct {
	MinQP, MaxQP int
	BitDepth     int
	ChromaFormat hevc.ChromaFormat

	SliceType     hevc.SliceType
	TemporalLayer int
	NumBFrames    int // B frames between anchors, tunes the I-slice modifier

	ConstLambdaMod bool
	Recipe         Recipe

	CbQPOffset, CrQPOffset int

	// IntraRoundOnAllSlices keeps the intra rounding factor (1/3) for intra
	// CUs of P and B slices instead of degrading it to the inter one.
	IntraRoundOnAllSlices bool
}

// Lambda holds the multipliers of one QP for one recipe. The Q8 fields
// are the float values times 2^8, truncated.
type Lambda struct {
	SSD, SATD     float64
	SSDQ8, SATDQ8 int64

	ChromaSSD   float64
	ChromaSSDQ8 int64

	// SSD8 is the 8-bit-domain lambda of RecipeBitDepth8, zero otherwise.
	SSD8   float64
	SSD8Q8 int64
}

// Entry is the cached derivation of one QP.
type Entry struct {
	QP, QPDiv, QPMod int

	ChromaQP [2]int // Cb, Cr

	RoundIntra, RoundInter int32 // Q14

	Lambdas [NumRecipes]Lambda

	recipe Recipe
}

// Lambda returns the multipliers of the configured recipe.
func (e *Entry) Lambda() *Lambda { return &e.Lambdas[e.recipe] }

// Round returns the fixed rounding factor for an intra or inter CU.
func (e *Entry) Round(intra bool) int32 {
	if intra {
		return e.RoundIntra
	}
	return e.RoundInter
}

// Context caches an Entry per QP in [MinQP, MaxQP].
type Context struct {
	p       Params
	entries []Entry
}

// NewContext derives every entry for p.
func NewContext(p Params) *Context {
	hevc.Assert(p.MinQP <= p.MaxQP, "quant: min QP %d above max QP %d", p.MinQP, p.MaxQP)
	hevc.Assert(p.Recipe >= 0 && p.Recipe < NumRecipes, "quant: unknown lambda recipe %d", p.Recipe)
	if p.BitDepth == 0 {
		p.BitDepth = hevc.BitDepth
	}
	c := &Context{p: p, entries: make([]Entry, p.MaxQP-p.MinQP+1)}
	for i := range c.entries {
		c.fill(&c.entries[i], p.MinQP+i)
	}
	return c
}

// Params returns the parameters the context was built from.
func (c *Context) Params() Params { return c.p }

// At returns the entry of qp, clipped to the configured range.
func (c *Context) At(qp int) *Entry {
	qp = hevc.Clip3(c.p.MinQP, c.p.MaxQP, qp)
	return &c.entries[qp-c.p.MinQP]
}

func (c *Context) fill(e *Entry, qp int) {
	p := &c.p
	e.QP = qp
	e.QPDiv, e.QPMod = qp/6, qp%6
	e.recipe = p.Recipe
	e.ChromaQP[0] = ChromaQP(qp, p.CbQPOffset, p.ChromaFormat)
	e.ChromaQP[1] = ChromaQP(qp, p.CrQPOffset, p.ChromaFormat)

	e.RoundInter = 1 << hevc.RoundFactorQ / 6
	e.RoundIntra = e.RoundInter
	if p.SliceType == hevc.SliceI || p.IntraRoundOnAllSlices {
		e.RoundIntra = 1 << hevc.RoundFactorQ / 3
	}

	bdOffset := 6 * (p.BitDepth - 8)
	for r := Recipe(0); r < NumRecipes; r++ {
		l := &e.Lambdas[r]
		off := 0
		if r != RecipeBase {
			off = bdOffset
		}
		l.SSD = p.lambda(qp, off)
		if p.ConstLambdaMod {
			l.SATD = math.Sqrt(l.SSD)
		} else {
			l.SATD = math.Sqrt(l.SSD * satdGain)
		}
		l.ChromaSSD = l.SSD * math.Pow(2, float64(e.ChromaQP[0]-qp)/3)
		if r == RecipeBitDepth8 {
			l.SSD8 = p.lambda(qp, 0)
			l.SSD8Q8 = toQ8(l.SSD8)
		}
		l.SSDQ8 = toQ8(l.SSD)
		l.SATDQ8 = toQ8(l.SATD)
		l.ChromaSSDQ8 = toQ8(l.ChromaSSD)
	}
}

func toQ8(v float64) int64 { return int64(v * (1 << hevc.LambdaQShift)) }

func (p *Params) lambda(qp, bdOffset int) float64 {
	return math.Pow(2, float64(qp+bdOffset-12)/3) * p.Modifier(qp)
}

func (p *Params) iSliceModifier() float64 {
	return 0.57 * math.Max(0.5, 1-0.05*float64(p.NumBFrames))
}

// Modifier returns the lambda modifier applied at qp.
func (p *Params) Modifier(qp int) float64 {
	var m float64
	switch p.SliceType {
	case hevc.SliceI:
		m = p.iSliceModifier()
	case hevc.SliceP:
		m = pSliceMod
	default:
		m = bSliceMod
		if p.TemporalLayer > 0 {
			m = bLayerMod
		}
	}
	if p.SliceType == hevc.SliceB && p.TemporalLayer > 0 {
		m *= clipF(float64(qp-12)/6, 2, 4)
	}
	if p.ConstLambdaMod {
		if p.SliceType == hevc.SliceI {
			m = p.iSliceModifier()
		} else {
			m = constLambdaMod
		}
	}
	return m
}

func clipF(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// ChromaQP maps a luma QP and a chroma offset to the chroma QP. 4:2:2
// clips directly; 4:2:0 goes through the QpC table.
func ChromaQP(qp, offset int, format hevc.ChromaFormat) int {
	q := qp + offset
	if format == hevc.Chroma422 {
		return hevc.Clip3(hevc.MinQP, hevc.MaxQP, q)
	}
	q = hevc.Clip3(0, 57, q)
	switch {
	case q < 30:
		return q
	case q > 43:
		return q - 6
	}
	return int(chromaQPTable[q-30])
}

// RateCost converts Q12 bits into cost units with a Q8 lambda.
func RateCost(bits uint32, lambdaQ8 int64) int64 {
	return (int64(bits)*lambdaQ8 + 1<<19) >> 20
}
