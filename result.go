package hevcrdo

import (
	"math"

	"github.com/deepteams/hevcrdo/internal/cabac"
	"github.com/deepteams/hevcrdo/internal/dsp"
	"github.com/deepteams/hevcrdo/internal/hevc"
	"github.com/deepteams/hevcrdo/internal/rdo"
)

// Decision is the committed outcome of one CU: its partitioning, the data
// of every prediction unit and the transform units with their
// coefficient streams.
type Decision = rdo.Decision

// PU is the prediction data of one prediction unit.
type PU = rdo.PU

// TU is one coded transform block of a Decision.
type TU = rdo.TU

// Bits is the estimated bit count of one CU, in Q12.
type Bits = rdo.Bits

// Contexts is the state of every CABAC context.
type Contexts = cabac.Contexts

// Prediction and partition modes of a Decision.
type (
	PredMode = hevc.PredMode
	PartMode = hevc.PartMode
	MV       = hevc.MV
)

const (
	PredIntra = hevc.PredIntra
	PredInter = hevc.PredInter
	PredSkip  = hevc.PredSkip
)

// FracBits is the fixed-point precision of bit estimates.
const FracBits = hevc.FracBitsQ

// BitTotals sums the bit estimates of a picture, in Q12.
type BitTotals struct {
	Header   uint64
	CBF      uint64
	Residual uint64
}

func (t *BitTotals) add(b Bits) {
	t.Header += uint64(b.Header)
	t.CBF += uint64(b.CBF)
	t.Residual += uint64(b.Residual)
}

// Total returns the sum of the three parts.
func (t BitTotals) Total() uint64 { return t.Header + t.CBF + t.Residual }

// Result is the outcome of one picture.
type Result struct {
	Width, Height int
	CTBSize       int

	// CUs lists the decisions in CTB raster order, in z-order inside a
	// CTB.
	CUs []*Decision

	Recon *Picture

	Bits BitTotals
	Dist int64 // SSD of Recon against the source, all planes
	// Cost is the rate-distortion cost of the picture, split_cu_flag
	// included.
	Cost int64

	// RowContexts holds the contexts after the last CTB of each row.
	RowContexts []Contexts
}

// Stats counts the decisions of a picture.
type Stats struct {
	CUs, Intra, Inter, Skip int
	Split                   [hevc.MaxCULog2 + 1]int // CUs per log2 size
	TUs, CodedTUs           int
	StreamBytes             int
}

// Stats returns the decision counts of r.
func (r *Result) Stats() Stats {
	var s Stats
	for _, d := range r.CUs {
		s.CUs++
		switch d.Pred {
		case PredIntra:
			s.Intra++
		case PredInter:
			s.Inter++
		case PredSkip:
			s.Skip++
		}
		s.Split[d.Log2]++
		s.TUs += len(d.TUs)
		for _, tu := range d.TUs {
			if tu.CBF {
				s.CodedTUs++
			}
		}
		s.StreamBytes += len(d.Stream)
	}
	return s
}

// PSNR returns the peak signal-to-noise ratio of plane b against a, in
// dB. Identical planes return +Inf.
func PSNR(a, b *Plane) float64 {
	sse := dsp.SSD(a.Pix, a.Stride, b.Pix, b.Stride, a.Width, a.Height)
	if sse == 0 {
		return math.Inf(1)
	}
	n := float64(a.Width * a.Height)
	return 10 * math.Log10(255*255*n/float64(sse))
}
