// Package hevc holds the enums, limits and fixed-point constants shared by
// the mode-decision packages.
package hevc

// Fixed-point precisions.
const (
	QuantShift        = 14 // forward quantizer scale precision
	MaxTrDynamicRange = 15 // transform coefficient dynamic range
	RoundFactorQ      = 14 // precision of quantizer rounding factors
	LambdaQShift      = 8  // precision of fixed-point lambdas
	FracBitsQ         = 12 // precision of estimated CABAC bits
)

// BitDepth is the sample bit depth of every buffer the engine touches.
const BitDepth = 8

// Block size limits, as log2 of the edge length.
const (
	MinTULog2 = 2
	MaxTULog2 = 5
	MinCULog2 = 3
	MaxCULog2 = 6

	MaxTUSize = 1 << MaxTULog2
	MaxCUSize = 1 << MaxCULog2
)

// QP limits for 8-bit video.
const (
	MinQP = 0
	MaxQP = 51
)

// Intra prediction modes.
const (
	ModePlanar     = 0
	ModeDC         = 1
	ModeHorizontal = 10
	ModeVertical   = 26
	NumIntraModes  = 35

	// ChromaDM is intra_chroma_pred_mode 4: chroma reuses the luma mode.
	ChromaDM = 4
)

// MaxMergeCand is the merge list length signalled by the slice header.
const MaxMergeCand = 5

// SliceType is the coding type of a slice.
type SliceType int

const (
	SliceI SliceType = iota
	SliceP
	SliceB
)

// InitType returns the CABAC initialization table index for the slice.
func (s SliceType) InitType() int {
	switch s {
	case SliceP:
		return 1
	case SliceB:
		return 2
	}
	return 0
}

func (s SliceType) String() string {
	switch s {
	case SliceI:
		return "I"
	case SliceP:
		return "P"
	case SliceB:
		return "B"
	}
	return "?"
}

// ChromaFormat is the chroma subsampling of the picture.
type ChromaFormat int

const (
	Chroma420 ChromaFormat = iota
	Chroma422
)

// ShiftX returns the horizontal chroma subsampling shift.
func (c ChromaFormat) ShiftX() int { return 1 }

// ShiftY returns the vertical chroma subsampling shift.
func (c ChromaFormat) ShiftY() int {
	if c == Chroma422 {
		return 0
	}
	return 1
}

func (c ChromaFormat) String() string {
	if c == Chroma422 {
		return "4:2:2"
	}
	return "4:2:0"
}

// PredMode is the prediction mode of a coding unit.
type PredMode uint8

const (
	PredIntra PredMode = iota
	PredInter
	PredSkip
)

func (p PredMode) String() string {
	switch p {
	case PredIntra:
		return "intra"
	case PredInter:
		return "inter"
	case PredSkip:
		return "skip"
	}
	return "?"
}

// PartMode is the prediction partitioning of a coding unit, in the order
// of the part_mode syntax element.
type PartMode uint8

const (
	Part2Nx2N PartMode = iota
	Part2NxN
	PartNx2N
	PartNxN
	Part2NxnU
	Part2NxnD
	PartnLx2N
	PartnRx2N
)

var partNames = [...]string{"2Nx2N", "2NxN", "Nx2N", "NxN", "2NxnU", "2NxnD", "nLx2N", "nRx2N"}

func (p PartMode) String() string {
	if int(p) < len(partNames) {
		return partNames[p]
	}
	return "?"
}

// NumParts returns the number of prediction units of the partitioning.
func (p PartMode) NumParts() int {
	switch p {
	case Part2Nx2N:
		return 1
	case PartNxN:
		return 4
	}
	return 2
}

// IsAMP reports whether p is an asymmetric motion partition.
func (p PartMode) IsAMP() bool { return p >= Part2NxnU }

// Rect returns the offset and dimensions of prediction unit idx inside a
// CU of the given size.
func (p PartMode) Rect(idx, size int) (x, y, w, h int) {
	half, q := size/2, size/4
	switch p {
	case Part2NxN:
		return 0, idx * half, size, half
	case PartNx2N:
		return idx * half, 0, half, size
	case PartNxN:
		return (idx & 1) * half, (idx >> 1) * half, half, half
	case Part2NxnU:
		if idx == 0 {
			return 0, 0, size, q
		}
		return 0, q, size, size - q
	case Part2NxnD:
		if idx == 0 {
			return 0, 0, size, size - q
		}
		return 0, size - q, size, q
	case PartnLx2N:
		if idx == 0 {
			return 0, 0, q, size
		}
		return q, 0, size - q, size
	case PartnRx2N:
		if idx == 0 {
			return 0, 0, size - q, size
		}
		return size - q, 0, q, size
	}
	return 0, 0, size, size
}

// MV is a motion vector in quarter-sample units.
type MV struct {
	X, Y int16
}

// Sub returns a - b.
func (a MV) Sub(b MV) MV { return MV{a.X - b.X, a.Y - b.Y} }

// Clip3 clamps v to [lo, hi].
func Clip3(lo, hi, v int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Log2 returns floor(log2(n)) for n > 0.
func Log2(n int) int {
	l := 0
	for n > 1 {
		n >>= 1
		l++
	}
	return l
}
