package hevcrdo

import (
	"errors"
	"fmt"

	"github.com/deepteams/hevcrdo/internal/hevc"
	"github.com/deepteams/hevcrdo/internal/quant"
	"github.com/deepteams/hevcrdo/internal/rdo"
)

// SliceType is the coding type of the picture.
type SliceType = hevc.SliceType

const (
	SliceI = hevc.SliceI
	SliceP = hevc.SliceP
	SliceB = hevc.SliceB
)

// ChromaFormat is the chroma subsampling of the picture.
type ChromaFormat = hevc.ChromaFormat

const (
	Chroma420 = hevc.Chroma420
	Chroma422 = hevc.Chroma422
)

// RDOQLevel selects where coefficient RDOQ runs.
type RDOQLevel = rdo.RDOQLevel

const (
	RDOQOff = rdo.RDOQOff
	RDOQCU  = rdo.RDOQCU
	RDOQTU  = rdo.RDOQTU
)

// RoundingLevel selects the quantizer rounding policy.
type RoundingLevel = rdo.RoundingLevel

const (
	RoundFixed = rdo.RoundFixed
	RoundCU    = rdo.RoundCU
	RoundTU    = rdo.RoundTU
)

// LambdaRecipe selects how lambda accounts for the sample bit depth.
type LambdaRecipe = quant.Recipe

const (
	RecipeBase      = quant.RecipeBase
	RecipeBitDepth  = quant.RecipeBitDepth
	RecipeBitDepth8 = quant.RecipeBitDepth8
)

// Preset limits.
const (
	PresetSlowest = 0
	PresetFastest = 6
)

// Errors returned by option validation and Encode.
var (
	ErrInvalidPreset       = errors.New("hevcrdo: invalid preset")
	ErrInvalidQP           = errors.New("hevcrdo: invalid QP")
	ErrUnsupportedBitDepth = errors.New("hevcrdo: unsupported bit depth")
	ErrInvalidChromaFormat = errors.New("hevcrdo: invalid chroma format")
	ErrInvalidSliceType    = errors.New("hevcrdo: invalid slice type")
	ErrInvalidCTBSize      = errors.New("hevcrdo: invalid CTB size")
	ErrInvalidMinCUSize    = errors.New("hevcrdo: invalid minimum CU size")
	ErrInvalidTUDepth      = errors.New("hevcrdo: invalid inter TU depth")
	ErrRDOQWithTURounding  = errors.New("hevcrdo: RDOQ cannot be combined with TU-level rounding")
	ErrInvalidNoise        = errors.New("hevcrdo: invalid noise strength")
	ErrInvalidOption       = errors.New("hevcrdo: invalid option")
	ErrInvalidPicture      = errors.New("hevcrdo: invalid picture")
)

// Options controls the mode decision.
type Options struct {
	// Preset trades speed for compression, 0 (slowest) to 6 (fastest). It
	// bounds the intra shortlist, the TU depths tried, NxN, AMP and the
	// rectangular inter partitions.
	Preset int

	// QP is the luma quantization parameter of every CU (0-51).
	QP int

	// BitDepth must be 8 or 0 (treated as 8).
	BitDepth int

	ChromaFormat ChromaFormat
	SliceType    SliceType

	// TemporalLayer and NumBFrames tune the lambda modifier of B and I
	// slices.
	TemporalLayer int
	NumBFrames    int

	Recipe              LambdaRecipe
	ConstLambdaModifier bool
	CbQPOffset          int
	CrQPOffset          int

	RDOQ          RDOQLevel
	SignHiding    bool
	ZeroCBF       bool
	ChromaRDO     bool
	QuantRounding RoundingLevel

	// MaxInterTUDepth bounds the inter transform tree below the CU (0-3).
	// Negative selects the preset default.
	MaxInterTUDepth int

	// NoisePreserve adds a term penalizing loss of source texture,
	// weighted by NoiseStrength (0-1).
	NoisePreserve bool
	NoiseStrength float64

	// SpatialSSD measures distortion on reconstructed samples instead of
	// in the transform domain.
	SpatialSSD bool

	// CUQPDelta estimates cu_qp_delta bits for coded CUs.
	CUQPDelta bool

	// CTBSize is 16, 32 or 64 (0 selects 64). MinCUSize is 8 up to
	// CTBSize (0 selects 8).
	CTBSize   int
	MinCUSize int

	// SearchRange is the full-sample motion search range in luma samples
	// (1-64). Zero or negative selects the preset default.
	SearchRange int

	// Workers bounds the CTB rows decided in parallel. 0 uses GOMAXPROCS.
	Workers int
}

// DefaultOptions returns preset 3 at QP 32 for an I picture in 4:2:0.
// Sentinel values (-1) select the preset defaults.
func DefaultOptions() *Options {
	return &Options{
		Preset:          3,
		QP:              32,
		ChromaFormat:    Chroma420,
		SliceType:       SliceI,
		SignHiding:      true,
		ZeroCBF:         true,
		RDOQ:            RDOQCU,
		QuantRounding:   RoundCU,
		MaxInterTUDepth: -1, // sentinel: preset default
		SearchRange:     -1, // sentinel: preset default
	}
}

// OptionsForPreset returns the tool set of a preset: RDOQ on every TU and
// chroma RDO at the slowest presets, CU-level RDOQ in the middle, and
// fixed rounding without RDOQ at the fastest.
func OptionsForPreset(preset int) *Options {
	opts := DefaultOptions()
	opts.Preset = preset
	switch {
	case preset <= 1:
		opts.RDOQ = RDOQTU
		opts.QuantRounding = RoundFixed
		opts.ChromaRDO = true
	case preset == 2:
		opts.RDOQ = RDOQCU
		opts.ChromaRDO = true
	case preset == 3:
		// defaults
	case preset == 4:
		opts.RDOQ = RDOQOff
		opts.QuantRounding = RoundTU
	case preset == 5:
		opts.RDOQ = RDOQOff
	default:
		opts.RDOQ = RDOQOff
		opts.QuantRounding = RoundFixed
	}
	return opts
}

// resolveInterTUDepth returns the effective inter TU depth.
func resolveInterTUDepth(v, preset int) int {
	if v >= 0 {
		return v
	}
	switch {
	case preset <= 1:
		return 2
	case preset <= 4:
		return 1
	}
	return 0
}

// resolveSearchRange returns the effective motion search range.
func resolveSearchRange(v, preset int) int {
	if v > 0 {
		return v
	}
	switch {
	case preset <= 1:
		return 32
	case preset <= 3:
		return 16
	}
	return 8
}

func resolveCTBSize(v int) int {
	if v == 0 {
		return hevc.MaxCUSize
	}
	return v
}

func resolveMinCUSize(v int) int {
	if v == 0 {
		return 1 << hevc.MinCULog2
	}
	return v
}

func isPow2(v int) bool { return v > 0 && v&(v-1) == 0 }

// validateOptions returns an error describing the first invalid field, or
// nil if the options are valid.
func validateOptions(opts *Options) error {
	if opts.Preset < PresetSlowest || opts.Preset > PresetFastest {
		return fmt.Errorf("%w %d (must be %d-%d)", ErrInvalidPreset, opts.Preset, PresetSlowest, PresetFastest)
	}
	if opts.QP < hevc.MinQP || opts.QP > hevc.MaxQP {
		return fmt.Errorf("%w %d (must be %d-%d)", ErrInvalidQP, opts.QP, hevc.MinQP, hevc.MaxQP)
	}
	if opts.BitDepth != 0 && opts.BitDepth != hevc.BitDepth {
		return fmt.Errorf("%w %d (must be 8)", ErrUnsupportedBitDepth, opts.BitDepth)
	}
	if opts.ChromaFormat != Chroma420 && opts.ChromaFormat != Chroma422 {
		return fmt.Errorf("%w %d", ErrInvalidChromaFormat, opts.ChromaFormat)
	}
	if opts.SliceType < SliceI || opts.SliceType > SliceB {
		return fmt.Errorf("%w %d", ErrInvalidSliceType, opts.SliceType)
	}
	if opts.TemporalLayer < 0 || opts.NumBFrames < 0 {
		return fmt.Errorf("%w: TemporalLayer %d, NumBFrames %d (must be >= 0)", ErrInvalidOption, opts.TemporalLayer, opts.NumBFrames)
	}
	if opts.Recipe < RecipeBase || opts.Recipe >= quant.NumRecipes {
		return fmt.Errorf("%w: Recipe %d", ErrInvalidOption, opts.Recipe)
	}
	if opts.CbQPOffset < -12 || opts.CbQPOffset > 12 || opts.CrQPOffset < -12 || opts.CrQPOffset > 12 {
		return fmt.Errorf("%w: chroma QP offsets %d/%d (must be -12-12)", ErrInvalidOption, opts.CbQPOffset, opts.CrQPOffset)
	}
	if opts.RDOQ < RDOQOff || opts.RDOQ > RDOQTU {
		return fmt.Errorf("%w: RDOQ %d", ErrInvalidOption, opts.RDOQ)
	}
	if opts.QuantRounding < RoundFixed || opts.QuantRounding > RoundTU {
		return fmt.Errorf("%w: QuantRounding %d", ErrInvalidOption, opts.QuantRounding)
	}
	if opts.RDOQ != RDOQOff && opts.QuantRounding == RoundTU {
		return ErrRDOQWithTURounding
	}
	if opts.MaxInterTUDepth > 3 {
		return fmt.Errorf("%w %d (must be 0-3 or negative for default)", ErrInvalidTUDepth, opts.MaxInterTUDepth)
	}
	if opts.NoiseStrength < 0 || opts.NoiseStrength > 1 {
		return fmt.Errorf("%w %.2f (must be 0-1)", ErrInvalidNoise, opts.NoiseStrength)
	}
	ctb := resolveCTBSize(opts.CTBSize)
	if !isPow2(ctb) || ctb < 16 || ctb > hevc.MaxCUSize {
		return fmt.Errorf("%w %d (must be 16, 32 or 64)", ErrInvalidCTBSize, opts.CTBSize)
	}
	minCU := resolveMinCUSize(opts.MinCUSize)
	if !isPow2(minCU) || minCU < 1<<hevc.MinCULog2 || minCU > ctb {
		return fmt.Errorf("%w %d (must be a power of two in 8-%d)", ErrInvalidMinCUSize, opts.MinCUSize, ctb)
	}
	if opts.SearchRange > 64 {
		return fmt.Errorf("%w: SearchRange %d (must be 1-64 or negative for default)", ErrInvalidOption, opts.SearchRange)
	}
	if opts.Workers < 0 {
		return fmt.Errorf("%w: Workers %d (must be >= 0)", ErrInvalidOption, opts.Workers)
	}
	return nil
}
