// Package rdo is the coding-unit mode decision: it evaluates intra and
// inter candidates through the transform pipeline, prices them with the
// live CABAC contexts, keeps the cheapest and commits it.
package rdo

import "github.com/deepteams/hevcrdo/internal/hevc"

// RDOQLevel selects where coefficient RDOQ runs.
type RDOQLevel int

const (
	RDOQOff RDOQLevel = iota
	// RDOQCU re-codes the winning candidate of each CU with RDOQ.
	RDOQCU
	// RDOQTU runs RDOQ on every transform unit of every candidate.
	RDOQTU
)

// RoundingLevel selects the quantizer rounding policy.
type RoundingLevel int

const (
	// RoundFixed uses the QP's intra or inter factor everywhere.
	RoundFixed RoundingLevel = iota
	// RoundCU derives per-position factors from the contexts at CU start.
	RoundCU
	// RoundTU re-derives them from the live contexts for every transform
	// unit after the first one of the CU.
	RoundTU
)

// Config is the immutable tool configuration of a Selector.
type Config struct {
	Preset int // 0 (slowest) to 6 (fastest)

	SliceType    hevc.SliceType
	ChromaFormat hevc.ChromaFormat

	// MinCULog2 is the log2 of the smallest CU the picture is split
	// into, where part_mode is coded and NxN is allowed. 0 selects 8x8.
	MinCULog2 int

	RDOQ          RDOQLevel
	SignHiding    bool
	ZeroCBF       bool
	ChromaRDO     bool
	QuantRounding RoundingLevel

	// MaxInterTUDepth bounds the transform tree of inter CUs below the
	// CU, a 64 CU's forced split included.
	MaxInterTUDepth int

	NoisePreserve bool
	NoiseStrength float64

	// SpatialSSD measures distortion on reconstructed samples instead of
	// in the transform domain.
	SpatialSSD bool

	// CUQPDelta codes cu_qp_delta in the first coded transform unit.
	CUQPDelta bool

	// SearchRange is the full-sample motion search range.
	SearchRange int
}

func (c *Config) minCULog2() int {
	if c.MinCULog2 == 0 {
		return hevc.MinCULog2
	}
	return c.MinCULog2
}

// Preset-derived limits.

func (c *Config) intraCandidates() int {
	return [...]int{8, 6, 4, 3, 2, 2, 1}[hevc.Clip3(0, 6, c.Preset)]
}

func (c *Config) tryIntraTUSplit() bool { return c.Preset <= 2 }

func (c *Config) tryNxN() bool { return c.Preset <= 5 }

func (c *Config) mpmGating() bool { return c.Preset >= 4 }

func (c *Config) amp() bool { return c.Preset <= 2 }

func (c *Config) tryRectParts() bool { return c.Preset <= 4 }

func (c *Config) noiseStrength() float64 {
	if !c.NoisePreserve {
		return 0
	}
	return c.NoiseStrength
}
