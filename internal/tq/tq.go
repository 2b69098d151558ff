// Package tq runs the transform, quantize, dequantize and distortion
// pipeline of one transform unit, and decides whether the unit is worth
// coding at all.
package tq

import (
	"github.com/deepteams/hevcrdo/internal/cabac"
	"github.com/deepteams/hevcrdo/internal/dsp"
	"github.com/deepteams/hevcrdo/internal/hevc"
	"github.com/deepteams/hevcrdo/internal/quant"
	"github.com/deepteams/hevcrdo/internal/rdoq"
	"github.com/deepteams/hevcrdo/internal/scan"
)

const maxCoeffs = hevc.MaxTUSize * hevc.MaxTUSize

// NoCBFCtx marks a unit whose coded block flag is inferred rather than
// coded.
const NoCBFCtx = -1

// Block is the coefficient state of one transform unit.
type Block struct {
	Log2    int
	Levels  [maxCoeffs]int16 // quantized levels, raster order
	Dequant [maxCoeffs]int16 // dequantized coefficients
	CSBF    [maxCoeffs / 16]uint8

	// Bit i is set when row (column) i holds only zero levels.
	ZeroRows, ZeroCols uint32
}

// Reset clears the levels of a 2^log2 block.
func (b *Block) Reset(log2 int) {
	n := 1 << (2 * log2)
	b.Log2 = log2
	clear(b.Levels[:n])
	clear(b.Dequant[:n])
	clear(b.CSBF[:n/16])
	b.ZeroRows, b.ZeroCols = 1<<(1<<log2)-1, 1<<(1<<log2)-1
}

func (b *Block) updateMasks() {
	n := 1 << b.Log2
	w := n >> 2
	b.ZeroRows, b.ZeroCols = 1<<n-1, 1<<n-1
	for r := range b.CSBF[:w*w] {
		b.CSBF[r] = 0
	}
	for y := 0; y < n; y++ {
		for x, l := range b.Levels[y*n : y*n+n] {
			if l == 0 {
				continue
			}
			b.ZeroRows &^= 1 << y
			b.ZeroCols &^= 1 << x
			b.CSBF[(y>>2)*w+x>>2] = 1
		}
	}
}

// Input describes one transform unit evaluation. Sample slices start at
// the unit's top-left sample.
type Input struct {
	Log2      int
	Luma      bool
	IntraMode int // luma or chroma intra mode, -1 for inter units

	Src        []byte
	SrcStride  int
	Pred       []byte
	PredStride int
	// Recon receives the reconstruction. It may be nil when only the
	// cost is wanted.
	Recon       []byte
	ReconStride int

	Skip     bool
	EarlyCBF bool

	QPDiv, QPMod int
	LambdaQ8     int64

	// Rounding is used unless AdaptRound is set, in which case the
	// factors are regenerated from ctx with AdaptLambdaMod.
	Rounding       *quant.Rounding
	AdaptRound     bool
	AdaptLambdaMod float64

	RDOQ       bool
	SignHiding bool
	ZeroCBF    bool

	SpatialSSD     bool
	NeedSpatialSSD bool
	SADCost        bool

	// NoiseStrength scales the change in AC energy added to the
	// distortion; zero disables it.
	NoiseStrength float64

	// CBFCtx is the context of the unit's coded block flag, or NoCBFCtx.
	CBFCtx int
}

// Result is the outcome of one evaluation.
type Result struct {
	Dist  int64
	Bits  uint32 // Q12, coded block flag included
	Cost  int64
	CBF   bool
	Bytes int // length of the coefficient stream

	// CBFBits is the part of Bits spent on the coded block flag.
	CBFBits uint32

	// Rejected is the cost of the coded alternative when the zero-CBF
	// test dropped it, otherwise -1.
	Rejected int64
}

// Engine holds the scratch buffers of Evaluate. The zero value is ready to
// use; an Engine must not be shared between goroutines.
type Engine struct {
	res    [maxCoeffs]int16
	coeffs [maxCoeffs]int16
	recon  [maxCoeffs]byte
	round  quant.Rounding
	opt    rdoq.Optimizer
}

// Evaluate codes one transform unit against ctx, which is advanced by the
// bins of the chosen outcome only. blk receives the levels and out the
// coefficient stream, which must hold scan.MaxStreamSize bytes.
func (e *Engine) Evaluate(in *Input, ctx *cabac.Contexts, blk *Block, out []byte) Result {
	log2 := in.Log2
	hevc.Assert(log2 >= hevc.MinTULog2 && log2 <= hevc.MaxTULog2, "tq: invalid transform size %d", 1<<max(log2, 0))
	n := 1 << log2
	blk.Reset(log2)

	if in.Skip || !in.EarlyCBF {
		e.copyPred(in)
		var d int64
		if in.SADCost {
			d = dsp.SAD(in.Src, in.SrcStride, in.Pred, in.PredStride, n, n)
		} else {
			d = dsp.SSD(in.Src, in.SrcStride, in.Pred, in.PredStride, n, n)
		}
		return Result{Dist: d, Cost: d, Rejected: -1}
	}

	intraDST := in.Luma && in.IntraMode >= 0 && log2 == 2
	dsp.Residual(in.Src, in.SrcStride, in.Pred, in.PredStride, n, e.res[:])
	dsp.Forward(log2, intraDST, e.res[:], e.coeffs[:])

	round := in.Rounding
	if in.AdaptRound {
		hevc.Assert(!in.RDOQ, "tq: coefficient RDOQ combined with TU-level rounding")
		quant.GenRounding(&e.round, ctx, log2, in.Luma, in.AdaptLambdaMod)
		round = &e.round
	}
	nz := quant.Quantize(blk.Levels[:], e.coeffs[:], log2, in.QPDiv, in.QPMod, round)

	scanIdx := scan.ScanIdx(log2, in.IntraMode, in.Luma)
	cbf := nz > 0
	if cbf && (in.RDOQ || in.SignHiding) {
		p := rdoq.Params{
			Log2:       log2,
			ScanIdx:    scanIdx,
			Luma:       in.Luma,
			QPDiv:      in.QPDiv,
			QPMod:      in.QPMod,
			LambdaQ8:   in.LambdaQ8,
			Coeffs:     e.coeffs[:],
			Levels:     blk.Levels[:],
			CSBF:       blk.CSBF[:],
			TURounding: in.AdaptRound,
		}
		if in.RDOQ {
			cbf = e.opt.Optimize(&p, ctx)
		}
		if cbf && in.SignHiding {
			cbf = rdoq.HideSigns(&p)
		}
	}

	saved := *ctx
	zero := e.zeroCost(in, &saved)
	if !cbf {
		return e.commitZero(in, ctx, &saved, blk, zero, -1)
	}

	blk.updateMasks()
	quant.Dequantize(blk.Dequant[:], blk.Levels[:], log2, in.QPDiv, in.QPMod)

	var cbfBits uint32
	if in.CBFCtx != NoCBFCtx {
		cbfBits = ctx.Encode(in.CBFCtx, 1)
	}
	bits := cbfBits
	size := scan.Serialize(out, blk.Levels[:], log2, scanIdx, blk.CSBF[:])
	rb, err := ctx.ResidueBits(out[:size], log2, in.Luma, in.SignHiding)
	hevc.Assert(err == nil, "tq: unreadable coefficient stream: %v", err)
	bits += rb

	recon, reconStride := in.Recon, in.ReconStride
	if recon == nil {
		recon, reconStride = e.recon[:], n
	}
	needRecon := in.Recon != nil || in.SpatialSSD || in.NeedSpatialSSD || in.NoiseStrength > 0
	if needRecon {
		dsp.Inverse(log2, intraDST, blk.Dequant[:], e.res[:])
		dsp.Reconstruct(in.Pred, in.PredStride, e.res[:], n, recon, reconStride)
	}

	var dist int64
	if in.SpatialSSD {
		dist = dsp.SSD(in.Src, in.SrcStride, recon, reconStride, n, n)
	} else {
		dist = dsp.SSDCoeffs(e.coeffs[:n*n], blk.Dequant[:n*n]) >> (2 * quant.TransformShift(log2))
	}
	if in.NoiseStrength > 0 {
		dist += noise(in, recon, reconStride)
	}
	cost := dist + quant.RateCost(bits, in.LambdaQ8)

	if in.ZeroCBF && in.CBFCtx != NoCBFCtx && zero.cost <= cost {
		return e.commitZero(in, ctx, &saved, blk, zero, cost)
	}

	if !in.SpatialSSD && in.NeedSpatialSSD {
		dist = dsp.SSD(in.Src, in.SrcStride, recon, reconStride, n, n)
		if in.NoiseStrength > 0 {
			dist += noise(in, recon, reconStride)
		}
		cost = dist + quant.RateCost(bits, in.LambdaQ8)
	}
	return Result{Dist: dist, Bits: bits, CBFBits: cbfBits, Cost: cost, CBF: true, Bytes: size, Rejected: -1}
}

type zeroOutcome struct {
	dist int64
	bits uint32
	cost int64
}

// zeroCost prices the unit coded with CBF=0, in the distortion domain the
// coded outcome uses.
func (e *Engine) zeroCost(in *Input, ctx *cabac.Contexts) zeroOutcome {
	n := 1 << in.Log2
	var z zeroOutcome
	if in.SpatialSSD {
		z.dist = dsp.SSD(in.Src, in.SrcStride, in.Pred, in.PredStride, n, n)
	} else {
		var sum int64
		for _, c := range e.coeffs[:n*n] {
			sum += int64(c) * int64(c)
		}
		z.dist = sum >> (2 * quant.TransformShift(in.Log2))
	}
	if in.NoiseStrength > 0 {
		z.dist += noise(in, in.Pred, in.PredStride)
	}
	if in.CBFCtx != NoCBFCtx {
		z.bits = ctx.Bits(in.CBFCtx, 0)
	}
	z.cost = z.dist + quant.RateCost(z.bits, in.LambdaQ8)
	return z
}

func (e *Engine) commitZero(in *Input, ctx, saved *cabac.Contexts, blk *Block, z zeroOutcome, rejected int64) Result {
	*ctx = *saved
	if in.CBFCtx != NoCBFCtx {
		ctx.Encode(in.CBFCtx, 0)
	}
	blk.Reset(in.Log2)
	e.copyPred(in)
	if !in.SpatialSSD && in.NeedSpatialSSD {
		n := 1 << in.Log2
		z.dist = dsp.SSD(in.Src, in.SrcStride, in.Pred, in.PredStride, n, n)
		if in.NoiseStrength > 0 {
			z.dist += noise(in, in.Pred, in.PredStride)
		}
		z.cost = z.dist + quant.RateCost(z.bits, in.LambdaQ8)
	}
	return Result{Dist: z.dist, Bits: z.bits, CBFBits: z.bits, Cost: z.cost, Rejected: rejected}
}

func (e *Engine) copyPred(in *Input) {
	if in.Recon != nil {
		n := 1 << in.Log2
		hevc.CopyRect(in.Recon, in.ReconStride, in.Pred, in.PredStride, n, n)
	}
}

// noise is the psycho-visual term: the change of AC energy between the
// source and a candidate reconstruction.
func noise(in *Input, rec []byte, stride int) int64 {
	n := 1 << in.Log2
	d := dsp.ACEnergy(in.Src, in.SrcStride, n, n) - dsp.ACEnergy(rec, stride, n, n)
	if d < 0 {
		d = -d
	}
	return int64(in.NoiseStrength * float64(d))
}
