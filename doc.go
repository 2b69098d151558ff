// Package hevcrdo is a pure Go rate-distortion-optimized mode decision
// engine for HEVC encoders.
//
// For every coding unit of a picture the engine evaluates intra and inter
// candidates and transform-unit partitionings through the transform,
// quantization and RDOQ pipeline, prices each one with live CABAC context
// estimates, and commits the candidate minimizing distortion + lambda *
// bits. The outcome of a picture is the CU/TU decision tree, the
// serialized coefficients of every transform unit, the reconstruction and
// the final entropy context state of every CTB row.
//
// The package supports:
//   - 8-bit 4:2:0 and 4:2:2 pictures
//   - CTB sizes 16, 32 and 64, CU sizes down to 8x8, TU sizes 4x4 to 32x32
//   - intra planar, DC and angular candidates with MPM signalling
//   - inter merge, skip and full-sample motion search against one reference
//   - coefficient RDOQ, sign bit hiding and zero-CBF decisions
//   - presets 0 (slowest) to 6 (fastest)
//   - CTB rows decided in parallel with wavefront context hand-off
//
// It does not write a bitstream: bit counts are estimates, and the
// coefficient streams use the engine's own byte layout.
//
// Basic usage:
//
//	src := hevcrdo.NewPicture(1920, 1080, hevcrdo.Chroma420)
//	// fill src.Y, src.Cb and src.Cr
//	res, err := hevcrdo.Encode(ctx, src, nil, hevcrdo.OptionsForPreset(3))
package hevcrdo
