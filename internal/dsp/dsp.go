// Package dsp provides the transform and distortion kernels of the coding
// loop. Kernels are reached through function variables so that Init can
// select the best implementation for the running CPU.
package dsp

import "github.com/deepteams/hevcrdo/internal/hevc"

// BlockFunc measures a w×h distortion between two sample blocks.
type BlockFunc func(a []byte, aStride int, b []byte, bStride int, w, h int) int64

// TransformFunc maps an n×n int16 block (stride n) to another.
type TransformFunc func(src, dst []int16)

// Transform function variables for dispatch, indexed by log2(size)-2.
var (
	FTransform    [4]TransformFunc
	ITransform    [4]TransformFunc
	FTransformDST TransformFunc
	ITransformDST TransformFunc
)

// Distortion function variables.
var (
	SSD       BlockFunc
	SAD       BlockFunc
	SATD      BlockFunc
	SSDCoeffs func(a, b []int16) int64
)

// Init initialises all function pointers. The pure-Go reference kernels
// are installed first, then replaced by the wide variants when the CPU
// reports support for them.
func Init() {
	initDCTMatrix()

	FTransform = [4]TransformFunc{fTransform4, fTransform8, fTransform16, fTransform32}
	ITransform = [4]TransformFunc{iTransform4, iTransform8, iTransform16, iTransform32}
	FTransformDST = fTransformDST
	ITransformDST = iTransformDST

	SSD = ssdGo
	SAD = sadGo
	SATD = satdGo
	SSDCoeffs = ssdCoeffsGo

	if useWideKernels() {
		SSD = ssdWide
		SAD = sadWide
	}
}

// Forward runs the forward transform for a log2 size, selecting the DST
// for 4x4 intra luma.
func Forward(log2 int, dst bool, src, out []int16) {
	hevc.Assert(log2 >= hevc.MinTULog2 && log2 <= hevc.MaxTULog2, "dsp: invalid transform size %d", 1<<log2)
	if dst && log2 == 2 {
		FTransformDST(src, out)
		return
	}
	FTransform[log2-2](src, out)
}

// Inverse runs the inverse transform matching Forward.
func Inverse(log2 int, dst bool, src, out []int16) {
	hevc.Assert(log2 >= hevc.MinTULog2 && log2 <= hevc.MaxTULog2, "dsp: invalid transform size %d", 1<<log2)
	if dst && log2 == 2 {
		ITransformDST(src, out)
		return
	}
	ITransform[log2-2](src, out)
}

func init() {
	Init()
}
