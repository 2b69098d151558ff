package dsp

import "github.com/deepteams/hevcrdo/internal/hevc"

// dctMat holds the 32-point integer DCT basis. The N-point basis row k is
// row k*(32/N) of this matrix restricted to its first N columns.
var dctMat [32][32]int32

// dctOdd is the magnitude of 64*sqrt(2)*cos(m*pi/64) as fixed by the
// standard for m = 0..32. Entry 0 is never used: row 0 of every basis is
// the flat 64.
var dctOdd = [33]int32{
	0, 90, 90, 90, 89, 88, 87, 85, 83, 82, 80, 78, 75, 73, 70, 67,
	64, 61, 57, 54, 50, 46, 43, 38, 36, 31, 25, 22, 18, 13, 9, 4, 0,
}

// dstMat is the 4-point DST-VII basis used for intra 4x4 luma.
var dstMat = [4][4]int32{
	{29, 55, 74, 84},
	{74, 74, 0, -74},
	{84, -29, -74, 55},
	{55, -84, 74, -29},
}

func initDCTMatrix() {
	for n := 0; n < 32; n++ {
		dctMat[0][n] = 64
	}
	for k := 1; k < 32; k++ {
		for n := 0; n < 32; n++ {
			m := ((2*n + 1) * k) % 128
			if m > 64 {
				m = 128 - m
			}
			sign := int32(1)
			if m > 32 {
				m = 64 - m
				sign = -1
			}
			dctMat[k][n] = sign * dctOdd[m]
		}
	}
}

// basis returns coefficient (k, n) of the N-point DCT, N = 1<<log2.
func basis(log2, k, n int) int32 {
	return dctMat[k<<(5-log2)][n]
}

func clip16(v int32) int16 {
	if v < -32768 {
		return -32768
	}
	if v > 32767 {
		return 32767
	}
	return int16(v)
}

// fTransform4 is the hand-unrolled 4x4 forward DCT.
func fTransform4(src, dst []int16) {
	_ = src[15]
	_ = dst[15]
	const s1, s2 = 2 + hevc.BitDepth - 9, 2 + 6
	var tmp [16]int32
	for j := 0; j < 4; j++ {
		r := src[j*4 : j*4+4]
		e0 := int32(r[0]) + int32(r[3])
		o0 := int32(r[0]) - int32(r[3])
		e1 := int32(r[1]) + int32(r[2])
		o1 := int32(r[1]) - int32(r[2])
		tmp[0*4+j] = (64*e0 + 64*e1 + (1 << (s1 - 1))) >> s1
		tmp[2*4+j] = (64*e0 - 64*e1 + (1 << (s1 - 1))) >> s1
		tmp[1*4+j] = (83*o0 + 36*o1 + (1 << (s1 - 1))) >> s1
		tmp[3*4+j] = (36*o0 - 83*o1 + (1 << (s1 - 1))) >> s1
	}
	// tmp is stored transposed: tmp[k*4+j] is horizontal frequency k of row j.
	for k := 0; k < 4; k++ {
		c := tmp[k*4 : k*4+4]
		e0 := c[0] + c[3]
		o0 := c[0] - c[3]
		e1 := c[1] + c[2]
		o1 := c[1] - c[2]
		dst[0*4+k] = clip16((64*e0 + 64*e1 + (1 << (s2 - 1))) >> s2)
		dst[2*4+k] = clip16((64*e0 - 64*e1 + (1 << (s2 - 1))) >> s2)
		dst[1*4+k] = clip16((83*o0 + 36*o1 + (1 << (s2 - 1))) >> s2)
		dst[3*4+k] = clip16((36*o0 - 83*o1 + (1 << (s2 - 1))) >> s2)
	}
}

// iTransform4 is the hand-unrolled 4x4 inverse DCT.
func iTransform4(src, dst []int16) {
	_ = src[15]
	_ = dst[15]
	const s1, s2 = 7, 20 - hevc.BitDepth
	var tmp [16]int16
	for k := 0; k < 4; k++ {
		c0, c1, c2, c3 := int32(src[0*4+k]), int32(src[1*4+k]), int32(src[2*4+k]), int32(src[3*4+k])
		o0 := 83*c1 + 36*c3
		o1 := 36*c1 - 83*c3
		e0 := 64*c0 + 64*c2
		e1 := 64*c0 - 64*c2
		tmp[0*4+k] = clip16((e0 + o0 + (1 << (s1 - 1))) >> s1)
		tmp[1*4+k] = clip16((e1 + o1 + (1 << (s1 - 1))) >> s1)
		tmp[2*4+k] = clip16((e1 - o1 + (1 << (s1 - 1))) >> s1)
		tmp[3*4+k] = clip16((e0 - o0 + (1 << (s1 - 1))) >> s1)
	}
	for j := 0; j < 4; j++ {
		c0, c1, c2, c3 := int32(tmp[j*4]), int32(tmp[j*4+1]), int32(tmp[j*4+2]), int32(tmp[j*4+3])
		o0 := 83*c1 + 36*c3
		o1 := 36*c1 - 83*c3
		e0 := 64*c0 + 64*c2
		e1 := 64*c0 - 64*c2
		dst[j*4+0] = clip16((e0 + o0 + (1 << (s2 - 1))) >> s2)
		dst[j*4+1] = clip16((e1 + o1 + (1 << (s2 - 1))) >> s2)
		dst[j*4+2] = clip16((e1 - o1 + (1 << (s2 - 1))) >> s2)
		dst[j*4+3] = clip16((e0 - o0 + (1 << (s2 - 1))) >> s2)
	}
}

// fTransformN is the separable forward DCT for 8x8 and larger blocks.
func fTransformN(log2 int, src, dst []int16) {
	n := 1 << log2
	s1 := uint(log2 + hevc.BitDepth - 9)
	s2 := uint(log2 + 6)
	var tmp [hevc.MaxTUSize * hevc.MaxTUSize]int32
	for j := 0; j < n; j++ {
		row := src[j*n : j*n+n]
		for k := 0; k < n; k++ {
			b := &dctMat[k<<(5-log2)]
			var sum int32
			for i, r := range row {
				sum += b[i] * int32(r)
			}
			tmp[j*n+k] = (sum + (1 << (s1 - 1))) >> s1
		}
	}
	for k2 := 0; k2 < n; k2++ {
		b := &dctMat[k2<<(5-log2)]
		for k := 0; k < n; k++ {
			var sum int32
			for j := 0; j < n; j++ {
				sum += b[j] * tmp[j*n+k]
			}
			dst[k2*n+k] = clip16((sum + (1 << (s2 - 1))) >> s2)
		}
	}
}

// iTransformN is the separable inverse DCT for 8x8 and larger blocks.
// Columns and rows that are entirely zero are skipped.
func iTransformN(log2 int, src, dst []int16) {
	n := 1 << log2
	const s1 = 7
	const s2 = 20 - hevc.BitDepth
	var tmp [hevc.MaxTUSize * hevc.MaxTUSize]int16
	for k := 0; k < n; k++ {
		nonZero := false
		for k2 := 0; k2 < n; k2++ {
			if src[k2*n+k] != 0 {
				nonZero = true
				break
			}
		}
		if !nonZero {
			for j := 0; j < n; j++ {
				tmp[j*n+k] = 0
			}
			continue
		}
		for j := 0; j < n; j++ {
			var sum int32
			for k2 := 0; k2 < n; k2++ {
				if c := src[k2*n+k]; c != 0 {
					sum += basis(log2, k2, j) * int32(c)
				}
			}
			tmp[j*n+k] = clip16((sum + (1 << (s1 - 1))) >> s1)
		}
	}
	for j := 0; j < n; j++ {
		row := tmp[j*n : j*n+n]
		for i := 0; i < n; i++ {
			var sum int32
			for k, c := range row {
				if c != 0 {
					sum += basis(log2, k, i) * int32(c)
				}
			}
			dst[j*n+i] = clip16((sum + (1 << (s2 - 1))) >> s2)
		}
	}
}

func fTransform8(src, dst []int16)  { fTransformN(3, src, dst) }
func fTransform16(src, dst []int16) { fTransformN(4, src, dst) }
func fTransform32(src, dst []int16) { fTransformN(5, src, dst) }
func iTransform8(src, dst []int16)  { iTransformN(3, src, dst) }
func iTransform16(src, dst []int16) { iTransformN(4, src, dst) }
func iTransform32(src, dst []int16) { iTransformN(5, src, dst) }

// fTransformDST is the 4x4 forward DST-VII.
func fTransformDST(src, dst []int16) {
	const s1, s2 = 2 + hevc.BitDepth - 9, 2 + 6
	var tmp [16]int32
	for j := 0; j < 4; j++ {
		for k := 0; k < 4; k++ {
			var sum int32
			for i := 0; i < 4; i++ {
				sum += dstMat[k][i] * int32(src[j*4+i])
			}
			tmp[j*4+k] = (sum + (1 << (s1 - 1))) >> s1
		}
	}
	for k2 := 0; k2 < 4; k2++ {
		for k := 0; k < 4; k++ {
			var sum int32
			for j := 0; j < 4; j++ {
				sum += dstMat[k2][j] * tmp[j*4+k]
			}
			dst[k2*4+k] = clip16((sum + (1 << (s2 - 1))) >> s2)
		}
	}
}

// iTransformDST is the 4x4 inverse DST-VII.
func iTransformDST(src, dst []int16) {
	const s1, s2 = 7, 20 - hevc.BitDepth
	var tmp [16]int16
	for k := 0; k < 4; k++ {
		for j := 0; j < 4; j++ {
			var sum int32
			for k2 := 0; k2 < 4; k2++ {
				sum += dstMat[k2][j] * int32(src[k2*4+k])
			}
			tmp[j*4+k] = clip16((sum + (1 << (s1 - 1))) >> s1)
		}
	}
	for j := 0; j < 4; j++ {
		for i := 0; i < 4; i++ {
			var sum int32
			for k := 0; k < 4; k++ {
				sum += dstMat[k][i] * int32(tmp[j*4+k])
			}
			dst[j*4+i] = clip16((sum + (1 << (s2 - 1))) >> s2)
		}
	}
}

// Residual writes src - pred for an n×n block into res (stride n).
func Residual(src []byte, srcStride int, pred []byte, predStride int, n int, res []int16) {
	for j := 0; j < n; j++ {
		s := src[j*srcStride : j*srcStride+n]
		p := pred[j*predStride : j*predStride+n]
		r := res[j*n : j*n+n]
		for i := range r {
			r[i] = int16(s[i]) - int16(p[i])
		}
	}
}

// Reconstruct writes clip(pred + res) for an n×n block into dst.
func Reconstruct(pred []byte, predStride int, res []int16, n int, dst []byte, dstStride int) {
	for j := 0; j < n; j++ {
		p := pred[j*predStride : j*predStride+n]
		r := res[j*n : j*n+n]
		d := dst[j*dstStride : j*dstStride+n]
		for i := range d {
			d[i] = clip8(int(p[i]) + int(r[i]))
		}
	}
}

func clip8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
