package dsp

// ssdGo is the reference sum of squared differences over a w×h block.
func ssdGo(a []byte, aStride int, b []byte, bStride int, w, h int) int64 {
	var sum int64
	for j := 0; j < h; j++ {
		ra := a[j*aStride : j*aStride+w]
		rb := b[j*bStride : j*bStride+w]
		for i := range ra {
			d := int64(ra[i]) - int64(rb[i])
			sum += d * d
		}
	}
	return sum
}

// ssdWide processes eight samples per iteration. Used when the CPU can
// issue the independent multiply-adds in parallel.
func ssdWide(a []byte, aStride int, b []byte, bStride int, w, h int) int64 {
	if w&7 != 0 {
		return ssdGo(a, aStride, b, bStride, w, h)
	}
	var sum int64
	for j := 0; j < h; j++ {
		ra := a[j*aStride : j*aStride+w]
		rb := b[j*bStride : j*bStride+w]
		for i := 0; i < w; i += 8 {
			x := ra[i : i+8 : i+8]
			y := rb[i : i+8 : i+8]
			d0 := int32(x[0]) - int32(y[0])
			d1 := int32(x[1]) - int32(y[1])
			d2 := int32(x[2]) - int32(y[2])
			d3 := int32(x[3]) - int32(y[3])
			d4 := int32(x[4]) - int32(y[4])
			d5 := int32(x[5]) - int32(y[5])
			d6 := int32(x[6]) - int32(y[6])
			d7 := int32(x[7]) - int32(y[7])
			sum += int64(d0*d0 + d1*d1 + d2*d2 + d3*d3 + d4*d4 + d5*d5 + d6*d6 + d7*d7)
		}
	}
	return sum
}

func sadGo(a []byte, aStride int, b []byte, bStride int, w, h int) int64 {
	var sum int64
	for j := 0; j < h; j++ {
		ra := a[j*aStride : j*aStride+w]
		rb := b[j*bStride : j*bStride+w]
		for i := range ra {
			d := int64(ra[i]) - int64(rb[i])
			if d < 0 {
				d = -d
			}
			sum += d
		}
	}
	return sum
}

func sadWide(a []byte, aStride int, b []byte, bStride int, w, h int) int64 {
	if w&7 != 0 {
		return sadGo(a, aStride, b, bStride, w, h)
	}
	var sum int64
	for j := 0; j < h; j++ {
		ra := a[j*aStride : j*aStride+w]
		rb := b[j*bStride : j*bStride+w]
		for i := 0; i < w; i += 8 {
			x := ra[i : i+8 : i+8]
			y := rb[i : i+8 : i+8]
			sum += int64(absDiff(x[0], y[0]) + absDiff(x[1], y[1]) + absDiff(x[2], y[2]) + absDiff(x[3], y[3]) +
				absDiff(x[4], y[4]) + absDiff(x[5], y[5]) + absDiff(x[6], y[6]) + absDiff(x[7], y[7]))
		}
	}
	return sum
}

func absDiff(a, b byte) int32 {
	if a > b {
		return int32(a - b)
	}
	return int32(b - a)
}

// satdGo sums Hadamard-transformed differences, 8x8 blocks when both
// dimensions allow it and 4x4 blocks otherwise.
func satdGo(a []byte, aStride int, b []byte, bStride int, w, h int) int64 {
	var sum int64
	if w&7 == 0 && h&7 == 0 {
		for y := 0; y < h; y += 8 {
			for x := 0; x < w; x += 8 {
				sum += hadamard8x8(a[y*aStride+x:], aStride, b[y*bStride+x:], bStride)
			}
		}
		return sum
	}
	for y := 0; y < h; y += 4 {
		for x := 0; x < w; x += 4 {
			sum += hadamard4x4(a[y*aStride+x:], aStride, b[y*bStride+x:], bStride)
		}
	}
	return sum
}

func hadamard4x4(a []byte, aStride int, b []byte, bStride int) int64 {
	var d [16]int32
	for j := 0; j < 4; j++ {
		for i := 0; i < 4; i++ {
			d[j*4+i] = int32(a[j*aStride+i]) - int32(b[j*bStride+i])
		}
	}
	var m [16]int32
	for j := 0; j < 4; j++ {
		r := d[j*4 : j*4+4]
		s01, d01 := r[0]+r[1], r[0]-r[1]
		s23, d23 := r[2]+r[3], r[2]-r[3]
		m[j*4+0] = s01 + s23
		m[j*4+1] = d01 + d23
		m[j*4+2] = s01 - s23
		m[j*4+3] = d01 - d23
	}
	var sum int64
	for i := 0; i < 4; i++ {
		s01, d01 := m[i]+m[4+i], m[i]-m[4+i]
		s23, d23 := m[8+i]+m[12+i], m[8+i]-m[12+i]
		sum += abs64(s01+s23) + abs64(d01+d23) + abs64(s01-s23) + abs64(d01-d23)
	}
	return (sum + 1) >> 1
}

func hadamard8x8(a []byte, aStride int, b []byte, bStride int) int64 {
	var m [64]int32
	for j := 0; j < 8; j++ {
		for i := 0; i < 8; i++ {
			m[j*8+i] = int32(a[j*aStride+i]) - int32(b[j*bStride+i])
		}
	}
	for j := 0; j < 8; j++ {
		fwht8(m[j*8:j*8+8], 1)
	}
	for i := 0; i < 8; i++ {
		fwht8(m[i:], 8)
	}
	var sum int64
	for _, v := range m {
		sum += abs64(v)
	}
	return (sum + 2) >> 2
}

// fwht8 applies an in-place 8-point Walsh-Hadamard transform to the
// elements v[0], v[step], ..., v[7*step].
func fwht8(v []int32, step int) {
	for half := 1; half < 8; half <<= 1 {
		for i := 0; i < 8; i += half << 1 {
			for k := i; k < i+half; k++ {
				x, y := v[k*step], v[(k+half)*step]
				v[k*step], v[(k+half)*step] = x+y, x-y
			}
		}
	}
}

func abs64(v int32) int64 {
	if v < 0 {
		return int64(-v)
	}
	return int64(v)
}

// ssdCoeffsGo is the squared error between two coefficient arrays.
func ssdCoeffsGo(a, b []int16) int64 {
	var sum int64
	for i := range a {
		d := int64(a[i]) - int64(b[i])
		sum += d * d
	}
	return sum
}

// ACEnergy returns the Hadamard energy of an n×n block with its DC removed.
// It drives the noise-preserving distortion term.
func ACEnergy(p []byte, stride, w, h int) int64 {
	var zero [64]byte
	var e int64
	if w&7 == 0 && h&7 == 0 {
		for y := 0; y < h; y += 8 {
			for x := 0; x < w; x += 8 {
				e += hadamard8x8(p[y*stride+x:], stride, zero[:], 8)
			}
		}
	} else {
		for y := 0; y < h; y += 4 {
			for x := 0; x < w; x += 4 {
				e += hadamard4x4(p[y*stride+x:], stride, zero[:], 4)
			}
		}
	}
	dc := sadGo(p, stride, zero[:], 0, w, h)
	return e - dc>>2
}
