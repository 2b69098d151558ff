// Package predict generates the prediction samples the mode decision
// competes over: HEVC intra prediction from reconstructed neighbours and
// full-sample motion compensation with a small block-matching search.
//
// Reference samples are used as gathered; the reference smoothing filter
// and the DC/angular boundary filters are not applied.
package predict

import "github.com/deepteams/hevcrdo/internal/hevc"

// intraPredAngle indexed by mode; entries 0 and 1 are unused.
var intraPredAngle = [hevc.NumIntraModes]int{
	0, 0,
	32, 26, 21, 17, 13, 9, 5, 2, 0, -2, -5, -9, -13, -17, -21, -26,
	-32, -26, -21, -17, -13, -9, -5, -2, 0, 2, 5, 9, 13, 17, 21, 26, 32,
}

// invAngle indexed by mode for the negative angles 11..25.
var invAngle = [hevc.NumIntraModes]int{
	11: -4096, 12: -1638, 13: -910, 14: -630, 15: -482, 16: -390, 17: -315,
	18: -256, 19: -315, 20: -390, 21: -482, 22: -630, 23: -910, 24: -1638, 25: -4096,
}

// Refs holds the reference samples of an n×n block.
type Refs struct {
	N      int
	Corner byte
	Left   [2 * hevc.MaxTUSize]byte // Left[i] is the sample left of row i
	Top    [2 * hevc.MaxTUSize]byte // Top[i] is the sample above column i
}

// Availability reports whether the reconstructed sample at (x, y) of a
// plane may be referenced.
type Availability func(x, y int) bool

// Gather loads the 4n+1 reference samples of the n×n block at (x, y) of p.
// Unavailable samples are substituted from the nearest available one in
// the order bottom-left, up the left column, the corner, along the top
// row; with none available every sample is mid-grey.
func (r *Refs) Gather(p hevc.Plane, x, y, n int, avail Availability) {
	r.N = n
	var line [4*hevc.MaxTUSize + 1]byte
	var ok [4*hevc.MaxTUSize + 1]bool
	// line[0] is Left[2n-1], line[2n] the corner, line[4n] Top[2n-1].
	k := 0
	for i := 2*n - 1; i >= 0; i-- {
		if sx, sy := x-1, y+i; sx >= 0 && sy < p.Height && avail(sx, sy) {
			line[k], ok[k] = p.At(sx, sy), true
		}
		k++
	}
	if x > 0 && y > 0 && avail(x-1, y-1) {
		line[k], ok[k] = p.At(x-1, y-1), true
	}
	k++
	for i := 0; i < 2*n; i++ {
		if sx, sy := x+i, y-1; sy >= 0 && sx < p.Width && avail(sx, sy) {
			line[k], ok[k] = p.At(sx, sy), true
		}
		k++
	}

	first := -1
	for i := 0; i < k; i++ {
		if ok[i] {
			first = i
			break
		}
	}
	if first < 0 {
		for i := range line[:k] {
			line[i] = 1 << (hevc.BitDepth - 1)
		}
	} else {
		for i := 0; i < first; i++ {
			line[i] = line[first]
		}
		for i := first + 1; i < k; i++ {
			if !ok[i] {
				line[i] = line[i-1]
			}
		}
	}

	for i := 0; i < 2*n; i++ {
		r.Left[i] = line[2*n-1-i]
		r.Top[i] = line[2*n+1+i]
	}
	r.Corner = line[2*n]
}

// Intra writes the n×n prediction of mode into dst.
func Intra(dst []byte, stride int, r *Refs, mode int) {
	hevc.Assert(mode >= 0 && mode < hevc.NumIntraModes, "predict: invalid intra mode %d", mode)
	switch mode {
	case hevc.ModePlanar:
		planar(dst, stride, r)
	case hevc.ModeDC:
		dc(dst, stride, r)
	default:
		angular(dst, stride, r, mode)
	}
}

func planar(dst []byte, stride int, r *Refs) {
	n := r.N
	shift := hevc.Log2(n) + 1
	tr, bl := int(r.Top[n]), int(r.Left[n])
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			v := (n-1-x)*int(r.Left[y]) + (x+1)*tr + (n-1-y)*int(r.Top[x]) + (y+1)*bl + n
			dst[y*stride+x] = byte(v >> shift)
		}
	}
}

func dc(dst []byte, stride int, r *Refs) {
	n := r.N
	sum := n
	for i := 0; i < n; i++ {
		sum += int(r.Top[i]) + int(r.Left[i])
	}
	v := byte(sum >> (hevc.Log2(n) + 1))
	for y := 0; y < n; y++ {
		row := dst[y*stride : y*stride+n]
		for x := range row {
			row[x] = v
		}
	}
}

func angular(dst []byte, stride int, r *Refs, mode int) {
	n := r.N
	angle := intraPredAngle[mode]
	vertical := mode >= 18

	mainRef, sideRef := r.Top[:], r.Left[:]
	if !vertical {
		mainRef, sideRef = r.Left[:], r.Top[:]
	}
	// ref[n+i] is the reference at index i, i in [-n, 2n].
	var ref [3*hevc.MaxTUSize + 1]int
	ref[n] = int(r.Corner)
	for i := 1; i <= 2*n; i++ {
		ref[n+i] = int(mainRef[i-1])
	}
	if angle < 0 {
		if last := (n * angle) >> 5; last < -1 {
			inv := invAngle[mode]
			for i := last; i <= -1; i++ {
				k := (i*inv + 128) >> 8
				if k == 0 {
					ref[n+i] = int(r.Corner)
				} else {
					ref[n+i] = int(sideRef[k-1])
				}
			}
		}
	}

	for j := 0; j < n; j++ {
		pos := (j + 1) * angle
		idx, fact := pos>>5, pos&31
		for i := 0; i < n; i++ {
			a := ref[n+i+idx+1]
			v := a
			if fact != 0 {
				v = ((32-fact)*a + fact*ref[n+i+idx+2] + 16) >> 5
			}
			if vertical {
				dst[j*stride+i] = byte(v)
			} else {
				dst[i*stride+j] = byte(v)
			}
		}
	}
}

// MPM derives the three most probable luma modes from the left and above
// neighbour modes; pass ModeDC for an unavailable or non-intra neighbour.
func MPM(left, above int) [3]int {
	if left == above {
		if left < 2 {
			return [3]int{hevc.ModePlanar, hevc.ModeDC, hevc.ModeVertical}
		}
		return [3]int{left, 2 + (left+29)%32, 2 + (left-2+1)%32}
	}
	third := hevc.ModeVertical
	switch {
	case left != hevc.ModePlanar && above != hevc.ModePlanar:
		third = hevc.ModePlanar
	case left != hevc.ModeDC && above != hevc.ModeDC:
		third = hevc.ModeDC
	}
	return [3]int{left, above, third}
}

// MPMIndex returns the position of mode in mpm, or -1.
func MPMIndex(mpm [3]int, mode int) int {
	for i, m := range mpm {
		if m == mode {
			return i
		}
	}
	return -1
}

// ChromaModes lists the explicit intra_chroma_pred_mode values 0..3.
var ChromaModes = [4]int{hevc.ModePlanar, hevc.ModeVertical, hevc.ModeHorizontal, hevc.ModeDC}

// ChromaMode returns the chroma prediction mode signalled by
// intra_chroma_pred_mode idx for a given luma mode. An explicit mode equal
// to the luma mode is replaced by mode 34.
func ChromaMode(idx, lumaMode int) int {
	if idx == hevc.ChromaDM {
		return lumaMode
	}
	if m := ChromaModes[idx]; m != lumaMode {
		return m
	}
	return 34
}
