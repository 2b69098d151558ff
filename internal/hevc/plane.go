package hevc

// Plane is a view of 8-bit samples with an explicit stride.
type Plane struct {
	Pix    []byte
	Stride int
	Width  int
	Height int
}

// NewPlane allocates a zeroed plane of the given dimensions.
func NewPlane(w, h int) Plane {
	return Plane{Pix: make([]byte, w*h), Stride: w, Width: w, Height: h}
}

// Offset returns the index of sample (x, y) in Pix.
func (p Plane) Offset(x, y int) int { return y*p.Stride + x }

// At returns the sample at (x, y).
func (p Plane) At(x, y int) byte { return p.Pix[y*p.Stride+x] }

// Block returns Pix starting at sample (x, y). Rows of the block are Stride
// bytes apart in the returned slice.
func (p Plane) Block(x, y int) []byte { return p.Pix[y*p.Stride+x:] }

// CopyBlock copies a w×h block from src at (sx, sy) into p at (dx, dy).
func (p Plane) CopyBlock(dx, dy int, src Plane, sx, sy, w, h int) {
	for j := 0; j < h; j++ {
		d := p.Offset(dx, dy+j)
		s := src.Offset(sx, sy+j)
		copy(p.Pix[d:d+w], src.Pix[s:s+w])
	}
}

// CopyRect copies a w×h block between two raw buffers with their own strides.
func CopyRect(dst []byte, dstStride int, src []byte, srcStride, w, h int) {
	for j := 0; j < h; j++ {
		copy(dst[j*dstStride:j*dstStride+w], src[j*srcStride:j*srcStride+w])
	}
}
