// Package scan serializes quantized coefficient blocks into the byte
// stream handed to the entropy stage and parses that stream back.
package scan

// Scan orders.
const (
	Diag = 0
	Horz = 1
	Vert = 2
)

// Order4x4[s][i] is the raster index (y*4+x) of scan position i inside a
// 4x4 group for scan order s.
var Order4x4 [3][16]uint8

// csbOrders[log2-2][s][i] is the raster index of the coded sub-block at
// sub-block scan position i. Horizontal and vertical orders exist only up
// to 8x8 but are filled for every size.
var csbOrders [4][3][]uint8

func init() {
	for s := 0; s < 3; s++ {
		copy(Order4x4[s][:], buildOrder(4, s))
	}
	for l := 0; l < 4; l++ {
		w := 1 << l
		for s := 0; s < 3; s++ {
			csbOrders[l][s] = buildOrder(w, s)
		}
	}
}

// buildOrder returns the raster positions of a w×w grid in scan order s.
func buildOrder(w, s int) []uint8 {
	out := make([]uint8, 0, w*w)
	switch s {
	case Horz:
		for y := 0; y < w; y++ {
			for x := 0; x < w; x++ {
				out = append(out, uint8(y*w+x))
			}
		}
	case Vert:
		for x := 0; x < w; x++ {
			for y := 0; y < w; y++ {
				out = append(out, uint8(y*w+x))
			}
		}
	default:
		// Up-right diagonal: each anti-diagonal from bottom-left to top-right.
		for d := 0; d < 2*w-1; d++ {
			y := d
			if y > w-1 {
				y = w - 1
			}
			for ; y >= 0; y-- {
				x := d - y
				if x >= w {
					break
				}
				out = append(out, uint8(y*w+x))
			}
		}
	}
	return out
}

// CSBOrder returns the raster indices of the coded sub-blocks of an
// n×n block (n = 1<<log2) in sub-block scan order.
func CSBOrder(log2, scanIdx int) []uint8 {
	return csbOrders[log2-2][scanIdx]
}

// ScanIdx returns the coefficient scan order for a transform block.
// Intra blocks of 4x4, and 8x8 luma, follow the prediction direction;
// everything else, including inter blocks (intraMode < 0), uses the
// diagonal scan.
func ScanIdx(log2 int, intraMode int, luma bool) int {
	if intraMode < 0 {
		return Diag
	}
	if log2 == 2 || (log2 == 3 && luma) {
		switch {
		case intraMode >= 6 && intraMode <= 14:
			return Vert
		case intraMode >= 22 && intraMode <= 30:
			return Horz
		}
	}
	return Diag
}
