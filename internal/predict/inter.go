package predict

import (
	"math"

	"github.com/deepteams/hevcrdo/internal/dsp"
	"github.com/deepteams/hevcrdo/internal/hevc"
)

// MC copies the w×h block at (x, y) of ref displaced by mv into dst. Only
// the full-sample part of mv is used; reads outside the picture repeat
// the edge samples.
func MC(dst []byte, dstStride int, ref hevc.Plane, x, y, w, h int, mv hevc.MV) {
	sx, sy := x+int(mv.X>>2), y+int(mv.Y>>2)
	if sx >= 0 && sy >= 0 && sx+w <= ref.Width && sy+h <= ref.Height {
		hevc.CopyRect(dst, dstStride, ref.Block(sx, sy), ref.Stride, w, h)
		return
	}
	for j := 0; j < h; j++ {
		row := ref.Pix[hevc.Clip3(0, ref.Height-1, sy+j)*ref.Stride:]
		for i := 0; i < w; i++ {
			dst[j*dstStride+i] = row[hevc.Clip3(0, ref.Width-1, sx+i)]
		}
	}
}

// MVCost returns the rate of a motion vector in distortion units.
type MVCost func(mv hevc.MV) int64

// Search runs a full-sample block-matching search for the w×h block at
// (x, y) of src, around start within ±rng samples, minimizing SAD plus
// cost. Vectors are returned in quarter-sample units. Ties keep the vector
// visited first, scanning rows top to bottom.
func Search(src hevc.Plane, ref hevc.Plane, x, y, w, h int, start hevc.MV, rng int, cost MVCost) (hevc.MV, int64) {
	var buf [hevc.MaxCUSize * hevc.MaxCUSize]byte
	best, bestCost := start, int64(math.MaxInt64)
	cx, cy := int(start.X>>2), int(start.Y>>2)
	for dy := -rng; dy <= rng; dy++ {
		for dx := -rng; dx <= rng; dx++ {
			mv := hevc.MV{X: int16((cx + dx) << 2), Y: int16((cy + dy) << 2)}
			MC(buf[:], w, ref, x, y, w, h, mv)
			c := dsp.SAD(src.Block(x, y), src.Stride, buf[:], w, w, h)
			if cost != nil {
				c += cost(mv)
			}
			if c < bestCost {
				best, bestCost = mv, c
			}
		}
	}
	return best, bestCost
}
