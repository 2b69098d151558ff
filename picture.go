package hevcrdo

import (
	"fmt"

	"github.com/deepteams/hevcrdo/internal/dsp"
	"github.com/deepteams/hevcrdo/internal/hevc"
	"github.com/deepteams/hevcrdo/internal/rdo"
)

// Plane is one 8-bit sample plane.
type Plane = hevc.Plane

// Picture holds the luma and chroma planes of a picture.
type Picture = rdo.Picture

// NewPicture allocates a zeroed picture of the given luma size.
func NewPicture(width, height int, format ChromaFormat) *Picture {
	cw, ch := width>>format.ShiftX(), height>>format.ShiftY()
	return &Picture{
		Y:  hevc.NewPlane(width, height),
		Cb: hevc.NewPlane(cw, ch),
		Cr: hevc.NewPlane(cw, ch),
	}
}

// checkPicture reports whether p has the plane sizes of a width×height
// picture in format.
func checkPicture(p *Picture, width, height int, format ChromaFormat) error {
	if p == nil {
		return fmt.Errorf("%w: nil", ErrInvalidPicture)
	}
	cw, ch := width>>format.ShiftX(), height>>format.ShiftY()
	for i, want := range [3][2]int{{width, height}, {cw, ch}, {cw, ch}} {
		pl := [3]*Plane{&p.Y, &p.Cb, &p.Cr}[i]
		if pl.Width != want[0] || pl.Height != want[1] {
			return fmt.Errorf("%w: plane %d is %dx%d, want %dx%d", ErrInvalidPicture, i, pl.Width, pl.Height, want[0], want[1])
		}
		if pl.Stride < pl.Width || len(pl.Pix) < (pl.Height-1)*pl.Stride+pl.Width {
			return fmt.Errorf("%w: plane %d stride %d with %d samples", ErrInvalidPicture, i, pl.Stride, len(pl.Pix))
		}
	}
	return nil
}

// patternTile is the edge of the noise tile a test pattern repeats.
const patternTile = 64

// TestPattern returns frame of a synthetic sequence: a diagonal ramp with
// seeded noise texture, moving by (2, 1) luma samples per frame. Frames of
// the same seed predict each other well with the right motion.
func TestPattern(width, height int, format ChromaFormat, frame int, seed uint32) *Picture {
	rg := dsp.NewRandom(seed, 1)
	var tile [patternTile * patternTile]int8
	for i := range tile {
		tile[i] = int8(rg.Bits(6) - 32)
	}
	at := func(x, y int) int {
		return int(tile[(y&(patternTile-1))*patternTile+x&(patternTile-1)])
	}

	p := NewPicture(width, height, format)
	dx, dy := 2*frame, frame
	for y := 0; y < height; y++ {
		row := p.Y.Pix[y*p.Y.Stride:]
		for x := 0; x < width; x++ {
			X, Y := x+dx, y+dy
			row[x] = byte(hevc.Clip3(0, 255, 64+(X+2*Y)%128+at(X, Y)))
		}
	}
	sx, sy := format.ShiftX(), format.ShiftY()
	for y := 0; y < p.Cb.Height; y++ {
		cb, cr := p.Cb.Pix[y*p.Cb.Stride:], p.Cr.Pix[y*p.Cr.Stride:]
		for x := 0; x < p.Cb.Width; x++ {
			X, Y := x<<sx+dx, y<<sy+dy
			cb[x] = byte(hevc.Clip3(0, 255, 128+at(X, Y)/2))
			cr[x] = byte(hevc.Clip3(0, 255, 128-at(Y, X)/2))
		}
	}
	return p
}
