package rdo

import "github.com/deepteams/hevcrdo/internal/hevc"

// Cell is the committed metadata of one 4x4 luma unit, read by the mode
// decision of later CUs.
type Cell struct {
	Coded bool
	Intra bool
	Skip  bool
	CBF   bool // luma CBF of the covering transform unit
	Mode  uint8
	Depth uint8 // CU depth below the CTB
	QP    int8
	MV    hevc.MV
}

// Grid holds a Cell per 4x4 unit of a picture. Workers of different CTB
// rows write disjoint cells; reads across rows are ordered by the row
// gate.
type Grid struct {
	W, H  int // in 4x4 units
	Cells []Cell
}

// NewGrid returns an empty grid for a width×height luma picture.
func NewGrid(width, height int) *Grid {
	w, h := (width+3)>>2, (height+3)>>2
	return &Grid{W: w, H: h, Cells: make([]Cell, w*h)}
}

// Reset marks every unit as not coded.
func (g *Grid) Reset() { clear(g.Cells) }

// At returns the cell covering luma sample (x, y), or nil outside the
// picture.
func (g *Grid) At(x, y int) *Cell {
	if x < 0 || y < 0 || x>>2 >= g.W || y>>2 >= g.H {
		return nil
	}
	return &g.Cells[(y>>2)*g.W+x>>2]
}

// coded returns the cell at (x, y) when it is coded and not below limitY.
func (g *Grid) coded(x, y, limitY int) *Cell {
	if y >= limitY {
		return nil
	}
	if c := g.At(x, y); c != nil && c.Coded {
		return c
	}
	return nil
}

// Fill sets every cell of the w×h luma area at (x, y) to c.
func (g *Grid) Fill(x, y, w, h int, c Cell) {
	for j := y >> 2; j < min((y+h)>>2, g.H); j++ {
		row := g.Cells[j*g.W:]
		for i := x >> 2; i < min((x+w)>>2, g.W); i++ {
			row[i] = c
		}
	}
}

// Save appends the cells of the size×size area at (x, y) to dst.
func (g *Grid) Save(x, y, size int, dst []Cell) []Cell {
	for j := y >> 2; j < (y+size)>>2; j++ {
		for i := x >> 2; i < (x+size)>>2; i++ {
			if i < g.W && j < g.H {
				dst = append(dst, g.Cells[j*g.W+i])
			}
		}
	}
	return dst
}

// Restore writes back cells saved by Save for the same area.
func (g *Grid) Restore(x, y, size int, src []Cell) {
	k := 0
	for j := y >> 2; j < (y+size)>>2; j++ {
		for i := x >> 2; i < (x+size)>>2; i++ {
			if i < g.W && j < g.H {
				g.Cells[j*g.W+i] = src[k]
				k++
			}
		}
	}
}

// SplitCtxInc returns the split_cu_flag context increment of a CU at
// (x, y) and depth.
func (g *Grid) SplitCtxInc(x, y, depth int) int {
	inc := 0
	if c := g.coded(x-1, y, y+1); c != nil && int(c.Depth) > depth {
		inc++
	}
	if c := g.coded(x, y-1, y); c != nil && int(c.Depth) > depth {
		inc++
	}
	return inc
}

// SkipCtxInc returns the cu_skip_flag context increment of a CU at (x, y).
func (g *Grid) SkipCtxInc(x, y int) int {
	inc := 0
	if c := g.coded(x-1, y, y+1); c != nil && c.Skip {
		inc++
	}
	if c := g.coded(x, y-1, y); c != nil && c.Skip {
		inc++
	}
	return inc
}

// neighbourModes returns the left and above intra modes used for the MPM
// list of the unit at (x, y). An above unit in the CTB row above counts
// as DC.
func (g *Grid) neighbourModes(x, y, ctbY int) (left, above int) {
	left, above = hevc.ModeDC, hevc.ModeDC
	if c := g.coded(x-1, y, y+1); c != nil && c.Intra {
		left = int(c.Mode)
	}
	if y-1 >= ctbY {
		if c := g.coded(x, y-1, y); c != nil && c.Intra {
			above = int(c.Mode)
		}
	}
	return left, above
}

// interAt returns the motion of a coded inter unit at (x, y).
func (g *Grid) interAt(x, y, limitY int) (hevc.MV, bool) {
	if c := g.coded(x, y, limitY); c != nil && !c.Intra {
		return c.MV, true
	}
	return hevc.MV{}, false
}

// MergeCandidates returns the spatial merge list of the w×h prediction
// unit at (x, y) in the order A1, B1, B0, A0, B2, without duplicates, and
// padded with zero vectors. Units at or below limitY are unavailable.
func (g *Grid) MergeCandidates(x, y, w, h, limitY int) [hevc.MaxMergeCand]hevc.MV {
	var list [hevc.MaxMergeCand]hevc.MV
	n := 0
	pos := [5][2]int{
		{x - 1, y + h - 1}, // A1
		{x + w - 1, y - 1}, // B1
		{x + w, y - 1},     // B0
		{x - 1, y + h},     // A0
		{x - 1, y - 1},     // B2
	}
	for k, p := range pos {
		if k == 4 && n == 4 {
			break
		}
		mv, ok := g.interAt(p[0], p[1], limitY)
		if !ok || contains(list[:n], mv) {
			continue
		}
		list[n] = mv
		n++
	}
	for ; n < len(list); n++ {
		list[n] = hevc.MV{}
	}
	return list
}

// MVPCandidates returns the two motion vector predictors of a prediction
// unit: the first available of A0, A1 and of B0, B1, B2, deduplicated and
// padded with zero vectors.
func (g *Grid) MVPCandidates(x, y, w, h, limitY int) [2]hevc.MV {
	var list [2]hevc.MV
	n := 0
	for _, side := range [2][][2]int{
		{{x - 1, y + h}, {x - 1, y + h - 1}},
		{{x + w, y - 1}, {x + w - 1, y - 1}, {x - 1, y - 1}},
	} {
		for _, p := range side {
			if mv, ok := g.interAt(p[0], p[1], limitY); ok {
				if !contains(list[:n], mv) {
					list[n] = mv
					n++
				}
				break
			}
		}
	}
	return list
}

func contains(l []hevc.MV, mv hevc.MV) bool {
	for _, v := range l {
		if v == mv {
			return true
		}
	}
	return false
}
