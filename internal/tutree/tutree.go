// Package tutree expands the packed split and early-CBF fields of a coding
// unit into its flat list of transform units, and merges all-zero
// siblings back together once mode decision is over.
//
// A node word holds the node's own split flag in bit 0. A 32×32 node
// carries the 5-bit words of its four 16×16 children at bit offsets 16,
// 11, 6 and 1 (top-left, top-right, bottom-left, bottom-right); a 16×16
// node carries the split flags of its four 8×8 children at bits 4, 3, 2
// and 1. A split 8×8 node always yields four 4×4 units. A 64×64 CU is
// described by four 32×32 node words.
package tutree

import (
	"errors"
	"fmt"

	"github.com/deepteams/hevcrdo/internal/hevc"
)

// MaxLeaves bounds the number of transform units of one CU.
const MaxLeaves = 256

// CBF plane indexes. The second chroma entries are the lower sub-TUs of
// 4:2:2 chroma.
const (
	PlaneY = iota
	PlaneCb
	PlaneCr
	PlaneCb2
	PlaneCr2
	NumCBF
)

var (
	ErrTooManyLeaves = errors.New("tutree: too many transform units in one CU")
	ErrInvalidSize   = errors.New("tutree: unsupported CU size")
	ErrLayout        = errors.New("tutree: units do not tile the CU")
)

// Leaf is one transform unit. X and Y are luma offsets inside the CU.
type Leaf struct {
	Log2Size int
	X, Y     int
	Depth    int
	EarlyCBF bool
	CBF      [NumCBF]bool
}

// Size returns the edge length of the unit.
func (l *Leaf) Size() int { return 1 << l.Log2Size }

// Coded reports whether any plane of the unit has a nonzero CBF.
func (l *Leaf) Coded(is422 bool) bool {
	n := PlaneCr + 1
	if is422 {
		n = NumCBF
	}
	for _, c := range l.CBF[:n] {
		if c {
			return true
		}
	}
	return false
}

func rootWords(cuLog2 int) int {
	if cuLog2 == hevc.MaxCULog2 {
		return 4
	}
	return 1
}

// Build expands the packed fields of a CU of size 2^cuLog2 into its
// transform units in Z-order. A nil earlyCBF marks every unit as
// possibly coded.
func Build(cuLog2 int, split, earlyCBF []uint32) ([]Leaf, error) {
	b := builder{limit: MaxLeaves}
	if err := b.build(cuLog2, split, earlyCBF); err != nil {
		return nil, err
	}
	return b.leaves, nil
}

type builder struct {
	leaves []Leaf
	limit  int
}

func (b *builder) build(cuLog2 int, split, earlyCBF []uint32) error {
	if cuLog2 < hevc.MinCULog2 || cuLog2 > hevc.MaxCULog2 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, 1<<max(cuLog2, 0))
	}
	n := rootWords(cuLog2)
	if len(split) < n || (earlyCBF != nil && len(earlyCBF) < n) {
		return fmt.Errorf("%w: CU %d needs %d node words", ErrInvalidSize, 1<<cuLog2, n)
	}
	b.leaves = make([]Leaf, 0, 16)
	if n == 1 {
		return b.node(cuLog2, 0, 0, 0, split[0], wordAt(earlyCBF, 0))
	}
	for i := 0; i < 4; i++ {
		x, y := (i&1)<<hevc.MaxTULog2, (i>>1)<<hevc.MaxTULog2
		if err := b.node(hevc.MaxTULog2, x, y, 1, split[i], wordAt(earlyCBF, i)); err != nil {
			return err
		}
	}
	return nil
}

func wordAt(w []uint32, i int) uint32 {
	if w == nil {
		return ^uint32(0)
	}
	return w[i]
}

func (b *builder) add(l Leaf) error {
	if len(b.leaves) >= b.limit {
		return ErrTooManyLeaves
	}
	b.leaves = append(b.leaves, l)
	return nil
}

func (b *builder) node(log2, x, y, depth int, split, ecbf uint32) error {
	if split&1 == 0 || log2 == hevc.MinTULog2 {
		return b.add(Leaf{Log2Size: log2, X: x, Y: y, Depth: depth, EarlyCBF: ecbf&1 != 0})
	}
	half := 1 << (log2 - 1)
	for i := 0; i < 4; i++ {
		cx, cy := x+(i&1)*half, y+(i>>1)*half
		if log2 == 3 {
			if err := b.add(Leaf{Log2Size: 2, X: cx, Y: cy, Depth: depth + 1, EarlyCBF: true}); err != nil {
				return err
			}
			continue
		}
		if err := b.node(log2-1, cx, cy, depth+1, childWord(log2, split, i), childWord(log2, ecbf, i)); err != nil {
			return err
		}
	}
	return nil
}

// childWord extracts the word of child i from a node word.
func childWord(log2 int, w uint32, i int) uint32 {
	switch log2 {
	case 5:
		return (w >> (16 - 5*i)) & 0x1F
	case 4:
		return (w >> (4 - i)) & 1
	}
	return 0
}

// placeChild is the inverse of childWord.
func placeChild(log2 int, c uint32, i int) uint32 {
	switch log2 {
	case 5:
		return (c & 0x1F) << (16 - 5*i)
	case 4:
		return (c & 1) << (4 - i)
	}
	return 0
}

// Uniform returns split words that split every node of a 2^cuLog2 CU
// down to the given depth below the CU.
func Uniform(cuLog2, depth int) []uint32 {
	if cuLog2 == hevc.MaxCULog2 {
		w := uniformWord(hevc.MaxTULog2, 1, depth)
		return []uint32{w, w, w, w}
	}
	return []uint32{uniformWord(cuLog2, 0, depth)}
}

func uniformWord(log2, depth, target int) uint32 {
	if depth >= target || log2 <= hevc.MinTULog2 {
		return 0
	}
	w := uint32(1)
	if log2 > 3 {
		c := uniformWord(log2-1, depth+1, target)
		for i := 0; i < 4; i++ {
			w |= placeChild(log2, c, i)
		}
	}
	return w
}

// Pack converts units in Z-order back into split and early-CBF words.
func Pack(cuLog2 int, leaves []Leaf) (split, earlyCBF []uint32, err error) {
	if cuLog2 < hevc.MinCULog2 || cuLog2 > hevc.MaxCULog2 {
		return nil, nil, ErrInvalidSize
	}
	p := packer{leaves: leaves}
	n := rootWords(cuLog2)
	split, earlyCBF = make([]uint32, n), make([]uint32, n)
	for i := 0; i < n; i++ {
		log2, x, y := cuLog2, 0, 0
		if n == 4 {
			log2, x, y = hevc.MaxTULog2, (i&1)<<hevc.MaxTULog2, (i>>1)<<hevc.MaxTULog2
		}
		if split[i], earlyCBF[i], err = p.node(log2, x, y); err != nil {
			return nil, nil, err
		}
	}
	if p.i != len(leaves) {
		return nil, nil, ErrLayout
	}
	return split, earlyCBF, nil
}

type packer struct {
	leaves []Leaf
	i      int
}

func (p *packer) node(log2, x, y int) (split, ecbf uint32, err error) {
	if p.i >= len(p.leaves) {
		return 0, 0, ErrLayout
	}
	l := &p.leaves[p.i]
	if l.X != x || l.Y != y || l.Log2Size > log2 {
		return 0, 0, ErrLayout
	}
	if l.Log2Size == log2 {
		p.i++
		if l.EarlyCBF {
			ecbf = 1
		}
		return 0, ecbf, nil
	}
	half := 1 << (log2 - 1)
	split = 1
	for i := 0; i < 4; i++ {
		cs, ce, err := p.node(log2-1, x+(i&1)*half, y+(i>>1)*half)
		if err != nil {
			return 0, 0, err
		}
		if log2 == 3 {
			continue
		}
		split |= placeChild(log2, cs, i)
		ecbf |= placeChild(log2, ce, i)
	}
	return split, ecbf, nil
}

// Shrink merges every group of four sibling units that carry no coded
// coefficients into their parent, repeatedly, without growing past
// 2^maxLog2. Merged parents carry no early-CBF hint, so they are coded
// as prediction only. The input is not modified; running Shrink on its
// own output changes nothing.
func Shrink(leaves []Leaf, maxLog2 int, is422 bool) []Leaf {
	out := append([]Leaf(nil), leaves...)
	for {
		merged := false
		for i := 0; i+4 <= len(out); i++ {
			if !mergeable(out[i:i+4], maxLog2, is422) {
				continue
			}
			l := out[i]
			out[i] = Leaf{
				Log2Size: l.Log2Size + 1,
				X:        l.X,
				Y:        l.Y,
				Depth:    l.Depth - 1,
			}
			out = append(out[:i+1], out[i+4:]...)
			merged = true
		}
		if !merged {
			return out
		}
	}
}

func mergeable(q []Leaf, maxLog2 int, is422 bool) bool {
	s := q[0].Log2Size
	if s+1 > maxLog2 || q[0].Depth == 0 {
		return false
	}
	half := 1 << s
	if q[0].X&(2*half-1) != 0 || q[0].Y&(2*half-1) != 0 {
		return false
	}
	for i := range q {
		if q[i].Log2Size != s || q[i].Coded(is422) {
			return false
		}
		if q[i].X != q[0].X+(i&1)*half || q[i].Y != q[0].Y+(i>>1)*half {
			return false
		}
	}
	return true
}
