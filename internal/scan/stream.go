package scan

import (
	"encoding/binary"
	"errors"
)

// Stream layout:
//
//	header   lastX u8, lastY u8, scanIdx u8, lastCSB u8
//	per sub-block, from lastCSB down to 0:
//	  u16 marker  0xBAD0 | nbr<<1 | coded   (nbr bit0 right, bit1 below)
//	              sub-block 0 writes 0xBAD1; its neighbour flags follow from
//	              the sub-blocks read before it
//	  if coded:
//	    u16 sig   bit i set when scan position i is nonzero
//	    u16 gt1   bit i set when |c| > 1, first 8 nonzero in reverse scan only
//	    u16 sign  bit i set when scan position i is negative
//	    u16[]     |c|-1 for every gt1 coefficient and every nonzero past the 8th,
//	              in reverse scan order
//
// All u16 values are little-endian.
const (
	HeaderSize = 4
	markerBase = 0xBAD0
	markerMask = 0xFFF0

	// MaxGt1PerCSB is the number of coefficients per sub-block that carry an
	// explicit greater-than-one flag.
	MaxGt1PerCSB = 8

	// MaxStreamSize bounds the serialization of a 32x32 block.
	MaxStreamSize = HeaderSize + 64*(2+3*2+16*2)
)

// Errors returned by the stream reader.
var (
	ErrCorrupt   = errors.New("scan: corrupt coefficient stream")
	ErrTruncated = errors.New("scan: truncated coefficient stream")
)

// Header is the fixed prefix of a coefficient stream.
type Header struct {
	LastX, LastY int
	ScanIdx      int
	LastCSB      int
}

// SubBlock is one 4x4 group of a parsed stream.
type SubBlock struct {
	Index    int // sub-block scan position
	Raster   int // raster index among the block's sub-blocks
	Coded    bool
	Right    bool // right neighbour coded
	Below    bool // bottom neighbour coded
	Sig      uint16
	Gt1      uint16
	Sign     uint16
	Abs      [16]uint16 // magnitude per scan position
	NumCoded int
}

// Serialize writes the stream for the n×n raster block coeffs
// (n = 1<<log2) into dst and returns the number of bytes written. csbf
// holds one flag per 4x4 sub-block in raster order and lets the caller skip
// sub-blocks known to be zero; when nil every sub-block is inspected. An
// all-zero block writes nothing and returns 0.
func Serialize(dst []byte, coeffs []int16, log2, scanIdx int, csbf []uint8) int {
	n := 1 << log2
	w := n >> 2
	var flags [64]uint8
	for r := 0; r < w*w; r++ {
		if csbf == nil || csbf[r] != 0 {
			flags[r] = csbNonZero(coeffs, n, r%w, r/w)
		}
	}
	order := CSBOrder(log2, scanIdx)
	pos := &Order4x4[scanIdx]

	lastCSB, lastPos := -1, -1
	for i := len(order) - 1; i >= 0 && lastCSB < 0; i-- {
		r := int(order[i])
		if flags[r] == 0 {
			continue
		}
		xs, ys := (r%w)*4, (r/w)*4
		for p := 15; p >= 0; p-- {
			if coeffs[(ys+int(pos[p])>>2)*n+xs+int(pos[p])&3] != 0 {
				lastCSB, lastPos = i, p
				break
			}
		}
	}
	if lastCSB < 0 {
		return 0
	}
	r := int(order[lastCSB])
	dst[0] = uint8((r%w)*4 + int(pos[lastPos])&3)
	dst[1] = uint8((r/w)*4 + int(pos[lastPos])>>2)
	dst[2] = uint8(scanIdx)
	dst[3] = uint8(lastCSB)
	off := HeaderSize

	for i := lastCSB; i >= 0; i-- {
		r := int(order[i])
		xs, ys := r%w, r/w
		var nbr uint16
		if i > 0 && xs+1 < w && flags[r+1] != 0 {
			nbr |= 1
		}
		if i > 0 && ys+1 < w && flags[r+w] != 0 {
			nbr |= 2
		}
		coded := flags[r] != 0 || i == 0 || i == lastCSB
		marker := uint16(markerBase) | nbr<<1
		if coded {
			marker |= 1
		}
		binary.LittleEndian.PutUint16(dst[off:], marker)
		off += 2
		if !coded {
			continue
		}
		var sig, gt1, sign uint16
		var abs [16]uint16
		for p := 0; p < 16; p++ {
			c := coeffs[(ys*4+int(pos[p])>>2)*n+xs*4+int(pos[p])&3]
			if c == 0 {
				continue
			}
			sig |= 1 << p
			if c < 0 {
				sign |= 1 << p
				c = -c
			}
			abs[p] = uint16(c)
		}
		hdr := off
		off += 6
		k := 0
		for p := 15; p >= 0; p-- {
			if abs[p] == 0 {
				continue
			}
			if k < MaxGt1PerCSB {
				if abs[p] > 1 {
					gt1 |= 1 << p
					binary.LittleEndian.PutUint16(dst[off:], abs[p]-1)
					off += 2
				}
			} else {
				binary.LittleEndian.PutUint16(dst[off:], abs[p]-1)
				off += 2
			}
			k++
		}
		binary.LittleEndian.PutUint16(dst[hdr:], sig)
		binary.LittleEndian.PutUint16(dst[hdr+2:], gt1)
		binary.LittleEndian.PutUint16(dst[hdr+4:], sign)
	}
	return off
}

func csbNonZero(coeffs []int16, n, xs, ys int) uint8 {
	for y := ys * 4; y < ys*4+4; y++ {
		for x := xs * 4; x < xs*4+4; x++ {
			if coeffs[y*n+x] != 0 {
				return 1
			}
		}
	}
	return 0
}

// Reader walks the sub-blocks of a coefficient stream.
type Reader struct {
	buf   []byte
	off   int
	log2  int
	next  int
	coded [64]bool // by raster index, for the sub-blocks read so far
	Header
}

// NewReader parses the header of a stream for an n×n block, n = 1<<log2.
func NewReader(buf []byte, log2 int) (*Reader, error) {
	if len(buf) < HeaderSize {
		return nil, ErrTruncated
	}
	h := Header{LastX: int(buf[0]), LastY: int(buf[1]), ScanIdx: int(buf[2]), LastCSB: int(buf[3])}
	n := 1 << log2
	w := n >> 2
	if h.ScanIdx > Vert || h.LastX >= n || h.LastY >= n || h.LastCSB >= w*w {
		return nil, ErrCorrupt
	}
	return &Reader{buf: buf, off: HeaderSize, log2: log2, next: h.LastCSB, Header: h}, nil
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.off }

// LastPos returns the scan position of the last coefficient inside the
// last coded sub-block.
func (r *Reader) LastPos() int {
	p := (r.LastY&3)*4 + r.LastX&3
	for i, v := range Order4x4[r.ScanIdx] {
		if int(v) == p {
			return i
		}
	}
	return 0
}

// Next parses the next sub-block into sb. It returns false once sub-block
// 0 has been consumed.
func (r *Reader) Next(sb *SubBlock) (bool, error) {
	if r.next < 0 {
		return false, nil
	}
	i := r.next
	r.next--
	word, err := r.u16()
	if err != nil {
		return false, err
	}
	if word&markerMask != markerBase {
		return false, ErrCorrupt
	}
	w := 1 << (r.log2 - 2)
	*sb = SubBlock{
		Index:  i,
		Raster: int(CSBOrder(r.log2, r.ScanIdx)[i]),
		Coded:  word&1 != 0,
		Right:  word&2 != 0,
		Below:  word&4 != 0,
	}
	right := sb.Raster%w < w-1 && r.coded[sb.Raster+1]
	below := sb.Raster/w < w-1 && r.coded[sb.Raster+w]
	if i == 0 {
		if sb.Right || sb.Below {
			return false, ErrCorrupt
		}
		sb.Right, sb.Below = right, below
	} else if sb.Right != right || sb.Below != below {
		return false, ErrCorrupt
	}
	r.coded[sb.Raster] = sb.Coded
	if !sb.Coded {
		if i == r.LastCSB || i == 0 {
			return false, ErrCorrupt
		}
		return true, nil
	}
	if sb.Sig, err = r.u16(); err != nil {
		return false, err
	}
	if sb.Gt1, err = r.u16(); err != nil {
		return false, err
	}
	if sb.Sign, err = r.u16(); err != nil {
		return false, err
	}
	if sb.Sign&^sb.Sig != 0 || sb.Gt1&^sb.Sig != 0 {
		return false, ErrCorrupt
	}
	if i == r.LastCSB {
		lp := r.LastPos()
		if sb.Sig>>lp != 1 {
			return false, ErrCorrupt
		}
	} else if i > 0 && sb.Sig == 0 {
		return false, ErrCorrupt
	}
	k := 0
	for p := 15; p >= 0; p-- {
		if sb.Sig&(1<<p) == 0 {
			continue
		}
		a := 1
		if k >= MaxGt1PerCSB || sb.Gt1&(1<<p) != 0 {
			esc, err := r.u16()
			if err != nil {
				return false, err
			}
			a += int(esc)
			if k < MaxGt1PerCSB && a < 2 {
				return false, ErrCorrupt
			}
		}
		if a > 32767 {
			return false, ErrCorrupt
		}
		sb.Abs[p] = uint16(a)
		k++
	}
	if gt1Beyond := sb.Gt1 &^ firstN(sb.Sig, MaxGt1PerCSB); gt1Beyond != 0 {
		return false, ErrCorrupt
	}
	sb.NumCoded = k
	return true, nil
}

func (r *Reader) u16() (uint16, error) {
	if r.off+2 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

// firstN keeps the n highest set bits of m.
func firstN(m uint16, n int) uint16 {
	var out uint16
	for p := 15; p >= 0 && n > 0; p-- {
		if m&(1<<p) != 0 {
			out |= 1 << p
			n--
		}
	}
	return out
}

// Descan rebuilds the n×n raster coefficient block (n = 1<<log2) encoded
// in src and returns the number of bytes consumed. An empty src decodes to
// an all-zero block.
func Descan(src []byte, log2 int, dst []int16) (int, error) {
	n := 1 << log2
	clear(dst[:n*n])
	if len(src) == 0 {
		return 0, nil
	}
	r, err := NewReader(src, log2)
	if err != nil {
		return 0, err
	}
	if CSBOrder(log2, r.ScanIdx)[r.LastCSB] != uint8((r.LastY>>2)*(n>>2)+r.LastX>>2) {
		return 0, ErrCorrupt
	}
	w := n >> 2
	pos := &Order4x4[r.ScanIdx]
	var sb SubBlock
	for {
		ok, err := r.Next(&sb)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		if !sb.Coded {
			continue
		}
		xs, ys := (sb.Raster%w)*4, (sb.Raster/w)*4
		for p := 0; p < 16; p++ {
			if sb.Abs[p] == 0 {
				continue
			}
			v := int16(sb.Abs[p])
			if sb.Sign&(1<<p) != 0 {
				v = -v
			}
			dst[(ys+int(pos[p])>>2)*n+xs+int(pos[p])&3] = v
		}
	}
	return r.Offset(), nil
}
