package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/deepteams/hevcrdo"
)

// A dump is a zstd stream holding a header and one record per frame. All
// integers are little-endian.
//
//	header: "HRD1" width:u32 height:u32 format:u8 preset:u8 qp:u8
//	frame:  'F' index:u32 slice:u8 ctb:u16 header,cbf,residual:u64 dist:i64 cost:i64 cus:u32 CU...
//	CU:     x,y:u32 log2,pred,part,chroma,qp:u8 cost,dist:i64 header,cbf,residual:u32
//	        pus:u8 PU... tus:u16 TU... stream:u32 bytes
//	PU:     x,y,w,h,mode,merge,mergeIdx,mvpIdx:u8 mv,mvd:2×i16
//	TU:     x,y:u16 log2,plane,cbf:u8 offset,length:u32
const (
	dumpMagic    = "HRD1"
	dumpFrameTag = 'F'
)

var errBadDump = errors.New("not a hevcrdo dump")

type dumpWriter struct {
	zw  *zstd.Encoder
	bw  *bufio.Writer
	buf []byte
}

func newDumpWriter(w io.Writer, width, height int, opts *hevcrdo.Options) (*dumpWriter, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	d := &dumpWriter{zw: zw, bw: bufio.NewWriter(zw)}
	b := append(d.buf[:0], dumpMagic...)
	b = binary.LittleEndian.AppendUint32(b, uint32(width))
	b = binary.LittleEndian.AppendUint32(b, uint32(height))
	b = append(b, byte(opts.ChromaFormat), byte(opts.Preset), byte(opts.QP))
	d.buf = b
	if _, err := d.bw.Write(b); err != nil {
		zw.Close()
		return nil, err
	}
	return d, nil
}

// WriteFrame appends the decisions of one frame.
func (d *dumpWriter) WriteFrame(index int, slice hevcrdo.SliceType, res *hevcrdo.Result) error {
	le := binary.LittleEndian
	b := append(d.buf[:0], dumpFrameTag)
	b = le.AppendUint32(b, uint32(index))
	b = append(b, byte(slice))
	b = le.AppendUint16(b, uint16(res.CTBSize))
	b = le.AppendUint64(b, res.Bits.Header)
	b = le.AppendUint64(b, res.Bits.CBF)
	b = le.AppendUint64(b, res.Bits.Residual)
	b = le.AppendUint64(b, uint64(res.Dist))
	b = le.AppendUint64(b, uint64(res.Cost))
	b = le.AppendUint32(b, uint32(len(res.CUs)))
	for _, cu := range res.CUs {
		b = le.AppendUint32(b, uint32(cu.X))
		b = le.AppendUint32(b, uint32(cu.Y))
		b = append(b, byte(cu.Log2), byte(cu.Pred), byte(cu.Part), byte(cu.ChromaIdx), byte(cu.QP))
		b = le.AppendUint64(b, uint64(cu.Cost))
		b = le.AppendUint64(b, uint64(cu.Dist))
		b = le.AppendUint32(b, cu.Bits.Header)
		b = le.AppendUint32(b, cu.Bits.CBF)
		b = le.AppendUint32(b, cu.Bits.Residual)

		b = append(b, byte(len(cu.PUs)))
		for _, pu := range cu.PUs {
			b = append(b, byte(pu.X), byte(pu.Y), byte(pu.W), byte(pu.H),
				byte(pu.LumaMode), b2u(pu.Merge), byte(pu.MergeIdx), byte(pu.MVPIdx))
			b = appendMV(b, pu.MV)
			b = appendMV(b, pu.MVD)
		}

		b = le.AppendUint16(b, uint16(len(cu.TUs)))
		for _, tu := range cu.TUs {
			b = le.AppendUint16(b, uint16(tu.X))
			b = le.AppendUint16(b, uint16(tu.Y))
			b = append(b, byte(tu.Log2), byte(tu.Plane), b2u(tu.CBF))
			b = le.AppendUint32(b, uint32(tu.Offset))
			b = le.AppendUint32(b, uint32(tu.Length))
		}

		b = le.AppendUint32(b, uint32(len(cu.Stream)))
		b = append(b, cu.Stream...)
	}
	d.buf = b
	_, err := d.bw.Write(b)
	return err
}

// Close flushes the dump. It does not close the underlying writer.
func (d *dumpWriter) Close() error {
	if err := d.bw.Flush(); err != nil {
		d.zw.Close()
		return err
	}
	return d.zw.Close()
}

func appendMV(b []byte, mv hevcrdo.MV) []byte {
	b = binary.LittleEndian.AppendUint16(b, uint16(mv.X))
	return binary.LittleEndian.AppendUint16(b, uint16(mv.Y))
}

func b2u(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// dumpFrame is one frame read back from a dump.
type dumpFrame struct {
	Index   int
	Slice   hevcrdo.SliceType
	CTBSize int
	Bits    hevcrdo.BitTotals
	Dist    int64
	Cost    int64
	CUs     []*hevcrdo.Decision
}

type dumpReader struct {
	zr *zstd.Decoder
	r  *bufio.Reader
	le byteReader

	Width, Height int
	Format        hevcrdo.ChromaFormat
	Preset, QP    int
}

func newDumpReader(r io.Reader) (*dumpReader, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	d := &dumpReader{zr: zr, r: bufio.NewReader(zr)}
	d.le.r = d.r

	var magic [len(dumpMagic)]byte
	if _, err := io.ReadFull(d.r, magic[:]); err != nil || string(magic[:]) != dumpMagic {
		zr.Close()
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		return nil, errBadDump
	}
	d.Width = int(d.le.u32())
	d.Height = int(d.le.u32())
	d.Format = hevcrdo.ChromaFormat(d.le.u8())
	d.Preset = int(d.le.u8())
	d.QP = int(d.le.u8())
	if d.le.err != nil {
		zr.Close()
		return nil, fmt.Errorf("%w: %v", errBadDump, d.le.err)
	}
	return d, nil
}

// Next returns the next frame, or io.EOF after the last one.
func (d *dumpReader) Next() (*dumpFrame, error) {
	tag, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag != dumpFrameTag {
		return nil, fmt.Errorf("%w: unexpected record %q", errBadDump, tag)
	}
	le := &d.le
	f := &dumpFrame{
		Index:   int(le.u32()),
		Slice:   hevcrdo.SliceType(le.u8()),
		CTBSize: int(le.u16()),
	}
	f.Bits.Header = le.u64()
	f.Bits.CBF = le.u64()
	f.Bits.Residual = le.u64()
	f.Dist = int64(le.u64())
	f.Cost = int64(le.u64())
	n := int(le.u32())
	for i := 0; i < n && le.err == nil; i++ {
		cu := &hevcrdo.Decision{
			X:         int(le.u32()),
			Y:         int(le.u32()),
			Log2:      int(le.u8()),
			Pred:      hevcrdo.PredMode(le.u8()),
			Part:      hevcrdo.PartMode(le.u8()),
			ChromaIdx: int(le.u8()),
			QP:        int(le.u8()),
		}
		cu.Cost = int64(le.u64())
		cu.Dist = int64(le.u64())
		cu.Bits.Header = le.u32()
		cu.Bits.CBF = le.u32()
		cu.Bits.Residual = le.u32()

		if n := int(le.u8()); n > 0 {
			cu.PUs = make([]hevcrdo.PU, n)
		}
		for j := range cu.PUs {
			pu := &cu.PUs[j]
			pu.X, pu.Y, pu.W, pu.H = int(le.u8()), int(le.u8()), int(le.u8()), int(le.u8())
			pu.LumaMode = int(le.u8())
			pu.Merge = le.u8() != 0
			pu.MergeIdx = int(le.u8())
			pu.MVPIdx = int(le.u8())
			pu.MV = le.mv()
			pu.MVD = le.mv()
		}

		if n := int(le.u16()); n > 0 {
			cu.TUs = make([]hevcrdo.TU, n)
		}
		for j := range cu.TUs {
			tu := &cu.TUs[j]
			tu.X, tu.Y = int(le.u16()), int(le.u16())
			tu.Log2, tu.Plane = int(le.u8()), int(le.u8())
			tu.CBF = le.u8() != 0
			tu.Offset, tu.Length = int(le.u32()), int(le.u32())
		}

		cu.Stream = le.bytes(int(le.u32()))
		f.CUs = append(f.CUs, cu)
	}
	if le.err != nil {
		return nil, fmt.Errorf("%w: frame %d: %v", errBadDump, f.Index, le.err)
	}
	return f, nil
}

func (d *dumpReader) Close() { d.zr.Close() }

// byteReader reads little-endian fields and keeps the first error.
type byteReader struct {
	r   *bufio.Reader
	b   [8]byte
	err error
}

func (br *byteReader) read(n int) []byte {
	if br.err != nil {
		return br.b[:n:n]
	}
	if _, err := io.ReadFull(br.r, br.b[:n]); err != nil {
		br.err = err
		clear(br.b[:])
	}
	return br.b[:n:n]
}

func (br *byteReader) u8() uint8   { return br.read(1)[0] }
func (br *byteReader) u16() uint16 { return binary.LittleEndian.Uint16(br.read(2)) }
func (br *byteReader) u32() uint32 { return binary.LittleEndian.Uint32(br.read(4)) }
func (br *byteReader) u64() uint64 { return binary.LittleEndian.Uint64(br.read(8)) }

func (br *byteReader) mv() hevcrdo.MV {
	return hevcrdo.MV{X: int16(br.u16()), Y: int16(br.u16())}
}

func (br *byteReader) bytes(n int) []byte {
	if br.err != nil || n == 0 {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(br.r, b); err != nil {
		br.err = err
		return nil
	}
	return b
}

// --- dump ---

func runDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	listCUs := fs.Bool("cus", false, "list every CU")
	listTUs := fs.Bool("tus", false, "list the TUs of every CU (implies -cus)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("dump: missing input file\nUsage: hevcrdo dump [options] <file.hrd>")
	}
	inputPath := fs.Arg(0)

	in, err := openInput(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()

	d, err := newDumpReader(in)
	if err != nil {
		return fmt.Errorf("dump: %s: %w", inputPath, err)
	}
	defer d.Close()

	fmt.Printf("Dimensions: %d x %d (%s)\n", d.Width, d.Height, d.Format)
	fmt.Printf("Preset:     %d (QP %d)\n", d.Preset, d.QP)
	frames := 0
	for {
		f, err := d.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("dump: %w", err)
		}
		frames++
		fmt.Printf("frame %d %s: %d CUs, %.0f bits, dist %d, cost %d\n",
			f.Index, f.Slice, len(f.CUs), bitsOf(f.Bits.Total()), f.Dist, f.Cost)
		if !*listCUs && !*listTUs {
			continue
		}
		for _, cu := range f.CUs {
			n := 1 << cu.Log2
			fmt.Printf("  CU %2dx%-2d (%4d,%4d) %-5s %-6s cost %d dist %d bits %.1f\n",
				n, n, cu.X, cu.Y, cu.Pred, cu.Part, cu.Cost, cu.Dist,
				bitsOf(uint64(cu.Bits.Total())))
			if !*listTUs {
				continue
			}
			for _, tu := range cu.TUs {
				fmt.Printf("    TU plane %d %2dx%-2d (%3d,%3d) cbf %v bytes %d\n",
					tu.Plane, 1<<tu.Log2, 1<<tu.Log2, tu.X, tu.Y, tu.CBF, tu.Length)
			}
		}
	}
	fmt.Printf("Frames:     %d\n", frames)
	if fi, err := os.Stat(inputPath); err == nil && inputPath != "-" {
		fmt.Printf("File size:  %d bytes\n", fi.Size())
	}
	return nil
}
