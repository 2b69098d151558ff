package hevcrdo

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/deepteams/hevcrdo/internal/cabac"
	"github.com/deepteams/hevcrdo/internal/hevc"
	"github.com/deepteams/hevcrdo/internal/pool"
	"github.com/deepteams/hevcrdo/internal/quant"
	"github.com/deepteams/hevcrdo/internal/rdo"
)

// Encoder decides pictures with a fixed set of options. The derived QP
// tables are shared read-only, so one Encoder may run several pictures
// concurrently.
type Encoder struct {
	opts    Options
	qc      *quant.Context
	cfg     rdo.Config
	lambda  int64 // SSD lambda of the picture QP, Q8
	ctbLog2 int
	minLog2 int
}

// NewEncoder validates opts and derives the per-QP tables. A nil opts
// selects DefaultOptions.
func NewEncoder(opts *Options) (*Encoder, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	o := *opts
	o.CTBSize = resolveCTBSize(o.CTBSize)
	o.MinCUSize = resolveMinCUSize(o.MinCUSize)
	if o.Workers == 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}

	e := &Encoder{
		opts:    o,
		ctbLog2: hevc.Log2(o.CTBSize),
		minLog2: hevc.Log2(o.MinCUSize),
	}
	e.qc = quant.NewContext(quant.Params{
		MinQP:          hevc.MinQP,
		MaxQP:          hevc.MaxQP,
		BitDepth:       hevc.BitDepth,
		ChromaFormat:   o.ChromaFormat,
		SliceType:      o.SliceType,
		TemporalLayer:  o.TemporalLayer,
		NumBFrames:     o.NumBFrames,
		ConstLambdaMod: o.ConstLambdaModifier,
		Recipe:         o.Recipe,
		CbQPOffset:     o.CbQPOffset,
		CrQPOffset:     o.CrQPOffset,
	})
	e.cfg = rdo.Config{
		Preset:          o.Preset,
		SliceType:       o.SliceType,
		ChromaFormat:    o.ChromaFormat,
		MinCULog2:       hevc.Log2(o.MinCUSize),
		RDOQ:            o.RDOQ,
		SignHiding:      o.SignHiding,
		ZeroCBF:         o.ZeroCBF,
		ChromaRDO:       o.ChromaRDO,
		QuantRounding:   o.QuantRounding,
		MaxInterTUDepth: resolveInterTUDepth(o.MaxInterTUDepth, o.Preset),
		NoisePreserve:   o.NoisePreserve,
		NoiseStrength:   o.NoiseStrength,
		SpatialSSD:      o.SpatialSSD,
		CUQPDelta:       o.CUQPDelta,
		SearchRange:     resolveSearchRange(o.SearchRange, o.Preset),
	}
	e.lambda = e.qc.At(o.QP).Lambda().SSDQ8
	return e, nil
}

// Options returns the effective options, sentinel fields resolved.
func (e *Encoder) Options() Options { return e.opts }

// Encode decides src with opts. It is shorthand for NewEncoder followed
// by Encoder.Encode.
func Encode(ctx context.Context, src, ref *Picture, opts *Options) (*Result, error) {
	e, err := NewEncoder(opts)
	if err != nil {
		return nil, err
	}
	return e.Encode(ctx, src, ref)
}

// Encode decides every CU of src. ref is the reference picture of P and B
// slices; it is ignored for I slices and may be nil, in which case every
// CU is intra. The width and height of src must be multiples of the
// minimum CU size.
//
// CTB rows are decided in parallel by up to Options.Workers goroutines.
// Row r starts from the entropy contexts saved after the second CTB of row
// r-1, and a CTB is only decided once its top-right neighbour is, so the
// result does not depend on the number of workers.
func (e *Encoder) Encode(ctx context.Context, src, ref *Picture) (*Result, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", ErrInvalidPicture)
	}
	w, h := src.Y.Width, src.Y.Height
	if w <= 0 || h <= 0 || w%e.opts.MinCUSize != 0 || h%e.opts.MinCUSize != 0 {
		return nil, fmt.Errorf("%w: %dx%d is not a multiple of the minimum CU size %d", ErrInvalidPicture, w, h, e.opts.MinCUSize)
	}
	if err := checkPicture(src, w, h, e.opts.ChromaFormat); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if e.opts.SliceType == SliceI {
		ref = nil
	}
	if ref != nil {
		if err := checkPicture(ref, w, h, e.opts.ChromaFormat); err != nil {
			return nil, fmt.Errorf("reference: %w", err)
		}
	}

	size := e.opts.CTBSize
	cols, rows := (w+size-1)/size, (h+size-1)/size
	p := &picture{
		src:   src,
		ref:   ref,
		recon: NewPicture(w, h, e.opts.ChromaFormat),
		grid:  rdo.NewGrid(w, h),
		gate:  newRowGate(rows),
		cols:  cols,
		rows:  make([]rowResult, rows),
		wpp:   make([]cabac.Contexts, rows),
	}

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, p.gate.abort)
	defer stop()

	var next atomic.Int32
	for i := 0; i < min(e.opts.Workers, rows); i++ {
		g.Go(func() (err error) {
			defer hevc.Recover(&err)
			wk := e.newWorker(p)
			for {
				r := int(next.Add(1) - 1)
				if r >= rows {
					return nil
				}
				if err := wk.row(gctx, r); err != nil {
					return err
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		// The gate only aborts after another failure or a cancellation.
		if errors.Is(err, errGateAborted) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return e.assemble(p), nil
}

// picture is the state shared by the workers of one Encode call. Row r
// of rows and wpp is written by the worker owning the row only.
type picture struct {
	src, ref, recon *Picture
	grid            *rdo.Grid
	gate            *rowGate
	cols            int
	rows            []rowResult
	wpp             []cabac.Contexts // contexts after CTB 1 of each row
}

type rowResult struct {
	cus  []*Decision
	cost int64
	ctx  cabac.Contexts
}

// worker decides CTB rows with its own Selector and scratch.
type worker struct {
	e   *Encoder
	p   *picture
	sel *rdo.Selector
	in  rdo.CUInput

	cus   []*Decision
	cells [hevc.MaxCULog2 + 1][]rdo.Cell // per depth
}

func (e *Encoder) newWorker(p *picture) *worker {
	wk := &worker{e: e, p: p, sel: rdo.NewSelector(e.cfg, e.qc, p.grid)}
	wk.in = rdo.CUInput{
		QP:     e.opts.QP,
		PredQP: e.opts.QP,
		Src:    p.src,
		Recon:  p.recon,
		Ref:    p.ref,
	}
	return wk
}

// row decides every CTB of row r, left to right.
func (wk *worker) row(ctx context.Context, r int) error {
	e, p := wk.e, wk.p
	size := e.opts.CTBSize
	cols := int32(p.cols)
	wk.cus = nil

	var cc cabac.Contexts
	var cost int64
	for c := 0; c < p.cols; c++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r > 0 {
			if err := p.gate.wait(r-1, min(int32(c)+2, cols)); err != nil {
				return err
			}
		}
		if c == 0 {
			if r == 0 || p.cols == 1 {
				cc = cabac.Init(e.opts.SliceType, e.opts.QP)
			} else {
				cc = p.wpp[r-1]
			}
		}

		wk.in.CTBY, wk.in.LimitY = r*size, (r+1)*size
		ctbCost, err := wk.cu(c*size, r*size, e.ctbLog2, 0, &cc)
		if err != nil {
			return fmt.Errorf("CTB (%d,%d): %w", c, r, err)
		}
		cost += ctbCost

		if c == 1 {
			p.wpp[r] = cc
		}
		p.gate.signal(r, int32(c)+1)
	}
	p.rows[r] = rowResult{cus: wk.cus, cost: cost, ctx: cc}
	return nil
}

// cu decides the CU at (x, y) and, where allowed, its quad split. It
// returns the cost of the kept path, split_cu_flag included, and leaves
// the contexts of that path in cc.
func (wk *worker) cu(x, y, log2, depth int, cc *cabac.Contexts) (int64, error) {
	e, p := wk.e, wk.p
	size := 1 << log2
	if x >= p.src.Y.Width || y >= p.src.Y.Height {
		return 0, nil
	}
	if x+size > p.src.Y.Width || y+size > p.src.Y.Height {
		// Straddles the picture edge: split without a flag.
		hevc.Assert(log2 > e.minLog2, "hevcrdo: CU at (%d,%d) crosses the picture edge at the minimum size", x, y)
		return wk.split(x, y, log2, depth, cc, false)
	}
	if log2 == e.minLog2 {
		d, err := wk.decide(x, y, log2, depth, cc)
		if err != nil {
			return 0, err
		}
		wk.cus = append(wk.cus, d)
		return d.Cost, nil
	}

	start := *cc
	whole := start
	flag := whole.SplitCU(false, p.grid.SplitCtxInc(x, y, depth))
	d, err := wk.decide(x, y, log2, depth, &whole)
	if err != nil {
		return 0, err
	}
	wholeCost := d.Cost + quant.RateCost(flag, e.lambda)
	if e.opts.Preset >= 4 && d.Pred == hevc.PredSkip {
		wk.cus = append(wk.cus, d)
		*cc = whole
		return wholeCost, nil
	}

	saved := wk.save(x, y, log2, depth)
	defer pool.PutPlanes(saved)
	p.grid.Fill(x, y, size, size, rdo.Cell{})

	mark := len(wk.cus)
	split := start
	splitCost, err := wk.split(x, y, log2, depth, &split, true)
	if err != nil {
		return 0, err
	}
	if splitCost < wholeCost {
		*cc = split
		return splitCost, nil
	}
	wk.restore(x, y, log2, depth, saved)
	wk.cus = append(wk.cus[:mark], d)
	*cc = whole
	return wholeCost, nil
}

// split decides the four sub-CUs of (x, y) in z-order. coded adds the
// split_cu_flag.
func (wk *worker) split(x, y, log2, depth int, cc *cabac.Contexts, coded bool) (int64, error) {
	var cost int64
	if coded {
		cost = quant.RateCost(cc.SplitCU(true, wk.p.grid.SplitCtxInc(x, y, depth)), wk.e.lambda)
	}
	half := 1 << (log2 - 1)
	for k := 0; k < 4; k++ {
		c, err := wk.cu(x+(k&1)*half, y+(k>>1)*half, log2-1, depth+1, cc)
		if err != nil {
			return 0, err
		}
		cost += c
	}
	return cost, nil
}

func (wk *worker) decide(x, y, log2, depth int, cc *cabac.Contexts) (*Decision, error) {
	in := &wk.in
	in.X, in.Y, in.Log2, in.Depth = x, y, log2, depth
	return wk.sel.EvaluateCU(in, cc)
}

// save copies the reconstruction and grid cells of the CU at (x, y) aside.
func (wk *worker) save(x, y, log2, depth int) [3][]byte {
	size := 1 << log2
	sy := wk.e.opts.ChromaFormat.ShiftY()
	cw, ch := size>>1, size>>sy
	b := pool.GetPlanes(size*size, cw*ch)
	r := wk.p.recon
	hevc.CopyRect(b[0], size, r.Y.Block(x, y), r.Y.Stride, size, size)
	hevc.CopyRect(b[1], cw, r.Cb.Block(x>>1, y>>sy), r.Cb.Stride, cw, ch)
	hevc.CopyRect(b[2], cw, r.Cr.Block(x>>1, y>>sy), r.Cr.Stride, cw, ch)
	wk.cells[depth] = wk.p.grid.Save(x, y, size, wk.cells[depth][:0])
	return b
}

// restore undoes everything decided inside the CU since save.
func (wk *worker) restore(x, y, log2, depth int, b [3][]byte) {
	size := 1 << log2
	sy := wk.e.opts.ChromaFormat.ShiftY()
	cw, ch := size>>1, size>>sy
	r := wk.p.recon
	hevc.CopyRect(r.Y.Block(x, y), r.Y.Stride, b[0], size, size, size)
	hevc.CopyRect(r.Cb.Block(x>>1, y>>sy), r.Cb.Stride, b[1], cw, cw, ch)
	hevc.CopyRect(r.Cr.Block(x>>1, y>>sy), r.Cr.Stride, b[2], cw, cw, ch)
	wk.p.grid.Restore(x, y, size, wk.cells[depth])
}

func (e *Encoder) assemble(p *picture) *Result {
	res := &Result{
		Width:       p.src.Y.Width,
		Height:      p.src.Y.Height,
		CTBSize:     e.opts.CTBSize,
		Recon:       p.recon,
		RowContexts: make([]Contexts, len(p.rows)),
	}
	for r := range p.rows {
		row := &p.rows[r]
		res.CUs = append(res.CUs, row.cus...)
		res.Cost += row.cost
		res.RowContexts[r] = row.ctx
	}
	for _, d := range res.CUs {
		res.Bits.add(d.Bits)
		res.Dist += d.Dist
	}
	return res
}
