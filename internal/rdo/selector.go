package rdo

import (
	"math"

	"github.com/deepteams/hevcrdo/internal/cabac"
	"github.com/deepteams/hevcrdo/internal/dsp"
	"github.com/deepteams/hevcrdo/internal/hevc"
	"github.com/deepteams/hevcrdo/internal/predict"
	"github.com/deepteams/hevcrdo/internal/quant"
	"github.com/deepteams/hevcrdo/internal/slot"
	"github.com/deepteams/hevcrdo/internal/tq"
	"github.com/deepteams/hevcrdo/internal/tutree"
)

// Picture is the luma and chroma planes of one picture.
type Picture struct {
	Y, Cb, Cr hevc.Plane
}

func (p *Picture) plane(i int) *hevc.Plane {
	switch i {
	case 1:
		return &p.Cb
	case 2:
		return &p.Cr
	}
	return &p.Y
}

// CUInput locates one CU and the pictures it is decided against.
type CUInput struct {
	X, Y  int // luma position in the picture
	Log2  int
	Depth int // below the CTB

	QP, PredQP int

	// CTBY is the top luma row of the CTB row and LimitY the first row
	// below it. Neighbours at or below LimitY are never available.
	CTBY, LimitY int

	Src   *Picture
	Recon *Picture
	// Ref is the reference picture of inter candidates; nil restricts the
	// CU to intra.
	Ref *Picture
}

// PU is the prediction data of one prediction unit. X and Y are luma
// offsets inside the CU.
type PU struct {
	X, Y, W, H int

	LumaMode int

	Merge    bool
	MergeIdx int
	MV       hevc.MV
	MVD      hevc.MV
	MVPIdx   int
}

// TU is one coded block of the winning candidate. X and Y are in the
// samples of its plane.
type TU struct {
	X, Y   int
	Log2   int
	Plane  int
	CBF    bool
	Offset int // into Decision.Stream
	Length int
}

// Bits is an estimated bit count split for rate control, in Q12.
type Bits struct {
	Header   uint32
	CBF      uint32
	Residual uint32
}

// Total returns the sum of the three parts.
func (b Bits) Total() uint32 { return b.Header + b.CBF + b.Residual }

// Decision is the committed outcome of one CU.
type Decision struct {
	X, Y, Log2 int
	Pred       hevc.PredMode
	Part       hevc.PartMode
	PUs        []PU
	ChromaIdx  int // intra_chroma_pred_mode
	TUs        []TU
	Stream     []byte
	QP         int

	// Cost is the rate-distortion cost the candidate won with; Dist is
	// the spatial SSD of the committed reconstruction over all planes.
	Cost int64
	Dist int64
	Bits Bits
}

// candidate is a proposed interpretation of the CU.
type candidate struct {
	pred      hevc.PredMode
	part      hevc.PartMode
	pus       [4]PU
	tuDepth   int // intra: uniform transform depth below the CU
	leaves    []tutree.Leaf
	chromaIdx int
	notCoded  bool // inter with rqt_root_cbf = 0
	rdoq      bool
}

func (c *candidate) reset(pred hevc.PredMode, part hevc.PartMode) {
	leaves := c.leaves[:0]
	*c = candidate{pred: pred, part: part, chromaIdx: hevc.ChromaDM, leaves: leaves}
}

// puAt returns the prediction unit covering the CU offset (x, y).
func (c *candidate) puAt(x, y int) *PU {
	for i := 0; i < c.part.NumParts(); i++ {
		p := &c.pus[i]
		if x >= p.X && y >= p.Y && x < p.X+p.W && y < p.Y+p.H {
			return p
		}
	}
	return &c.pus[0]
}

// state is everything one evaluated candidate produced.
type state struct {
	cand   candidate
	ctx    cabac.Contexts
	tus    []TU
	stream []byte
	dist   int64
	bits   Bits
	cost   int64
	recon  [3][]byte
}

func (st *state) reset(c *candidate, init *cabac.Contexts) {
	leaves := st.cand.leaves[:0]
	st.cand = *c
	st.cand.leaves = append(leaves, c.leaves...)
	st.ctx = *init
	st.tus = st.tus[:0]
	st.stream = st.stream[:0]
	st.dist, st.cost = 0, 0
	st.bits = Bits{}
}

type lambdas struct {
	ssd, chroma, satd int64 // Q8
	mod               float64
}

// Selector decides CUs one at a time. It owns all scratch state of the
// decision and must not be shared between goroutines; the quant.Context
// and the Grid may be.
type Selector struct {
	cfg  Config
	qc   *quant.Context
	grid *Grid
	sy   int

	eng tq.Engine
	blk tq.Block

	st       *slot.Pair[state]
	haveBest bool
	cand     candidate

	in     *CUInput
	size   int
	entry  *quant.Entry
	chroma [2]*quant.Entry
	lam    lambdas
	init   cabac.Contexts

	fixed   [2]quant.Rounding // inter, intra
	cuRound [2][4]quant.Rounding
	cuValid [2][4]bool
	firstTU bool

	pred  [3][]byte
	mcBuf []byte
	done  [hevc.MaxCUSize / 4]uint16
	refs  predict.Refs

	lumaAvail, chromaAvail predict.Availability

	ranked    [hevc.NumIntraModes]rankedMode
	shortlist []int
	tree      []byte
}

// NewSelector returns a Selector for one worker. grid receives the
// metadata of every committed CU.
func NewSelector(cfg Config, qc *quant.Context, grid *Grid) *Selector {
	hevc.Assert(!(cfg.RDOQ != RDOQOff && cfg.QuantRounding == RoundTU), "rdo: coefficient RDOQ combined with TU-level rounding")
	if cfg.SearchRange <= 0 {
		cfg.SearchRange = 8
	}
	s := &Selector{cfg: cfg, qc: qc, grid: grid, sy: cfg.ChromaFormat.ShiftY()}
	mk := func() state {
		var st state
		st.recon[0] = make([]byte, hevc.MaxCUSize*hevc.MaxCUSize)
		st.recon[1] = make([]byte, hevc.MaxCUSize*hevc.MaxCUSize/2)
		st.recon[2] = make([]byte, hevc.MaxCUSize*hevc.MaxCUSize/2)
		return st
	}
	s.st = slot.New(mk(), mk())
	s.pred[0] = make([]byte, hevc.MaxCUSize*hevc.MaxCUSize)
	s.pred[1] = make([]byte, hevc.MaxCUSize*hevc.MaxCUSize/2)
	s.pred[2] = make([]byte, hevc.MaxCUSize*hevc.MaxCUSize/2)
	s.mcBuf = make([]byte, hevc.MaxCUSize*hevc.MaxCUSize)
	s.tree = make([]byte, maxStream)
	s.lumaAvail = s.lumaAvailable
	s.chromaAvail = s.chromaAvailable
	return s
}

// EvaluateCU decides the CU described by in. ctx holds the committed
// contexts at the start of the CU and receives those of the winner; the
// winner's reconstruction is written into in.Recon and its metadata into
// the grid. A rejected candidate never touches ctx.
func (s *Selector) EvaluateCU(in *CUInput, ctx *cabac.Contexts) (*Decision, error) {
	hevc.Assert(in.Log2 >= s.cfg.minCULog2() && in.Log2 <= hevc.MaxCULog2, "rdo: invalid CU size %d", 1<<max(in.Log2, 0))
	s.begin(in, ctx)
	if s.cfg.SliceType != hevc.SliceI && in.Ref != nil {
		if err := s.interCandidates(); err != nil {
			return nil, err
		}
	}
	if err := s.intraCandidates(); err != nil {
		return nil, err
	}
	if s.cfg.RDOQ == RDOQCU {
		if err := s.recodeWithRDOQ(); err != nil {
			return nil, err
		}
	}
	return s.commit(ctx), nil
}

func (s *Selector) begin(in *CUInput, ctx *cabac.Contexts) {
	s.in = in
	s.size = 1 << in.Log2
	s.init = *ctx
	s.haveBest = false
	s.cuValid = [2][4]bool{}

	s.entry = s.qc.At(in.QP)
	s.chroma[0] = s.qc.At(s.entry.ChromaQP[0])
	s.chroma[1] = s.qc.At(s.entry.ChromaQP[1])
	l := s.entry.Lambda()
	p := s.qc.Params()
	s.lam = lambdas{ssd: l.SSDQ8, chroma: l.ChromaSSDQ8, satd: l.SATDQ8, mod: p.Modifier(in.QP)}
	s.fixed[0] = quant.Rounding{Fixed: s.entry.Round(false)}
	s.fixed[1] = quant.Rounding{Fixed: s.entry.Round(true)}
}

func (s *Selector) bestCost() int64 {
	if !s.haveBest {
		return math.MaxInt64
	}
	return s.st.Best().cost
}

// try evaluates c and makes it the best candidate when it is strictly
// cheaper, so that earlier candidates win ties.
func (s *Selector) try(c *candidate) (bool, error) {
	st := s.st.Cur()
	limit := s.bestCost()
	ok, err := s.evaluate(c, st, limit)
	if err != nil || !ok || st.cost >= limit {
		return false, err
	}
	s.captureRecon(st)
	s.st.Swap()
	s.haveBest = true
	return true, nil
}

// recodeWithRDOQ re-runs the winner with coefficient RDOQ on every
// transform unit.
func (s *Selector) recodeWithRDOQ() error {
	best := s.st.Best()
	if !s.haveBest || best.cand.pred == hevc.PredSkip || best.cand.notCoded {
		return nil
	}
	s.cand = best.cand
	s.cand.leaves = append([]tutree.Leaf(nil), best.cand.leaves...)
	s.cand.rdoq = true
	_, err := s.try(&s.cand)
	return err
}

func (s *Selector) planeSize(plane int) (w, h int) {
	if plane == 0 {
		return s.size, s.size
	}
	return s.size >> 1, s.size >> s.sy
}

func (s *Selector) planePos(plane int) (x, y int) {
	if plane == 0 {
		return s.in.X, s.in.Y
	}
	return s.in.X >> 1, s.in.Y >> s.sy
}

// captureRecon copies the CU area of the reconstructed picture into st.
func (s *Selector) captureRecon(st *state) {
	for p := 0; p < 3; p++ {
		w, h := s.planeSize(p)
		x, y := s.planePos(p)
		r := s.in.Recon.plane(p)
		hevc.CopyRect(st.recon[p], w, r.Block(x, y), r.Stride, w, h)
	}
}

func (s *Selector) commit(ctx *cabac.Contexts) *Decision {
	best := s.st.Best()
	in := s.in
	c := &best.cand

	var dist int64
	for p := 0; p < 3; p++ {
		w, h := s.planeSize(p)
		x, y := s.planePos(p)
		r, src := s.in.Recon.plane(p), s.in.Src.plane(p)
		hevc.CopyRect(r.Block(x, y), r.Stride, best.recon[p], w, w, h)
		dist += dsp.SSD(src.Block(x, y), src.Stride, r.Block(x, y), r.Stride, w, h)
	}
	*ctx = best.ctx

	n := c.part.NumParts()
	for i := 0; i < n; i++ {
		pu := &c.pus[i]
		cell := Cell{
			Coded: true,
			Intra: c.pred == hevc.PredIntra,
			Skip:  c.pred == hevc.PredSkip,
			Depth: uint8(in.Depth),
			QP:    int8(in.QP),
			MV:    pu.MV,
		}
		if cell.Intra {
			cell.Mode = uint8(pu.LumaMode)
		}
		s.grid.Fill(in.X+pu.X, in.Y+pu.Y, pu.W, pu.H, cell)
	}
	for _, tu := range best.tus {
		if tu.Plane != tutree.PlaneY || !tu.CBF {
			continue
		}
		n := 1 << tu.Log2
		for y := tu.Y; y < tu.Y+n; y += 4 {
			for x := tu.X; x < tu.X+n; x += 4 {
				s.grid.At(x, y).CBF = true
			}
		}
	}

	return &Decision{
		X:         in.X,
		Y:         in.Y,
		Log2:      in.Log2,
		Pred:      c.pred,
		Part:      c.part,
		PUs:       append([]PU(nil), c.pus[:n]...),
		ChromaIdx: c.chromaIdx,
		TUs:       append([]TU(nil), best.tus...),
		Stream:    append([]byte(nil), best.stream...),
		QP:        in.QP,
		Cost:      best.cost,
		Dist:      dist,
		Bits:      best.bits,
	}
}

// Availability of reconstructed samples for intra prediction. Inside the
// CU a sample is available once the candidate has reconstructed it;
// outside it must belong to a committed CU above LimitY.

func (s *Selector) clearDone() { s.done = [hevc.MaxCUSize / 4]uint16{} }

func (s *Selector) markDone(x, y, n int) {
	for j := y >> 2; j < (y+n)>>2; j++ {
		for i := x >> 2; i < (x+n)>>2; i++ {
			s.done[j] |= 1 << i
		}
	}
}

func (s *Selector) lumaAvailable(x, y int) bool {
	in := s.in
	dx, dy := x-in.X, y-in.Y
	if dx >= 0 && dy >= 0 && dx < s.size && dy < s.size {
		return s.done[dy>>2]>>(dx>>2)&1 != 0
	}
	return s.grid.coded(x, y, in.LimitY) != nil
}

func (s *Selector) chromaAvailable(x, y int) bool {
	return s.lumaAvailable(x<<1, y<<s.sy)
}
