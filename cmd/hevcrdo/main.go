// Command hevcrdo runs the mode decision over raw YUV frames from the
// command line.
//
// Usage:
//
//	hevcrdo enc [options] <input.yuv>   Decide 8-bit planar YUV frames (use "-" for stdin)
//	hevcrdo enc -synthetic [options]    Decide a generated test sequence
//	hevcrdo dump [options] <file.hrd>   Print a decision dump written by enc -o
//	hevcrdo info                        Display CPU feature dispatch
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"github.com/deepteams/hevcrdo"
	"github.com/deepteams/hevcrdo/internal/dsp"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "enc":
		err = runEnc(os.Args[2:])
	case "dump":
		err = runDump(os.Args[2:])
	case "info":
		err = runInfo(os.Args[2:])
	case "-h", "-help", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "hevcrdo: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "hevcrdo: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage:
  hevcrdo enc [options] <input.yuv>   Decide raw 8-bit YUV frames
  hevcrdo enc -synthetic [options]    Decide a generated test sequence
  hevcrdo dump [options] <file.hrd>   Print a decision dump
  hevcrdo info                        Display CPU feature dispatch

Use "-" as input to read from stdin.

Run "hevcrdo <command> -h" for command-specific options.
`)
}

// openInput returns an io.ReadCloser for the given path.
// If path is "-", stdin is returned (caller should not close).
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// --- enc ---

type encConfig struct {
	width, height int
	frames        int
	synthetic     bool
	seed          uint
	output        string
	verbose       bool
}

func runEnc(args []string) error {
	fs := flag.NewFlagSet("enc", flag.ContinueOnError)
	width := fs.Int("width", 0, "frame width in luma samples")
	height := fs.Int("height", 0, "frame height in luma samples")
	format := fs.String("format", "420", "chroma format: 420/422")
	frames := fs.Int("frames", 0, "frames to decide (0=all input, 8 for -synthetic)")
	synthetic := fs.Bool("synthetic", false, "decide a generated test sequence instead of an input file")
	seed := fs.Uint("seed", 1, "seed of the -synthetic sequence")
	preset := fs.Int("preset", 3, "speed preset 0 (slowest) to 6 (fastest)")
	qp := fs.Int("qp", 32, "quantization parameter 0-51")
	intraOnly := fs.Bool("intra", false, "decide every frame as an I slice")
	ctb := fs.Int("ctb", 64, "CTB size 16/32/64")
	minCU := fs.Int("mincu", 8, "minimum CU size")
	rdoq := fs.String("rdoq", "", "coefficient RDOQ: off/cu/tu (default: preset)")
	rounding := fs.String("round", "", "quantizer rounding: fixed/cu/tu (default: preset)")
	nosbh := fs.Bool("nosbh", false, "disable sign bit hiding")
	nozcbf := fs.Bool("nozcbf", false, "disable zero-CBF decisions")
	chromaRDO := fs.Bool("chroma_rdo", false, "re-evaluate the chroma mode of intra winners")
	spatial := fs.Bool("spatial_ssd", false, "measure distortion on reconstructed samples")
	noise := fs.Float64("noise", 0, "noise preservation strength 0-1 (0=off)")
	tuDepth := fs.Int("tu_depth", -1, "maximum inter TU depth 0-3 (-1=preset)")
	search := fs.Int("search", 0, "motion search range (0=preset)")
	workers := fs.Int("workers", 0, "parallel CTB rows (0=GOMAXPROCS)")
	output := fs.String("o", "", "write a zstd decision dump to this path")
	verbose := fs.Bool("v", false, "print per-frame statistics to stderr")

	if err := fs.Parse(args); err != nil {
		return err
	}

	// Start from the preset tools, then override with explicitly-set flags.
	opts := hevcrdo.OptionsForPreset(*preset)
	opts.QP = *qp
	opts.CTBSize = *ctb
	opts.MinCUSize = *minCU
	opts.SignHiding = !*nosbh
	opts.ZeroCBF = !*nozcbf
	opts.SpatialSSD = *spatial
	opts.MaxInterTUDepth = *tuDepth
	opts.SearchRange = *search
	opts.Workers = *workers
	if *chromaRDO {
		opts.ChromaRDO = true
	}
	if *noise > 0 {
		opts.NoisePreserve = true
		opts.NoiseStrength = *noise
	}
	var err error
	if opts.ChromaFormat, err = parseFormat(*format); err != nil {
		return err
	}
	if *rdoq != "" {
		if opts.RDOQ, err = parseRDOQ(*rdoq); err != nil {
			return err
		}
	}
	if *rounding != "" {
		if opts.QuantRounding, err = parseRounding(*rounding); err != nil {
			return err
		}
	}

	cfg := encConfig{
		width:     *width,
		height:    *height,
		frames:    *frames,
		synthetic: *synthetic,
		seed:      *seed,
		output:    *output,
		verbose:   *verbose,
	}
	if cfg.synthetic {
		if cfg.width == 0 {
			cfg.width = 320
		}
		if cfg.height == 0 {
			cfg.height = 192
		}
		if cfg.frames == 0 {
			cfg.frames = 8
		}
	} else {
		if fs.NArg() < 1 {
			return fmt.Errorf("enc: missing input file\nUsage: hevcrdo enc [options] <input.yuv>")
		}
		if cfg.width <= 0 || cfg.height <= 0 {
			return fmt.Errorf("enc: -width and -height are required for raw input")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return encode(ctx, cfg, fs.Arg(0), opts, *intraOnly)
}

func parseFormat(s string) (hevcrdo.ChromaFormat, error) {
	switch strings.ToLower(s) {
	case "420", "4:2:0":
		return hevcrdo.Chroma420, nil
	case "422", "4:2:2":
		return hevcrdo.Chroma422, nil
	default:
		return 0, fmt.Errorf("enc: unknown chroma format %q (use 420/422)", s)
	}
}

func parseRDOQ(s string) (hevcrdo.RDOQLevel, error) {
	switch strings.ToLower(s) {
	case "off":
		return hevcrdo.RDOQOff, nil
	case "cu":
		return hevcrdo.RDOQCU, nil
	case "tu":
		return hevcrdo.RDOQTU, nil
	default:
		return 0, fmt.Errorf("enc: unknown rdoq %q (use off/cu/tu)", s)
	}
}

func parseRounding(s string) (hevcrdo.RoundingLevel, error) {
	switch strings.ToLower(s) {
	case "fixed":
		return hevcrdo.RoundFixed, nil
	case "cu":
		return hevcrdo.RoundCU, nil
	case "tu":
		return hevcrdo.RoundTU, nil
	default:
		return 0, fmt.Errorf("enc: unknown round %q (use fixed/cu/tu)", s)
	}
}

// frameSource yields the source frames of an enc run.
type frameSource interface {
	next(frame int) (*hevcrdo.Picture, error)
}

type syntheticSource struct {
	w, h   int
	format hevcrdo.ChromaFormat
	seed   uint32
}

func (s *syntheticSource) next(frame int) (*hevcrdo.Picture, error) {
	return hevcrdo.TestPattern(s.w, s.h, s.format, frame, s.seed), nil
}

// rawSource reads planar 8-bit frames: Y, then Cb, then Cr.
type rawSource struct {
	r      *bufio.Reader
	w, h   int
	format hevcrdo.ChromaFormat
}

func (s *rawSource) next(int) (*hevcrdo.Picture, error) {
	p := hevcrdo.NewPicture(s.w, s.h, s.format)
	for i, pl := range []*hevcrdo.Plane{&p.Y, &p.Cb, &p.Cr} {
		if _, err := io.ReadFull(s.r, pl.Pix); err != nil {
			if i == 0 && errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("enc: reading frame: %w", err)
		}
	}
	return p, nil
}

func encode(ctx context.Context, cfg encConfig, inputPath string, opts *hevcrdo.Options, intraOnly bool) error {
	var src frameSource
	name := "synthetic"
	if cfg.synthetic {
		src = &syntheticSource{w: cfg.width, h: cfg.height, format: opts.ChromaFormat, seed: uint32(cfg.seed)}
	} else {
		in, err := openInput(inputPath)
		if err != nil {
			return err
		}
		defer in.Close()
		src = &rawSource{r: bufio.NewReaderSize(in, 1<<20), w: cfg.width, h: cfg.height, format: opts.ChromaFormat}
		name = inputPath
	}

	iOpts, pOpts := *opts, *opts
	iOpts.SliceType = hevcrdo.SliceI
	pOpts.SliceType = hevcrdo.SliceP
	intra, err := hevcrdo.NewEncoder(&iOpts)
	if err != nil {
		return fmt.Errorf("enc: %w", err)
	}
	inter, err := hevcrdo.NewEncoder(&pOpts)
	if err != nil {
		return fmt.Errorf("enc: %w", err)
	}

	var dump *dumpWriter
	if cfg.output != "" {
		f, err := os.Create(cfg.output)
		if err != nil {
			return err
		}
		defer f.Close()
		if dump, err = newDumpWriter(f, cfg.width, cfg.height, opts); err != nil {
			return err
		}
	}

	var (
		ref     *hevcrdo.Picture
		total   hevcrdo.BitTotals
		psnr    float64
		decided int
	)
	start := time.Now()
	for frame := 0; cfg.frames == 0 || frame < cfg.frames; frame++ {
		pic, err := src.next(frame)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		e, slice := inter, hevcrdo.SliceP
		if ref == nil || intraOnly {
			e, slice = intra, hevcrdo.SliceI
		}
		t0 := time.Now()
		res, err := e.Encode(ctx, pic, ref)
		if err != nil {
			return fmt.Errorf("enc: frame %d: %w", frame, err)
		}
		ref = res.Recon

		y := hevcrdo.PSNR(&pic.Y, &res.Recon.Y)
		psnr += min(y, 99)
		total.Header += res.Bits.Header
		total.CBF += res.Bits.CBF
		total.Residual += res.Bits.Residual
		decided++

		if cfg.verbose {
			s := res.Stats()
			fmt.Fprintf(os.Stderr, "frame %3d %s: %4d CUs (intra %d, inter %d, skip %d) %8.0f bits PSNR-Y %.2f dB %v\n",
				frame, slice, s.CUs, s.Intra, s.Inter, s.Skip,
				bitsOf(res.Bits.Total()), y, time.Since(t0).Round(time.Millisecond))
		}
		if dump != nil {
			if err := dump.WriteFrame(frame, slice, res); err != nil {
				return fmt.Errorf("enc: dump: %w", err)
			}
		}
	}
	if decided == 0 {
		return fmt.Errorf("enc: %s holds no complete frame", name)
	}

	if dump != nil {
		if err := dump.Close(); err != nil {
			return fmt.Errorf("enc: dump: %w", err)
		}
	}

	elapsed := time.Since(start)
	fmt.Printf("Input:      %s (%dx%d %s)\n", name, cfg.width, cfg.height, opts.ChromaFormat)
	fmt.Printf("Frames:     %d\n", decided)
	fmt.Printf("Preset:     %d (QP %d)\n", opts.Preset, opts.QP)
	fmt.Printf("Bits:       %.0f (header %.0f, cbf %.0f, residual %.0f)\n",
		bitsOf(total.Total()), bitsOf(total.Header), bitsOf(total.CBF), bitsOf(total.Residual))
	fmt.Printf("PSNR-Y:     %.2f dB\n", psnr/float64(decided))
	fmt.Printf("Time:       %v (%.1f fps)\n", elapsed.Round(time.Millisecond), float64(decided)/elapsed.Seconds())
	if cfg.output != "" {
		fmt.Printf("Dump:       %s\n", cfg.output)
	}
	return nil
}

func bitsOf(q uint64) float64 { return float64(q) / (1 << hevcrdo.FracBits) }

// --- info ---

func runInfo(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("info: unexpected argument %q\nUsage: hevcrdo info", args[0])
	}
	fmt.Printf("CPU:        %s\n", dsp.Features())
	fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
	fmt.Printf("Go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return nil
}
