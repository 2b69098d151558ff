package hevcrdo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepteams/hevcrdo/internal/dsp"
)

func testOptions(slice SliceType, preset int) *Options {
	opts := OptionsForPreset(preset)
	opts.SliceType = slice
	opts.CTBSize = 16
	opts.QP = 30
	return opts
}

// checkCoverage verifies the CUs of res tile the picture exactly once.
func checkCoverage(t *testing.T, res *Result) {
	t.Helper()
	covered := make([]bool, res.Width*res.Height)
	for _, d := range res.CUs {
		n := 1 << d.Log2
		require.True(t, d.X >= 0 && d.Y >= 0 && d.X+n <= res.Width && d.Y+n <= res.Height,
			"CU %dx%d at (%d,%d) outside %dx%d", n, n, d.X, d.Y, res.Width, res.Height)
		for y := d.Y; y < d.Y+n; y++ {
			for x := d.X; x < d.X+n; x++ {
				require.False(t, covered[y*res.Width+x], "sample (%d,%d) covered twice", x, y)
				covered[y*res.Width+x] = true
			}
		}
	}
	for i, c := range covered {
		if !c {
			t.Fatalf("sample (%d,%d) not covered", i%res.Width, i/res.Width)
		}
	}
}

func reconSSD(src, recon *Picture) int64 {
	var sum int64
	for _, pl := range [3][2]*Plane{{&src.Y, &recon.Y}, {&src.Cb, &recon.Cb}, {&src.Cr, &recon.Cr}} {
		a, b := pl[0], pl[1]
		sum += dsp.SSD(a.Pix, a.Stride, b.Pix, b.Stride, a.Width, a.Height)
	}
	return sum
}

func TestEncodeCoversPicture(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		ctb    int
		format ChromaFormat
	}{
		{"aligned", 64, 32, 16, Chroma420},
		{"partial CTBs", 72, 40, 32, Chroma420},
		{"64 CTB", 136, 72, 64, Chroma420},
		{"422", 48, 24, 16, Chroma422},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(SliceI, 3)
			opts.CTBSize = tt.ctb
			opts.ChromaFormat = tt.format
			src := TestPattern(tt.w, tt.h, tt.format, 0, 1)

			res, err := Encode(context.Background(), src, nil, opts)
			require.NoError(t, err)
			checkCoverage(t, res)

			rows := (tt.h + tt.ctb - 1) / tt.ctb
			require.Len(t, res.RowContexts, rows)
			require.Equal(t, reconSSD(src, res.Recon), res.Dist)
			require.Positive(t, res.Bits.Total())

			var cost int64
			for _, d := range res.CUs {
				require.Equal(t, PredIntra, d.Pred)
				cost += d.Cost
			}
			// Split flags only add to the CU costs.
			require.GreaterOrEqual(t, res.Cost, cost)
		})
	}
}

func TestEncodeMinCUSize(t *testing.T) {
	ref := TestPattern(64, 48, Chroma420, 0, 5)
	src := TestPattern(64, 48, Chroma420, 1, 5)
	for _, slice := range []SliceType{SliceI, SliceP} {
		opts := testOptions(slice, 0)
		opts.CTBSize = 32
		opts.MinCUSize = 16
		res, err := Encode(context.Background(), src, ref, opts)
		require.NoError(t, err)
		checkCoverage(t, res)
		require.Equal(t, reconSSD(src, res.Recon), res.Dist)
		for _, d := range res.CUs {
			if d.Log2 < 4 {
				t.Fatalf("%v: CU at (%d,%d) is %dx%d, below the minimum", slice, d.X, d.Y, 1<<d.Log2, 1<<d.Log2)
			}
			if d.Part.IsAMP() && d.Log2 == 4 {
				t.Errorf("%v: AMP %v at the minimum CU (%d,%d)", slice, d.Part, d.X, d.Y)
			}
		}
	}
}

func TestEncodeParallelMatchesSerial(t *testing.T) {
	ref := TestPattern(96, 64, Chroma420, 0, 3)
	src := TestPattern(96, 64, Chroma420, 1, 3)
	for _, slice := range []SliceType{SliceI, SliceP} {
		t.Run(slice.String(), func(t *testing.T) {
			encode := func(workers int) *Result {
				opts := testOptions(slice, 3)
				opts.Workers = workers
				res, err := Encode(context.Background(), src, ref, opts)
				require.NoError(t, err)
				return res
			}
			serial := encode(1)
			for _, workers := range []int{2, 4, 8} {
				par := encode(workers)
				require.Equal(t, serial.CUs, par.CUs, "workers=%d", workers)
				require.Equal(t, serial.Recon, par.Recon, "workers=%d", workers)
				require.Equal(t, serial.RowContexts, par.RowContexts, "workers=%d", workers)
				require.Equal(t, serial.Bits, par.Bits)
				require.Equal(t, serial.Cost, par.Cost)
			}
		})
	}
}

func TestEncodeMatchingReference(t *testing.T) {
	src := TestPattern(64, 48, Chroma420, 2, 9)
	res, err := Encode(context.Background(), src, src, testOptions(SliceP, 3))
	require.NoError(t, err)
	checkCoverage(t, res)
	require.Zero(t, res.Dist)
	require.Zero(t, res.Stats().Intra)
}

func TestEncodeIgnoresReferenceOfISlice(t *testing.T) {
	src := TestPattern(32, 32, Chroma420, 0, 2)
	withRef, err := Encode(context.Background(), src, src, testOptions(SliceI, 4))
	require.NoError(t, err)
	without, err := Encode(context.Background(), src, nil, testOptions(SliceI, 4))
	require.NoError(t, err)
	require.Equal(t, without.CUs, withRef.CUs)
}

func TestEncodePresetsShareCoverage(t *testing.T) {
	ref := TestPattern(48, 32, Chroma420, 0, 5)
	src := TestPattern(48, 32, Chroma420, 1, 5)
	for preset := PresetSlowest; preset <= PresetFastest; preset++ {
		res, err := Encode(context.Background(), src, ref, testOptions(SliceP, preset))
		require.NoError(t, err, "preset %d", preset)
		checkCoverage(t, res)
		if got := reconSSD(src, res.Recon); got != res.Dist {
			t.Errorf("preset %d: Dist = %d, want %d", preset, res.Dist, got)
		}
	}
}

func TestEncodeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := testOptions(SliceI, 6)
	opts.Workers = 4
	_, err := Encode(ctx, TestPattern(64, 64, Chroma420, 0, 1), nil, opts)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEncodeErrors(t *testing.T) {
	good := TestPattern(32, 32, Chroma420, 0, 1)
	tests := []struct {
		name string
		src  *Picture
		ref  *Picture
		opts func(*Options)
		want error
	}{
		{"nil source", nil, nil, nil, ErrInvalidPicture},
		{"unaligned size", NewPicture(36, 32, Chroma420), nil, nil, ErrInvalidPicture},
		{"chroma mismatch", good, nil, func(o *Options) { o.ChromaFormat = Chroma422 }, ErrInvalidPicture},
		{"bad reference", good, NewPicture(16, 16, Chroma420), func(o *Options) { o.SliceType = SliceP }, ErrInvalidPicture},
		{"qp", good, nil, func(o *Options) { o.QP = 52 }, ErrInvalidQP},
		{"preset", good, nil, func(o *Options) { o.Preset = 7 }, ErrInvalidPreset},
		{"rdoq with tu rounding", good, nil, func(o *Options) {
			o.RDOQ = RDOQTU
			o.QuantRounding = RoundTU
		}, ErrRDOQWithTURounding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(SliceI, 3)
			if tt.opts != nil {
				tt.opts(opts)
			}
			_, err := Encode(context.Background(), tt.src, tt.ref, opts)
			if !errors.Is(err, tt.want) {
				t.Errorf("Encode error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEncoderReuse(t *testing.T) {
	e, err := NewEncoder(testOptions(SliceI, 5))
	require.NoError(t, err)
	src := TestPattern(32, 32, Chroma420, 0, 4)
	a, err := e.Encode(context.Background(), src, nil)
	require.NoError(t, err)
	b, err := e.Encode(context.Background(), src, nil)
	require.NoError(t, err)
	require.Equal(t, a.CUs, b.CUs)
	require.Equal(t, a.Recon, b.Recon)
}

func TestResultStats(t *testing.T) {
	src := TestPattern(32, 32, Chroma420, 0, 1)
	res, err := Encode(context.Background(), src, nil, testOptions(SliceI, 3))
	require.NoError(t, err)

	s := res.Stats()
	require.Equal(t, len(res.CUs), s.CUs)
	require.Equal(t, s.CUs, s.Intra+s.Inter+s.Skip)
	var bytes, sizes int
	for _, d := range res.CUs {
		bytes += len(d.Stream)
	}
	for _, n := range s.Split {
		sizes += n
	}
	require.Equal(t, bytes, s.StreamBytes)
	require.Equal(t, s.CUs, sizes)
	require.LessOrEqual(t, s.CodedTUs, s.TUs)
}
