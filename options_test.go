package hevcrdo

import (
	"errors"
	"runtime"
	"testing"
)

func TestPresetOptionsAreValid(t *testing.T) {
	if err := validateOptions(DefaultOptions()); err != nil {
		t.Fatalf("DefaultOptions: %v", err)
	}
	for p := PresetSlowest; p <= PresetFastest; p++ {
		opts := OptionsForPreset(p)
		if err := validateOptions(opts); err != nil {
			t.Errorf("OptionsForPreset(%d): %v", p, err)
		}
		if opts.Preset != p {
			t.Errorf("OptionsForPreset(%d).Preset = %d", p, opts.Preset)
		}
	}
}

func TestPresetTools(t *testing.T) {
	tests := []struct {
		preset    int
		rdoq      RDOQLevel
		rounding  RoundingLevel
		chromaRDO bool
	}{
		{0, RDOQTU, RoundFixed, true},
		{1, RDOQTU, RoundFixed, true},
		{2, RDOQCU, RoundCU, true},
		{3, RDOQCU, RoundCU, false},
		{4, RDOQOff, RoundTU, false},
		{5, RDOQOff, RoundCU, false},
		{6, RDOQOff, RoundFixed, false},
	}
	for _, tt := range tests {
		o := OptionsForPreset(tt.preset)
		if o.RDOQ != tt.rdoq || o.QuantRounding != tt.rounding || o.ChromaRDO != tt.chromaRDO {
			t.Errorf("preset %d: RDOQ=%d rounding=%d chromaRDO=%v, want %d %d %v",
				tt.preset, o.RDOQ, o.QuantRounding, o.ChromaRDO, tt.rdoq, tt.rounding, tt.chromaRDO)
		}
	}
}

func TestValidateOptions(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Options)
		want error
	}{
		{"preset low", func(o *Options) { o.Preset = -1 }, ErrInvalidPreset},
		{"preset high", func(o *Options) { o.Preset = 7 }, ErrInvalidPreset},
		{"qp", func(o *Options) { o.QP = 52 }, ErrInvalidQP},
		{"bit depth", func(o *Options) { o.BitDepth = 10 }, ErrUnsupportedBitDepth},
		{"chroma format", func(o *Options) { o.ChromaFormat = 7 }, ErrInvalidChromaFormat},
		{"slice type", func(o *Options) { o.SliceType = 3 }, ErrInvalidSliceType},
		{"temporal layer", func(o *Options) { o.TemporalLayer = -1 }, ErrInvalidOption},
		{"recipe", func(o *Options) { o.Recipe = 9 }, ErrInvalidOption},
		{"chroma offset", func(o *Options) { o.CbQPOffset = 13 }, ErrInvalidOption},
		{"rdoq", func(o *Options) { o.RDOQ = 5 }, ErrInvalidOption},
		{"rounding", func(o *Options) { o.QuantRounding = 5 }, ErrInvalidOption},
		{"rdoq with tu rounding", func(o *Options) { o.QuantRounding = RoundTU }, ErrRDOQWithTURounding},
		{"tu depth", func(o *Options) { o.MaxInterTUDepth = 4 }, ErrInvalidTUDepth},
		{"noise", func(o *Options) { o.NoiseStrength = 1.5 }, ErrInvalidNoise},
		{"ctb size", func(o *Options) { o.CTBSize = 8 }, ErrInvalidCTBSize},
		{"ctb not pow2", func(o *Options) { o.CTBSize = 48 }, ErrInvalidCTBSize},
		{"min cu above ctb", func(o *Options) {
			o.CTBSize = 16
			o.MinCUSize = 32
		}, ErrInvalidMinCUSize},
		{"search range", func(o *Options) { o.SearchRange = 65 }, ErrInvalidOption},
		{"workers", func(o *Options) { o.Workers = -2 }, ErrInvalidOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mod(opts)
			if err := validateOptions(opts); !errors.Is(err, tt.want) {
				t.Errorf("validateOptions = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResolveDefaults(t *testing.T) {
	for _, tt := range []struct{ preset, depth, search int }{
		{0, 2, 32}, {1, 2, 32}, {2, 1, 16}, {3, 1, 16}, {4, 1, 8}, {5, 0, 8}, {6, 0, 8},
	} {
		if got := resolveInterTUDepth(-1, tt.preset); got != tt.depth {
			t.Errorf("resolveInterTUDepth(-1, %d) = %d, want %d", tt.preset, got, tt.depth)
		}
		if got := resolveSearchRange(-1, tt.preset); got != tt.search {
			t.Errorf("resolveSearchRange(-1, %d) = %d, want %d", tt.preset, got, tt.search)
		}
	}
	if got := resolveInterTUDepth(3, 6); got != 3 {
		t.Errorf("resolveInterTUDepth(3, 6) = %d, want 3", got)
	}
	if got := resolveSearchRange(4, 0); got != 4 {
		t.Errorf("resolveSearchRange(4, 0) = %d, want 4", got)
	}
}

func TestNewEncoderResolvesOptions(t *testing.T) {
	e, err := NewEncoder(nil)
	if err != nil {
		t.Fatal(err)
	}
	o := e.Options()
	if o.CTBSize != 64 || o.MinCUSize != 8 {
		t.Errorf("CTBSize, MinCUSize = %d, %d, want 64, 8", o.CTBSize, o.MinCUSize)
	}
	if o.Workers != runtime.GOMAXPROCS(0) {
		t.Errorf("Workers = %d, want %d", o.Workers, runtime.GOMAXPROCS(0))
	}
	if e.lambda <= 0 {
		t.Errorf("lambda = %d, want > 0", e.lambda)
	}
}
