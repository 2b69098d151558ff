package hevc

import (
	"errors"
	"testing"
)

func TestRecover(t *testing.T) {
	run := func(f func()) (err error) {
		defer Recover(&err)
		f()
		return nil
	}

	err := run(func() { Assert(false, "bad size %d", 7) })
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FatalError", err)
	}
	if want := "hevc: fatal: bad size 7"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if err := run(func() { Assert(true, "unused") }); err != nil {
		t.Errorf("err = %v, want nil", err)
	}

	defer func() {
		if r := recover(); r != "other" {
			t.Errorf("recovered %v, want the foreign panic", r)
		}
	}()
	_ = run(func() { panic("other") })
}

func TestPartRects(t *testing.T) {
	for part := Part2Nx2N; part <= PartnRx2N; part++ {
		for _, size := range []int{8, 16, 32, 64} {
			area := 0
			for i := 0; i < part.NumParts(); i++ {
				x, y, w, h := part.Rect(i, size)
				if x < 0 || y < 0 || x+w > size || y+h > size {
					t.Errorf("%v size %d PU %d = (%d,%d %dx%d) outside the CU", part, size, i, x, y, w, h)
				}
				area += w * h
			}
			if area != size*size {
				t.Errorf("%v size %d: PU area %d, want %d", part, size, area, size*size)
			}
		}
	}
	if x, y, w, h := Part2NxnU.Rect(1, 32); x != 0 || y != 8 || w != 32 || h != 24 {
		t.Errorf("2NxnU PU 1 = (%d,%d %dx%d), want (0,8 32x24)", x, y, w, h)
	}
}

func TestHelpers(t *testing.T) {
	tests := []struct{ lo, hi, v, want int }{
		{0, 51, -3, 0},
		{0, 51, 60, 51},
		{0, 51, 30, 30},
	}
	for _, tt := range tests {
		if got := Clip3(tt.lo, tt.hi, tt.v); got != tt.want {
			t.Errorf("Clip3(%d, %d, %d) = %d, want %d", tt.lo, tt.hi, tt.v, got, tt.want)
		}
	}
	for n, want := range map[int]int{1: 0, 4: 2, 8: 3, 63: 5, 64: 6} {
		if got := Log2(n); got != want {
			t.Errorf("Log2(%d) = %d, want %d", n, got, want)
		}
	}
	if got := (MV{5, -3}).Sub(MV{1, 1}); got != (MV{4, -4}) {
		t.Errorf("Sub = %v, want {4 -4}", got)
	}
	if SliceB.InitType() == SliceI.InitType() {
		t.Error("B and I slices share a context init type")
	}
	if Chroma422.ShiftY() != 0 || Chroma420.ShiftY() != 1 {
		t.Error("unexpected vertical chroma shifts")
	}
}

func TestPlaneCopy(t *testing.T) {
	src := NewPlane(8, 8)
	for i := range src.Pix {
		src.Pix[i] = byte(i)
	}
	dst := NewPlane(8, 8)
	dst.CopyBlock(4, 4, src, 0, 0, 4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if got, want := dst.At(4+x, 4+y), src.At(x, y); got != want {
				t.Fatalf("dst(%d,%d) = %d, want %d", 4+x, 4+y, got, want)
			}
		}
	}
	if dst.At(0, 0) != 0 || dst.Offset(3, 2) != 19 {
		t.Error("CopyBlock wrote outside the destination block")
	}
}
