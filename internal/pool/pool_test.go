package pool

import (
	"runtime"
	"sync"
	"testing"
)

func TestGetPut_ExactSize(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"16B", 16},
		{"64B", 64},
		{"256B", 256},
		{"1K", 1024},
		{"4K", 4096},
		{"32B", 32},
		{"2K", 2048},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Get(tt.size)
			if len(b) != tt.size {
				t.Errorf("Get(%d): len = %d, want %d", tt.size, len(b), tt.size)
			}
			Put(b)
		})
	}
}

func TestGetPut_Capacity(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		minCap int
	}{
		{"bucket0_small", 1, Size16B},
		{"bucket1_mid", 32, Size64B},
		{"bucket2_exact", 256, Size256B},
		{"bucket3_mid", 512, Size1K},
		{"bucket4_mid", 2048, Size4K},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Get(tt.size)
			if cap(b) < tt.minCap {
				t.Errorf("Get(%d): cap = %d, want >= %d", tt.size, cap(b), tt.minCap)
			}
			Put(b)
		})
	}
}

func TestGet_Oversize(t *testing.T) {
	const size = Size4K + 1
	b := Get(size)
	if len(b) != size {
		t.Errorf("Get(%d): len = %d, want %d", size, len(b), size)
	}
	// Oversize buffers are not pooled; Put must not panic.
	Put(b)
}

func TestPut_ForeignSlice(t *testing.T) {
	Put(make([]byte, 100))
	Put(make([]byte, 0, 10))
	Put(nil)

	b := Get(Size256B)
	if len(b) != Size256B {
		t.Errorf("Get(%d) after foreign Put: len = %d", Size256B, len(b))
	}
	Put(b)
}

func TestBucketIndex(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{0, 0},
		{16, 0},
		{17, 1},
		{64, 1},
		{65, 2},
		{256, 2},
		{1024, 3},
		{1025, 4},
		{4096, 4},
		{4097, -1},
	}
	for _, tt := range tests {
		if got := bucketIndex(tt.size); got != tt.want {
			t.Errorf("bucketIndex(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
}

func TestPlanes(t *testing.T) {
	p := GetPlanes(Size4K, Size1K)
	if len(p[0]) != Size4K || len(p[1]) != Size1K || len(p[2]) != Size1K {
		t.Fatalf("GetPlanes lengths = %d/%d/%d", len(p[0]), len(p[1]), len(p[2]))
	}
	if &p[1][0] == &p[2][0] {
		t.Errorf("chroma planes share storage")
	}
	PutPlanes(p)
}

func TestConcurrency(t *testing.T) {
	const goroutines = 32
	const iterations = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				for _, size := range []int{8, 48, 200, 800, 3000} {
					b := Get(size)
					if len(b) != size {
						t.Errorf("concurrent Get(%d): len = %d", size, len(b))
						return
					}
					for j := range b {
						b[j] = byte(j)
					}
					Put(b)
				}
			}
		}()
	}

	wg.Wait()
}

func TestReuse(t *testing.T) {
	const size = Size4K
	b := Get(size)
	b[0] = 0xAB
	Put(b)

	// sync.Pool may drop entries across a GC; the next Get must still be
	// a valid buffer of the class.
	runtime.GC()

	for i := 0; i < 10; i++ {
		buf := Get(size)
		if len(buf) != size || cap(buf) != Size4K {
			t.Errorf("cycle %d: Get(%d) len/cap = %d/%d", i, size, len(buf), cap(buf))
		}
		Put(buf)
	}
}

func BenchmarkGet(b *testing.B) {
	benchmarks := []struct {
		name string
		size int
	}{
		{"64B", 64},
		{"1K", 1024},
		{"4K", 4096},
	}
	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				buf := Get(bm.size)
				Put(buf)
			}
		})
	}
}

func BenchmarkGetParallel(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := Get(4096)
			Put(buf)
		}
	})
}
