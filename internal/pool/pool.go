// Package pool provides bucketed sync.Pool instances for the sample
// buffers the picture driver saves and restores around each CU decision.
// One size class exists per CU plane area, from the 4x4 chroma of an 8x8
// CU to the 64x64 luma of the largest CU.
package pool

import "sync"

// Size classes for bucketed pools.
const (
	Size16B  = 16
	Size64B  = 64
	Size256B = 256
	Size1K   = 1024
	Size4K   = 4096
)

var sizes = [5]int{Size16B, Size64B, Size256B, Size1K, Size4K}

var pools [5]sync.Pool

// bucketIndex returns the pool index for a given size, or -1 when the
// size is above the largest class.
func bucketIndex(size int) int {
	for i, s := range sizes {
		if size <= s {
			return i
		}
	}
	return -1
}

func init() {
	for i := range pools {
		sz := sizes[i]
		pools[i] = sync.Pool{
			New: func() any {
				b := make([]byte, sz)
				return &b
			},
		}
	}
}

// Get returns a byte slice of length size. Sizes above Size4K are
// allocated directly. The caller should call Put when done.
func Get(size int) []byte {
	idx := bucketIndex(size)
	if idx < 0 {
		return make([]byte, size)
	}
	bp := pools[idx].Get().(*[]byte)
	return (*bp)[:size]
}

// Put returns a byte slice obtained from Get to its pool. Slices whose
// capacity is not exactly a size class are dropped.
func Put(b []byte) {
	c := cap(b)
	idx := bucketIndex(c)
	if idx < 0 || sizes[idx] != c {
		return
	}
	b = b[:c]
	pools[idx].Put(&b)
}

// GetPlanes returns three buffers for the luma and chroma areas of one CU.
func GetPlanes(luma, chroma int) [3][]byte {
	return [3][]byte{Get(luma), Get(chroma), Get(chroma)}
}

// PutPlanes returns buffers obtained from GetPlanes.
func PutPlanes(b [3][]byte) {
	for _, p := range b {
		Put(p)
	}
}
