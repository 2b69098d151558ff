package slot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValuePair(t *testing.T) {
	type state [4]uint8
	p := New(state{1, 1, 1, 1}, state{1, 1, 1, 1})

	// A losing candidate never reaches the best slot.
	p.Cur()[2] = 9
	require.Equal(t, state{1, 1, 1, 1}, *p.Best())
	p.Reset()
	require.Equal(t, state{1, 1, 1, 1}, *p.Cur())

	// A winner is committed, and the next candidate starts from it.
	p.Cur()[0] = 7
	p.Commit()
	p.Cur()[0] = 3
	require.Equal(t, uint8(7), p.Best()[0])
	p.Reset()
	require.Equal(t, uint8(7), p.Cur()[0])
}

func TestSwap(t *testing.T) {
	p := NewWithCopy([]byte{1, 2}, []byte{0, 0}, CopyBytes)
	require.Equal(t, 0, p.CurIndex())
	p.Swap()
	require.Equal(t, 1, p.CurIndex())
	require.Equal(t, []byte{1, 2}, *p.Best())
	require.Equal(t, []byte{1, 2}, *p.At(0))

	p.Reset()
	(*p.Cur())[0] = 5
	require.Equal(t, []byte{1, 2}, *p.Best(), "Reset aliased the buffers")
	p.Commit()
	require.Equal(t, []byte{5, 2}, *p.Best())
}
