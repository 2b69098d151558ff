// Package slot provides the two-slot current/best storage used while
// candidates compete: the candidate under evaluation writes only to the
// current slot, and the best slot is only changed by committing.
package slot

// Pair holds a current and a best value of T.
type Pair[T any] struct {
	v      [2]T
	cur    int
	copyFn func(dst, src *T)
}

// New returns a pair whose current slot is cur and best slot is best.
// Commit and Reset copy by assignment, which suits value types such as
// context tables.
func New[T any](cur, best T) *Pair[T] {
	return &Pair[T]{v: [2]T{cur, best}}
}

// NewWithCopy is New with an explicit deep copy, for slice-backed T.
func NewWithCopy[T any](cur, best T, copyFn func(dst, src *T)) *Pair[T] {
	return &Pair[T]{v: [2]T{cur, best}, copyFn: copyFn}
}

// Cur returns the slot of the candidate under evaluation.
func (p *Pair[T]) Cur() *T { return &p.v[p.cur] }

// Best returns the slot of the best candidate so far.
func (p *Pair[T]) Best() *T { return &p.v[p.cur^1] }

// CurIndex returns the physical index (0 or 1) of the current slot.
func (p *Pair[T]) CurIndex() int { return p.cur }

// At returns the slot with physical index i.
func (p *Pair[T]) At(i int) *T { return &p.v[i&1] }

// Swap makes the current candidate the best one without copying. The old
// best slot becomes the new scratch slot.
func (p *Pair[T]) Swap() { p.cur ^= 1 }

// Commit copies the current slot into the best slot.
func (p *Pair[T]) Commit() { p.assign(p.Best(), p.Cur()) }

// Reset copies the best slot into the current slot, so that the next
// candidate starts from the committed state.
func (p *Pair[T]) Reset() { p.assign(p.Cur(), p.Best()) }

func (p *Pair[T]) assign(dst, src *T) {
	if p.copyFn != nil {
		p.copyFn(dst, src)
		return
	}
	*dst = *src
}

// CopyBytes is a copy function for byte buffers of equal length.
func CopyBytes(dst, src *[]byte) { copy(*dst, *src) }
