package hevc

import "fmt"

// FatalError reports a broken internal contract: an unsupported transform
// size, a context index out of range, or a combination of tools that must
// never be enabled together. Encoding cannot continue past one.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string { return "hevc: fatal: " + e.Msg }

// Assert panics with a *FatalError when cond is false.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(&FatalError{Msg: fmt.Sprintf(format, args...)})
	}
}

// Recover converts a panic raised by Assert into an error stored in *err.
// Other panics are re-raised. Use as: defer hevc.Recover(&err).
func Recover(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if fe, ok := r.(*FatalError); ok {
		*err = fe
		return
	}
	panic(r)
}
