//go:build amd64

package dsp

import "golang.org/x/sys/cpu"

// useWideKernels reports whether the unrolled kernels should replace the
// reference ones. AVX2-class cores retire the eight independent
// multiply-adds of the wide kernels in parallel.
func useWideKernels() bool {
	return cpu.X86.HasAVX2
}

// Features describes the CPU features the kernel dispatch looked at.
func Features() string {
	return featureString("amd64", map[string]bool{
		"sse2":  cpu.X86.HasSSE2,
		"sse41": cpu.X86.HasSSE41,
		"avx2":  cpu.X86.HasAVX2,
	}, useWideKernels())
}
