//go:build !amd64

package dsp

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// useWideKernels is true on arm64 cores with Advanced SIMD.
func useWideKernels() bool {
	return runtime.GOARCH == "arm64" && cpu.ARM64.HasASIMD
}

// Features describes the CPU features the kernel dispatch looked at.
func Features() string {
	return featureString(runtime.GOARCH, map[string]bool{
		"asimd": cpu.ARM64.HasASIMD,
	}, useWideKernels())
}
