package dsp

import (
	"sort"
	"strings"
)

func featureString(arch string, flags map[string]bool, wide bool) string {
	names := make([]string, 0, len(flags))
	for name, ok := range flags {
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	kernels := "reference"
	if wide {
		kernels = "wide"
	}
	return arch + " [" + strings.Join(names, " ") + "] kernels=" + kernels
}
