// Package hostinfo describes the CPU a benchmark ran on.
package hostinfo

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// simdFeatures are the vector extensions relevant to dense float64 kernels.
var simdFeatures = []cpuid.FeatureID{
	cpuid.SSE2,
	cpuid.AVX,
	cpuid.AVX2,
	cpuid.FMA3,
	cpuid.AVX512F,
	cpuid.AVX512DQ,
	cpuid.ASIMD,
	cpuid.SVE,
}

// Host identifies the machine results were measured on.
type Host struct {
	Brand         string
	Vendor        string
	Arch          string
	PhysicalCores int
	LogicalCores  int
	Features      []string
}

// Detect reads the running CPU.
func Detect() Host {
	return fromCPU(cpuid.CPU)
}

func fromCPU(c cpuid.CPUInfo) Host {
	h := Host{
		Brand:         strings.TrimSpace(c.BrandName),
		Vendor:        c.VendorString,
		Arch:          runtime.GOARCH,
		PhysicalCores: c.PhysicalCores,
		LogicalCores:  c.LogicalCores,
	}
	if h.Brand == "" {
		h.Brand = "unknown"
	}
	for _, f := range simdFeatures {
		if c.Supports(f) {
			h.Features = append(h.Features, f.String())
		}
	}
	return h
}

func (h Host) String() string {
	features := "none"
	if len(h.Features) > 0 {
		features = strings.Join(h.Features, ",")
	}
	return fmt.Sprintf("cpu=%q arch=%s cores=%d/%d simd=%s",
		h.Brand, h.Arch, h.PhysicalCores, h.LogicalCores, features)
}
