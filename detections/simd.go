package detections

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// minRowsPerWorker keeps tiny inputs on a single goroutine.
const minRowsPerWorker = 16

var (
	useAVX512 = cpu.X86.HasAVX512
	useAVX2   = cpu.X86.HasAVX2
	useSSE41  = cpu.X86.HasSSE41
	useNEON   = cpu.ARM64.HasASIMD
)

// CPUFeatures reports the vector extensions available to the inference
// runtime on this host.
func CPUFeatures() map[string]bool {
	return map[string]bool{
		"avx512": useAVX512 && runtime.GOARCH == "amd64",
		"avx2":   useAVX2 && runtime.GOARCH == "amd64",
		"sse41":  useSSE41 && runtime.GOARCH == "amd64",
		"neon":   useNEON && runtime.GOARCH == "arm64",
	}
}

func preprocessWorkers(rows int) int {
	n := runtime.GOMAXPROCS(0)
	if limit := rows / minRowsPerWorker; n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}
