package manager

import "github.com/fyrsmithlabs/vectord/internal/index"

// Workload is a coarse hint about a collection's write/read pattern, used
// only when no variant is pinned.
type Workload string

const (
	// WorkloadBulk favors batch ingest and query throughput.
	WorkloadBulk Workload = "bulk"
	// WorkloadIncremental favors low-latency queries under a steady trickle
	// of inserts.
	WorkloadIncremental Workload = "incremental"
)

// ChooseStrategy picks an index variant for a collection of liveCount
// vectors. A pinned variant always wins; otherwise small collections get the
// exact Flat scan (an approximate structure buys nothing there), bulk
// workloads get IVF, and incremental latency-sensitive workloads get HNSW.
func ChooseStrategy(pinned index.Variant, liveCount, flatThreshold int, workload Workload) index.Variant {
	if pinned != "" {
		return pinned
	}
	if liveCount < flatThreshold {
		return index.VariantFlat
	}
	if workload == WorkloadBulk {
		return index.VariantIVF
	}
	return index.VariantHNSW
}
