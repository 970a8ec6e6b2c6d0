// Package runtimex provides optional CPU affinity helpers (best-effort).
// Affinity narrows scheduling jitter for pinned worker threads; failures
// are reported but never fatal.
package runtimex

// AffinitySpec describes the desired CPU set for the process or thread.
type AffinitySpec struct {
	CPUSet []int // CPU indices to allow
}
