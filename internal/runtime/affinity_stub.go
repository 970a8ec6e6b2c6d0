//go:build !linux

package runtimex

// ApplyProcessAffinity is a no-op on non-Linux builds.
func ApplyProcessAffinity(_ AffinitySpec) error { return nil }

// PinCurrentThreadToCPU is a no-op on non-Linux builds.
func PinCurrentThreadToCPU(_ int) error { return nil }
