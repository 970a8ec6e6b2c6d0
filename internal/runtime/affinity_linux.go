//go:build linux

package runtimex

import "golang.org/x/sys/unix"

// ApplyProcessAffinity restricts the calling OS thread to the given CPU
// set. Threads it creates afterwards inherit the set; threads that
// already exist keep their current affinity.
func ApplyProcessAffinity(spec AffinitySpec) error {
	if len(spec.CPUSet) == 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range spec.CPUSet {
		set.Set(cpu)
	}
	return unix.SchedSetaffinity(0, &set)
}

// PinCurrentThreadToCPU restricts the calling thread to a single CPU.
// Callers should hold runtime.LockOSThread for the pin to be meaningful.
func PinCurrentThreadToCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
