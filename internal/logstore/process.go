package logstore

import (
	"os"
	"syscall"
)

// processAlive reports whether pid refers to a live, signalable process.
// The log-writer lock is advisory (SPEC_FULL.md §9 open question): two
// processes that both decide a prior pid is dead can still race, and the
// core does not strengthen this with mandatory locking.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
