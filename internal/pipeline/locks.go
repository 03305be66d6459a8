package pipeline

import (
	"fmt"
	"sync"
)

// runLocks serializes runs that target the same application and workspace.
// The provisioning tool's workspace state does not tolerate concurrent
// mutation, so the lock is held across the provisioning stages.
type runLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newRunLocks() *runLocks {
	return &runLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for the given application and workspace and
// returns the matching unlock function.
func (l *runLocks) lock(appName, workspace string) func() {
	key := fmt.Sprintf("%s|%s", appName, workspace)

	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
