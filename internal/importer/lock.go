package importer

import (
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

const lockPollInterval = 200 * time.Millisecond

// acquireLock takes an exclusive file lock, polling until timeout.
// The returned func releases it.
func acquireLock(path string, timeout time.Duration) (func(), error) {
	l := flock.New(path)
	deadline := time.Now().Add(timeout)
	for {
		locked, err := l.TryLock()
		if err != nil {
			return func() {}, fmt.Errorf("acquire import lock: %w", err)
		}
		if locked {
			return func() { _ = l.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return func() {}, fmt.Errorf("%w (lock: %s)", ErrImportInProgress, path)
		}
		time.Sleep(lockPollInterval)
	}
}
