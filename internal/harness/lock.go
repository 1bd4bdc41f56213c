package harness

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock is an exclusive claim on a VM for the duration of a run.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes <dir>/.<vm>.lock without blocking. A second run against
// the same VM fails with a precondition failure.
func AcquireLock(dir, vm string) (*Lock, error) {
	fl := flock.New(filepath.Join(dir, "."+vm+".lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, Preconditionf(err, "lock %s", fl.Path())
	}
	if !ok {
		return nil, Preconditionf(nil, "another run holds %s", fl.Path())
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.fl.Path(), err)
	}
	return nil
}
