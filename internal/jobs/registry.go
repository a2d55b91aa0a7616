package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// ErrAlreadyRegistered is returned when an input already has an active job.
var ErrAlreadyRegistered = errors.New("input already has an active job")

// ConflictError identifies which job holds an input. JobID is empty when the
// holder is another process.
type ConflictError struct {
	InputPath string
	JobID     string
}

func (e *ConflictError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("%s is being converted by another process", e.InputPath)
	}
	return fmt.Sprintf("%s is already held by job %s", e.InputPath, e.JobID)
}

// Is matches ErrAlreadyRegistered.
func (e *ConflictError) Is(target error) bool {
	return target == ErrAlreadyRegistered
}

// Registry maps canonical input paths to the job that owns them.
//
// When lockDir is set, each registration also takes an advisory file lock so
// separate processes sharing a work root never convert the same input at once.
type Registry struct {
	mu      sync.Mutex
	active  map[string]string
	locks   map[string]*flock.Flock
	lockDir string
}

// NewRegistry creates a registry. An empty lockDir disables file locking.
func NewRegistry(lockDir string) *Registry {
	return &Registry{
		active:  make(map[string]string),
		locks:   make(map[string]*flock.Flock),
		lockDir: lockDir,
	}
}

// Register claims inputPath for jobID.
func (r *Registry) Register(inputPath, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.active[inputPath]; ok {
		return &ConflictError{InputPath: inputPath, JobID: holder}
	}

	if r.lockDir != "" {
		lock, err := r.tryLock(inputPath)
		if err != nil {
			return err
		}
		r.locks[inputPath] = lock
	}
	r.active[inputPath] = jobID
	return nil
}

// Unregister releases inputPath if jobID still owns it.
func (r *Registry) Unregister(inputPath, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.active[inputPath]; !ok || holder != jobID {
		return nil
	}
	delete(r.active, inputPath)

	lock, ok := r.locks[inputPath]
	if !ok {
		return nil
	}
	delete(r.locks, inputPath)
	if err := lock.Unlock(); err != nil {
		return fmt.Errorf("release input lock: %w", err)
	}
	return nil
}

// ActiveJobFor returns the job owning inputPath.
func (r *Registry) ActiveJobFor(inputPath string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.active[inputPath]
	return id, ok
}

func (r *Registry) tryLock(inputPath string) (*flock.Flock, error) {
	if err := os.MkdirAll(r.lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(LockPath(r.lockDir, inputPath))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire input lock: %w", err)
	}
	if !ok {
		return nil, &ConflictError{InputPath: inputPath}
	}
	return lock, nil
}

// LockPath returns the lock file guarding inputPath.
func LockPath(lockDir, inputPath string) string {
	sum := sha256.Sum256([]byte(inputPath))
	return filepath.Join(lockDir, hex.EncodeToString(sum[:8])+".lock")
}

// CanonicalPath makes path absolute, cleans it and resolves symlinks when the
// target exists. Missing files keep their cleaned absolute form.
func CanonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}
