package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"reels-studio/internal/domain"
)

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrJobExists is returned when creating a job whose ID is already tracked.
var ErrJobExists = errors.New("job already exists")

// ErrJobNotTerminal is returned when removing a job that can still change.
var ErrJobNotTerminal = errors.New("job is not terminal")

// Manager tracks conversion job records and their status transitions.
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]domain.ConversionJob
	now  func() time.Time
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		jobs: make(map[string]domain.ConversionJob),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create records a new job in pending state.
func (m *Manager) Create(job domain.ConversionJob) (domain.ConversionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.ID == "" {
		return domain.ConversionJob{}, fmt.Errorf("job id is required")
	}
	if _, exists := m.jobs[job.ID]; exists {
		return domain.ConversionJob{}, ErrJobExists
	}

	job.Status = domain.JobStatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.now()
	}
	m.jobs[job.ID] = job
	return job, nil
}

// Get returns a snapshot of one job.
func (m *Manager) Get(id string) (domain.ConversionJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	return job, ok
}

// List returns snapshots of every tracked job, oldest first.
func (m *Manager) List() []domain.ConversionJob {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.ConversionJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Transition validates and applies a status change.
//
// mutate, when non-nil, runs under the lock before the new status is stored
// so terminal details (output path, error) land atomically with the status.
func (m *Manager) Transition(
	id string,
	status domain.JobStatus,
	mutate func(job *domain.ConversionJob),
) (domain.ConversionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ConversionJob{}, ErrJobNotFound
	}
	if !isValidTransition(job.Status, status) {
		return job, fmt.Errorf("invalid transition: %s -> %s", job.Status, status)
	}

	if mutate != nil {
		mutate(&job)
	}
	job.Status = status
	now := m.now()
	switch {
	case status == domain.JobStatusRunning:
		job.StartedAt = &now
	case status.IsTerminal():
		job.FinishedAt = &now
	}
	m.jobs[id] = job
	return job, nil
}

// Advance records stage progress for a running job. Stage index and percent
// never move backwards; stale values are ignored.
func (m *Manager) Advance(id string, stageIndex int, stage string, percent float64) (domain.ConversionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ConversionJob{}, ErrJobNotFound
	}
	if job.Status != domain.JobStatusRunning {
		return job, fmt.Errorf("cannot advance job in %s state", job.Status)
	}

	if stageIndex > job.StageIndex || (stageIndex == job.StageIndex && job.Stage == "") {
		job.StageIndex = stageIndex
		job.Stage = stage
	}
	if percent > job.Percent {
		job.Percent = min(percent, 100)
	}
	m.jobs[id] = job
	return job, nil
}

// Remove forgets a terminal job.
func (m *Manager) Remove(id string) (domain.ConversionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ConversionJob{}, ErrJobNotFound
	}
	if !job.Status.IsTerminal() {
		return job, ErrJobNotTerminal
	}
	delete(m.jobs, id)
	return job, nil
}

// isValidTransition enforces the one-directional job state machine.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusPending:
		return to == domain.JobStatusRunning || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusRunning:
		return to == domain.JobStatusCompleted || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	default:
		return false
	}
}
