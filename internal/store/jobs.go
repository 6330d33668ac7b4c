// Package store holds the in-memory state shared between the dispatcher and
// the HTTP layer: the job registry and the artifact mapping. Each store
// guards its data with its own lock and only ever hands out copies, so raw
// map state never crosses a component boundary.
package store

import (
	"sync"
	"time"

	"github.com/infernalforge/forge/internal/domain"
)

// JobStore is the registry of generation jobs, keyed by job id.
//
// Records are kept for the lifetime of the process so status stays queryable
// until restart. There is no eviction; memory grows with the number of
// admitted jobs, which the admission limiter bounds in rate but not in
// total.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

// NewJobStore returns an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*domain.Job)}
}

// Create registers a new job in the processing state. The id must be fresh;
// an existing record with the same id is overwritten (ids are random UUIDs,
// so this does not occur in practice).
func (s *JobStore) Create(id, userID string, params domain.GenerateParams) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[id] = &domain.Job{
		ID:        id,
		UserID:    userID,
		Status:    domain.StatusProcessing,
		StartedAt: time.Now(),
		Params:    params,
	}
}

// Complete transitions a processing job to completed with its artifact's
// public id and the seed used. Single-writer-per-job discipline means the
// job is always still processing here; if it somehow is not, the write wins
// anyway rather than corrupting state.
func (s *JobStore) Complete(id, publicID string, seed uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return
	}
	j.Status = domain.StatusCompleted
	j.Result = &domain.JobResult{PublicID: publicID, Seed: seed}
	j.Error = ""
}

// Fail transitions a processing job to failed with an error description.
func (s *JobStore) Fail(id, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return
	}
	j.Status = domain.StatusFailed
	j.Error = errMsg
	j.Result = nil
}

// Get returns a read-only snapshot of the job, or false when the id is
// unknown.
func (s *JobStore) Get(id string) (domain.JobView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return domain.JobView{}, false
	}
	return j.View(), true
}

// CountByUser returns the number of jobs owned by userID currently in the
// given status. Used by tests and health reporting.
func (s *JobStore) CountByUser(userID string, status domain.JobStatus) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, j := range s.jobs {
		if j.UserID == userID && j.Status == status {
			n++
		}
	}
	return n
}

// Len returns the total number of stored jobs.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
