package domain

import "time"

// JobStatus is the lifecycle state of a generation job. A job starts in
// StatusProcessing and transitions exactly once to StatusCompleted or
// StatusFailed; terminal states never change.
type JobStatus string

const (
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether s is a final state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobResult is the outcome of a successfully completed job. PublicID is the
// opaque artifact identifier served under /output/{id}; Seed is the seed the
// pipeline actually used (relevant when the request omitted one).
type JobResult struct {
	PublicID string `json:"-"`
	Seed     uint32 `json:"seed"`
}

// Job is one admitted generation request and its lifecycle record.
// Instances are owned by the job store; callers only ever see JobView copies.
type Job struct {
	ID        string
	UserID    string
	Status    JobStatus
	StartedAt time.Time
	Params    GenerateParams
	Result    *JobResult // set only when Status == StatusCompleted
	Error     string     // set only when Status == StatusFailed
}

// JobView is a read-only snapshot of a Job, safe to hand across component
// boundaries. Mutating a view never affects stored state.
type JobView struct {
	ID        string
	UserID    string
	Status    JobStatus
	StartedAt time.Time
	Params    GenerateParams
	Result    *JobResult
	Error     string
}

// View returns a defensive copy of the job, including its result.
func (j *Job) View() JobView {
	v := JobView{
		ID:        j.ID,
		UserID:    j.UserID,
		Status:    j.Status,
		StartedAt: j.StartedAt,
		Params:    j.Params,
		Error:     j.Error,
	}
	if j.Params.Seed != nil {
		seed := *j.Params.Seed
		v.Params.Seed = &seed
	}
	if j.Result != nil {
		res := *j.Result
		v.Result = &res
	}
	return v
}
