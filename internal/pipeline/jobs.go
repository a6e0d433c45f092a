package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/designdoc/internal/summarize"
)

// JobStatus represents the state of a service-mode run.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusEstimating JobStatus = "estimating"
	StatusMapping    JobStatus = "mapping"
	StatusCollapsing JobStatus = "collapsing"
	StatusReducing   JobStatus = "reducing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusRejected   JobStatus = "rejected"
)

// Terminal reports whether no further transitions will happen.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// Job tracks the state of a single run.
type Job struct {
	mu sync.Mutex

	ID      string  `json:"job_id"`
	Locator string  `json:"locator"`
	MaxCost float64 `json:"max_cost"`
	HTML    bool    `json:"html"`

	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`

	Progress Progress      `json:"progress"`
	Estimate *CostEstimate `json:"estimate,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	result *Result
	errors []string
}

// Progress tracks processing progress.
type Progress struct {
	Documents     int      `json:"documents"`
	Mapped        int      `json:"mapped"`
	Failed        int      `json:"failed"`
	Unreadable    int      `json:"unreadable"`
	Skipped       int      `json:"skipped"`
	Truncated     int      `json:"truncated"`
	CollapseLevel int      `json:"collapse_level"`
	Errors        []string `json:"errors"`
}

// NewJob creates a queued job with a fresh ID.
func NewJob(locator string, maxCost float64, html bool) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		Locator:   locator,
		MaxCost:   maxCost,
		HTML:      html,
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.updatedAt()) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

func (j *Job) updatedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.UpdatedAt
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetEstimate records the pre-flight estimate.
func (j *Job) SetEstimate(est CostEstimate) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Estimate = &est
	j.Progress.Documents = est.Documents
	j.UpdatedAt = time.Now()
}

// RecordLeaf counts one finished map-stage document.
func (j *Job) RecordLeaf(l summarize.LeafResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Mapped++
	switch l.Outcome {
	case summarize.OutcomeModelError:
		j.Progress.Failed++
	case summarize.OutcomeUnreadable:
		j.Progress.Unreadable++
	case summarize.OutcomeSkipped:
		j.Progress.Skipped++
	}
	if l.Truncated {
		j.Progress.Truncated++
	}
	j.UpdatedAt = time.Now()
}

// SetCollapseLevel records the current collapse iteration.
func (j *Job) SetCollapseLevel(level int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.CollapseLevel = level
	j.UpdatedAt = time.Now()
}

// SetResult stores the run result.
func (j *Job) SetResult(res *Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = res
}

// Result returns the run result, or nil before completion.
func (j *Job) Result() *Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID         string        `json:"job_id"`
	Locator    string        `json:"locator"`
	Status     JobStatus     `json:"status"`
	Phase      string        `json:"phase"`
	MaxCost    float64       `json:"max_cost"`
	Estimate   *CostEstimate `json:"estimate,omitempty"`
	Progress   Progress      `json:"progress"`
	DesignPath string        `json:"design_path,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := append([]string{}, j.Progress.Errors...)
	progress := j.Progress
	progress.Errors = errs
	snap := JobSnapshot{
		ID:        j.ID,
		Locator:   j.Locator,
		Status:    j.Status,
		Phase:     j.Phase,
		MaxCost:   j.MaxCost,
		Progress:  progress,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Estimate != nil {
		est := *j.Estimate
		snap.Estimate = &est
	}
	if j.result != nil {
		snap.DesignPath = j.result.DesignPath
	}
	return snap
}
