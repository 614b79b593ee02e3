package handlers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// TrainJob is an asynchronous gallery rebuild from a dataset directory.
type TrainJob struct {
	EventBroadcaster

	ID          string
	Root        string
	Status      JobStatus
	Total       int
	Processed   int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
	Report      *gallery.BuildReport
}

// TrainJobView is the JSON form of a TrainJob.
type TrainJobView struct {
	ID          string               `json:"id"`
	Root        string               `json:"root"`
	Status      JobStatus            `json:"status"`
	Total       int                  `json:"total"`
	Processed   int                  `json:"processed"`
	Error       string               `json:"error,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Report      *gallery.BuildReport `json:"report,omitempty"`
}

// GetStatus returns the current job status (implements SSEJob).
func (j *TrainJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Cancel cancels the train job.
func (j *TrainJob) Cancel() {
	j.mu.Lock()
	j.Status = JobStatusCancelled
	j.mu.Unlock()
	j.EventBroadcaster.Cancel()
}

// View returns a copy safe to encode while the job runs.
func (j *TrainJob) View() TrainJobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return TrainJobView{
		ID:          j.ID,
		Root:        j.Root,
		Status:      j.Status,
		Total:       j.Total,
		Processed:   j.Processed,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Report:      j.Report,
	}
}

func (j *TrainJob) setProgress(done, total int) {
	j.mu.Lock()
	j.Processed = done
	j.Total = total
	j.mu.Unlock()
	j.SendEvent(JobEvent{Type: "progress", Data: map[string]int{"processed": done, "total": total}})
}

// finish records the outcome unless the job was already cancelled.
func (j *TrainJob) finish(report *gallery.BuildReport, err error) {
	now := time.Now()
	j.mu.Lock()
	j.CompletedAt = &now
	j.Report = report
	if j.Status != JobStatusCancelled {
		if err != nil {
			j.Status = JobStatusFailed
			j.Error = err.Error()
		} else {
			j.Status = JobStatusCompleted
		}
	}
	status := j.Status
	j.mu.Unlock()

	switch status {
	case JobStatusFailed:
		j.SendEvent(JobEvent{Type: "job_error", Message: err.Error()})
	case JobStatusCompleted:
		j.SendEvent(JobEvent{Type: "completed", Data: report})
	}
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Cancel cancels the job via context and sends a cancelled event.
func (b *EventBroadcaster) Cancel() {
	b.mu.RLock()
	cancel := b.cancel
	b.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	b.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled by user"})
}

func (b *EventBroadcaster) setCancel(cancel context.CancelFunc) {
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

func newTrainJob(id, root string) *TrainJob {
	return &TrainJob{
		ID:        id,
		Root:      root,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
	}
}

// JobManager manages async jobs.
type JobManager struct {
	jobs map[string]*TrainJob
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*TrainJob),
	}
}

// CreateJob creates a new train job.
func (m *JobManager) CreateJob(id, root string) *TrainJob {
	job := newTrainJob(id, root)

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	return job
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *TrainJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// DeleteJob removes a job.
func (m *JobManager) DeleteJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// ListJobs returns all jobs, newest first.
func (m *JobManager) ListJobs() []*TrainJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*TrainJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].StartedAt.After(jobs[k].StartedAt) })
	return jobs
}

// Running reports whether any job is still pending or running.
func (m *JobManager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runningLocked()
}

func (m *JobManager) runningLocked() bool {
	for _, job := range m.jobs {
		if !isJobTerminal(job.GetStatus()) {
			return true
		}
	}
	return false
}

// StartJob creates a train job unless another one is still pending or
// running. The check and the insert happen under one lock.
func (m *JobManager) StartJob(id, root string) (*TrainJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runningLocked() {
		return nil, false
	}
	job := newTrainJob(id, root)
	m.jobs[id] = job
	return job, true
}
