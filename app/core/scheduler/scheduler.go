// Package scheduler runs registered background jobs on fixed intervals,
// each run bounded by a per-job timeout. The email ingestion batch is its
// main customer.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"aide/app/pkg/logger"
)

var (
	ErrJobExists     = errors.New("scheduler: job already registered")
	ErrAlreadyActive = errors.New("scheduler: already running")
)

type Job struct {
	Name       string
	Interval   time.Duration
	Timeout    time.Duration
	RunOnStart bool
	Run        func(context.Context) error
}

// JobStatus is the per-job slice of the health snapshot.
type JobStatus struct {
	Name         string    `json:"name"`
	Runs         int64     `json:"runs"`
	LastStartAt  time.Time `json:"last_start_at"`
	LastEndAt    time.Time `json:"last_end_at"`
	LastError    string    `json:"last_error,omitempty"`
	LastDuration string    `json:"last_duration,omitempty"`
}

type Health struct {
	Running   bool        `json:"running"`
	StartedAt time.Time   `json:"started_at,omitempty"`
	Jobs      []JobStatus `json:"jobs"`
}

type jobState struct {
	spec   Job
	status JobStatus
	stop   context.CancelFunc
}

type Scheduler struct {
	mu        sync.Mutex
	jobs      map[string]*jobState
	running   bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{jobs: make(map[string]*jobState)}
}

func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return errors.New("scheduler: job name is required")
	}
	if job.Interval <= 0 {
		return errors.New("scheduler: job interval must be positive")
	}
	if job.Run == nil {
		return errors.New("scheduler: job run callback is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}
	state := &jobState{spec: job, status: JobStatus{Name: job.Name}}
	s.jobs[job.Name] = state
	if s.running {
		s.launchLocked(state)
	}
	return nil
}

func (s *Scheduler) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyActive
	}
	s.ctx, s.cancel = context.WithCancel(parent)
	s.running = true
	s.startedAt = time.Now()
	for _, state := range s.jobs {
		s.launchLocked(state)
	}
	return nil
}

// Stop cancels every job loop and waits up to timeout for in-flight runs.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.ctx, s.cancel = nil, nil
	for _, state := range s.jobs {
		state.stop = nil
	}
	s.mu.Unlock()

	cancel()
	if timeout <= 0 {
		s.wg.Wait()
		return nil
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler: stop timed out after %s", timeout)
	}
}

// Snapshot reports scheduler and per-job state for the health probe.
func (s *Scheduler) Snapshot() Health {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := Health{Running: s.running, Jobs: make([]JobStatus, 0, len(s.jobs))}
	if s.running {
		h.StartedAt = s.startedAt
	}
	for _, state := range s.jobs {
		h.Jobs = append(h.Jobs, state.status)
	}
	sort.Slice(h.Jobs, func(i, j int) bool { return h.Jobs[i].Name < h.Jobs[j].Name })
	return h
}

func (s *Scheduler) launchLocked(state *jobState) {
	if !s.running || s.ctx == nil || state.stop != nil {
		return
	}
	jobCtx, stop := context.WithCancel(s.ctx)
	state.stop = stop
	s.wg.Add(1)
	go s.loop(jobCtx, state.spec)
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()
	if job.RunOnStart {
		s.runOnce(ctx, job)
	}
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(parent context.Context, job Job) {
	start := time.Now()
	runCtx := parent
	cancel := func() {}
	if job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(parent, job.Timeout)
	}
	defer cancel()

	err := job.Run(runCtx)
	end := time.Now()

	s.mu.Lock()
	if state, ok := s.jobs[job.Name]; ok {
		state.status.Runs++
		state.status.LastStartAt = start
		state.status.LastEndAt = end
		state.status.LastDuration = end.Sub(start).String()
		if err != nil {
			state.status.LastError = err.Error()
		} else {
			state.status.LastError = ""
		}
	}
	s.mu.Unlock()

	if err != nil {
		logger.Error("scheduled job %s failed: %v", job.Name, err)
	}
}
