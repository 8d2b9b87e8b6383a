// Package sampling runs calibration sampling jobs. A job produces one
// snap per tick until its timeout or its snap count is reached; only one
// job may run at a time.
package sampling

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout is the job length in ticks when none is given.
	DefaultTimeout = 60
	// KeptSnaps is how many of the latest snap ids a job reports.
	KeptSnaps = 30
)

// Job states reported by Status.
const (
	StateRunning  = "running"
	StateFinished = "finished"
)

var (
	// ErrAlreadyRunning is returned by Start while another job runs.
	ErrAlreadyRunning = errors.New("already running")
	// ErrUnknownJob is returned for ids that name no job.
	ErrUnknownJob = errors.New("unknown sampling job")
)

// Status describes a job. Progress and Snaps are filled in on detailed
// queries only.
type Status struct {
	ID       uint64   `json:"id"`
	State    string   `json:"status"`
	Progress int      `json:"progress"`
	Snaps    []uint64 `json:"snaps"`
}

// Service owns the sampling jobs.
type Service struct {
	mu       sync.Mutex
	jobs     map[uint64]*job
	nextJob  uint64
	snapMu   sync.Mutex
	nextSnap uint64
	interval time.Duration
	log      zerolog.Logger
}

// NewService creates a service whose jobs tick once per interval.
func NewService(interval time.Duration, log zerolog.Logger) *Service {
	if interval <= 0 {
		interval = time.Second
	}
	return &Service{
		jobs:     make(map[uint64]*job),
		interval: interval,
		log:      log,
	}
}

func (s *Service) newSnap() uint64 {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	s.nextSnap++
	return s.nextSnap
}

// Start launches a job lasting timeout ticks or until snaps snaps were
// taken, whichever comes first. A value of zero or less disables that
// limit.
func (s *Service) Start(timeout, snaps int) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.running() {
			return 0, ErrAlreadyRunning
		}
	}

	s.nextJob++
	j := newJob(s.nextJob, timeout, snaps)
	s.jobs[j.id] = j
	go j.run(s.interval, s.newSnap)

	s.log.Info().Uint64("job", j.id).Int("timeout", timeout).Int("snaps", snaps).Msg("sampling started")
	return j.id, nil
}

// Status reports the job with the given id.
func (s *Service) Status(id uint64, detail bool) (Status, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return Status{}, fmt.Errorf("%w: %d", ErrUnknownJob, id)
	}
	return j.status(detail), nil
}

// Stop ends the job with the given id and forgets it.
func (s *Service) Stop(id uint64) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownJob, id)
	}

	j.stop()
	s.log.Info().Uint64("job", id).Msg("sampling stopped")
	return nil
}

// Close stops every job.
func (s *Service) Close() {
	s.mu.Lock()
	jobs := s.jobs
	s.jobs = make(map[uint64]*job)
	s.mu.Unlock()

	for _, j := range jobs {
		j.stop()
	}
}

type job struct {
	id      uint64
	timeout int
	needed  int

	mu      sync.Mutex
	elapsed int
	taken   int
	snaps   []uint64
	done    bool

	quit     chan struct{}
	finished chan struct{}
	once     sync.Once
}

func newJob(id uint64, timeout, needed int) *job {
	return &job{
		id:       id,
		timeout:  timeout,
		needed:   needed,
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (j *job) run(interval time.Duration, snap func() uint64) {
	defer func() {
		j.mu.Lock()
		j.done = true
		j.mu.Unlock()
		close(j.finished)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for !j.complete() {
		select {
		case <-j.quit:
			return
		case <-ticker.C:
		}

		id := snap()
		j.mu.Lock()
		j.elapsed++
		j.taken++
		j.snaps = append(j.snaps, id)
		if len(j.snaps) > KeptSnaps {
			j.snaps = j.snaps[len(j.snaps)-KeptSnaps:]
		}
		j.mu.Unlock()
	}
}

func (j *job) complete() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return (j.timeout > 0 && j.elapsed >= j.timeout) || (j.needed > 0 && j.taken >= j.needed)
}

func (j *job) running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.done
}

func (j *job) stop() {
	j.once.Do(func() { close(j.quit) })
	<-j.finished
}

// progress is the larger of the elapsed and the taken share, in percent.
func (j *job) progress() int {
	p := 0
	if j.timeout > 0 {
		p = min(j.elapsed*100/j.timeout, 100)
	}
	if j.needed > 0 {
		p = max(p, min(j.taken*100/j.needed, 100))
	}
	return p
}

func (j *job) status(detail bool) Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	st := Status{ID: j.id, State: StateRunning}
	if j.done {
		st.State = StateFinished
	}
	if detail {
		st.Progress = j.progress()
		st.Snaps = append(make([]uint64, 0, len(j.snaps)), j.snaps...)
	}
	return st
}
