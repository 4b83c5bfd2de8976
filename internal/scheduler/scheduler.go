package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/scanctl/internal/observability"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidJob     = errors.New("scheduler: invalid job")
	ErrDuplicateJob   = errors.New("scheduler: duplicate job id")
	ErrInvalidConfig  = errors.New("scheduler: invalid config")
	ErrAlreadyStarted = errors.New("scheduler: loop already started")
)

const (
	DefaultMaxConcurrent = 3
	DefaultPollInterval  = time.Second
)

// Config bounds admission and sets the loop cadence.
type Config struct {
	MaxConcurrent int
	PollInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent: DefaultMaxConcurrent,
		PollInterval:  DefaultPollInterval,
	}
}

func (c Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("%w: max_concurrent must be >= 1, got %d", ErrInvalidConfig, c.MaxConcurrent)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be > 0, got %s", ErrInvalidConfig, c.PollInterval)
	}
	return nil
}

// Scheduler admits pending jobs up to MaxConcurrent and reaps finished ones.
type Scheduler struct {
	cfg    Config
	worker *worker

	mu      sync.Mutex
	pending []*Job
	running map[string]*Job

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New builds a stopped scheduler. Tools it launches run under a background
// context so stopping the loop never cancels them.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		cfg:     cfg,
		worker:  newWorker(context.Background()),
		pending: make([]*Job, 0),
		running: make(map[string]*Job),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Add appends job to the tail of the pending queue and returns its id.
// Invalid or duplicate jobs leave the scheduler untouched.
func (s *Scheduler) Add(job *Job) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if _, ok := s.lookupLocked(job.ID); ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	s.pending = append(s.pending, job)
	pending, running := len(s.pending), len(s.running)
	s.mu.Unlock()

	observability.SetQueueDepth(pending, running)
	log.Info().Msgf(
		"scheduler.Scheduler.Add job_id=%s tool=%q submitter=%q target=%q pending=%d",
		job.ID,
		job.Tool.Name(),
		job.Submitter,
		job.Target,
		pending,
	)
	return job.ID, nil
}

// Stop asks the loop to exit at the start of its next cycle. Running tools
// are left alone.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// Start runs the loop on its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		if err := s.Run(ctx); err != nil {
			log.Error().Msgf("scheduler.Scheduler.Start loop exited err=%v", err)
		}
	}()
}

// Done is closed when the loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Run blocks in the admit/reap/idle loop until ctx is cancelled or Stop is
// called. A scheduler runs at most one loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(s.done)

	log.Info().Msgf(
		"scheduler.Scheduler.Run start max_concurrent=%d poll_interval=%s",
		s.cfg.MaxConcurrent,
		s.cfg.PollInterval,
	)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("scheduler.Scheduler.Run shutdown err=%v", ctx.Err())
			return nil
		case <-s.stop:
			log.Info().Msgf("scheduler.Scheduler.Run stopped")
			return nil
		default:
		}

		s.cycle()

		idle := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
		case <-s.stop:
		case <-idle.C:
		}
		idle.Stop()
	}
}

// Drain waits for every launched tool to return, or for ctx to expire.
func (s *Scheduler) Drain(ctx context.Context) error {
	return s.worker.wait(ctx)
}

// TerminateRunning terminates the tool of every job in the running set and
// returns how many it stopped. Jobs stay in the set until the next reap.
func (s *Scheduler) TerminateRunning(ctx context.Context) int {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.running))
	for _, job := range s.running {
		jobs = append(jobs, job)
	}
	s.mu.Unlock()

	stopped := 0
	for _, job := range jobs {
		err := job.Tool.Terminate(ctx)
		observability.RecordTermination(job.Tool.Name(), err == nil)
		if err != nil {
			log.Debug().Msgf("scheduler.Scheduler.TerminateRunning skipped job_id=%s err=%v", job.ID, err)
			continue
		}
		stopped++
		log.Warn().Msgf("scheduler.Scheduler.TerminateRunning job_id=%s tool=%q", job.ID, job.Tool.Name())
	}
	return stopped
}

// cycle runs one admission pass followed by one reap pass.
func (s *Scheduler) cycle() {
	s.admit()
	s.reap()

	s.mu.Lock()
	pending, running := len(s.pending), len(s.running)
	s.mu.Unlock()
	observability.SetQueueDepth(pending, running)
}

// admit launches the oldest pending jobs while capacity allows. Pop, status
// change, insertion and launch happen under one lock hold.
func (s *Scheduler) admit() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	admitted := 0
	for len(s.pending) > 0 && len(s.running) < s.cfg.MaxConcurrent {
		job := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]

		if !job.advance(StatusRunning) {
			log.Warn().Msgf("scheduler.Scheduler.admit skipped job_id=%s status=%s", job.ID, job.Status())
			continue
		}
		s.running[job.ID] = job
		s.worker.launch(job)
		admitted++

		observability.RecordAdmission(job.Tool.Name())
		log.Info().Msgf(
			"scheduler.Scheduler.admit job_id=%s tool=%q running=%d pending=%d",
			job.ID,
			job.Tool.Name(),
			len(s.running),
			len(s.pending),
		)
	}
	return admitted
}

// reap removes jobs whose tool has finished and marks them FINISHED.
func (s *Scheduler) reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := 0
	for id, job := range s.running {
		if !job.Tool.Finished() {
			continue
		}
		delete(s.running, id)
		job.advance(StatusFinished)
		reaped++

		res := job.Tool.Result()
		observability.RecordJobFinished(job.Tool.Name(), string(res.State), res.Duration())
		log.Info().Msgf(
			"scheduler.Scheduler.reap job_id=%s tool=%q state=%s failed=%v reason=%q",
			id,
			job.Tool.Name(),
			res.State,
			res.Failed,
			res.Reason,
		)
	}
	return reaped
}

// Lookup returns a pending or running job by id.
func (s *Scheduler) Lookup(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(id)
}

func (s *Scheduler) lookupLocked(id string) (*Job, bool) {
	if job, ok := s.running[id]; ok {
		return job, true
	}
	for _, job := range s.pending {
		if job.ID == id {
			return job, true
		}
	}
	return nil, false
}

func (s *Scheduler) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) RunningLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Pending returns pending job ids, oldest first.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pending))
	for _, job := range s.pending {
		out = append(out, job.ID)
	}
	return out
}

// Running returns running job ids in no particular order.
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.running))
	for id := range s.running {
		out = append(out, id)
	}
	return out
}
