//go:build unix

package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/scanctl/internal/testutil/testlog"
	"github.com/danmuck/scanctl/internal/tools"
)

func newTestScheduler(t *testing.T, maxConcurrent int, poll time.Duration) *Scheduler {
	t.Helper()
	s, err := New(Config{MaxConcurrent: maxConcurrent, PollInterval: poll})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(func() {
		s.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Drain(ctx)
	})
	return s
}

func sleepJob(seconds string, timeout time.Duration) *Job {
	tool := tools.New(tools.Spec{Name: "sleeper", Command: []string{"sleep", seconds}, Timeout: timeout})
	return NewJob(tool, "nobody", "dummy_tool", "nobody")
}

func waitFor(t *testing.T, within time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", within, what)
}

func sortedIDs(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func TestAddReturnsUniqueIDsAndGrowsQueue(t *testing.T) {
	testlog.Start(t)
	s := newTestScheduler(t, 3, time.Second)

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		before := s.PendingLen()
		id, err := s.Add(sleepJob("1", time.Second))
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id returned: %s", id)
		}
		seen[id] = true
		if got := s.PendingLen(); got != before+1 {
			t.Fatalf("pending len %d, want %d", got, before+1)
		}
		if _, ok := s.Lookup(id); !ok {
			t.Fatalf("added job %s not found", id)
		}
	}
}

func TestAddRejectsInvalidJobs(t *testing.T) {
	testlog.Start(t)
	s := newTestScheduler(t, 3, time.Second)

	valid := sleepJob("1", time.Second)
	if _, err := s.Add(valid); err != nil {
		t.Fatalf("add valid: %v", err)
	}

	noTool := &Job{ID: "job.no-tool"}
	started := sleepJob("1", time.Second)
	started.advance(StatusRunning)

	cases := []struct {
		name string
		job  *Job
		want error
	}{
		{name: "nil", job: nil, want: ErrInvalidJob},
		{name: "no tool", job: noTool, want: ErrInvalidJob},
		{name: "not pending", job: started, want: ErrInvalidJob},
		{name: "duplicate", job: valid, want: ErrDuplicateJob},
	}
	for _, tc := range cases {
		before := s.PendingLen()
		if _, err := s.Add(tc.job); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if got := s.PendingLen(); got != before {
			t.Fatalf("%s: pending changed %d -> %d", tc.name, before, got)
		}
	}
}

func TestAdmitHonoursLimitAndFIFO(t *testing.T) {
	testlog.Start(t)
	s := newTestScheduler(t, 3, time.Second)

	jobs := make([]*Job, 4)
	for i := range jobs {
		jobs[i] = sleepJob("0.3", 10*time.Second)
		if _, err := s.Add(jobs[i]); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	s.cycle()
	if s.RunningLen() != 3 || s.PendingLen() != 1 {
		t.Fatalf("after first cycle running=%d pending=%d, want 3/1", s.RunningLen(), s.PendingLen())
	}
	for i := 0; i < 3; i++ {
		if jobs[i].Status() != StatusRunning {
			t.Fatalf("job %d status %s, want RUNNING", i, jobs[i].Status())
		}
	}
	if jobs[3].Status() != StatusPending {
		t.Fatalf("fourth job status %s, want PENDING", jobs[3].Status())
	}
	if pending := s.Pending(); len(pending) != 1 || pending[0] != jobs[3].ID {
		t.Fatalf("unexpected pending ids: %v", pending)
	}

	for i := 0; i < 3; i++ {
		select {
		case <-jobs[i].Tool.Done():
		case <-time.After(5 * time.Second):
			t.Fatalf("job %d never finished", i)
		}
	}

	// admission runs before reaping, so the freed slots are only used next cycle
	s.cycle()
	if s.RunningLen() != 0 || s.PendingLen() != 1 {
		t.Fatalf("after reap cycle running=%d pending=%d, want 0/1", s.RunningLen(), s.PendingLen())
	}
	for i := 0; i < 3; i++ {
		if jobs[i].Status() != StatusFinished {
			t.Fatalf("job %d status %s, want FINISHED", i, jobs[i].Status())
		}
	}

	s.cycle()
	if s.RunningLen() != 1 || s.PendingLen() != 0 {
		t.Fatalf("after admission cycle running=%d pending=%d, want 1/0", s.RunningLen(), s.PendingLen())
	}
	if jobs[3].Status() != StatusRunning {
		t.Fatalf("fourth job status %s, want RUNNING", jobs[3].Status())
	}
}

func TestReapIsIdempotentWhenNothingFinished(t *testing.T) {
	testlog.Start(t)
	s := newTestScheduler(t, 2, time.Second)
	for i := 0; i < 2; i++ {
		if _, err := s.Add(sleepJob("2", 10*time.Second)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if n := s.admit(); n != 2 {
		t.Fatalf("admitted %d, want 2", n)
	}
	before := strings.Join(sortedIDs(s.Running()), ",")
	for i := 0; i < 3; i++ {
		if n := s.reap(); n != 0 {
			t.Fatalf("reaped %d unfinished jobs", n)
		}
	}
	after := strings.Join(sortedIDs(s.Running()), ",")
	if before != after {
		t.Fatalf("running set changed: %s -> %s", before, after)
	}
}

func TestLoopReapsFinishedJobsWithinOneInterval(t *testing.T) {
	testlog.Start(t)
	poll := 50 * time.Millisecond
	s := newTestScheduler(t, 5, poll)

	jobs := make([]*Job, 5)
	for i := range jobs {
		tool := tools.New(tools.Spec{Name: "dummytool", Command: []string{"echo", "dummy tool output"}})
		tool.Execute(context.Background())
		jobs[i] = NewJob(tool, "nobody", "dummy_tool", "nobody")
		jobs[i].advance(StatusRunning)
		s.mu.Lock()
		s.running[jobs[i].ID] = jobs[i]
		s.mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	waitFor(t, poll+500*time.Millisecond, func() bool { return s.RunningLen() == 0 }, "finished jobs to be reaped")
	for i, job := range jobs {
		if job.Status() != StatusFinished {
			t.Fatalf("job %d status %s, want FINISHED", i, job.Status())
		}
	}
}

func TestLoopRunsAllJobsWithinLimit(t *testing.T) {
	testlog.Start(t)
	s := newTestScheduler(t, 3, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var maxSeen atomic.Int64
	sampling := make(chan struct{})
	go func() {
		for {
			select {
			case <-sampling:
				return
			default:
			}
			if n := int64(s.RunningLen()); n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()
	defer close(sampling)

	s.Start(ctx)
	jobs := make([]*Job, 8)
	for i := range jobs {
		jobs[i] = sleepJob("0.1", 5*time.Second)
		if _, err := s.Add(jobs[i]); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	waitFor(t, 10*time.Second, func() bool {
		for _, job := range jobs {
			if job.Status() != StatusFinished {
				return false
			}
		}
		return true
	}, "all jobs to finish")

	if maxSeen.Load() > 3 {
		t.Fatalf("running set exceeded limit: %d", maxSeen.Load())
	}
	for i, job := range jobs {
		res := job.Tool.Result()
		if res.Failed {
			t.Fatalf("job %d failed: %q", i, res.Reason)
		}
	}
}

func TestLoopObservesTimeout(t *testing.T) {
	testlog.Start(t)
	poll := 50 * time.Millisecond
	timeout := 200 * time.Millisecond
	s := newTestScheduler(t, 3, poll)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	job := sleepJob("5", timeout)
	if _, err := s.Add(job); err != nil {
		t.Fatalf("add: %v", err)
	}

	// one interval to admit, the timeout, one interval to reap, plus slack
	waitFor(t, timeout+2*poll+time.Second, func() bool { return job.Status() == StatusFinished }, "timed out job to be reaped")
	res := job.Tool.Result()
	if !res.Finished || !res.Failed || !strings.Contains(res.Reason, "timeout") {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestStopLeavesRunningToolsAlone(t *testing.T) {
	testlog.Start(t)
	s := newTestScheduler(t, 3, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	job := sleepJob("0.5", 5*time.Second)
	if _, err := s.Add(job); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitFor(t, time.Second, func() bool { return job.Status() == StatusRunning }, "job admission")

	s.Stop()
	s.Stop()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("loop did not exit after stop")
	}
	if job.Tool.Finished() {
		t.Fatalf("tool should still be running right after stop")
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	if err := s.Drain(drainCtx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	res := job.Tool.Result()
	if !res.Finished || res.Failed {
		t.Fatalf("tool should finish successfully on its own: %+v", res)
	}
	if job.Status() != StatusRunning {
		t.Fatalf("stopped loop must not reap: status=%s", job.Status())
	}
}

func TestTerminateThroughScheduler(t *testing.T) {
	testlog.Start(t)
	s := newTestScheduler(t, 1, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	job := sleepJob("5", 10*time.Second)
	if _, err := s.Add(job); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitFor(t, time.Second, func() bool { return job.Tool.State() == tools.StateRunning }, "tool start")

	termCtx, termCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer termCancel()
	if err := job.Tool.Terminate(termCtx); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	waitFor(t, time.Second, func() bool { return job.Status() == StatusFinished }, "terminated job to be reaped")
	if res := job.Tool.Result(); res.Reason != tools.ReasonTerminated {
		t.Fatalf("unexpected reason: %q", res.Reason)
	}
}

func TestRunRejectsSecondLoop(t *testing.T) {
	testlog.Start(t)
	s := newTestScheduler(t, 1, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	waitFor(t, time.Second, func() bool { return s.started.Load() }, "loop start")

	if err := s.Run(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	cancel()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("loop did not exit after context cancel")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)
	if _, err := New(Config{MaxConcurrent: 0, PollInterval: time.Second}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for zero limit, got %v", err)
	}
	if _, err := New(Config{MaxConcurrent: 1}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for zero interval, got %v", err)
	}
	if cfg := DefaultConfig(); cfg.MaxConcurrent != 3 || cfg.PollInterval != time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestTerminateRunningStopsEveryLaunchedTool(t *testing.T) {
	testlog.Start(t)
	s := newTestScheduler(t, 2, time.Second)

	jobs := make([]*Job, 3)
	for i := range jobs {
		jobs[i] = sleepJob("30", time.Minute)
		if _, err := s.Add(jobs[i]); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	s.admit()
	for i := 0; i < 2; i++ {
		job := jobs[i]
		waitFor(t, 2*time.Second, func() bool { return job.Tool.State() == tools.StateRunning }, "tool start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if n := s.TerminateRunning(ctx); n != 2 {
		t.Fatalf("terminated %d tools, want 2", n)
	}
	for i := 0; i < 2; i++ {
		if res := jobs[i].Tool.Result(); res.State != tools.StateTerminated {
			t.Fatalf("job %d state %s, want terminated", i, res.State)
		}
	}
	if jobs[2].Tool.Finished() || jobs[2].Status() != StatusPending {
		t.Fatalf("pending job must not be touched")
	}
	if err := s.Drain(ctx); err != nil {
		t.Fatalf("drain after terminate: %v", err)
	}
	if n := s.TerminateRunning(ctx); n != 0 {
		t.Fatalf("second call terminated %d tools", n)
	}
}
