package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout applies when a Spec leaves Timeout unset.
const DefaultTimeout = 10 * time.Second

// sandboxCleanupTimeout bounds container cleanup after a timeout.
const sandboxCleanupTimeout = 15 * time.Second

var (
	ErrMissingCommand  = errors.New("tools: missing command")
	ErrNotRunning      = errors.New("tools: tool is not running")
	ErrAlreadyFinished = errors.New("tools: tool already finished")
)

// Spec defines how to execute one tool process.
type Spec struct {
	Name      string        // tool identifier, also the metrics label
	Command   []string      // argv vector: program and its arguments
	Timeout   time.Duration // per-run timeout; 0 uses DefaultTimeout
	Parser    Parser        // nil uses RawParser
	Container string        // sandbox container tied to this run, if any
	Sandbox   Sandbox       // nil uses NoopSandbox
}

// Tool is one external command invocation and its recorded outcome.
type Tool struct {
	spec Spec

	mu          sync.Mutex
	state       State
	cmd         *exec.Cmd
	startedAt   time.Time
	terminating bool
	// set once Wait returned without a pending termination
	settled     bool
	exited      chan struct{}
	done        chan struct{}

	result   Result
	finished atomic.Bool
}

// New builds a tool from spec, filling defaults.
func New(spec Spec) *Tool {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Command = append([]string(nil), spec.Command...)
	if spec.Timeout <= 0 {
		spec.Timeout = DefaultTimeout
	}
	if spec.Parser == nil {
		spec.Parser = RawParser{}
	}
	if spec.Sandbox == nil {
		spec.Sandbox = NoopSandbox{}
	}
	return &Tool{
		spec:   spec,
		state:  StateNotStarted,
		exited: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (t *Tool) Name() string {
	return t.spec.Name
}

// Command returns a copy of the argv vector.
func (t *Tool) Command() []string {
	return append([]string(nil), t.spec.Command...)
}

func (t *Tool) Timeout() time.Duration {
	return t.spec.Timeout
}

func (t *Tool) Container() string {
	return t.spec.Container
}

func (t *Tool) String() string {
	return "tool." + t.spec.Name
}

// Finished reports whether a terminal outcome has been recorded.
func (t *Tool) Finished() bool {
	return t.finished.Load()
}

// Done is closed once the tool has finished.
func (t *Tool) Done() <-chan struct{} {
	return t.done
}

// State returns the current lifecycle position.
func (t *Tool) State() State {
	if t.finished.Load() {
		return t.result.State
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Result returns the recorded outcome. Before Finished it only carries the
// current state and start time.
func (t *Tool) Result() Result {
	if t.finished.Load() {
		return t.result
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished.Load() {
		return t.result
	}
	return Result{State: t.state, StartedAt: t.startedAt}
}

// Execute runs the command and blocks until a terminal outcome is recorded.
// Failures are reported through the returned Result, never as errors. A tool
// runs at most once; later calls wait for and return the first outcome.
func (t *Tool) Execute(ctx context.Context) Result {
	t.mu.Lock()
	if t.state != StateNotStarted {
		t.mu.Unlock()
		<-t.done
		return t.result
	}
	t.startedAt = time.Now()

	if len(t.spec.Command) == 0 || strings.TrimSpace(t.spec.Command[0]) == "" {
		t.state = StateRunning
		t.mu.Unlock()
		log.Warn().Msgf("tools.Tool.Execute misconfigured tool=%q", t.spec.Name)
		return t.finish(Result{
			State:  StateMisconfigured,
			Failed: true,
			Reason: "configuration error: " + ErrMissingCommand.Error(),
		})
	}

	runCtx, cancel := context.WithTimeout(ctx, t.spec.Timeout)
	defer cancel()

	argv := t.spec.Command
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	prepareCommand(cmd)

	if err := cmd.Start(); err != nil {
		t.state = StateRunning
		t.mu.Unlock()
		log.Warn().Msgf("tools.Tool.Execute start failed tool=%q err=%v", t.spec.Name, err)
		return t.finish(Result{
			State:    StateProcessError,
			Failed:   true,
			Reason:   fmt.Sprintf("start: %v", err),
			ExitCode: -1,
		})
	}
	t.cmd = cmd
	t.state = StateRunning
	t.mu.Unlock()
	log.Debug().Msgf("tools.Tool.Execute started tool=%q pid=%d argv=%q", t.spec.Name, cmd.Process.Pid, argv)

	waitErr := cmd.Wait()
	close(t.exited)

	t.mu.Lock()
	terminating := t.terminating
	if !terminating {
		t.settled = true
	}
	t.mu.Unlock()
	if terminating {
		// Terminate records the outcome once it sees the exit.
		<-t.done
		return t.result
	}

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(cmd),
	}
	switch {
	case timedOut(runCtx.Err(), waitErr):
		res.State = StateTimedOut
		res.Failed = true
		res.Reason = ReasonTimeout
		// killing the local client leaves a container running
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), sandboxCleanupTimeout)
		t.cleanupSandbox(cleanupCtx)
		cleanupCancel()
	case runCtx.Err() != nil && waitErr != nil:
		res.State = StateProcessError
		res.Failed = true
		res.Reason = runCtx.Err().Error()
	case stderr.Len() > 0:
		res.State = StateProcessError
		res.Failed = true
		res.Reason = stderrReason(stderr.String())
	case waitErr != nil && !isExitOrDelay(waitErr):
		res.State = StateProcessError
		res.Failed = true
		res.Reason = waitErr.Error()
	default:
		out, err := safeParse(t.spec.Parser, stdout.Bytes())
		if err != nil {
			res.State = StateProcessError
			res.Failed = true
			res.Reason = "parse output: " + err.Error()
			break
		}
		res.State = StateSucceeded
		res.RawOutput = out.Raw
		res.Fields = out.Fields
	}

	if res.Failed {
		log.Info().Msgf("tools.Tool.Execute failed tool=%q state=%s reason=%q", t.spec.Name, res.State, res.Reason)
	} else {
		log.Debug().Msgf("tools.Tool.Execute ok tool=%q exit=%d stdout_bytes=%d", t.spec.Name, res.ExitCode, len(res.Stdout))
	}
	return t.finish(res)
}

// Terminate kills a running tool, cleans up its sandbox container on a
// best-effort basis and records the terminated outcome. It returns once the
// process has been reaped or ctx expires.
func (t *Tool) Terminate(ctx context.Context) error {
	t.mu.Lock()
	switch {
	case t.finished.Load() || t.settled:
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyFinished, t.spec.Name)
	case t.terminating:
		t.mu.Unlock()
		return fmt.Errorf("%w: termination in progress for %s", ErrAlreadyFinished, t.spec.Name)
	case t.state == StateNotStarted || t.cmd == nil:
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, t.spec.Name)
	}
	t.terminating = true
	cmd := t.cmd
	t.mu.Unlock()

	if err := killProcess(cmd); err != nil {
		log.Debug().Msgf("tools.Tool.Terminate kill ignored tool=%q err=%v", t.spec.Name, err)
	}
	t.cleanupSandbox(ctx)

	select {
	case <-t.exited:
	case <-ctx.Done():
		log.Warn().Msgf(
			"tools.Tool.Terminate exit wait abandoned tool=%q pid=%d alive=%v err=%v",
			t.spec.Name,
			cmd.Process.Pid,
			processAlive(cmd.Process.Pid),
			ctx.Err(),
		)
	}

	t.finish(Result{
		State:    StateTerminated,
		Failed:   true,
		Reason:   ReasonTerminated,
		ExitCode: -1,
	})
	log.Info().Msgf("tools.Tool.Terminate done tool=%q", t.spec.Name)
	return nil
}

func (t *Tool) cleanupSandbox(ctx context.Context) {
	name := strings.TrimSpace(t.spec.Container)
	if name == "" {
		return
	}
	if err := t.spec.Sandbox.Stop(ctx, name); err != nil {
		log.Debug().Msgf("tools.Tool.cleanupSandbox stop ignored container=%q err=%v", name, err)
	}
	if err := t.spec.Sandbox.Remove(ctx, name); err != nil {
		log.Debug().Msgf("tools.Tool.cleanupSandbox remove ignored container=%q err=%v", name, err)
	}
}

// finish records res as the terminal outcome unless one already exists.
func (t *Tool) finish(res Result) Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished.Load() {
		return t.result
	}
	res.Finished = true
	res.StartedAt = t.startedAt
	res.FinishedAt = time.Now()
	t.result = res
	t.state = res.State
	t.finished.Store(true)
	close(t.done)
	return res
}

func safeParse(p Parser, stdout []byte) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()
	return p.Parse(stdout)
}

func stderrReason(raw string) string {
	if msg := strings.TrimSpace(raw); msg != "" {
		return msg
	}
	return "stderr output"
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// timedOut reports a deadline kill. A process that exited on its own before
// the deadline was observed is not a timeout.
func timedOut(ctxErr, waitErr error) bool {
	return waitErr != nil && errors.Is(ctxErr, context.DeadlineExceeded)
}

func isExitOrDelay(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay)
}

// Abort records a process-error outcome for a tool whose execution goroutine
// died before recording one. It is a no-op on a finished tool.
func (t *Tool) Abort(reason string) Result {
	if strings.TrimSpace(reason) == "" {
		reason = "aborted"
	}
	return t.finish(Result{
		State:    StateProcessError,
		Failed:   true,
		Reason:   reason,
		ExitCode: -1,
	})
}
