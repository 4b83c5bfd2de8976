package scheduler

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/scanctl/internal/tools"
	"github.com/google/uuid"
)

// Status is the scheduler-side job lifecycle marker.
type Status uint32

const (
	StatusPending Status = iota
	StatusRunning
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRunning:
		return "RUNNING"
	case StatusFinished:
		return "FINISHED"
	default:
		return fmt.Sprintf("Status(%d)", uint32(s))
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Job binds one tool run to the caller metadata that requested it.
type Job struct {
	ID        string
	Tool      *tools.Tool
	Submitter string
	Alias     string
	Target    string
	CreatedAt time.Time

	status atomic.Uint32

	mu         sync.Mutex
	startedAt  time.Time
	finishedAt time.Time
}

// NewJob wraps tool with a fresh uuid and PENDING status.
func NewJob(tool *tools.Tool, submitter, alias, target string) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Tool:      tool,
		Submitter: strings.TrimSpace(submitter),
		Alias:     strings.TrimSpace(alias),
		Target:    strings.TrimSpace(target),
		CreatedAt: time.Now(),
	}
}

// Validate checks the fields Add relies on.
func (j *Job) Validate() error {
	if j == nil {
		return fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	if strings.TrimSpace(j.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidJob)
	}
	if j.Tool == nil {
		return fmt.Errorf("%w: job %s has no tool", ErrInvalidJob, j.ID)
	}
	if s := j.Status(); s != StatusPending {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidJob, j.ID, s)
	}
	return nil
}

func (j *Job) Status() Status {
	return Status(j.status.Load())
}

// Times returns when the job was admitted and reaped; zero values mean not yet.
func (j *Job) Times() (started, finished time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.startedAt, j.finishedAt
}

func (j *Job) String() string {
	name := "tool.unknown"
	if j.Tool != nil {
		name = j.Tool.String()
	}
	return name + "_" + j.ID
}

// advance moves the status one step forward; any other transition is refused.
func (j *Job) advance(to Status) bool {
	if to == StatusPending || to > StatusFinished {
		return false
	}
	if !j.status.CompareAndSwap(uint32(to-1), uint32(to)) {
		return false
	}
	now := time.Now()
	j.mu.Lock()
	if to == StatusRunning {
		j.startedAt = now
	} else {
		j.finishedAt = now
	}
	j.mu.Unlock()
	return true
}
