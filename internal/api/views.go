package api

import (
	"time"

	"github.com/danmuck/scanctl/internal/scheduler"
	"github.com/danmuck/scanctl/internal/tools"
)

type ScanRequest struct {
	Tool      string `json:"tool" binding:"required"`
	Submitter string `json:"submitter"`
	Alias     string `json:"alias"`
	Target    string `json:"target"`
}

type ScanView struct {
	ID         string           `json:"scan_id"`
	Tool       string           `json:"tool"`
	Submitter  string           `json:"submitter"`
	Alias      string           `json:"alias"`
	Target     string           `json:"target"`
	Status     scheduler.Status `json:"status"`
	ToolState  tools.State      `json:"tool_state"`
	Container  string           `json:"container,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Result     *ResultView      `json:"result,omitempty"`
}

type ResultView struct {
	State     tools.State    `json:"state"`
	Failed    bool           `json:"failed"`
	Reason    string         `json:"reason,omitempty"`
	ExitCode  int            `json:"exit_code"`
	Stdout    string         `json:"stdout"`
	Stderr    string         `json:"stderr"`
	RawOutput string         `json:"raw_output"`
	Fields    map[string]any `json:"fields,omitempty"`
	Duration  string         `json:"duration"`
}

func newScanView(job *scheduler.Job) ScanView {
	view := ScanView{
		ID:        job.ID,
		Tool:      job.Tool.Name(),
		Submitter: job.Submitter,
		Alias:     job.Alias,
		Target:    job.Target,
		Status:    job.Status(),
		ToolState: job.Tool.State(),
		Container: job.Tool.Container(),
		CreatedAt: job.CreatedAt,
	}
	started, finished := job.Times()
	if !started.IsZero() {
		view.StartedAt = &started
	}
	if !finished.IsZero() {
		view.FinishedAt = &finished
	}
	if res := job.Tool.Result(); res.Finished && res.State.Terminal() {
		view.Result = &ResultView{
			State:     res.State,
			Failed:    res.Failed,
			Reason:    res.Reason,
			ExitCode:  res.ExitCode,
			Stdout:    res.Stdout,
			Stderr:    res.Stderr,
			RawOutput: res.RawOutput,
			Fields:    res.Fields,
			Duration:  res.Duration().String(),
		}
	}
	return view
}
