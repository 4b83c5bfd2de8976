package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// worker drives tool execution on independent goroutines.
type worker struct {
	ctx context.Context
	wg  sync.WaitGroup
}

func newWorker(ctx context.Context) *worker {
	return &worker{ctx: ctx}
}

// launch starts job's tool and returns immediately.
func (w *worker) launch(job *Job) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Msgf("scheduler.worker.launch recovered job_id=%s panic=%v", job.ID, r)
				job.Tool.Abort(fmt.Sprintf("execution panic: %v", r))
			}
		}()
		job.Tool.Execute(w.ctx)
	}()
}

// wait blocks until every launched tool returned or ctx expires.
func (w *worker) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
