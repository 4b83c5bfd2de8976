package api

import (
	"sort"
	"sync"

	"github.com/danmuck/scanctl/internal/scheduler"
)

// Store keeps every submitted job so results stay readable after the
// scheduler has reaped them.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*scheduler.Job
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*scheduler.Job)}
}

func (s *Store) Put(job *scheduler.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *Store) Get(id string) (*scheduler.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

// List returns jobs oldest first.
func (s *Store) List() []*scheduler.Job {
	s.mu.RLock()
	list := make([]*scheduler.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		list = append(list, job)
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}
