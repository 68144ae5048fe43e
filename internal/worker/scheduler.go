package worker

import (
	"context"
	"log"
	"sync"
	"time"
)

// JobScheduler submits its registered jobs to the pool on a fixed interval.
type JobScheduler struct {
	Name   string
	Ticker *time.Ticker
	Jobs   []Job
	Pool   Pool
	mu     sync.RWMutex
}

func NewJobScheduler(name string, interval time.Duration, pool Pool) *JobScheduler {
	return &JobScheduler{
		Name:   name,
		Ticker: time.NewTicker(interval),
		Jobs:   make([]Job, 0),
		Pool:   pool,
	}
}

func (s *JobScheduler) AddJob(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Jobs = append(s.Jobs, job)
}

func (s *JobScheduler) Run(ctx context.Context) {
	log.Printf("[Scheduler %s] Running.\n", s.Name)
	defer s.Ticker.Stop()

	for {
		select {
		case <-s.Ticker.C:
			s.submitJobs()

		case <-ctx.Done():
			log.Printf("[Scheduler %s] Shutting down.\n", s.Name)
			return
		}
	}
}

func (s *JobScheduler) submitJobs() {
	s.mu.RLock()
	jobsToRun := make([]Job, len(s.Jobs))
	copy(jobsToRun, s.Jobs)
	s.mu.RUnlock()

	for _, job := range jobsToRun {
		s.Pool.SubmitJob(job)
	}
}
