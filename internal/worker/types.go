package worker

import "context"

// Job is a unit of background work. Jobs run under the pool's context and
// report failures through their error return.
type Job func(ctx context.Context) error

// Pool accepts jobs for asynchronous execution.
type Pool interface {
	SubmitJob(job Job)
}
