package services

import (
	"context"
	"errors"
	"log"
	"sync"

	"citysnap-backend/internal/analysis"
	"citysnap-backend/internal/metrics"
)

var ErrDispatcherClosed = errors.New("dispatcher is shut down")

type JobRunner interface {
	Process(ctx context.Context, job analysis.Job)
}

// Dispatcher runs analysis jobs in the background, at most `workers` at a
// time. Dispatch never blocks the caller. Jobs for the same report are not
// serialized; overlaps are counted and logged.
type Dispatcher struct {
	runner  JobRunner
	sem     chan struct{}
	metrics *metrics.PipelineMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	inFlight map[int64]int
}

func NewDispatcher(runner JobRunner, workers int, m *metrics.PipelineMetrics) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner:   runner,
		sem:      make(chan struct{}, workers),
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		inFlight: make(map[int64]int),
	}
}

func (d *Dispatcher) Dispatch(job analysis.Job) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.inFlight[job.ReportID]++
	overlap := d.inFlight[job.ReportID] > 1
	d.wg.Add(1)
	d.mu.Unlock()

	if overlap {
		log.Printf("[dispatcher] report %d already has an analysis in flight; last result wins", job.ReportID)
		d.metrics.IncOverlappingJobs()
	}
	d.metrics.JobStarted()

	go d.run(job)
	return nil
}

func (d *Dispatcher) run(job analysis.Job) {
	defer d.wg.Done()
	defer d.finish(job.ReportID)

	select {
	case d.sem <- struct{}{}:
	case <-d.ctx.Done():
		log.Printf("[dispatcher] report %d: dropped queued analysis on shutdown", job.ReportID)
		return
	}
	defer func() { <-d.sem }()

	if d.ctx.Err() != nil {
		log.Printf("[dispatcher] report %d: dropped queued analysis on shutdown", job.ReportID)
		return
	}

	// Process recovers its own panics; this guards against a runner that doesn't.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[dispatcher] report %d: job panicked: %v", job.ReportID, r)
		}
	}()

	d.runner.Process(d.ctx, job)
}

func (d *Dispatcher) finish(reportID int64) {
	d.mu.Lock()
	if d.inFlight[reportID] <= 1 {
		delete(d.inFlight, reportID)
	} else {
		d.inFlight[reportID]--
	}
	d.mu.Unlock()
	d.metrics.JobFinished()
}

// InFlight returns the number of queued or running jobs for reportID.
func (d *Dispatcher) InFlight(reportID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight[reportID]
}

// Shutdown stops accepting jobs and waits for running ones. If ctx ends
// first, running jobs see their context cancelled and ctx.Err() is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
