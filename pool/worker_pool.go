package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var ErrWorkerPoolClosed = errors.New("worker pool is not active")

var _ Pool = (*WorkerPool)(nil)

type WorkerPool struct {
	// channel from which workers consume work
	tasks chan Task

	// ensure the pool can only be started once
	start sync.Once

	// ensure the pool can only be stopped once
	stop sync.Once

	// guards closed against AddWork sending on a closed channel
	mu     sync.RWMutex
	closed bool

	workers []*Worker

	wg *sync.WaitGroup

	log *slog.Logger
}

func NewWorkerPool(numWorkers uint, queueSize uint, log *slog.Logger) *WorkerPool {
	return &WorkerPool{
		workers: make([]*Worker, numWorkers),
		tasks:   make(chan Task, queueSize),
		wg:      &sync.WaitGroup{},
		log:     log,
	}
}

func (p *WorkerPool) Start() {
	p.start.Do(func() {
		p.log.Info("starting worker pool", "workers", len(p.workers))
		p.startWorkers()
	})
}

func (p *WorkerPool) startWorkers() {
	for i := 0; i < len(p.workers); i++ {
		w := NewWorker(fmt.Sprintf("worker_%d", i+1), p.tasks, p.wg, p.log)
		p.workers[i] = w
		p.wg.Add(1)
		go w.Start()
	}
}

func (p *WorkerPool) Stop() error {
	p.stop.Do(func() {
		p.log.Info("stopping worker pool")

		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()

		// wait for the workers to drain the queue
		p.wg.Wait()

		p.log.Info("worker pool has been stopped")
	})
	return nil
}

// AddWork adds work to the WorkerPool. If the channel buffer is full (or 0) and
// all workers are occupied, this will block until work is consumed.
func (p *WorkerPool) AddWork(t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrWorkerPoolClosed
	}

	p.tasks <- t
	return nil
}
