package pool

import (
	"log/slog"
	"sync"
)

type Worker struct {
	// the worker id
	id string

	// channel from which the worker consumes work, closed on Stop
	tasks chan Task

	// used to signal the pool to clean itself up
	wg *sync.WaitGroup

	log *slog.Logger
}

func NewWorker(id string, tasks chan Task, wg *sync.WaitGroup, log *slog.Logger) *Worker {
	return &Worker{
		id:    id,
		wg:    wg,
		log:   log,
		tasks: tasks,
	}
}

func (w *Worker) Start() {
	w.log.Info("starting worker", "worker", w.id)

	defer func() {
		w.wg.Done()
		w.log.Info("worker has been stopped", "worker", w.id)
	}()

	// tasks queued before Stop are still drained
	for task := range w.tasks {
		if err := task.Execute(); err != nil {
			w.log.Error("task failed", "worker", w.id, "error", err)
			task.OnFailure(err)
		}
	}
}
