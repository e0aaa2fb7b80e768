package pool

type Pool interface {
	// Start gets the worker pool ready-to-process tasks, and should only be called once
	Start()

	// Stop rejects new tasks, waits for the queued ones to finish and tears
	// down the workers. Only the first call has an effect.
	Stop() error

	// AddWork adds a task for the worker pool to process. It is only valid after
	// Start() has been called and before Stop() has been called.
	AddWork(Task) error
}
