package pool

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var slogger = slog.New(slog.NewTextHandler(os.Stdout, nil))

type testTask struct {
	executeFunc    func() error
	wg             *sync.WaitGroup
	mFailure       *sync.Mutex
	failureHandled bool
}

func newTestTask(executeFunc func() error, wg *sync.WaitGroup) *testTask {
	return &testTask{
		executeFunc: executeFunc,
		wg:          wg,
		mFailure:    &sync.Mutex{},
	}
}

func (t *testTask) Execute() error {
	if t.wg != nil {
		defer t.wg.Done()
	}

	if t.executeFunc != nil {
		return t.executeFunc()
	}

	return nil
}

func (t *testTask) OnFailure(e error) {
	t.mFailure.Lock()
	defer t.mFailure.Unlock()

	t.failureHandled = true
}

func (t *testTask) hitFailureCase() bool {
	t.mFailure.Lock()
	defer t.mFailure.Unlock()

	return t.failureHandled
}

type counter struct {
	count int
	mu    sync.Mutex
}

func (c *counter) inc() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return nil
}

func (c *counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func TestWorkerPool_MultipleStartStopDontPanic(t *testing.T) {
	p := NewWorkerPool(5, 10, slogger)

	// We're just checking to make sure multiple
	// calls to start or stop don't cause a panic
	p.Start()
	p.Start()

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
}

func TestWorkerPool_Work(t *testing.T) {
	var tasks []*testTask
	wg := &sync.WaitGroup{}
	c := &counter{}

	for i := 0; i < 20; i++ {
		wg.Add(1)
		tasks = append(tasks, newTestTask(c.inc, wg))
	}

	p := NewWorkerPool(5, 0, slogger)
	p.Start()
	defer func() { require.NoError(t, p.Stop()) }()

	for _, j := range tasks {
		require.NoError(t, p.AddWork(j))
	}

	wg.Wait()

	require.Equal(t, 20, c.value())
	for taskNum, task := range tasks {
		require.False(t, task.hitFailureCase(), "error function called on task %d when it shouldn't be", taskNum)
	}
}

func TestWorkerPool_OnFailureIsCalled(t *testing.T) {
	wg := &sync.WaitGroup{}
	wg.Add(1)
	task := newTestTask(func() error { return errors.New("boom") }, wg)

	p := NewWorkerPool(1, 1, slogger)
	p.Start()

	require.NoError(t, p.AddWork(task))
	wg.Wait()
	require.NoError(t, p.Stop())

	require.True(t, task.hitFailureCase())
}

func TestWorkerPool_ProcessRemainingTasksAfterStop(t *testing.T) {
	p := NewWorkerPool(2, 20, slogger)
	p.Start()
	c := &counter{}

	for i := 0; i < 20; i++ {
		require.NoError(t, p.AddWork(newTestTask(func() error {
			time.Sleep(time.Millisecond)
			return c.inc()
		}, nil)))
	}

	done := make(chan struct{})
	go func() {
		require.NoError(t, p.Stop())
		close(done)
	}()

	select {
	case <-time.After(10 * time.Second):
		t.Fatal("failed because Stop is still waiting on the workers")
	case <-done:
	}

	require.Equal(t, 20, c.value())
}

func TestWorkerPool_AddWorkAfterStop(t *testing.T) {
	p := NewWorkerPool(2, 2, slogger)
	p.Start()
	require.NoError(t, p.Stop())

	require.ErrorIs(t, p.AddWork(newTestTask(nil, nil)), ErrWorkerPoolClosed)
}
