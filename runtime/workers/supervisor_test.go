package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingWorker struct {
	runs     atomic.Int32
	failures int32
}

func (w *countingWorker) Run(_ context.Context) error {
	n := w.runs.Add(1)
	if n <= w.failures {
		return fmt.Errorf("transient failure %d", n)
	}
	return nil
}

type panickyWorker struct {
	runs atomic.Int32
}

func (w *panickyWorker) Run(_ context.Context) error {
	if w.runs.Add(1) == 1 {
		panic("boom")
	}
	return nil
}

func TestSupervisorRestartsCrashedWorker(t *testing.T) {
	req := require.New(t)
	worker := &countingWorker{failures: 2}
	supervisor := NewSupervisor(slog.Default()).WithRestartDelay(time.Millisecond)
	supervisor.Add(worker)

	done := make(chan struct{})
	go func() {
		supervisor.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not finish")
	}
	req.Equal(int32(3), worker.runs.Load())
}

func TestSupervisorRecoversPanic(t *testing.T) {
	req := require.New(t)
	worker := &panickyWorker{}
	supervisor := NewSupervisor(slog.Default()).WithRestartDelay(time.Millisecond)
	supervisor.Add(worker)

	done := make(chan struct{})
	go func() {
		supervisor.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not recover from the panic")
	}
	req.Equal(int32(2), worker.runs.Load())
}

func TestSupervisorStopCancelsWorkers(t *testing.T) {
	req := require.New(t)
	started := make(chan struct{})
	blocker := workerFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	supervisor := NewSupervisor(slog.Default())
	supervisor.Add(blocker)

	done := make(chan struct{})
	go func() {
		supervisor.Run(context.Background())
		close(done)
	}()

	<-started
	supervisor.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not unwind the workers")
	}
	req.NotNil(supervisor.Cancel)
}

type workerFunc func(ctx context.Context) error

func (f workerFunc) Run(ctx context.Context) error { return f(ctx) }
