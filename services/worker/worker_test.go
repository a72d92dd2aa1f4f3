package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"eddytools/leadharvester/internal/pipeline"
)

type countingRunner struct {
	runs int64
}

func (r *countingRunner) Run(context.Context) []pipeline.RunSummary {
	atomic.AddInt64(&r.runs, 1)
	return []pipeline.RunSummary{{Source: "pistonheads", State: pipeline.StateDone}}
}

func TestZeroIntervalRunsOnce(t *testing.T) {
	runner := &countingRunner{}
	w := NewWorker(runner, 0)

	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not return after a single run")
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&runner.runs))
}

func TestIntervalRunsUntilCancelled(t *testing.T) {
	runner := &countingRunner{}
	w := NewWorker(runner, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&runner.runs) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancellation")
	}
}
