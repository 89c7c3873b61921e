package common_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/peerprep/interviewd/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_ExecutesTasksInOrder(t *testing.T) {
	results := make(chan int, 16)
	w := common.StartWorker(common.WorkerConfig[int]{
		ChannelSize: 16,
		Timeout:     time.Minute,
		OnTimeout:   func() {},
		OnTask:      func(task int) { results <- task },
	})
	defer w.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Send(i))
	}

	for i := 0; i < 5; i++ {
		select {
		case task := <-results:
			assert.Equal(t, i, task)
		case <-time.After(time.Second):
			t.Fatal("task was not executed in time")
		}
	}
}

func TestWorker_SendAfterStop(t *testing.T) {
	w := common.StartWorker(common.WorkerConfig[struct{}]{
		ChannelSize: 1,
		Timeout:     time.Minute,
		OnTimeout:   func() {},
		OnTask:      func(struct{}) {},
	})

	w.Stop()
	assert.ErrorIs(t, w.Send(struct{}{}), common.ErrWorkerClosed)

	// Stopping twice must not panic.
	w.Stop()
}

func TestWorker_FailsFastWhenOverloaded(t *testing.T) {
	block := make(chan struct{})
	w := common.StartWorker(common.WorkerConfig[struct{}]{
		ChannelSize: 1,
		Timeout:     time.Minute,
		OnTimeout:   func() {},
		OnTask:      func(struct{}) { <-block },
	})
	defer w.Stop()
	defer close(block)

	// Saturate the worker: one task blocks in OnTask, one sits in the queue.
	// Whatever comes after must fail fast rather than block.
	require.NoError(t, w.Send(struct{}{}))

	deadline := time.After(time.Second)
	for {
		if err := w.Send(struct{}{}); err != nil {
			assert.ErrorIs(t, err, common.ErrWorkerTooBusy)
			return
		}
		select {
		case <-deadline:
			t.Fatal("worker never reported overload")
		default:
		}
	}
}

func TestWorker_CallsOnTimeout(t *testing.T) {
	var timeouts atomic.Int32
	w := common.StartWorker(common.WorkerConfig[struct{}]{
		ChannelSize: 1,
		Timeout:     10 * time.Millisecond,
		OnTimeout:   func() { timeouts.Add(1) },
		OnTask:      func(struct{}) {},
	})
	defer w.Stop()

	assert.Eventually(t, func() bool {
		return timeouts.Load() > 0
	}, time.Second, 5*time.Millisecond)
}

func BenchmarkWorker(b *testing.B) {
	workerConfig := common.WorkerConfig[struct{}]{
		ChannelSize: 1,
		Timeout:     2 * time.Second,
		OnTimeout:   func() {},
		OnTask:      func(struct{}) {},
	}
	w := common.StartWorker(workerConfig)

	for n := 0; n < b.N; n++ {
		w.Send(struct{}{}) //nolint:errcheck
	}

	w.Stop()
}
