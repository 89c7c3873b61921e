package sync_test

import (
	"testing"
	"time"

	"github.com/peerprep/interviewd/pkg/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncedEmitter_CoalescesBurst(t *testing.T) {
	emissions := make(chan string, 16)
	emitter := sync.NewDebouncedEmitter(
		20*time.Millisecond,
		sync.Replace[string],
		func(value string) { emissions <- value },
	)
	defer emitter.Close()

	// A burst of edits inside one window must produce a single emission
	// carrying the newest value.
	emitter.Publish("h")
	emitter.Publish("he")
	emitter.Publish("hel")
	emitter.Publish("hello")

	select {
	case value := <-emissions:
		assert.Equal(t, "hello", value)
	case <-time.After(time.Second):
		t.Fatal("burst was never emitted")
	}

	select {
	case value := <-emissions:
		t.Fatalf("unexpected second emission %q", value)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDebouncedEmitter_AppendCombineLosesNothing(t *testing.T) {
	emissions := make(chan []int, 16)
	emitter := sync.NewDebouncedEmitter(
		20*time.Millisecond,
		sync.Append[int],
		func(value []int) { emissions <- value },
	)
	defer emitter.Close()

	emitter.Publish([]int{1})
	emitter.Publish([]int{2, 3})

	select {
	case value := <-emissions:
		assert.Equal(t, []int{1, 2, 3}, value)
	case <-time.After(time.Second):
		t.Fatal("events were never emitted")
	}
}

func TestDebouncedEmitter_FlushEmitsImmediately(t *testing.T) {
	emissions := make(chan string, 16)
	emitter := sync.NewDebouncedEmitter(
		time.Hour,
		sync.Replace[string],
		func(value string) { emissions <- value },
	)
	defer emitter.Close()

	emitter.Publish("pending")
	emitter.Flush()

	select {
	case value := <-emissions:
		require.Equal(t, "pending", value)
	case <-time.After(time.Second):
		t.Fatal("flush did not emit")
	}

	// Flushing with nothing pending is a no-op.
	emitter.Flush()
	select {
	case value := <-emissions:
		t.Fatalf("unexpected emission %q", value)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestDebouncedEmitter_CloseDropsPending(t *testing.T) {
	emissions := make(chan string, 16)
	emitter := sync.NewDebouncedEmitter(
		10*time.Millisecond,
		sync.Replace[string],
		func(value string) { emissions <- value },
	)

	emitter.Publish("doomed")
	emitter.Close()

	select {
	case value := <-emissions:
		t.Fatalf("pending value %q escaped a closed emitter", value)
	case <-time.After(50 * time.Millisecond):
	}

	// Publishing after close is ignored.
	emitter.Publish("late")
	emitter.Flush()
	select {
	case value := <-emissions:
		t.Fatalf("closed emitter emitted %q", value)
	case <-time.After(20 * time.Millisecond):
	}
}
