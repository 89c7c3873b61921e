package common_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/peerprep/interviewd/pkg/common"
	"github.com/stretchr/testify/assert"
)

func TestHeartbeat_KeepsRunningWhilePongsArrive(t *testing.T) {
	var timedOut atomic.Bool
	pings := make(chan struct{}, 16)

	heartbeat := common.Heartbeat{
		Interval:  10 * time.Millisecond,
		Timeout:   50 * time.Millisecond,
		SendPing:  func() bool { pings <- struct{}{}; return true },
		OnTimeout: func() { timedOut.Store(true) },
	}

	pongs := heartbeat.Start()
	defer close(pongs)

	// Answer every ping; the heartbeat must never report a timeout.
	for i := 0; i < 3; i++ {
		select {
		case <-pings:
			pongs <- common.Pong{}
		case <-time.After(time.Second):
			t.Fatal("no ping was sent")
		}
	}

	assert.False(t, timedOut.Load())
}

func TestHeartbeat_ReportsTimeoutWithoutPongs(t *testing.T) {
	timedOut := make(chan struct{})

	heartbeat := common.Heartbeat{
		Interval:  5 * time.Millisecond,
		Timeout:   20 * time.Millisecond,
		SendPing:  func() bool { return true },
		OnTimeout: func() { close(timedOut) },
	}

	heartbeat.Start()

	select {
	case <-timedOut:
	case <-time.After(time.Second):
		t.Fatal("heartbeat never reported the missing pong")
	}
}

func TestHeartbeat_StopsWhenPongChannelCloses(t *testing.T) {
	var timedOut atomic.Bool
	var pings atomic.Int32

	heartbeat := common.Heartbeat{
		Interval:  5 * time.Millisecond,
		Timeout:   20 * time.Millisecond,
		SendPing:  func() bool { pings.Add(1); return true },
		OnTimeout: func() { timedOut.Store(true) },
	}

	pongs := heartbeat.Start()

	assert.Eventually(t, func() bool { return pings.Load() > 0 }, time.Second, time.Millisecond)
	close(pongs)

	// After the channel closed the goroutine exits without a timeout report.
	time.Sleep(100 * time.Millisecond)
	assert.False(t, timedOut.Load())
}
