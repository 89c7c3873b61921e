package media_test

import (
	stdsync "sync"
	"sync/atomic"
	"testing"

	"github.com/peerprep/interviewd/pkg/media"
	"github.com/stretchr/testify/assert"
)

// Teardown and a device's own stop control may both close the stream,
// possibly at the same time; the devices must be released exactly once.
func TestStream_CloseReleasesOnce(t *testing.T) {
	var releases atomic.Int32
	stream := media.NewStream("stream", nil, func() { releases.Add(1) })

	var wg stdsync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream.Close()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), releases.Load())
}

func TestStream_CloseWithoutRelease(t *testing.T) {
	stream := media.NewStream("stream", nil, nil)
	stream.Close()
	stream.Close()
}
