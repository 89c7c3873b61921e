package session

import (
	stdsync "sync"
	"testing"

	"github.com/peerprep/interviewd/pkg/common"
	"github.com/peerprep/interviewd/pkg/peer"
)

// A pong arriving while teardown closes the heartbeat channel must never
// send on the closed channel. Run with -race.
func TestHandleControl_PongDoesNotRaceClose(t *testing.T) {
	for i := 0; i < 1000; i++ {
		pongs := make(chan common.Pong, 1)
		s := &Session{pongs: pongs}

		var wg stdsync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.handleControl(peer.ControlMessage{Op: peer.ControlOpPong})
		}()
		go func() {
			defer wg.Done()
			s.closePongs()
		}()
		wg.Wait()
	}
}

func TestClosePongs_IsIdempotent(t *testing.T) {
	pongs := make(chan common.Pong, 1)
	s := &Session{pongs: pongs}
	s.closePongs()
	s.closePongs()
}
