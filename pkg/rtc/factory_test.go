package rtc_test

import (
	"testing"

	"github.com/peerprep/interviewd/pkg/rtc"
	"github.com/stretchr/testify/require"
)

func TestCreatePeerConnection(t *testing.T) {
	factory, err := rtc.NewPeerConnectionFactory(rtc.Config{})
	require.NoError(t, err)

	connection, err := factory.CreatePeerConnection()
	require.NoError(t, err)
	require.NoError(t, connection.Close())
}

func TestCreatePeerConnection_WithLoopbackCandidates(t *testing.T) {
	factory, err := rtc.NewPeerConnectionFactory(rtc.Config{IncludeLoopbackCandidates: true})
	require.NoError(t, err)

	connection, err := factory.CreatePeerConnection()
	require.NoError(t, err)
	require.NoError(t, connection.Close())
}
