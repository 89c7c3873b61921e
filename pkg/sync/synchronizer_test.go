package sync_test

import (
	"encoding/json"
	stdsync "sync"
	"testing"
	"time"

	"github.com/peerprep/interviewd/pkg/signaling"
	"github.com/peerprep/interviewd/pkg/sync"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

// broadcastRecorder collects the updates a synchronizer sends out.
type broadcastRecorder struct {
	mutex    stdsync.Mutex
	payloads []signaling.StateUpdatePayload
}

func (r *broadcastRecorder) record(payload signaling.StateUpdatePayload) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.payloads = append(r.payloads, payload)
	return nil
}

func (r *broadcastRecorder) all() []signaling.StateUpdatePayload {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]signaling.StateUpdatePayload(nil), r.payloads...)
}

func newCodeSynchronizer(t *testing.T, localID string, recorder *broadcastRecorder) *sync.Synchronizer[string] {
	t.Helper()
	synchronizer := sync.NewSynchronizer(sync.Config[string]{
		Artifact:       "code",
		LocalID:        localID,
		DebounceWindow: 10 * time.Millisecond,
		Merge:          sync.Replace[string],
		Combine:        sync.Replace[string],
		Broadcast:      recorder.record,
		Logger:         testLogger(),
	})
	t.Cleanup(synchronizer.Close)
	return synchronizer
}

func remoteUpdate(t *testing.T, artifact, editorID string, value any) signaling.StateUpdatePayload {
	t.Helper()
	content, err := json.Marshal(value)
	require.NoError(t, err)
	return signaling.StateUpdatePayload{
		Artifact: artifact,
		Content:  content,
		Revision: time.Now().UnixMilli(),
		EditorID: editorID,
	}
}

func TestSynchronizer_LocalEditAppliesImmediately(t *testing.T) {
	recorder := &broadcastRecorder{}
	synchronizer := newCodeSynchronizer(t, "alice", recorder)

	synchronizer.SetLocal("package main")
	assert.Equal(t, "package main", synchronizer.Value())
}

func TestSynchronizer_BurstIsDebouncedToOneBroadcast(t *testing.T) {
	recorder := &broadcastRecorder{}
	synchronizer := newCodeSynchronizer(t, "alice", recorder)

	synchronizer.SetLocal("a")
	synchronizer.SetLocal("ab")
	synchronizer.SetLocal("abc")

	assert.Eventually(t, func() bool {
		return len(recorder.all()) == 1
	}, time.Second, 5*time.Millisecond)

	payloads := recorder.all()
	var content string
	require.NoError(t, json.Unmarshal(payloads[0].Content, &content))
	assert.Equal(t, "abc", content)
	assert.Equal(t, "alice", payloads[0].EditorID)
}

func TestSynchronizer_DropsOwnEchoes(t *testing.T) {
	recorder := &broadcastRecorder{}
	synchronizer := newCodeSynchronizer(t, "alice", recorder)

	synchronizer.SetLocal("local truth")

	// The relay may deliver our own broadcast back to us; applying it as if
	// it were remote would clobber newer local edits.
	echo := remoteUpdate(t, "code", "alice", "stale echo")
	synchronizer.ApplyRemote("alice", echo)

	assert.Equal(t, "local truth", synchronizer.Value())
}

func TestSynchronizer_AppliesRemoteUpdates(t *testing.T) {
	recorder := &broadcastRecorder{}
	synchronizer := newCodeSynchronizer(t, "alice", recorder)

	var rendered []string
	synchronizer.OnChange(func(value string) { rendered = append(rendered, value) })

	synchronizer.ApplyRemote("bob", remoteUpdate(t, "code", "bob", "bob's edit"))

	assert.Equal(t, "bob's edit", synchronizer.Value())
	assert.Equal(t, []string{"bob's edit"}, rendered)
}

func TestSynchronizer_IgnoresOtherArtifacts(t *testing.T) {
	recorder := &broadcastRecorder{}
	synchronizer := newCodeSynchronizer(t, "alice", recorder)

	synchronizer.SetLocal("code")
	synchronizer.ApplyRemote("bob", remoteUpdate(t, "chat", "bob", "hello"))

	assert.Equal(t, "code", synchronizer.Value())
}

func TestSynchronizer_MixedLocalAndRemoteConverges(t *testing.T) {
	recorder := &broadcastRecorder{}
	synchronizer := newCodeSynchronizer(t, "alice", recorder)

	// Interleave local edits with remote ones; the replica must end up at
	// the newest applied state, not at some stale echo.
	synchronizer.SetLocal("v1")
	synchronizer.ApplyRemote("bob", remoteUpdate(t, "code", "bob", "v2"))
	synchronizer.ApplyRemote("alice", remoteUpdate(t, "code", "alice", "v1"))
	synchronizer.ApplyRemote("bob", remoteUpdate(t, "code", "bob", "v3"))

	assert.Equal(t, "v3", synchronizer.Value())
}

func TestSynchronizer_BootstrapReplacesWholesale(t *testing.T) {
	recorder := &broadcastRecorder{}
	chat := sync.NewSynchronizer(sync.Config[[]string]{
		Artifact:       "chat",
		LocalID:        "alice",
		DebounceWindow: 10 * time.Millisecond,
		Merge:          sync.Append[string],
		Combine:        sync.Append[string],
		Broadcast:      recorder.record,
		Logger:         testLogger(),
	})
	t.Cleanup(chat.Close)

	chat.ApplyRemote("bob", remoteUpdate(t, "chat", "bob", []string{"hi"}))
	chat.ApplyRemote("bob", remoteUpdate(t, "chat", "bob", []string{"there"}))
	assert.Equal(t, []string{"hi", "there"}, chat.Value())

	// A bootstrap update carries the full log and replaces the replica even
	// though the artifact's normal merge policy is append.
	bootstrap := remoteUpdate(t, "chat", "bob", []string{"hi", "there", "stranger"})
	bootstrap.Bootstrap = true
	chat.ApplyRemote("bob", bootstrap)
	assert.Equal(t, []string{"hi", "there", "stranger"}, chat.Value())
}

func TestSynchronizer_SnapshotIsBootstrap(t *testing.T) {
	recorder := &broadcastRecorder{}
	synchronizer := newCodeSynchronizer(t, "alice", recorder)

	synchronizer.SetLocal("snapshot me")

	payload, err := synchronizer.Snapshot()
	require.NoError(t, err)
	assert.True(t, payload.Bootstrap)
	assert.Equal(t, "code", payload.Artifact)

	var content string
	require.NoError(t, json.Unmarshal(payload.Content, &content))
	assert.Equal(t, "snapshot me", content)
}

func TestSynchronizer_SeedsInitialValue(t *testing.T) {
	recorder := &broadcastRecorder{}
	questions := sync.NewSynchronizer(sync.Config[[]string]{
		Artifact:  "questions",
		LocalID:   "alice",
		Merge:     sync.Replace[[]string],
		Combine:   sync.Replace[[]string],
		Initial:   []string{"two sum", "lru cache"},
		Broadcast: recorder.record,
		Logger:    testLogger(),
	})
	t.Cleanup(questions.Close)

	assert.Equal(t, []string{"two sum", "lru cache"}, questions.Value())
}
