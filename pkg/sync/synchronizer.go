// Package sync keeps a shared editable artifact (code buffer, question
// list, chat log) eventually consistent between the two participants of a
// session. There is no merging of concurrent edits: the newest broadcast
// state wins at whole-artifact granularity, which is sound because the
// relay preserves per-sender ordering and, socially, only one participant
// edits at a time. Chat differs only in that every update is an append of
// immutable events rather than a replacement.
package sync

import (
	"encoding/json"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/peerprep/interviewd/pkg/signaling"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// The ceiling for the debounce window. Beyond roughly a hundred
// milliseconds the other participant starts to perceive typing lag.
const MaxDebounceWindow = 100 * time.Millisecond

// DefaultDebounceWindow balances message volume against perceived latency.
const DefaultDebounceWindow = 50 * time.Millisecond

// Replace is the merge policy of wholly-owned artifacts: the incoming state
// replaces the current one.
func Replace[V any](_ V, incoming V) V {
	return incoming
}

// Append is the merge policy of event-log artifacts (chat): incoming events
// are appended, nothing is ever overwritten. The current log is cloned so
// values handed out earlier are not mutated behind the caller's back.
func Append[T any](current []T, incoming []T) []T {
	return append(slices.Clone(current), incoming...)
}

// Config of a synchronizer instance.
type Config[V any] struct {
	// Name of the artifact, used to route state updates.
	Artifact string
	// The local participant identity; updates stamped with it are echoes of
	// our own broadcasts and must never be applied.
	LocalID string
	// Debounce window for local edits. Clamped to MaxDebounceWindow;
	// DefaultDebounceWindow when zero.
	DebounceWindow time.Duration
	// How an incoming value is folded into the current one (Replace/Append).
	Merge func(current V, incoming V) V
	// How two values inside one debounce window are folded together. For
	// replacement artifacts this is Replace; for append artifacts it
	// concatenates so no event is lost to coalescing.
	Combine func(pending V, next V) V
	// Value the replica starts from (saved artifact or zero value).
	Initial V
	// Broadcasts a state update to the other participant. Errors are
	// reported back to the caller through OnBroadcastError.
	Broadcast func(signaling.StateUpdatePayload) error
	// Called when a broadcast failed, i.e. the remote side will not see the
	// update. Optional; the failure is logged either way.
	OnBroadcastError func(error)
	Logger           *logrus.Entry
}

// Synchronizer holds the local replica of one shared artifact.
type Synchronizer[V any] struct {
	config  Config[V]
	emitter *DebouncedEmitter[V]

	mutex      stdsync.Mutex
	value      V
	revision   int64
	lastEditor string
	handlers   []func(V)
}

func NewSynchronizer[V any](config Config[V]) *Synchronizer[V] {
	if config.DebounceWindow <= 0 {
		config.DebounceWindow = DefaultDebounceWindow
	}
	if config.DebounceWindow > MaxDebounceWindow {
		config.DebounceWindow = MaxDebounceWindow
	}

	synchronizer := &Synchronizer[V]{config: config, value: config.Initial}
	synchronizer.emitter = NewDebouncedEmitter(config.DebounceWindow, config.Combine, synchronizer.broadcast)
	return synchronizer
}

// OnChange registers a render callback invoked with the new replica value
// after a remote update was applied. Local edits do not fire it: the caller
// made those itself.
func (s *Synchronizer[V]) OnChange(handler func(V)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Value returns the current replica value.
func (s *Synchronizer[V]) Value() V {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.value
}

// SetLocal records a local edit: the replica reflects it immediately (no
// round-trip wait) and the broadcast is debounced.
func (s *Synchronizer[V]) SetLocal(value V) {
	now := time.Now().UnixMilli()

	s.mutex.Lock()
	s.value = s.config.Merge(s.value, value)
	s.revision = now
	s.lastEditor = s.config.LocalID
	s.mutex.Unlock()

	s.emitter.Publish(value)
}

// ApplyRemote applies a state update received over the relay. Updates
// originating from the local participant are echoes and are dropped; this
// filter is a correctness requirement, not an optimization, since the relay
// may deliver self-sent messages back to the sender.
func (s *Synchronizer[V]) ApplyRemote(senderID string, payload signaling.StateUpdatePayload) {
	if senderID == s.config.LocalID {
		return
	}
	if payload.Artifact != s.config.Artifact {
		return
	}

	var incoming V
	if err := json.Unmarshal(payload.Content, &incoming); err != nil {
		s.config.Logger.WithError(err).Warn("ignoring state update with malformed content")
		return
	}

	s.mutex.Lock()
	if payload.Bootstrap {
		// Catch-up broadcast: replace the replica wholesale, whatever the
		// merge policy. The joiner has no history to append to.
		s.value = incoming
	} else {
		s.value = s.config.Merge(s.value, incoming)
	}
	s.revision = payload.Revision
	s.lastEditor = payload.EditorID
	applied := s.value
	handlers := make([]func(V), len(s.handlers))
	copy(handlers, s.handlers)
	s.mutex.Unlock()

	for _, handler := range handlers {
		handler(applied)
	}
}

// Snapshot builds a bootstrap update carrying the full replica, used to
// catch up a participant that joined after edits were made.
func (s *Synchronizer[V]) Snapshot() (signaling.StateUpdatePayload, error) {
	s.mutex.Lock()
	value := s.value
	revision := s.revision
	editor := s.lastEditor
	s.mutex.Unlock()

	content, err := json.Marshal(value)
	if err != nil {
		return signaling.StateUpdatePayload{}, fmt.Errorf("failed to marshal %s snapshot: %w", s.config.Artifact, err)
	}

	return signaling.StateUpdatePayload{
		Artifact:  s.config.Artifact,
		Content:   content,
		Revision:  revision,
		EditorID:  editor,
		Bootstrap: true,
	}, nil
}

// Flush pushes out a pending debounced broadcast immediately.
func (s *Synchronizer[V]) Flush() {
	s.emitter.Flush()
}

// Close cancels the debounce timer. Pending unsent edits are dropped, which
// is the documented teardown behavior: the replica itself may still be
// persisted through a snapshot by the session.
func (s *Synchronizer[V]) Close() {
	s.emitter.Close()
}

func (s *Synchronizer[V]) broadcast(value V) {
	content, err := json.Marshal(value)
	if err != nil {
		s.config.Logger.WithError(err).Error("failed to marshal state update")
		return
	}

	payload := signaling.StateUpdatePayload{
		Artifact: s.config.Artifact,
		Content:  content,
		Revision: time.Now().UnixMilli(),
		EditorID: s.config.LocalID,
	}

	if err := s.config.Broadcast(payload); err != nil {
		// Never swallow this silently: an undelivered update means the
		// other participant will not see the edit until the next one.
		s.config.Logger.WithError(err).Error("state update was not delivered")
		if s.config.OnBroadcastError != nil {
			s.config.OnBroadcastError(err)
		}
	}
}
