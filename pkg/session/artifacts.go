package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/peerprep/interviewd/pkg/signaling"
	"github.com/peerprep/interviewd/pkg/sync"
)

// Names of the shared artifacts replicated between the two participants.
const (
	ArtifactCode      = "code"
	ArtifactQuestions = "questions"
	ArtifactChat      = "chat"
)

// ChatMessage is a single immutable chat event. Chat is synchronized as an
// append-only log: updates carry new messages, never rewrites.
type ChatMessage struct {
	AuthorID string `json:"authorId"`
	Body     string `json:"body"`
	// Unix milliseconds at the author.
	SentAt int64 `json:"sentAt"`
}

// NoticeKind classifies a user-facing session notice.
type NoticeKind string

const (
	NoticePeerJoined        NoticeKind = "peer-joined"
	NoticePeerLeft          NoticeKind = "peer-left"
	NoticeConnectionLost    NoticeKind = "connection-lost"
	NoticeConnectionFailed  NoticeKind = "connection-failed"
	NoticeNegotiationFailed NoticeKind = "negotiation-failed"
	NoticeHeartbeatLost     NoticeKind = "heartbeat-lost"
	NoticeSessionOverrun    NoticeKind = "session-overrun"
	NoticeSessionEnded      NoticeKind = "session-ended"
	// NoticeTransportDown reports a shared-state update that could not be
	// delivered over the relay. ReopenTransport is the recovery path.
	NoticeTransportDown NoticeKind = "transport-down"
)

// Notice is an event the embedding application should surface to the user.
// Notices are informational: the session itself keeps running (or, for
// NoticeSessionEnded, is already tearing down).
type Notice struct {
	Kind    NoticeKind
	Message string
}

func (s *Session) createSynchronizers(questions []string) {
	broadcastState := func(payload signaling.StateUpdatePayload) error {
		return s.broadcast(signaling.KindStateUpdate, payload)
	}
	// An edit the other side never received must not die in the log: the
	// notice gives the user a reason to hit reconnect.
	broadcastFailed := func(error) {
		s.notify(Notice{Kind: NoticeTransportDown, Message: "a shared-state update could not be delivered"})
	}

	s.code = sync.NewSynchronizer(sync.Config[string]{
		Artifact:         ArtifactCode,
		LocalID:          s.localID,
		DebounceWindow:   s.timing.debounceWindow,
		Merge:            sync.Replace[string],
		Combine:          sync.Replace[string],
		Broadcast:        broadcastState,
		OnBroadcastError: broadcastFailed,
		Logger:           s.logger.WithField("artifact", ArtifactCode),
	})

	s.questions = sync.NewSynchronizer(sync.Config[[]string]{
		Artifact:         ArtifactQuestions,
		LocalID:          s.localID,
		DebounceWindow:   s.timing.debounceWindow,
		Merge:            sync.Replace[[]string],
		Combine:          sync.Replace[[]string],
		Initial:          questions,
		Broadcast:        broadcastState,
		OnBroadcastError: broadcastFailed,
		Logger:           s.logger.WithField("artifact", ArtifactQuestions),
	})

	s.chat = sync.NewSynchronizer(sync.Config[[]ChatMessage]{
		Artifact:         ArtifactChat,
		LocalID:          s.localID,
		DebounceWindow:   s.timing.debounceWindow,
		Merge:            sync.Append[ChatMessage],
		Combine:          sync.Append[ChatMessage],
		Broadcast:        broadcastState,
		OnBroadcastError: broadcastFailed,
		Logger:           s.logger.WithField("artifact", ArtifactChat),
	})
}

// Code is the shared code buffer replica.
func (s *Session) Code() *sync.Synchronizer[string] {
	return s.code
}

// Questions is the shared question list replica. Only the interviewer is
// expected to edit it, but the restriction is social, not enforced here.
func (s *Session) Questions() *sync.Synchronizer[[]string] {
	return s.questions
}

// Chat is the shared chat log replica.
func (s *Session) Chat() *sync.Synchronizer[[]ChatMessage] {
	return s.chat
}

// SendChatMessage appends a message to the chat log and broadcasts it.
func (s *Session) SendChatMessage(body string) {
	s.chat.SetLocal([]ChatMessage{{
		AuthorID: s.localID,
		Body:     body,
		SentAt:   time.Now().UnixMilli(),
	}})
}

// SaveSnapshot persists the current value of every shared artifact to the
// store. Called on teardown and available to the embedding application for
// periodic saves.
func (s *Session) SaveSnapshot(ctx context.Context) error {
	snapshots := map[string]any{
		ArtifactCode:      s.code.Value(),
		ArtifactQuestions: s.questions.Value(),
		ArtifactChat:      s.chat.Value(),
	}

	for artifact, value := range snapshots {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s snapshot: %w", artifact, err)
		}
		if err := s.deps.Store.SaveArtifactSnapshot(ctx, s.id, artifact, data); err != nil {
			return fmt.Errorf("failed to save %s snapshot: %w", artifact, err)
		}
	}

	return nil
}

// rebroadcastState sends a bootstrap snapshot of every artifact, catching up
// a participant whose subscription may have missed earlier updates.
func (s *Session) rebroadcastState() {
	snapshots := []func() (signaling.StateUpdatePayload, error){
		s.code.Snapshot,
		s.questions.Snapshot,
		s.chat.Snapshot,
	}

	for _, take := range snapshots {
		payload, err := take()
		if err != nil {
			s.logger.WithError(err).Error("failed to build bootstrap snapshot")
			continue
		}
		if err := s.broadcast(signaling.KindStateUpdate, payload); err != nil {
			s.logger.WithError(err).WithField("artifact", payload.Artifact).Error("failed to rebroadcast state")
		}
	}
}
