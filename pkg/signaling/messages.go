package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"
)

// Kind tags a signaling message on the wire. All messages of a session are
// multiplexed over one relay channel and routed by this tag.
type Kind string

const (
	KindOffer          Kind = "offer"
	KindAnswer         Kind = "answer"
	KindICECandidate   Kind = "ice-candidate"
	KindStateUpdate    Kind = "state-update"
	KindPresenceJoined Kind = "presence-joined"
	KindPresenceLeft   Kind = "presence-left"
	KindControl        Kind = "control"
)

// Message is the envelope for everything exchanged over the relay channel.
// It is transient: messages exist only on the wire and are never persisted.
//
// The relay may deliver a sender's own messages back to it. Receivers must
// compare SenderID against their own participant ID and drop matches; the
// envelope deliberately carries the sender for exactly that purpose.
type Message struct {
	Kind     Kind            `json:"kind"`
	SenderID string          `json:"senderId"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// SDPPayload carries an offer or an answer.
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// CandidatePayload carries a single trickled ICE candidate.
type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// PresencePayload announces a participant entering or leaving the session.
type PresencePayload struct {
	Role        string `json:"role"`
	DisplayName string `json:"displayName,omitempty"`
}

// StateUpdatePayload carries the full serialized state of one shared
// artifact (code buffer, question list or chat log). Content is the
// artifact-specific value, opaque to the transport.
type StateUpdatePayload struct {
	Artifact string          `json:"artifact"`
	Content  json.RawMessage `json:"content"`
	// Unix milliseconds of the edit that produced this update. Within one
	// sender updates arrive in order, so the revision is informational.
	Revision int64  `json:"revision"`
	EditorID string `json:"editorId"`
	// Bootstrap updates replace the receiver's replica wholesale. They are
	// sent to catch up a participant that joined after edits were made.
	Bootstrap bool `json:"bootstrap,omitempty"`
}

// ControlPayload carries session-level control flags that are not tied to
// the peer connection (those go over the controls data channel instead).
type ControlPayload struct {
	Action string `json:"action"`
}

// Control actions.
const (
	ControlSessionEnded = "session-ended"
)

// NewMessage builds an envelope with the payload marshalled in place.
func NewMessage(kind Kind, senderID string, payload any) (Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}

	return Message{Kind: kind, SenderID: senderID, Payload: body}, nil
}

// ParsePayload decodes the payload of a message into the expected shape.
func ParsePayload[P any](message Message) (P, error) {
	var payload P
	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		return payload, fmt.Errorf("malformed %s payload: %w", message.Kind, err)
	}

	return payload, nil
}
