package peer

import (
	"encoding/json"
	"fmt"
)

// Label of the data channel used for in-call control flags. The channel is
// created by the negotiation initiator before the first offer, so that it is
// part of the initial SDP; the responder only ever accepts it.
const ControlsChannelLabel = "controls"

type ControlOp string

const (
	// Keepalive ping and its reply.
	ControlOpPing ControlOp = "ping"
	ControlOpPong ControlOp = "pong"
	// Announces whether the sender currently shares its screen. Only one
	// participant may share at a time; the first announcement wins and the
	// other side's share control stays disabled until the flag flips back.
	ControlOpScreenShare ControlOp = "screen-share"
)

// ControlMessage is the wire format of the controls data channel.
type ControlMessage struct {
	Op ControlOp `json:"op"`
	// Only meaningful for ControlOpScreenShare.
	ScreenShareActive bool `json:"screenShareActive,omitempty"`
}

func (m ControlMessage) encode() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal control message: %w", err)
	}
	return string(data), nil
}

func decodeControlMessage(data string) (ControlMessage, error) {
	var message ControlMessage
	if err := json.Unmarshal([]byte(data), &message); err != nil {
		return message, fmt.Errorf("malformed control message: %w", err)
	}
	return message, nil
}
