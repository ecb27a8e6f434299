package statusws

import "github.com/kixelated/warp/pkg/session"

type MessageType string

const (
    MsgSnapshot MessageType = "snapshot"
    MsgDelta    MessageType = "delta"
)

// Message is the JSON frame pushed to status clients.
type Message struct {
    Type    MessageType `json:"type"`
    Payload any         `json:"payload"`
}

type SnapshotPayload struct {
    Sessions []session.Info `json:"sessions"`
}

type DeltaPayload struct {
    Updates []session.Info `json:"updates,omitempty"`
    Removed []string       `json:"removed,omitempty"`
}
