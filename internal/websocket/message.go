package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeHello            MessageType = "hello"
	TypeDeviceStatus     MessageType = "device_status"
	TypeCommandIssued    MessageType = "command_issued"
	TypeCommandDelivered MessageType = "command_delivered"
	TypeEnrolled         MessageType = "enrolled"
	TypeSimChanged       MessageType = "sim_changed"
	TypeVerification     MessageType = "verification"
	TypePing             MessageType = "ping"
	TypePong             MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	DealerID  string          `json:"dealerId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload is sent once after a dashboard connects.
type HelloPayload struct {
	ClientID string `json:"clientId"`
	DealerID string `json:"dealerId"`
	AllFeeds bool   `json:"allFeeds"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
