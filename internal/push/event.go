// ABOUTME: Push event types and their JSON wire encoding.
// ABOUTME: Server frames are {"type":...,"data":{...}}; client frames carry a register request.

package push

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame types written by the server.
const (
	EventVaultDelivered = "vaultDelivered"
	EventRegistered     = "registered"
	EventError          = "error"
)

// FrameRegister is the only frame type a client sends.
const FrameRegister = "register"

// Event is a vault delivery notification addressed to one user.
type Event struct {
	Type      string
	MessageID string
	Message   string
	DeliverAt time.Time
	Delivered bool
}

// NewDeliveredEvent builds the notification pushed when a message comes due.
func NewDeliveredEvent(messageID, message string, deliverAt time.Time) *Event {
	return &Event{
		Type:      EventVaultDelivered,
		MessageID: messageID,
		Message:   message,
		DeliverAt: deliverAt.UTC(),
		Delivered: true,
	}
}

type eventData struct {
	MessageID string    `json:"messageId"`
	Message   string    `json:"message"`
	DeliverAt time.Time `json:"deliverAt"`
	Delivered bool      `json:"delivered"`
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode returns the wire form of the event.
func (e *Event) Encode() ([]byte, error) {
	data, err := json.Marshal(eventData{
		MessageID: e.MessageID,
		Message:   e.Message,
		DeliverAt: e.DeliverAt,
		Delivered: e.Delivered,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding event data: %w", err)
	}
	return json.Marshal(frame{Type: e.Type, Data: data})
}

// DecodeEvent parses a server frame carrying a delivery event.
func DecodeEvent(b []byte) (*Event, error) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	if f.Type != EventVaultDelivered {
		return nil, fmt.Errorf("unexpected frame type %q", f.Type)
	}
	var d eventData
	if err := json.Unmarshal(f.Data, &d); err != nil {
		return nil, fmt.Errorf("decoding event data: %w", err)
	}
	return &Event{
		Type:      f.Type,
		MessageID: d.MessageID,
		Message:   d.Message,
		DeliverAt: d.DeliverAt,
		Delivered: d.Delivered,
	}, nil
}

// frameType extracts the type field from any server frame.
func frameType(b []byte) string {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return ""
	}
	return f.Type
}

// controlFrame encodes a server control frame such as registered or error.
func controlFrame(typ string, data map[string]string) []byte {
	raw, _ := json.Marshal(data)
	b, _ := json.Marshal(frame{Type: typ, Data: raw})
	return b
}

func registeredFrame(userID, connID string) []byte {
	return controlFrame(EventRegistered, map[string]string{"userId": userID, "connId": connID})
}

func errorFrame(msg string) []byte {
	return controlFrame(EventError, map[string]string{"error": msg})
}

// clientFrame is what a websocket client sends: {"type":"register","userId":"..."}.
type clientFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}
