package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/declanlscott/printdesk-sub004/pkg/events"
)

// MessageType discriminates the websocket control and data frames.
type MessageType string

const (
	MessageConnectionInit     MessageType = "connection_init"
	MessageConnectionAck      MessageType = "connection_ack"
	MessageKeepAlive          MessageType = "ka"
	MessageSubscribe          MessageType = "subscribe"
	MessageSubscribeSuccess   MessageType = "subscribe_success"
	MessageSubscribeError     MessageType = "subscribe_error"
	MessageData               MessageType = "data"
	MessageUnsubscribe        MessageType = "unsubscribe"
	MessageUnsubscribeSuccess MessageType = "unsubscribe_success"
	MessageUnsubscribeError   MessageType = "unsubscribe_error"
	MessageBroadcastError     MessageType = "broadcast_error"
)

// Message is the single wire envelope for every frame in both directions.
// Fields absent from a given frame type are simply omitted; decoding is
// liberal and ignores fields a frame type does not use.
type Message struct {
	Type MessageType `json:"type"`

	// ID is the client-chosen local subscription id on subscribe,
	// unsubscribe, data, and their error frames.
	ID string `json:"id,omitempty"`

	// Channel names the channel being subscribed to.
	Channel string `json:"channel,omitempty"`

	// Authorization carries per-subscription credentials on subscribe.
	Authorization AuthMaterial `json:"authorization,omitempty"`

	// ConnectionTimeoutMs arrives on connection_ack and sets the idle
	// window after which the client must assume the connection is dead.
	ConnectionTimeoutMs int `json:"connectionTimeoutMs,omitempty"`

	// Event is the payload of a data frame. Publishers JSON-encode each
	// event into a string, so on the wire this is usually a JSON string
	// containing the event document.
	Event json.RawMessage `json:"event,omitempty"`

	// Errors carries the failure detail on *_error frames.
	Errors []MessageError `json:"errors,omitempty"`
}

// MessageError is one failure entry on an error frame.
type MessageError struct {
	ErrorType string `json:"errorType"`
	Message   string `json:"message"`
}

// DataEvent decodes the event carried by a data frame. It accepts both the
// double-encoded form produced by Publisher (a JSON string holding the event
// document) and a bare event object.
func (m *Message) DataEvent() (events.Event, error) {
	if len(m.Event) == 0 {
		return nil, fmt.Errorf("realtime: data frame without event payload")
	}
	raw := []byte(m.Event)
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("realtime: unwrapping data frame event: %w", err)
		}
		raw = []byte(inner)
	}
	return events.Decode(raw)
}
