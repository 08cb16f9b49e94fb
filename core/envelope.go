package core

import (
	"fmt"

	"github.com/google/uuid"
)

// MessageType classifies an envelope. Every envelope has exactly one.
type MessageType string

const (
	MessageTypeRequest  MessageType = "request"
	MessageTypeResponse MessageType = "response"
	MessageTypeControl  MessageType = "control"
)

// Valid reports whether t is one of the three known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeRequest, MessageTypeResponse, MessageTypeControl:
		return true
	}
	return false
}

// ControlAction is the closed set of control-plane actions.
type ControlAction int

const (
	ControlActionUnknown ControlAction = iota
	ControlActionShutdown
	ControlActionPause
	ControlActionResume
	ControlActionUpdateConfig
	ControlActionStatus
	ControlActionResponse
)

var controlActionNames = map[ControlAction]string{
	ControlActionShutdown:     "shutdown",
	ControlActionPause:        "pause",
	ControlActionResume:       "resume",
	ControlActionUpdateConfig: "update_config",
	ControlActionStatus:       "status",
	ControlActionResponse:     "response",
}

// ParseControlAction maps a wire name to its action. Unrecognized names
// return ControlActionUnknown.
func ParseControlAction(name string) ControlAction {
	for action, n := range controlActionNames {
		if n == name {
			return action
		}
	}
	return ControlActionUnknown
}

func (a ControlAction) String() string {
	if n, ok := controlActionNames[a]; ok {
		return n
	}
	return "unknown"
}

// Header is the routing and correlation part of every envelope.
type Header struct {
	FromUUID  string      `json:"from_uuid" cbor:"from_uuid"`
	ToUUID    string      `json:"to_uuid" cbor:"to_uuid"`
	EventUUID string      `json:"event_uuid" cbor:"event_uuid"`
	Type      MessageType `json:"type" cbor:"type"`
	Timestamp int64       `json:"timestamp" cbor:"timestamp"`
}

// Envelope is the unit exchanged between agents.
type Envelope struct {
	Header  Header                 `json:"header" cbor:"header"`
	Payload map[string]interface{} `json:"payload" cbor:"payload"`
}

func (e *Envelope) FromUUID() string  { return e.Header.FromUUID }
func (e *Envelope) ToUUID() string    { return e.Header.ToUUID }
func (e *Envelope) EventUUID() string { return e.Header.EventUUID }
func (e *Envelope) Type() MessageType { return e.Header.Type }
func (e *Envelope) Timestamp() int64  { return e.Header.Timestamp }

// Time returns the header timestamp as an instant.
func (e *Envelope) Time() Timestamp {
	ts, _ := NewTimestamp(e.Header.Timestamp)
	return ts
}

// Action returns the control action named by payload.action.
func (e *Envelope) Action() ControlAction {
	name, _ := e.Get("action").(string)
	return ParseControlAction(name)
}

// Get returns a payload field, or nil when absent.
func (e *Envelope) Get(field string) interface{} {
	if e.Payload == nil {
		return nil
	}
	return e.Payload[field]
}

// Validate checks the header is routable.
func (e *Envelope) Validate() error {
	if !e.Header.Type.Valid() {
		return fmt.Errorf("unsupported message type %q: %w", e.Header.Type, ErrInvalidEnvelope)
	}
	if e.Header.ToUUID == "" {
		return fmt.Errorf("missing to_uuid: %w", ErrInvalidEnvelope)
	}
	return nil
}

// DeriveReturnAddress computes the header of a reply to h: from and to are
// swapped, the timestamp is taken now, the type is forced to response and the
// event uuid is preserved so the requester can correlate.
func DeriveReturnAddress(h Header) Header {
	return Header{
		FromUUID:  h.ToUUID,
		ToUUID:    h.FromUUID,
		EventUUID: h.EventUUID,
		Type:      MessageTypeResponse,
		Timestamp: Now().Int64(),
	}
}

// NewRequest builds a request envelope with a fresh event uuid.
func NewRequest(from, to string, payload map[string]interface{}) *Envelope {
	return newEnvelope(from, to, MessageTypeRequest, payload)
}

// NewControl builds a control envelope for action. fields are merged into
// the payload next to the action name.
func NewControl(from, to string, action ControlAction, fields map[string]interface{}) *Envelope {
	payload := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["action"] = action.String()
	return newEnvelope(from, to, MessageTypeControl, payload)
}

// NewResponse builds the reply to the envelope whose header is to.
func NewResponse(to Header, payload map[string]interface{}) *Envelope {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Envelope{Header: DeriveReturnAddress(to), Payload: payload}
}

func newEnvelope(from, to string, t MessageType, payload map[string]interface{}) *Envelope {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Envelope{
		Header: Header{
			FromUUID:  from,
			ToUUID:    to,
			EventUUID: uuid.New().String(),
			Type:      t,
			Timestamp: Now().Int64(),
		},
		Payload: payload,
	}
}
