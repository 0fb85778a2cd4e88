// Package protocol implements the newline-delimited JSON wire format spoken
// between the gateway and external chat clients. Every frame is a single line
// of the form {"type": ..., "payload": ...}.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound frame types.
const (
	TypeAuth       = "AUTH"
	TypeChat       = "CHAT"
	TypeDisconnect = "DISCONNECT"
)

// Outbound frame types.
const (
	TypeAuthAck   = "AUTH_ACK"
	TypeBroadcast = "BROADCAST"
	TypeSystem    = "SYSTEM"
)

// AUTH_ACK status values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// SYSTEM event values.
const (
	EventJoin  = "join"
	EventLeave = "leave"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is the closed set of frames a client may send to the gateway.
type Inbound interface {
	inbound()
}

// Auth requests authentication, either by redeeming a link code or by
// presenting a previously bound client identifier with an empty link_code.
type Auth struct {
	ClientUUID string `json:"client_uuid"`
	LinkCode   string `json:"link_code"`
}

// Chat relays one chat message from an authenticated client.
type Chat struct {
	Message string `json:"message"`
}

// Disconnect requests a graceful close.
type Disconnect struct{}

func (Auth) inbound()       {}
func (Chat) inbound()       {}
func (Disconnect) inbound() {}

// Outbound is the closed set of frames the gateway may send to a client.
type Outbound interface {
	frameType() string
}

// AuthAck reports the result of an Auth frame. MinecraftUUID and Username are
// only set on success.
type AuthAck struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	MinecraftUUID string `json:"minecraft_uuid,omitempty"`
	Username      string `json:"username,omitempty"`
}

// Broadcast carries one chat message to a client.
type Broadcast struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// System announces a membership event to a client.
type System struct {
	Event    string `json:"event"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

func (AuthAck) frameType() string   { return TypeAuthAck }
func (Broadcast) frameType() string { return TypeBroadcast }
func (System) frameType() string    { return TypeSystem }

// Decode parses a single line into its frame variant. Frames with an
// unrecognized type decode to (nil, nil) so that newer clients can send types
// this gateway does not understand; anything unparseable is an error.
func Decode(line []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch env.Type {
	case TypeAuth:
		var frame Auth
		if err := json.Unmarshal(env.Payload, &frame); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
		return frame, nil
	case TypeChat:
		var frame Chat
		if err := json.Unmarshal(env.Payload, &frame); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
		return frame, nil
	case TypeDisconnect:
		return Disconnect{}, nil
	default:
		return nil, nil
	}
}

// Encode renders an outbound frame as one newline-terminated line.
func Encode(frame Outbound) ([]byte, error) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("error serializing %s payload: %w", frame.frameType(), err)
	}

	line, err := json.Marshal(envelope{Type: frame.frameType(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("error serializing %s frame: %w", frame.frameType(), err)
	}
	return append(line, '\n'), nil
}
