// Package wire implements the JSON-over-UDP message codec: the envelope
// shared by every command, and the per-command field table from the
// protocol's external interface.
package wire

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Command is the discriminator carried in every message's "command" field.
type Command string

const (
	CommandPing     Command = "ping"
	CommandAck      Command = "ack"
	CommandPingReq  Command = "ping-req"
	CommandEvent    Command = "event"
	CommandEventReq Command = "event-req"
	CommandStateReq Command = "state-req"
	CommandState    Command = "state"
)

// ErrParse is returned (wrapped with the offending payload) when a
// datagram fails to decode as a Message.
var ErrParse = errors.New("invalid message")

// UpdateStatus mirrors peer.Status as a wire-safe string so this package
// never needs to import internal/peer; the engine is responsible for the
// two-way mapping.
type UpdateStatus string

// Update is one piggybacked dissemination entry as it appears on the wire.
// Count is transmitted but receiver-ignored: every recipient resets it to
// zero when buffering the assertion locally.
type Update struct {
	ID       int          `json:"id"`
	Sequence uint64       `json:"sequence"`
	Status   UpdateStatus `json:"status"`
	Count    int          `json:"count"`
	Host     string       `json:"host,omitempty"`
	Port     int          `json:"port,omitempty"`
}

// Message is the single JSON object carried by every datagram. Fields not
// meaningful to Command are simply omitted on encode and ignored on decode.
type Message struct {
	Command  Command  `json:"command"`
	SenderID int      `json:"sender_id"`
	Updates  []Update `json:"updates"`

	// ping-req only.
	TargetID      int    `json:"target_id,omitempty"`
	TargetAddress string `json:"target_address,omitempty"`
	TargetPort    int    `json:"target_port,omitempty"`

	// event / event-req only; optional, for test observability.
	EventName string `json:"eventName,omitempty"`

	// state only; optional, test-only engine introspection.
	State []Update `json:"state,omitempty"`
}

// Encode marshals a Message to its wire form.
func Encode(m Message) ([]byte, error) {
	if m.Updates == nil {
		m.Updates = []Update{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encode message")
	}
	return b, nil
}

// Decode parses a raw datagram into a Message. On failure it returns
// ErrParse wrapped with the raw payload, per the protocol's recoverable
// parse-error signal.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, errors.Wrapf(ErrParse, "Invalid message: %q", string(raw))
	}
	return m, nil
}
