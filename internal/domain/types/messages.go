package types

import "encoding/json"

// MessageType distinguishes the first message of a ratchet from later ones.
type MessageType int

const (
	// MessageTypePreKey carries the handshake material for a new session.
	MessageTypePreKey MessageType = 0
	// MessageTypeStandard is any later message on an established session.
	MessageTypeStandard MessageType = 1
)

// OlmMessage is the ratchet ciphertext and its type.
type OlmMessage struct {
	Body string      `json:"ciphertext"`
	Type MessageType `json:"type"`
}

// WireMessage is the only structure ever transmitted.
type WireMessage struct {
	Algorithm    string     `json:"algorithm"`
	Ciphertext   OlmMessage `json:"ciphertext"`
	SenderKey    string     `json:"senderKey"`
	SenderDevice string     `json:"senderDevice"`
}

// Payload is the authenticated plaintext carried inside the ciphertext.
type Payload struct {
	Content       string            `json:"content"`
	Sender        string            `json:"sender"`
	SenderDevice  string            `json:"sender_device"`
	Keys          map[string]string `json:"keys"`
	Recipient     string            `json:"recipient"`
	RecipientKeys map[string]string `json:"recipient_keys"`
}

// Event is one opaque to-device event delivered by the transport.
// AgeTS is the relay-assigned ordering marker; smaller is older.
type Event struct {
	Type    string          `json:"type"`
	Sender  string          `json:"sender"`
	Content json.RawMessage `json:"content"`
	AgeTS   int64           `json:"age_ts"`
}

// SyncResponse is one transport cycle.
type SyncResponse struct {
	NextBatch        string         `json:"next_batch"`
	Events           []Event        `json:"events"`
	OneTimeKeyCounts map[string]int `json:"device_one_time_keys_count,omitempty"`
}

// ContentMap addresses outbound content: user -> device -> content.
type ContentMap map[string]map[string]json.RawMessage

// Set stores content for (user, device).
func (m ContentMap) Set(r Recipient, content json.RawMessage) {
	if m[r.UserName] == nil {
		m[r.UserName] = make(map[string]json.RawMessage)
	}
	m[r.UserName][r.DeviceName] = content
}

// Failure pairs a recipient with the reason it was not sent to.
type Failure struct {
	Recipient Recipient
	Err       error
}

// Outcome reports per-recipient results of a send. A recipient appears in
// exactly one of the two lists.
type Outcome struct {
	Success []Recipient
	Failure []Failure
}

// FailureFor returns the failure recorded for r, if any.
func (o Outcome) FailureFor(r Recipient) (Failure, bool) {
	for _, f := range o.Failure {
		if f.Recipient == r {
			return f, true
		}
	}
	return Failure{}, false
}

// Succeeded reports whether r is listed as a success.
func (o Outcome) Succeeded(r Recipient) bool {
	for _, s := range o.Success {
		if s == r {
			return true
		}
	}
	return false
}
