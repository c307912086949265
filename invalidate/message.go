package invalidate

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the broadcast wire format.
type Message struct {
	Pattern string `json:"pattern"`
	// Timestamp is RFC 3339 in UTC.
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
	// Instance identifies the sender. Receivers drop their own messages.
	Instance string `json:"instance,omitempty"`
}

// Encode returns the JSON form of m.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Time parses Timestamp.
func (m Message) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, m.Timestamp)
}

// DecodeMessage parses a broadcast payload. A message without a pattern is
// rejected.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("invalidate: decode message: %w", err)
	}
	if m.Pattern == "" {
		return m, fmt.Errorf("invalidate: message without pattern")
	}
	return m, nil
}
