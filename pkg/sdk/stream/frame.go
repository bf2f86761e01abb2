package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Frame is one message on the socket. Msg stays raw so each consumer decodes
// only the payload it understands.
type Frame struct {
	Name      string          `json:"name"`
	RequestID string          `json:"request_id,omitempty"`
	Msg       json.RawMessage `json:"msg,omitempty"`
	Status    int             `json:"status,omitempty"`
}

// Message is the versioned envelope used inside sendMessage frames.
type Message struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Body    interface{} `json:"body"`
}

// SubscribeMessage is the envelope used inside subscribeMessage and
// unsubscribeMessage frames.
type SubscribeMessage struct {
	Name    string      `json:"name"`
	Version string      `json:"version,omitempty"`
	Params  interface{} `json:"params,omitempty"`
}

// NewFrame marshals msg into a frame.
func NewFrame(name, requestID string, msg interface{}) (Frame, error) {
	f := Frame{Name: name, RequestID: requestID}
	if msg == nil {
		return f, nil
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s frame: %w", name, err)
	}
	f.Msg = raw
	return f, nil
}

// DecodeFrame parses an inbound payload. Blank payloads and payloads without
// a name are rejected.
func DecodeFrame(data []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Frame{}, fmt.Errorf("empty payload")
	}
	var f Frame
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Name == "" {
		return Frame{}, fmt.Errorf("frame has no name")
	}
	return f, nil
}

// DecodeMsg unmarshals the frame payload into out.
func (f Frame) DecodeMsg(out interface{}) error {
	if len(f.Msg) == 0 {
		return fmt.Errorf("frame %s has no msg", f.Name)
	}
	return json.Unmarshal(f.Msg, out)
}

func (f Frame) String() string {
	return fmt.Sprintf("name=%s request_id=%s status=%d msg=%s", f.Name, f.RequestID, f.Status, truncateForLog(string(f.Msg), 240))
}

func truncateForLog(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
