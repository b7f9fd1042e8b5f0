package engine

import (
	"encoding/json"
	"strings"
)

// RunStatus is the remote engine's view of a run.
type RunStatus string

const (
	StatusPending     RunStatus = "pending"
	StatusRunning     RunStatus = "running"
	StatusSuccess     RunStatus = "success"
	StatusError       RunStatus = "error"
	StatusTimeout     RunStatus = "timeout"
	StatusInterrupted RunStatus = "interrupted"
)

// Terminal reports whether no further progress can occur for this status.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusTimeout, StatusInterrupted:
		return true
	}
	return false
}

// Failed reports whether the run ended without producing data.
func (s RunStatus) Failed() bool {
	switch s {
	case StatusError, StatusTimeout, StatusInterrupted:
		return true
	}
	return false
}

// Assistant identifies a remote agent graph registration.
type Assistant struct {
	ID      string `json:"assistant_id"`
	GraphID string `json:"graph_id"`
	Name    string `json:"name"`
}

// Message is the normalized conversation message produced at the client
// boundary. The engine serializes message content either as a plain string,
// as a list of typed content blocks, or occasionally as something else
// entirely; all shapes collapse to Role + Content here so downstream code
// never branches on representation.
type Message struct {
	Role    string
	Content string
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Type    string          `json:"type"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	if m.Role == "" {
		m.Role = raw.Type
	}
	m.Content = normalizeContent(raw.Content)
	return nil
}

// normalizeContent flattens the engine's content field to plain text.
func normalizeContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []json.RawMessage
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var b strings.Builder
		for _, blk := range blocks {
			var part string
			if err := json.Unmarshal(blk, &part); err == nil {
				b.WriteString(part)
				continue
			}
			var typed struct {
				Type string `json:"type"`
				Text string `json:"text"`
			}
			if err := json.Unmarshal(blk, &typed); err == nil && typed.Text != "" {
				b.WriteString(typed.Text)
			}
		}
		return b.String()
	}
	// Last resort: surface the raw JSON rather than dropping it.
	return string(raw)
}

// ThreadState is the materialized conversation for a thread. Unknown fields
// returned by the engine are ignored.
type ThreadState struct {
	Values ThreadValues `json:"values"`
}

// ThreadValues carries the fields the orchestration core reads.
type ThreadValues struct {
	FinalReport string    `json:"final_report"`
	Messages    []Message `json:"messages"`
}

// LastMessage returns the most recent conversation message, if any.
func (s *ThreadState) LastMessage() (Message, bool) {
	if s == nil || len(s.Values.Messages) == 0 {
		return Message{}, false
	}
	return s.Values.Messages[len(s.Values.Messages)-1], true
}

// RunOptions carries optional run configuration forwarded to the engine.
type RunOptions struct {
	AllowClarification bool
}
