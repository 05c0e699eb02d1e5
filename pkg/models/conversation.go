package models

import "time"

// ToolKind identifies which workspace tool a conversation belongs to.
type ToolKind string

const (
	ToolChat   ToolKind = "chat"
	ToolSpeech ToolKind = "tts"
	ToolImage  ToolKind = "image"
	ToolSearch ToolKind = "search"
)

// KnownToolKinds lists every tool kind, in display order.
var KnownToolKinds = []ToolKind{ToolChat, ToolSpeech, ToolImage, ToolSearch}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SearchResult is one hit returned by the web search tool.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// MessageMeta holds tool-specific payloads attached to a message.
type MessageMeta struct {
	AudioURL string         `json:"audio_url,omitempty"`
	ImageURL string         `json:"image_url,omitempty"`
	Results  []SearchResult `json:"results,omitempty"`
}

// Message is immutable once appended to a conversation.
type Message struct {
	ID        string       `json:"id"`
	Role      string       `json:"role"`
	Content   string       `json:"content"`
	Timestamp time.Time    `json:"timestamp"`
	Meta      *MessageMeta `json:"meta,omitempty"`
}

// Conversation is a remote-backed chat thread. Messages are append-only and
// ordered by insertion; only deleting the whole conversation removes them.
type Conversation struct {
	RecordMeta
	Title    string    `json:"title"`
	Tool     ToolKind  `json:"tool"`
	Messages []Message `json:"messages"`
}

// Clone returns a deep copy, used as the pre-mutation snapshot for rollback.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Messages = make([]Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	for i := range cp.Messages {
		if m := cp.Messages[i].Meta; m != nil {
			mc := *m
			mc.Results = append([]SearchResult(nil), m.Results...)
			cp.Messages[i].Meta = &mc
		}
	}
	return &cp
}
