package domain

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type PartKind string

const (
	PartText     PartKind = "text"
	PartImage    PartKind = "image"
	PartDocument PartKind = "document"
	PartAudio    PartKind = "audio"
)

// ContentPart is a closed tagged variant discriminated by Kind.
// Text parts use Text only. Image and audio parts carry Data and MimeType.
// Document parts carry either Text (text-extractable formats) or Data.
// FileID is the transport handle the bytes were fetched from, kept for
// diagnostics only.
type ContentPart struct {
	Kind     PartKind `json:"kind"`
	Text     string   `json:"text,omitempty"`
	MimeType string   `json:"mime_type,omitempty"`
	Data     []byte   `json:"data,omitempty"`
	FileName string   `json:"file_name,omitempty"`
	FileID   string   `json:"file_id,omitempty"`
}

func TextPart(text string) ContentPart {
	return ContentPart{Kind: PartText, Text: text, MimeType: "text/plain"}
}

// ReplyContext links a turn to the earlier turn it answers. It is set
// when the turn is built and never changes afterwards.
type ReplyContext struct {
	TurnID  string   `json:"turn_id"`
	Role    Role     `json:"role"`
	Kind    PartKind `json:"kind"`
	Summary string   `json:"summary"`
}

type Turn struct {
	ID            string        `json:"id"`
	Role          Role          `json:"role"`
	Parts         []ContentPart `json:"parts"`
	ReplyContext  *ReplyContext `json:"reply_context,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	TokenEstimate int           `json:"token_estimate"`

	// MessageIDs are the platform message ids this turn was received as
	// or delivered as. A long model reply may span several messages.
	MessageIDs []int `json:"message_ids,omitempty"`

	// Placeholder marks a model turn appended only to keep roles
	// alternating after a failed or blocked request.
	Placeholder bool `json:"placeholder,omitempty"`
}

// PrimaryKind reports the content kind used to describe the turn: the
// first non-text part wins, otherwise text.
func (t Turn) PrimaryKind() PartKind {
	for _, p := range t.Parts {
		if p.Kind != PartText {
			return p.Kind
		}
	}
	return PartText
}

// Text joins the text of all text parts.
func (t Turn) Text() string {
	var text string
	for _, p := range t.Parts {
		if p.Kind != PartText {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += p.Text
	}
	return text
}

func (t Turn) HasMessageID(id int) bool {
	for _, m := range t.MessageIDs {
		if m == id {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with t. Payload bytes are
// shared since they are never mutated after normalization.
func (t Turn) Clone() Turn {
	c := t
	c.Parts = append([]ContentPart(nil), t.Parts...)
	c.MessageIDs = append([]int(nil), t.MessageIDs...)
	if t.ReplyContext != nil {
		rc := *t.ReplyContext
		c.ReplyContext = &rc
	}
	return c
}
