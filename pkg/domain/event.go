package domain

type EventKind string

const (
	EventText     EventKind = "text"
	EventImage    EventKind = "image"
	EventDocument EventKind = "document"
	EventAudio    EventKind = "audio"
)

// InboundEvent is what the chat transport hands over for one user message.
// Media payloads are already downloaded.
type InboundEvent struct {
	Kind      EventKind
	UserID    int64
	ChatID    int64
	MessageID int
	// ReplyToID is the platform id of the message being replied to, zero if none.
	ReplyToID int

	Text     string
	Caption  string
	Payload  []byte
	MimeType string
	FileName string
	FileID   string
}
