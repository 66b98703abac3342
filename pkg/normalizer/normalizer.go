// Package normalizer turns inbound transport events into user turns.
package normalizer

import (
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

// DefaultMaxPayloadBytes matches the bot API download limit.
const DefaultMaxPayloadBytes = 20 << 20

var imageMimeTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"image/heic",
	"image/heif",
}

var audioMimeTypes = []string{
	"audio/ogg",
	"audio/mpeg",
	"audio/mp3",
	"audio/wav",
	"audio/x-wav",
	"audio/aac",
	"audio/flac",
	"audio/aiff",
	"audio/mp4",
	"audio/x-m4a",
}

var textDocumentMimeTypes = []string{
	"application/json",
	"application/xml",
	"application/x-yaml",
	"application/yaml",
	"application/toml",
	"application/javascript",
	"application/x-sh",
	"application/sql",
}

var binaryDocumentMimeTypes = []string{
	"application/pdf",
}

var textDocumentExtensions = []string{
	".txt", ".xml", ".py", ".js", ".html", ".css", ".ps1", ".json",
	".md", ".yaml", ".yml", ".ts", ".tsx", ".c", ".cpp", ".h", ".hpp",
	".java", ".cs", ".php", ".pl", ".rb", ".sh", ".bat", ".ini",
	".log", ".toml", ".rs", ".go", ".r", ".jl", ".lua", ".swift",
	".sql", ".asm", ".vb", ".vbs", ".jsx", ".svelte", ".vue", ".scss",
	".less", ".tex", ".rmd", ".m", ".scala", ".erl", ".hs", ".f90",
	".pas", ".groovy",
}

type Normalizer struct {
	maxPayloadBytes int
	now             func() time.Time
	newID           func() string
}

func New(maxPayloadBytes int) *Normalizer {
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = DefaultMaxPayloadBytes
	}
	return &Normalizer{
		maxPayloadBytes: maxPayloadBytes,
		now:             time.Now,
		newID:           uuid.NewString,
	}
}

// Normalize validates the event and builds a user turn from it. A caption
// and its media become two parts of the same turn. Nothing is appended to
// history here.
func (n *Normalizer) Normalize(event domain.InboundEvent) (domain.Turn, error) {
	var parts []domain.ContentPart
	var err error

	switch event.Kind {
	case domain.EventText:
		parts, err = n.text(event)
	case domain.EventImage:
		parts, err = n.image(event)
	case domain.EventDocument:
		parts, err = n.document(event)
	case domain.EventAudio:
		parts, err = n.audio(event)
	default:
		err = &domain.UnsupportedContentError{Kind: event.Kind, Reason: "unknown event kind"}
	}
	if err != nil {
		return domain.Turn{}, err
	}

	turn := domain.Turn{
		ID:        n.newID(),
		Role:      domain.RoleUser,
		Parts:     parts,
		CreatedAt: n.now(),
	}
	if event.MessageID != 0 {
		turn.MessageIDs = []int{event.MessageID}
	}
	return turn, nil
}

func (n *Normalizer) text(event domain.InboundEvent) ([]domain.ContentPart, error) {
	if strings.TrimSpace(event.Text) == "" {
		return nil, &domain.UnsupportedContentError{Kind: event.Kind, Reason: "empty text"}
	}
	if !utf8.ValidString(event.Text) {
		return nil, &domain.UnsupportedContentError{Kind: event.Kind, Reason: "text is not valid UTF-8"}
	}
	return []domain.ContentPart{domain.TextPart(event.Text)}, nil
}

func (n *Normalizer) image(event domain.InboundEvent) ([]domain.ContentPart, error) {
	mime := normalizeMime(event.MimeType)
	if mime == "" {
		// Photos arrive re-encoded as JPEG without a declared type.
		mime = "image/jpeg"
	}
	if !lo.Contains(imageMimeTypes, mime) {
		return nil, &domain.UnsupportedContentError{Kind: event.Kind, MimeType: mime, Reason: "image format not allowed"}
	}
	if err := n.checkPayload(event); err != nil {
		return nil, err
	}

	return []domain.ContentPart{
		captionPart("image", event.Caption),
		{Kind: domain.PartImage, MimeType: mime, Data: event.Payload, FileName: event.FileName, FileID: event.FileID},
	}, nil
}

func (n *Normalizer) audio(event domain.InboundEvent) ([]domain.ContentPart, error) {
	mime := normalizeMime(event.MimeType)
	if mime == "" {
		// Voice notes are always OGG/Opus.
		mime = "audio/ogg"
	}
	if !lo.Contains(audioMimeTypes, mime) {
		return nil, &domain.UnsupportedContentError{Kind: event.Kind, MimeType: mime, Reason: "audio codec not allowed"}
	}
	if err := n.checkPayload(event); err != nil {
		return nil, err
	}

	return []domain.ContentPart{
		captionPart("audio", event.Caption),
		{Kind: domain.PartAudio, MimeType: mime, Data: event.Payload, FileName: event.FileName, FileID: event.FileID},
	}, nil
}

func (n *Normalizer) document(event domain.InboundEvent) ([]domain.ContentPart, error) {
	mime := normalizeMime(event.MimeType)
	if err := n.checkPayload(event); err != nil {
		return nil, err
	}

	part := domain.ContentPart{Kind: domain.PartDocument, FileName: event.FileName, FileID: event.FileID}

	switch {
	case isTextDocument(mime, event.FileName):
		if !utf8.Valid(event.Payload) {
			return nil, &domain.UnsupportedContentError{Kind: event.Kind, MimeType: mime, Reason: "document is not valid UTF-8 text"}
		}
		part.MimeType = "text/plain"
		part.Text = string(event.Payload)
	case lo.Contains(binaryDocumentMimeTypes, mime):
		part.MimeType = mime
		part.Data = event.Payload
	default:
		return nil, &domain.UnsupportedContentError{Kind: event.Kind, MimeType: mime, Reason: "document type not allowed"}
	}

	return []domain.ContentPart{captionPart("document", event.Caption), part}, nil
}

func (n *Normalizer) checkPayload(event domain.InboundEvent) error {
	if len(event.Payload) == 0 {
		return &domain.UnsupportedContentError{Kind: event.Kind, MimeType: event.MimeType, Reason: "empty payload"}
	}
	if len(event.Payload) > n.maxPayloadBytes {
		return &domain.UnsupportedContentError{Kind: event.Kind, MimeType: event.MimeType, Reason: "payload too large"}
	}
	return nil
}

// captionPart labels the media origin for the model, as in
// "'role': 'user/image'\n<caption>".
func captionPart(label, caption string) domain.ContentPart {
	text := "'role': 'user/" + label + "'"
	if caption = strings.TrimSpace(caption); caption != "" {
		text += "\n" + caption
	}
	return domain.TextPart(text)
}

func isTextDocument(mime, fileName string) bool {
	if strings.HasPrefix(mime, "text/") || lo.Contains(textDocumentMimeTypes, mime) {
		return true
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	return ext != "" && lo.Contains(textDocumentExtensions, ext)
}

func normalizeMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime
}
