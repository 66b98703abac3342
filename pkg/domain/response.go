package domain

type Response struct {
	ChatID int64
	Text   string
	Err    error

	// ReplyToMessageID makes the response a reply to that message.
	ReplyToMessageID int

	// UserID and TurnID identify the model turn this response delivers,
	// so the sent message ids can be linked back to history.
	UserID int64
	TurnID string
}
