package messaging

import (
	"context"

	"github.com/flowkeeper/flowkeeper/internal/models"
	"github.com/flowkeeper/flowkeeper/internal/telegram"
)

// Sink is the delivery surface the flow engine renders into. Implementations
// own transport-level retry; callers treat a returned error as final.
type Sink interface {
	// SendText sends a text message with optional inline buttons.
	SendText(ctx context.Context, userID int64, text string, buttons []models.Button) error

	// SendVoiceNote sends a round video note from a local path or URL.
	SendVoiceNote(ctx context.Context, userID int64, source string) error

	// SendVideoLink reveals a video lesson link behind a watch button.
	SendVideoLink(ctx context.Context, userID int64, title, url string, extra []models.Button) error

	// SendAttachment sends an uploaded file by its stored kind
	// (photo, video, audio, anything else as a document).
	SendAttachment(ctx context.Context, userID int64, path, kind, name string) error
}

// Service is the full messaging abstraction consumed by the bot router.
// It extends the delivery sink with chat-surface helpers and the incoming
// event stream.
type Service interface {
	Sink

	// AnswerCallback acknowledges a pressed inline button, optionally with an alert popup.
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error

	// SendMainMenu sends text together with the persistent reply menu.
	SendMainMenu(ctx context.Context, userID int64, text string) error

	// SendLessonsMenu sends text with one lesson button per flow.
	SendLessonsMenu(ctx context.Context, userID int64, text string, flows []string) error

	// SetCommands publishes the bot command menu.
	SetCommands(ctx context.Context, commands []telegram.Command) error

	// Start begins any background processing (e.g., polling for updates).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Events returns a channel of incoming chat events.
	Events() <-chan Event
}

// EventKind discriminates incoming chat events.
type EventKind string

const (
	// EventStart is the /start command.
	EventStart EventKind = "start"
	// EventCommand is any other slash command.
	EventCommand EventKind = "command"
	// EventButton is an inline button press.
	EventButton EventKind = "button"
	// EventMessage is a plain text message.
	EventMessage EventKind = "message"
)

// Event is one incoming chat interaction, normalized for the bot router.
type Event struct {
	Kind     EventKind
	UserID   int64
	Username string

	// Text holds the message text, or the command arguments for commands.
	Text string

	// Command is the command name without the slash, set for EventStart and EventCommand.
	Command string

	// Payload is the raw callback data, set for EventButton.
	Payload string

	// CallbackID identifies the callback query to answer, set for EventButton.
	CallbackID string
}
