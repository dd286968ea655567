package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/flowkeeper/flowkeeper/internal/models"
	"github.com/flowkeeper/flowkeeper/internal/telegram"
)

// Constants for TelegramService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the event channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// DefaultSendRetries is how many delivery attempts a single send gets
	DefaultSendRetries = 3
	// DefaultRetryBaseDelay is the first retry backoff; it doubles per attempt
	DefaultRetryBaseDelay = 500 * time.Millisecond
)

// Reply menu button labels. The bot router matches incoming text against these.
const (
	MenuButtonLessons = "📚 Lessons"
	MenuButtonFAQ     = "❓ FAQ"
	MenuButtonWeb     = "🌐 Web"
	MenuButtonSupport = "🆘 Support"
)

// watchButtonLabel captions the link button on a revealed video lesson.
const watchButtonLabel = "▶️ Watch video"

// TelegramService implements Service over the Telegram Bot API client.
type TelegramService struct {
	client   telegram.Sender
	tgClient *telegram.Client // Access to underlying client for update polling
	events   chan Event
	done     chan struct{}

	retries   int
	retryBase time.Duration

	mediaDir     string
	mediaBaseURL string
}

// Compile-time check that TelegramService implements Service.
var _ Service = (*TelegramService)(nil)

// ServiceOption configures optional TelegramService behavior.
type ServiceOption func(*TelegramService)

// WithMediaDir sets the directory console uploads are read from when no
// public base URL applies.
func WithMediaDir(dir string) ServiceOption {
	return func(s *TelegramService) { s.mediaDir = dir }
}

// WithMediaBaseURL sets the public URL media paths are served under, so
// Telegram fetches uploads over HTTP instead of the bot reading disk.
func WithMediaBaseURL(base string) ServiceOption {
	return func(s *TelegramService) { s.mediaBaseURL = strings.TrimRight(strings.TrimSpace(base), "/") }
}

// NewTelegramService creates a new TelegramService wrapping the given Sender.
func NewTelegramService(client telegram.Sender, opts ...ServiceOption) *TelegramService {
	service := &TelegramService{
		client:    client,
		events:    make(chan Event, DefaultChannelBufferSize),
		done:      make(chan struct{}),
		retries:   DefaultSendRetries,
		retryBase: DefaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(service)
	}

	// If the client is a full Client (not just an interface), store it for update polling
	if tgClient, ok := client.(*telegram.Client); ok {
		service.tgClient = tgClient
		slog.Debug("TelegramService created with full client for update polling")
	} else {
		slog.Debug("TelegramService created with interface client (likely mock)")
	}

	return service
}

// Start begins background processing (update polling).
func (s *TelegramService) Start(ctx context.Context) error {
	slog.Debug("TelegramService Start invoked")

	if s.tgClient != nil {
		go s.handleUpdates(ctx, s.tgClient.Updates())
		slog.Debug("TelegramService update handler started")
	} else {
		slog.Debug("TelegramService no full client available, skipping update polling (likely mock)")
	}

	return nil
}

// Stop stops background processing.
func (s *TelegramService) Stop() error {
	slog.Info("TelegramService Stop invoked")
	if s.tgClient != nil {
		s.tgClient.StopReceivingUpdates()
	}
	close(s.done)
	close(s.events)
	slog.Info("TelegramService stopped and event channel closed")
	return nil
}

// Events returns the channel of incoming chat events.
func (s *TelegramService) Events() <-chan Event {
	return s.events
}

// SendText sends a text message with optional inline buttons, retrying
// transient delivery failures before giving up.
func (s *TelegramService) SendText(ctx context.Context, userID int64, text string, buttons []models.Button) error {
	markup := telegram.InlineKeyboard(buttons)
	return s.sendWithRetry(ctx, "SendText", userID, func() error {
		return s.client.SendMessage(ctx, userID, text, markup)
	})
}

// SendVoiceNote sends a round video note.
func (s *TelegramService) SendVoiceNote(ctx context.Context, userID int64, source string) error {
	resolved, err := s.resolveMedia(source)
	if err != nil {
		return fmt.Errorf("failed to resolve voice note source: %w", err)
	}
	return s.sendWithRetry(ctx, "SendVoiceNote", userID, func() error {
		return s.client.SendVideoNote(ctx, userID, resolved)
	})
}

// SendVideoLink reveals a video lesson link behind a watch button.
func (s *TelegramService) SendVideoLink(ctx context.Context, userID int64, title, url string, extra []models.Button) error {
	buttons := append([]models.Button{{Text: watchButtonLabel, URL: url}}, extra...)
	return s.SendText(ctx, userID, title, buttons)
}

// SendAttachment sends an uploaded file by its stored kind.
func (s *TelegramService) SendAttachment(ctx context.Context, userID int64, path, kind, name string) error {
	resolved, err := s.resolveMedia(path)
	if err != nil {
		return fmt.Errorf("failed to resolve attachment source: %w", err)
	}
	kind = NormalizeKind(kind, path)
	name = EnsureFilename(name, path)
	return s.sendWithRetry(ctx, "SendAttachment", userID, func() error {
		switch kind {
		case KindPhoto:
			return s.client.SendPhoto(ctx, userID, resolved, "")
		case KindVideo:
			return s.client.SendVideo(ctx, userID, resolved, "")
		case KindAudio:
			return s.client.SendAudio(ctx, userID, resolved, "")
		default:
			return s.client.SendDocument(ctx, userID, resolved, "", name)
		}
	})
}

// AnswerCallback acknowledges a pressed inline button. Answers are
// time-sensitive, so there is no retry: a stale acknowledgment is useless.
func (s *TelegramService) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	err := s.client.AnswerCallback(ctx, callbackID, text, alert)
	if err != nil {
		slog.Error("TelegramService AnswerCallback failed", "error", err, "callbackID", callbackID)
	}
	return err
}

// SendMainMenu sends text together with the persistent reply menu.
func (s *TelegramService) SendMainMenu(ctx context.Context, userID int64, text string) error {
	menu := telegram.ReplyMenu(
		[]string{MenuButtonLessons},
		[]string{MenuButtonFAQ, MenuButtonWeb, MenuButtonSupport},
	)
	return s.sendWithRetry(ctx, "SendMainMenu", userID, func() error {
		return s.client.SendMessage(ctx, userID, text, menu)
	})
}

// SendLessonsMenu sends text with one lesson button per flow.
func (s *TelegramService) SendLessonsMenu(ctx context.Context, userID int64, text string, flows []string) error {
	buttons := make([]models.Button, 0, len(flows))
	for _, flow := range flows {
		buttons = append(buttons, models.Button{Text: flow, Data: models.LessonCallback{Flow: flow}.Encode()})
	}
	return s.SendText(ctx, userID, text, buttons)
}

// SetCommands publishes the bot command menu. A no-op without a full client.
func (s *TelegramService) SetCommands(ctx context.Context, commands []telegram.Command) error {
	if s.tgClient == nil {
		slog.Debug("TelegramService SetCommands skipped, no full client")
		return nil
	}
	return s.tgClient.SetCommands(ctx, commands)
}

// sendWithRetry runs fn up to s.retries times with doubling backoff.
func (s *TelegramService) sendWithRetry(ctx context.Context, op string, userID int64, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.retries; attempt++ {
		if attempt > 0 {
			backoff := s.retryBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		slog.Warn("TelegramService "+op+" attempt failed", "attempt", attempt+1, "userID", userID, "error", err)
	}
	slog.Error("TelegramService "+op+" gave up", "attempts", s.retries, "userID", userID, "error", err)
	return err
}

// handleUpdates converts Telegram updates into normalized events until the
// context is cancelled or the update channel closes.
func (s *TelegramService) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	slog.Debug("TelegramService handleUpdates starting")
	for {
		select {
		case <-ctx.Done():
			slog.Debug("TelegramService handleUpdates stopping due to context cancellation")
			return
		case <-s.done:
			slog.Debug("TelegramService handleUpdates stopping")
			return
		case update, ok := <-updates:
			if !ok {
				slog.Debug("TelegramService update channel closed")
				return
			}
			s.routeUpdate(update)
		}
	}
}

// routeUpdate normalizes one update into an Event.
func (s *TelegramService) routeUpdate(update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		s.emit(Event{
			Kind:       EventButton,
			UserID:     cq.From.ID,
			Username:   cq.From.UserName,
			Payload:    cq.Data,
			CallbackID: cq.ID,
		})
	case update.Message != nil:
		m := update.Message
		if m.From == nil {
			return
		}
		ev := Event{UserID: m.From.ID, Username: m.From.UserName, Text: m.Text}
		if m.IsCommand() {
			ev.Command = m.Command()
			ev.Text = m.CommandArguments()
			if ev.Command == "start" {
				ev.Kind = EventStart
			} else {
				ev.Kind = EventCommand
			}
		} else {
			ev.Kind = EventMessage
		}
		s.emit(ev)
	}
}

// emit forwards an event without blocking the update loop.
func (s *TelegramService) emit(ev Event) {
	select {
	case s.events <- ev:
		slog.Debug("TelegramService event forwarded", "kind", ev.Kind, "userID", ev.UserID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TelegramService events channel blocked, dropping event", "kind", ev.Kind, "userID", ev.UserID, "timeout", DefaultChannelTimeout)
	}
}
