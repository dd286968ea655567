// Package telegram wraps the Telegram Bot API client for Flowkeeper.
//
// It provides methods for sending messages and media, answering callback
// queries, and receiving updates via long polling.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mdp/qrterminal/v3"
)

// Constants for Telegram client configuration
const (
	// DefaultUpdateTimeout is the long-poll timeout for update requests, in seconds
	DefaultUpdateTimeout = 60
)

// Command describes one entry of the bot command menu.
type Command struct {
	Command     string
	Description string
}

// Sender is an interface for sending Telegram messages (for production and testing)
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup interface{}) error
	SendVideoNote(ctx context.Context, chatID int64, source string) error
	SendPhoto(ctx context.Context, chatID int64, source, caption string) error
	SendVideo(ctx context.Context, chatID int64, source, caption string) error
	SendAudio(ctx context.Context, chatID int64, source, caption string) error
	SendDocument(ctx context.Context, chatID int64, source, caption, filename string) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// Opts holds configuration options for the Telegram client.
type Opts struct {
	Token  string // bot token from @BotFather
	Debug  bool   // log raw API requests and responses
	QRPath string // path to write the bot deep-link QR code
	ShowQR bool   // print the bot deep-link QR code to stdout on startup
}

// Option defines a configuration option for the Telegram client.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) {
		o.Token = token
	}
}

// WithDebug enables raw API request/response logging.
func WithDebug() Option {
	return func(o *Opts) {
		o.Debug = true
	}
}

// WithQRCodeOutput instructs the client to write the bot deep-link QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithStartupQR instructs the client to print the bot deep-link QR code to stdout.
func WithStartupQR() Option {
	return func(o *Opts) {
		o.ShowQR = true
	}
}

// Client wraps the Telegram Bot API client for modular use
type Client struct {
	api *tgbotapi.BotAPI
}

// Compile-time check that Client implements Sender.
var _ Sender = (*Client)(nil)

// NewClient creates a new Telegram client, applying any provided options for customization.
func NewClient(opts ...Option) (*Client, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Telegram NewClient options set", "token_set", cfg.Token != "", "QRPath_set", cfg.QRPath != "", "ShowQR", cfg.ShowQR)

	if cfg.Token == "" {
		slog.Error("Telegram bot token not set")
		return nil, fmt.Errorf("telegram bot token not set")
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		slog.Error("Failed to authorize Telegram bot", "error", err)
		return nil, fmt.Errorf("failed to authorize telegram bot: %w", err)
	}
	api.Debug = cfg.Debug
	slog.Info("Telegram client authorized", "username", api.Self.UserName)

	c := &Client{api: api}
	if cfg.QRPath != "" || cfg.ShowQR {
		if err := c.writeDeepLinkQR(cfg.QRPath); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// writeDeepLinkQR renders a scannable QR code of the bot's t.me link so
// operators can open the bot from a terminal. Writes to stdout unless a
// path is given.
func (c *Client) writeDeepLinkQR(path string) error {
	link := "https://t.me/" + c.api.Self.UserName
	writer := io.Writer(os.Stdout)
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			slog.Error("Failed to create QR file", "error", err)
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	qrterminal.GenerateHalfBlock(link, qrterminal.L, writer)
	fmt.Fprintln(writer, link)
	slog.Debug("Telegram deep-link QR written", "link", link, "path", path)
	return nil
}

// Username returns the authorized bot's username.
func (c *Client) Username() string {
	if c.api == nil {
		return ""
	}
	return c.api.Self.UserName
}

// SendMessage sends an HTML-formatted text message with an optional
// reply or inline keyboard markup.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup interface{}) error {
	if c.api == nil {
		return fmt.Errorf("telegram client not initialized")
	}
	if text == "" {
		return fmt.Errorf("message text cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	slog.Debug("Sending Telegram message", "chatID", chatID, "text_length", len(text))
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := c.api.Send(msg); err != nil {
		slog.Error("Failed to send Telegram message", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to send message to %d: %w", chatID, err)
	}
	return nil
}

// SendVideoNote sends a round video note from a local path or URL.
func (c *Client) SendVideoNote(ctx context.Context, chatID int64, source string) error {
	if c.api == nil {
		return fmt.Errorf("telegram client not initialized")
	}
	if source == "" {
		return fmt.Errorf("video note source cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	note := tgbotapi.NewVideoNote(chatID, 0, fileData(source))
	if _, err := c.api.Send(note); err != nil {
		slog.Error("Failed to send Telegram video note", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to send video note to %d: %w", chatID, err)
	}
	return nil
}

// SendPhoto sends a photo with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, source, caption string) error {
	if c.api == nil {
		return fmt.Errorf("telegram client not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	photo := tgbotapi.NewPhoto(chatID, fileData(source))
	photo.Caption = caption
	if _, err := c.api.Send(photo); err != nil {
		slog.Error("Failed to send Telegram photo", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to send photo to %d: %w", chatID, err)
	}
	return nil
}

// SendVideo sends a video file with an optional caption.
func (c *Client) SendVideo(ctx context.Context, chatID int64, source, caption string) error {
	if c.api == nil {
		return fmt.Errorf("telegram client not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	video := tgbotapi.NewVideo(chatID, fileData(source))
	video.Caption = caption
	if _, err := c.api.Send(video); err != nil {
		slog.Error("Failed to send Telegram video", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to send video to %d: %w", chatID, err)
	}
	return nil
}

// SendAudio sends an audio file with an optional caption.
func (c *Client) SendAudio(ctx context.Context, chatID int64, source, caption string) error {
	if c.api == nil {
		return fmt.Errorf("telegram client not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	audio := tgbotapi.NewAudio(chatID, fileData(source))
	audio.Caption = caption
	if _, err := c.api.Send(audio); err != nil {
		slog.Error("Failed to send Telegram audio", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to send audio to %d: %w", chatID, err)
	}
	return nil
}

// SendDocument sends a file as a document. A non-empty filename overrides
// the display name for local files.
func (c *Client) SendDocument(ctx context.Context, chatID int64, source, caption, filename string) error {
	if c.api == nil {
		return fmt.Errorf("telegram client not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var file tgbotapi.RequestFileData = fileData(source)
	if filename != "" && !isURL(source) {
		f, err := os.Open(source)
		if err != nil {
			return fmt.Errorf("failed to open document %s: %w", source, err)
		}
		defer f.Close()
		file = tgbotapi.FileReader{Name: filename, Reader: f}
	}

	doc := tgbotapi.NewDocument(chatID, file)
	doc.Caption = caption
	if _, err := c.api.Send(doc); err != nil {
		slog.Error("Failed to send Telegram document", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to send document to %d: %w", chatID, err)
	}
	return nil
}

// AnswerCallback acknowledges a callback query, optionally with an alert popup.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if c.api == nil {
		return fmt.Errorf("telegram client not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cb := tgbotapi.NewCallback(callbackID, text)
	cb.ShowAlert = alert
	if _, err := c.api.Request(cb); err != nil {
		slog.Error("Failed to answer Telegram callback", "error", err, "callbackID", callbackID)
		return fmt.Errorf("failed to answer callback %s: %w", callbackID, err)
	}
	return nil
}

// SetCommands publishes the bot command menu.
func (c *Client) SetCommands(ctx context.Context, commands []Command) error {
	if c.api == nil {
		return fmt.Errorf("telegram client not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	list := make([]tgbotapi.BotCommand, 0, len(commands))
	for _, cmd := range commands {
		list = append(list, tgbotapi.BotCommand{Command: cmd.Command, Description: cmd.Description})
	}
	if _, err := c.api.Request(tgbotapi.NewSetMyCommands(list...)); err != nil {
		slog.Error("Failed to set Telegram commands", "error", err)
		return fmt.Errorf("failed to set commands: %w", err)
	}
	return nil
}

// Updates opens the long-polling update channel.
func (c *Client) Updates() tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = DefaultUpdateTimeout
	return c.api.GetUpdatesChan(u)
}

// StopReceivingUpdates stops the long-polling loop and closes the update channel.
func (c *Client) StopReceivingUpdates() {
	c.api.StopReceivingUpdates()
}

// fileData resolves a block media source into an upload: URLs pass
// through to Telegram, anything else is read from disk.
func fileData(source string) tgbotapi.RequestFileData {
	if isURL(source) {
		return tgbotapi.FileURL(source)
	}
	return tgbotapi.FilePath(source)
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// MockClient implements the Sender interface but does nothing (for tests).
// In tests, use telegram.NewMockClient() instead of NewClient to avoid real
// Telegram connections.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

var _ Sender = (*MockClient)(nil)

func (m *MockClient) SendMessage(ctx context.Context, chatID int64, text string, markup interface{}) error {
	return nil
}

func (m *MockClient) SendVideoNote(ctx context.Context, chatID int64, source string) error {
	return nil
}

func (m *MockClient) SendPhoto(ctx context.Context, chatID int64, source, caption string) error {
	return nil
}

func (m *MockClient) SendVideo(ctx context.Context, chatID int64, source, caption string) error {
	return nil
}

func (m *MockClient) SendAudio(ctx context.Context, chatID int64, source, caption string) error {
	return nil
}

func (m *MockClient) SendDocument(ctx context.Context, chatID int64, source, caption, filename string) error {
	return nil
}

func (m *MockClient) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	return nil
}
