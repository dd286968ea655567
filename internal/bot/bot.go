// Package bot routes inbound chat events: slash commands, reply-menu
// shortcuts, and the gate, video, and lesson button presses that drive
// flow delivery.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/flowkeeper/flowkeeper/internal/flow"
	"github.com/flowkeeper/flowkeeper/internal/messaging"
	"github.com/flowkeeper/flowkeeper/internal/models"
	"github.com/flowkeeper/flowkeeper/internal/telegram"
)

// Defaults shown until the deployment configures its own.
const (
	DefaultSupportContact = "@client_support"
	DefaultWebsiteURL     = "https://www.happi10.com"
)

// lessonFlowPrefix selects which flows appear in the lessons menu.
const lessonFlowPrefix = "day"

// Conversational copy. The client sends in HTML mode, so the tags render.
const (
	menuGreeting      = "👇"
	menuText          = "Menu 👇"
	lessonsHeader     = "📚 <b>Lessons</b>\nPick a day:"
	lessonsLockedText = "🔒 Lessons unlock once you finish the course."
	lessonsEmptyText  = "📚 No lessons are published yet."
	webText           = "🌐 <b>Our website</b>"
	webButtonLabel    = "🌐 Open the website"
	gatePressedText   = "OK! Let's go 🚀"
	gateDeniedText    = "This button isn't for you 🙂"
	badButtonText     = "Button error"

	faqTemplate     = "❓ <b>FAQ</b>\n\n• The course runs for 3 days\n• Videos live inside each lesson\n• Support: %s"
	supportTemplate = "🆘 Support: %s"
)

// Storage is the slice of the store the router needs.
type Storage interface {
	IncStart(userID int64, username string) error
	IncMessage(userID int64, username string) error
	GetUserState(userID int64) (map[string]string, error)
	MarkGatePressed(userID, blockID int64) error
	MarkJobDoneByUserAndKey(userID int64, key string) error
	GetBlock(id int64) (*models.Block, error)
	ListFlows() ([]models.Flow, error)
	UpsertJob(userID int64, key string, runAt int64) error
}

// Bot consumes the messaging event stream and turns presses and commands
// into store mutations and renders.
type Bot struct {
	store    Storage
	svc      messaging.Service
	renderer *flow.Renderer
	triggers *flow.Triggers

	supportContact string
	websiteURL     string
	faqText        string

	wg sync.WaitGroup
}

// Option configures optional Bot behavior.
type Option func(*Bot)

// WithSupportContact sets the handle shown in FAQ and support replies.
func WithSupportContact(contact string) Option {
	return func(b *Bot) {
		if strings.TrimSpace(contact) != "" {
			b.supportContact = strings.TrimSpace(contact)
		}
	}
}

// WithWebsiteURL sets the link behind the website button.
func WithWebsiteURL(url string) Option {
	return func(b *Bot) {
		if strings.TrimSpace(url) != "" {
			b.websiteURL = strings.TrimSpace(url)
		}
	}
}

// WithFAQText replaces the built-in FAQ copy.
func WithFAQText(text string) Option {
	return func(b *Bot) {
		if strings.TrimSpace(text) != "" {
			b.faqText = text
		}
	}
}

// NewBot creates the event router.
func NewBot(store Storage, svc messaging.Service, renderer *flow.Renderer, triggers *flow.Triggers, opts ...Option) *Bot {
	b := &Bot{
		store:          store,
		svc:            svc,
		renderer:       renderer,
		triggers:       triggers,
		supportContact: DefaultSupportContact,
		websiteURL:     DefaultWebsiteURL,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Commands is the command menu published at startup.
func Commands() []telegram.Command {
	return []telegram.Command{
		{Command: "start", Description: "Start the course"},
		{Command: "menu", Description: "Menu"},
		{Command: "lessons", Description: "Lessons"},
		{Command: "faq", Description: "FAQ"},
		{Command: "web", Description: "Website"},
		{Command: "support", Description: "Support"},
	}
}

// Run publishes the command menu and consumes chat events until the stream
// closes or ctx is cancelled. Each event is handled on its own goroutine so
// a slow render never stalls the stream.
func (b *Bot) Run(ctx context.Context) {
	slog.Info("Bot.Run: starting event loop")
	if err := b.svc.SetCommands(ctx, Commands()); err != nil {
		slog.Warn("Bot.Run: failed to publish command menu", "error", err)
	}

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Bot.Run: stopping event loop")
			return
		case ev, ok := <-b.svc.Events():
			if !ok {
				slog.Info("Bot.Run: event stream closed")
				return
			}
			b.wg.Add(1)
			go func(ev messaging.Event) {
				defer b.wg.Done()
				b.dispatch(ctx, ev)
			}(ev)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, ev messaging.Event) {
	switch ev.Kind {
	case messaging.EventStart:
		b.handleStart(ctx, ev)
	case messaging.EventCommand:
		b.handleCommand(ctx, ev)
	case messaging.EventButton:
		b.handleButton(ctx, ev)
	case messaging.EventMessage:
		b.handleMessage(ctx, ev)
	}
}

// handleStart runs the full start sequence: count the user, schedule and
// render the start-triggered flows, then attach the reply menu exactly once.
func (b *Bot) handleStart(ctx context.Context, ev messaging.Event) {
	if err := b.store.IncStart(ev.UserID, ev.Username); err != nil {
		slog.Error("Bot.handleStart: failed to record start", "userID", ev.UserID, "error", err)
	}

	b.triggers.HandleStart(ctx, ev.UserID)

	if err := b.svc.SendMainMenu(ctx, ev.UserID, menuGreeting); err != nil {
		slog.Error("Bot.handleStart: failed to send menu", "userID", ev.UserID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, ev messaging.Event) {
	switch ev.Command {
	case "menu":
		b.countMessage(ev)
		b.sendMenu(ctx, ev.UserID)
	case "lessons":
		b.countMessage(ev)
		b.sendLessons(ctx, ev.UserID)
	case "faq":
		b.countMessage(ev)
		b.sendFAQ(ctx, ev.UserID)
	case "web":
		b.countMessage(ev)
		b.sendWeb(ctx, ev.UserID)
	case "support":
		b.countMessage(ev)
		b.sendSupport(ctx, ev.UserID)
	default:
		// Unrecognized slash commands do not count as activity.
		slog.Debug("Bot.handleCommand: unknown command", "userID", ev.UserID, "command", ev.Command)
	}
}

// handleMessage routes reply-menu presses; any other text only counts as
// activity.
func (b *Bot) handleMessage(ctx context.Context, ev messaging.Event) {
	switch ev.Text {
	case messaging.MenuButtonLessons:
		b.countMessage(ev)
		b.sendLessons(ctx, ev.UserID)
	case messaging.MenuButtonFAQ:
		b.countMessage(ev)
		b.sendFAQ(ctx, ev.UserID)
	case messaging.MenuButtonWeb:
		b.countMessage(ev)
		b.sendWeb(ctx, ev.UserID)
	case messaging.MenuButtonSupport:
		b.countMessage(ev)
		b.sendSupport(ctx, ev.UserID)
	default:
		if strings.HasPrefix(ev.Text, "/") {
			return
		}
		b.countMessage(ev)
	}
}

func (b *Bot) handleButton(ctx context.Context, ev messaging.Event) {
	switch {
	case strings.HasPrefix(ev.Payload, "gate:"):
		b.handleGatePress(ctx, ev)
	case strings.HasPrefix(ev.Payload, "video:"):
		b.handleVideoPress(ctx, ev)
	case strings.HasPrefix(ev.Payload, "lesson:"):
		b.handleLessonPress(ctx, ev)
	default:
		slog.Debug("Bot.handleButton: unrecognized payload", "userID", ev.UserID, "payload", ev.Payload)
		b.answer(ctx, ev.CallbackID, "", false)
	}
}

// handleGatePress validates the press against the encoded recipient, records
// it, pre-empts the pending reminder, and renders the gate's next flow.
func (b *Bot) handleGatePress(ctx context.Context, ev messaging.Event) {
	cb, err := models.ParseGateCallback(ev.Payload)
	if err != nil {
		slog.Warn("Bot.handleGatePress: bad payload", "userID", ev.UserID, "payload", ev.Payload, "error", err)
		b.answer(ctx, ev.CallbackID, badButtonText, true)
		return
	}
	if cb.UserID != ev.UserID {
		b.answer(ctx, ev.CallbackID, gateDeniedText, true)
		return
	}

	if cb.BlockID > 0 {
		if err := b.store.MarkGatePressed(ev.UserID, cb.BlockID); err != nil {
			slog.Error("Bot.handleGatePress: failed to record press", "userID", ev.UserID, "blockID", cb.BlockID, "error", err)
		}
	}
	key := models.GateKey{BlockID: cb.BlockID, NextFlow: cb.NextFlow}.Encode()
	if err := b.store.MarkJobDoneByUserAndKey(ev.UserID, key); err != nil {
		slog.Error("Bot.handleGatePress: failed to pre-empt reminder", "userID", ev.UserID, "key", key, "error", err)
	}

	b.answer(ctx, ev.CallbackID, gatePressedText, false)
	if err := b.renderer.Render(ctx, ev.UserID, cb.NextFlow); err != nil {
		slog.Error("Bot.handleGatePress: render failed", "userID", ev.UserID, "flow", cb.NextFlow, "error", err)
	}
}

// handleVideoPress reveals the link behind a watch prompt and schedules the
// flow to resume after the block's delay. Re-pressing reschedules the same
// resume job through the upsert.
func (b *Bot) handleVideoPress(ctx context.Context, ev messaging.Event) {
	cb, err := models.ParseVideoCallback(ev.Payload)
	if err != nil {
		slog.Warn("Bot.handleVideoPress: bad payload", "userID", ev.UserID, "payload", ev.Payload, "error", err)
		b.answer(ctx, ev.CallbackID, badButtonText, true)
		return
	}
	if cb.UserID != ev.UserID {
		b.answer(ctx, ev.CallbackID, gateDeniedText, true)
		return
	}

	block, err := b.store.GetBlock(cb.BlockID)
	if err != nil {
		slog.Error("Bot.handleVideoPress: failed to load block", "userID", ev.UserID, "blockID", cb.BlockID, "error", err)
		b.answer(ctx, ev.CallbackID, "", false)
		return
	}
	if block == nil || strings.TrimSpace(block.VideoURL) == "" {
		// The block was edited away since the prompt; nothing to reveal.
		b.answer(ctx, ev.CallbackID, "", false)
		return
	}

	b.answer(ctx, ev.CallbackID, "", false)

	title := strings.TrimSpace(block.Title)
	if title == "" {
		title = flow.DefaultVideoTitle
	}
	extra, err := block.Buttons()
	if err != nil {
		slog.Warn("Bot.handleVideoPress: bad buttons JSON", "blockID", block.ID, "error", err)
		extra = nil
	}
	if err := b.svc.SendVideoLink(ctx, ev.UserID, title, block.VideoURL, extra); err != nil {
		slog.Error("Bot.handleVideoPress: failed to reveal link", "userID", ev.UserID, "blockID", block.ID, "error", err)
	}

	key := models.ResumeKey{Flow: block.Flow, Position: block.Position + 1}.Encode()
	runAt := time.Now().Unix() + int64(block.Delay().Seconds())
	if err := b.store.UpsertJob(ev.UserID, key, runAt); err != nil {
		slog.Error("Bot.handleVideoPress: failed to schedule resume", "userID", ev.UserID, "key", key, "error", err)
	}
}

func (b *Bot) handleLessonPress(ctx context.Context, ev messaging.Event) {
	cb, err := models.ParseLessonCallback(ev.Payload)
	if err != nil {
		slog.Warn("Bot.handleLessonPress: bad payload", "userID", ev.UserID, "payload", ev.Payload, "error", err)
		b.answer(ctx, ev.CallbackID, badButtonText, true)
		return
	}

	b.answer(ctx, ev.CallbackID, "", false)
	b.countMessage(ev)
	if err := b.renderer.Render(ctx, ev.UserID, cb.Flow); err != nil {
		slog.Error("Bot.handleLessonPress: render failed", "userID", ev.UserID, "flow", cb.Flow, "error", err)
	}
}

func (b *Bot) sendMenu(ctx context.Context, userID int64) {
	if err := b.svc.SendMainMenu(ctx, userID, menuText); err != nil {
		slog.Error("Bot.sendMenu: send failed", "userID", userID, "error", err)
	}
}

// sendLessons builds the lessons menu from the day-prefixed flows. Until the
// course-complete flow flips the unlock flag, users get a locked hint.
func (b *Bot) sendLessons(ctx context.Context, userID int64) {
	if !b.lessonsUnlocked(userID) {
		if err := b.svc.SendText(ctx, userID, lessonsLockedText, nil); err != nil {
			slog.Error("Bot.sendLessons: send failed", "userID", userID, "error", err)
		}
		return
	}

	flows, err := b.store.ListFlows()
	if err != nil {
		slog.Error("Bot.sendLessons: failed to list flows", "userID", userID, "error", err)
		return
	}
	var lessons []string
	for _, f := range flows {
		if strings.HasPrefix(f.Name, lessonFlowPrefix) {
			lessons = append(lessons, f.Name)
		}
	}
	if len(lessons) == 0 {
		if err := b.svc.SendText(ctx, userID, lessonsEmptyText, nil); err != nil {
			slog.Error("Bot.sendLessons: send failed", "userID", userID, "error", err)
		}
		return
	}
	if err := b.svc.SendLessonsMenu(ctx, userID, lessonsHeader, lessons); err != nil {
		slog.Error("Bot.sendLessons: send failed", "userID", userID, "error", err)
	}
}

func (b *Bot) lessonsUnlocked(userID int64) bool {
	state, err := b.store.GetUserState(userID)
	if err != nil {
		slog.Error("Bot.lessonsUnlocked: failed to load state", "userID", userID, "error", err)
		return false
	}
	return state[models.StateKeyLessonsUnlocked] == "1"
}

func (b *Bot) sendFAQ(ctx context.Context, userID int64) {
	text := b.faqText
	if text == "" {
		text = fmt.Sprintf(faqTemplate, b.supportContact)
	}
	if err := b.svc.SendText(ctx, userID, text, nil); err != nil {
		slog.Error("Bot.sendFAQ: send failed", "userID", userID, "error", err)
	}
}

func (b *Bot) sendWeb(ctx context.Context, userID int64) {
	var buttons []models.Button
	if b.websiteURL != "" {
		buttons = []models.Button{{Text: webButtonLabel, URL: b.websiteURL}}
	}
	if err := b.svc.SendText(ctx, userID, webText, buttons); err != nil {
		slog.Error("Bot.sendWeb: send failed", "userID", userID, "error", err)
	}
}

func (b *Bot) sendSupport(ctx context.Context, userID int64) {
	if err := b.svc.SendText(ctx, userID, fmt.Sprintf(supportTemplate, b.supportContact), nil); err != nil {
		slog.Error("Bot.sendSupport: send failed", "userID", userID, "error", err)
	}
}

func (b *Bot) countMessage(ev messaging.Event) {
	if err := b.store.IncMessage(ev.UserID, ev.Username); err != nil {
		slog.Error("Bot.countMessage: failed to record activity", "userID", ev.UserID, "error", err)
	}
}

func (b *Bot) answer(ctx context.Context, callbackID, text string, alert bool) {
	if callbackID == "" {
		return
	}
	if err := b.svc.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		slog.Error("Bot.answer: failed to answer callback", "callbackID", callbackID, "error", err)
	}
}
