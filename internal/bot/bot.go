package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/cara/internal/consultation"
	"github.com/xaenox/cara/internal/conversation"
	"github.com/xaenox/cara/internal/models"
	"github.com/xaenox/cara/internal/session"
	"go.uber.org/zap"
)

// API is the part of the Telegram client the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Services are the components the bot drives.
type Services struct {
	Session    *session.Holder
	Repository *consultation.Repository
	Types      *consultation.TypeMap
	Wizard     consultation.WizardConfig
	Backend    conversation.Backend
	ReplyDelay time.Duration
}

type Bot struct {
	api      API
	updates  *tgbotapi.BotAPI
	svc      Services
	download *resty.Client
	logger   *zap.Logger

	mu          sync.Mutex
	chats       map[int64]*chatState
	unsubscribe func()
	handlers    sync.WaitGroup
}

// chatState is what one Telegram chat has open. Handlers for a chat run
// one at a time under mu.
type chatState struct {
	mu sync.Mutex

	hub                 *consultation.Hub
	wizard              *consultation.Wizard
	awaitingCustomTopic bool
	panel               *conversation.Panel
	stopPanel           func()
}

func New(token string, debug bool, svc Services, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = debug
	logger.Info("Authorized on account", zap.String("username", api.Self.UserName))

	b := NewWithAPI(api, svc, logger)
	b.updates = api
	return b, nil
}

// NewWithAPI builds a bot around an existing client. Start needs the
// client created by New.
func NewWithAPI(api API, svc Services, logger *zap.Logger) *Bot {
	b := &Bot{
		api:      api,
		svc:      svc,
		download: resty.New().SetTimeout(30 * time.Second),
		logger:   logger,
		chats:    make(map[int64]*chatState),
	}
	b.unsubscribe = svc.Session.Subscribe(b.onSessionChange)
	return b
}

// Start receives updates until ctx is done, then waits for the handlers
// still running.
func (b *Bot) Start(ctx context.Context) error {
	if b.updates == nil {
		return errors.New("bot has no update source")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.updates.GetUpdatesChan(u)
	defer b.updates.StopReceivingUpdates()

	b.serve(ctx, updates)
	return nil
}

func (b *Bot) serve(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer b.handlers.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			b.handlers.Add(1)
			go func(message *tgbotapi.Message) {
				defer b.handlers.Done()
				b.handleMessage(ctx, message)
			}(update.Message)
		}
	}
}

// Close closes every open chat panel and detaches from the session.
func (b *Bot) Close() {
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
	for _, cs := range b.dropChats() {
		cs.reset()
	}
}

func (b *Bot) chat(chatID int64) *chatState {
	b.mu.Lock()
	defer b.mu.Unlock()

	cs, ok := b.chats[chatID]
	if !ok {
		cs = &chatState{
			hub: consultation.NewHub(b.svc.Repository, b.svc.Session, b.logger.With(zap.Int64("chat_id", chatID))),
		}
		b.chats[chatID] = cs
	}
	return cs
}

func (b *Bot) dropChats() map[int64]*chatState {
	b.mu.Lock()
	defer b.mu.Unlock()
	chats := b.chats
	b.chats = make(map[int64]*chatState)
	return chats
}

// onSessionChange discards per-chat state when the user signs out. The
// reset runs on its own goroutine because the handler that triggered the
// logout still holds the chat lock.
func (b *Bot) onSessionChange(user *models.User) {
	if user != nil {
		return
	}
	for _, cs := range b.dropChats() {
		go cs.reset()
	}
}

func (cs *chatState) reset() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.closePanel()
	cs.wizard = nil
	cs.awaitingCustomTopic = false
}

func (cs *chatState) closePanel() {
	if cs.panel == nil {
		return
	}
	cs.stopPanel()
	cs.panel.Close()
	cs.panel = nil
	cs.stopPanel = nil
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	cs := b.chat(message.Chat.ID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if message.IsCommand() {
		b.handleCommand(ctx, cs, message)
		return
	}

	if message.Document != nil || len(message.Photo) > 0 {
		b.handleAttachment(ctx, cs, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}

	switch {
	case cs.wizard != nil:
		b.handleWizardText(cs, message.Chat.ID, content)
	case cs.panel != nil:
		b.handleChatText(cs, message.Chat.ID, content)
	default:
		b.sendMessage(message.Chat.ID, "Use /new to start a consultation, or /help to see all commands.")
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send formatted message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
