package bot

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/cara/internal/consultation"
	"github.com/xaenox/cara/internal/conversation"
	"github.com/xaenox/cara/internal/models"
	"github.com/xaenox/cara/internal/session"
	"github.com/xaenox/cara/internal/storage"
	"go.uber.org/zap"
)

func (b *Bot) handleCommand(ctx context.Context, cs *chatState, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	args := strings.TrimSpace(message.CommandArguments())

	switch message.Command() {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "status":
		b.handleStatus(chatID)
	case "retry", "login":
		b.handleRetry(ctx, chatID)
	case "logout":
		b.handleLogout(chatID)
	case "consultations", "list":
		b.handleList(ctx, cs, chatID, args)
	case "new":
		b.handleNew(cs, chatID)
	case "next":
		b.handleNext(cs, chatID)
	case "back":
		b.handleBack(cs, chatID)
	case "remove":
		b.handleRemoveAttachment(cs, chatID, args)
	case "submit":
		b.handleSubmit(ctx, cs, chatID)
	case "cancel":
		b.handleCancel(cs, chatID)
	case "chat":
		b.handleChat(ctx, cs, chatID, args)
	case "report":
		b.handleReport(ctx, cs, chatID, args)
	case "delete":
		b.handleDelete(ctx, cs, chatID, args)
	case "complete":
		b.handleComplete(ctx, cs, chatID, args)
	default:
		b.sendMessage(chatID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(chatID int64) {
	welcome := `Welcome to CARA, your AI compliance advisor! ⚖️
I can help you with GDPR, SOX, HIPAA, PCI DSS and other compliance questions.

/new - Start a new consultation
/consultations - Browse your consultations
/help - Show all commands`

	b.sendMessage(chatID, welcome)
}

func (b *Bot) handleHelp(chatID int64) {
	help := `Available commands:
/start - Home
/new - Start a new consultation
/consultations [all|active|completed|pending] [search] - List consultations
/chat <id> - Talk to CARA about a consultation
/report <id> - Show a consultation report
/complete <id> - Mark a consultation as completed
/delete <id> - Delete a consultation
/status - Show the session status
/retry - Sign in again
/logout - Sign out

While creating a consultation:
/next, /back - Move between steps
/remove <n> - Remove attachment number n
/submit - Create the consultation
/cancel - Discard the draft`

	b.sendMessage(chatID, help)
}

func (b *Bot) handleStatus(chatID int64) {
	holder := b.svc.Session
	text := "Session: " + holder.State().String()
	if user := holder.CurrentUser(); user != nil {
		text += "\nSigned in as " + user.Email
		if user.Name != "" {
			text += " (" + user.Name + ")"
		}
	}
	if err := holder.Err(); err != nil {
		text += "\nLast error: " + err.Error() + "\nUse /retry to sign in again."
	}
	b.sendMessage(chatID, text)
}

func (b *Bot) handleRetry(ctx context.Context, chatID int64) {
	if b.svc.Session.IsAuthenticated() {
		b.sendMessage(chatID, "You're already signed in.")
		return
	}
	if err := b.svc.Session.Retry(ctx); err != nil {
		b.logger.Error("Failed to sign in", zap.Error(err), zap.Int64("chat_id", chatID))
		b.sendError(chatID, err)
		return
	}
	b.handleStatus(chatID)
}

func (b *Bot) handleLogout(chatID int64) {
	b.svc.Session.Logout()
	b.sendMessage(chatID, "Signed out. Use /retry to sign in again.")
}

func (b *Bot) handleList(ctx context.Context, cs *chatState, chatID int64, args string) {
	fields := strings.Fields(args)
	status := consultation.FilterAll
	if len(fields) > 0 {
		if f, err := consultation.ParseStatusFilter(fields[0]); err == nil {
			status = f
			fields = fields[1:]
		}
	}
	search := strings.Join(fields, " ")

	if _, err := cs.hub.Load(ctx); err != nil {
		b.logger.Error("Failed to load consultations", zap.Error(err), zap.Int64("chat_id", chatID))
		b.sendError(chatID, err)
		return
	}

	items := cs.hub.Filter(search, status)
	b.sendMarkdown(chatID, formatList(items, cs.hub.Counts(), search != "" || status != consultation.FilterAll, b.svc.Types))
}

func (b *Bot) handleChat(ctx context.Context, cs *chatState, chatID int64, id string) {
	if id == "" {
		b.sendMessage(chatID, "Usage: /chat <id>")
		return
	}
	if err := b.openPanel(ctx, cs, chatID, id); err != nil {
		b.sendError(chatID, err)
	}
}

// openPanel replaces the chat's panel with one for id. Assistant messages
// are pushed to the chat as they arrive.
func (b *Bot) openPanel(ctx context.Context, cs *chatState, chatID int64, id string) error {
	cs.closePanel()

	panel := conversation.NewPanel(cs.hub, b.svc.Backend, b.svc.ReplyDelay, b.logger.With(zap.Int64("chat_id", chatID)))
	stop := panel.Subscribe(func(m models.Message) {
		if !m.IsUser {
			b.sendMessage(chatID, m.Content)
		}
	})

	if err := panel.Open(ctx, id); err != nil {
		stop()
		panel.Close()
		b.logger.Error("Failed to open consultation chat", zap.Error(err), zap.String("consultation_id", id))
		return err
	}

	cs.panel = panel
	cs.stopPanel = stop
	return nil
}

func (b *Bot) handleChatText(cs *chatState, chatID int64, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if !cs.panel.Send(text) {
		if cs.panel.Sending() {
			b.sendMessage(chatID, "Please wait for CARA's reply before sending another message.")
		}
		return
	}
	b.sendChatAction(chatID)
}

func (b *Bot) sendChatAction(chatID int64) {
	if _, err := b.api.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("Failed to send chat action", zap.Error(err), zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) handleReport(ctx context.Context, cs *chatState, chatID int64, id string) {
	if id == "" {
		b.sendMessage(chatID, "Usage: /report <id>")
		return
	}

	c, err := cs.hub.Get(ctx, id)
	if err != nil {
		b.sendError(chatID, err)
		return
	}

	var transcript []models.Message
	if cs.panel != nil {
		if open, ok := cs.panel.Consultation(); ok && open.ID == id {
			transcript = cs.panel.Messages()
		}
	}
	b.sendMarkdown(chatID, formatReport(*c, b.svc.Types, transcript))
}

func (b *Bot) handleDelete(ctx context.Context, cs *chatState, chatID int64, id string) {
	if id == "" {
		b.sendMessage(chatID, "Usage: /delete <id>")
		return
	}

	if err := cs.hub.Delete(ctx, id); err != nil {
		b.sendError(chatID, err)
		return
	}
	if cs.panel != nil {
		if open, ok := cs.panel.Consultation(); ok && open.ID == id {
			cs.closePanel()
		}
	}

	text := "Consultation deleted."
	if cs.hub.Loaded() {
		text += "\n" + formatCounts(cs.hub.Counts())
	}
	b.sendMessage(chatID, text)
}

func (b *Bot) handleComplete(ctx context.Context, cs *chatState, chatID int64, id string) {
	if id == "" {
		b.sendMessage(chatID, "Usage: /complete <id>")
		return
	}

	c, err := cs.hub.Complete(ctx, id)
	if err != nil {
		b.sendError(chatID, err)
		return
	}
	b.sendMessage(chatID, "Marked \""+c.Topic+"\" as completed.")
}

func (b *Bot) sendError(chatID int64, err error) {
	b.sendErrorMessage(chatID, errorText(err))
}

// errorText turns an error into a message for the user.
func errorText(err error) string {
	var (
		authErr  *session.AuthError
		storeErr *storage.Error
	)
	switch {
	case errors.As(err, &authErr):
		return "Sign-in failed. Use /retry to try again."
	case errors.Is(err, session.ErrNoSession):
		return "You're not signed in. Use /retry to sign in."
	case errors.Is(err, storage.ErrNotFound):
		return "That consultation doesn't exist anymore."
	case errors.Is(err, consultation.ErrWrongStep):
		return "That isn't available right now."
	case errors.Is(err, storage.ErrValidation) && errors.As(err, &storeErr):
		if storeErr.Message != "" {
			return "The server rejected the request: " + storeErr.Message
		}
		return "The server rejected the request."
	case errors.Is(err, storage.ErrValidation):
		return strings.TrimPrefix(err.Error(), storage.ErrValidation.Error()+": ")
	case errors.Is(err, storage.ErrNetwork):
		return "The server can't be reached right now. Please try again later."
	default:
		return "Something went wrong. Please try again."
	}
}
