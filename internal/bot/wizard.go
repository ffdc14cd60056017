package bot

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/cara/internal/consultation"
	"github.com/xaenox/cara/internal/models"
	"go.uber.org/zap"
)

const noDraftText = "There is no consultation draft. Use /new to start one."

func (b *Bot) handleNew(cs *chatState, chatID int64) {
	if cs.wizard != nil {
		cs.wizard.Cancel()
	}
	cs.wizard = consultation.NewWizard(b.svc.Repository, b.svc.Session, b.svc.Types, b.svc.Wizard,
		b.logger.With(zap.Int64("chat_id", chatID)))
	cs.awaitingCustomTopic = false

	b.sendMessage(chatID, topicMenu())
}

// resolveChoice accepts a menu number, an option value or an option label.
func resolveChoice(text string) string {
	text = strings.TrimSpace(text)
	if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(consultation.TopicOptions) {
		return consultation.TopicOptions[n-1].Value
	}
	for _, opt := range consultation.TopicOptions {
		if strings.EqualFold(opt.Label, text) {
			return opt.Value
		}
	}
	return text
}

func (b *Bot) handleWizardText(cs *chatState, chatID int64, text string) {
	w := cs.wizard

	switch w.Step() {
	case consultation.StepTopicSelection:
		if cs.awaitingCustomTopic {
			if err := w.SetCustomTopic(text); err != nil {
				b.sendError(chatID, err)
				return
			}
			if !w.CanAdvance() {
				b.sendMessage(chatID, "Please enter a topic for your consultation.")
				return
			}
			cs.awaitingCustomTopic = false
			b.advance(cs, chatID)
			return
		}

		choice := resolveChoice(text)
		if err := w.SelectType(choice); err != nil {
			b.sendError(chatID, err)
			b.sendMessage(chatID, topicMenu())
			return
		}
		if choice == consultation.OtherOption {
			cs.awaitingCustomTopic = true
			b.sendMessage(chatID, "What is your consultation about? Describe the topic in a few words.")
			return
		}
		b.advance(cs, chatID)

	case consultation.StepDetailEntry:
		if err := w.SetDescription(text); err != nil {
			b.sendError(chatID, err)
			return
		}
		if !w.CanSubmit() {
			b.sendMessage(chatID, "Please describe your compliance question.")
			return
		}
		b.sendMessage(chatID, "Description saved. Send documents or photos to attach them, or /next to review.")

	case consultation.StepReview:
		b.sendMessage(chatID, "Send /submit to create the consultation, /back to edit it, or /cancel to discard it.")
	}
}

func (b *Bot) advance(cs *chatState, chatID int64) {
	if err := cs.wizard.Next(); err != nil {
		b.sendError(chatID, err)
		return
	}
	b.promptStep(cs, chatID)
}

func (b *Bot) promptStep(cs *chatState, chatID int64) {
	w := cs.wizard
	switch w.Step() {
	case consultation.StepTopicSelection:
		b.sendMessage(chatID, topicMenu())
	case consultation.StepDetailEntry:
		draft := w.Draft()
		text := fmt.Sprintf("Topic: %s\n\nDescribe your compliance question or concern in detail.", draft.EffectiveTopic())
		if draft.Description != "" {
			text += "\nCurrent description: " + draft.Description
		}
		b.sendMessage(chatID, text)
	case consultation.StepReview:
		b.sendMarkdown(chatID, formatDraft(w.Draft(), b.svc.Types))
	}
}

func (b *Bot) handleNext(cs *chatState, chatID int64) {
	if cs.wizard == nil {
		b.sendMessage(chatID, noDraftText)
		return
	}
	if cs.wizard.Step() == consultation.StepTopicSelection && cs.awaitingCustomTopic && !cs.wizard.CanAdvance() {
		b.sendMessage(chatID, "Please enter a topic for your consultation.")
		return
	}
	cs.awaitingCustomTopic = false
	b.advance(cs, chatID)
}

func (b *Bot) handleBack(cs *chatState, chatID int64) {
	if cs.wizard == nil {
		b.sendMessage(chatID, noDraftText)
		return
	}
	if err := cs.wizard.Back(); err != nil {
		b.sendError(chatID, err)
		return
	}
	cs.awaitingCustomTopic = false
	b.promptStep(cs, chatID)
}

func (b *Bot) handleRemoveAttachment(cs *chatState, chatID int64, args string) {
	if cs.wizard == nil {
		b.sendMessage(chatID, noDraftText)
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		b.sendMessage(chatID, "Usage: /remove <n>")
		return
	}
	if err := cs.wizard.RemoveAttachment(n - 1); err != nil {
		b.sendError(chatID, err)
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("Removed attachment %d.", n))
}

func (b *Bot) handleSubmit(ctx context.Context, cs *chatState, chatID int64) {
	if cs.wizard == nil {
		b.sendMessage(chatID, noDraftText)
		return
	}

	id, err := cs.wizard.Submit(ctx)
	if err != nil {
		b.sendError(chatID, err)
		if cs.wizard.Step() == consultation.StepReview {
			b.sendMessage(chatID, "Your draft is kept. Send /submit to try again.")
		}
		return
	}

	cs.wizard = nil
	b.sendMessage(chatID, "Consultation created. ID: "+id)

	if err := b.openPanel(ctx, cs, chatID, id); err != nil {
		b.sendError(chatID, err)
	}
}

func (b *Bot) handleCancel(cs *chatState, chatID int64) {
	switch {
	case cs.wizard != nil:
		cs.wizard.Cancel()
		cs.wizard = nil
		cs.awaitingCustomTopic = false
		b.sendMessage(chatID, "Draft discarded.")
	case cs.panel != nil:
		cs.closePanel()
		b.sendMessage(chatID, "Chat closed.")
	default:
		b.sendMessage(chatID, "Nothing to cancel.")
	}
}

func (b *Bot) handleAttachment(ctx context.Context, cs *chatState, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	if cs.wizard == nil || cs.wizard.Step() != consultation.StepDetailEntry {
		b.sendMessage(chatID, "Files can be attached while describing a new consultation. Use /new to start one.")
		return
	}

	var (
		fileID string
		meta   models.Attachment
	)
	if doc := message.Document; doc != nil {
		fileID = doc.FileID
		meta = models.Attachment{Name: doc.FileName, Size: int64(doc.FileSize), MIMEType: doc.MimeType}
		if meta.Name == "" {
			meta.Name = "document"
		}
	} else {
		photo := message.Photo[len(message.Photo)-1]
		fileID = photo.FileID
		meta = models.Attachment{Name: "photo_" + photo.FileUniqueID + ".jpg", Size: int64(photo.FileSize), MIMEType: "image/jpeg"}
	}

	if err := b.attach(ctx, cs.wizard, fileID, meta); err != nil {
		b.sendError(chatID, err)
		return
	}

	draft := cs.wizard.Draft()
	last := draft.Attachments[len(draft.Attachments)-1]
	b.sendMessage(chatID, fmt.Sprintf("Attached %s (%s). %d file(s) attached.", last.Name, humanSize(last.Size), len(draft.Attachments)))
}

// attach downloads the file so its type is detected from content. When the
// download is not possible, or the file is already known to be too large,
// the metadata Telegram reports is used instead.
func (b *Bot) attach(ctx context.Context, w *consultation.Wizard, fileID string, meta models.Attachment) error {
	limit := b.svc.Wizard.MaxAttachmentSize
	if limit > 0 && meta.Size > limit {
		return w.AddAttachment(meta)
	}

	path, err := b.downloadFile(ctx, fileID)
	if err != nil {
		b.logger.Warn("Failed to download attachment, using reported metadata",
			zap.Error(err),
			zap.String("file_name", meta.Name))
		return w.AddAttachment(meta)
	}
	defer os.Remove(path)

	return w.AttachFileAs(path, meta.Name)
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) (string, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("error getting file url: %v", err)
	}

	tmp, err := os.CreateTemp("", "cara-attachment-*")
	if err != nil {
		return "", err
	}
	path := tmp.Name()
	tmp.Close()

	resp, err := b.download.R().SetContext(ctx).SetOutput(path).Get(url)
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("error downloading file: %v", err)
	}
	if resp.IsError() {
		os.Remove(path)
		return "", fmt.Errorf("error downloading file: status %d", resp.StatusCode())
	}
	return path, nil
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
