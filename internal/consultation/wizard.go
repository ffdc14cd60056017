package consultation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/xaenox/cara/internal/models"
	"github.com/xaenox/cara/internal/storage"
	"go.uber.org/zap"
)

type Step int

const (
	StepTopicSelection Step = iota
	StepDetailEntry
	StepReview
	StepSubmitted
)

func (s Step) String() string {
	switch s {
	case StepTopicSelection:
		return "topic selection"
	case StepDetailEntry:
		return "detail entry"
	case StepReview:
		return "review"
	case StepSubmitted:
		return "submitted"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

var (
	ErrWrongStep  = errors.New("action not available at this step")
	ErrSubmitting = errors.New("submission already in progress")
)

// Creator persists a new consultation.
type Creator interface {
	Create(ctx context.Context, in NewConsultation) (*models.Consultation, error)
}

// Draft is the wizard's working copy. Topic holds custom topic text and is
// only kept while Type is the "other" option; otherwise the label of the
// chosen option is used.
type Draft struct {
	Topic       string
	Type        string
	Description string
	Attachments []models.Attachment
}

// EffectiveTopic is the topic that will be submitted.
func (d Draft) EffectiveTopic() string {
	if topic := strings.TrimSpace(d.Topic); topic != "" {
		return topic
	}
	if opt, ok := LookupOption(d.Type); ok {
		return opt.Label
	}
	return ""
}

type WizardConfig struct {
	MaxAttachmentSize int64
	MaxAttachments    int
}

// Wizard walks a draft through TopicSelection, DetailEntry and Review to
// Submitted. Nothing is saved until Submit succeeds.
type Wizard struct {
	creator Creator
	users   UserSource
	types   *TypeMap
	cfg     WizardConfig
	logger  *zap.Logger

	mu         sync.Mutex
	step       Step
	draft      Draft
	submitting bool
	createdID  string
	lastErr    error
}

func NewWizard(creator Creator, users UserSource, types *TypeMap, cfg WizardConfig, logger *zap.Logger) *Wizard {
	return &Wizard{
		creator: creator,
		users:   users,
		types:   types,
		cfg:     cfg,
		logger:  logger,
	}
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", storage.ErrValidation, fmt.Sprintf(format, args...))
}

func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

func (w *Wizard) Draft() Draft {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := w.draft
	d.Attachments = append([]models.Attachment(nil), w.draft.Attachments...)
	return d
}

// LastError returns the error of the most recent failed submission.
func (w *Wizard) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *Wizard) requireStep(step Step) error {
	if w.step != step {
		return fmt.Errorf("%w: in %s, need %s", ErrWrongStep, w.step, step)
	}
	return nil
}

func (w *Wizard) SelectType(choice string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireStep(StepTopicSelection); err != nil {
		return err
	}
	opt, ok := LookupOption(choice)
	if !ok {
		return validationError("unknown topic %q", choice)
	}
	w.draft.Type = opt.Value
	if opt.Value != OtherOption {
		w.draft.Topic = ""
	}
	return nil
}

func (w *Wizard) SetCustomTopic(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireStep(StepTopicSelection); err != nil {
		return err
	}
	w.draft.Topic = strings.TrimSpace(text)
	return nil
}

func (w *Wizard) SetDescription(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireStep(StepDetailEntry); err != nil {
		return err
	}
	w.draft.Description = text
	return nil
}

// AttachFile records a local file by name, size and detected MIME type.
func (w *Wizard) AttachFile(path string) error {
	return w.AttachFileAs(path, filepath.Base(path))
}

// AttachFileAs is AttachFile with a display name other than the file's own,
// for files downloaded to a temporary location.
func (w *Wizard) AttachFileAs(path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("attach %s: %w", path, err)
	}
	if info.IsDir() {
		return validationError("%s is a directory", path)
	}

	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("detect type of %s: %w", path, err)
	}

	return w.AddAttachment(models.Attachment{
		Name:     name,
		Size:     info.Size(),
		MIMEType: mime.String(),
	})
}

func (w *Wizard) AddAttachment(a models.Attachment) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireStep(StepDetailEntry); err != nil {
		return err
	}
	if strings.TrimSpace(a.Name) == "" {
		return validationError("attachment has no name")
	}
	if w.cfg.MaxAttachmentSize > 0 && a.Size > w.cfg.MaxAttachmentSize {
		return validationError("%s is %d bytes, limit is %d", a.Name, a.Size, w.cfg.MaxAttachmentSize)
	}
	if w.cfg.MaxAttachments > 0 && len(w.draft.Attachments) >= w.cfg.MaxAttachments {
		return validationError("at most %d attachments", w.cfg.MaxAttachments)
	}

	a.IsImage = strings.HasPrefix(a.MIMEType, "image/")
	w.draft.Attachments = append(w.draft.Attachments, a)
	return nil
}

func (w *Wizard) RemoveAttachment(index int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireStep(StepDetailEntry); err != nil {
		return err
	}
	if index < 0 || index >= len(w.draft.Attachments) {
		return validationError("no attachment at position %d", index+1)
	}
	w.draft.Attachments = append(w.draft.Attachments[:index:index], w.draft.Attachments[index+1:]...)
	return nil
}

func (w *Wizard) CanAdvance() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canAdvance()
}

func (w *Wizard) canAdvance() bool {
	switch w.step {
	case StepTopicSelection:
		if w.draft.Type == "" {
			return false
		}
		return w.draft.Type != OtherOption || strings.TrimSpace(w.draft.Topic) != ""
	case StepDetailEntry:
		return strings.TrimSpace(w.draft.Description) != ""
	default:
		return false
	}
}

func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.step >= StepReview {
		return fmt.Errorf("%w: no step after %s", ErrWrongStep, w.step)
	}
	if !w.canAdvance() {
		if w.step == StepTopicSelection {
			return validationError("choose a topic first")
		}
		return validationError("description is required")
	}
	w.step++
	return nil
}

func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.step == StepTopicSelection || w.step == StepSubmitted || w.submitting {
		return fmt.Errorf("%w: cannot go back from %s", ErrWrongStep, w.step)
	}
	w.step--
	return nil
}

// CanSubmit reports whether a type is chosen and the description is non-blank.
func (w *Wizard) CanSubmit() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canSubmit()
}

func (w *Wizard) canSubmit() bool {
	return w.draft.Type != "" && strings.TrimSpace(w.draft.Description) != ""
}

// Submit creates the consultation and returns its id. On failure the
// wizard stays in Review with the error recorded.
func (w *Wizard) Submit(ctx context.Context) (string, error) {
	w.mu.Lock()
	if err := w.requireStep(StepReview); err != nil {
		w.mu.Unlock()
		return "", err
	}
	if w.submitting {
		w.mu.Unlock()
		return "", ErrSubmitting
	}
	if !w.canSubmit() {
		w.mu.Unlock()
		return "", validationError("please fill in all required fields")
	}

	userID, err := w.users.UserID()
	if err != nil {
		w.lastErr = err
		w.mu.Unlock()
		return "", err
	}

	payload := NewConsultation{
		Topic:       w.draft.EffectiveTopic(),
		Description: strings.TrimSpace(w.draft.Description),
		Type:        w.types.Resolve(w.draft.Type),
		Status:      models.StatusActive,
		UserID:      userID,
	}
	w.submitting = true
	w.mu.Unlock()

	created, err := w.creator.Create(ctx, payload)
	if err == nil && (created == nil || created.ID == "") {
		err = errors.New("store returned a consultation without id")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitting = false
	if err != nil {
		w.lastErr = err
		w.logger.Error("Failed to create consultation", zap.Error(err), zap.String("type", payload.Type))
		return "", err
	}

	w.lastErr = nil
	w.createdID = created.ID
	w.step = StepSubmitted
	w.logger.Info("Consultation created",
		zap.String("consultation_id", created.ID),
		zap.String("type", payload.Type),
		zap.Int("attachments", len(w.draft.Attachments)))
	return created.ID, nil
}

// CreatedID is the id of the submitted consultation, or "".
func (w *Wizard) CreatedID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.createdID
}

// Cancel discards the draft. It returns false once the wizard is submitted.
func (w *Wizard) Cancel() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.step == StepSubmitted || w.submitting {
		return false
	}
	w.step = StepTopicSelection
	w.draft = Draft{}
	w.lastErr = nil
	return true
}
