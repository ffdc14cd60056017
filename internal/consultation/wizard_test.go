package consultation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/cara/internal/models"
	"github.com/xaenox/cara/internal/session"
	"github.com/xaenox/cara/internal/storage"
	"go.uber.org/zap"
)

func newTestWizard(gw storage.Gateway, user string) *Wizard {
	repo := NewRepository(gw, "consultations", zap.NewNop())
	cfg := WizardConfig{MaxAttachmentSize: 1024, MaxAttachments: 2}
	return NewWizard(repo, staticUser(user), NewTypeMap(nil, nil), cfg, zap.NewNop())
}

func TestWizardSubmitsMappedPayload(t *testing.T) {
	gw := newRecordingGateway()
	w := newTestWizard(gw, "user-1")

	require.NoError(t, w.SelectType("gdpr"))
	require.NoError(t, w.SetCustomTopic("GDPR"))
	require.NoError(t, w.Next())
	require.NoError(t, w.SetDescription("Need help"))
	require.NoError(t, w.Next())
	require.Equal(t, StepReview, w.Step())

	id, err := w.Submit(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, StepSubmitted, w.Step())
	assert.Equal(t, id, w.CreatedID())

	require.Len(t, gw.created, 1)
	payload := gw.created[0]
	assert.Equal(t, "GDPR", payload["topic"])
	assert.Equal(t, "Need help", payload["description"])
	assert.Equal(t, "active", payload["status"])
	assert.Equal(t, "user-1", payload["userId"])
	assert.Equal(t, "compliance-review", payload["type"])
}

func TestWizardUsesOptionLabelAsDefaultTopic(t *testing.T) {
	gw := newRecordingGateway()
	w := newTestWizard(gw, "user-1")

	require.NoError(t, w.SelectType("risk"))
	require.NoError(t, w.Next())
	require.NoError(t, w.SetDescription("Vendor onboarding"))
	require.NoError(t, w.Next())
	_, err := w.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Risk Assessment", gw.created[0]["topic"])
	assert.Equal(t, "risk-assessment", gw.created[0]["type"])
}

func TestWizardTopicSelectionGate(t *testing.T) {
	w := newTestWizard(newRecordingGateway(), "user-1")

	assert.False(t, w.CanAdvance())
	assert.ErrorIs(t, w.Next(), storage.ErrValidation)
	assert.ErrorIs(t, w.SelectType("astrology"), storage.ErrValidation)

	require.NoError(t, w.SelectType(OtherOption))
	assert.False(t, w.CanAdvance(), "other needs a custom topic")

	require.NoError(t, w.SetCustomTopic("   "))
	assert.False(t, w.CanAdvance())

	require.NoError(t, w.SetCustomTopic("Export controls"))
	assert.True(t, w.CanAdvance())
	require.NoError(t, w.Next())
	assert.Equal(t, StepDetailEntry, w.Step())
	assert.Equal(t, "Export controls", w.Draft().EffectiveTopic())
}

func TestWizardReselectDropsCustomTopic(t *testing.T) {
	gw := newRecordingGateway()
	w := newTestWizard(gw, "user-1")

	require.NoError(t, w.SelectType(OtherOption))
	require.NoError(t, w.SetCustomTopic("Whistleblowing"))
	require.NoError(t, w.Next())
	require.NoError(t, w.Back())
	require.Equal(t, StepTopicSelection, w.Step())

	require.NoError(t, w.SelectType("gdpr"))
	assert.Empty(t, w.Draft().Topic)
	assert.Equal(t, "GDPR Compliance", w.Draft().EffectiveTopic())

	require.NoError(t, w.Next())
	require.NoError(t, w.SetDescription("Lawful basis for marketing emails"))
	require.NoError(t, w.Next())
	_, err := w.Submit(context.Background())
	require.NoError(t, err)

	require.Len(t, gw.created, 1)
	assert.Equal(t, "GDPR Compliance", gw.created[0]["topic"])
	assert.Equal(t, "compliance-review", gw.created[0]["type"])
}

func TestWizardSubmitEnablement(t *testing.T) {
	w := newTestWizard(newRecordingGateway(), "user-1")
	assert.False(t, w.CanSubmit())

	require.NoError(t, w.SelectType("sox"))
	require.NoError(t, w.Next())
	assert.False(t, w.CanSubmit())

	require.NoError(t, w.SetDescription("   "))
	assert.False(t, w.CanSubmit())
	assert.ErrorIs(t, w.Next(), storage.ErrValidation)

	require.NoError(t, w.SetDescription("Quarterly controls"))
	assert.True(t, w.CanSubmit())

	require.NoError(t, w.Next())
	assert.True(t, w.CanSubmit(), "moving to review keeps submit enabled")

	require.NoError(t, w.Back())
	require.NoError(t, w.SetDescription(""))
	assert.False(t, w.CanSubmit())
}

func TestWizardSubmitFailureStaysInReview(t *testing.T) {
	gw := newRecordingGateway()
	gw.createErr = &storage.Error{Op: "create", Kind: storage.ErrNetwork}
	w := newTestWizard(gw, "user-1")

	require.NoError(t, w.SelectType("audit"))
	require.NoError(t, w.Next())
	require.NoError(t, w.SetDescription("SOC 2 next month"))
	require.NoError(t, w.Next())

	_, err := w.Submit(context.Background())
	assert.ErrorIs(t, err, storage.ErrNetwork)
	assert.Equal(t, StepReview, w.Step())
	assert.ErrorIs(t, w.LastError(), storage.ErrNetwork)

	gw.createErr = nil
	id, err := w.Submit(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Nil(t, w.LastError())
}

func TestWizardSubmitWithoutSession(t *testing.T) {
	gw := newRecordingGateway()
	w := newTestWizard(gw, "")

	require.NoError(t, w.SelectType("general"))
	require.NoError(t, w.Next())
	require.NoError(t, w.SetDescription("Anything"))
	require.NoError(t, w.Next())

	_, err := w.Submit(context.Background())
	assert.ErrorIs(t, err, session.ErrNoSession)
	assert.Empty(t, gw.created)
	assert.Equal(t, StepReview, w.Step())
}

func TestWizardSubmitOnlyFromReview(t *testing.T) {
	w := newTestWizard(newRecordingGateway(), "user-1")
	_, err := w.Submit(context.Background())
	assert.ErrorIs(t, err, ErrWrongStep)
}

func TestWizardNoTransitionsAfterSubmit(t *testing.T) {
	w := newTestWizard(newRecordingGateway(), "user-1")
	require.NoError(t, w.SelectType("privacy"))
	require.NoError(t, w.Next())
	require.NoError(t, w.SetDescription("Data retention"))
	require.NoError(t, w.Next())
	_, err := w.Submit(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, w.Back(), ErrWrongStep)
	assert.ErrorIs(t, w.Next(), ErrWrongStep)
	assert.False(t, w.Cancel())
	_, err = w.Submit(context.Background())
	assert.ErrorIs(t, err, ErrWrongStep)
}

func TestWizardCancelDiscardsDraft(t *testing.T) {
	gw := newRecordingGateway()
	w := newTestWizard(gw, "user-1")

	require.NoError(t, w.SelectType("hipaa"))
	require.NoError(t, w.Next())
	require.NoError(t, w.SetDescription("PHI in logs"))

	assert.True(t, w.Cancel())
	assert.Equal(t, StepTopicSelection, w.Step())
	assert.Equal(t, Draft{}, w.Draft())
	assert.Empty(t, gw.created)
}

func TestWizardAttachments(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "diagram.png")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0o600))
	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("plain notes"), 0o600))
	big := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(big, make([]byte, 2048), 0o600))

	w := newTestWizard(newRecordingGateway(), "user-1")
	assert.ErrorIs(t, w.AttachFile(png), ErrWrongStep)

	require.NoError(t, w.SelectType("security"))
	require.NoError(t, w.Next())

	require.NoError(t, w.AttachFile(png))
	require.NoError(t, w.AttachFile(txt))
	assert.ErrorIs(t, w.AttachFile(big), storage.ErrValidation)

	attachments := w.Draft().Attachments
	require.Len(t, attachments, 2)
	assert.Equal(t, "diagram.png", attachments[0].Name)
	assert.Equal(t, "image/png", attachments[0].MIMEType)
	assert.True(t, attachments[0].IsImage)
	assert.False(t, attachments[1].IsImage)
	assert.EqualValues(t, 11, attachments[1].Size)

	err := w.AddAttachment(models.Attachment{Name: "third.pdf", Size: 10, MIMEType: "application/pdf"})
	assert.ErrorIs(t, err, storage.ErrValidation)

	require.NoError(t, w.RemoveAttachment(0))
	assert.ErrorIs(t, w.RemoveAttachment(5), storage.ErrValidation)
	attachments = w.Draft().Attachments
	require.Len(t, attachments, 1)
	assert.Equal(t, "notes.txt", attachments[0].Name)
}
