package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/cara/internal/consultation"
	"github.com/xaenox/cara/internal/models"
	"github.com/xaenox/cara/internal/storage"
	"go.uber.org/zap"
)

type fixedGetter struct {
	c   *models.Consultation
	err error
}

func (g fixedGetter) Get(_ context.Context, _ string) (*models.Consultation, error) {
	return g.c, g.err
}

func echoBackend(reply string) Backend {
	return BackendFunc(func(context.Context, *models.Consultation, []models.Message) (string, error) {
		return reply, nil
	})
}

func openPanel(t *testing.T, backend Backend, delay time.Duration) *Panel {
	t.Helper()
	p := NewPanel(fixedGetter{c: &models.Consultation{ID: "c1", Topic: "SOX"}}, backend, delay, zap.NewNop())
	require.NoError(t, p.Open(context.Background(), "c1"))
	t.Cleanup(func() {
		p.Close()
		p.Wait()
	})
	return p
}

func TestOpenSeedsWelcomeMessage(t *testing.T) {
	gw := storage.NewMemoryStorage()
	repo := consultation.NewRepository(gw, "consultations", zap.NewNop())
	created, err := repo.Create(context.Background(), consultation.NewConsultation{
		Topic:       "Data Privacy",
		Description: "Retention schedule",
		Type:        "compliance-review",
		Status:      models.StatusActive,
		UserID:      "user-1",
	})
	require.NoError(t, err)

	p := NewPanel(repo, NewCannedBackend(), DefaultReplyDelay, zap.NewNop())
	defer p.Close()
	require.NoError(t, p.Open(context.Background(), created.ID))

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, WelcomeMessageID, msgs[0].ID)
	assert.False(t, msgs[0].IsUser)
	assert.Contains(t, msgs[0].Content, "Data Privacy")

	c, ok := p.Consultation()
	require.True(t, ok)
	assert.Equal(t, created.ID, c.ID)

	assert.ErrorIs(t, p.Open(context.Background(), created.ID), ErrAlreadyOpen)
}

func TestOpenMissingConsultation(t *testing.T) {
	repo := consultation.NewRepository(storage.NewMemoryStorage(), "consultations", zap.NewNop())
	p := NewPanel(repo, NewCannedBackend(), 0, zap.NewNop())
	defer p.Close()

	err := p.Open(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, p.Messages())
	assert.False(t, p.Send("hello"))
}

func TestSendIgnoresBlankText(t *testing.T) {
	p := openPanel(t, echoBackend("ok"), time.Hour)

	assert.False(t, p.Send(""))
	assert.False(t, p.Send("   "))
	assert.Len(t, p.Messages(), 1)
	assert.False(t, p.Sending())
}

func TestSendWhileReplyPending(t *testing.T) {
	p := openPanel(t, echoBackend("ok"), time.Hour)

	require.True(t, p.Send("first"))
	assert.True(t, p.Sending())
	assert.False(t, p.Send("hello"))

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[1].Content)
	assert.True(t, msgs[1].IsUser)
	assert.NotEmpty(t, msgs[1].ID)
}

func TestReplyArrivesAfterDelay(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []models.Message
	)
	backend := BackendFunc(func(_ context.Context, c *models.Consultation, transcript []models.Message) (string, error) {
		mu.Lock()
		seen = transcript
		mu.Unlock()
		return "Reply about " + c.Topic, nil
	})
	p := openPanel(t, backend, 10*time.Millisecond)

	require.True(t, p.Send("  What applies to us?  "))
	p.Wait()

	msgs := p.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "What applies to us?", msgs[1].Content)
	assert.False(t, msgs[2].IsUser)
	assert.Equal(t, "Reply about SOX", msgs[2].Content)
	assert.False(t, p.Sending())

	mu.Lock()
	assert.Len(t, seen, 2)
	mu.Unlock()

	require.True(t, p.Send("Thanks"))
	p.Wait()
	assert.Len(t, p.Messages(), 5)
}

func TestBackendErrorAppendsApology(t *testing.T) {
	backend := BackendFunc(func(context.Context, *models.Consultation, []models.Message) (string, error) {
		return "", errors.New("model unavailable")
	})
	p := openPanel(t, backend, 0)

	require.True(t, p.Send("hello"))
	p.Wait()

	msgs := p.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, apologyMessage, msgs[2].Content)
	assert.False(t, p.Sending())
}

func TestCloseDropsPendingReply(t *testing.T) {
	p := openPanel(t, echoBackend("late"), time.Hour)

	require.True(t, p.Send("hello"))
	p.Close()
	p.Wait()

	assert.Len(t, p.Messages(), 2)
	assert.False(t, p.Send("again"))
	assert.ErrorIs(t, p.Open(context.Background(), "c1"), ErrClosed)
}

func TestSubscribeSeesEveryAppend(t *testing.T) {
	p := NewPanel(fixedGetter{c: &models.Consultation{ID: "c1", Topic: "HIPAA"}}, echoBackend("ok"), 0, zap.NewNop())
	defer p.Close()

	var (
		mu  sync.Mutex
		got []string
	)
	unsubscribe := p.Subscribe(func(m models.Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m.ID)
	})

	require.NoError(t, p.Open(context.Background(), "c1"))
	require.True(t, p.Send("hi"))
	p.Wait()

	mu.Lock()
	assert.Len(t, got, 3)
	assert.Equal(t, WelcomeMessageID, got[0])
	mu.Unlock()

	unsubscribe()
	require.True(t, p.Send("again"))
	p.Wait()

	mu.Lock()
	assert.Len(t, got, 3)
	mu.Unlock()
}

func TestCannedBackendReply(t *testing.T) {
	b := NewCannedBackend()
	b.intn = func(n int) int { return n - 1 }

	reply, err := b.Reply(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply, cannedOpenings[len(cannedOpenings)-1]))
	assert.True(t, strings.HasSuffix(reply, Disclaimer))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Reply(ctx, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
