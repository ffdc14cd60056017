package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/cara/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultReplyDelay = 2 * time.Second
	WelcomeMessageID  = "welcome"
)

const apologyMessage = "Sorry, I couldn't prepare a response just now. Please send your message again."

var (
	ErrClosed      = errors.New("conversation panel is closed")
	ErrAlreadyOpen = errors.New("conversation panel is already open")
)

// Getter loads a consultation by id.
type Getter interface {
	Get(ctx context.Context, id string) (*models.Consultation, error)
}

// WelcomeText is the introductory assistant message for a topic.
func WelcomeText(topic string) string {
	return fmt.Sprintf("Hello! I'm CARA, your AI compliance advisor. I understand you need help with %q. "+
		"Based on your description, I can provide expert guidance on compliance requirements, risk assessment, "+
		"and best practices. How would you like to start?", topic)
}

// Panel keeps the in-memory transcript of one consultation. Transcripts are
// never persisted.
type Panel struct {
	getter  Getter
	backend Backend
	delay   time.Duration
	logger  *zap.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	consultation *models.Consultation
	messages     []models.Message
	sending      bool
	closed       bool
	subs         map[int]func(models.Message)
	nextSub      int
}

func NewPanel(getter Getter, backend Backend, delay time.Duration, logger *zap.Logger) *Panel {
	if delay < 0 {
		delay = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Panel{
		getter:  getter,
		backend: backend,
		delay:   delay,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[int]func(models.Message)),
	}
}

// Open loads the consultation and seeds the transcript with the welcome
// message.
func (p *Panel) Open(ctx context.Context, id string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.consultation != nil {
		p.mu.Unlock()
		return ErrAlreadyOpen
	}
	p.mu.Unlock()

	c, err := p.getter.Get(ctx, id)
	if err != nil {
		return err
	}

	welcome := models.Message{
		ID:        WelcomeMessageID,
		Content:   WelcomeText(c.Topic),
		IsUser:    false,
		Timestamp: p.now(),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.consultation != nil {
		p.mu.Unlock()
		return ErrAlreadyOpen
	}
	p.consultation = c
	p.messages = []models.Message{welcome}
	subs := p.subscribers()
	p.mu.Unlock()

	notify(subs, welcome)
	return nil
}

// Send appends the user's message and schedules a reply. It reports false
// and changes nothing when the text is blank, a reply is pending, or the
// panel is not open.
func (p *Panel) Send(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	p.mu.Lock()
	if p.closed || p.consultation == nil || p.sending {
		p.mu.Unlock()
		return false
	}

	msg := models.Message{
		ID:        uuid.NewString(),
		Content:   text,
		IsUser:    true,
		Timestamp: p.now(),
	}
	p.messages = append(p.messages, msg)
	p.sending = true
	transcript := p.snapshot()
	c := *p.consultation
	subs := p.subscribers()
	p.wg.Add(1)
	p.mu.Unlock()

	notify(subs, msg)
	go p.reply(&c, transcript)
	return true
}

func (p *Panel) reply(c *models.Consultation, transcript []models.Message) {
	defer p.wg.Done()

	timer := time.NewTimer(p.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-p.ctx.Done():
		return
	}

	content, err := p.backend.Reply(p.ctx, c, transcript)
	if err != nil {
		if p.ctx.Err() != nil {
			return
		}
		p.logger.Error("Failed to generate reply", zap.Error(err), zap.String("consultation_id", c.ID))
		content = apologyMessage
	}

	msg := models.Message{
		ID:        uuid.NewString(),
		Content:   content,
		IsUser:    false,
		Timestamp: p.now(),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.messages = append(p.messages, msg)
	p.sending = false
	subs := p.subscribers()
	p.mu.Unlock()

	notify(subs, msg)
}

func (p *Panel) Messages() []models.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

// Sending reports whether a reply is pending.
func (p *Panel) Sending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sending
}

func (p *Panel) Consultation() (models.Consultation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consultation == nil {
		return models.Consultation{}, false
	}
	return *p.consultation, true
}

// Subscribe registers fn to be called with every message appended to the
// transcript. The returned function removes it.
func (p *Panel) Subscribe(fn func(models.Message)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

// Close discards the panel. A pending reply is dropped.
func (p *Panel) Close() {
	p.mu.Lock()
	p.closed = true
	p.sending = false
	p.subs = make(map[int]func(models.Message))
	p.mu.Unlock()
	p.cancel()
}

// Wait blocks until no reply goroutine is running.
func (p *Panel) Wait() {
	p.wg.Wait()
}

func (p *Panel) snapshot() []models.Message {
	out := make([]models.Message, len(p.messages))
	copy(out, p.messages)
	return out
}

func (p *Panel) subscribers() []func(models.Message) {
	out := make([]func(models.Message), 0, len(p.subs))
	for _, fn := range p.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(models.Message), msg models.Message) {
	for _, fn := range subs {
		fn(msg)
	}
}
