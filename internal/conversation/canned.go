package conversation

import (
	"context"
	"math/rand"

	"github.com/xaenox/cara/internal/models"
)

// Disclaimer is appended to every canned reply.
const Disclaimer = "This is a simulated response. AI integration will be implemented in the next phase."

var cannedOpenings = []string{
	"That's a great question about compliance. Let me break this down for you based on current regulations...",
	"I understand your concern. Here are the key compliance considerations you should be aware of:",
	"Based on your consultation topic, I recommend focusing on these critical areas:",
	"Let me provide you with some specific guidance on this compliance matter:",
	"Here's what you need to know about the regulatory requirements in this area:",
}

// CannedBackend answers with a random stock sentence. It does not look at
// the user's input and is a placeholder for a real model.
type CannedBackend struct {
	intn func(n int) int
}

func NewCannedBackend() *CannedBackend {
	return &CannedBackend{intn: rand.Intn}
}

func (b *CannedBackend) Reply(ctx context.Context, _ *models.Consultation, _ []models.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return cannedOpenings[b.intn(len(cannedOpenings))] + " " + Disclaimer, nil
}
