package conversation

import (
	"context"

	"github.com/xaenox/cara/internal/models"
)

// Backend produces the assistant's next turn for a consultation.
type Backend interface {
	Reply(ctx context.Context, c *models.Consultation, transcript []models.Message) (string, error)
}

// BackendFunc adapts a plain function to Backend.
type BackendFunc func(ctx context.Context, c *models.Consultation, transcript []models.Message) (string, error)

func (f BackendFunc) Reply(ctx context.Context, c *models.Consultation, transcript []models.Message) (string, error) {
	return f(ctx, c, transcript)
}
