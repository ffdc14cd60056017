package consultation

import (
	"context"
	"errors"
	"sync"

	"github.com/xaenox/cara/internal/models"
	"github.com/xaenox/cara/internal/storage"
	"go.uber.org/zap"
)

// UserSource yields the id of the signed-in user.
type UserSource interface {
	UserID() (string, error)
}

// Hub holds the consultations of the current user and derives filtered
// views and counts from the last loaded set.
type Hub struct {
	repo   *Repository
	users  UserSource
	logger *zap.Logger

	mu     sync.RWMutex
	items  []models.Consultation
	loaded bool
}

func NewHub(repo *Repository, users UserSource, logger *zap.Logger) *Hub {
	return &Hub{repo: repo, users: users, logger: logger}
}

// Load replaces the in-memory set with the current user's consultations.
// On failure the previous set is kept.
func (h *Hub) Load(ctx context.Context) ([]models.Consultation, error) {
	userID, err := h.users.UserID()
	if err != nil {
		return nil, err
	}

	items, err := h.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.items = items
	h.loaded = true
	h.mu.Unlock()

	h.logger.Debug("Consultations loaded", zap.String("user_id", userID), zap.Int("count", len(items)))
	return h.Items(), nil
}

func (h *Hub) Loaded() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.loaded
}

func (h *Hub) Items() []models.Consultation {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.Consultation, len(h.items))
	copy(out, h.items)
	return out
}

func (h *Hub) Filter(search string, status StatusFilter) []models.Consultation {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Filter(h.items, search, status)
}

// Counts is computed from the full loaded set, not from a filtered view.
func (h *Hub) Counts() Counts {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return CountStatuses(h.items)
}

func (h *Hub) Find(id string) (models.Consultation, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.items {
		if c.ID == id {
			return c, true
		}
	}
	return models.Consultation{}, false
}

// Get loads one consultation of the current user. Records of other users
// are reported as not found.
func (h *Hub) Get(ctx context.Context, id string) (*models.Consultation, error) {
	userID, err := h.users.UserID()
	if err != nil {
		return nil, err
	}
	return h.repo.GetOwned(ctx, id, userID)
}

// Delete removes the consultation from the store and, once the store has
// confirmed, from the in-memory set. A record the store no longer has is
// treated as deleted.
func (h *Hub) Delete(ctx context.Context, id string) error {
	_, err := h.Get(ctx, id)
	if err == nil {
		err = h.repo.Delete(ctx, id)
	}
	if err != nil {
		if errors.Is(err, ErrNotOwner) || !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		h.logger.Warn("Consultation already gone from store", zap.String("consultation_id", id))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.items[:0:0]
	for _, c := range h.items {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	h.items = kept
	return nil
}

// Update writes the change and replaces the local copy with the stored one.
func (h *Hub) Update(ctx context.Context, id string, upd Update) (*models.Consultation, error) {
	if _, err := h.Get(ctx, id); err != nil {
		return nil, err
	}
	updated, err := h.repo.Update(ctx, id, upd)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.items {
		if h.items[i].ID == id {
			h.items[i] = *updated
			break
		}
	}
	return updated, nil
}

func (h *Hub) Complete(ctx context.Context, id string) (*models.Consultation, error) {
	status := models.StatusCompleted
	return h.Update(ctx, id, Update{Status: &status})
}
