package consultation

import (
	"context"
	"fmt"

	"github.com/xaenox/cara/internal/models"
	"github.com/xaenox/cara/internal/storage"
	"go.uber.org/zap"
)

// NewConsultation is the payload written when a consultation is created.
// Type carries the store's wire value, already resolved through a TypeMap.
type NewConsultation struct {
	Topic       string
	Description string
	Type        string
	Status      models.ConsultationStatus
	UserID      string
	Metadata    map[string]any
}

// Update lists the fields to change; nil fields are left untouched.
type Update struct {
	Topic       *string
	Description *string
	Type        *string
	Status      *models.ConsultationStatus
	Metadata    map[string]any
}

func (u Update) record() storage.Record {
	rec := storage.Record{}
	if u.Topic != nil {
		rec["topic"] = *u.Topic
	}
	if u.Description != nil {
		rec["description"] = *u.Description
	}
	if u.Type != nil {
		rec["type"] = *u.Type
	}
	if u.Status != nil {
		rec["status"] = string(*u.Status)
	}
	if u.Metadata != nil {
		rec["metadata"] = u.Metadata
	}
	return rec
}

// ErrNotOwner is returned for a consultation that belongs to another user.
// It matches storage.ErrNotFound so callers cannot tell the two apart.
var ErrNotOwner = fmt.Errorf("%w: consultation belongs to another user", storage.ErrNotFound)

// Repository maps consultations onto a Gateway collection.
type Repository struct {
	gw         storage.Gateway
	collection string
	logger     *zap.Logger
}

func NewRepository(gw storage.Gateway, collection string, logger *zap.Logger) *Repository {
	if collection == "" {
		collection = "consultations"
	}
	return &Repository{gw: gw, collection: collection, logger: logger}
}

func (r *Repository) Create(ctx context.Context, in NewConsultation) (*models.Consultation, error) {
	fields := storage.Record{
		"topic":       in.Topic,
		"description": in.Description,
		"type":        in.Type,
		"status":      string(in.Status),
		"userId":      in.UserID,
	}
	if len(in.Metadata) > 0 {
		fields["metadata"] = in.Metadata
	}

	rec, err := r.gw.Create(ctx, r.collection, fields)
	if err != nil {
		r.logger.Error("Failed to create consultation",
			zap.Error(err),
			zap.String("user_id", in.UserID),
			zap.String("type", in.Type))
		return nil, err
	}
	return r.decode(rec)
}

func (r *Repository) Get(ctx context.Context, id string) (*models.Consultation, error) {
	rec, err := r.gw.GetOne(ctx, r.collection, id)
	if err != nil {
		r.logger.Error("Failed to fetch consultation", zap.Error(err), zap.String("consultation_id", id))
		return nil, err
	}
	return r.decode(rec)
}

// GetOwned is Get restricted to consultations whose userId is userID.
func (r *Repository) GetOwned(ctx context.Context, id, userID string) (*models.Consultation, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		r.logger.Warn("Consultation requested by another user",
			zap.String("consultation_id", id),
			zap.String("user_id", userID))
		return nil, ErrNotOwner
	}
	return c, nil
}

// ListByUser returns the newest consultations owned by userID, limited to
// the first page of storage.DefaultPageSize records.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]models.Consultation, error) {
	recs, err := r.gw.List(ctx, r.collection, storage.ListOptions{
		Filter:  storage.Filter{Field: "userId", Value: userID},
		Sort:    storage.NewestFirst,
		PerPage: storage.DefaultPageSize,
	})
	if err != nil {
		r.logger.Error("Failed to fetch consultations", zap.Error(err), zap.String("user_id", userID))
		return nil, err
	}

	out := make([]models.Consultation, 0, len(recs))
	for _, rec := range recs {
		c, err := r.decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func (r *Repository) Update(ctx context.Context, id string, upd Update) (*models.Consultation, error) {
	rec, err := r.gw.Update(ctx, r.collection, id, upd.record())
	if err != nil {
		r.logger.Error("Failed to update consultation", zap.Error(err), zap.String("consultation_id", id))
		return nil, err
	}
	return r.decode(rec)
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.gw.Delete(ctx, r.collection, id); err != nil {
		r.logger.Error("Failed to delete consultation", zap.Error(err), zap.String("consultation_id", id))
		return err
	}
	return nil
}

func (r *Repository) decode(rec storage.Record) (*models.Consultation, error) {
	var c models.Consultation
	if err := storage.Decode(rec, &c); err != nil {
		return nil, fmt.Errorf("consultation %s: %w", rec.ID(), err)
	}
	return &c, nil
}
