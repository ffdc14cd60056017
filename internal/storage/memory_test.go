package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorageCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	rec, err := s.Create(ctx, "consultations", Record{"topic": "GDPR", "userId": "u1"})
	require.NoError(t, err)
	id := rec.ID()
	require.NotEmpty(t, id)
	assert.NotEmpty(t, rec["created"])

	got, err := s.GetOne(ctx, "consultations", id)
	require.NoError(t, err)
	assert.Equal(t, "GDPR", got["topic"])

	updated, err := s.Update(ctx, "consultations", id, Record{"status": "completed", "id": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "completed", updated["status"])
	assert.Equal(t, id, updated.ID())

	require.NoError(t, s.Delete(ctx, "consultations", id))
	_, err = s.GetOne(ctx, "consultations", id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "consultations", id), ErrNotFound)
}

func TestMemoryStorageListFiltersSortsAndCaps(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for i := 0; i < 60; i++ {
		_, err := s.Create(ctx, "consultations", Record{"topic": fmt.Sprintf("t%d", i), "userId": "u1"})
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, "consultations", Record{"topic": "other", "userId": "u2"})
	require.NoError(t, err)

	recs, err := s.List(ctx, "consultations", ListOptions{
		Filter: Filter{Field: "userId", Value: "u1"},
		Sort:   NewestFirst,
	})
	require.NoError(t, err)
	require.Len(t, recs, DefaultPageSize)
	assert.Equal(t, "t59", recs[0]["topic"])
	for _, rec := range recs {
		assert.Equal(t, "u1", rec["userId"])
	}
}

func TestMemoryStorageHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryStorage().List(ctx, "consultations", ListOptions{})
	assert.ErrorIs(t, err, ErrNetwork)
}
