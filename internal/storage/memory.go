package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xaenox/cara/internal/models"
)

// MemoryStorage keeps records in process memory.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[string]map[string]*memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	id      string
	fields  Record
	created time.Time
	updated time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]map[string]*memoryRecord),
		now:     time.Now,
	}
}

func (r *memoryRecord) toRecord(collection string) Record {
	out := make(Record, len(r.fields)+4)
	for k, v := range r.fields {
		out[k] = v
	}
	out["id"] = r.id
	out["collectionName"] = collection
	out["created"] = models.NewDateTime(r.created).String()
	out["updated"] = models.NewDateTime(r.updated).String()
	return out
}

func (s *MemoryStorage) Create(ctx context.Context, collection string, fields Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, networkError("create", collection, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := &memoryRecord{
		id:      NewID(),
		fields:  userFields(fields),
		created: now,
		updated: now,
	}
	if s.records[collection] == nil {
		s.records[collection] = make(map[string]*memoryRecord)
	}
	s.records[collection][rec.id] = rec
	return rec.toRecord(collection), nil
}

func (s *MemoryStorage) GetOne(ctx context.Context, collection, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, networkError("get", collection, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[collection][id]
	if !ok {
		return nil, newError("get", collection, ErrNotFound, "id "+id)
	}
	return rec.toRecord(collection), nil
}

func (s *MemoryStorage) List(ctx context.Context, collection string, opts ListOptions) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, networkError("list", collection, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*memoryRecord, 0, len(s.records[collection]))
	for _, rec := range s.records[collection] {
		if !opts.Filter.IsZero() && fieldString(rec.fields, opts.Filter.Field) != opts.Filter.Value {
			continue
		}
		matched = append(matched, rec)
	}

	sort.Slice(matched, func(i, j int) bool {
		return lessRecord(matched[i], matched[j], opts.Sort)
	})

	if len(matched) > opts.pageSize() {
		matched = matched[:opts.pageSize()]
	}

	out := make([]Record, 0, len(matched))
	for _, rec := range matched {
		out = append(out, rec.toRecord(collection))
	}
	return out, nil
}

func lessRecord(a, b *memoryRecord, s Sort) bool {
	var cmp int
	switch s.Field {
	case "", "created":
		cmp = a.created.Compare(b.created)
	case "updated":
		cmp = a.updated.Compare(b.updated)
	case "id":
	default:
		cmp = strings.Compare(fieldString(a.fields, s.Field), fieldString(b.fields, s.Field))
	}
	if cmp == 0 {
		cmp = strings.Compare(a.id, b.id)
	}
	if s.Desc {
		return cmp > 0
	}
	return cmp < 0
}

func (s *MemoryStorage) Update(ctx context.Context, collection, id string, fields Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, networkError("update", collection, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[collection][id]
	if !ok {
		return nil, newError("update", collection, ErrNotFound, "id "+id)
	}
	for k, v := range userFields(fields) {
		rec.fields[k] = v
	}
	rec.updated = s.now()
	return rec.toRecord(collection), nil
}

func (s *MemoryStorage) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return networkError("delete", collection, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[collection][id]; !ok {
		return newError("delete", collection, ErrNotFound, "id "+id)
	}
	delete(s.records[collection], id)
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

var _ Gateway = (*MemoryStorage)(nil)
