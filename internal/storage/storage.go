package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xaenox/cara/internal/models"
)

// DefaultPageSize bounds every List call. Only the first page is ever
// fetched; there is no cursor continuation.
const DefaultPageSize = 50

// Record is a raw backing-store record keyed by field name.
type Record map[string]any

// ID returns the record identifier, or "" when absent.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Gateway translates CRUD calls to a record store keyed by collection name.
// Every call is single-shot: no caching, no retry.
type Gateway interface {
	Create(ctx context.Context, collection string, fields Record) (Record, error)
	GetOne(ctx context.Context, collection, id string) (Record, error)
	List(ctx context.Context, collection string, opts ListOptions) ([]Record, error)
	Update(ctx context.Context, collection, id string, fields Record) (Record, error)
	Delete(ctx context.Context, collection, id string) error
	Close() error
}

// Filter is a single equality predicate: field = "value".
type Filter struct {
	Field string
	Value string
}

func (f Filter) IsZero() bool {
	return f.Field == ""
}

// Expression renders the filter in the backing store's filter syntax.
func (f Filter) Expression() string {
	if f.IsZero() {
		return ""
	}
	value := strings.ReplaceAll(f.Value, `\`, `\\`)
	value = strings.ReplaceAll(value, `"`, `\"`)
	return fmt.Sprintf(`%s = "%s"`, f.Field, value)
}

type Sort struct {
	Field string
	Desc  bool
}

// Expression renders the sort as "-field" for descending order.
func (s Sort) Expression() string {
	if s.Field == "" {
		return ""
	}
	if s.Desc {
		return "-" + s.Field
	}
	return s.Field
}

// NewestFirst sorts by creation time, descending.
var NewestFirst = Sort{Field: "created", Desc: true}

type ListOptions struct {
	Filter  Filter
	Sort    Sort
	PerPage int
}

func (o ListOptions) pageSize() int {
	if o.PerPage <= 0 || o.PerPage > DefaultPageSize {
		return DefaultPageSize
	}
	return o.PerPage
}

// TokenSource supplies the bearer token attached to store requests.
type TokenSource interface {
	Token() string
}

// AuthResult is the outcome of a password or refresh grant.
type AuthResult struct {
	Token string
	User  *models.User
}

// Authenticator establishes sessions against the users collection.
type Authenticator interface {
	AuthWithPassword(ctx context.Context, email, password string) (*AuthResult, error)
	CreateUser(ctx context.Context, email, password, name string) (*models.User, error)
	RefreshAuth(ctx context.Context, token string) (*AuthResult, error)
}

// Decode converts a record into a typed model.
func Decode(rec Record, out any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return nil
}

// Encode converts a typed value into record fields.
func Encode(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding fields: %w", err)
	}
	rec := Record{}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding fields: %w", err)
	}
	return rec, nil
}

// systemFields are assigned by the store and never accepted from callers.
var systemFields = []string{"id", "created", "updated", "collectionId", "collectionName"}

func userFields(fields Record) Record {
	out := make(Record, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	for _, k := range systemFields {
		delete(out, k)
	}
	return out
}

func fieldString(rec Record, field string) string {
	switch v := rec[field].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
