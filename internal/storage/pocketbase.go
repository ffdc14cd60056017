package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/xaenox/cara/internal/models"
	"go.uber.org/zap"
)

// PocketBase talks to a PocketBase instance over its REST API.
type PocketBase struct {
	client          *resty.Client
	usersCollection string
	logger          *zap.Logger
}

type PocketBaseConfig struct {
	BaseURL         string
	Timeout         time.Duration
	UsersCollection string
}

type apiError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

type listResponse struct {
	Page       int      `json:"page"`
	PerPage    int      `json:"perPage"`
	TotalItems int      `json:"totalItems"`
	TotalPages int      `json:"totalPages"`
	Items      []Record `json:"items"`
}

type authResponse struct {
	Token  string      `json:"token"`
	Record models.User `json:"record"`
}

func NewPocketBase(cfg PocketBaseConfig, tokens TokenSource, logger *zap.Logger) *PocketBase {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UsersCollection == "" {
		cfg.UsersCollection = "users"
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)

	client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if tokens == nil || r.Header.Get("Authorization") != "" {
			return nil
		}
		if token := tokens.Token(); token != "" {
			r.SetHeader("Authorization", token)
		}
		return nil
	})

	return &PocketBase{
		client:          client,
		usersCollection: cfg.UsersCollection,
		logger:          logger,
	}
}

func recordsPath(collection string) string {
	return fmt.Sprintf("/api/collections/%s/records", url.PathEscape(collection))
}

func recordPath(collection, id string) string {
	return recordsPath(collection) + "/" + url.PathEscape(id)
}

func (p *PocketBase) Create(ctx context.Context, collection string, fields Record) (Record, error) {
	var rec Record
	err := p.do(ctx, "create", collection, p.client.R().SetBody(userFields(fields)), http.MethodPost, recordsPath(collection), &rec)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *PocketBase) GetOne(ctx context.Context, collection, id string) (Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, newError("get", collection, ErrNotFound, "empty id")
	}
	var rec Record
	if err := p.do(ctx, "get", collection, p.client.R(), http.MethodGet, recordPath(collection, id), &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *PocketBase) List(ctx context.Context, collection string, opts ListOptions) ([]Record, error) {
	query := map[string]string{
		"page":    "1",
		"perPage": strconv.Itoa(opts.pageSize()),
	}
	if expr := opts.Filter.Expression(); expr != "" {
		query["filter"] = expr
	}
	if expr := opts.Sort.Expression(); expr != "" {
		query["sort"] = expr
	}

	var resp listResponse
	if err := p.do(ctx, "list", collection, p.client.R().SetQueryParams(query), http.MethodGet, recordsPath(collection), &resp); err != nil {
		return nil, err
	}
	if resp.TotalPages > 1 {
		p.logger.Debug("List truncated to first page",
			zap.String("collection", collection),
			zap.Int("total_items", resp.TotalItems),
			zap.Int("per_page", resp.PerPage))
	}
	if resp.Items == nil {
		return []Record{}, nil
	}
	return resp.Items, nil
}

func (p *PocketBase) Update(ctx context.Context, collection, id string, fields Record) (Record, error) {
	var rec Record
	err := p.do(ctx, "update", collection, p.client.R().SetBody(userFields(fields)), http.MethodPatch, recordPath(collection, id), &rec)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *PocketBase) Delete(ctx context.Context, collection, id string) error {
	return p.do(ctx, "delete", collection, p.client.R(), http.MethodDelete, recordPath(collection, id), nil)
}

func (p *PocketBase) Close() error {
	return nil
}

func (p *PocketBase) AuthWithPassword(ctx context.Context, email, password string) (*AuthResult, error) {
	body := map[string]string{"identity": email, "password": password}
	path := fmt.Sprintf("/api/collections/%s/auth-with-password", url.PathEscape(p.usersCollection))

	var resp authResponse
	err := p.do(ctx, "auth", p.usersCollection, p.client.R().SetBody(body), http.MethodPost, path, &resp)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: resp.Token, User: &resp.Record}, nil
}

func (p *PocketBase) CreateUser(ctx context.Context, email, password, name string) (*models.User, error) {
	rec, err := p.Create(ctx, p.usersCollection, Record{
		"email":           email,
		"password":        password,
		"passwordConfirm": password,
		"name":            name,
	})
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := Decode(rec, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (p *PocketBase) RefreshAuth(ctx context.Context, token string) (*AuthResult, error) {
	path := fmt.Sprintf("/api/collections/%s/auth-refresh", url.PathEscape(p.usersCollection))

	var resp authResponse
	err := p.do(ctx, "refresh", p.usersCollection, p.client.R().SetHeader("Authorization", token), http.MethodPost, path, &resp)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: resp.Token, User: &resp.Record}, nil
}

func (p *PocketBase) do(ctx context.Context, op, collection string, req *resty.Request, method, path string, out any) error {
	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		p.logger.Error("Store request failed",
			zap.Error(err),
			zap.String("op", op),
			zap.String("collection", collection))
		return networkError(op, collection, err)
	}

	if resp.IsError() {
		var apiErr apiError
		_ = json.Unmarshal(resp.Body(), &apiErr)

		kind := kindForStatus(resp.StatusCode())
		if op == "auth" && kind == ErrValidation {
			kind = ErrAccountNotFound
		}
		p.logger.Warn("Store returned error",
			zap.String("op", op),
			zap.String("collection", collection),
			zap.Int("status", resp.StatusCode()),
			zap.String("message", apiErr.Message))
		return &Error{
			Op:         op,
			Collection: collection,
			Status:     resp.StatusCode(),
			Message:    apiErr.Message,
			Kind:       kind,
		}
	}

	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return networkError(op, collection, fmt.Errorf("parsing response: %w", err))
	}
	return nil
}

var (
	_ Gateway       = (*PocketBase)(nil)
	_ Authenticator = (*PocketBase)(nil)
)
