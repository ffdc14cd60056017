package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xaenox/cara/internal/models"
	"github.com/xaenox/cara/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type State int

const (
	StateInitializing State = iota
	StateAuthenticated
	StateUnauthenticated
	StateError
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Credentials is the fixed account used for automatic login.
type Credentials struct {
	Email    string
	Password string
	Name     string
}

// AuthError reports that no session could be established.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed during %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ErrNoSession is returned by components that need a signed-in user.
var ErrNoSession = errors.New("no active session")

// Holder owns the process-wide session. It is created once and passed to
// every component that needs the current user.
type Holder struct {
	auth   storage.Authenticator
	store  *AuthStore
	creds  Credentials
	logger *zap.Logger
	group  singleflight.Group

	mu          sync.RWMutex
	state       State
	err         error
	initialized bool
	subs        map[int]func(*models.User)
	nextSubID   int
	unsubscribe func()
}

func NewHolder(auth storage.Authenticator, store *AuthStore, creds Credentials, logger *zap.Logger) *Holder {
	h := &Holder{
		auth:   auth,
		store:  store,
		creds:  creds,
		logger: logger,
		state:  StateInitializing,
		subs:   make(map[int]func(*models.User)),
	}
	h.unsubscribe = store.OnChange(h.onStoreChange)
	return h
}

// Init establishes the session. It runs once per Holder; concurrent and
// later callers share the outcome of the first attempt.
func (h *Holder) Init(ctx context.Context) error {
	h.mu.RLock()
	if h.initialized {
		err := h.err
		h.mu.RUnlock()
		return err
	}
	h.mu.RUnlock()

	_, err, _ := h.group.Do("init", func() (any, error) {
		return nil, h.initialize(ctx)
	})
	return err
}

func (h *Holder) initialize(ctx context.Context) error {
	h.mu.Lock()
	if h.initialized {
		err := h.err
		h.mu.Unlock()
		return err
	}
	h.state = StateInitializing
	h.mu.Unlock()

	user, err := h.establish(ctx)

	h.mu.Lock()
	h.initialized = true
	if err != nil {
		h.state = StateError
		h.err = err
	} else {
		h.state = StateAuthenticated
		h.err = nil
	}
	h.mu.Unlock()

	if err != nil {
		h.logger.Error("Authentication initialization failed", zap.Error(err))
		return err
	}
	h.logger.Info("Session established", zap.String("user_id", user.ID), zap.String("email", user.Email))
	return nil
}

func (h *Holder) establish(ctx context.Context) (*models.User, error) {
	if h.store.IsValid() {
		if user := h.store.User(); user != nil {
			h.logger.Info("User already authenticated", zap.String("email", user.Email))
			return user, nil
		}
	}

	res, err := h.auth.AuthWithPassword(ctx, h.creds.Email, h.creds.Password)
	if err == nil {
		h.store.Save(res.Token, res.User)
		return res.User, nil
	}

	if !errors.Is(err, storage.ErrAccountNotFound) {
		return nil, &AuthError{Op: "login", Err: err}
	}

	h.logger.Info("Account not found, attempting to create", zap.String("email", h.creds.Email))
	if _, err := h.auth.CreateUser(ctx, h.creds.Email, h.creds.Password, h.creds.Name); err != nil {
		return nil, &AuthError{Op: "account creation", Err: err}
	}

	res, err = h.auth.AuthWithPassword(ctx, h.creds.Email, h.creds.Password)
	if err != nil {
		return nil, &AuthError{Op: "login after account creation", Err: err}
	}
	h.store.Save(res.Token, res.User)
	return res.User, nil
}

// Retry re-runs initialization after a failure or a logout. It is a no-op
// while initializing or authenticated.
func (h *Holder) Retry(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateError && h.state != StateUnauthenticated {
		err := h.err
		h.mu.Unlock()
		return err
	}
	h.initialized = false
	h.err = nil
	h.state = StateInitializing
	h.mu.Unlock()

	return h.Init(ctx)
}

// Refresh renews the token. A failure is logged and leaves the session as is.
func (h *Holder) Refresh(ctx context.Context) error {
	token := h.store.Token()
	if token == "" || !h.IsAuthenticated() {
		return ErrNoSession
	}

	res, err := h.auth.RefreshAuth(ctx, token)
	if err != nil {
		h.logger.Warn("Failed to refresh auth", zap.Error(err))
		return &AuthError{Op: "refresh", Err: err}
	}
	h.store.Save(res.Token, res.User)
	return nil
}

// Logout clears the session locally. No network call is made.
func (h *Holder) Logout() {
	h.mu.Lock()
	h.state = StateUnauthenticated
	h.err = nil
	h.mu.Unlock()

	h.store.Clear()
	h.logger.Info("User logged out")
}

func (h *Holder) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Err returns the error that moved the holder into StateError.
func (h *Holder) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

func (h *Holder) CurrentUser() *models.User {
	if h.State() != StateAuthenticated {
		return nil
	}
	return h.store.User()
}

func (h *Holder) IsAuthenticated() bool {
	return h.CurrentUser() != nil
}

// UserID returns the current user's id, or ErrNoSession.
func (h *Holder) UserID() (string, error) {
	user := h.CurrentUser()
	if user == nil || user.ID == "" {
		return "", ErrNoSession
	}
	return user.ID, nil
}

// Subscribe registers fn to receive the current user whenever the session
// token changes. The returned function removes the subscription.
func (h *Holder) Subscribe(fn func(*models.User)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	h.subs[id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

func (h *Holder) onStoreChange(token string, user *models.User) {
	h.mu.Lock()
	switch {
	case user == nil && h.state == StateAuthenticated:
		h.state = StateUnauthenticated
	case user != nil && token != "":
		h.state = StateAuthenticated
	}
	subs := make([]func(*models.User), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(user)
	}
}

// Close detaches the holder from its AuthStore.
func (h *Holder) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
}
