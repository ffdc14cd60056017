package session

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xaenox/cara/internal/models"
)

// AuthStore holds the bearer token and the user model it belongs to.
// Listeners registered with OnChange run after every Save and Clear.
type AuthStore struct {
	mu        sync.RWMutex
	token     string
	user      *models.User
	listeners map[int]func(token string, user *models.User)
	nextID    int
	now       func() time.Time
}

func NewAuthStore() *AuthStore {
	return &AuthStore{
		listeners: make(map[int]func(string, *models.User)),
		now:       time.Now,
	}
}

func (s *AuthStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *AuthStore) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// IsValid reports whether a token is present and its exp claim, when set,
// lies in the future. The signature is not checked; that is the server's job.
func (s *AuthStore) IsValid() bool {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return s.now().Before(claims.ExpiresAt.Time)
}

func (s *AuthStore) Save(token string, user *models.User) {
	s.mu.Lock()
	s.token = token
	if user != nil {
		u := *user
		s.user = &u
	} else {
		s.user = nil
	}
	s.mu.Unlock()

	s.notify()
}

func (s *AuthStore) Clear() {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.mu.Unlock()

	s.notify()
}

// OnChange registers fn and returns a function that removes it.
func (s *AuthStore) OnChange(fn func(token string, user *models.User)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *AuthStore) notify() {
	s.mu.RLock()
	token := s.token
	var user *models.User
	if s.user != nil {
		u := *s.user
		user = &u
	}
	listeners := make([]func(string, *models.User), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(token, user)
	}
}
