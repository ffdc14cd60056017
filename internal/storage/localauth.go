package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xaenox/cara/internal/models"
	"golang.org/x/crypto/bcrypt"
)

const passwordHashField = "passwordHash"

// LocalAuth authenticates users stored in a Gateway collection. It backs
// the postgres and memory drivers, which have no auth service of their own.
type LocalAuth struct {
	gw         Gateway
	collection string
	secret     []byte
	ttl        time.Duration
	now        func() time.Time
}

func NewLocalAuth(gw Gateway, collection string, secret []byte, ttl time.Duration) (*LocalAuth, error) {
	if collection == "" {
		collection = "users"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generating token secret: %w", err)
		}
	}
	return &LocalAuth{
		gw:         gw,
		collection: collection,
		secret:     secret,
		ttl:        ttl,
		now:        time.Now,
	}, nil
}

func (a *LocalAuth) findByEmail(ctx context.Context, email string) (Record, error) {
	recs, err := a.gw.List(ctx, a.collection, ListOptions{
		Filter:  Filter{Field: "email", Value: strings.ToLower(strings.TrimSpace(email))},
		PerPage: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

func (a *LocalAuth) AuthWithPassword(ctx context.Context, email, password string) (*AuthResult, error) {
	rec, err := a.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, newError("auth", a.collection, ErrAccountNotFound, "no account for "+email)
	}

	hash := fieldString(rec, passwordHashField)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, newError("auth", a.collection, ErrValidation, "invalid credentials")
	}
	return a.issue(rec)
}

func (a *LocalAuth) CreateUser(ctx context.Context, email, password, name string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, newError("create", a.collection, ErrValidation, "email and password are required")
	}

	existing, err := a.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, newError("create", a.collection, ErrValidation, "email already in use")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	rec, err := a.gw.Create(ctx, a.collection, Record{
		"email":           email,
		"name":            name,
		"verified":        false,
		passwordHashField: string(hash),
	})
	if err != nil {
		return nil, err
	}
	return decodeUser(rec)
}

func (a *LocalAuth) RefreshAuth(ctx context.Context, token string) (*AuthResult, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, newError("refresh", a.collection, ErrValidation, err.Error())
	}

	rec, err := a.gw.GetOne(ctx, a.collection, claims.Subject)
	if err != nil {
		return nil, err
	}
	return a.issue(rec)
}

func (a *LocalAuth) issue(rec Record) (*AuthResult, error) {
	user, err := decodeUser(rec)
	if err != nil {
		return nil, err
	}

	now := a.now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}
	return &AuthResult{Token: token, User: user}, nil
}

func decodeUser(rec Record) (*models.User, error) {
	var user models.User
	if err := Decode(rec, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, errors.New("user record has no id")
	}
	return &user, nil
}

var _ Authenticator = (*LocalAuth)(nil)
