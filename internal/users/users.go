// Package users stores accounts in a table and verifies their passwords.
package users

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maruel/ksid"
	"github.com/maruel/recdb/internal/jsonldb"
	"github.com/maruel/recdb/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUserExists is returned when creating a user whose name is taken.
	ErrUserExists = errors.New("user already exists")
	// ErrNotFound is returned when no user has the requested name.
	ErrNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned by Authenticate on a bad name or
	// password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Record fields.
const (
	FieldID           = "id"
	FieldUsername     = "username"
	FieldPasswordHash = "password_hash"
	FieldCreated      = "created"
	FieldModified     = "modified"
)

// Repo handles user management and authentication.
type Repo struct {
	repository.Base

	// mu serializes the check-then-write sequences below.
	mu sync.Mutex
}

// New opens the users table at path through reg.
func New(reg *jsonldb.Registry, path string) (*Repo, error) {
	b, err := repository.NewBase(reg, path, FieldID)
	if err != nil {
		return nil, err
	}
	return &Repo{Base: b}, nil
}

// Create adds a user and returns it without its password hash.
func (r *Repo) Create(username, password string) (jsonldb.Record, error) {
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found, err := r.Table().FindFirstBy(FieldUsername, username); err != nil {
		return nil, err
	} else if found {
		return nil, ErrUserExists
	}
	now := time.Now().UTC()
	rec := jsonldb.Record{
		FieldID:           ksid.NewID().String(),
		FieldUsername:     username,
		FieldPasswordHash: string(hash),
		FieldCreated:      now,
		FieldModified:     now,
	}
	if err := r.Table().Insert(rec); err != nil {
		return nil, err
	}
	return redact(rec), nil
}

// FindByUsername returns the user without its password hash.
func (r *Repo) FindByUsername(username string) (jsonldb.Record, error) {
	rec, err := r.find(username)
	if err != nil {
		return nil, err
	}
	return redact(rec), nil
}

// Authenticate verifies user credentials.
func (r *Repo) Authenticate(username, password string) (jsonldb.Record, error) {
	rec, err := r.find(username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	} else if err != nil {
		return nil, err
	}
	hash, _ := rec[FieldPasswordHash].(string)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return redact(rec), nil
}

// SetPassword replaces the password of username.
func (r *Repo) SetPassword(username, password string) error {
	if password == "" {
		return errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.find(username)
	if err != nil {
		return err
	}
	return r.Table().Update(jsonldb.Record{
		FieldID:           rec[FieldID],
		FieldPasswordHash: string(hash),
		FieldModified:     time.Now().UTC(),
	})
}

// Delete removes username.
func (r *Repo) Delete(username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.find(username)
	if err != nil {
		return err
	}
	return r.Table().Delete(rec[FieldID])
}

// List returns every user without password hashes.
func (r *Repo) List() ([]jsonldb.Record, error) {
	rows, err := r.Table().All()
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i] = redact(rows[i])
	}
	return rows, nil
}

func (r *Repo) find(username string) (jsonldb.Record, error) {
	rec, found, err := r.Table().FindFirstBy(FieldUsername, username)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return rec, nil
}

func redact(rec jsonldb.Record) jsonldb.Record {
	out := rec.Clone()
	delete(out, FieldPasswordHash)
	return out
}
