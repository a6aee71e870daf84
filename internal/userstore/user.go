package userstore

import (
	"context"
	"errors"
	"time"
)

// ErrEmailTaken is returned by Create when the email is already registered.
var ErrEmailTaken = errors.New("userstore: email already registered")

// User represents a registered chat account.
type User struct {
	ID             int64
	Email          string
	HashedPassword string
	CreatedAt      time.Time
}

// Store persists chat users across SQLite/Postgres backends.
//
// Find methods return (nil, nil) when no user matches.
type Store interface {
	Create(ctx context.Context, email, hashedPassword string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	Close() error
}
