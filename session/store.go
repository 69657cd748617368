package session

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Store.Load for an unknown session name.
	ErrNotFound = errors.New("session not found")
	// ErrStoreClosed is returned after Store.Close.
	ErrStoreClosed = errors.New("session store is closed")
	// ErrInvalidName rejects names that cannot be used as a storage key.
	ErrInvalidName = errors.New("invalid session name")
)

// Store persists session data by name. Implementations must be safe for
// concurrent use.
type Store interface {
	// Load returns ErrNotFound when no session with that name exists.
	Load(ctx context.Context, name string) (*Data, error)
	// Save replaces the stored session wholesale.
	Save(ctx context.Context, name string, data *Data) error
	// Delete removes the session. Deleting an unknown name is not an error.
	Delete(ctx context.Context, name string) error
	// List returns stored session names in ascending order.
	List(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}
