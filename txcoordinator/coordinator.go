/*
Package txcoordinator guarantees that at most one logical transaction id is
active system wide.
*/
package txcoordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrTransactionActive = errors.New("another transaction is active")
	ErrNotCurrent        = errors.New("transaction is not the current transaction")
)

/*
Coordinator allocates and validates the system wide transaction id.
*/
type Coordinator interface {
	// Begin allocates new transaction id for "owner". Blocks until the
	// current transaction is released or ctx is cancelled.
	Begin(ctx context.Context, owner string) (uuid.UUID, error)
	// IsCurrent returns true when "id" is the active transaction.
	IsCurrent(id uuid.UUID) bool
	Release(id uuid.UUID) error
}

/*
InMemory is process local implementation of the Coordinator.
*/
type InMemory struct {
	mu      sync.Mutex
	current uuid.UUID
	owner   string
	// closed and replaced on each release, waiters of Begin block on it
	released chan struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{released: make(chan struct{})}
}

func (c *InMemory) Begin(ctx context.Context, owner string) (uuid.UUID, error) {
	for {
		c.mu.Lock()
		if c.current == uuid.Nil {
			id, err := uuid.NewRandom()
			if err != nil {
				c.mu.Unlock()
				return uuid.Nil, fmt.Errorf("generating transaction id: %w", err)
			}
			c.current = id
			c.owner = owner
			c.mu.Unlock()
			return id, nil
		}
		released := c.released
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return uuid.Nil, fmt.Errorf("waiting for transaction %s to be released: %w", c.Current(), ErrTransactionActive)
		case <-released:
		}
	}
}

/*
TryBegin allocates new transaction id without waiting, ErrTransactionActive
is returned when another transaction is active.
*/
func (c *InMemory) TryBegin(owner string) (uuid.UUID, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return c.Begin(ctx, owner)
}

func (c *InMemory) IsCurrent(id uuid.UUID) bool {
	if id == uuid.Nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == id
}

// Current returns the active transaction id, uuid.Nil when there is none.
func (c *InMemory) Current() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Owner returns the owner of the active transaction.
func (c *InMemory) Owner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

func (c *InMemory) Release(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == uuid.Nil || c.current != id {
		return fmt.Errorf("releasing %s: %w", id, ErrNotCurrent)
	}
	c.current = uuid.Nil
	c.owner = ""
	close(c.released)
	c.released = make(chan struct{})
	return nil
}
