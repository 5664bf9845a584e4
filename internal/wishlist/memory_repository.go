package wishlist

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
)

// MemoryRepository keeps entries in process memory, in insertion order.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) FindByOwner(ctx context.Context, ownerID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for _, entry := range r.entries {
		if entry.OwnerID == ownerID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *MemoryRepository) Insert(ctx context.Context, entry Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	entry.ID = ulid.Make().String()

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return entry.ID, nil
}
