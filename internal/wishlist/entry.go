package wishlist

import (
	"context"
	"errors"

	"finitefield.org/bookfinder/internal/catalog"
)

var (
	// ErrPersistence wraps every read or write failure of the wishlist
	// collection.
	ErrPersistence = errors.New("wishlist: persistence failure")
	// ErrNoIdentity is returned by Store.Add when there is no signed-in owner.
	// Nothing is persisted in that case.
	ErrNoIdentity = errors.New("wishlist: no active identity")
)

// Entry is a saved book owned by one identity. Entries are never updated or
// deleted.
type Entry struct {
	ID       string
	Title    string
	Author   string
	ImageURL string
	OwnerID  string
}

// EntryFromBook copies the book fields into an entry owned by ownerID.
func EntryFromBook(ownerID string, book catalog.Book) Entry {
	return Entry{
		Title:    book.Title,
		Author:   book.Author,
		ImageURL: book.ImageURL,
		OwnerID:  ownerID,
	}
}

// Repository persists entries.
type Repository interface {
	FindByOwner(ctx context.Context, ownerID string) ([]Entry, error)
	Insert(ctx context.Context, entry Entry) (string, error)
}
