package wishlist

import (
	"context"

	"cloud.google.com/go/firestore"

	pfirestore "finitefield.org/bookfinder/internal/platform/firestore"
)

// DefaultCollection is the Firestore collection holding wishlist documents.
const DefaultCollection = "wishlist"

// document mirrors the stored shape. The capitalised "Image" key predates
// this service and is kept for compatibility with existing documents.
type document struct {
	Title  string `firestore:"title"`
	Author string `firestore:"author"`
	Image  string `firestore:"Image"`
	UserID string `firestore:"userId"`
}

// FirestoreRepository stores entries in a Firestore collection.
type FirestoreRepository struct {
	base *pfirestore.BaseRepository[document]
}

// NewFirestoreRepository binds the repository to collection, defaulting to
// DefaultCollection.
func NewFirestoreRepository(source pfirestore.ClientSource, collection string) *FirestoreRepository {
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestoreRepository{base: pfirestore.NewBaseRepository[document](source, collection)}
}

// FindByOwner returns the entries whose userId equals ownerID.
func (r *FirestoreRepository) FindByOwner(ctx context.Context, ownerID string) ([]Entry, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", ownerID)
	})
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, Entry{
			ID:       doc.ID,
			Title:    doc.Data.Title,
			Author:   doc.Data.Author,
			ImageURL: doc.Data.Image,
			OwnerID:  doc.Data.UserID,
		})
	}
	return entries, nil
}

// Insert adds a document with a store-assigned id.
func (r *FirestoreRepository) Insert(ctx context.Context, entry Entry) (string, error) {
	return r.base.Add(ctx, document{
		Title:  entry.Title,
		Author: entry.Author,
		Image:  entry.ImageURL,
		UserID: entry.OwnerID,
	})
}
