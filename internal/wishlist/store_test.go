package wishlist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"finitefield.org/bookfinder/internal/catalog"
	"finitefield.org/bookfinder/internal/platform/events"
	"finitefield.org/bookfinder/internal/platform/observability"
)

type fakeRepo struct {
	entries   []Entry
	findErr   error
	insertErr error
	inserts   []Entry
	finds     []string
}

func (f *fakeRepo) FindByOwner(_ context.Context, ownerID string) ([]Entry, error) {
	f.finds = append(f.finds, ownerID)
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.entries, nil
}

func (f *fakeRepo) Insert(_ context.Context, entry Entry) (string, error) {
	f.inserts = append(f.inserts, entry)
	if f.insertErr != nil {
		return "", f.insertErr
	}
	return "doc-1", nil
}

type fakePublisher struct {
	events []events.WishlistAdded
	err    error
}

func (f *fakePublisher) PublishWishlistAdded(_ context.Context, event events.WishlistAdded) (string, error) {
	f.events = append(f.events, event)
	return "msg-1", f.err
}

func observedContext() (context.Context, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return observability.WithLogger(context.Background(), zap.New(core)), logs
}

var dune = catalog.Book{ID: 3, ImageURL: "https://covers.example/b/id/7-M.jpg", Title: "Dune", Author: "Frank Herbert"}

func TestStoreLoadScopesToOwner(t *testing.T) {
	repo := &fakeRepo{entries: []Entry{{ID: "a", Title: "Dune", OwnerID: "u1"}}}
	store, err := NewStore(repo)
	require.NoError(t, err)

	entries := store.Load(context.Background(), "u1")
	require.Len(t, entries, 1)
	require.Equal(t, []string{"u1"}, repo.finds)
}

func TestStoreLoadWithoutOwnerSkipsQuery(t *testing.T) {
	repo := &fakeRepo{}
	store, err := NewStore(repo)
	require.NoError(t, err)

	require.Empty(t, store.Load(context.Background(), " "))
	require.Empty(t, repo.finds)
}

func TestStoreLoadFailureLogsAndReturnsEmpty(t *testing.T) {
	repo := &fakeRepo{findErr: errors.New("unavailable")}
	store, err := NewStore(repo)
	require.NoError(t, err)

	ctx, logs := observedContext()
	entries := store.Load(ctx, "u1")
	require.NotNil(t, entries)
	require.Empty(t, entries)
	require.Equal(t, 1, logs.FilterMessage("wishlist load failed").Len())
}

func TestStoreAddWithoutIdentityDoesNothing(t *testing.T) {
	repo := &fakeRepo{}
	pub := &fakePublisher{}
	store, err := NewStore(repo, WithPublisher(pub))
	require.NoError(t, err)

	_, err = store.Add(context.Background(), "", dune)
	require.ErrorIs(t, err, ErrNoIdentity)
	require.Empty(t, repo.inserts)
	require.Empty(t, pub.events)
}

func TestStoreAddPersistsAndPublishes(t *testing.T) {
	repo := &fakeRepo{}
	pub := &fakePublisher{}
	fixed := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	store, err := NewStore(repo, WithPublisher(pub), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	entry, err := store.Add(context.Background(), "u1", dune)
	require.NoError(t, err)
	require.Equal(t, Entry{ID: "doc-1", Title: "Dune", Author: "Frank Herbert", ImageURL: dune.ImageURL, OwnerID: "u1"}, entry)
	require.Equal(t, []Entry{{Title: "Dune", Author: "Frank Herbert", ImageURL: dune.ImageURL, OwnerID: "u1"}}, repo.inserts)

	require.Len(t, pub.events, 1)
	require.Equal(t, events.WishlistAdded{
		EntryID:    "doc-1",
		UserID:     "u1",
		Title:      "Dune",
		Author:     "Frank Herbert",
		Image:      dune.ImageURL,
		OccurredAt: fixed,
	}, pub.events[0])
}

func TestStoreAddFailureIsPersistenceError(t *testing.T) {
	repo := &fakeRepo{insertErr: errors.New("permission denied")}
	pub := &fakePublisher{}
	store, err := NewStore(repo, WithPublisher(pub))
	require.NoError(t, err)

	ctx, logs := observedContext()
	_, err = store.Add(ctx, "u1", dune)
	require.ErrorIs(t, err, ErrPersistence)
	require.Empty(t, pub.events)
	require.Equal(t, 1, logs.FilterMessage("wishlist add failed").Len())
}

func TestStoreAddPublishFailureIsNotAnError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("topic not found")}
	store, err := NewStore(&fakeRepo{}, WithPublisher(pub))
	require.NoError(t, err)

	ctx, logs := observedContext()
	_, err = store.Add(ctx, "u1", dune)
	require.NoError(t, err)
	require.Equal(t, 1, logs.FilterMessage("wishlist event publish failed").Len())
}

func TestNewStoreRequiresRepository(t *testing.T) {
	_, err := NewStore(nil)
	require.Error(t, err)
}
