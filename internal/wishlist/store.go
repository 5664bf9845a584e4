package wishlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"finitefield.org/bookfinder/internal/catalog"
	"finitefield.org/bookfinder/internal/platform/events"
	pfirestore "finitefield.org/bookfinder/internal/platform/firestore"
	"finitefield.org/bookfinder/internal/platform/observability"
)

const instrumentationName = "finitefield.org/bookfinder/internal/wishlist"

// Publisher announces persisted entries; *events.PubSubPublisher satisfies it.
type Publisher interface {
	PublishWishlistAdded(ctx context.Context, event events.WishlistAdded) (string, error)
}

// Store reads and writes wishlist entries scoped to an owner.
type Store struct {
	repo      Repository
	publisher Publisher
	meter     metric.Meter
	now       func() time.Time

	adds metric.Int64Counter
}

// Option customises a Store.
type Option func(*Store)

// WithPublisher publishes a wishlist.added event after each successful add.
func WithPublisher(p Publisher) Option {
	return func(s *Store) {
		s.publisher = p
	}
}

// WithMeter overrides the meter used for the add counter.
func WithMeter(m metric.Meter) Option {
	return func(s *Store) {
		if m != nil {
			s.meter = m
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore wraps repo.
func NewStore(repo Repository, opts ...Option) (*Store, error) {
	if repo == nil {
		return nil, errors.New("wishlist: repository is required")
	}
	s := &Store{
		repo:  repo,
		meter: otel.Meter(instrumentationName),
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	adds, err := s.meter.Int64Counter(
		"wishlist.adds",
		metric.WithDescription("Wishlist add attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("wishlist: register metric: %w", err)
	}
	s.adds = adds
	return s, nil
}

// Load returns ownerID's entries. Errors are logged and yield an empty list.
func (s *Store) Load(ctx context.Context, ownerID string) []Entry {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return []Entry{}
	}
	entries, err := s.repo.FindByOwner(ctx, ownerID)
	if err != nil {
		observability.FromContext(ctx).Error("wishlist load failed",
			zap.String("uid", ownerID),
			zap.Stringer("kind", pfirestore.KindOf(err)),
			zap.Error(fmt.Errorf("%w: %w", ErrPersistence, err)),
		)
		return []Entry{}
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries
}

// Add persists book for ownerID and returns the stored entry. Without an
// owner it returns ErrNoIdentity and touches nothing. Persistence failures
// are logged and returned wrapped in ErrPersistence.
func (s *Store) Add(ctx context.Context, ownerID string, book catalog.Book) (Entry, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		s.record(ctx, "no_identity")
		return Entry{}, ErrNoIdentity
	}

	entry := EntryFromBook(ownerID, book)
	id, err := s.repo.Insert(ctx, entry)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPersistence, err)
		s.record(ctx, "error")
		observability.FromContext(ctx).Error("wishlist add failed",
			zap.String("uid", ownerID),
			zap.String("title", book.Title),
			zap.Stringer("kind", pfirestore.KindOf(err)),
			zap.Error(err),
		)
		return Entry{}, err
	}
	entry.ID = id
	s.record(ctx, "ok")
	s.publish(ctx, entry)
	return entry, nil
}

func (s *Store) publish(ctx context.Context, entry Entry) {
	if s.publisher == nil {
		return
	}
	msgID, err := s.publisher.PublishWishlistAdded(ctx, events.WishlistAdded{
		EntryID:    entry.ID,
		UserID:     entry.OwnerID,
		Title:      entry.Title,
		Author:     entry.Author,
		Image:      entry.ImageURL,
		OccurredAt: s.now().UTC(),
	})
	logger := observability.FromContext(ctx)
	if err != nil {
		logger.Warn("wishlist event publish failed", zap.String("entry_id", entry.ID), zap.Error(err))
		return
	}
	logger.Debug("wishlist event published", zap.String("entry_id", entry.ID), zap.String("message_id", msgID))
}

func (s *Store) record(ctx context.Context, outcome string) {
	s.adds.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
