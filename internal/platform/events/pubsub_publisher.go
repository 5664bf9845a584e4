package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
)

// TypeWishlistAdded identifies wishlist.added messages.
const TypeWishlistAdded = "wishlist.added"

// WishlistAdded is published after a wishlist entry has been persisted.
type WishlistAdded struct {
	Type       string    `json:"type"`
	EntryID    string    `json:"entryId"`
	UserID     string    `json:"userId"`
	Title      string    `json:"title,omitempty"`
	Author     string    `json:"author,omitempty"`
	Image      string    `json:"image,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// PubSubPublisher publishes domain events to a Pub/Sub topic.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	return &PubSubPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishWishlistAdded sends the event and waits for the server-assigned id.
func (p *PubSubPublisher) PublishWishlistAdded(ctx context.Context, event WishlistAdded) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub publisher: not initialised")
	}

	event.Type = TypeWishlistAdded
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal wishlist event: %w", err)
	}

	attrs := map[string]string{"eventType": TypeWishlistAdded}
	setAttr(attrs, "userId", event.UserID)
	setAttr(attrs, "entryId", event.EntryID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish wishlist event: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and stops the topic's background goroutines.
func (p *PubSubPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
