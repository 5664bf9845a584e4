package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPubSubPublisherPublishesWishlistAdded(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "wishlist-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubPublisher: %v", err)
	}
	defer publisher.Stop()

	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	event := WishlistAdded{
		EntryID:    "entry-1",
		UserID:     "user-1",
		Title:      "Dune",
		Author:     "Frank Herbert",
		Image:      "https://covers.openlibrary.org/b/id/1-M.jpg",
		OccurredAt: occurred,
	}

	if _, err := publisher.PublishWishlistAdded(ctx, event); err != nil {
		t.Fatalf("PublishWishlistAdded: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload WishlistAdded
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Type != TypeWishlistAdded || payload.EntryID != "entry-1" || payload.Title != "Dune" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if !payload.OccurredAt.Equal(occurred) {
		t.Fatalf("unexpected occurredAt %s", payload.OccurredAt)
	}
	if attr := messages[0].Attributes["userId"]; attr != "user-1" {
		t.Fatalf("expected userId attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["eventType"]; attr != TypeWishlistAdded {
		t.Fatalf("expected eventType attribute, got %q", attr)
	}
}

func TestNewPubSubPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}

	var publisher *PubSubPublisher
	if _, err := publisher.PublishWishlistAdded(context.Background(), WishlistAdded{}); err == nil {
		t.Fatalf("expected error for nil publisher")
	}
}
