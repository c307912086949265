package invalidate_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/backlog/invalidate"
)

func receive(t *testing.T, sub invalidate.Subscription) []byte {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			t.Fatal("subscription closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHubFanOut(t *testing.T) {
	ctx := context.Background()
	hub := invalidate.NewHub()

	a, _ := hub.Subscribe(ctx, "ch")
	b, _ := hub.Subscribe(ctx, "ch")
	other, _ := hub.Subscribe(ctx, "other")
	defer a.Close()
	defer b.Close()
	defer other.Close()

	if err := hub.Publish(ctx, "ch", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := string(receive(t, a)); got != "hello" {
		t.Errorf("a got %q", got)
	}
	if got := string(receive(t, b)); got != "hello" {
		t.Errorf("b got %q", got)
	}
	select {
	case msg := <-other.Messages():
		t.Errorf("other channel received %q", msg)
	default:
	}
}

func TestHubDropsOnFullBuffer(t *testing.T) {
	ctx := context.Background()
	hub := invalidate.NewHub(invalidate.WithBufferSize(1))
	sub, _ := hub.Subscribe(ctx, "ch")
	defer sub.Close()

	_ = hub.Publish(ctx, "ch", []byte("1"))
	_ = hub.Publish(ctx, "ch", []byte("2"))

	if hub.Published() != 2 {
		t.Errorf("published = %d, want 2", hub.Published())
	}
	if hub.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", hub.Dropped())
	}
	if got := string(receive(t, sub)); got != "1" {
		t.Errorf("got %q, want 1", got)
	}
}

func TestHubClose(t *testing.T) {
	ctx := context.Background()
	hub := invalidate.NewHub()
	sub, _ := hub.Subscribe(ctx, "ch")
	if hub.SubscriberCount("ch") != 1 {
		t.Fatalf("subscribers = %d, want 1", hub.SubscriberCount("ch"))
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if hub.SubscriberCount("ch") != 0 {
		t.Errorf("subscribers = %d, want 0", hub.SubscriberCount("ch"))
	}
	if _, ok := <-sub.Messages(); ok {
		t.Error("expected closed channel")
	}
	if err := hub.Publish(ctx, "ch", []byte("x")); err != nil {
		t.Errorf("Publish after close: %v", err)
	}
}
