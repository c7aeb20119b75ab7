package broker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPublishJSONSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	p := &Publisher{
		maxRetries: 3,
		retryDelay: time.Millisecond,
		publishOnce: func(ctx context.Context, exchange, routingKey string, body []byte) error {
			calls++
			return nil
		},
	}
	if err := p.PublishJSON(context.Background(), "ex", "rk", map[string]int{"a": 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt, got %d", calls)
	}
}

func TestPublishJSONRetriesThenSucceeds(t *testing.T) {
	calls := 0
	p := &Publisher{
		maxRetries: 3,
		retryDelay: time.Millisecond,
		publishOnce: func(ctx context.Context, exchange, routingKey string, body []byte) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		},
	}
	if err := p.PublishJSON(context.Background(), "ex", "rk", map[string]int{"a": 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestPublishJSONExhaustsRetriesAtBoundary(t *testing.T) {
	calls := 0
	p := &Publisher{
		maxRetries: 2,
		retryDelay: time.Millisecond,
		publishOnce: func(ctx context.Context, exchange, routingKey string, body []byte) error {
			calls++
			return errors.New("permanent")
		},
	}
	err := p.PublishJSON(context.Background(), "ex", "rk", map[string]int{"a": 1})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	// maxRetries=2 means one initial attempt plus two retries: three total calls.
	if calls != 3 {
		t.Fatalf("expected 3 attempts (1 initial + 2 retries), got %d", calls)
	}
}

func TestPublishJSONContextCancellationStopsRetries(t *testing.T) {
	calls := 0
	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		maxRetries: 5,
		retryDelay: 50 * time.Millisecond,
		publishOnce: func(ctx context.Context, exchange, routingKey string, body []byte) error {
			calls++
			if calls == 1 {
				cancel()
			}
			return errors.New("transient")
		},
	}
	err := p.PublishJSON(ctx, "ex", "rk", map[string]int{"a": 1})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls > 2 {
		t.Fatalf("expected cancellation to stop retries quickly, got %d calls", calls)
	}
}
