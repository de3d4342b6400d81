package coord

import (
	"context"
	"testing"
	"time"
)

func TestConsumeStopIsAtMostOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	got, err := s.ConsumeStop(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("ConsumeStop: %v", err)
	}
	if got {
		t.Fatalf("expected no stop flag before request")
	}

	if err := s.RequestStop(ctx, "User@Example.com"); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}

	got, err = s.ConsumeStop(ctx, "user@example.com")
	if err != nil || !got {
		t.Fatalf("first consume = (%v, %v), want (true, nil)", got, err)
	}
	got, err = s.ConsumeStop(ctx, "user@example.com")
	if err != nil || got {
		t.Fatalf("second consume = (%v, %v), want (false, nil)", got, err)
	}
}

func TestConsumeConfigClearsValue(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.PushConfig(ctx, "a@b.c", []byte(`{"amount":5}`)); err != nil {
		t.Fatalf("PushConfig: %v", err)
	}
	v, err := s.ConsumeConfig(ctx, "a@b.c")
	if err != nil {
		t.Fatalf("ConsumeConfig: %v", err)
	}
	if string(v) != `{"amount":5}` {
		t.Fatalf("unexpected config %q", v)
	}
	v, err = s.ConsumeConfig(ctx, "a@b.c")
	if err != nil || v != nil {
		t.Fatalf("second consume = (%q, %v), want (nil, nil)", v, err)
	}
}

func TestActiveTokenExpires(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.SetActive(ctx, "a@b.c", "tok-1", 20*time.Millisecond); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	tok, err := s.ActiveToken(ctx, "a@b.c")
	if err != nil || tok != "tok-1" {
		t.Fatalf("ActiveToken = (%q, %v), want (tok-1, nil)", tok, err)
	}

	time.Sleep(30 * time.Millisecond)
	tok, err = s.ActiveToken(ctx, "a@b.c")
	if err != nil || tok != "" {
		t.Fatalf("expired ActiveToken = (%q, %v), want empty", tok, err)
	}
}

func TestStatusRoundTripNormalizesAccount(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.SetStatus(ctx, "  Trader@Example.COM ", []byte(`{"state":"idle"}`)); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	v, err := s.Status(ctx, "trader@example.com")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if string(v) != `{"state":"idle"}` {
		t.Fatalf("unexpected status %q", v)
	}
}
