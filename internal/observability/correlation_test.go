package observability

import (
	"context"
	"regexp"
	"testing"
)

func TestNewCorrelationID_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^req-[0-9a-z]+-[0-9a-z]{6}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewCorrelationID()
		if !pattern.MatchString(id) {
			t.Fatalf("id %q does not match req-<ms36>-<rand6>", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q within 100 draws", id)
		}
		seen[id] = true
	}
}

func TestCorrelationIDContext(t *testing.T) {
	ctx := context.Background()

	if got := CorrelationIDFrom(ctx); got != "" {
		t.Errorf("empty context returned %q", got)
	}

	ctx = WithCorrelationID(ctx, "req-abc-123456")
	if got := CorrelationIDFrom(ctx); got != "req-abc-123456" {
		t.Errorf("got %q", got)
	}
}
