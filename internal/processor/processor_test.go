package processor

import (
	"context"
	"testing"

	"github.com/agrimatch/core/internal/domain/money"
)

func TestNewReturnsDemoClientWithoutAPIKey(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		demo   bool
	}{
		{"empty api key forces demo", "", false},
		{"demo flag forces demo even with a key", "sk_live_whatever", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.apiKey, tt.demo)
			if _, ok := c.(*demoClient); !ok {
				t.Errorf("New(%q, %v) = %T, want *demoClient", tt.apiKey, tt.demo, c)
			}
		})
	}
}

func TestNewReturnsHTTPClientWithAPIKey(t *testing.T) {
	c := New("sk_live_abc123", false)
	if _, ok := c.(*demoClient); ok {
		t.Error("New() with a real key and demo=false returned *demoClient, want the HTTP-backed client")
	}
}

func TestDemoClientCreateIntentIsReproducibleShapeButUnique(t *testing.T) {
	c := &demoClient{}
	ctx := context.Background()

	first, err := c.CreateIntent(ctx, "cus_buyer1", money.Cents(5000), "order-1")
	if err != nil {
		t.Fatalf("CreateIntent() error = %v", err)
	}
	second, err := c.CreateIntent(ctx, "cus_buyer1", money.Cents(5000), "order-1")
	if err != nil {
		t.Fatalf("CreateIntent() error = %v", err)
	}
	if first == second {
		t.Error("two CreateIntent() calls with identical inputs returned the same handle, want distinct handles per call")
	}
	if first == "" || second == "" {
		t.Error("CreateIntent() returned an empty handle")
	}
}

func TestDemoClientTransferIsIdempotentPerKey(t *testing.T) {
	c := &demoClient{}
	ctx := context.Background()

	first, err := c.Transfer(ctx, "acct_farmer1", money.Cents(8000), "idem-key-1")
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	second, err := c.Transfer(ctx, "acct_farmer1", money.Cents(8000), "idem-key-1")
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if first != second {
		t.Errorf("Transfer() with the same idempotency key returned %q then %q, want identical ids", first, second)
	}

	third, err := c.Transfer(ctx, "acct_farmer1", money.Cents(8000), "idem-key-2")
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if third == first {
		t.Error("Transfer() with a different idempotency key returned the same id, want a distinct id")
	}
}

func TestDemoClientCancelIntentAlwaysSucceeds(t *testing.T) {
	c := &demoClient{}
	if err := c.CancelIntent(context.Background(), "pi_demo_whatever"); err != nil {
		t.Errorf("CancelIntent() error = %v, want nil", err)
	}
}
