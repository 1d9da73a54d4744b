package processor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/agrimatch/core/internal/domain/money"
)

// demoClient fabricates deterministic handles and never talks to a real
// network. It is the default when no processor API key is configured, so
// local development and CI never require live processor credentials.
type demoClient struct {
	seq atomic.Int64
}

func (d *demoClient) CreateIntent(_ context.Context, buyerHandle string, amount money.Cents, orderID string) (string, error) {
	n := d.seq.Add(1)
	return deterministicHandle("pi_demo", buyerHandle, orderID, fmt.Sprint(amount), fmt.Sprint(n)), nil
}

func (d *demoClient) Capture(_ context.Context, intentHandle string, amount money.Cents) (string, error) {
	n := d.seq.Add(1)
	return deterministicHandle("cap_demo", intentHandle, fmt.Sprint(amount), fmt.Sprint(n)), nil
}

func (d *demoClient) Transfer(_ context.Context, payeeHandle string, amount money.Cents, idempotencyKey string) (string, error) {
	return deterministicHandle("tr_demo", payeeHandle, fmt.Sprint(amount), idempotencyKey), nil
}

func (d *demoClient) Refund(_ context.Context, intentHandle string, amount money.Cents) (string, error) {
	n := d.seq.Add(1)
	return deterministicHandle("re_demo", intentHandle, fmt.Sprint(amount), fmt.Sprint(n)), nil
}

func (d *demoClient) CancelIntent(_ context.Context, intentHandle string) error {
	return nil
}
