// Package processor wraps the external payment processor that AgriMatch's
// escrow flow settles against behind one small typed interface, so the
// application layer never branches on which concrete processor is
// configured.
package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/agrimatch/core/internal/domain/money"
)

// Client is the subset of payment-processor operations the escrow flow
// needs: opening an intent when an order is accepted, capturing the full
// authorization once the payment succeeds, transferring captured funds
// out to a farmer or middleman in tranches, refunding on cancellation,
// and cancelling an unfunded intent.
type Client interface {
	// CreateIntent opens a payment intent for amount against a buyer's
	// processor customer handle, returning an opaque intent handle.
	CreateIntent(ctx context.Context, buyerHandle string, amount money.Cents, orderID string) (intentHandle string, err error)

	// Capture captures the full authorized amount on an intent, once,
	// when the payment-succeeded webhook fires. Later tranche payouts are
	// Transfer calls against these already-captured funds, not further
	// captures.
	Capture(ctx context.Context, intentHandle string, amount money.Cents) (transferID string, err error)

	// Transfer moves captured funds to a connected payee (farmer or
	// middleman), returning an opaque transfer id.
	Transfer(ctx context.Context, payeeHandle string, amount money.Cents, idempotencyKey string) (transferID string, err error)

	// Refund returns amount from an intent to the buyer, returning an
	// opaque refund id.
	Refund(ctx context.Context, intentHandle string, amount money.Cents) (refundID string, err error)

	// CancelIntent voids an intent that never received funds.
	CancelIntent(ctx context.Context, intentHandle string) error
}

// New returns the demo client when demo is true or apiKey is empty
// (apperr.KindProcessorFailure callers should never see a missing-key
// panic), and a real HTTP-backed client otherwise.
func New(apiKey string, demo bool) Client {
	if demo || apiKey == "" {
		return &demoClient{}
	}
	return newHTTPClient(apiKey)
}

// deterministicHandle derives a stable demo handle from its inputs so
// repeated calls in tests are reproducible without a real processor.
func deterministicHandle(prefix string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(h.Sum(nil))[:24])
}
