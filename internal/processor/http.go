package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/agrimatch/core/internal/apperr"
	"github.com/agrimatch/core/internal/domain/money"
)

// httpClient is a thin wrapper around a real processor's REST API. No
// processor SDK ships in the retrieval pack, so this speaks a generic
// intent/transfer/refund shape over plain net/http rather than importing a
// vendor-specific library that was never grounded.
type httpClient struct {
	apiKey  string
	baseURL string
	hc      *http.Client
}

const defaultProcessorBaseURL = "https://api.processor.example/v1"

func newHTTPClient(apiKey string) *httpClient {
	return &httpClient{
		apiKey:  apiKey,
		baseURL: defaultProcessorBaseURL,
		hc:      &http.Client{Timeout: 15 * time.Second},
	}
}

type intentResponse struct {
	ID string `json:"id"`
}

func (c *httpClient) CreateIntent(ctx context.Context, buyerHandle string, amount money.Cents, orderID string) (string, error) {
	var out intentResponse
	err := c.post(ctx, "/payment_intents", url.Values{
		"customer": {buyerHandle},
		"amount":   {fmt.Sprint(int64(amount))},
		"metadata[order_id]": {orderID},
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *httpClient) Capture(ctx context.Context, intentHandle string, amount money.Cents) (string, error) {
	var out intentResponse
	err := c.post(ctx, fmt.Sprintf("/payment_intents/%s/capture", intentHandle), url.Values{
		"amount_to_capture": {fmt.Sprint(int64(amount))},
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *httpClient) Transfer(ctx context.Context, payeeHandle string, amount money.Cents, idempotencyKey string) (string, error) {
	var out intentResponse
	err := c.post(ctx, "/transfers", url.Values{
		"destination": {payeeHandle},
		"amount":      {fmt.Sprint(int64(amount))},
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *httpClient) Refund(ctx context.Context, intentHandle string, amount money.Cents) (string, error) {
	var out intentResponse
	err := c.post(ctx, "/refunds", url.Values{
		"payment_intent": {intentHandle},
		"amount":         {fmt.Sprint(int64(amount))},
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *httpClient) CancelIntent(ctx context.Context, intentHandle string) error {
	var out intentResponse
	return c.post(ctx, fmt.Sprintf("/payment_intents/%s/cancel", intentHandle), nil, &out)
}

func (c *httpClient) post(ctx context.Context, path string, form url.Values, out any) error {
	body := bytes.NewBufferString(form.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return apperr.Wrap(apperr.KindProcessorFailure, "build processor request", err)
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.hc.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindProcessorFailure, "processor request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return apperr.New(apperr.KindProcessorFailure, fmt.Sprintf("processor returned status %d", resp.StatusCode))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperr.Wrap(apperr.KindProcessorFailure, "decode processor response", err)
		}
	}
	return nil
}
