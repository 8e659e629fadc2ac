package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPTransport adapts an *http.Client into the Exchanger contract. It sits
// at the innermost position of a chain; every middleware wraps something
// that ultimately bottoms out here (or in a test double).
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps client as an Exchanger. A nil client falls back to
// http.DefaultClient.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{client: client}
}

// Exchange issues req over the wrapped client and materialises the response
// body before returning, so downstream middleware can read it more than
// once.
func (t *HTTPTransport) Exchange(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, req.BodyReader())
	if err != nil {
		return nil, fmt.Errorf("exchange: build request: %w", err)
	}
	httpReq.Header = req.Header.Clone()

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("exchange: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("exchange: read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}
