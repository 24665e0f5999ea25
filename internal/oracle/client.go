// Package oracle fetches the external observations settlement depends on:
// published macro readings, post-release volatility and sampled prices.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quantfold/macropool/internal/domain"
)

// Client is the REST client for the macro data and price endpoints. Either
// URL may be empty; the corresponding lookups then report the observation as
// unavailable instead of failing.
type Client struct {
	macroURL   string
	priceURL   string
	httpClient *http.Client
}

// NewClient creates an oracle client.
//
// macroURL is the macro data API root serving readings and volatility.
// priceURL is the price API root serving spot samples.
func NewClient(macroURL, priceURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		macroURL: macroURL,
		priceURL: priceURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// apiReading is the macro endpoint's wire shape for one release.
type apiReading struct {
	Indicator     string   `json:"indicator"`
	Actual        *float64 `json:"actual"`
	VolatilityPct *float64 `json:"volatility_pct"`
}

// apiPrice is the price endpoint's wire shape for a spot sample.
type apiPrice struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// LatestReading returns the published value for an indicator, or nil when
// the release is not out yet.
func (c *Client) LatestReading(ctx context.Context, typ domain.EventType) (*float64, error) {
	reading, err := c.fetchReading(ctx, typ)
	if err != nil {
		return nil, err
	}
	return reading.Actual, nil
}

// OutcomeFor returns the released outcome value for an event's indicator, or
// nil when no macro source is configured or the release is not out yet. With
// no source the value stays unset until the operator publishes it.
func (c *Client) OutcomeFor(ctx context.Context, event domain.Event) (*float64, error) {
	if c.macroURL == "" {
		return nil, nil
	}
	return c.LatestReading(ctx, event.Type)
}

// Volatility returns the post-release volatility percentage for an
// indicator, or nil when the macro source is not configured or has no
// observation yet.
func (c *Client) Volatility(ctx context.Context, typ domain.EventType) (*float64, error) {
	if c.macroURL == "" {
		return nil, nil
	}
	reading, err := c.fetchReading(ctx, typ)
	if err != nil {
		return nil, err
	}
	return reading.VolatilityPct, nil
}

// SamplePrice returns the current spot sample, or nil when the price source
// is not configured.
func (c *Client) SamplePrice(ctx context.Context) (*float64, error) {
	if c.priceURL == "" {
		return nil, nil
	}

	body, err := c.doGet(ctx, c.priceURL+"/price")
	if err != nil {
		return nil, fmt.Errorf("oracle: sample price: %w", err)
	}

	var sample apiPrice
	if err := json.Unmarshal(body, &sample); err != nil {
		return nil, fmt.Errorf("oracle: decode price: %w", err)
	}
	return &sample.Price, nil
}

// InputsFor gathers the settlement observations for an event from the
// configured sources.
func (c *Client) InputsFor(ctx context.Context, event domain.Event) (domain.SettlementInputs, error) {
	var inputs domain.SettlementInputs

	vol, err := c.Volatility(ctx, event.Type)
	if err != nil {
		return domain.SettlementInputs{}, err
	}
	inputs.VolatilityPct = vol

	price, err := c.SamplePrice(ctx)
	if err != nil {
		return domain.SettlementInputs{}, err
	}
	inputs.SamplePrice = price

	return inputs, nil
}

func (c *Client) fetchReading(ctx context.Context, typ domain.EventType) (apiReading, error) {
	if c.macroURL == "" {
		return apiReading{}, fmt.Errorf("oracle: macro source not configured")
	}

	path := c.macroURL + "/readings/" + url.PathEscape(string(typ))
	body, err := c.doGet(ctx, path)
	if err != nil {
		return apiReading{}, fmt.Errorf("oracle: reading %s: %w", typ, err)
	}

	var reading apiReading
	if err := json.Unmarshal(body, &reading); err != nil {
		return apiReading{}, fmt.Errorf("oracle: decode reading: %w", err)
	}
	return reading, nil
}

func (c *Client) doGet(ctx context.Context, rawurl string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > 256 {
			body = body[:256]
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}
