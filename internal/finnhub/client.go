// Package finnhub is a small REST client over the external market-data
// provider's symbol catalog: GET /symbols and GET /symbols/search? back
// onto its `/stock/symbol` and `/search` endpoints, the provider detail
// the core subsystems never need to know about.
package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/finrisk/valuation-service/internal/domain"
)

const defaultBaseURL = "https://finnhub.io/api/v1"

// Symbol is one entry from the provider's symbol catalog or search result.
type Symbol struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description,omitempty"`
}

// Client calls the provider's REST API for symbol lookup. It carries no
// WebSocket concerns — that's internal/ingest's job.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient builds a Client against baseURL (empty defaults to Finnhub's
// production API).
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Symbols lists every symbol the provider knows about for exchange
// (defaults to "US"), mirroring GET /stock/symbol.
func (c *Client) Symbols(ctx context.Context, apiKey, exchange string) ([]Symbol, error) {
	if exchange == "" {
		exchange = "US"
	}
	u := fmt.Sprintf("%s/stock/symbol?exchange=%s&token=%s", c.baseURL, url.QueryEscape(exchange), url.QueryEscape(apiKey))
	return c.fetchSymbols(ctx, u)
}

// Search looks up symbols matching q, restricted to exchange (defaults
// to "US"), mirroring GET /search.
func (c *Client) Search(ctx context.Context, apiKey, q, exchange string) ([]Symbol, error) {
	if exchange == "" {
		exchange = "US"
	}
	values := url.Values{"q": {q}, "exchange": {exchange}, "token": {apiKey}}
	u := fmt.Sprintf("%s/search?%s", c.baseURL, values.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, domain.NewError(domain.Network, "build search request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.Network, "search symbols", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewError(domain.Network, fmt.Sprintf("search symbols: provider returned %d", resp.StatusCode), nil)
	}

	var body struct {
		Result []struct {
			Symbol      string `json:"symbol"`
			Description string `json:"description"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, domain.NewError(domain.Serialization, "decode search response", err)
	}

	out := make([]Symbol, 0, len(body.Result))
	for _, r := range body.Result {
		if r.Symbol == "" {
			continue
		}
		out = append(out, Symbol{Symbol: r.Symbol, Description: r.Description})
	}
	return out, nil
}

func (c *Client) fetchSymbols(ctx context.Context, u string) ([]Symbol, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, domain.NewError(domain.Network, "build symbols request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.Network, "fetch symbols", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewError(domain.Network, fmt.Sprintf("fetch symbols: provider returned %d", resp.StatusCode), nil)
	}

	var raw []Symbol
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, domain.NewError(domain.Serialization, "decode symbols response", err)
	}
	return raw, nil
}
