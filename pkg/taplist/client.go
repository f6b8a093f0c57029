// Package taplist is the HTTP collaborator for the upstream point-of-sale
// taplist feed: a single GET keyed by store id, returning whatever beers are
// currently on tap there.
package taplist

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.flyingsaucer.com"

// Client fetches the current taplist for a single store.
type Client interface {
	FetchTaplist(ctx context.Context, storeID string) ([]BeerRecord, error)
}

// BeerRecord is one beer as reported by the upstream feed. Only ID and
// BrewName are guaranteed present.
type BeerRecord struct {
	ID              string  `json:"id"`
	BrewName        string  `json:"brew_name"`
	Brewer          string  `json:"brewer"`
	BrewDescription *string `json:"brew_description,omitempty"`
}

// storeTaplist is one element of the upstream response array: the taplist
// for a single store location.
type storeTaplist struct {
	BrewInStock []BeerRecord `json:"brewInStock"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a taplist API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchTaplist retrieves the current beers on tap at storeID. The upstream
// feed returns an array of store objects; only the first is used, since the
// request is keyed to a single store.
func (c *httpClient) FetchTaplist(ctx context.Context, storeID string) ([]BeerRecord, error) {
	u, err := url.Parse(c.baseURL + "/taplist")
	if err != nil {
		return nil, eris.Wrap(err, "taplist: parse base url")
	}
	q := u.Query()
	q.Set("store_id", storeID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "taplist: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "taplist: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "taplist: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("taplist: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var stores []storeTaplist
	if err := json.Unmarshal(body, &stores); err != nil {
		return nil, eris.Wrap(err, "taplist: unmarshal response")
	}
	if len(stores) == 0 {
		return nil, nil
	}
	return stores[0].BrewInStock, nil
}
