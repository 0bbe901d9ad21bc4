// Package content talks to the WPGraphQL endpoint that backs the site. The
// caching layer treats it as plain network; only the CLI and readiness
// probe call it directly.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/heavystatus/newsroom-edge/internal/errors"
)

// DefaultUserAgent identifies content requests to the WordPress host.
const DefaultUserAgent = "newsroom-nextjs/1.0"

// errorBodyLimit bounds how much of a failed response ends up in the error.
const errorBodyLimit = 500

// ErrMissingData is returned when a response carries neither data nor
// errors.
var ErrMissingData = errors.NewStd("WPGraphQL: Missing data")

// pingQuery is the cheapest query that proves the endpoint serves posts.
const pingQuery = `query Ping { posts(first: 1) { nodes { id } } }`

// Client posts GraphQL queries to one endpoint.
type Client struct {
	endpoint  string
	userAgent string
	http      *http.Client
}

// New creates a client with its own http.Client.
func New(endpoint, userAgent string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return NewWithHTTPClient(endpoint, userAgent, &http.Client{Timeout: timeout})
}

// NewWithHTTPClient creates a client using hc.
func NewWithHTTPClient(endpoint, userAgent string, hc *http.Client) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.Newf("Missing environment variable: WPGRAPHQL_URL").
			Component("content").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Client{endpoint: endpoint, userAgent: userAgent, http: hc}, nil
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// Query runs query with vars and decodes the data member into out. A nil
// out only checks that data was returned.
func (c *Client) Query(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(request{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encode graphql request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.New(err).
			Component("content").
			Category(errors.CategoryNetwork).
			Context("endpoint", c.endpoint).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return fmt.Errorf("WPGraphQL HTTP %d: %s", resp.StatusCode, text)
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		msgs := make([]string, 0, len(decoded.Errors))
		for _, e := range decoded.Errors {
			msgs = append(msgs, e.Message)
		}
		return errors.NewStd(strings.Join(msgs, "\n"))
	}
	if len(decoded.Data) == 0 || string(decoded.Data) == "null" {
		return ErrMissingData
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}

// Ping checks that the endpoint answers a trivial query.
func (c *Client) Ping(ctx context.Context) error {
	return c.Query(ctx, pingQuery, nil, nil)
}

// Endpoint returns the GraphQL URL.
func (c *Client) Endpoint() string { return c.endpoint }
