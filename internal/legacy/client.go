// Package legacy fetches section records from the legacy regulation server.
package legacy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/history/internal/section"
)

// maxBodySize bounds the payload read from the legacy server.
const maxBodySize = 32 << 20

// StatusError is a non-2xx answer. Its message is the HTTP status line,
// e.g. "401 Unauthorized", which is what error classification keys on.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return e.Status
	}
	return fmt.Sprintf("%d %s", e.Code, http.StatusText(e.Code))
}

// DefaultEndpoints maps each section to its path on the legacy server.
func DefaultEndpoints() map[string]string {
	return map[string]string{
		section.Consultations: "/consultations",
		section.Exams:         "/exams",
		section.Appointments:  "/appointments",
		section.Regulations:   "/regulations",
		section.Documents:     "/documents",
	}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithEndpoints overrides section paths.
func WithEndpoints(paths map[string]string) Option {
	return func(cl *Client) {
		for k, v := range paths {
			cl.endpoints[k] = v
		}
	}
}

// WithHeader adds a header to every request, e.g. a session cookie.
func WithHeader(key, value string) Option {
	return func(cl *Client) { cl.headers.Set(key, value) }
}

// Client talks to the legacy server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	endpoints  map[string]string
	headers    http.Header
	log        zerolog.Logger
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		endpoints:  DefaultEndpoints(),
		headers:    make(http.Header),
		log:        logger.With().Str("component", "legacy").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch returns the fetch function of one section.
func (c *Client) Fetch(key string) section.FetchFunc {
	return func(ctx context.Context, params section.FetchParams) (section.Result, error) {
		params.Section = key
		return c.Do(ctx, params)
	}
}

// Query encodes params the way the legacy endpoints expect them.
func Query(params section.FetchParams) url.Values {
	q := url.Values{}
	q.Set("isenPK", params.Patient.ID)
	q.Set("isenFullPKCrypto", params.Patient.FullPK)
	if params.DateInitial != "" {
		q.Set("dataInicial", params.DateInitial)
	}
	if params.DateFinal != "" {
		q.Set("dataFinal", params.DateFinal)
	}
	if params.FetchType != "" {
		q.Set("tipo", params.FetchType)
	}
	for k, v := range params.Extra {
		q.Set(k, v)
	}
	return q
}

// Do performs one request for params.Section.
func (c *Client) Do(ctx context.Context, params section.FetchParams) (section.Result, error) {
	path, ok := c.endpoints[params.Section]
	if !ok {
		return section.Result{}, fmt.Errorf("%s: no legacy endpoint configured", params.Section)
	}
	target := c.baseURL + path + "?" + Query(params).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return section.Result{}, fmt.Errorf("%s: build request: %w", params.Section, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Drop the URL from the message so that only the cause is classified.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = fmt.Errorf("%s %s: %w", ue.Op, params.Section, ue.Err)
		}
		c.log.Debug().Err(err).Str("section", params.Section).Dur("duration", time.Since(start)).Msg("legacy request failed")
		return section.Result{}, err
	}
	defer resp.Body.Close()

	c.log.Debug().Str("section", params.Section).Int("status", resp.StatusCode).Dur("duration", time.Since(start)).Msg("legacy request")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return section.Result{}, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return section.Result{}, fmt.Errorf("%s: read body: %w", params.Section, err)
	}
	res, err := section.DecodePayload(body)
	if err != nil {
		return section.Result{}, fmt.Errorf("%s: %w", params.Section, err)
	}
	return res, nil
}
