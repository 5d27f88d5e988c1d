package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dj-epidemik/backend/internal/metrics"
)

// ErrFeedUnavailable is returned when the feed could not be fetched at all
// (network failure, auth rejection, non-2xx status). A feed that was fetched
// but holds no events is not an error.
var ErrFeedUnavailable = errors.New("calendar feed unavailable")

// maxFeedBytes caps the size of a feed payload.
const maxFeedBytes = 10 << 20

// FeedClient downloads the configured calendar feed. It is the only
// component that knows the feed URL, which embeds an access token.
type FeedClient struct {
	url    string
	client *http.Client
	logger logrus.FieldLogger
	m      *metrics.Metrics
	// maxBytes caps the accepted payload size.
	maxBytes int64

	mu           sync.Mutex
	etag         string
	lastModified string
	body         []byte
}

// NewFeedClient creates a feed client with the given request timeout.
func NewFeedClient(feedURL string, timeout time.Duration, logger logrus.FieldLogger, m *metrics.Metrics) *FeedClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FeedClient{
		url:    feedURL,
		client: &http.Client{Timeout: timeout},
		logger: logger.WithField("component", "feed_client"),
		m:      m,

		maxBytes: maxFeedBytes,
	}
}

// Configured reports whether a feed URL was provided.
func (c *FeedClient) Configured() bool {
	return c != nil && c.url != ""
}

// Fetch downloads the feed. Conditional request headers from the previous
// successful fetch are sent, and a 304 reuses the previous body. Failures are
// not retried.
func (c *FeedClient) Fetch(ctx context.Context) ([]byte, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: no feed url configured", ErrFeedUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		c.m.FeedFetch(metrics.FetchUnavailable)
		return nil, fmt.Errorf("%w: building request: %v", ErrFeedUnavailable, err)
	}
	req.Header.Set("Accept", "text/calendar, text/plain;q=0.9, */*;q=0.8")

	c.mu.Lock()
	if c.etag != "" {
		req.Header.Set("If-None-Match", c.etag)
	}
	if c.lastModified != "" {
		req.Header.Set("If-Modified-Since", c.lastModified)
	}
	c.mu.Unlock()

	log := c.logger.WithField("feed", RedactURL(c.url))

	resp, err := c.client.Do(req)
	if err != nil {
		c.m.FeedFetch(metrics.FetchUnavailable)
		log.WithError(redactError(err)).Warn("feed fetch failed")
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, redactError(err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		c.mu.Lock()
		body := c.body
		c.mu.Unlock()
		if body == nil {
			c.m.FeedFetch(metrics.FetchUnavailable)
			return nil, fmt.Errorf("%w: 304 without a cached body", ErrFeedUnavailable)
		}
		c.m.FeedFetch(metrics.FetchNotModified)
		log.Debug("feed not modified")
		return body, nil

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.m.FeedFetch(metrics.FetchUnavailable)
		log.WithField("status", resp.StatusCode).Warn("feed returned non-success status")
		return nil, fmt.Errorf("%w: status %d", ErrFeedUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		c.m.FeedFetch(metrics.FetchUnavailable)
		return nil, fmt.Errorf("%w: reading body: %v", ErrFeedUnavailable, err)
	}
	if int64(len(body)) > c.maxBytes {
		c.m.FeedFetch(metrics.FetchUnavailable)
		log.WithField("limit", c.maxBytes).Warn("feed payload too large")
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrFeedUnavailable, c.maxBytes)
	}

	c.mu.Lock()
	c.etag = resp.Header.Get("ETag")
	c.lastModified = resp.Header.Get("Last-Modified")
	c.body = body
	c.mu.Unlock()

	c.m.FeedFetch(metrics.FetchOK)
	log.WithField("bytes", len(body)).Debug("feed fetched")
	return body, nil
}

// RedactURL keeps only the scheme and host of a feed URL for logging.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}

// redactError strips the request URL from net/http errors, which would
// otherwise leak the feed token into logs and responses.
func redactError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
