package calendar

import (
	"context"
	"errors"

	"github.com/dj-epidemik/backend/internal/metrics"
	"github.com/dj-epidemik/backend/internal/storage/models"
)

// Source fetches the external feed and parses it into event records.
type Source struct {
	client     *FeedClient
	parser     *Parser
	publicLink string
	metrics    *metrics.Metrics
}

// NewSource creates a feed source. publicLink is attached to every record as
// its source link; it must not be the secret feed URL.
func NewSource(client *FeedClient, parser *Parser, publicLink string, m *metrics.Metrics) *Source {
	return &Source{client: client, parser: parser, publicLink: publicLink, metrics: m}
}

// Configured reports whether a feed URL is set.
func (s *Source) Configured() bool {
	return s != nil && s.client.Configured()
}

// Events fetches and parses the feed. A fetch failure returns
// ErrFeedUnavailable; a feed that was fetched but holds nothing returns an
// empty, non-nil slice.
func (s *Source) Events(ctx context.Context) ([]models.EventRecord, error) {
	raw, err := s.client.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	records, err := s.parser.ParseFeed(string(raw), s.publicLink)
	if err != nil {
		if errors.Is(err, ErrMalformedFeed) {
			s.metrics.FeedFetch(metrics.FetchMalformed)
		}
		return nil, err
	}
	if records == nil {
		records = []models.EventRecord{}
	}
	return records, nil
}
