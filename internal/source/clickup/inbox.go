// Package clickup reads and mutates the ClickUp inbox through the web
// app's private endpoints, authenticated with a browser session token.
package clickup

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nhle/swipe/internal/credential"
	"github.com/nhle/swipe/internal/model"
)

// Source combines endpoint resolution, pagination and mutations.
type Source struct {
	client   *Client
	resolver *Resolver
	fetcher  *Fetcher
	logger   zerolog.Logger
}

// New creates a Source from configuration.
func New(cfg model.ClickUpConfig, httpClient *http.Client, logger zerolog.Logger) *Source {
	client := NewClient(httpClient).WithLogger(logger.With().Str("component", "resolver").Logger())
	return &Source{
		client:   client,
		resolver: NewResolver(NewEndpoints(cfg), cfg.RequestTimeout(), logger),
		fetcher:  NewFetcher(client, cfg.AppURL, logger),
		logger:   logger.With().Str("component", "clickup").Logger(),
	}
}

// FetchInbox fetches every page of the inbox from the first search
// candidate whose first page succeeds.
func (s *Source) FetchInbox(
	ctx context.Context,
	cred credential.Credential,
	target Target,
	opts FetchOptions,
) (*FetchResult, error) {
	var result *FetchResult
	_, err := s.resolver.Resolve(ctx, model.OperationSearch, target, func(ctx context.Context, c Candidate) error {
		r, err := s.fetcher.FetchAll(ctx, c, cred, target, opts)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching inbox: %w", err)
	}

	s.logger.Info().
		Str("candidate", result.Candidate).
		Int("pages", result.Pages).
		Int("items", len(result.Items)).
		Bool("partial", result.Partial).
		Msg("inbox fetched")
	return result, nil
}

// Mutate applies op to one bundle. id is passed unescaped.
func (s *Source) Mutate(
	ctx context.Context,
	op model.Operation,
	cred credential.Credential,
	workspaceID string,
	id string,
) error {
	if op != model.OperationClear && op != model.OperationMarkRead {
		return fmt.Errorf("unsupported operation %q", op)
	}

	target := Target{WorkspaceID: workspaceID, ItemID: id}
	_, err := s.resolver.Resolve(ctx, op, target, func(ctx context.Context, c Candidate) error {
		_, err := s.client.Do(ctx, Request{
			Method:      c.Method,
			URL:         c.URL,
			Body:        c.Body,
			Token:       string(cred),
			WorkspaceID: workspaceID,
		}, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	return nil
}
