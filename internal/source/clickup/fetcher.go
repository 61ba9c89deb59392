package clickup

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nhle/swipe/internal/credential"
	"github.com/nhle/swipe/internal/model"
)

// unknownTitle is used when a bundle has no matching task resource.
const unknownTitle = "Unknown Task"

// SortFunc orders bundles like slices.SortStableFunc's cmp.
type SortFunc func(a, b model.NotificationBundle) int

// ByOccurredAtDesc sorts newest first. Zero timestamps sort last.
func ByOccurredAtDesc(a, b model.NotificationBundle) int {
	return b.OccurredAt.Compare(a.OccurredAt)
}

// FetchOptions controls the search query.
type FetchOptions struct {
	// Status filters bundles; defaults to "uncleared".
	Status string
	// BundleType optionally restricts the bundle kind.
	BundleType string
	// PageSize defaults to model.DefaultPageSize.
	PageSize int
	// Sort defaults to ByOccurredAtDesc.
	Sort SortFunc
}

func (o FetchOptions) withDefaults() FetchOptions {
	if o.Status == "" {
		o.Status = "uncleared"
	}
	if o.PageSize <= 0 {
		o.PageSize = model.DefaultPageSize
	}
	if o.Sort == nil {
		o.Sort = ByOccurredAtDesc
	}
	return o
}

// FetchResult is the outcome of walking every page of a search.
type FetchResult struct {
	Items     []model.NotificationBundle
	Pages     int
	Candidate string

	// Partial is set when a page after the first failed. Items holds what
	// was collected before the failure and PartialErr the cause.
	Partial    bool
	PartialErr error
}

// cursorPolicy extracts a continuation cursor from a page.
type cursorPolicy func(*SearchResponse) string

// cursorPolicies are tried in order; the first non-empty cursor wins.
var cursorPolicies = []cursorPolicy{
	func(r *SearchResponse) string {
		if r.Pagination != nil && r.Pagination.NextCursor != nil {
			return *r.Pagination.NextCursor
		}
		return ""
	},
	func(r *SearchResponse) string {
		if r.NextCursor != nil {
			return *r.NextCursor
		}
		return ""
	},
}

func nextCursor(r *SearchResponse) string {
	for _, policy := range cursorPolicies {
		if c := policy(r); c != "" {
			return c
		}
	}
	return ""
}

// Fetcher walks paginated inbox endpoints and normalizes the results.
type Fetcher struct {
	client *Client
	appURL string
	logger zerolog.Logger
}

// NewFetcher creates a fetcher. appURL is used to build task deep links.
func NewFetcher(client *Client, appURL string, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		client: client,
		appURL: strings.TrimRight(appURL, "/"),
		logger: logger.With().Str("component", "fetcher").Logger(),
	}
}

// FetchAll retrieves every page (up to model.MaxPages) from candidate.
// Pages are requested strictly one after another because each request
// needs the previous cursor. An error on the first page is returned; an
// error on a later page yields a partial result and a nil error.
func (f *Fetcher) FetchAll(
	ctx context.Context,
	c Candidate,
	cred credential.Credential,
	target Target,
	opts FetchOptions,
) (*FetchResult, error) {
	opts = opts.withDefaults()

	var (
		result *FetchResult
		err    error
	)
	switch c.Kind {
	case KindBundleSearch:
		result, err = f.fetchBundles(ctx, c, cred, target, opts)
	case KindTaskList:
		result, err = f.fetchTasks(ctx, c, cred, target)
	default:
		return nil, fmt.Errorf("candidate %s cannot serve a search", c.Name)
	}
	if err != nil {
		return nil, err
	}

	result.Candidate = c.Name
	result.Items = dedupe(result.Items)
	slices.SortStableFunc(result.Items, opts.Sort)
	return result, nil
}

func (f *Fetcher) fetchBundles(
	ctx context.Context,
	c Candidate,
	cred credential.Credential,
	target Target,
	opts FetchOptions,
) (*FetchResult, error) {
	result := &FetchResult{}
	cursor := ""

	for result.Pages < model.MaxPages {
		body := searchRequest{
			FilteredBy: searchFilter{
				Status:     opts.Status,
				BundleType: opts.BundleType,
			},
			Pagination: searchPagination{NextCursor: cursor, Limit: opts.PageSize},
			SortedBy:   searchSort{Direction: "descending"},
		}

		page, err := f.searchPage(ctx, c, cred, target, body)
		if err != nil {
			if result.Pages == 0 {
				return nil, err
			}
			f.logger.Warn().Err(err).Int("page", result.Pages+1).Msg("stopping pagination early")
			result.Partial = true
			result.PartialErr = fmt.Errorf("page %d: %w", result.Pages+1, err)
			return result, nil
		}

		result.Pages++
		result.Items = append(result.Items, f.normalizeBundles(page)...)

		cursor = nextCursor(page)
		f.logger.Debug().
			Int("page", result.Pages).
			Int("total", len(result.Items)).
			Bool("has_more", cursor != "").
			Msg("fetched search page")
		if cursor == "" {
			break
		}
	}

	return result, nil
}

func (f *Fetcher) searchPage(
	ctx context.Context,
	c Candidate,
	cred credential.Credential,
	target Target,
	body searchRequest,
) (*SearchResponse, error) {
	raw, err := f.client.Do(ctx, Request{
		Method:      c.Method,
		URL:         c.URL,
		Body:        body,
		Token:       string(cred),
		WorkspaceID: target.WorkspaceID,
	}, nil)
	if err != nil {
		return nil, err
	}

	if err := ValidateSearchResponse(raw); err != nil {
		return nil, err
	}

	var page SearchResponse
	if err := decodeJSON(raw, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (f *Fetcher) normalizeBundles(page *SearchResponse) []model.NotificationBundle {
	var out []model.NotificationBundle
	for _, g := range page.Groups {
		for _, b := range g.Bundles {
			out = append(out, f.normalizeBundle(b, findTask(page.Resources, b.RootEntityResourceName)))
		}
	}
	return out
}

func findTask(resources []Resource, name string) *Resource {
	if name == "" {
		return nil
	}
	for i := range resources {
		if resources[i].EntityResourceName == name && resources[i].Type == "task" {
			return &resources[i]
		}
	}
	return nil
}

func (f *Fetcher) normalizeBundle(b Bundle, task *Resource) model.NotificationBundle {
	n := model.NotificationBundle{
		ID:          b.ID,
		BundleID:    b.ID,
		Title:       unknownTitle,
		UnreadCount: b.UnreadCount,
		Kind:        b.BundleType,
		OccurredAt:  b.MostRecentNotificationAt.Time,
	}

	if b.Preview != nil {
		if b.Preview.Type != "" {
			n.Kind = b.Preview.Type
		}
		if b.Preview.HistoryItem != nil && !b.Preview.HistoryItem.OccurredAt.IsZero() {
			n.OccurredAt = b.Preview.HistoryItem.OccurredAt.Time
		}
	}

	if b.MostRecentComment != nil {
		var sb strings.Builder
		for _, part := range b.MostRecentComment.CommentPreview {
			sb.WriteString(part.Text)
		}
		n.Description = strings.TrimSpace(sb.String())
	}

	if task != nil {
		n.SourceTaskID = task.ID
		if task.Name != "" {
			n.Title = task.Name
		}
		n.Status = string(task.Status)
		n.Location = model.Location{
			Space:  string(task.Location.Project),
			Folder: string(task.Location.Category),
			List:   string(task.Location.Subcategory),
		}
	}
	if n.SourceTaskID == "" && b.RootEntityResourceName != "" {
		parts := strings.Split(b.RootEntityResourceName, ":")
		n.SourceTaskID = parts[len(parts)-1]
	}
	if task != nil && task.ID != "" {
		n.URL = f.taskURL(task.ID)
	}

	return n
}

func (f *Fetcher) taskURL(id string) string {
	if f.appURL == "" || id == "" {
		return ""
	}
	return f.appURL + "/t/" + id
}

// dedupe keeps the first position of each ID but the last-seen values.
func dedupe(items []model.NotificationBundle) []model.NotificationBundle {
	index := make(map[string]int, len(items))
	out := make([]model.NotificationBundle, 0, len(items))
	for _, it := range items {
		if i, ok := index[it.ID]; ok {
			out[i] = it
			continue
		}
		index[it.ID] = len(out)
		out = append(out, it)
	}
	return out
}
