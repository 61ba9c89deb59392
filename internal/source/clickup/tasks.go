package clickup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nhle/swipe/internal/credential"
	"github.com/nhle/swipe/internal/model"
	"github.com/nhle/swipe/internal/source"
)

// taskKind is the Kind given to records derived from assigned tasks.
const taskKind = "task"

// fetchTasks derives inbox records from the user's open assigned tasks.
// The task list is paged by number and shares the page cap with bundle
// search.
func (f *Fetcher) fetchTasks(
	ctx context.Context,
	c Candidate,
	cred credential.Credential,
	target Target,
) (*FetchResult, error) {
	result := &FetchResult{}

	for page := 0; page < model.MaxPages; page++ {
		pageURL, err := withPage(c.URL, page)
		if err != nil {
			return nil, fmt.Errorf("building task list url: %w", err)
		}

		raw, err := f.client.Do(ctx, Request{
			Method:      c.Method,
			URL:         pageURL,
			Token:       string(cred),
			WorkspaceID: target.WorkspaceID,
		}, nil)
		if err == nil {
			var resp TaskListResponse
			if err = decodeJSON(raw, &resp); err == nil {
				result.Pages++
				for _, t := range resp.Tasks {
					if isClosed(t.Status) {
						continue
					}
					result.Items = append(result.Items, f.taskRecord(t))
				}
				if len(resp.Tasks) == 0 || resp.LastPage == nil || *resp.LastPage {
					return result, nil
				}
				continue
			}
		}

		if result.Pages == 0 {
			return nil, err
		}
		result.Partial = true
		result.PartialErr = fmt.Errorf("page %d: %w", page+1, err)
		return result, nil
	}

	return result, nil
}

func isClosed(s taskStatus) bool {
	switch strings.ToLower(s.Type) {
	case "closed", "done":
		return true
	}
	return false
}

func (f *Fetcher) taskRecord(t Task) model.NotificationBundle {
	title := t.Name
	if title == "" {
		title = unknownTitle
	}
	link := t.URL
	if link == "" {
		link = f.taskURL(t.ID)
	}
	return model.NotificationBundle{
		ID:           t.ID,
		SourceTaskID: t.ID,
		Title:        title,
		Description:  strings.TrimSpace(t.Description),
		Status:       t.Status.Status,
		Location: model.Location{
			Folder: string(t.Folder),
			List:   string(t.List),
		},
		OccurredAt: t.DateUpdated.Time,
		Kind:       taskKind,
		URL:        link,
	}
}

func withPage(raw string, page int) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func decodeJSON(raw []byte, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", source.ErrUnexpectedShape, err)
	}
	return nil
}
