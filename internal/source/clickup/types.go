package clickup

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// searchRequest is the body of POST .../notifications/bundles/search.
type searchRequest struct {
	FilteredBy     searchFilter     `json:"filteredBy"`
	Pagination     searchPagination `json:"pagination"`
	SortedBy       searchSort       `json:"sortedBy"`
	NeedsMemberMap bool             `json:"needsMemberMap"`
}

type searchFilter struct {
	Status       string `json:"status"`
	Saved        bool   `json:"saved"`
	AssignedToMe bool   `json:"assignedToMe"`
	Mentioned    bool   `json:"mentioned"`
	Unread       bool   `json:"unread"`
	Reminders    bool   `json:"reminders"`
	BundleType   string `json:"bundleType,omitempty"`
}

type searchPagination struct {
	NextCursor string `json:"nextCursor"`
	Limit      int    `json:"limit"`
}

type searchSort struct {
	Direction string `json:"direction"`
}

// SearchResponse is one page of the bundle search endpoint.
type SearchResponse struct {
	Groups     []BundleGroup       `json:"notificationBundleGroups"`
	Resources  []Resource          `json:"resources"`
	Pagination *responsePagination `json:"pagination"`
	NextCursor *string             `json:"nextCursor"`
}

type responsePagination struct {
	NextCursor *string `json:"nextCursor"`
}

// BundleGroup is a date bucket of bundles.
type BundleGroup struct {
	Bundles []Bundle `json:"notificationBundles"`
}

// Bundle is a remote notification bundle.
type Bundle struct {
	ID                       string               `json:"id"`
	BundleType               string               `json:"bundleType"`
	RootEntityResourceName   string               `json:"rootEntityResourceName"`
	UnreadCount              int                  `json:"unreadCount"`
	MostRecentNotificationAt flexTime             `json:"mostRecentNotificationTime"`
	Preview                  *previewNotification `json:"previewNotification"`
	MostRecentComment        *commentNotification `json:"mostRecentCommentNotification"`
}

type previewNotification struct {
	Type        string       `json:"type"`
	HistoryItem *historyItem `json:"historyItem"`
}

type historyItem struct {
	OccurredAt flexTime `json:"occurredAt"`
}

type commentNotification struct {
	CommentPreview []commentPart `json:"commentPreview"`
}

type commentPart struct {
	Text string `json:"text"`
}

// Resource is a side-loaded entity referenced by bundles.
type Resource struct {
	ID                 string           `json:"id"`
	Type               string           `json:"type"`
	EntityResourceName string           `json:"entityResourceName"`
	Name               string           `json:"name"`
	Status             nameOrString     `json:"status"`
	Location           resourceLocation `json:"location"`
}

type resourceLocation struct {
	Project     nameOrString `json:"project"`
	Category    nameOrString `json:"category"`
	Subcategory nameOrString `json:"subcategory"`
}

// nameOrString decodes either a bare string or an object carrying a
// "name" (or "status") field. Anything else decodes to "".
type nameOrString string

func (n *nameOrString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*n = nameOrString(s)
		return nil
	}

	var obj struct {
		Name   *string `json:"name"`
		Status *string `json:"status"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		switch {
		case obj.Name != nil:
			*n = nameOrString(*obj.Name)
		case obj.Status != nil:
			*n = nameOrString(*obj.Status)
		default:
			*n = ""
		}
		return nil
	}

	*n = ""
	return nil
}

// flexTime decodes RFC 3339 strings and epoch numbers (milliseconds when
// large enough, otherwise seconds), either bare or quoted. Zero and
// unparseable values decode to the zero time.
type flexTime struct {
	time.Time
}

// epochMillisThreshold separates second and millisecond epochs.
const epochMillisThreshold = 1e11

func (f *flexTime) UnmarshalJSON(data []byte) error {
	f.Time = time.Time{}

	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if raw == "" || raw == "null" {
		return nil
	}

	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		switch {
		case v == 0:
		case v >= epochMillisThreshold:
			f.Time = time.UnixMilli(int64(v)).UTC()
		default:
			f.Time = time.Unix(int64(v), 0).UTC()
		}
		return nil
	}

	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		f.Time = t.UTC()
	}
	return nil
}

// TaskListResponse is the public API task list used by the fallback
// search candidate.
type TaskListResponse struct {
	Tasks    []Task `json:"tasks"`
	LastPage *bool  `json:"last_page"`
}

// Task is an assigned task from the public API.
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"text_content"`
	Status      taskStatus `json:"status"`
	DateUpdated flexTime   `json:"date_updated"`
	URL         string     `json:"url"`
	Space       struct {
		ID string `json:"id"`
	} `json:"space"`
	Folder nameOrString `json:"folder"`
	List   nameOrString `json:"list"`
}

type taskStatus struct {
	Status string `json:"status"`
	Type   string `json:"type"`
}
