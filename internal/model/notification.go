package model

import "time"

// Location names where the underlying task lives in the remote hierarchy.
type Location struct {
	Space  string `json:"space"`
	Folder string `json:"folder"`
	List   string `json:"list"`
}

// NotificationBundle is the uniform inbox record produced from a remote
// notification bundle (or, in fallback mode, from an assigned task).
type NotificationBundle struct {
	// ID is the stable identity of the record. It may contain characters
	// such as '#' that must be escaped before use in a URL path.
	ID string `json:"id" validate:"required"`

	// BundleID is the remote grouping key when it differs from ID.
	// Use GroupID to read it with the default applied.
	BundleID string `json:"bundleId,omitempty"`

	// SourceTaskID is the identifier of the task the bundle refers to.
	SourceTaskID string `json:"sourceTaskId"`

	Title       string   `json:"title"`
	Description string   `json:"descriptionText"`
	Status      string   `json:"status"`
	Location    Location `json:"locationPath"`

	// OccurredAt is when the most recent notification in the bundle
	// happened. Zero when the remote did not report it.
	OccurredAt time.Time `json:"occurredAt"`

	// Kind is the notification type (e.g. "comment", "assignee_add").
	Kind string `json:"kind"`

	UnreadCount int `json:"unreadCount"`

	// URL is a deep link to the task in the web app.
	URL string `json:"url,omitempty"`
}

// GroupID returns BundleID, defaulting to ID when the remote grouping
// is the record identity.
func (n NotificationBundle) GroupID() string {
	if n.BundleID != "" {
		return n.BundleID
	}
	return n.ID
}

// Unread reports whether the bundle has unseen notifications.
func (n NotificationBundle) Unread() bool {
	return n.UnreadCount > 0
}

// Matches reports whether id names this record by either identity field.
func (n NotificationBundle) Matches(id string) bool {
	return id != "" && (n.ID == id || n.GroupID() == id)
}

// Operation is a logical remote mutation on a bundle.
type Operation string

const (
	OperationSearch   Operation = "search"
	OperationClear    Operation = "clear"
	OperationMarkRead Operation = "mark-read"
)

// ItemResult is the outcome of one id in a clear/mark-read batch.
type ItemResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Status  int    `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`

	// AlreadyCleared is set when the remote no longer knows the bundle.
	// Such items count as successful.
	AlreadyCleared bool `json:"alreadyCleared,omitempty"`
}

// BatchResult carries one outcome per requested id plus the size of the
// cached snapshot after reconciliation.
type BatchResult struct {
	Results        []ItemResult `json:"results"`
	RemainingCount int          `json:"remainingCount"`
}

// Succeeded returns the ids whose mutation succeeded.
func (b *BatchResult) Succeeded() []string {
	ids := make([]string, 0, len(b.Results))
	for _, r := range b.Results {
		if r.Success {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// Failed returns the number of items that did not succeed.
func (b *BatchResult) Failed() int {
	n := 0
	for _, r := range b.Results {
		if !r.Success {
			n++
		}
	}
	return n
}
