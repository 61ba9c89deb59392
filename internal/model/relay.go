package model

import "time"

// RelayTTL is how long a pushed snapshot stays valid.
const RelayTTL = time.Hour

// RelayRecord is the single snapshot held by the relay slot.
type RelayRecord struct {
	Notifications []NotificationBundle `json:"notifications"`
	Credential    string               `json:"credential"`
	WorkspaceID   string               `json:"workspaceId"`
	Producer      string               `json:"producer"`
	CreatedAt     time.Time            `json:"createdAt"`
}

// Snapshot is the consumer-facing view of a RelayRecord. The credential
// itself never leaves the relay.
type Snapshot struct {
	Notifications []NotificationBundle `json:"notifications"`
	WorkspaceID   string               `json:"workspaceId"`
	Producer      string               `json:"producer"`
	CreatedAt     time.Time            `json:"createdAt"`
	HasCredential bool                 `json:"hasCredential"`
	Count         int                  `json:"count"`
}

// Snapshot converts the record to its consumer view.
func (r RelayRecord) Snapshot() Snapshot {
	items := r.Notifications
	if items == nil {
		items = []NotificationBundle{}
	}
	return Snapshot{
		Notifications: items,
		WorkspaceID:   r.WorkspaceID,
		Producer:      r.Producer,
		CreatedAt:     r.CreatedAt,
		HasCredential: r.Credential != "",
		Count:         len(items),
	}
}

// Without returns a copy of the record minus every notification matched
// by one of ids (on ID or BundleID).
func (r RelayRecord) Without(ids []string) RelayRecord {
	if len(ids) == 0 {
		return r
	}
	kept := make([]NotificationBundle, 0, len(r.Notifications))
	for _, n := range r.Notifications {
		drop := false
		for _, id := range ids {
			if n.Matches(id) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, n)
		}
	}
	r.Notifications = kept
	return r
}
