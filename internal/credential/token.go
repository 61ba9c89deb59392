package credential

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/swipe/internal/source"
)

// Credential is an opaque session bearer token.
type Credential string

// Info is the introspected view of a credential. It is derived from the
// raw token and a point in time on every call and never stored.
type Info struct {
	SubjectID    string     `json:"subjectId"`
	WorkspaceKey string     `json:"workspaceKey"`
	IssuedAt     *time.Time `json:"issuedAt,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`

	// IsExpired is true only when now is strictly after ExpiresAt.
	IsExpired bool `json:"isExpired"`

	// HoursUntilExpiry is nil when the expiry is unknown.
	HoursUntilExpiry *int `json:"hoursUntilExpiry,omitempty"`
}

// Info decodes the credential at time now. It returns nil when the token
// cannot be introspected; such a credential may still be usable.
func (c Credential) Info(now time.Time) *Info {
	return Decode(string(c), now)
}

// claims are the payload fields we read. The subject is numeric in
// practice but is accepted as either a number or a string.
type claims struct {
	User  json.RawMessage `json:"user"`
	WSKey json.RawMessage `json:"ws_key"`
	Iat   *float64        `json:"iat"`
	Exp   *float64        `json:"exp"`
}

// Decode introspects a three-segment dot-delimited token. Any other shape
// or any decoding failure yields nil.
func Decode(raw string, now time.Time) *Info {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil
	}

	payload, ok := decodeSegment(parts[1])
	if !ok {
		return nil
	}

	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil
	}

	info := &Info{
		SubjectID:    scalarString(c.User),
		WorkspaceKey: scalarString(c.WSKey),
	}
	if c.Iat != nil {
		t := unixSeconds(*c.Iat)
		info.IssuedAt = &t
	}
	if c.Exp != nil {
		t := unixSeconds(*c.Exp)
		info.ExpiresAt = &t
		info.IsExpired = now.After(t)
		// Half-hours round up, matching the web client's display.
		hours := int(math.Floor(t.Sub(now).Hours() + 0.5))
		info.HoursUntilExpiry = &hours
	}

	return info
}

// CheckUsable returns ErrCredentialExpired when info reports an expiry in
// the past. Unknown expiry is treated as usable.
func CheckUsable(info *Info) error {
	if info != nil && info.IsExpired {
		return source.ErrCredentialExpired
	}
	return nil
}

// decodeSegment accepts both URL-safe and standard base64, padded or not.
func decodeSegment(seg string) ([]byte, bool) {
	encodings := []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	}
	for _, enc := range encodings {
		if b, err := enc.DecodeString(seg); err == nil {
			return b, true
		}
	}
	return nil, false
}

func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func unixSeconds(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// FormatHours renders HoursUntilExpiry for humans.
func (i *Info) FormatHours() string {
	if i == nil || i.HoursUntilExpiry == nil {
		return "unknown"
	}
	return strconv.Itoa(*i.HoursUntilExpiry) + "h"
}
