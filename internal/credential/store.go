package credential

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/nhle/swipe/internal/source"
)

// Store reads the session credential for one domain from a Jar.
type Store struct {
	jar    Jar
	domain string
	name   string
	now    func() time.Time
}

// NewStore creates a credential store for the named cookie on domain.
func NewStore(jar Jar, domain, name string) *Store {
	return &Store{jar: jar, domain: domain, name: name, now: time.Now}
}

// WithClock replaces the wall clock used to evaluate expiry.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// GetCredential reads the credential fresh from the jar. A missing cookie
// returns source.ErrNotAuthenticated. Info is nil when the token cannot be
// introspected.
func (s *Store) GetCredential(ctx context.Context) (Credential, *Info, error) {
	value, err := s.jar.Cookie(ctx, s.domain, s.name)
	if errors.Is(err, ErrCookieNotFound) {
		return "", nil, fmt.Errorf("%s cookie for %s: %w", s.name, s.domain, source.ErrNotAuthenticated)
	}
	if err != nil {
		return "", nil, fmt.Errorf("reading credential: %w", err)
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil, fmt.Errorf("%s cookie for %s is empty: %w", s.name, s.domain, source.ErrNotAuthenticated)
	}

	cred := Credential(value)
	return cred, cred.Info(s.now()), nil
}

// Target is the authenticated web-app context the producer acts for.
type Target struct {
	WorkspaceID string
	URL         string
}

// workspacePathPattern matches the numeric workspace segment of a web-app
// URL such as /9011099466/home.
var workspacePathPattern = regexp.MustCompile(`/(\d+)(?:/|$)`)

// LocateTarget picks the first URL on domain that carries a workspace id.
// A configured workspace takes precedence. With neither, it fails fast
// with source.ErrNoTargetContext.
func LocateTarget(urls []string, domain, workspaceID string) (Target, error) {
	if workspaceID != "" {
		return Target{WorkspaceID: workspaceID}, nil
	}

	for _, raw := range urls {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || !strings.EqualFold(u.Hostname(), domain) {
			continue
		}
		m := workspacePathPattern.FindStringSubmatch(u.Path)
		if m == nil {
			continue
		}
		return Target{WorkspaceID: m[1], URL: u.String()}, nil
	}

	return Target{}, source.ErrNoTargetContext
}
