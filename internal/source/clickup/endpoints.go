package clickup

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/nhle/swipe/internal/model"
)

// CandidateKind tells the caller how to interpret a candidate's response.
type CandidateKind int

const (
	// KindBundleSearch is the paginated inbox bundle search.
	KindBundleSearch CandidateKind = iota
	// KindTaskList derives inbox records from assigned tasks.
	KindTaskList
	// KindMutation is a clear or mark-read call with no useful body.
	KindMutation
)

// Candidate is one concrete endpoint able to serve an operation.
type Candidate struct {
	Name   string
	Kind   CandidateKind
	Method string
	URL    string
	Body   interface{}
}

// Target names what an operation acts on.
type Target struct {
	WorkspaceID string
	// SubjectID is the signed-in user, needed by the task-list fallback.
	SubjectID string
	// ItemID is the bundle id for mutations, unescaped.
	ItemID string
}

// Endpoints is the catalog of candidates, in priority order, for each
// logical operation.
type Endpoints struct {
	FrontdoorURLs []string
	APIURL        string
}

// NewEndpoints builds a catalog from configuration.
func NewEndpoints(cfg model.ClickUpConfig) Endpoints {
	hosts := make([]string, 0, len(cfg.FrontdoorURLs))
	for _, h := range cfg.FrontdoorURLs {
		if h = strings.TrimRight(strings.TrimSpace(h), "/"); h != "" {
			hosts = append(hosts, h)
		}
	}
	return Endpoints{
		FrontdoorURLs: hosts,
		APIURL:        strings.TrimRight(cfg.APIURL, "/"),
	}
}

// Candidates returns the ordered candidate list for op against target.
func (e Endpoints) Candidates(op model.Operation, target Target) []Candidate {
	ws := url.PathEscape(target.WorkspaceID)
	id := url.PathEscape(target.ItemID)

	var out []Candidate
	switch op {
	case model.OperationSearch:
		for _, host := range e.FrontdoorURLs {
			out = append(out, Candidate{
				Name:   host + " bundles/search",
				Kind:   KindBundleSearch,
				Method: http.MethodPost,
				URL:    host + "/inbox/v3/workspaces/" + ws + "/notifications/bundles/search",
			})
		}
		if e.APIURL != "" && target.SubjectID != "" {
			q := url.Values{}
			q.Set("assignees[]", target.SubjectID)
			q.Set("subtasks", "true")
			q.Set("include_closed", "false")
			q.Set("order_by", "updated")
			q.Set("reverse", "true")
			out = append(out, Candidate{
				Name:   "api team tasks",
				Kind:   KindTaskList,
				Method: http.MethodGet,
				URL:    e.APIURL + "/api/v2/team/" + ws + "/task?" + q.Encode(),
			})
		}

	case model.OperationClear:
		for _, host := range e.FrontdoorURLs {
			out = append(out, Candidate{
				Name:   host + " bundles/clear",
				Kind:   KindMutation,
				Method: http.MethodPut,
				URL:    host + "/inbox/v3/workspaces/" + ws + "/notifications/bundles/" + id + "/clear",
				Body:   struct{}{},
			})
		}

	case model.OperationMarkRead:
		for _, host := range e.FrontdoorURLs {
			out = append(out, Candidate{
				Name:   host + " bundles/read",
				Kind:   KindMutation,
				Method: http.MethodPut,
				URL:    host + "/inbox/v3/workspaces/" + ws + "/notifications/bundles/" + id + "/read",
				Body:   struct{}{},
			})
		}
		if e.APIURL != "" {
			out = append(out, Candidate{
				Name:   "api notification seen",
				Kind:   KindMutation,
				Method: http.MethodPut,
				URL:    e.APIURL + "/api/v2/notification/" + id,
				Body:   map[string]bool{"seen": true},
			})
		}
	}

	return out
}
