// Package patentsview queries the PatentsView PatentSearch API for forward
// citations and patent assignees.
//
// Fetch methods return the raw response body so callers can cache it
// verbatim. Parse functions turn a cached or fresh body into typed results.
package patentsview

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultBaseURL is the PatentSearch API root.
const DefaultBaseURL = "https://search.patentsview.org/api/v1"

// Endpoint names double as response-cache namespaces.
const (
	EndpointCitations = "us_patent_citation"
	EndpointAssignees = "patent"
)

// MaxPageSize is the largest page the API accepts.
const MaxPageSize = 1000

// ErrAPI is returned when the API answers 2xx with "error": true in the body.
var ErrAPI = eris.New("patentsview: api reported an error")

// Poster sends a JSON request body and returns the raw response. The fetcher
// behind it owns rate limiting and retries.
type Poster interface {
	PostJSON(ctx context.Context, url string, body any) ([]byte, error)
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// Client builds PatentSearch queries.
type Client struct {
	poster  Poster
	baseURL string
}

// NewClient creates a client that sends requests through poster.
func NewClient(poster Poster, opts ...Option) *Client {
	c := &Client{poster: poster, baseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// query is the PatentSearch request envelope.
type query struct {
	Q map[string]any      `json:"q"`
	F []string            `json:"f"`
	O map[string]any      `json:"o,omitempty"`
	S []map[string]string `json:"s,omitempty"`
}

// CitationsURL is the endpoint queried by FetchCitations.
func (c *Client) CitationsURL() string { return c.baseURL + "/patent/us_patent_citation/" }

// AssigneesURL is the endpoint queried by FetchAssignees.
func (c *Client) AssigneesURL() string { return c.baseURL + "/patent/" }

// FetchCitations requests up to size patents citing patentID.
func (c *Client) FetchCitations(ctx context.Context, patentID string, size int) ([]byte, error) {
	if size <= 0 || size > MaxPageSize {
		size = MaxPageSize
	}
	body := query{
		Q: map[string]any{"citation_patent_id": patentID},
		F: []string{"patent_id", "citation_patent_id"},
		O: map[string]any{"size": size},
		S: []map[string]string{{"patent_id": "asc"}},
	}
	data, err := c.poster.PostJSON(ctx, c.CitationsURL(), body)
	if err != nil {
		return nil, eris.Wrapf(err, "patentsview: citations for %s", patentID)
	}
	return data, nil
}

// FetchAssignees requests assignees for a batch of patent ids.
func (c *Client) FetchAssignees(ctx context.Context, ids []string) ([]byte, error) {
	if len(ids) == 0 {
		return nil, eris.New("patentsview: empty assignee batch")
	}
	size := len(ids)
	if size > MaxPageSize {
		return nil, eris.Errorf("patentsview: assignee batch of %d exceeds %d", size, MaxPageSize)
	}
	body := query{
		Q: map[string]any{"patent_id": ids},
		F: []string{
			"patent_id",
			"assignees.assignee_organization",
			"assignees.assignee_individual_name_first",
			"assignees.assignee_individual_name_last",
		},
		O: map[string]any{"size": size},
	}
	data, err := c.poster.PostJSON(ctx, c.AssigneesURL(), body)
	if err != nil {
		return nil, eris.Wrapf(err, "patentsview: assignees for %d patents", len(ids))
	}
	return data, nil
}

// CitationPage is the parsed forward-citation response.
type CitationPage struct {
	// CitingIDs are distinct citing patent ids in response order.
	CitingIDs []string
	// Total is the API's hit count, which may exceed len(CitingIDs).
	Total int
}

type envelope struct {
	Error     bool   `json:"error"`
	Count     int    `json:"count"`
	TotalHits int    `json:"total_hits"`
	Message   string `json:"message,omitempty"`
}

type citationResponse struct {
	envelope
	Citations []struct {
		PatentID         string `json:"patent_id"`
		CitationPatentID string `json:"citation_patent_id"`
	} `json:"us_patent_citations"`
}

// ParseCitations decodes a us_patent_citation response.
func ParseCitations(data []byte) (*CitationPage, error) {
	var resp citationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, eris.Wrap(err, "patentsview: decode citations")
	}
	if resp.Error {
		return nil, eris.Wrapf(ErrAPI, "citations: %s", resp.Message)
	}

	page := &CitationPage{Total: resp.TotalHits}
	seen := make(map[string]bool, len(resp.Citations))
	for _, c := range resp.Citations {
		id := strings.TrimSpace(c.PatentID)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		page.CitingIDs = append(page.CitingIDs, id)
	}
	if page.Total < len(page.CitingIDs) {
		page.Total = len(page.CitingIDs)
	}
	return page, nil
}

type assigneeResponse struct {
	envelope
	Patents []struct {
		PatentID  string `json:"patent_id"`
		Assignees []struct {
			Organization string `json:"assignee_organization"`
			FirstName    string `json:"assignee_individual_name_first"`
			LastName     string `json:"assignee_individual_name_last"`
		} `json:"assignees"`
	} `json:"patents"`
}

// ParseAssignees decodes a patent response into patent id -> assignee names.
// Individuals without an organization are reported as "First Last".
// Patents with no assignees are present with an empty slice.
func ParseAssignees(data []byte) (map[string][]string, error) {
	var resp assigneeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, eris.Wrap(err, "patentsview: decode assignees")
	}
	if resp.Error {
		return nil, eris.Wrapf(ErrAPI, "assignees: %s", resp.Message)
	}

	out := make(map[string][]string, len(resp.Patents))
	for _, p := range resp.Patents {
		names := out[p.PatentID]
		if names == nil {
			names = []string{}
		}
		for _, a := range p.Assignees {
			name := strings.TrimSpace(a.Organization)
			if name == "" {
				name = strings.TrimSpace(a.FirstName + " " + a.LastName)
			}
			if name != "" {
				names = append(names, name)
			}
		}
		out[p.PatentID] = names
	}
	return out, nil
}
