package adapters

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/promptmack/assistant/internal/httpclient"
	"github.com/promptmack/assistant/internal/poller"
)

const (
	DefaultFirecrawlBaseURL = "https://api.firecrawl.dev"

	JobKindCrawl   = "crawl"
	JobKindExtract = "extract"

	crawlPendingMessage   = "Crawl is still in progress. The results will be available soon."
	extractPendingMessage = "Extraction is still in progress. The results will be available soon."
	searchFailureMessage  = "Failed to perform search. Please try again later."
	emptyMapMessage       = "No URLs found on this website"
)

type FirecrawlConfig struct {
	APIKey  string
	BaseURL string
	Poll    poller.Options
	Options []Option
}

// Firecrawl covers scrape, crawl, map, search and extract. Crawl and extract
// are asynchronous on the vendor side and are polled with a bounded budget.
type Firecrawl struct {
	client *httpclient.Client
	poll   poller.Options
}

func NewFirecrawl(cfg FirecrawlConfig) *Firecrawl {
	return &Firecrawl{
		client: newClient(defaultIfEmpty(cfg.BaseURL, DefaultFirecrawlBaseURL), map[string]string{
			"Authorization": "Bearer " + cfg.APIKey,
		}, cfg.Options),
		poll: cfg.Poll,
	}
}

// PendingResult is returned instead of an error when a job outlives the poll budget.
type PendingResult struct {
	Status  string `json:"status"`
	JobID   string `json:"jobId"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// JobOutcome is either a completed vendor payload or a pending marker.
type JobOutcome struct {
	JobID    string
	Kind     string
	Attempts int
	Payload  map[string]any
	Pending  *PendingResult
}

func (o JobOutcome) Value() any {
	if o.Pending != nil {
		return *o.Pending
	}
	return o.Payload
}

type ScrapeAction struct {
	Type         string   `json:"type"`
	Milliseconds *float64 `json:"milliseconds,omitempty"`
	Selector     string   `json:"selector,omitempty"`
	Text         string   `json:"text,omitempty"`
	Key          string   `json:"key,omitempty"`
}

type ScrapeRequest struct {
	URL     string
	Formats []string
	Actions []ScrapeAction
}

func (f *Firecrawl) Scrape(ctx context.Context, req ScrapeRequest) (map[string]any, error) {
	body := map[string]any{
		"url":     req.URL,
		"formats": formatsOrDefault(req.Formats),
	}
	if len(req.Actions) > 0 {
		body["actions"] = req.Actions
	}
	out := map[string]any{}
	if err := f.client.PostJSON(ctx, "/v1/scrape", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type CrawlRequest struct {
	URL          string
	Limit        int
	Formats      []string
	ExcludePaths []string
}

func (f *Firecrawl) Crawl(ctx context.Context, req CrawlRequest) (JobOutcome, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	body := map[string]any{
		"url":           req.URL,
		"limit":         limit,
		"scrapeOptions": map[string]any{"formats": formatsOrDefault(req.Formats)},
	}
	if len(req.ExcludePaths) > 0 {
		body["excludePaths"] = req.ExcludePaths
	}
	return f.runJob(ctx, JobKindCrawl, "/v1/crawl", body)
}

type ExtractRequest struct {
	URLs            []string
	Prompt          string
	EnableWebSearch bool
}

func (f *Firecrawl) Extract(ctx context.Context, req ExtractRequest) (JobOutcome, error) {
	body := map[string]any{
		"urls":            req.URLs,
		"prompt":          req.Prompt,
		"enableWebSearch": req.EnableWebSearch,
	}
	return f.runJob(ctx, JobKindExtract, "/v1/extract", body)
}

// JobStatus queries a crawl or extract job once. done is true when the vendor
// reports the job as completed.
func (f *Firecrawl) JobStatus(ctx context.Context, kind string, jobID string) (map[string]any, bool, error) {
	path, err := jobPath(kind)
	if err != nil {
		return nil, false, err
	}
	out := map[string]any{}
	if err := f.client.GetJSON(ctx, path+"/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, false, err
	}
	status, _ := out["status"].(string)
	return out, status == "completed", nil
}

func (f *Firecrawl) runJob(ctx context.Context, kind string, path string, body map[string]any) (JobOutcome, error) {
	result, err := poller.Run(ctx, f.poll, poller.Job[map[string]any]{
		Submit: func(ctx context.Context) (string, error) {
			var submitted struct {
				ID      string `json:"id"`
				Success *bool  `json:"success"`
				Error   string `json:"error"`
			}
			if err := f.client.PostJSON(ctx, path, body, &submitted); err != nil {
				return "", err
			}
			if submitted.ID == "" {
				if submitted.Error != "" {
					return "", fmt.Errorf("%s submit rejected: %s", kind, submitted.Error)
				}
				return "", fmt.Errorf("%s submit returned no job id", kind)
			}
			return submitted.ID, nil
		},
		Status: func(ctx context.Context, jobID string) (map[string]any, bool, error) {
			return f.JobStatus(ctx, kind, jobID)
		},
	})
	if err != nil {
		return JobOutcome{JobID: result.JobID, Kind: kind, Attempts: result.Attempts}, err
	}
	outcome := JobOutcome{JobID: result.JobID, Kind: kind, Attempts: result.Attempts}
	if result.Completed() {
		outcome.Payload = result.Value
		return outcome, nil
	}
	outcome.Pending = &PendingResult{
		Status:  "pending",
		JobID:   result.JobID,
		Kind:    kind,
		Message: PendingMessage(kind),
	}
	return outcome, nil
}

func PendingMessage(kind string) string {
	if kind == JobKindExtract {
		return extractPendingMessage
	}
	return crawlPendingMessage
}

func jobPath(kind string) (string, error) {
	switch kind {
	case JobKindCrawl:
		return "/v1/crawl", nil
	case JobKindExtract:
		return "/v1/extract", nil
	}
	return "", fmt.Errorf("unknown job kind %q", kind)
}

type MapRequest struct {
	URL               string
	Search            string
	IncludeSubdomains bool
}

type SiteNode struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Name  string `json:"name"`
	Group int    `json:"group"`
	Level int    `json:"level"`
}

type SiteLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Value  int    `json:"value"`
}

type SiteGraph struct {
	Nodes   []SiteNode `json:"nodes"`
	Links   []SiteLink `json:"links"`
	Total   int        `json:"total,omitempty"`
	Message string     `json:"message,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// Map lists a site's URLs and shapes them into a graph where an edge joins a
// URL to every URL nested under it.
func (f *Firecrawl) Map(ctx context.Context, req MapRequest) (any, error) {
	body := map[string]any{
		"url":               req.URL,
		"includeSubdomains": req.IncludeSubdomains,
	}
	if req.Search != "" {
		body["search"] = req.Search
	}
	out := map[string]any{}
	if err := f.client.PostJSON(ctx, "/v1/map", body, &out); err != nil {
		return nil, err
	}
	success, _ := out["success"].(bool)
	status, _ := out["status"].(string)
	if rawLinks, ok := out["links"].([]any); ok && (success || status == "success") {
		links := make([]string, 0, len(rawLinks))
		for _, raw := range rawLinks {
			if link, ok := raw.(string); ok {
				links = append(links, link)
			}
		}
		return BuildSiteGraph(links), nil
	}
	if vendorErr, ok := out["error"]; ok && vendorErr != nil {
		return SiteGraph{Nodes: []SiteNode{}, Links: []SiteLink{}, Error: fmt.Sprint(vendorErr)}, nil
	}
	return out, nil
}

func BuildSiteGraph(links []string) SiteGraph {
	nodes := make([]SiteNode, 0, len(links))
	for idx, link := range links {
		level := 0
		if parsed, err := url.Parse(link); err == nil {
			for _, segment := range strings.Split(parsed.Path, "/") {
				if segment != "" {
					level++
				}
			}
		}
		group := 3
		switch {
		case level < 1:
			group = 1
		case level < 2:
			group = 2
		}
		name := strings.TrimPrefix(strings.TrimPrefix(link, "https://"), "http://")
		nodes = append(nodes, SiteNode{
			ID:    fmt.Sprintf("node-%d", idx),
			URL:   link,
			Name:  strings.TrimSuffix(name, "/"),
			Group: group,
			Level: level,
		})
	}
	edges := []SiteLink{}
	for i := range nodes {
		prefix := nodes[i].URL + "/"
		for j := range nodes {
			if i != j && strings.HasPrefix(nodes[j].URL, prefix) {
				edges = append(edges, SiteLink{Source: nodes[i].ID, Target: nodes[j].ID, Value: 1})
			}
		}
	}
	graph := SiteGraph{Nodes: nodes, Links: edges, Total: len(nodes)}
	if len(nodes) == 0 {
		graph.Message = emptyMapMessage
	}
	return graph
}

type SearchRequest struct {
	Query         string
	Limit         int
	ScrapeResults bool
	Formats       []string
}

type SearchHit struct {
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	Description string         `json:"description,omitempty"`
	Markdown    string         `json:"markdown,omitempty"`
	HTML        string         `json:"html,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type SearchResult struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Search never fails: vendor and transport errors are reported inside the
// result so the conversation can show them inline.
func (f *Firecrawl) Search(ctx context.Context, req SearchRequest) (any, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}
	body := map[string]any{
		"query": req.Query,
		"limit": limit,
	}
	if req.ScrapeResults {
		body["scrapeOptions"] = map[string]any{"formats": formatsOrDefault(req.Formats)}
	}
	var out struct {
		Success bool        `json:"success"`
		Data    []SearchHit `json:"data"`
		Error   any         `json:"error"`
	}
	if err := f.client.PostJSON(ctx, "/v1/search", body, &out); err != nil {
		log.Printf("firecrawl search %q: %v", req.Query, err)
		return SearchResult{Query: req.Query, Error: searchFailureMessage}, nil
	}
	if out.Success && out.Data != nil {
		return SearchResult{Query: req.Query, Results: out.Data}, nil
	}
	if out.Error != nil {
		return SearchResult{Query: req.Query, Error: fmt.Sprint(out.Error)}, nil
	}
	return SearchResult{Query: req.Query, Results: []SearchHit{}}, nil
}

func formatsOrDefault(formats []string) []string {
	if len(formats) == 0 {
		return []string{"markdown"}
	}
	return formats
}
