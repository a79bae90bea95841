// Package catalog declares every tool the assistant can call and builds the
// process-wide registry from them.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/promptmack/assistant/internal/adapters"
	"github.com/promptmack/assistant/internal/blob"
	"github.com/promptmack/assistant/internal/jobs"
	"github.com/promptmack/assistant/internal/tools"
)

const (
	agentDisabledError   = "The FIRE-1 agent has been disabled. Please use other search or extraction tools instead."
	agentDisabledMessage = "The FIRE-1 agent is not available"
	defaultTableTitle    = "Data Table"
	defaultTableMaxRows  = 50
)

var scrapeFormats = []string{"markdown", "html", "rawHtml", "links", "screenshot"}

type SearchService interface {
	News(ctx context.Context, query string) (map[string]any, error)
	Videos(ctx context.Context, query string) (map[string]any, error)
	Scholar(ctx context.Context, query string) (map[string]any, error)
}

type SimilarService interface {
	FindSimilar(ctx context.Context, url string) (map[string]any, error)
}

type FormService interface {
	SubmitTask(ctx context.Context, task adapters.FormTask) (map[string]any, error)
}

type WeatherService interface {
	Forecast(ctx context.Context, latitude float64, longitude float64) (map[string]any, error)
}

type ImageService interface {
	Generate(ctx context.Context, req adapters.ImageRequest) ([]adapters.GeneratedImage, error)
}

type WebService interface {
	Scrape(ctx context.Context, req adapters.ScrapeRequest) (map[string]any, error)
	Crawl(ctx context.Context, req adapters.CrawlRequest) (adapters.JobOutcome, error)
	Map(ctx context.Context, req adapters.MapRequest) (any, error)
	Search(ctx context.Context, req adapters.SearchRequest) (any, error)
	Extract(ctx context.Context, req adapters.ExtractRequest) (adapters.JobOutcome, error)
}

type PendingRecorder interface {
	RecordPending(ctx context.Context, job jobs.AsyncJob) error
}

type Deps struct {
	Search  SearchService
	Similar SimilarService
	Forms   FormService
	Weather WeatherService
	Images  ImageService
	Web     WebService
	// Jobs and Blobs are optional.
	Jobs  PendingRecorder
	Blobs blob.Store
	// Disabled names tools that answer with a fixed result instead of running.
	Disabled []string
	Now      func() time.Time
}

type catalog struct {
	deps Deps
}

// NewRegistry returns the registry with every tool. firecrawlAgent is always
// disabled.
func NewRegistry(deps Deps) (*tools.Registry, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Search == nil || deps.Similar == nil || deps.Forms == nil || deps.Weather == nil || deps.Images == nil || deps.Web == nil {
		return nil, errors.New("catalog: every vendor service is required")
	}
	c := &catalog{deps: deps}
	specs := c.specs()
	disabled := map[string]bool{"firecrawlAgent": true}
	for _, name := range deps.Disabled {
		disabled[name] = true
	}
	for idx := range specs {
		if disabled[specs[idx].Name] {
			specs[idx].Disabled = true
			if specs[idx].DisabledResult == nil {
				specs[idx].DisabledResult = disabledResult(specs[idx].Name)
			}
		}
	}
	return tools.NewRegistry(specs...)
}

func (c *catalog) specs() []tools.Spec {
	return []tools.Spec{
		{
			Name:        "getNews",
			Description: "Get news articles based on a search query",
			Schema:      tools.SchemaFor[queryParams](tools.Describe("query", "Search query for news articles")),
			Bind: tools.Typed(func(ctx context.Context, p queryParams) (any, error) {
				return c.deps.Search.News(ctx, p.Query)
			}),
		},
		{
			Name:        "getVideos",
			Description: "Get videos based on a search query",
			Schema:      tools.SchemaFor[queryParams](tools.Describe("query", "Search query for videos")),
			Bind: tools.Typed(func(ctx context.Context, p queryParams) (any, error) {
				return c.deps.Search.Videos(ctx, p.Query)
			}),
		},
		{
			Name:        "getScholar",
			Description: "Get scholarly articles based on a search query",
			Schema:      tools.SchemaFor[queryParams](tools.Describe("query", "Search query for scholarly articles")),
			Bind: tools.Typed(func(ctx context.Context, p queryParams) (any, error) {
				return c.deps.Search.Scholar(ctx, p.Query)
			}),
		},
		{
			Name:        "getWeather",
			Description: "Get the current weather at a location",
			Schema:      tools.SchemaFor[weatherParams](),
			Bind: tools.Typed(func(ctx context.Context, p weatherParams) (any, error) {
				return c.deps.Weather.Forecast(ctx, p.Latitude, p.Longitude)
			}),
		},
		{
			Name:        "findSimilar",
			Description: "Find similar websites based on a URL",
			Schema:      tools.SchemaFor[urlParams](),
			Bind: tools.Typed(func(ctx context.Context, p urlParams) (any, error) {
				return c.deps.Similar.FindSimilar(ctx, p.URL)
			}),
		},
		{
			Name:        "skyvernFormSubmit",
			Description: "Submit forms and interact with web pages",
			Schema:      tools.SchemaFor[formParams](),
			Bind: tools.Typed(func(ctx context.Context, p formParams) (any, error) {
				return c.deps.Forms.SubmitTask(ctx, adapters.FormTask{
					URL:               p.URL,
					NavigationGoal:    p.NavigationGoal,
					NavigationPayload: p.NavigationPayload,
				})
			}),
		},
		{
			Name:        "firecrawlScrape",
			Description: "Scrape and extract clean content from a specific URL",
			Schema:      tools.SchemaFor[scrapeParams](tools.OneOf("formats", scrapeFormats...)),
			Bind: tools.Typed(func(ctx context.Context, p scrapeParams) (any, error) {
				return c.deps.Web.Scrape(ctx, adapters.ScrapeRequest{URL: p.URL, Formats: p.Formats, Actions: p.Actions})
			}),
		},
		{
			Name:        "firecrawlCrawl",
			Description: "Crawl an entire website and extract content from all pages",
			Schema:      tools.SchemaFor[crawlParams](tools.OneOf("formats", scrapeFormats...)),
			Bind: tools.Typed(func(ctx context.Context, p crawlParams) (any, error) {
				outcome, err := c.deps.Web.Crawl(ctx, adapters.CrawlRequest{
					URL:          p.URL,
					Limit:        p.limitOrDefault(),
					Formats:      p.Formats,
					ExcludePaths: p.ExcludePaths,
				})
				if err != nil {
					return nil, err
				}
				return c.settle(ctx, outcome), nil
			}),
		},
		{
			Name:        "firecrawlMap",
			Description: "Map all URLs on a website quickly",
			Schema:      tools.SchemaFor[mapParams](),
			Bind: tools.Typed(func(ctx context.Context, p mapParams) (any, error) {
				return c.deps.Web.Map(ctx, adapters.MapRequest{URL: p.URL, Search: p.Search, IncludeSubdomains: p.IncludeSubdomains})
			}),
		},
		{
			Name:        "firecrawlSearch",
			Description: "Search the web and retrieve content from search results",
			Schema:      tools.SchemaFor[searchParams](tools.OneOf("formats", "markdown", "html", "rawHtml", "links")),
			Bind: tools.Typed(func(ctx context.Context, p searchParams) (any, error) {
				return c.deps.Web.Search(ctx, adapters.SearchRequest{
					Query:         p.Query,
					Limit:         p.limitOrDefault(),
					ScrapeResults: p.ScrapeResults,
					Formats:       p.Formats,
				})
			}),
		},
		{
			Name:        "firecrawlExtract",
			Description: "Extract structured data from web pages using AI",
			Schema:      tools.SchemaFor[extractParams](),
			Bind: tools.Typed(func(ctx context.Context, p extractParams) (any, error) {
				outcome, err := c.deps.Web.Extract(ctx, adapters.ExtractRequest{
					URLs:            p.URLs,
					Prompt:          p.Prompt,
					EnableWebSearch: p.EnableWebSearch,
				})
				if err != nil {
					return nil, err
				}
				return c.settle(ctx, outcome), nil
			}),
		},
		{
			Name:        "dataTable",
			Description: "Create a formatted data table from structured data (arrays of objects or single objects)",
			Schema:      tools.SchemaFor[tableParams](),
			Bind: tools.Typed(func(ctx context.Context, p tableParams) (any, error) {
				return c.dataTable(p), nil
			}),
		},
		{
			Name:        "generateImage",
			Description: "Generate images from a text description",
			Schema:      tools.SchemaFor[imageParams](tools.OneOf("aspectRatio", aspectRatios...)),
			Bind:        tools.Typed(c.generateImage),
		},
		{
			Name:        "firecrawlAgent",
			Description: "This tool is disabled",
			Schema:      tools.SchemaFor[agentParams](tools.OneOf("formats", scrapeFormats...)),
			DisabledResult: AgentDisabledResult{
				Success: false,
				Error:   agentDisabledError,
				Message: agentDisabledMessage,
				Data:    nil,
			},
		},
	}
}

// settle turns a job outcome into the tool result and remembers pending jobs.
func (c *catalog) settle(ctx context.Context, outcome adapters.JobOutcome) any {
	if outcome.Pending != nil && c.deps.Jobs != nil {
		info := tools.CallInfoFrom(ctx)
		job := jobs.AsyncJob{
			ID:         outcome.JobID,
			Kind:       outcome.Kind,
			ChatID:     info.ChatID,
			UserID:     info.UserID,
			ToolCallID: info.ToolCallID,
			Polls:      outcome.Attempts,
		}
		if err := c.deps.Jobs.RecordPending(ctx, job); err != nil {
			log.Printf("record pending %s job %s: %v", outcome.Kind, outcome.JobID, err)
		}
	}
	return outcome.Value()
}

func (c *catalog) dataTable(p tableParams) TableResult {
	title := p.Title
	if title == "" {
		title = defaultTableTitle
	}
	maxRows := defaultTableMaxRows
	if p.MaxRows != nil {
		maxRows = int(math.Round(*p.MaxRows))
	}
	return TableResult{
		Data:      p.Data,
		Title:     title,
		MaxRows:   maxRows,
		Timestamp: c.deps.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func (c *catalog) generateImage(ctx context.Context, p imageParams) (any, error) {
	images, err := c.deps.Images.Generate(ctx, adapters.ImageRequest{
		Prompt:         p.Prompt,
		AspectRatio:    p.AspectRatio,
		NumberOfImages: p.NumberOfImages,
	})
	if err != nil {
		log.Printf("generate image error: %v", err)
		return ImageResult{Success: false, Images: []ImageRef{}, Error: err.Error()}, nil
	}
	result := ImageResult{Success: true, Images: make([]ImageRef, 0, len(images))}
	for idx, image := range images {
		ref := ImageRef{Prompt: p.Prompt}
		if c.deps.Blobs == nil {
			ref.URL = dataURL(image)
		} else {
			key := blob.Key("images", fmt.Sprintf("image-%d%s", idx+1, extensionFor(image.MimeType)))
			obj, err := c.deps.Blobs.Put(ctx, key, image.Data, image.MimeType)
			if err != nil {
				return nil, fmt.Errorf("store generated image: %w", err)
			}
			ref.URL = obj.URL
		}
		result.Images = append(result.Images, ref)
	}
	return result, nil
}

func disabledResult(name string) AgentDisabledResult {
	return AgentDisabledResult{
		Success: false,
		Error:   fmt.Sprintf("The %s tool has been disabled.", name),
		Message: fmt.Sprintf("The %s tool is not available", name),
	}
}
