package catalog

import (
	"encoding/base64"

	"github.com/promptmack/assistant/internal/adapters"
)

var aspectRatios = []string{"1:1", "3:4", "4:3", "9:16", "16:9"}

type queryParams struct {
	Query string `json:"query" jsonschema:"Search query"`
}

type urlParams struct {
	URL string `json:"url" jsonschema:"URL to find similar websites for"`
}

type weatherParams struct {
	Latitude  float64 `json:"latitude" jsonschema:"Latitude coordinate"`
	Longitude float64 `json:"longitude" jsonschema:"Longitude coordinate"`
}

type formParams struct {
	URL               string                     `json:"url" jsonschema:"Target URL for form submission"`
	NavigationGoal    string                     `json:"navigationGoal" jsonschema:"Goal for navigating the webpage"`
	NavigationPayload adapters.NavigationPayload `json:"navigationPayload" jsonschema:"Values to fill into the form"`
}

type scrapeParams struct {
	URL     string                  `json:"url" jsonschema:"The URL to scrape content from"`
	Formats []string                `json:"formats,omitempty" jsonschema:"Formats to return, defaults to markdown"`
	Actions []adapters.ScrapeAction `json:"actions,omitempty" jsonschema:"Optional actions to perform before scraping (click, wait, scroll, etc.)"`
}

type crawlParams struct {
	URL          string   `json:"url" jsonschema:"The base URL to start crawling from"`
	Limit        int      `json:"limit,omitempty" jsonschema:"Maximum number of pages to crawl"`
	Formats      []string `json:"formats,omitempty" jsonschema:"Formats to return, defaults to markdown"`
	ExcludePaths []string `json:"excludePaths,omitempty" jsonschema:"Path patterns to exclude from crawling"`
}

func (p crawlParams) limitOrDefault() int {
	if p.Limit <= 0 {
		return 10
	}
	return p.Limit
}

type mapParams struct {
	URL               string `json:"url" jsonschema:"The URL of the website to map"`
	Search            string `json:"search,omitempty" jsonschema:"Optional search term to filter URLs"`
	IncludeSubdomains bool   `json:"includeSubdomains,omitempty" jsonschema:"Whether to include subdomains in the mapping"`
}

type searchParams struct {
	Query         string   `json:"query" jsonschema:"The search query"`
	Limit         int      `json:"limit,omitempty" jsonschema:"Number of results to return"`
	ScrapeResults bool     `json:"scrapeResults,omitempty" jsonschema:"Whether to also scrape content from the search results"`
	Formats       []string `json:"formats,omitempty" jsonschema:"Formats to return if scraping results"`
}

func (p searchParams) limitOrDefault() int {
	if p.Limit <= 0 {
		return 5
	}
	return p.Limit
}

type extractParams struct {
	URLs            []string `json:"urls" jsonschema:"URLs to extract data from (can include wildcards like domain.com/*)"`
	Prompt          string   `json:"prompt" jsonschema:"Description of what data to extract"`
	EnableWebSearch bool     `json:"enableWebSearch,omitempty" jsonschema:"Whether to allow following links outside the specified domain"`
}

// tableParams takes maxRows as a plain number; fractional values round to
// the nearest row count.
type tableParams struct {
	Data    any      `json:"data" jsonschema:"The data to display in table format - can be an array of objects or a single object"`
	Title   string   `json:"title,omitempty" jsonschema:"Optional title for the table"`
	MaxRows *float64 `json:"maxRows,omitempty" jsonschema:"Maximum number of rows to display (default: 50)"`
}

type imageParams struct {
	Prompt         string `json:"prompt" jsonschema:"Description of the image to generate"`
	AspectRatio    string `json:"aspectRatio,omitempty" jsonschema:"Aspect ratio of the images"`
	NumberOfImages int    `json:"numberOfImages,omitempty" jsonschema:"How many images to generate (1-4)"`
}

type agentParams struct {
	URL     string   `json:"url" jsonschema:"The URL to navigate"`
	Prompt  string   `json:"prompt" jsonschema:"Instructions for what the agent should do on the website"`
	Formats []string `json:"formats,omitempty" jsonschema:"Formats to return, defaults to markdown"`
}

type TableResult struct {
	Data      any    `json:"data"`
	Title     string `json:"title"`
	MaxRows   int    `json:"maxRows"`
	Timestamp string `json:"timestamp"`
}

type ImageRef struct {
	URL    string `json:"url"`
	Prompt string `json:"prompt"`
}

type ImageResult struct {
	Success bool       `json:"success"`
	Images  []ImageRef `json:"images"`
	Error   string     `json:"error,omitempty"`
}

type AgentDisabledResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func dataURL(image adapters.GeneratedImage) string {
	return "data:" + image.MimeType + ";base64," + base64.StdEncoding.EncodeToString(image.Data)
}
