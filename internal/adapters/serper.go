package adapters

import (
	"context"
	"net/url"
	"strings"

	"github.com/promptmack/assistant/internal/httpclient"
)

const (
	DefaultSerperBaseURL = "https://google.serper.dev"
	newsLocation         = "United States"
)

type SerperConfig struct {
	APIKey  string
	BaseURL string
	Options []Option
}

// Serper wraps the news, video and scholar search endpoints.
type Serper struct {
	client *httpclient.Client
}

func NewSerper(cfg SerperConfig) *Serper {
	return &Serper{client: newClient(defaultIfEmpty(cfg.BaseURL, DefaultSerperBaseURL), map[string]string{
		"X-API-KEY": cfg.APIKey,
	}, cfg.Options)}
}

func (s *Serper) News(ctx context.Context, query string) (map[string]any, error) {
	return s.search(ctx, "/news", url.Values{"q": {query}, "location": {newsLocation}})
}

func (s *Serper) Videos(ctx context.Context, query string) (map[string]any, error) {
	return s.search(ctx, "/videos", url.Values{"q": {query}})
}

func (s *Serper) Scholar(ctx context.Context, query string) (map[string]any, error) {
	return s.search(ctx, "/scholar", url.Values{"q": {query}})
}

func (s *Serper) search(ctx context.Context, path string, params url.Values) (map[string]any, error) {
	if strings.TrimSpace(params.Get("q")) == "" {
		return nil, errEmptyQuery
	}
	out := map[string]any{}
	if err := s.client.GetJSON(ctx, path, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}
