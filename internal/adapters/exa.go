package adapters

import (
	"context"
	"strings"

	"github.com/promptmack/assistant/internal/httpclient"
)

const (
	DefaultExaBaseURL     = "https://api.exa.ai"
	similarResultsPerCall = 10
)

type ExaConfig struct {
	APIKey  string
	BaseURL string
	Options []Option
}

// Exa finds websites similar to a given URL.
type Exa struct {
	client *httpclient.Client
}

func NewExa(cfg ExaConfig) *Exa {
	return &Exa{client: newClient(defaultIfEmpty(cfg.BaseURL, DefaultExaBaseURL), map[string]string{
		"x-api-key": cfg.APIKey,
	}, cfg.Options)}
}

// FindSimilar excludes the site's own domain and company name from the results.
func (e *Exa) FindSimilar(ctx context.Context, target string) (map[string]any, error) {
	domain, company := similarExclusions(target)
	body := map[string]any{
		"query":          target,
		"url":            target,
		"numResults":     similarResultsPerCall,
		"excludeDomains": []string{domain},
		"excludeText":    []string{company},
		"contents": map[string]any{
			"highlights": true,
			"summary":    true,
		},
	}
	out := map[string]any{}
	if err := e.client.PostJSON(ctx, "/findSimilar", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// similarExclusions returns "lemlist.com", "lemlist" for "https://www.lemlist.com/pricing".
func similarExclusions(target string) (string, string) {
	domain := strings.TrimSpace(target)
	lower := strings.ToLower(domain)
	switch {
	case strings.HasPrefix(lower, "https://"):
		domain = domain[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		domain = domain[len("http://"):]
	}
	domain = strings.TrimPrefix(domain, "www.")
	if idx := strings.Index(domain, "/"); idx >= 0 {
		domain = domain[:idx]
	}
	company := domain
	if idx := strings.Index(company, "."); idx >= 0 {
		company = company[:idx]
	}
	return domain, company
}
