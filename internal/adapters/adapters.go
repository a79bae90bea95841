// Package adapters holds one thin client per third-party vendor used by the
// assistant's tools. Adapters return vendor JSON mostly untouched; non-2xx
// responses surface as *httpclient.StatusError.
package adapters

import (
	"errors"
	"net/http"
	"time"

	"github.com/promptmack/assistant/internal/httpclient"
)

var errEmptyQuery = errors.New("query must not be empty")

type clientOptions struct {
	httpClient *http.Client
	timeout    time.Duration
}

type Option func(*clientOptions)

// WithHTTPClient overrides the transport, mostly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = client
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = timeout
	}
}

func newClient(baseURL string, headers map[string]string, opts []Option) *httpclient.Client {
	options := clientOptions{timeout: 60 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return httpclient.New(httpclient.Config{
		BaseURL: baseURL,
		Headers: headers,
		Timeout: options.timeout,
		Client:  options.httpClient,
	})
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
