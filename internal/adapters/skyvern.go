package adapters

import (
	"context"
	"net/url"

	"github.com/promptmack/assistant/internal/httpclient"
)

const (
	DefaultSkyvernBaseURL = "https://api.skyvern.com"
	skyvernProxyLocation  = "RESIDENTIAL"
)

type SkyvernConfig struct {
	APIKey  string
	BaseURL string
	Options []Option
}

type NavigationPayload struct {
	Name                  string `json:"name"`
	Email                 string `json:"email"`
	AdditionalInformation string `json:"additionalInformation,omitempty"`
}

type FormTask struct {
	URL               string
	NavigationGoal    string
	NavigationPayload NavigationPayload
}

// Skyvern submits browser form tasks and inspects them afterwards.
type Skyvern struct {
	client *httpclient.Client
}

func NewSkyvern(cfg SkyvernConfig) *Skyvern {
	return &Skyvern{client: newClient(defaultIfEmpty(cfg.BaseURL, DefaultSkyvernBaseURL), map[string]string{
		"x-api-key": cfg.APIKey,
	}, cfg.Options)}
}

func (s *Skyvern) SubmitTask(ctx context.Context, task FormTask) (map[string]any, error) {
	body := map[string]any{
		"url":                          task.URL,
		"webhook_callback_url":         nil,
		"navigation_goal":              task.NavigationGoal,
		"data_extraction_goal":         nil,
		"proxy_location":               skyvernProxyLocation,
		"error_code_mapping":           nil,
		"navigation_payload":           task.NavigationPayload,
		"extracted_information_schema": nil,
	}
	out := map[string]any{}
	if err := s.client.PostJSON(ctx, "/api/v1/tasks", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Skyvern) GetTask(ctx context.Context, taskID string) (map[string]any, error) {
	out := map[string]any{}
	if err := s.client.GetJSON(ctx, "/api/v1/tasks/"+url.PathEscape(taskID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TaskSteps returns the vendor payload as-is; it is usually a JSON array.
func (s *Skyvern) TaskSteps(ctx context.Context, taskID string) (any, error) {
	var out any
	if err := s.client.GetJSON(ctx, "/api/v1/tasks/"+url.PathEscape(taskID)+"/steps", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Skyvern) CancelTask(ctx context.Context, taskID string) (map[string]any, error) {
	out := map[string]any{}
	if err := s.client.PostJSON(ctx, "/api/v1/tasks/"+url.PathEscape(taskID)+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
