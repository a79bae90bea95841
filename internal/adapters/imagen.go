package adapters

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"

	"github.com/promptmack/assistant/internal/httpclient"
)

const (
	DefaultImagenBaseURL = "https://generativelanguage.googleapis.com"
	DefaultImagenModel   = "imagen-3.0-generate-002"
	maxImagesPerRequest  = 4
)

type ImagenConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Options []Option
}

type ImageRequest struct {
	Prompt         string
	AspectRatio    string
	NumberOfImages int
}

type GeneratedImage struct {
	Data     []byte
	MimeType string
}

// Imagen generates images through the Gemini API predict endpoint.
type Imagen struct {
	client *httpclient.Client
	model  string
}

func NewImagen(cfg ImagenConfig) *Imagen {
	return &Imagen{
		client: newClient(defaultIfEmpty(cfg.BaseURL, DefaultImagenBaseURL), map[string]string{
			"x-goog-api-key": cfg.APIKey,
		}, cfg.Options),
		model: defaultIfEmpty(cfg.Model, DefaultImagenModel),
	}
}

func (i *Imagen) Generate(ctx context.Context, req ImageRequest) ([]GeneratedImage, error) {
	count := req.NumberOfImages
	if count <= 0 {
		count = 1
	}
	if count > maxImagesPerRequest {
		count = maxImagesPerRequest
	}
	body := map[string]any{
		"instances": []map[string]any{{"prompt": req.Prompt}},
		"parameters": map[string]any{
			"sampleCount": count,
			"aspectRatio": defaultIfEmpty(req.AspectRatio, "1:1"),
		},
	}
	var out struct {
		Predictions []struct {
			BytesBase64Encoded string `json:"bytesBase64Encoded"`
			MimeType           string `json:"mimeType"`
		} `json:"predictions"`
	}
	path := fmt.Sprintf("/v1beta/models/%s:predict", url.PathEscape(i.model))
	if err := i.client.PostJSON(ctx, path, body, &out); err != nil {
		return nil, err
	}
	images := make([]GeneratedImage, 0, len(out.Predictions))
	for _, prediction := range out.Predictions {
		data, err := base64.StdEncoding.DecodeString(prediction.BytesBase64Encoded)
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		images = append(images, GeneratedImage{Data: data, MimeType: defaultIfEmpty(prediction.MimeType, "image/png")})
	}
	if len(images) == 0 {
		return nil, errors.New("image generation returned no images")
	}
	return images, nil
}
