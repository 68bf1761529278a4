package backends

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/matterclaw/matterclaw/pkg/config"
	"github.com/matterclaw/matterclaw/pkg/logger"
)

// NewImageBackend selects the generator for the configured image backend.
// The backend name was already validated against the enum in config.
func NewImageBackend(cfg config.ImageConfig, httpClient *http.Client) (ImageGenerator, error) {
	switch cfg.Backend {
	case config.ImageBackendOpenAI, config.ImageBackendLocalAI:
		return newOpenAIImageBackend(cfg, httpClient), nil
	case config.ImageBackendSDWebUI:
		return newSDWebUIBackend(cfg, httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported image backend %q", cfg.Backend)
	}
}

// openAIImageBackend covers both the OpenAI image API and LocalAI, which
// speaks the same protocol on a different base URL.
type openAIImageBackend struct {
	client openai.Client
	cfg    config.ImageConfig
}

func newOpenAIImageBackend(cfg config.ImageConfig, httpClient *http.Client) *openAIImageBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	return &openAIImageBackend{client: openai.NewClient(opts...), cfg: cfg}
}

func (b *openAIImageBackend) Generate(ctx context.Context, prompt string) ([]string, error) {
	resp, err := b.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(b.cfg.Model),
		N:              openai.Int(int64(b.cfg.Count)),
		Size:           openai.ImageGenerateParamsSize(b.cfg.Size),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return nil, wrapErr(NameImage, err)
	}
	if len(resp.Data) == 0 {
		return nil, wrapErr(NameImage, errors.New("no images in response"))
	}

	encoded := make([]string, 0, len(resp.Data))
	for _, d := range resp.Data {
		encoded = append(encoded, d.B64JSON)
	}
	return saveImages(b.cfg.OutputDir, encoded)
}

// sdWebUIBackend talks to a stable-diffusion-webui txt2img endpoint.
type sdWebUIBackend struct {
	endpoint string
	cfg      config.ImageConfig
	client   *http.Client
}

func newSDWebUIBackend(cfg config.ImageConfig, httpClient *http.Client) *sdWebUIBackend {
	return &sdWebUIBackend{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		cfg:      cfg,
		client:   httpClient,
	}
}

type sdTxt2ImgRequest struct {
	Prompt    string `json:"prompt"`
	BatchSize int    `json:"batch_size"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type sdTxt2ImgResponse struct {
	Images []string `json:"images"`
}

func (b *sdWebUIBackend) Generate(ctx context.Context, prompt string) ([]string, error) {
	width, height := parseSize(b.cfg.Size)
	payload, err := json.Marshal(sdTxt2ImgRequest{
		Prompt:    prompt,
		BatchSize: b.cfg.Count,
		Width:     width,
		Height:    height,
	})
	if err != nil {
		return nil, wrapErr(NameImage, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/sdapi/v1/txt2img", bytes.NewReader(payload))
	if err != nil {
		return nil, wrapErr(NameImage, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, wrapErr(NameImage, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapErr(NameImage, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, wrapErr(NameImage, fmt.Errorf("txt2img returned status %d: %s", resp.StatusCode, truncateBody(data)))
	}

	var out sdTxt2ImgResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, wrapErr(NameImage, fmt.Errorf("decode txt2img response: %w", err))
	}
	if len(out.Images) == 0 {
		return nil, wrapErr(NameImage, errors.New("no images in response"))
	}

	return saveImages(b.cfg.OutputDir, out.Images)
}

// saveImages decodes base64 payloads into PNG files under dir. Every image
// is fully written before any path is returned.
func saveImages(dir string, encoded []string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, wrapErr(NameImage, fmt.Errorf("create image dir: %w", err))
	}

	paths := make([]string, 0, len(encoded))
	for _, enc := range encoded {
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			removeAll(paths)
			return nil, wrapErr(NameImage, fmt.Errorf("decode image data: %w", err))
		}

		path := filepath.Join(dir, uuid.NewString()+".png")
		if err := os.WriteFile(path, raw, 0644); err != nil {
			removeAll(paths)
			return nil, wrapErr(NameImage, fmt.Errorf("write image file: %w", err))
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func removeAll(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			logger.WarnCF("image", "Failed to remove partial image file", map[string]interface{}{
				"path":  p,
				"error": err.Error(),
			})
		}
	}
}

func parseSize(size string) (int, int) {
	var w, h int
	if _, err := fmt.Sscanf(size, "%dx%d", &w, &h); err != nil || w <= 0 || h <= 0 {
		return 512, 512
	}
	return w, h
}
