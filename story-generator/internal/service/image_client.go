package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"taleweaver-server/story-generator/internal/config"
	"taleweaver-server/story-generator/internal/retry"
)

// ErrImageGenerationFailed - ошибка при генерации изображения.
var ErrImageGenerationFailed = errors.New("image generation failed")

// ImageGenerator определяет интерфейс backend'а генерации изображений.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, width, height int) ([]byte, error)
}

// imageClient - клиент diffusion-сервера с openai-подобным HTTP API.
type imageClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewImageClient создает клиент генерации изображений.
func NewImageClient(cfg *config.Config) ImageGenerator {
	return &imageClient{
		baseURL: cfg.ImageServerURL,
		httpClient: &http.Client{
			Timeout: cfg.ImageTimeout,
		},
	}
}

type imageAPIRequest struct {
	Prompt string `json:"prompt"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// GenerateImage выполняет один запрос генерации. Ответ - сырые байты изображения.
func (c *imageClient) GenerateImage(ctx context.Context, prompt string, width, height int) ([]byte, error) {
	reqBodyBytes, err := json.Marshal(imageAPIRequest{Prompt: prompt, Width: width, Height: height})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	endpointURL := c.baseURL + "/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &retry.RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("%w: API returned status 429", ErrImageGenerationFailed),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API returned status %d: %s", ErrImageGenerationFailed, resp.StatusCode, string(bodyBytes))
	}

	if readErr != nil {
		return nil, fmt.Errorf("failed to read response body: %w", readErr)
	}

	if len(bodyBytes) == 0 {
		return nil, fmt.Errorf("%w: API returned empty data", ErrImageGenerationFailed)
	}

	return bodyBytes, nil
}

// parseRetryAfter разбирает заголовок Retry-After (секунды).
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
