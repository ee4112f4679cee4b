package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"taleweaver-server/story-generator/internal/config"
	"taleweaver-server/story-generator/internal/retry"
)

// ErrAudioGenerationFailed - ошибка при синтезе озвучки.
var ErrAudioGenerationFailed = errors.New("audio generation failed")

// AudioGenerator определяет интерфейс backend'а синтеза речи.
type AudioGenerator interface {
	GenerateAudio(ctx context.Context, text, voiceID string) ([]byte, error)
}

// audioClient - клиент TTS-сервера. Тот же HTTP-контракт, что и у
// сервера изображений: JSON запрос, сырые байты в ответе.
type audioClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAudioClient создает клиент синтеза речи.
func NewAudioClient(cfg *config.Config) AudioGenerator {
	return &audioClient{
		baseURL: cfg.AudioServerURL,
		httpClient: &http.Client{
			Timeout: cfg.AudioTimeout,
		},
	}
}

type audioAPIRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

// GenerateAudio выполняет один запрос синтеза. Ответ - байты аудиодорожки (mp3).
func (c *audioClient) GenerateAudio(ctx context.Context, text, voiceID string) ([]byte, error) {
	reqBodyBytes, err := json.Marshal(audioAPIRequest{Text: text, VoiceID: voiceID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	endpointURL := c.baseURL + "/synthesize"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &retry.RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("%w: API returned status 429", ErrAudioGenerationFailed),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API returned status %d: %s", ErrAudioGenerationFailed, resp.StatusCode, string(bodyBytes))
	}

	if readErr != nil {
		return nil, fmt.Errorf("failed to read response body: %w", readErr)
	}

	if len(bodyBytes) == 0 {
		return nil, fmt.Errorf("%w: API returned empty data", ErrAudioGenerationFailed)
	}

	return bodyBytes, nil
}
