package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openaigo "github.com/sashabaranov/go-openai"

	"taleweaver-server/story-generator/internal/config"
	"taleweaver-server/story-generator/internal/retry"
)

var log = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

// Константы цен (за 1М токенов в USD)
const (
	pricePerMillionInputTokensUSD  = 0.1
	pricePerMillionOutputTokensUSD = 0.4
)

// ErrAIGenerationFailed - ошибка при генерации текста AI
var ErrAIGenerationFailed = errors.New("ошибка генерации текста AI")

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_generator_ai_requests_total",
			Help: "Total number of requests to the AI API.",
		},
		[]string{"model", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_generator_ai_request_duration_seconds",
			Help:    "Histogram of AI API request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)
	aiTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_generator_ai_tokens_total",
			Help: "Total number of AI tokens used, partitioned by direction.",
		},
		[]string{"model", "direction"},
	)
)

// GenerationParams - параметры генерации. Указатели, чтобы отличить 0/0.0 от отсутствия.
type GenerationParams struct {
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
}

// UsageInfo - статистика расхода токенов одного вызова.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCostUSD float64
}

// Add суммирует расход нескольких вызовов.
func (u UsageInfo) Add(other UsageInfo) UsageInfo {
	return UsageInfo{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		EstimatedCostUSD: u.EstimatedCostUSD + other.EstimatedCostUSD,
	}
}

// TextGenerator определяет интерфейс текстового генеративного backend'а.
// Один вызов - одна попытка; ретраи навешивает вызывающая сторона через retry.Policy.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userInput string, params GenerationParams) (string, UsageInfo, error)
}

// aiClient - реализация TextGenerator поверх OpenRouter (openai-совместимый API).
type aiClient struct {
	client    *openaigo.Client
	modelName string
	timeout   time.Duration
	encoder   *tiktoken.Tiktoken
}

// NewAIClient создает клиент текстовой генерации.
func NewAIClient(cfg *config.Config) (TextGenerator, error) {
	if cfg.AIAPIKey == "" {
		return nil, errors.New("не указан API ключ для OpenRouter")
	}

	clientConfig := openaigo.DefaultConfig(cfg.AIAPIKey)
	clientConfig.BaseURL = cfg.AIBaseURL

	// cl100k_base покрывает используемые chat-модели; оценка нужна только
	// когда API не вернул usage
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to init tiktoken encoder, usage estimation disabled")
		encoder = nil
	}

	return &aiClient{
		client:    openaigo.NewClientWithConfig(clientConfig),
		modelName: cfg.AIModel,
		timeout:   cfg.AITimeout,
		encoder:   encoder,
	}, nil
}

// GenerateText выполняет один chat-completion запрос.
func (c *aiClient) GenerateText(ctx context.Context, systemPrompt, userInput string, params GenerationParams) (string, UsageInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openaigo.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openaigo.ChatMessageRoleUser, Content: userInput},
		},
	}
	if params.Temperature != nil {
		req.Temperature = float32(*params.Temperature)
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = float32(*params.TopP)
	}

	startTime := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	duration := time.Since(startTime)
	aiRequestDuration.WithLabelValues(c.modelName).Observe(duration.Seconds())

	if err != nil {
		aiRequestsTotal.WithLabelValues(c.modelName, "error").Inc()

		var apiErr *openaigo.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
			log.Warn().Err(err).Str("model", c.modelName).Msg("AI API rate limited")
			// OpenRouter не отдает Retry-After через go-openai, полагаемся на backoff политики
			return "", UsageInfo{}, &retry.RateLimitError{Err: err}
		}

		log.Error().Err(err).Str("model", c.modelName).Dur("duration", duration).Msg("AI API call failed")
		return "", UsageInfo{}, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}

	if len(resp.Choices) == 0 {
		aiRequestsTotal.WithLabelValues(c.modelName, "error").Inc()
		return "", UsageInfo{}, fmt.Errorf("%w: пустой список choices в ответе", ErrAIGenerationFailed)
	}

	content := resp.Choices[0].Message.Content
	usage := c.buildUsage(resp.Usage, systemPrompt+userInput, content)

	aiRequestsTotal.WithLabelValues(c.modelName, "success").Inc()
	aiTokensUsed.WithLabelValues(c.modelName, "prompt").Add(float64(usage.PromptTokens))
	aiTokensUsed.WithLabelValues(c.modelName, "completion").Add(float64(usage.CompletionTokens))

	log.Debug().
		Str("model", c.modelName).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Float64("cost_usd", usage.EstimatedCostUSD).
		Dur("duration", duration).
		Msg("AI API call succeeded")

	return content, usage, nil
}

// buildUsage берет usage из ответа API, а при его отсутствии оценивает
// расход через tiktoken.
func (c *aiClient) buildUsage(u openaigo.Usage, input, output string) UsageInfo {
	info := UsageInfo{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}

	if info.TotalTokens == 0 && c.encoder != nil {
		info.PromptTokens = len(c.encoder.Encode(input, nil, nil))
		info.CompletionTokens = len(c.encoder.Encode(output, nil, nil))
		info.TotalTokens = info.PromptTokens + info.CompletionTokens
	}

	info.EstimatedCostUSD = float64(info.PromptTokens)/1_000_000*pricePerMillionInputTokensUSD +
		float64(info.CompletionTokens)/1_000_000*pricePerMillionOutputTokensUSD
	return info
}
