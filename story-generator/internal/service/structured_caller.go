package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"taleweaver-server/story-generator/internal/repair"
	"taleweaver-server/story-generator/internal/retry"
	"taleweaver-server/story-generator/internal/schemas"
)

// structuredCaller объединяет первичный текстовый вызов (с ретраями) и движок
// починки/валидации: промпт -> текст модели -> данные, соответствующие схеме.
type structuredCaller struct {
	textGen TextGenerator
	engine  *repair.Engine
	policy  retry.Policy
	logger  *zap.Logger
}

func newStructuredCaller(textGen TextGenerator, engine *repair.Engine, policy retry.Policy, logger *zap.Logger) *structuredCaller {
	return &structuredCaller{textGen: textGen, engine: engine, policy: policy, logger: logger}
}

// call выполняет генерацию и приводит ответ к схеме. Возвращает валидированные
// данные и суммарный расход токенов первичного вызова.
func (s *structuredCaller) call(ctx context.Context, systemPrompt, userPrompt string, schema *schemas.Type) (interface{}, UsageInfo, error) {
	var rawText string
	var usage UsageInfo

	err := s.policy.Do(ctx, s.logger, "text_generation", func(ctx context.Context) error {
		text, u, genErr := s.textGen.GenerateText(ctx, systemPrompt, userPrompt, GenerationParams{Temperature: float64Ptr(0.2)})
		if genErr != nil {
			return genErr
		}
		rawText = text
		usage = u
		return nil
	})
	if err != nil {
		return nil, usage, err
	}

	data, err := s.engine.RepairAndValidate(ctx, rawText, schema)
	if err != nil {
		return nil, usage, err
	}
	return data, usage, nil
}

// decodeInto перекладывает валидированные данные (map/slice) в типизированную
// структуру через json round-trip.
func decodeInto(data interface{}, out interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to re-marshal validated data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode validated data: %w", err)
	}
	return nil
}

// NewFixer оборачивает текстовый генератор в FixerFunc для движка починки.
// Каждый вызов fixer-модели сам обернут в retry-политику.
func NewFixer(textGen TextGenerator, policy retry.Policy, logger *zap.Logger) repair.FixerFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		var out string
		err := policy.Do(ctx, logger, "fixer_call", func(ctx context.Context) error {
			text, _, genErr := textGen.GenerateText(ctx, fixerSystemPrompt, prompt, GenerationParams{Temperature: float64Ptr(0.0)})
			if genErr != nil {
				return genErr
			}
			out = text
			return nil
		})
		return out, err
	}
}

// float64Ptr возвращает указатель на float64
func float64Ptr(f float64) *float64 {
	return &f
}
