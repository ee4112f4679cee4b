package repair

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"taleweaver-server/shared/models"
	"taleweaver-server/story-generator/internal/schemas"
)

// FixerFunc - текстовый вызов языковой модели, используемый исключительно для
// исправления сломанного JSON. Отличен от основных генерирующих вызовов.
type FixerFunc func(ctx context.Context, prompt string) (string, error)

const (
	defaultRepairAttempts = 5 // лимит цикла текстовой коррекции
	defaultSchemaAttempts = 5 // лимит цикла схемной коррекции
)

// Engine превращает произвольный текст генеративной модели в данные,
// соответствующие одной из фиксированных схем. Двухуровневая стратегия:
// сначала дешевая синтаксическая починка, затем эскалация к fixer-модели.
type Engine struct {
	fixer          FixerFunc
	repairAttempts int
	schemaAttempts int
	logger         *zap.Logger
}

// Options настраивают границы циклов коррекции.
type Options struct {
	RepairAttempts int
	SchemaAttempts int
}

// NewEngine создает движок починки и валидации.
func NewEngine(fixer FixerFunc, logger *zap.Logger, opts Options) *Engine {
	if opts.RepairAttempts <= 0 {
		opts.RepairAttempts = defaultRepairAttempts
	}
	if opts.SchemaAttempts <= 0 {
		opts.SchemaAttempts = defaultSchemaAttempts
	}
	return &Engine{
		fixer:          fixer,
		repairAttempts: opts.RepairAttempts,
		schemaAttempts: opts.SchemaAttempts,
		logger:         logger,
	}
}

// RepairAndValidate приводит rawText к данным, соответствующим schema.
// Гарантированно завершается: не более repairAttempts + schemaAttempts
// вызовов fixer-модели. Никогда не возвращает частично валидированные данные.
func (e *Engine) RepairAndValidate(ctx context.Context, rawText string, schema *schemas.Type) (interface{}, error) {
	data, text, err := e.parseLoop(ctx, rawText)
	if err != nil {
		return nil, err
	}

	return e.validateLoop(ctx, data, text, schema)
}

// parseLoop - цикл текстовой коррекции: извлечь, синтаксически починить,
// распарсить; при неудаче отправить сломанный текст и ошибку fixer-модели.
func (e *Engine) parseLoop(ctx context.Context, text string) (interface{}, string, error) {
	var errHistory []string
	current := text

	for attempt := 0; ; attempt++ {
		data, parseErr := parseTolerant(current)
		if parseErr == nil {
			return data, current, nil
		}

		errHistory = append(errHistory, parseErr.Error())

		if attempt >= e.repairAttempts {
			e.logger.Error("Text correction loop exhausted",
				zap.Int("attempts", attempt),
				zap.Error(parseErr),
			)
			return nil, "", &models.SchemaRepairExhaustedError{
				Attempts: attempt,
				LastErr:  parseErr,
				RawText:  text,
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		e.logger.Warn("Tolerant JSON repair failed, escalating to fixer model",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", e.repairAttempts),
			zap.Error(parseErr),
		)

		// Ошибки всех предыдущих попыток входят в промпт, чтобы цикл сужался
		fixed, fixErr := e.fixer(ctx, buildTextFixPrompt(current, errHistory))
		if fixErr != nil {
			return nil, "", fmt.Errorf("fixer call failed: %w", fixErr)
		}
		current = fixed
	}
}

// validateLoop - цикл схемной коррекции: обернуть списки, валидировать;
// при несоответствии отправить схему и ошибку валидации fixer-модели.
func (e *Engine) validateLoop(ctx context.Context, data interface{}, text string, schema *schemas.Type) (interface{}, error) {
	current := data
	currentText := text

	for attempt := 0; ; attempt++ {
		current = schemas.WrapLists(current, schema)

		valErr := schemas.Validate(current, schema)
		if valErr == nil {
			return current, nil
		}

		if attempt >= e.schemaAttempts {
			e.logger.Error("Schema correction loop exhausted",
				zap.Int("attempts", attempt),
				zap.Error(valErr),
			)
			return nil, fmt.Errorf("schema correction exhausted after %d attempts: %w", attempt, valErr)
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e.logger.Warn("Schema validation failed, escalating to fixer model",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", e.schemaAttempts),
			zap.Error(valErr),
		)

		fixed, fixErr := e.fixer(ctx, buildSchemaFixPrompt(currentText, schema, valErr))
		if fixErr != nil {
			return nil, fmt.Errorf("fixer call failed: %w", fixErr)
		}

		// Ответ fixer-модели снова проходит извлечение и синтаксическую починку
		reparsed, reparsedText, parseErr := e.parseOnce(fixed)
		if parseErr != nil {
			// Fixer вернул не-JSON; считаем это неудачной схемной попыткой
			e.logger.Warn("Fixer response not parseable", zap.Error(parseErr))
			continue
		}
		current = reparsed
		currentText = reparsedText
	}
}

func (e *Engine) parseOnce(text string) (interface{}, string, error) {
	data, err := parseTolerant(text)
	if err != nil {
		return nil, "", err
	}
	return data, text, nil
}

// parseTolerant - извлечение + синтаксическая починка + парсинг.
func parseTolerant(text string) (interface{}, error) {
	extracted, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}

	sanitized, err := SanitizeJSON(extracted)
	if err != nil {
		return nil, err
	}

	var data interface{}
	if err := json.Unmarshal([]byte(sanitized), &data); err != nil {
		return nil, fmt.Errorf("json parse failed: %w", err)
	}
	return data, nil
}

func buildTextFixPrompt(brokenText string, errHistory []string) string {
	var b strings.Builder
	b.WriteString("The following text was supposed to be valid JSON but failed to parse.\n")
	b.WriteString("Fix it and return ONLY the corrected JSON, without code fences or commentary.\n\n")
	b.WriteString("Parse errors so far (oldest first):\n")
	for i, e := range errHistory {
		fmt.Fprintf(&b, "%d. %s\n", i+1, e)
	}
	b.WriteString("\nBroken text:\n")
	b.WriteString(brokenText)
	return b.String()
}

func buildSchemaFixPrompt(jsonText string, schema *schemas.Type, valErr error) string {
	var b strings.Builder
	b.WriteString("The following JSON parses but does not conform to the required schema.\n")
	b.WriteString("Return ONLY corrected JSON matching the schema exactly, without code fences or commentary.\n\n")
	b.WriteString("Required schema:\n")
	b.WriteString(schema.Describe())
	b.WriteString("\n\nValidation error:\n")
	b.WriteString(valErr.Error())
	b.WriteString("\n\nCurrent JSON:\n")
	b.WriteString(jsonText)
	return b.String()
}
