package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taleweaver-server/shared/models"
	"taleweaver-server/story-generator/internal/repair"
	"taleweaver-server/story-generator/internal/repository"
	"taleweaver-server/story-generator/internal/retry"
	"taleweaver-server/story-generator/internal/schemas"
)

// Orchestrator проводит историю через весь жизненный цикл генерации:
// pending -> processing -> completed | failed. Любая ошибка фиксируется
// в записи истории; Generate никогда не возвращает error - итог всегда
// выражен статусом результата.
type Orchestrator struct {
	caller    *structuredCaller
	pipeline  ScenePipeline
	storyRepo repository.StoryRepository
	logger    *zap.Logger
}

// NewOrchestrator создает оркестратор генерации историй.
func NewOrchestrator(
	textGen TextGenerator,
	engine *repair.Engine,
	textPolicy retry.Policy,
	pipeline ScenePipeline,
	storyRepo repository.StoryRepository,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		caller:    newStructuredCaller(textGen, engine, textPolicy, logger),
		pipeline:  pipeline,
		storyRepo: storyRepo,
		logger:    logger,
	}
}

// Generate выполняет полную генерацию истории. Возвращаемый StoryResult
// отражает либо завершенную историю со всеми сценами, либо failed с
// деталями ошибки.
func (o *Orchestrator) Generate(ctx context.Context, req models.GenerationRequest, storyID uuid.UUID) models.StoryResult {
	log := o.logger.With(
		zap.String("story_id", storyID.String()),
		zap.String("user_id", req.UserID.String()),
	)
	log.Info("Starting story generation",
		zap.String("title", req.Title),
		zap.Int("num_scenes", req.NumScenes),
	)
	startedAt := time.Now()

	if err := o.storyRepo.UpdateStatus(ctx, storyID, models.StatusProcessing); err != nil {
		return o.fail(ctx, log, storyID, req, fmt.Errorf("failed to mark story as processing: %w", err))
	}

	var totalUsage UsageInfo

	// Этап 1: структурированная история целиком.
	story, usage, err := o.generateStructuredStory(ctx, req)
	totalUsage = totalUsage.Add(usage)
	if err != nil {
		return o.fail(ctx, log, storyID, req, err)
	}
	if len(story.Beats) != req.NumScenes {
		return o.fail(ctx, log, storyID, req,
			fmt.Errorf("%w: requested %d, model produced %d", models.ErrSceneCountMismatch, req.NumScenes, len(story.Beats)))
	}
	log.Info("Structured story generated", zap.String("story_title", story.Meta.Title))

	// Этап 2: визуальный профиль и базовый стиль - независимые вызовы,
	// выполняем параллельно.
	profile, style, usage, err := o.generateVisualContext(ctx, story)
	totalUsage = totalUsage.Add(usage)
	if err != nil {
		return o.fail(ctx, log, storyID, req, err)
	}

	// Этап 3: сцены строго последовательно. Контекст прошедших сцен
	// передается в извлечение момента следующей для связности.
	scenes := make([]models.Scene, 0, len(story.Beats))
	var processed []string
	for _, beat := range story.Beats {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return o.fail(ctx, log, storyID, req, &models.CancellationError{Err: ctxErr})
		}
		scene, u, procErr := o.pipeline.ProcessScene(ctx, SceneInput{
			StoryID:      storyID,
			Beat:         beat,
			Profile:      profile,
			Style:        style,
			StoryContext: strings.Join(processed, " "),
		})
		totalUsage = totalUsage.Add(u)
		if procErr != nil {
			return o.fail(ctx, log, storyID, req, procErr)
		}
		scenes = append(scenes, scene)
		processed = append(processed, beat.Text)
	}

	// Этап 4: фиксация результата.
	title := req.Title
	if title == "" {
		title = story.Meta.Title
	}
	if err := o.storyRepo.UpdateResult(ctx, storyID, repository.StoryResultFields{
		Title:            title,
		PromptTokens:     totalUsage.PromptTokens,
		CompletionTokens: totalUsage.CompletionTokens,
		EstimatedCostUSD: totalUsage.EstimatedCostUSD,
	}); err != nil {
		return o.fail(ctx, log, storyID, req, &models.PersistenceError{Op: "update_result", Err: err})
	}
	if err := o.storyRepo.UpdateStatus(ctx, storyID, models.StatusCompleted); err != nil {
		return o.fail(ctx, log, storyID, req, fmt.Errorf("failed to mark story as completed: %w", err))
	}

	now := time.Now().UTC()
	log.Info("Story generation completed",
		zap.Duration("duration", time.Since(startedAt)),
		zap.Int("scenes", len(scenes)),
		zap.Int("total_tokens", totalUsage.TotalTokens),
		zap.Float64("estimated_cost_usd", totalUsage.EstimatedCostUSD),
	)
	return models.StoryResult{
		StoryID:   storyID,
		Status:    models.StatusCompleted,
		Title:     title,
		Scenes:    scenes,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// generateStructuredStory выполняет первичный вызов и приводит ответ к
// схеме структурированной истории.
func (o *Orchestrator) generateStructuredStory(ctx context.Context, req models.GenerationRequest) (models.StructuredStory, UsageInfo, error) {
	data, usage, err := o.caller.call(ctx, storySystemPrompt, buildStoryUserPrompt(req), schemas.StorySchema())
	if err != nil {
		return models.StructuredStory{}, usage, fmt.Errorf("story generation failed: %w", err)
	}
	var story models.StructuredStory
	if err := decodeInto(data, &story); err != nil {
		return models.StructuredStory{}, usage, fmt.Errorf("story decode failed: %w", err)
	}
	return story, usage, nil
}

// generateVisualContext параллельно получает визуальный профиль персонажей
// и базовый стиль. Оба результата нужны каждой сцене, поэтому ошибки
// собираются и любая из них валит генерацию.
func (o *Orchestrator) generateVisualContext(ctx context.Context, story models.StructuredStory) (models.VisualProfile, models.BaseStyle, UsageInfo, error) {
	var (
		wg sync.WaitGroup

		profile      models.VisualProfile
		profileUsage UsageInfo
		profileErr   error

		style      models.BaseStyle
		styleUsage UsageInfo
		styleErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		data, u, err := o.caller.call(ctx, visualProfileSystemPrompt, buildVisualProfileUserPrompt(story.Child, story.SideCharacter), schemas.VisualProfileSchema())
		profileUsage = u
		if err != nil {
			profileErr = fmt.Errorf("visual profile generation failed: %w", err)
			return
		}
		profileErr = decodeInto(data, &profile)
	}()
	go func() {
		defer wg.Done()
		data, u, err := o.caller.call(ctx, baseStyleSystemPrompt, buildBaseStyleUserPrompt(story.Meta), schemas.BaseStyleSchema())
		styleUsage = u
		if err != nil {
			styleErr = fmt.Errorf("base style generation failed: %w", err)
			return
		}
		styleErr = decodeInto(data, &style)
	}()
	wg.Wait()

	usage := profileUsage.Add(styleUsage)
	if profileErr != nil {
		return models.VisualProfile{}, models.BaseStyle{}, usage, profileErr
	}
	if styleErr != nil {
		return models.VisualProfile{}, models.BaseStyle{}, usage, styleErr
	}
	return profile, style, usage, nil
}

// fail переводит историю в failed и строит терминальный результат.
// Ошибку записи failed-статуса уже некуда эскалировать - только лог.
func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, storyID uuid.UUID, req models.GenerationRequest, cause error) models.StoryResult {
	log.Error("Story generation failed", zap.Error(cause))

	// Терминальный статус пишем на отвязанном контексте: причиной провала
	// может быть отмена исходного, а потерять запись failed нельзя - иначе
	// история навсегда останется в processing.
	details := cause.Error()
	if err := o.storyRepo.SetFailed(context.WithoutCancel(ctx), storyID, details); err != nil {
		log.Error("Failed to persist failed status", zap.Error(err))
	}

	now := time.Now().UTC()
	return models.StoryResult{
		StoryID:      storyID,
		Status:       models.StatusFailed,
		Title:        req.Title,
		Scenes:       nil,
		CreatedAt:    now,
		UpdatedAt:    now,
		ErrorDetails: &details,
	}
}
