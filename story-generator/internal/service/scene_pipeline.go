package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taleweaver-server/shared/models"
	"taleweaver-server/story-generator/internal/budget"
	"taleweaver-server/story-generator/internal/config"
	"taleweaver-server/story-generator/internal/repair"
	"taleweaver-server/story-generator/internal/repository"
	"taleweaver-server/story-generator/internal/retry"
	"taleweaver-server/story-generator/internal/schemas"
	"taleweaver-server/story-generator/internal/storage"
)

// SceneInput - все, что нужно для обработки одной сцены.
type SceneInput struct {
	StoryID      uuid.UUID
	Beat         models.StoryBeat
	Profile      models.VisualProfile
	Style        models.BaseStyle
	StoryContext string
}

// ScenePipeline превращает один бит истории в готовую сцену: момент сцены,
// сборка промпта, изображение, озвучка, загрузка в хранилище, запись в БД.
type ScenePipeline interface {
	ProcessScene(ctx context.Context, in SceneInput) (models.Scene, UsageInfo, error)
}

type scenePipeline struct {
	cfg       *config.Config
	caller    *structuredCaller
	imageGen  ImageGenerator
	audioGen  AudioGenerator
	uploader  storage.Uploader
	sceneRepo repository.SceneRepository

	imagePolicy  retry.Policy
	audioPolicy  retry.Policy
	uploadPolicy retry.Policy

	logger *zap.Logger
}

// NewScenePipeline создает pipeline обработки сцен.
func NewScenePipeline(
	cfg *config.Config,
	textGen TextGenerator,
	engine *repair.Engine,
	textPolicy retry.Policy,
	imageGen ImageGenerator,
	audioGen AudioGenerator,
	uploader storage.Uploader,
	sceneRepo repository.SceneRepository,
	logger *zap.Logger,
) ScenePipeline {
	return &scenePipeline{
		cfg:          cfg,
		caller:       newStructuredCaller(textGen, engine, textPolicy, logger),
		imageGen:     imageGen,
		audioGen:     audioGen,
		uploader:     uploader,
		sceneRepo:    sceneRepo,
		imagePolicy:  retry.Policy{MaxAttempts: cfg.ImageMaxAttempts, BaseDelay: cfg.MediaBaseDelay},
		audioPolicy:  retry.Policy{MaxAttempts: cfg.AudioMaxAttempts, BaseDelay: cfg.MediaBaseDelay},
		uploadPolicy: retry.Policy{MaxAttempts: cfg.UploadMaxAttempts, BaseDelay: cfg.MediaBaseDelay},
		logger:       logger,
	}
}

func (p *scenePipeline) ProcessScene(ctx context.Context, in SceneInput) (models.Scene, UsageInfo, error) {
	seq := in.Beat.Index
	log := p.logger.With(
		zap.String("story_id", in.StoryID.String()),
		zap.Int("sequence", seq),
	)
	log.Info("Processing scene")

	// Шаг 1: момент сцены. Один дополнительный AI вызов на сцену, ответ
	// проходит через движок починки по схеме момента.
	var usage UsageInfo
	data, u, err := p.caller.call(ctx, sceneMomentSystemPrompt, buildSceneMomentUserPrompt(in.Beat, in.StoryContext), schemas.SceneMomentSchema())
	usage = usage.Add(u)
	if err != nil {
		return models.Scene{}, usage, fmt.Errorf("scene %d: moment extraction failed: %w", seq, err)
	}
	var moment models.SceneMoment
	if err := decodeInto(data, &moment); err != nil {
		return models.Scene{}, usage, fmt.Errorf("scene %d: moment decode failed: %w", seq, err)
	}

	// Шаг 2: сборка промпта изображения в рамках бюджета.
	imagePrompt := p.composeImagePrompt(log, moment, in.Profile, in.Style)

	// Шаг 3: генерация изображения с ретраями.
	var imageData []byte
	err = p.imagePolicy.Do(ctx, log, "image_generation", func(ctx context.Context) error {
		var genErr error
		imageData, genErr = p.imageGen.GenerateImage(ctx, imagePrompt, p.cfg.ImageWidth, p.cfg.ImageHeight)
		return genErr
	})
	if err != nil {
		return models.Scene{}, usage, &models.MediaGenerationError{Stage: models.StageImageGeneration, Sequence: seq, Err: err}
	}

	// Шаг 4: озвучка нарратива.
	var audioData []byte
	err = p.audioPolicy.Do(ctx, log, "audio_generation", func(ctx context.Context) error {
		var genErr error
		audioData, genErr = p.audioGen.GenerateAudio(ctx, in.Beat.Text, p.cfg.AudioVoiceID)
		return genErr
	})
	if err != nil {
		return models.Scene{}, usage, &models.MediaGenerationError{Stage: models.StageAudioGeneration, Sequence: seq, Err: err}
	}

	// Шаг 5: загрузка медиа. Уже загруженное изображение не откатываем,
	// если падает загрузка аудио - история все равно уходит в failed.
	imagePath := fmt.Sprintf("stories/%s/scenes/%03d.jpg", in.StoryID, seq)
	imageURL, err := p.upload(ctx, log, imagePath, imageData, "image/jpeg")
	if err != nil {
		return models.Scene{}, usage, &models.MediaGenerationError{Stage: models.StageUpload, Sequence: seq, Err: err}
	}
	audioPath := fmt.Sprintf("stories/%s/scenes/%03d.mp3", in.StoryID, seq)
	audioURL, err := p.upload(ctx, log, audioPath, audioData, "audio/mpeg")
	if err != nil {
		return models.Scene{}, usage, &models.MediaGenerationError{Stage: models.StageUpload, Sequence: seq, Err: err}
	}

	// Шаг 6: запись сцены.
	now := time.Now().UTC()
	scene := models.Scene{
		ID:          uuid.New(),
		StoryID:     in.StoryID,
		Sequence:    seq,
		Title:       sceneTitle(moment, seq),
		Narrative:   in.Beat.Text,
		ImagePrompt: imagePrompt,
		ImageURL:    &imageURL,
		AudioURL:    &audioURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.sceneRepo.Create(ctx, &scene); err != nil {
		return models.Scene{}, usage, &models.MediaGenerationError{Stage: models.StagePersist, Sequence: seq, Err: err}
	}

	log.Info("Scene processed",
		zap.String("image_url", imageURL),
		zap.String("audio_url", audioURL),
	)
	return scene, usage, nil
}

// composeImagePrompt собирает финальный промпт изображения из взвешенных
// компонентов. Суффикс безопасности добавляется безусловно, вне бюджета.
func (p *scenePipeline) composeImagePrompt(log *zap.Logger, moment models.SceneMoment, profile models.VisualProfile, style models.BaseStyle) string {
	limits := budget.Allocate(p.cfg.PromptTotalBudget, budget.DefaultWeights)

	components := []struct {
		name string
		text string
	}{
		{budget.ComponentBaseStyle, style.Style},
		{budget.ComponentScene, sceneText(moment)},
		{budget.ComponentCharacters, profile.Describe()},
		{budget.ComponentAtmosphere, strings.TrimSpace(style.Atmosphere + ", " + moment.EmotionalState)},
		{budget.ComponentTechnical, techQualitySuffix},
	}

	parts := make([]string, 0, len(components))
	for _, c := range components {
		text, truncated := budget.Truncate(strings.TrimSpace(c.text), limits[c.name])
		if truncated {
			log.Warn("Prompt component truncated to budget",
				zap.String("component", c.name),
				zap.Int("limit", limits[c.name]),
			)
		}
		if text != "" {
			parts = append(parts, text)
		}
	}

	prompt := strings.Join(parts, ". ") + "." + childSafetySuffix

	// Финальная страховка: жесткий лимит модели против общего потолка.
	modelLimit := budget.LimitsFor(p.cfg.ImageModel).MaxLength
	hardLimit := modelLimit
	if budget.GeneralPromptCeiling < hardLimit {
		hardLimit = budget.GeneralPromptCeiling
	}
	prompt, truncated := budget.Truncate(prompt, hardLimit)
	if truncated {
		log.Warn("Final image prompt truncated",
			zap.String("model", p.cfg.ImageModel),
			zap.Int("limit", hardLimit),
		)
	}
	return prompt
}

func (p *scenePipeline) upload(ctx context.Context, log *zap.Logger, path string, data []byte, contentType string) (string, error) {
	var url string
	err := p.uploadPolicy.Do(ctx, log, "media_upload", func(ctx context.Context) error {
		var upErr error
		url, upErr = p.uploader.Upload(ctx, p.cfg.StorageBucket, path, data, contentType)
		return upErr
	})
	if err != nil {
		return "", &models.UploadError{Path: path, Err: err}
	}
	return url, nil
}

// sceneText - компонент "scene": что происходит и где.
func sceneText(moment models.SceneMoment) string {
	parts := make([]string, 0, 2)
	if moment.PrimaryAction != "" {
		parts = append(parts, moment.PrimaryAction)
	}
	if moment.SpatialArrangement != "" {
		parts = append(parts, moment.SpatialArrangement)
	}
	return strings.Join(parts, ", ")
}

func sceneTitle(moment models.SceneMoment, seq int) string {
	action := strings.TrimSpace(moment.PrimaryAction)
	if action == "" {
		return fmt.Sprintf("Scene %d", seq+1)
	}
	// Первая буква заглавная, длинное действие обрезаем до заголовка.
	runes := []rune(action)
	title := strings.ToUpper(string(runes[0])) + string(runes[1:])
	if t, cut := budget.Truncate(title, 80); cut {
		title = strings.TrimRight(t, " ,") + "..."
	}
	return title
}
