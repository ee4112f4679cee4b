package service_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taleweaver-server/shared/models"
	"taleweaver-server/story-generator/internal/mocks"
	"taleweaver-server/story-generator/internal/repair"
	"taleweaver-server/story-generator/internal/repository"
	"taleweaver-server/story-generator/internal/retry"
	"taleweaver-server/story-generator/internal/service"
)

const validStoryJSON = `{
	"child_profile": {"name": "Ira", "age": 5, "traits": ["brave"], "appearance": "curly red hair"},
	"story_meta": {"title": "The Knight and the Dragon", "theme": "courage", "tone": "warm", "setting": "castle", "scene_count": 3},
	"beats": [
		{"index": 0, "text": "A knight sets out at dawn.", "tags": ["intro"]},
		{"index": 1, "text": "The knight meets a small dragon.", "tags": ["meeting"]},
		{"index": 2, "text": "They fly home as friends.", "tags": ["ending"]}
	]
}`

const validProfileJSON = `{"characters": [{"name": "Ira", "appearance": "curly red hair", "outfit": "blue cloak"}]}`

const validStyleJSON = `{"base_style": "soft watercolor, warm palette", "atmosphere": "golden morning light"}`

// sysPrompt сопоставляет вызов по фрагменту системного промпта.
func sysPrompt(substr string) interface{} {
	return mock.MatchedBy(func(s string) bool { return strings.Contains(s, substr) })
}

func failingFixer(ctx context.Context, prompt string) (string, error) {
	return "still not json", nil
}

func newTestOrchestrator(textGen service.TextGenerator, pipeline service.ScenePipeline, storyRepo repository.StoryRepository) *service.Orchestrator {
	engine := repair.NewEngine(failingFixer, zap.NewNop(), repair.Options{RepairAttempts: 2, SchemaAttempts: 2})
	policy := retry.Policy{MaxAttempts: 1, BaseDelay: 1}
	return service.NewOrchestrator(textGen, engine, policy, pipeline, storyRepo, zap.NewNop())
}

func TestOrchestrator_Generate_HappyPath(t *testing.T) {
	storyID := uuid.New()
	req := models.GenerationRequest{
		Prompt:    "a knight who befriends a dragon",
		NumScenes: 3,
		UserID:    uuid.New(),
	}

	textGen := new(mocks.MockTextGenerator)
	textGen.On("GenerateText", mock.Anything, sysPrompt("story writer"), mock.Anything, mock.Anything).
		Return(validStoryJSON, service.UsageInfo{PromptTokens: 100, CompletionTokens: 200, TotalTokens: 300}, nil).Once()
	textGen.On("GenerateText", mock.Anything, sysPrompt(`{"characters"`), mock.Anything, mock.Anything).
		Return(validProfileJSON, service.UsageInfo{PromptTokens: 20, CompletionTokens: 30, TotalTokens: 50}, nil).Once()
	textGen.On("GenerateText", mock.Anything, sysPrompt(`{"base_style"`), mock.Anything, mock.Anything).
		Return(validStyleJSON, service.UsageInfo{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}, nil).Once()

	pipeline := new(mocks.MockScenePipeline)
	for i := 0; i < 3; i++ {
		seq := i
		pipeline.On("ProcessScene", mock.Anything, mock.MatchedBy(func(in service.SceneInput) bool {
			return in.Beat.Index == seq && in.StoryID == storyID
		})).Return(
			models.Scene{ID: uuid.New(), StoryID: storyID, Sequence: seq, Title: fmt.Sprintf("Scene %d", seq+1)},
			service.UsageInfo{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10},
			nil,
		).Once()
	}

	storyRepo := new(mocks.MockStoryRepository)
	storyRepo.On("UpdateStatus", mock.Anything, storyID, models.StatusProcessing).Return(nil).Once()
	storyRepo.On("UpdateResult", mock.Anything, storyID, mock.MatchedBy(func(f repository.StoryResultFields) bool {
		return f.Title == "The Knight and the Dragon" && f.PromptTokens == 145 && f.CompletionTokens == 255
	})).Return(nil).Once()
	storyRepo.On("UpdateStatus", mock.Anything, storyID, models.StatusCompleted).Return(nil).Once()

	orch := newTestOrchestrator(textGen, pipeline, storyRepo)
	result := orch.Generate(context.Background(), req, storyID)

	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, "The Knight and the Dragon", result.Title)
	require.Len(t, result.Scenes, 3)
	for i, scene := range result.Scenes {
		assert.Equal(t, i, scene.Sequence)
	}
	assert.Nil(t, result.ErrorDetails)

	textGen.AssertExpectations(t)
	pipeline.AssertExpectations(t)
	storyRepo.AssertExpectations(t)
}

func TestOrchestrator_Generate_GarbageBackendFails(t *testing.T) {
	storyID := uuid.New()
	req := models.GenerationRequest{Prompt: "a story", NumScenes: 3, UserID: uuid.New()}

	textGen := new(mocks.MockTextGenerator)
	textGen.On("GenerateText", mock.Anything, sysPrompt("story writer"), mock.Anything, mock.Anything).
		Return("I am sorry, I cannot do that.", service.UsageInfo{}, nil).Once()

	storyRepo := new(mocks.MockStoryRepository)
	storyRepo.On("UpdateStatus", mock.Anything, storyID, models.StatusProcessing).Return(nil).Once()
	storyRepo.On("SetFailed", mock.Anything, storyID, mock.Anything).Return(nil).Once()

	orch := newTestOrchestrator(textGen, new(mocks.MockScenePipeline), storyRepo)
	result := orch.Generate(context.Background(), req, storyID)

	assert.Equal(t, models.StatusFailed, result.Status)
	require.NotNil(t, result.ErrorDetails)
	assert.Contains(t, *result.ErrorDetails, "story generation failed")
	assert.Empty(t, result.Scenes)

	storyRepo.AssertExpectations(t)
}

func TestOrchestrator_Generate_SceneCountMismatchFails(t *testing.T) {
	storyID := uuid.New()
	// Запрошено 5 сцен, модель вернула 3
	req := models.GenerationRequest{Prompt: "a story", NumScenes: 5, UserID: uuid.New()}

	textGen := new(mocks.MockTextGenerator)
	textGen.On("GenerateText", mock.Anything, sysPrompt("story writer"), mock.Anything, mock.Anything).
		Return(validStoryJSON, service.UsageInfo{}, nil).Once()

	storyRepo := new(mocks.MockStoryRepository)
	storyRepo.On("UpdateStatus", mock.Anything, storyID, models.StatusProcessing).Return(nil).Once()
	storyRepo.On("SetFailed", mock.Anything, storyID, mock.MatchedBy(func(details string) bool {
		return strings.Contains(details, "scene count")
	})).Return(nil).Once()

	orch := newTestOrchestrator(textGen, new(mocks.MockScenePipeline), storyRepo)
	result := orch.Generate(context.Background(), req, storyID)

	assert.Equal(t, models.StatusFailed, result.Status)
	storyRepo.AssertExpectations(t)
}

func TestOrchestrator_Generate_MediaFailureFails(t *testing.T) {
	storyID := uuid.New()
	req := models.GenerationRequest{Prompt: "a story", NumScenes: 3, UserID: uuid.New()}

	textGen := new(mocks.MockTextGenerator)
	textGen.On("GenerateText", mock.Anything, sysPrompt("story writer"), mock.Anything, mock.Anything).
		Return(validStoryJSON, service.UsageInfo{}, nil).Once()
	textGen.On("GenerateText", mock.Anything, sysPrompt(`{"characters"`), mock.Anything, mock.Anything).
		Return(validProfileJSON, service.UsageInfo{}, nil).Once()
	textGen.On("GenerateText", mock.Anything, sysPrompt(`{"base_style"`), mock.Anything, mock.Anything).
		Return(validStyleJSON, service.UsageInfo{}, nil).Once()

	pipeline := new(mocks.MockScenePipeline)
	pipeline.On("ProcessScene", mock.Anything, mock.Anything).Return(
		models.Scene{}, service.UsageInfo{},
		&models.MediaGenerationError{Stage: models.StageImageGeneration, Sequence: 0, Err: fmt.Errorf("image server down")},
	).Once()

	storyRepo := new(mocks.MockStoryRepository)
	storyRepo.On("UpdateStatus", mock.Anything, storyID, models.StatusProcessing).Return(nil).Once()
	storyRepo.On("SetFailed", mock.Anything, storyID, mock.MatchedBy(func(details string) bool {
		return strings.Contains(details, models.StageImageGeneration)
	})).Return(nil).Once()

	orch := newTestOrchestrator(textGen, pipeline, storyRepo)
	result := orch.Generate(context.Background(), req, storyID)

	assert.Equal(t, models.StatusFailed, result.Status)
	// Сцены после первой не обрабатываются
	pipeline.AssertNumberOfCalls(t, "ProcessScene", 1)
	storyRepo.AssertExpectations(t)
}

func TestOrchestrator_Generate_CancellationPersistsFailedStatus(t *testing.T) {
	storyID := uuid.New()
	req := models.GenerationRequest{Prompt: "a story", NumScenes: 3, UserID: uuid.New()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	textGen := new(mocks.MockTextGenerator)
	textGen.On("GenerateText", mock.Anything, sysPrompt("story writer"), mock.Anything, mock.Anything).
		Return(validStoryJSON, service.UsageInfo{}, nil).Once()
	textGen.On("GenerateText", mock.Anything, sysPrompt(`{"characters"`), mock.Anything, mock.Anything).
		Return(validProfileJSON, service.UsageInfo{}, nil).Once()
	textGen.On("GenerateText", mock.Anything, sysPrompt(`{"base_style"`), mock.Anything, mock.Anything).
		Return(validStyleJSON, service.UsageInfo{}, nil).Once()

	// Остановка воркера приходит во время обработки первой сцены
	pipeline := new(mocks.MockScenePipeline)
	pipeline.On("ProcessScene", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { cancel() }).
		Return(models.Scene{ID: uuid.New(), StoryID: storyID, Sequence: 0}, service.UsageInfo{}, nil).Once()

	storyRepo := new(mocks.MockStoryRepository)
	storyRepo.On("UpdateStatus", mock.Anything, storyID, models.StatusProcessing).Return(nil).Once()
	// Запись failed обязана идти на живом контексте: реальный pgx на уже
	// отмененном контексте вернул бы ошибку, и история зависла бы в processing.
	storyRepo.On("SetFailed", mock.MatchedBy(func(c context.Context) bool {
		return c.Err() == nil
	}), storyID, mock.MatchedBy(func(details string) bool {
		return strings.Contains(details, "generation cancelled")
	})).Return(nil).Once()

	orch := newTestOrchestrator(textGen, pipeline, storyRepo)
	result := orch.Generate(ctx, req, storyID)

	assert.Equal(t, models.StatusFailed, result.Status)
	require.NotNil(t, result.ErrorDetails)
	assert.Contains(t, *result.ErrorDetails, "generation cancelled")
	pipeline.AssertNumberOfCalls(t, "ProcessScene", 1)
	storyRepo.AssertExpectations(t)
}

func TestOrchestrator_Generate_StatusUpdateFailureFails(t *testing.T) {
	storyID := uuid.New()
	req := models.GenerationRequest{Prompt: "a story", NumScenes: 3, UserID: uuid.New()}

	storyRepo := new(mocks.MockStoryRepository)
	storyRepo.On("UpdateStatus", mock.Anything, storyID, models.StatusProcessing).
		Return(models.ErrInvalidStatusTransition).Once()
	storyRepo.On("SetFailed", mock.Anything, storyID, mock.Anything).Return(nil).Once()

	orch := newTestOrchestrator(new(mocks.MockTextGenerator), new(mocks.MockScenePipeline), storyRepo)
	result := orch.Generate(context.Background(), req, storyID)

	assert.Equal(t, models.StatusFailed, result.Status)
	storyRepo.AssertExpectations(t)
}
