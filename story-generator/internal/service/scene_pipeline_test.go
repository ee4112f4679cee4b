package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taleweaver-server/shared/models"
	"taleweaver-server/story-generator/internal/config"
	"taleweaver-server/story-generator/internal/mocks"
	"taleweaver-server/story-generator/internal/repair"
	"taleweaver-server/story-generator/internal/retry"
	"taleweaver-server/story-generator/internal/service"
)

const validMomentJSON = `{"primary_action": "the knight waves to the dragon", "emotional_state": "joyful", "spatial_arrangement": "on a green hill under a castle"}`

func testPipelineConfig() *config.Config {
	return &config.Config{
		ImageModel:        "sana-sprint",
		ImageWidth:        1024,
		ImageHeight:       768,
		ImageMaxAttempts:  3,
		AudioMaxAttempts:  3,
		UploadMaxAttempts: 2,
		MediaBaseDelay:    time.Millisecond,
		PromptTotalBudget: 2000,
		AudioVoiceID:      "nastya",
		StorageBucket:     "test-bucket",
	}
}

type pipelineFixture struct {
	textGen   *mocks.MockTextGenerator
	imageGen  *mocks.MockImageGenerator
	audioGen  *mocks.MockAudioGenerator
	uploader  *mocks.MockUploader
	sceneRepo *mocks.MockSceneRepository
	pipeline  service.ScenePipeline
}

func newPipelineFixture(cfg *config.Config) *pipelineFixture {
	f := &pipelineFixture{
		textGen:   new(mocks.MockTextGenerator),
		imageGen:  new(mocks.MockImageGenerator),
		audioGen:  new(mocks.MockAudioGenerator),
		uploader:  new(mocks.MockUploader),
		sceneRepo: new(mocks.MockSceneRepository),
	}
	engine := repair.NewEngine(failingFixer, zap.NewNop(), repair.Options{RepairAttempts: 2, SchemaAttempts: 2})
	f.pipeline = service.NewScenePipeline(cfg, f.textGen, engine, retry.Policy{MaxAttempts: 1, BaseDelay: 1},
		f.imageGen, f.audioGen, f.uploader, f.sceneRepo, zap.NewNop())
	return f
}

func testSceneInput(storyID uuid.UUID) service.SceneInput {
	return service.SceneInput{
		StoryID: storyID,
		Beat: models.StoryBeat{
			Index: 1,
			Text:  "The knight meets a small dragon on the hill.",
			Tags:  []string{"meeting"},
		},
		Profile: models.VisualProfile{Characters: []models.CharacterVisual{
			{Name: "Ira", Appearance: "curly red hair", Outfit: "blue cloak"},
		}},
		Style:        models.BaseStyle{Style: "soft watercolor", Atmosphere: "golden light"},
		StoryContext: "A knight sets out at dawn.",
	}
}

func (f *pipelineFixture) expectMoment() {
	f.textGen.On("GenerateText", mock.Anything, sysPrompt("visual moment"), mock.Anything, mock.Anything).
		Return(validMomentJSON, service.UsageInfo{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}, nil)
}

func TestScenePipeline_ProcessScene_HappyPath(t *testing.T) {
	storyID := uuid.New()
	f := newPipelineFixture(testPipelineConfig())
	f.expectMoment()

	imageBytes := []byte("jpeg-bytes")
	audioBytes := []byte("mp3-bytes")
	f.imageGen.On("GenerateImage", mock.Anything, mock.Anything, 1024, 768).Return(imageBytes, nil).Once()
	f.audioGen.On("GenerateAudio", mock.Anything, "The knight meets a small dragon on the hill.", "nastya").
		Return(audioBytes, nil).Once()

	imagePath := fmt.Sprintf("stories/%s/scenes/001.jpg", storyID)
	audioPath := fmt.Sprintf("stories/%s/scenes/001.mp3", storyID)
	f.uploader.On("Upload", mock.Anything, "test-bucket", imagePath, imageBytes, "image/jpeg").
		Return("https://storage.googleapis.com/test-bucket/"+imagePath, nil).Once()
	f.uploader.On("Upload", mock.Anything, "test-bucket", audioPath, audioBytes, "audio/mpeg").
		Return("https://storage.googleapis.com/test-bucket/"+audioPath, nil).Once()

	f.sceneRepo.On("Create", mock.Anything, mock.MatchedBy(func(s *models.Scene) bool {
		return s.StoryID == storyID && s.Sequence == 1 && s.ImageURL != nil && s.AudioURL != nil
	})).Return(nil).Once()

	scene, usage, err := f.pipeline.ProcessScene(context.Background(), testSceneInput(storyID))

	require.NoError(t, err)
	assert.Equal(t, 1, scene.Sequence)
	assert.Equal(t, "The knight meets a small dragon on the hill.", scene.Narrative)
	require.NotNil(t, scene.ImageURL)
	assert.Contains(t, *scene.ImageURL, ".jpg")
	require.NotNil(t, scene.AudioURL)
	assert.Contains(t, *scene.AudioURL, ".mp3")
	assert.Equal(t, 20, usage.TotalTokens)

	// Промпт изображения собран из компонентов и несет суффикс безопасности
	assert.Contains(t, scene.ImagePrompt, "soft watercolor")
	assert.Contains(t, scene.ImagePrompt, "curly red hair")
	assert.Contains(t, scene.ImagePrompt, "Safe for children")

	f.imageGen.AssertExpectations(t)
	f.audioGen.AssertExpectations(t)
	f.uploader.AssertExpectations(t)
	f.sceneRepo.AssertExpectations(t)
}

func TestScenePipeline_ProcessScene_ImageRetriesThenSucceeds(t *testing.T) {
	storyID := uuid.New()
	f := newPipelineFixture(testPipelineConfig())
	f.expectMoment()

	// Две временные ошибки, третья попытка успешна
	f.imageGen.On("GenerateImage", mock.Anything, mock.Anything, 1024, 768).
		Return(nil, errors.New("image server timeout")).Twice()
	f.imageGen.On("GenerateImage", mock.Anything, mock.Anything, 1024, 768).
		Return([]byte("jpeg"), nil).Once()

	f.audioGen.On("GenerateAudio", mock.Anything, mock.Anything, mock.Anything).Return([]byte("mp3"), nil)
	f.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("https://example.com/media", nil)
	f.sceneRepo.On("Create", mock.Anything, mock.Anything).Return(nil)

	_, _, err := f.pipeline.ProcessScene(context.Background(), testSceneInput(storyID))

	require.NoError(t, err)
	f.imageGen.AssertNumberOfCalls(t, "GenerateImage", 3)
}

func TestScenePipeline_ProcessScene_ImageExhaustionTagged(t *testing.T) {
	storyID := uuid.New()
	f := newPipelineFixture(testPipelineConfig())
	f.expectMoment()

	f.imageGen.On("GenerateImage", mock.Anything, mock.Anything, 1024, 768).
		Return(nil, errors.New("image server down"))

	_, _, err := f.pipeline.ProcessScene(context.Background(), testSceneInput(storyID))

	require.Error(t, err)
	var mediaErr *models.MediaGenerationError
	require.ErrorAs(t, err, &mediaErr)
	assert.Equal(t, models.StageImageGeneration, mediaErr.Stage)
	assert.Equal(t, 1, mediaErr.Sequence)

	// Ровно ImageMaxAttempts попыток, аудио не запускалось
	f.imageGen.AssertNumberOfCalls(t, "GenerateImage", 3)
	f.audioGen.AssertNotCalled(t, "GenerateAudio", mock.Anything, mock.Anything, mock.Anything)
}

func TestScenePipeline_ProcessScene_AudioFailureTagged(t *testing.T) {
	storyID := uuid.New()
	f := newPipelineFixture(testPipelineConfig())
	f.expectMoment()

	f.imageGen.On("GenerateImage", mock.Anything, mock.Anything, 1024, 768).Return([]byte("jpeg"), nil)
	f.audioGen.On("GenerateAudio", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("tts down"))

	_, _, err := f.pipeline.ProcessScene(context.Background(), testSceneInput(storyID))

	var mediaErr *models.MediaGenerationError
	require.ErrorAs(t, err, &mediaErr)
	assert.Equal(t, models.StageAudioGeneration, mediaErr.Stage)
}

func TestScenePipeline_ProcessScene_UploadFailureTagged(t *testing.T) {
	storyID := uuid.New()
	f := newPipelineFixture(testPipelineConfig())
	f.expectMoment()

	f.imageGen.On("GenerateImage", mock.Anything, mock.Anything, 1024, 768).Return([]byte("jpeg"), nil)
	f.audioGen.On("GenerateAudio", mock.Anything, mock.Anything, mock.Anything).Return([]byte("mp3"), nil)
	f.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("bucket unavailable"))

	_, _, err := f.pipeline.ProcessScene(context.Background(), testSceneInput(storyID))

	var mediaErr *models.MediaGenerationError
	require.ErrorAs(t, err, &mediaErr)
	assert.Equal(t, models.StageUpload, mediaErr.Stage)
	var uploadErr *models.UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Contains(t, uploadErr.Path, ".jpg")

	// Загрузка ретраится своим лимитом, не лимитом аудио
	f.uploader.AssertNumberOfCalls(t, "Upload", 2)
	f.sceneRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestScenePipeline_ProcessScene_PersistFailureTagged(t *testing.T) {
	storyID := uuid.New()
	f := newPipelineFixture(testPipelineConfig())
	f.expectMoment()

	f.imageGen.On("GenerateImage", mock.Anything, mock.Anything, 1024, 768).Return([]byte("jpeg"), nil)
	f.audioGen.On("GenerateAudio", mock.Anything, mock.Anything, mock.Anything).Return([]byte("mp3"), nil)
	f.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("https://example.com/media", nil)
	f.sceneRepo.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))

	_, _, err := f.pipeline.ProcessScene(context.Background(), testSceneInput(storyID))

	var mediaErr *models.MediaGenerationError
	require.ErrorAs(t, err, &mediaErr)
	assert.Equal(t, models.StagePersist, mediaErr.Stage)
}

func TestScenePipeline_ImagePromptRespectsModelLimit(t *testing.T) {
	storyID := uuid.New()
	f := newPipelineFixture(testPipelineConfig())
	f.expectMoment()

	var capturedPrompt string
	f.imageGen.On("GenerateImage", mock.Anything, mock.Anything, 1024, 768).
		Run(func(args mock.Arguments) { capturedPrompt = args.String(1) }).
		Return([]byte("jpeg"), nil)
	f.audioGen.On("GenerateAudio", mock.Anything, mock.Anything, mock.Anything).Return([]byte("mp3"), nil)
	f.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("https://example.com/media", nil)
	f.sceneRepo.On("Create", mock.Anything, mock.Anything).Return(nil)

	in := testSceneInput(storyID)
	// Раздуваем компоненты далеко за пределы бюджета
	in.Style.Style = strings.Repeat("very detailed watercolor style description ", 100)
	in.Style.Atmosphere = strings.Repeat("moody ", 200)
	in.Profile.Characters[0].Appearance = strings.Repeat("freckles ", 300)

	_, _, err := f.pipeline.ProcessScene(context.Background(), in)
	require.NoError(t, err)

	// min(лимит sana-sprint 1500, общий потолок 2000) = 1500
	assert.LessOrEqual(t, len([]rune(capturedPrompt)), 1500)
}
