package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"taleweaver-server/shared/messaging"
	"taleweaver-server/shared/models"
	"taleweaver-server/story-generator/internal/repository"
	"taleweaver-server/story-generator/internal/service"
)

// MockTextGenerator - mock для service.TextGenerator
type MockTextGenerator struct {
	mock.Mock
}

func (m *MockTextGenerator) GenerateText(ctx context.Context, systemPrompt, userInput string, params service.GenerationParams) (string, service.UsageInfo, error) {
	args := m.Called(ctx, systemPrompt, userInput, params)
	usage, _ := args.Get(1).(service.UsageInfo)
	return args.String(0), usage, args.Error(2)
}

// MockImageGenerator - mock для service.ImageGenerator
type MockImageGenerator struct {
	mock.Mock
}

func (m *MockImageGenerator) GenerateImage(ctx context.Context, prompt string, width, height int) ([]byte, error) {
	args := m.Called(ctx, prompt, width, height)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// MockAudioGenerator - mock для service.AudioGenerator
type MockAudioGenerator struct {
	mock.Mock
}

func (m *MockAudioGenerator) GenerateAudio(ctx context.Context, text, voiceID string) ([]byte, error) {
	args := m.Called(ctx, text, voiceID)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// MockUploader - mock для storage.Uploader
type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, bucket, objectPath, data, contentType)
	return args.String(0), args.Error(1)
}

// MockStoryRepository - mock для repository.StoryRepository
type MockStoryRepository struct {
	mock.Mock
}

func (m *MockStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	args := m.Called(ctx, id)
	story, _ := args.Get(0).(*models.Story)
	return story, args.Error(1)
}

func (m *MockStoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.StoryStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockStoryRepository) UpdateResult(ctx context.Context, id uuid.UUID, fields repository.StoryResultFields) error {
	args := m.Called(ctx, id, fields)
	return args.Error(0)
}

func (m *MockStoryRepository) SetFailed(ctx context.Context, id uuid.UUID, errorDetails string) error {
	args := m.Called(ctx, id, errorDetails)
	return args.Error(0)
}

// MockSceneRepository - mock для repository.SceneRepository
type MockSceneRepository struct {
	mock.Mock
}

func (m *MockSceneRepository) Create(ctx context.Context, scene *models.Scene) error {
	args := m.Called(ctx, scene)
	return args.Error(0)
}

func (m *MockSceneRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.Scene, error) {
	args := m.Called(ctx, storyID)
	scenes, _ := args.Get(0).([]models.Scene)
	return scenes, args.Error(1)
}

// MockGenerationLock - mock для repository.GenerationLock
type MockGenerationLock struct {
	mock.Mock
}

func (m *MockGenerationLock) Acquire(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockGenerationLock) Release(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

// MockResultPublisher - mock для messaging.ResultPublisher
type MockResultPublisher struct {
	mock.Mock
}

func (m *MockResultPublisher) Publish(ctx context.Context, payload messaging.StoryResultPayload, correlationID string) error {
	args := m.Called(ctx, payload, correlationID)
	return args.Error(0)
}

func (m *MockResultPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockStoryGenerator - mock для worker.StoryGenerator
type MockStoryGenerator struct {
	mock.Mock
}

func (m *MockStoryGenerator) Generate(ctx context.Context, req models.GenerationRequest, storyID uuid.UUID) models.StoryResult {
	args := m.Called(ctx, req, storyID)
	result, _ := args.Get(0).(models.StoryResult)
	return result
}

// MockScenePipeline - mock для service.ScenePipeline
type MockScenePipeline struct {
	mock.Mock
}

func (m *MockScenePipeline) ProcessScene(ctx context.Context, in service.SceneInput) (models.Scene, service.UsageInfo, error) {
	args := m.Called(ctx, in)
	scene, _ := args.Get(0).(models.Scene)
	usage, _ := args.Get(1).(service.UsageInfo)
	return scene, usage, args.Error(2)
}
