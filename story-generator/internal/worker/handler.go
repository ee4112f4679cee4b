package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taleweaver-server/shared/messaging"
	"taleweaver-server/shared/models"
	"taleweaver-server/story-generator/internal/repository"
)

// StoryGenerator - оркестратор генерации с точки зрения воркера.
// Ошибки генерации выражены статусом результата, не error.
type StoryGenerator interface {
	Generate(ctx context.Context, req models.GenerationRequest, storyID uuid.UUID) models.StoryResult
}

// TaskHandler обрабатывает задачи генерации из очереди.
type TaskHandler struct {
	orchestrator StoryGenerator
	lock         repository.GenerationLock
	publisher    messaging.ResultPublisher
	logger       *zap.Logger
}

// NewTaskHandler создает обработчик задач воркера.
func NewTaskHandler(
	orchestrator StoryGenerator,
	lock repository.GenerationLock,
	publisher messaging.ResultPublisher,
	logger *zap.Logger,
) *TaskHandler {
	return &TaskHandler{
		orchestrator: orchestrator,
		lock:         lock,
		publisher:    publisher,
		logger:       logger,
	}
}

// Handle обрабатывает одну задачу. Возвращаемая ошибка означает, что
// сообщение нужно отклонить (nack); nil - подтвердить (ack).
func (h *TaskHandler) Handle(ctx context.Context, payload messaging.StoryGenerationTaskPayload) error {
	IncrementTasksReceived()
	startedAt := time.Now()

	log := h.logger.With(
		zap.String("task_id", payload.TaskID),
		zap.String("story_id", payload.StoryID.String()),
		zap.String("user_id", payload.UserID.String()),
	)
	log.Info("Received generation task", zap.Int("num_scenes", payload.NumScenes))

	defer func() {
		RecordTaskDuration(time.Since(startedAt))
	}()

	// Один пользователь - одна активная генерация.
	acquired, err := h.lock.Acquire(ctx, payload.UserID)
	if err != nil {
		IncrementTaskFailed("lock_error")
		return fmt.Errorf("failed to acquire generation lock: %w", err)
	}
	if !acquired {
		log.Warn("User already has an active generation, rejecting task")
		IncrementTaskFailed("duplicate_generation")
		h.publishResult(ctx, log, payload, models.StoryResult{
			StoryID:      payload.StoryID,
			Status:       models.StatusFailed,
			ErrorDetails: strPtr(models.ErrUserHasActiveGeneration.Error()),
		})
		// Задача потреблена: повтор не поможет, пока идет другая генерация.
		return nil
	}
	defer func() {
		if relErr := h.lock.Release(context.Background(), payload.UserID); relErr != nil {
			log.Error("Failed to release generation lock", zap.Error(relErr))
		}
	}()

	req := models.GenerationRequest{
		Title:     payload.Title,
		Prompt:    payload.Prompt,
		NumScenes: payload.NumScenes,
		UserID:    payload.UserID,
	}
	result := h.orchestrator.Generate(ctx, req, payload.StoryID)

	switch result.Status {
	case models.StatusCompleted:
		IncrementTaskSucceeded()
		AddScenesGenerated(len(result.Scenes))
		log.Info("Task completed", zap.Int("scenes", len(result.Scenes)))
	default:
		IncrementTaskFailed(failureReason(result))
		log.Warn("Task failed", zap.Stringp("error_details", result.ErrorDetails))
	}

	h.publishResult(ctx, log, payload, result)
	return nil
}

// publishResult отправляет уведомление о результате. Ошибка публикации не
// валит задачу: история уже зафиксирована в БД.
func (h *TaskHandler) publishResult(ctx context.Context, log *zap.Logger, payload messaging.StoryGenerationTaskPayload, result models.StoryResult) {
	notification := messaging.StoryResultPayload{
		TaskID:     payload.TaskID,
		StoryID:    payload.StoryID,
		UserID:     payload.UserID,
		Status:     messaging.NotificationStatusSuccess,
		Title:      result.Title,
		SceneCount: len(result.Scenes),
	}
	if result.Status != models.StatusCompleted {
		notification.Status = messaging.NotificationStatusError
		if result.ErrorDetails != nil {
			notification.ErrorDetails = *result.ErrorDetails
		}
	}

	if err := h.publisher.Publish(ctx, notification, payload.TaskID); err != nil {
		log.Error("Failed to publish result notification", zap.Error(err))
	}
}

// failureReason классифицирует причину провала для метрик.
func failureReason(result models.StoryResult) string {
	if result.ErrorDetails == nil {
		return "unknown"
	}
	details := *result.ErrorDetails
	for _, stage := range []string{
		models.StageImageGeneration,
		models.StageAudioGeneration,
		models.StageUpload,
		models.StagePersist,
	} {
		if strings.Contains(details, stage) {
			return stage
		}
	}
	return "generation_error"
}

func strPtr(s string) *string {
	return &s
}
