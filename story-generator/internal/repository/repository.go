package repository

import (
	"context"

	"github.com/google/uuid"

	"taleweaver-server/shared/models"
)

// StoryRepository - операции над записями историй.
type StoryRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error)
	// UpdateStatus выполняет переход статуса, отклоняя немонотонные переходы.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.StoryStatus) error
	// UpdateResult записывает итоговые поля истории (заголовок, расход токенов).
	UpdateResult(ctx context.Context, id uuid.UUID, fields StoryResultFields) error
	// SetFailed переводит историю в failed с деталями ошибки.
	SetFailed(ctx context.Context, id uuid.UUID, errorDetails string) error
}

// StoryResultFields - итоговые поля успешной генерации.
type StoryResultFields struct {
	Title            string
	PromptTokens     int
	CompletionTokens int
	EstimatedCostUSD float64
}

// SceneRepository - операции над сценами.
type SceneRepository interface {
	Create(ctx context.Context, scene *models.Scene) error
	ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.Scene, error)
}

// GenerationLock ограничивает пользователя одной активной генерацией.
type GenerationLock interface {
	// Acquire возвращает false, если у пользователя уже есть активная генерация.
	Acquire(ctx context.Context, userID uuid.UUID) (bool, error)
	Release(ctx context.Context, userID uuid.UUID) error
}
