package messaging

import (
	"github.com/google/uuid"
)

// Имена очередей и exchange'ей.
const (
	// QueueStoryGenerationTasks - очередь задач генерации историй.
	QueueStoryGenerationTasks = "story_generation_tasks"
	// ExchangeStoryResults - exchange для уведомлений о результатах.
	ExchangeStoryResults = "story_generation_results"
)

// NotificationStatus - статус задачи в уведомлении.
type NotificationStatus string

const (
	NotificationStatusSuccess NotificationStatus = "success"
	NotificationStatusError   NotificationStatus = "error"
)

// StoryGenerationTaskPayload - полезная нагрузка задачи генерации истории.
// Запись истории со статусом pending уже создана на этапе admission.
type StoryGenerationTaskPayload struct {
	TaskID    string    `json:"task_id"`
	StoryID   uuid.UUID `json:"story_id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	Prompt    string    `json:"prompt"`
	NumScenes int       `json:"num_scenes"`
}

// StoryResultPayload - уведомление о завершении генерации (успех или ошибка).
type StoryResultPayload struct {
	TaskID       string             `json:"task_id"`
	StoryID      uuid.UUID          `json:"story_id"`
	UserID       uuid.UUID          `json:"user_id"`
	Status       NotificationStatus `json:"status"`
	Title        string             `json:"title,omitempty"`
	SceneCount   int                `json:"scene_count"`
	ErrorDetails string             `json:"error_details,omitempty"`
}
