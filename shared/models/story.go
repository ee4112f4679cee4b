package models

import (
	"time"

	"github.com/google/uuid"
)

// StoryStatus определяет возможные статусы генерации истории.
// Совпадает с типом ENUM 'story_status' в БД.
type StoryStatus string

const (
	StatusPending    StoryStatus = "pending"    // Задача принята, ожидает воркера
	StatusProcessing StoryStatus = "processing" // Идет генерация текста и медиа
	StatusCompleted  StoryStatus = "completed"  // Все сцены сгенерированы успешно
	StatusFailed     StoryStatus = "failed"     // Терминальная ошибка генерации
)

// CanTransitionTo проверяет допустимость перехода статуса.
// Переходы монотонны: PENDING -> PROCESSING -> {COMPLETED, FAILED}.
// FAILED и COMPLETED терминальны.
func (s StoryStatus) CanTransitionTo(next StoryStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		// completed и failed - поглощающие состояния
		return false
	}
}

// GenerationRequest - запрос на генерацию истории. Неизменяем после отправки.
type GenerationRequest struct {
	Title     string    `json:"title"`
	Prompt    string    `json:"prompt"`
	NumScenes int       `json:"num_scenes"` // Ограничен диапазоном 1..10 на этапе admission
	UserID    uuid.UUID `json:"user_id"`
}

// Scene представляет одну сцену истории в базе данных.
// Сцена принадлежит ровно одной истории; порядковый номер неизменяем.
type Scene struct {
	ID          uuid.UUID `json:"id" db:"id"`
	StoryID     uuid.UUID `json:"story_id" db:"story_id"`
	Sequence    int       `json:"sequence" db:"sequence"` // 0-based, непрерывный
	Title       string    `json:"title" db:"title"`
	Narrative   string    `json:"narrative" db:"narrative"`
	ImagePrompt string    `json:"image_prompt" db:"image_prompt"`
	ImageURL    *string   `json:"image_url,omitempty" db:"image_url"` // NULL до синтеза
	AudioURL    *string   `json:"audio_url,omitempty" db:"audio_url"` // NULL до синтеза
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Story представляет запись истории в базе данных.
type Story struct {
	ID               uuid.UUID   `json:"id" db:"id"`
	UserID           uuid.UUID   `json:"user_id" db:"user_id"`
	Title            *string     `json:"title,omitempty" db:"title"`
	Prompt           string      `json:"prompt" db:"prompt"`
	NumScenes        int         `json:"num_scenes" db:"num_scenes"`
	Status           StoryStatus `json:"status" db:"status"`
	ErrorDetails     *string     `json:"error_details,omitempty" db:"error_details"`
	PromptTokens     int         `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int         `json:"completion_tokens" db:"completion_tokens"`
	EstimatedCostUSD float64     `json:"estimated_cost_usd" db:"estimated_cost_usd"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// StoryResult - итоговое значение, возвращаемое оркестратором вызывающей стороне.
// При ошибке Scenes пуст (или частично заполнен), а ErrorDetails непустой.
type StoryResult struct {
	StoryID      uuid.UUID   `json:"story_id"`
	Status       StoryStatus `json:"status"`
	Title        string      `json:"title"`
	Scenes       []Scene     `json:"scenes"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	ErrorDetails *string     `json:"error_details,omitempty"`
}
