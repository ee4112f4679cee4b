package models

import (
	"errors"
	"fmt"
)

// Application-wide standard errors
var (
	ErrNotFound      = errors.New("resource not found")
	ErrStoryNotFound = errors.New("story not found")

	// Story Generation Errors
	ErrUserHasActiveGeneration = errors.New("user already has an active generation task")
	ErrInvalidStatusTransition = errors.New("invalid story status transition")
	ErrSceneCountMismatch      = errors.New("generated beat count does not match requested scene count")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrInvalidInput   = errors.New("invalid input data")
)

// SchemaRepairExhaustedError - исчерпан лимит попыток починки JSON через fixer-модель.
// Несет последнюю ошибку парсинга и исходный текст для диагностики.
type SchemaRepairExhaustedError struct {
	Attempts int
	LastErr  error
	RawText  string
}

func (e *SchemaRepairExhaustedError) Error() string {
	return fmt.Sprintf("schema repair exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *SchemaRepairExhaustedError) Unwrap() error { return e.LastErr }

// SchemaValidationError - данные распарсились, но не соответствуют схеме.
// Path указывает на проблемное поле (например "story_meta.scene_count").
type SchemaValidationError struct {
	Path    string
	Message string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation failed at %q: %s", e.Path, e.Message)
}

// Media pipeline stage tags. Попадают в ErrorDetails истории как терминальная причина.
const (
	StageImageGeneration = "image_generation_failed"
	StageAudioGeneration = "audio_generation_failed"
	StageUpload          = "upload_failed"
	StagePersist         = "persist_failed"
)

// MediaGenerationError - ошибка этапа медиа-пайплайна после исчерпания ретраев.
type MediaGenerationError struct {
	Stage    string // один из Stage* тегов
	Sequence int    // номер сцены
	Err      error
}

func (e *MediaGenerationError) Error() string {
	return fmt.Sprintf("%s (scene %d): %v", e.Stage, e.Sequence, e.Err)
}

func (e *MediaGenerationError) Unwrap() error { return e.Err }

// CancellationError - генерация прервана отменой контекста (таймаут
// запроса, отключение вызывающего, остановка воркера).
type CancellationError struct {
	Err error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("generation cancelled: %v", e.Err)
}

func (e *CancellationError) Unwrap() error { return e.Err }

// UploadError - ошибка загрузки медиа в хранилище.
type UploadError struct {
	Path string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %q failed: %v", e.Path, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// PersistenceError - ошибка сохранения записи в БД.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
