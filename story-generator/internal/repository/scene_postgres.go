package repository

import (
	"context"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"taleweaver-server/shared/models"
)

// pgSceneRepository реализует SceneRepository для PostgreSQL.
type pgSceneRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPgSceneRepository создает репозиторий сцен.
func NewPgSceneRepository(db *pgxpool.Pool, logger *zap.Logger) SceneRepository {
	return &pgSceneRepository{db: db, logger: logger.Named("PgSceneRepository")}
}

// Create вставляет финализированную сцену. Порядковый номер уникален в рамках
// истории (UNIQUE (story_id, sequence)) и после вставки не меняется.
func (r *pgSceneRepository) Create(ctx context.Context, scene *models.Scene) error {
	if scene.ID == uuid.Nil {
		scene.ID = uuid.New()
	}
	now := time.Now().UTC()
	if scene.CreatedAt.IsZero() {
		scene.CreatedAt = now
	}
	scene.UpdatedAt = now

	query := `
        INSERT INTO scenes
        (id, story_id, sequence, title, narrative, image_prompt, image_url, audio_url, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		scene.ID,
		scene.StoryID,
		scene.Sequence,
		scene.Title,
		scene.Narrative,
		scene.ImagePrompt,
		scene.ImageURL,
		scene.AudioURL,
		scene.CreatedAt,
		scene.UpdatedAt,
	)
	if err != nil {
		return &models.PersistenceError{Op: "CreateScene", Err: err}
	}

	r.logger.Debug("Scene persisted",
		zap.String("story_id", scene.StoryID.String()),
		zap.Int("sequence", scene.Sequence),
	)
	return nil
}

// ListByStory возвращает сцены истории в порядке их следования.
func (r *pgSceneRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.Scene, error) {
	query := `
        SELECT id, story_id, sequence, title, narrative, image_prompt, image_url, audio_url, created_at, updated_at
        FROM scenes
        WHERE story_id = $1
        ORDER BY sequence ASC`

	var scenes []models.Scene
	if err := pgxscan.Select(ctx, r.db, &scenes, query, storyID); err != nil {
		return nil, &models.PersistenceError{Op: "ListScenesByStory", Err: err}
	}
	return scenes, nil
}
