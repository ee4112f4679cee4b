package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"taleweaver-server/shared/models"
)

// pgStoryRepository реализует StoryRepository для PostgreSQL.
type pgStoryRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPgStoryRepository создает репозиторий историй.
func NewPgStoryRepository(db *pgxpool.Pool, logger *zap.Logger) StoryRepository {
	return &pgStoryRepository{db: db, logger: logger.Named("PgStoryRepository")}
}

func (r *pgStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	query := `
        SELECT id, user_id, title, prompt, num_scenes, status, error_details,
               prompt_tokens, completion_tokens, estimated_cost_usd, created_at, updated_at
        FROM stories
        WHERE id = $1`

	var story models.Story
	err := pgxscan.Get(ctx, r.db, &story, query, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrStoryNotFound
		}
		return nil, &models.PersistenceError{Op: "GetStoryByID", Err: err}
	}
	return &story, nil
}

// allowedPrevStatuses возвращает статусы, из которых разрешен переход в target.
// Кодирует монотонность: completed и failed поглощающие.
func allowedPrevStatuses(target models.StoryStatus) []models.StoryStatus {
	switch target {
	case models.StatusProcessing:
		return []models.StoryStatus{models.StatusPending}
	case models.StatusCompleted:
		return []models.StoryStatus{models.StatusProcessing}
	case models.StatusFailed:
		return []models.StoryStatus{models.StatusPending, models.StatusProcessing}
	default:
		return nil
	}
}

func (r *pgStoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.StoryStatus) error {
	allowed := allowedPrevStatuses(status)
	if len(allowed) == 0 {
		return fmt.Errorf("%w: no transition into %q", models.ErrInvalidStatusTransition, status)
	}

	query := `
        UPDATE stories
        SET status = $2, updated_at = now()
        WHERE id = $1 AND status = ANY($3)`

	tag, err := r.db.Exec(ctx, query, id, status, statusStrings(allowed))
	if err != nil {
		return &models.PersistenceError{Op: "UpdateStoryStatus", Err: err}
	}
	if tag.RowsAffected() == 0 {
		// Либо истории нет, либо текущий статус не допускает переход
		current, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidStatusTransition, current.Status, status)
	}

	r.logger.Debug("Story status updated", zap.String("story_id", id.String()), zap.String("status", string(status)))
	return nil
}

func (r *pgStoryRepository) UpdateResult(ctx context.Context, id uuid.UUID, fields StoryResultFields) error {
	query := `
        UPDATE stories
        SET title = $2, prompt_tokens = $3, completion_tokens = $4,
            estimated_cost_usd = $5, updated_at = now()
        WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id,
		fields.Title, fields.PromptTokens, fields.CompletionTokens, fields.EstimatedCostUSD)
	if err != nil {
		return &models.PersistenceError{Op: "UpdateStoryResult", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStoryNotFound
	}
	return nil
}

func (r *pgStoryRepository) SetFailed(ctx context.Context, id uuid.UUID, errorDetails string) error {
	query := `
        UPDATE stories
        SET status = 'failed', error_details = $2, updated_at = now()
        WHERE id = $1 AND status IN ('pending', 'processing')`

	tag, err := r.db.Exec(ctx, query, id, errorDetails)
	if err != nil {
		return &models.PersistenceError{Op: "SetStoryFailed", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStoryNotFound
	}
	return nil
}

func statusStrings(statuses []models.StoryStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
