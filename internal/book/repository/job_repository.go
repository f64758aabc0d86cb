package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lk2023060901/bookhub-backend/internal/book/models"
	booktypes "github.com/lk2023060901/bookhub-backend/internal/book/types"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/database"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/errors"
)

// ParsingJobRepository 解析任务仓储接口
type ParsingJobRepository interface {
	// Create 创建任务
	Create(ctx context.Context, job *models.ParsingJob) error

	// GetByID 根据 ID 获取任务
	GetByID(ctx context.Context, id uuid.UUID) (*models.ParsingJob, error)

	// MarkProcessing 将任务从 queued 推进到 processing 并递增尝试次数。
	// 状态守卫写在 UPDATE 条件里，终态或已领取的任务不会被改写。
	MarkProcessing(ctx context.Context, id uuid.UUID) error

	// MarkCompleted 将任务从 processing 推进到 completed
	MarkCompleted(ctx context.Context, id uuid.UUID) error

	// MarkFailed 将非终态任务推进到 failed
	MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error

	// IncrementAttempt 重试时递增尝试次数
	IncrementAttempt(ctx context.Context, id uuid.UUID) error

	// CountByStatus 按状态统计任务数（队列深度）
	CountByStatus(ctx context.Context, status booktypes.QueueStatus) (int64, error)

	// GetByBookID 获取书籍的任务列表
	GetByBookID(ctx context.Context, bookID uuid.UUID) ([]*models.ParsingJob, error)

	// DeleteByBookID 删除书籍的全部任务
	DeleteByBookID(ctx context.Context, bookID uuid.UUID) error
}

// parsingJobRepository 解析任务仓储实现
type parsingJobRepository struct {
	db *database.DB
}

// NewParsingJobRepository 创建解析任务仓储
func NewParsingJobRepository(db *database.DB) ParsingJobRepository {
	return &parsingJobRepository{
		db: db,
	}
}

// Create 创建任务
func (r *parsingJobRepository) Create(ctx context.Context, job *models.ParsingJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if err := r.db.GetDBFromContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create parsing job: %w", err)
	}

	return nil
}

// GetByID 根据 ID 获取任务
func (r *parsingJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ParsingJob, error) {
	var job models.ParsingJob
	if err := r.db.GetDBFromContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, errors.Wrap(err, errors.ErrParseJobNotFound, id.String())
		}
		return nil, fmt.Errorf("failed to get parsing job: %w", err)
	}
	return &job, nil
}

// MarkProcessing 将任务从 queued 推进到 processing
func (r *parsingJobRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return r.transition(ctx, id,
		[]booktypes.QueueStatus{booktypes.QueueStatusQueued},
		map[string]interface{}{
			"status":     booktypes.QueueStatusProcessing.String(),
			"started_at": &now,
			"attempts":   gorm.Expr("attempts + 1"),
		})
}

// MarkCompleted 将任务从 processing 推进到 completed
func (r *parsingJobRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return r.transition(ctx, id,
		[]booktypes.QueueStatus{booktypes.QueueStatusProcessing},
		map[string]interface{}{
			"status":        booktypes.QueueStatusCompleted.String(),
			"finished_at":   &now,
			"error_message": "",
		})
}

// MarkFailed 将非终态任务推进到 failed
func (r *parsingJobRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error {
	now := time.Now()
	return r.transition(ctx, id,
		[]booktypes.QueueStatus{booktypes.QueueStatusQueued, booktypes.QueueStatusProcessing},
		map[string]interface{}{
			"status":        booktypes.QueueStatusFailed.String(),
			"finished_at":   &now,
			"error_message": errorMsg,
		})
}

// transition 带状态守卫的更新，目标行不在允许状态时报状态冲突
func (r *parsingJobRepository) transition(ctx context.Context, id uuid.UUID, from []booktypes.QueueStatus, fields map[string]interface{}) error {
	result := r.db.GetDBFromContext(ctx).
		Model(&models.ParsingJob{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update parsing job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.New(errors.ErrParseJobNotFound,
			fmt.Sprintf("job %s not found or not in expected state", id))
	}
	return nil
}

// IncrementAttempt 重试时递增尝试次数
func (r *parsingJobRepository) IncrementAttempt(ctx context.Context, id uuid.UUID) error {
	if err := r.db.GetDBFromContext(ctx).
		Model(&models.ParsingJob{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error; err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}
	return nil
}

// CountByStatus 按状态统计任务数
func (r *parsingJobRepository) CountByStatus(ctx context.Context, status booktypes.QueueStatus) (int64, error) {
	var count int64
	if err := r.db.GetDBFromContext(ctx).
		Model(&models.ParsingJob{}).
		Where("status = ?", status).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count parsing jobs: %w", err)
	}
	return count, nil
}

// GetByBookID 获取书籍的任务列表
func (r *parsingJobRepository) GetByBookID(ctx context.Context, bookID uuid.UUID) ([]*models.ParsingJob, error) {
	var jobs []*models.ParsingJob
	if err := r.db.GetDBFromContext(ctx).
		Where("book_id = ?", bookID).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list parsing jobs: %w", err)
	}
	return jobs, nil
}

// DeleteByBookID 删除书籍的全部任务
func (r *parsingJobRepository) DeleteByBookID(ctx context.Context, bookID uuid.UUID) error {
	if err := r.db.GetDBFromContext(ctx).
		Delete(&models.ParsingJob{}, "book_id = ?", bookID).Error; err != nil {
		return fmt.Errorf("failed to delete parsing jobs: %w", err)
	}
	return nil
}
