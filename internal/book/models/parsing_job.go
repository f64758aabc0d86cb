package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lk2023060901/bookhub-backend/internal/book/types"
)

// ParsingJob 解析任务。状态单调推进：
// queued -> processing -> completed | failed，终态不可变更。
type ParsingJob struct {
	ID     uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	BookID uuid.UUID `gorm:"type:uuid;not null;index"`
	FileID uuid.UUID `gorm:"type:uuid;not null;index"`

	Format   string `gorm:"type:varchar(20);not null"` // epub, html, markdown
	Status   string `gorm:"type:varchar(50);not null;default:'queued';index"`
	Priority int    `gorm:"not null;default:0"` // 数值越大越优先

	// 重试信息
	Attempts     int    `gorm:"not null;default:0"`
	ErrorMessage string `gorm:"type:text"`

	// 时间线
	StartedAt  *time.Time
	FinishedAt *time.Time

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (ParsingJob) TableName() string {
	return "parsing_jobs"
}

// Validate 验证任务
func (j *ParsingJob) Validate() error {
	if j.BookID == uuid.Nil {
		return ErrInvalidBookID
	}
	if j.FileID == uuid.Nil {
		return ErrInvalidFileID
	}
	if !types.BookFormat(j.Format).Valid() {
		return ErrInvalidFormat
	}
	if !types.QueueStatus(j.Status).Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// CanTransitionTo 是否允许推进到目标状态
func (j *ParsingJob) CanTransitionTo(next types.QueueStatus) bool {
	return types.QueueStatus(j.Status).CanTransitionTo(next)
}

// IsTerminal 是否处于终态
func (j *ParsingJob) IsTerminal() bool {
	return types.QueueStatus(j.Status).Terminal()
}
