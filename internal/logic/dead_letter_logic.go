package logic

import (
	"context"
	"fmt"
	"time"

	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/model"
	"github.com/ccolleatte/dao-services/internal/retry"
	"gorm.io/gorm"
)

// replayBackoff 死信重放间隔：1 分钟起，每次翻倍，最多 1 小时
var replayBackoff = retry.Options{
	MaxRetries:    1,
	InitialDelay:  time.Minute,
	MaxDelay:      time.Hour,
	BackoffFactor: 2,
}

// DeadLetterLogic 死信业务逻辑
type DeadLetterLogic struct {
	db *gorm.DB
}

// NewDeadLetterLogic 创建死信业务逻辑
func NewDeadLetterLogic(db *gorm.DB) *DeadLetterLogic {
	return &DeadLetterLogic{db: db}
}

// Record 记录处理失败的事件，同一事件已有待重放记录时只更新错误
func (d *DeadLetterLogic) Record(ctx context.Context, letter *model.DeadLetterModel, now time.Time) error {
	db := d.db.WithContext(ctx)

	var existing model.DeadLetterModel
	err := db.Where("transaction_hash = ? AND log_index = ? AND status = ?",
		letter.TransactionHash, letter.LogIndex, model.DeadLetterPending).First(&existing).Error
	if err == nil {
		letter.Id = existing.Id
		return errs.NewStoreWriteError("update dead letter", db.Model(&existing).
			Updates(map[string]interface{}{"error": letter.Error}).Error)
	}
	if !isNotFound(err) {
		return fmt.Errorf("查找死信失败: %w", err)
	}

	letter.Status = model.DeadLetterPending
	letter.NextAttemptAt = now
	return errs.NewStoreWriteError("record dead letter", db.Create(letter).Error)
}

// Get 获取死信
func (d *DeadLetterLogic) Get(ctx context.Context, id int64) (*model.DeadLetterModel, error) {
	var letter model.DeadLetterModel
	if err := d.db.WithContext(ctx).First(&letter, id).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("获取死信失败: %w", err)
	}
	return &letter, nil
}

// ListPending 获取到期可重放的死信
func (d *DeadLetterLogic) ListPending(ctx context.Context, limit int, now time.Time) ([]model.DeadLetterModel, error) {
	var letters []model.DeadLetterModel
	if err := d.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", model.DeadLetterPending, now).
		Order("block_number ASC, log_index ASC, id ASC").
		Limit(limit).
		Find(&letters).Error; err != nil {
		return nil, fmt.Errorf("获取待重放死信失败: %w", err)
	}
	return letters, nil
}

// MarkReplayed 标记重放成功
func (d *DeadLetterLogic) MarkReplayed(ctx context.Context, id int64) error {
	err := d.db.WithContext(ctx).Model(&model.DeadLetterModel{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": model.DeadLetterReplayed}).Error
	return errs.NewStoreWriteError("mark dead letter replayed", err)
}

// MarkFailed 记录一次重放失败，达到 maxAttempts 后放弃，否则按指数退避安排下次重放
func (d *DeadLetterLogic) MarkFailed(ctx context.Context, letter *model.DeadLetterModel, cause string, maxAttempts int, now time.Time) error {
	letter.Attempts++
	letter.Error = cause
	if maxAttempts > 0 && letter.Attempts >= maxAttempts {
		letter.Status = model.DeadLetterAbandoned
	} else {
		letter.NextAttemptAt = now.Add(replayBackoff.Delay(letter.Attempts - 1))
	}

	err := d.db.WithContext(ctx).Model(&model.DeadLetterModel{}).Where("id = ?", letter.Id).
		Updates(map[string]interface{}{
			"attempts":        letter.Attempts,
			"error":           letter.Error,
			"status":          letter.Status,
			"next_attempt_at": letter.NextAttemptAt,
		}).Error
	return errs.NewStoreWriteError("mark dead letter failed", err)
}

// List 按状态分页获取死信，status 为空时返回全部
func (d *DeadLetterLogic) List(ctx context.Context, status string, page Page) ([]model.DeadLetterModel, int64, error) {
	var (
		letters []model.DeadLetterModel
		total   int64
	)

	query := d.db.WithContext(ctx).Model(&model.DeadLetterModel{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("获取死信总数失败: %w", err)
	}

	offset, limit := page.normalize()
	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&letters).Error; err != nil {
		return nil, 0, fmt.Errorf("获取死信列表失败: %w", err)
	}
	return letters, total, nil
}

// CountPending 待重放死信数量
func (d *DeadLetterLogic) CountPending(ctx context.Context) (int64, error) {
	var count int64
	if err := d.db.WithContext(ctx).Model(&model.DeadLetterModel{}).
		Where("status = ?", model.DeadLetterPending).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("统计死信失败: %w", err)
	}
	return count, nil
}
