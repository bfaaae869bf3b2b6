package scheduler

import (
	"context"
	"time"

	"github.com/ccolleatte/dao-services/internal/config"
	"github.com/ccolleatte/dao-services/internal/logger"
	"github.com/ccolleatte/dao-services/internal/logic"
	"github.com/ccolleatte/dao-services/internal/monitor"
	"github.com/go-co-op/gocron/v2"
)

// DeadLetterReplayJob 定时重放死信
type DeadLetterReplayJob struct {
	letters    *logic.DeadLetterLogic
	dispatcher *monitor.Dispatcher
	config     config.TaskConfig
	now        func() time.Time
}

// NewDeadLetterReplayJob 创建死信重放任务
func NewDeadLetterReplayJob(letters *logic.DeadLetterLogic, dispatcher *monitor.Dispatcher, cfg config.TaskConfig, now func() time.Time) *DeadLetterReplayJob {
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	return &DeadLetterReplayJob{
		letters:    letters,
		dispatcher: dispatcher,
		config:     cfg,
		now:        now,
	}
}

// GetName 获取任务名称
func (j *DeadLetterReplayJob) GetName() string {
	return "dead_letter_replay"
}

// GetSchedule 获取调度配置
func (j *DeadLetterReplayJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(interval(j.config))
}

// Execute 执行任务
func (j *DeadLetterReplayJob) Execute() {
	j.Run(context.Background())
}

// Run 重放一批到期死信，返回成功与失败数量
func (j *DeadLetterReplayJob) Run(ctx context.Context) (replayed, failed int) {
	letters, err := j.letters.ListPending(ctx, j.config.Batch, j.now())
	if err != nil {
		logger.Error("Failed to fetch dead letters: %v", err)
		return 0, 0
	}
	if len(letters) == 0 {
		return 0, 0
	}
	logger.Info("Replaying %d dead letters", len(letters))

	for i := range letters {
		letter := &letters[i]
		result := j.dispatcher.Replay(ctx, letter)

		if result.Status == monitor.StatusFailed {
			cause := result.Reason
			if result.Err != nil {
				cause = result.Err.Error()
			}
			if err := j.letters.MarkFailed(ctx, letter, cause, j.config.MaxAttempts, j.now()); err != nil {
				logger.Error("Failed to update dead letter %d: %v", letter.Id, err)
			}
			logger.Warn("Dead letter %d (%s) replay failed, attempt %d: %s", letter.Id, letter.EventName, letter.Attempts, cause)
			failed++
			continue
		}

		if err := j.letters.MarkReplayed(ctx, letter.Id); err != nil {
			logger.Error("Failed to mark dead letter %d replayed: %v", letter.Id, err)
			continue
		}
		replayed++
	}

	logger.Info("Dead letter replay completed: replayed=%d failed=%d", replayed, failed)
	return replayed, failed
}
