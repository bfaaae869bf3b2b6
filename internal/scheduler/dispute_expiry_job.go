package scheduler

import (
	"context"
	"time"

	"github.com/ccolleatte/dao-services/internal/config"
	"github.com/ccolleatte/dao-services/internal/logger"
	"github.com/ccolleatte/dao-services/internal/logic"
	"github.com/go-co-op/gocron/v2"
)

// DisputeExpiryJob 将投票截止的争议标记为过期
type DisputeExpiryJob struct {
	disputes *logic.DisputeLogic
	config   config.TaskConfig
	now      func() time.Time
}

// NewDisputeExpiryJob 创建争议过期任务
func NewDisputeExpiryJob(disputes *logic.DisputeLogic, cfg config.TaskConfig, now func() time.Time) *DisputeExpiryJob {
	return &DisputeExpiryJob{disputes: disputes, config: cfg, now: now}
}

// GetName 获取任务名称
func (j *DisputeExpiryJob) GetName() string {
	return "dispute_expiry"
}

// GetSchedule 获取调度配置
func (j *DisputeExpiryJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(interval(j.config))
}

// Execute 执行任务
func (j *DisputeExpiryJob) Execute() {
	expired, err := j.disputes.ExpireOverdue(context.Background(), j.now())
	if err != nil {
		logger.Error("Failed to expire disputes: %v", err)
		return
	}
	if expired > 0 {
		logger.Info("Expired %d disputes past voting deadline", expired)
	}
}
