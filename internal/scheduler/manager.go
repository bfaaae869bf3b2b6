package scheduler

import (
	"fmt"
	"time"

	"github.com/ccolleatte/dao-services/internal/config"
	"github.com/ccolleatte/dao-services/internal/logger"
	"github.com/ccolleatte/dao-services/internal/logic"
	"github.com/ccolleatte/dao-services/internal/monitor"
	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// Job 定时任务
type Job interface {
	GetName() string
	GetSchedule() gocron.JobDefinition
	Execute()
}

// Manager 任务管理器
type Manager struct {
	scheduler  gocron.Scheduler
	db         *gorm.DB
	dispatcher *monitor.Dispatcher
	config     config.TaskConfig
}

// NewManager 创建新的任务管理器
func NewManager(db *gorm.DB, dispatcher *monitor.Dispatcher, cfg config.TaskConfig) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Manager{
		scheduler:  s,
		db:         db,
		dispatcher: dispatcher,
		config:     cfg,
	}, nil
}

// Start 注册所有任务并启动调度器
func (m *Manager) Start() {
	m.RegisterJobs()
	m.scheduler.Start()
	logger.Info("Task manager started successfully")
}

// RegisterJobs 注册所有任务
func (m *Manager) RegisterJobs() {
	m.Register(NewDeadLetterReplayJob(logic.NewDeadLetterLogic(m.db), m.dispatcher, m.config, time.Now))
	m.Register(NewDisputeExpiryJob(logic.NewDisputeLogic(m.db), m.config, time.Now))
}

// Register 注册单个任务，同一任务不会并发执行
func (m *Manager) Register(job Job) {
	_, err := m.scheduler.NewJob(
		job.GetSchedule(),
		gocron.NewTask(job.Execute),
		gocron.WithName(job.GetName()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		logger.Error("Failed to register job %s: %v", job.GetName(), err)
		return
	}
	logger.Debug("Registered job %s", job.GetName())
}

// Jobs 已注册任务名
func (m *Manager) Jobs() []string {
	jobs := m.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, job := range jobs {
		names = append(names, job.Name())
	}
	return names
}

// Stop 停止任务管理器
func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		logger.Error("Failed to shutdown scheduler: %v", err)
	}
	logger.Info("Task manager stopped")
}

func interval(cfg config.TaskConfig) time.Duration {
	if cfg.Interval <= 0 {
		return time.Minute
	}
	return time.Duration(cfg.Interval) * time.Second
}
