package monitor

import (
	"context"
	"sort"
	"sync"

	"github.com/ccolleatte/dao-services/internal/chain"
	"github.com/ccolleatte/dao-services/internal/logger"
	"gorm.io/gorm"
)

// Handler 事件处理器，在调用方开启的事务 tx 中执行
type Handler func(ctx context.Context, tx *gorm.DB, ev *chain.Event) error

// ProcessorManager 事件处理器管理器
type ProcessorManager struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewProcessorManager 创建处理器管理器
func NewProcessorManager() *ProcessorManager {
	return &ProcessorManager{
		handlers: make(map[string]Handler),
	}
}

// RegisterProcessor 注册事件处理器，同名事件后注册的覆盖先注册的
func (pm *ProcessorManager) RegisterProcessor(eventName string, handler Handler) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.handlers[eventName] = handler
	logger.Debug("Registered processor for event: %s", eventName)
}

// GetProcessor 获取指定事件的处理器
func (pm *ProcessorManager) GetProcessor(eventName string) (Handler, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	handler, exists := pm.handlers[eventName]
	return handler, exists
}

// GetSupportedEvents 获取支持的事件列表
func (pm *ProcessorManager) GetSupportedEvents() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	names := make([]string, 0, len(pm.handlers))
	for name := range pm.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
