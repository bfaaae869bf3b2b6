package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ccolleatte/dao-services/internal/chain"
	"github.com/ccolleatte/dao-services/internal/config"
	"github.com/ccolleatte/dao-services/internal/logger"
	"github.com/ccolleatte/dao-services/internal/logic"
	"github.com/ccolleatte/dao-services/internal/metrics"
	"github.com/ccolleatte/dao-services/internal/retry"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/panjf2000/ants/v2"
)

// ListenerConfig 监听参数
type ListenerConfig struct {
	Mode          string // poll 或 subscribe
	PollInterval  time.Duration
	BatchSize     uint64
	Confirmations uint64
	PoolSize      int
	StopTimeout   time.Duration
	Retry         retry.Options
}

// NewListenerConfig 由同步与重试配置生成监听参数
func NewListenerConfig(syncCfg config.SyncConfig, retryCfg config.RetryConfig) ListenerConfig {
	return ListenerConfig{
		Mode:          syncCfg.Mode,
		PollInterval:  time.Duration(syncCfg.PollInterval) * time.Second,
		BatchSize:     syncCfg.BatchSize,
		Confirmations: syncCfg.Confirmations,
		PoolSize:      syncCfg.PoolSize,
		StopTimeout:   time.Duration(syncCfg.StopTimeout) * time.Second,
		Retry:         retryCfg.Options(),
	}
}

func (c ListenerConfig) withDefaults() ListenerConfig {
	if c.Mode == "" {
		c.Mode = config.SyncModePoll
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.BatchSize == 0 {
		c.BatchSize = 500
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 30 * time.Second
	}
	return c
}

// Listener 链上事件监听器
type Listener struct {
	client       chain.Client
	contracts    []*chain.Contract
	byAddress    map[common.Address]*chain.Contract
	topics       []common.Hash
	dispatcher   *Dispatcher
	transactions *logic.TransactionLogic
	block        *chain.Block
	cfg          ListenerConfig

	mu        sync.RWMutex // 保护以下字段
	pool      *ants.Pool
	nextBlock uint64
	headBlock uint64
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewListener 创建监听器
func NewListener(client chain.Client, contracts []*chain.Contract, dispatcher *Dispatcher, transactions *logic.TransactionLogic, cfg ListenerConfig) *Listener {
	cfg = cfg.withDefaults()

	byAddress := make(map[common.Address]*chain.Contract, len(contracts))
	seen := make(map[common.Hash]bool)
	var topics []common.Hash
	for _, contract := range contracts {
		byAddress[contract.GetAddress()] = contract
		for _, topic := range contract.Topics() {
			if !seen[topic] {
				seen[topic] = true
				topics = append(topics, topic)
			}
		}
	}

	return &Listener{
		client:       client,
		contracts:    contracts,
		byAddress:    byAddress,
		topics:       topics,
		dispatcher:   dispatcher,
		transactions: transactions,
		block:        chain.NewBlock(client, cfg.Retry),
		cfg:          cfg,
	}
}

// Start 确定起始区块并启动后台循环
func (l *Listener) Start(ctx context.Context) error {
	logger.Info("Starting chain listener in %s mode", l.cfg.Mode)

	if len(l.contracts) == 0 {
		return fmt.Errorf("no contracts available for monitoring")
	}
	logger.Info("Found %d contracts to monitor", len(l.contracts))

	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("listener already running")
	}
	l.mu.Unlock()

	head, err := l.block.GetSafeBlockNumber(ctx, l.cfg.Confirmations)
	if err != nil {
		return fmt.Errorf("failed to connect to blockchain: %w", err)
	}
	logger.Info("Connected to blockchain, safe head: %d", head)

	startBlock, err := l.resumeBlock(ctx, head)
	if err != nil {
		return err
	}

	pool, err := ants.NewPool(l.cfg.PoolSize)
	if err != nil {
		return fmt.Errorf("failed to create pool of size %d: %w", l.cfg.PoolSize, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	l.mu.Lock()
	l.pool = pool
	l.nextBlock = startBlock
	l.headBlock = head
	l.running = true
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()
	metrics.SetHead(head)

	logger.Info("Starting listener from block %d", startBlock)

	go func() {
		defer close(done)
		if l.cfg.Mode == config.SyncModeSubscribe {
			l.subscribeLoop(loopCtx)
		} else {
			l.pollLoop(loopCtx)
		}
	}()
	return nil
}

// Stop 停止循环并等待处理中的事件组完成，最长等待 StopTimeout
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel, done, pool := l.cancel, l.done, l.pool
	l.cancel = nil
	l.running = false
	l.mu.Unlock()

	if cancel == nil {
		return
	}

	logger.Info("Stopping chain listener")
	cancel()

	select {
	case <-done:
	case <-time.After(l.cfg.StopTimeout):
		logger.Warn("Chain listener did not stop within %s", l.cfg.StopTimeout)
	}
	if err := pool.ReleaseTimeout(l.cfg.StopTimeout); err != nil {
		logger.Warn("Release listener pool: %v", err)
	}
	logger.Info("Chain listener stopped")
}

// resumeBlock 审计日志中最大区块号 +1，没有记录时从当前安全高度开始
func (l *Listener) resumeBlock(ctx context.Context, head uint64) (uint64, error) {
	last, ok, err := l.transactions.GetLastProcessedBlock(ctx)
	if err != nil {
		return 0, err
	}
	if ok {
		logger.Info("Resuming after last processed block %d", last)
		return last + 1, nil
	}
	logger.Info("No processed events found, listening from block %d", head)
	return head, nil
}

// pollLoop 定时查询区块范围
func (l *Listener) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	l.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Poll loop stopped")
			return
		case <-ticker.C:
			l.poll(ctx)
		}
	}
}

func (l *Listener) poll(ctx context.Context) {
	head, err := l.block.GetSafeBlockNumber(ctx, l.cfg.Confirmations)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("Failed to get current block number: %v", err)
		}
		return
	}
	l.setHead(head)

	from := l.NextBlock()
	if from > head {
		logger.Debug("No new blocks (next %d, head %d)", from, head)
		return
	}
	if err := l.processBlocksInBatches(ctx, from, head); err != nil && ctx.Err() == nil {
		logger.Error("Error processing blocks %d-%d: %v", from, head, err)
	}
}

// processBlocksInBatches 分批查询并处理区块范围，每批完成后推进 nextBlock
func (l *Listener) processBlocksInBatches(ctx context.Context, fromBlock, toBlock uint64) error {
	for currentFrom := fromBlock; currentFrom <= toBlock; currentFrom += l.cfg.BatchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		currentTo := currentFrom + l.cfg.BatchSize - 1
		if currentTo > toBlock {
			currentTo = toBlock
		}

		addresses := l.deployedAddresses(currentTo)
		if len(addresses) == 0 {
			logger.Debug("No deployed contracts for blocks %d-%d", currentFrom, currentTo)
			l.setNext(currentTo + 1)
			continue
		}

		logs, err := l.block.GetBatchBlockLogs(ctx, addresses, [][]common.Hash{l.topics}, currentFrom, currentTo, l.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("error getting logs for blocks %d-%d: %w", currentFrom, currentTo, err)
		}
		if len(logs) > 0 {
			logger.Debug("Found %d logs for blocks %d-%d", len(logs), currentFrom, currentTo)
			if err := l.processLogs(ctx, logs); err != nil {
				return err
			}
		}
		l.setNext(currentTo + 1)
	}
	return nil
}

// processLogs 按合约分组并发处理，组内按 (区块, 日志序号) 顺序执行，等待所有组完成
func (l *Listener) processLogs(ctx context.Context, logs []types.Log) error {
	groups := groupLogsByContract(logs)

	l.mu.RLock()
	pool := l.pool
	l.mu.RUnlock()

	// 已开始的事件组在停止时仍然完成
	work := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	var submitErr error
	for address, contractLogs := range groups {
		contract := l.byAddress[address]
		if contract == nil {
			logger.Warn("Unknown contract address: %s", address.Hex())
			continue
		}

		contractLogs := contractLogs
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			l.processContractLogs(work, contract, contractLogs)
		})
		if err != nil {
			wg.Done()
			submitErr = fmt.Errorf("failed to submit %s logs to pool: %w", contract.GetName(), err)
			break
		}
	}
	wg.Wait()
	return submitErr
}

// processContractLogs 顺序处理单个合约的日志
func (l *Listener) processContractLogs(ctx context.Context, contract *chain.Contract, logs []types.Log) {
	logger.Debug("Processing %d logs for contract %s", len(logs), contract.GetName())
	for _, log := range logs {
		result := l.dispatcher.DispatchLog(ctx, log, SourceLive)
		if result.Status == StatusFailed {
			logger.Warn("Event %s:%d of %s failed: %s", log.TxHash.Hex(), log.Index, contract.GetName(), result.Reason)
		}
	}
}

// subscribeLoop 订阅日志，断开后从 nextBlock 补齐缺口并重新订阅
func (l *Listener) subscribeLoop(ctx context.Context) {
	for {
		err := l.subscribeOnce(ctx)
		if ctx.Err() != nil {
			logger.Info("Subscribe loop stopped")
			return
		}
		logger.Warn("Subscription dropped, resubscribing from block %d: %v", l.NextBlock(), err)

		select {
		case <-ctx.Done():
			logger.Info("Subscribe loop stopped")
			return
		case <-time.After(l.cfg.Retry.Delay(0)):
		}
	}
}

func (l *Listener) subscribeOnce(ctx context.Context) error {
	logsCh := make(chan types.Log, 256)
	query := ethereum.FilterQuery{
		Addresses: l.addresses(),
		Topics:    [][]common.Hash{l.topics},
	}

	sub, err := retry.DoValue(ctx, "SubscribeFilterLogs", l.cfg.Retry, func() (ethereum.Subscription, error) {
		return l.client.SubscribeFilterLogs(ctx, query, logsCh)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	logger.Info("Subscribed to logs of %d contracts", len(query.Addresses))

	// 订阅建立前产生的日志通过范围查询补齐
	if head, err := l.block.GetSafeBlockNumber(ctx, l.cfg.Confirmations); err == nil {
		l.setHead(head)
		if from := l.NextBlock(); from <= head {
			if err := l.processBlocksInBatches(ctx, from, head); err != nil && ctx.Err() == nil {
				logger.Error("Error filling gap %d-%d: %v", from, head, err)
			}
		}
	} else if ctx.Err() == nil {
		logger.Error("Failed to get current block number: %v", err)
	}

	work := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return err
		case log := <-logsCh:
			if _, ok := l.byAddress[log.Address]; !ok {
				continue
			}
			l.dispatcher.DispatchLog(work, log, SourceLive)
			if log.BlockNumber > l.NextBlock() {
				l.setNext(log.BlockNumber)
			}
			if log.BlockNumber > l.HeadBlock() {
				l.setHead(log.BlockNumber)
			}
		}
	}
}

// deployedAddresses 返回在 toBlock 时已部署的合约地址
func (l *Listener) deployedAddresses(toBlock uint64) []common.Address {
	var addresses []common.Address
	for _, contract := range l.contracts {
		if deployed := contract.GetBlockNum(); deployed > 0 && toBlock < uint64(deployed) {
			continue
		}
		addresses = append(addresses, contract.GetAddress())
	}
	return addresses
}

func (l *Listener) addresses() []common.Address {
	addresses := make([]common.Address, 0, len(l.contracts))
	for _, contract := range l.contracts {
		addresses = append(addresses, contract.GetAddress())
	}
	return addresses
}

// NextBlock 下一个待处理区块
func (l *Listener) NextBlock() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextBlock
}

// HeadBlock 最近一次看到的安全高度
func (l *Listener) HeadBlock() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headBlock
}

func (l *Listener) setNext(block uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextBlock = block
}

func (l *Listener) setHead(block uint64) {
	l.mu.Lock()
	l.headBlock = block
	l.mu.Unlock()
	metrics.SetHead(block)
}

// GetStatus 获取监听状态
func (l *Listener) GetStatus(ctx context.Context) map[string]interface{} {
	l.mu.RLock()
	running := l.running
	next := l.nextBlock
	head := l.headBlock
	pool := l.pool
	l.mu.RUnlock()

	names := make([]string, 0, len(l.contracts))
	for _, contract := range l.contracts {
		names = append(names, contract.GetName())
	}

	status := map[string]interface{}{
		"mode":       l.cfg.Mode,
		"running":    running,
		"next_block": next,
		"head_block": head,
		"contracts":  names,
		"counters":   l.dispatcher.Counters(),
	}
	if pool != nil {
		status["pool_status"] = map[string]interface{}{
			"running": pool.Running(),
			"free":    pool.Free(),
			"cap":     pool.Cap(),
		}
	}

	watermarks, err := l.dispatcher.Watermarks(ctx)
	if err != nil {
		logger.Warn("Failed to load watermarks: %v", err)
	} else {
		status["watermarks"] = watermarks
	}
	return status
}

// groupLogsByContract 按合约地址分组，组内按 (区块, 日志序号) 排序
func groupLogsByContract(logs []types.Log) map[common.Address][]types.Log {
	logsByContract := make(map[common.Address][]types.Log)
	for _, log := range logs {
		logsByContract[log.Address] = append(logsByContract[log.Address], log)
	}
	for _, group := range logsByContract {
		sortLogs(group)
	}
	return logsByContract
}

func sortLogs(logs []types.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}
