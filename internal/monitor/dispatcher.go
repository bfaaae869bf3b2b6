package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ccolleatte/dao-services/internal/chain"
	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/logger"
	"github.com/ccolleatte/dao-services/internal/logic"
	"github.com/ccolleatte/dao-services/internal/metrics"
	"github.com/ccolleatte/dao-services/internal/model"
	"github.com/ccolleatte/dao-services/internal/validation"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status 分发结果
type Status string

const (
	StatusApplied Status = "applied"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// 跳过与失败原因
const (
	ReasonRemoved         = "removed"
	ReasonNoHandler       = "no handler"
	ReasonBelowWatermark  = "below watermark"
	ReasonDuplicate       = "duplicate"
	ReasonUnknownContract = "unknown contract"
	ReasonUnknownEvent    = "unknown event"
	ReasonValidation      = "validation"
	ReasonStoreWrite      = "store write"
	ReasonConnection      = "connection"
	ReasonError           = "error"
)

// Source 事件来源
type Source int

const (
	SourceLive       Source = iota // 实时监听，受水位约束
	SourceHistorical               // 历史补齐，只按幂等键去重
	SourceReplay                   // 死信重放，失败不再写死信
)

func (s Source) String() string {
	switch s {
	case SourceLive:
		return "live"
	case SourceHistorical:
		return "historical"
	case SourceReplay:
		return "replay"
	default:
		return "unknown"
	}
}

// Result 单个事件的分发结果
type Result struct {
	Status Status
	Reason string
	Event  *chain.Event
	Err    error
}

// ContractResolver 按地址查找已配置合约，*chain.Manager 满足该接口
type ContractResolver interface {
	GetContractByAddress(address common.Address) (*chain.Contract, bool)
}

// DispatcherOptions 分发器参数
type DispatcherOptions struct {
	Dedup bool             // 按水位与 (tx_hash, log_index) 去重
	Now   func() time.Time // 为空时使用 time.Now
}

// Dispatcher 将解码后的事件交给处理器，并在同一事务内推进合约水位
type Dispatcher struct {
	db           *gorm.DB
	contracts    ContractResolver
	processors   *ProcessorManager
	watermarks   *logic.WatermarkLogic
	transactions *logic.TransactionLogic
	dedup        bool
	now          func() time.Time

	applied atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// NewDispatcher 创建分发器
func NewDispatcher(db *gorm.DB, contracts ContractResolver, processors *ProcessorManager, opts DispatcherOptions) *Dispatcher {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		db:           db,
		contracts:    contracts,
		processors:   processors,
		watermarks:   logic.NewWatermarkLogic(db),
		transactions: logic.NewTransactionLogic(db),
		dedup:        opts.Dedup,
		now:          now,
	}
}

// DispatchLog 解码原始日志后分发，无法解码的日志记入死信
func (d *Dispatcher) DispatchLog(ctx context.Context, log types.Log, source Source) Result {
	contract, ok := d.contracts.GetContractByAddress(log.Address)
	if !ok {
		logger.Warn("Unknown contract address: %s", log.Address.Hex())
		return d.finish(Result{Status: StatusSkipped, Reason: ReasonUnknownContract}, time.Now())
	}

	if err := validation.ValidateEventLog(&log); err != nil {
		return d.finish(d.fail(ctx, rawEvent(contract, log), err, source), time.Now())
	}

	ev, err := contract.ParseEvent(log)
	if err != nil {
		if errors.Is(err, chain.ErrUnknownEvent) {
			logger.Debug("Skipping log %s:%d: %v", log.TxHash.Hex(), log.Index, err)
			return d.finish(Result{Status: StatusSkipped, Reason: ReasonUnknownEvent}, time.Now())
		}
		return d.finish(d.fail(ctx, rawEvent(contract, log), err, source), time.Now())
	}
	return d.Dispatch(ctx, ev, source)
}

// rawEvent 无法解码时用日志元数据构造事件，用于记录死信
func rawEvent(contract *chain.Contract, log types.Log) *chain.Event {
	return &chain.Event{
		Contract:        contract.GetName(),
		Kind:            contract.GetKind(),
		ContractAddress: log.Address,
		Name:            eventName(contract, log),
		BlockNumber:     log.BlockNumber,
		BlockHash:       log.BlockHash,
		TxHash:          log.TxHash,
		LogIndex:        log.Index,
		Removed:         log.Removed,
		Raw:             log,
	}
}

// Dispatch 分发单个事件：处理器、审计日志与水位推进在同一事务内完成
func (d *Dispatcher) Dispatch(ctx context.Context, ev *chain.Event, source Source) Result {
	started := time.Now()

	if d.dedup && ev.Removed {
		logger.Debug("Skipping removed log %s", ev.Key())
		return d.finish(Result{Status: StatusSkipped, Reason: ReasonRemoved, Event: ev}, started)
	}

	handler, exists := d.processors.GetProcessor(ev.Name)
	if !exists {
		logger.Warn("No processor found for event: %s", ev.Name)
		return d.finish(Result{Status: StatusSkipped, Reason: ReasonNoHandler, Event: ev}, started)
	}

	contract := chain.Wallet(ev.ContractAddress)
	var skipReason string
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		watermarks := d.watermarks.WithTx(tx)
		if d.dedup {
			if source == SourceLive {
				ahead, err := watermarks.IsAhead(ctx, contract, ev.BlockNumber, ev.LogIndex)
				if err != nil {
					return err
				}
				if !ahead {
					skipReason = ReasonBelowWatermark
					return nil
				}
			}
			seen, err := d.transactions.WithTx(tx).Exists(ctx, ev.TxHash.Hex(), ev.LogIndex)
			if err != nil {
				return err
			}
			if seen {
				skipReason = ReasonDuplicate
				return nil
			}
		}

		if err := handler(ctx, tx, ev); err != nil {
			return err
		}
		return watermarks.Advance(ctx, contract, ev.BlockNumber, ev.LogIndex)
	})
	if err != nil {
		return d.finish(d.fail(ctx, ev, err, source), started)
	}
	if skipReason != "" {
		logger.Debug("Skipping %s %s: %s", ev.Name, ev.Key(), skipReason)
		return d.finish(Result{Status: StatusSkipped, Reason: skipReason, Event: ev}, started)
	}

	if source == SourceLive {
		metrics.SetWatermark(contract, ev.BlockNumber)
	}
	logger.Debug("Processed %s (%s) from %s at block %d", ev.Name, source, ev.Contract, ev.BlockNumber)
	return d.finish(Result{Status: StatusApplied, Event: ev}, started)
}

// Replay 重放死信中保存的原始日志
func (d *Dispatcher) Replay(ctx context.Context, letter *model.DeadLetterModel) Result {
	var log types.Log
	if err := json.Unmarshal(letter.Payload, &log); err != nil {
		return Result{
			Status: StatusFailed,
			Reason: ReasonValidation,
			Err:    errs.NewValidationError("payload", "invalid dead letter payload: %v", err),
		}
	}
	return d.DispatchLog(ctx, log, SourceReplay)
}

// Counters 累计分发结果
func (d *Dispatcher) Counters() map[string]int64 {
	return map[string]int64{
		string(StatusApplied): d.applied.Load(),
		string(StatusSkipped): d.skipped.Load(),
		string(StatusFailed):  d.failed.Load(),
	}
}

// Watermarks 所有合约的同步水位
func (d *Dispatcher) Watermarks(ctx context.Context) ([]model.SyncWatermarkModel, error) {
	return d.watermarks.All(ctx)
}

// fail 包装处理错误，非重放来源的失败事件记入死信
func (d *Dispatcher) fail(ctx context.Context, ev *chain.Event, cause error, source Source) Result {
	err := &errs.EventProcessingError{EventName: ev.Name, TxHash: ev.TxHash.Hex(), Err: cause}
	logger.Error("Error processing event %s (%s) from %s: %v", ev.Name, ev.Key(), ev.Contract, cause)

	if source != SourceReplay {
		if dlErr := d.deadLetter(context.WithoutCancel(ctx), ev, cause); dlErr != nil {
			logger.Error("Failed to record dead letter for %s: %v", ev.Key(), dlErr)
		}
	}
	return Result{Status: StatusFailed, Reason: failureReason(cause), Event: ev, Err: err}
}

func (d *Dispatcher) deadLetter(ctx context.Context, ev *chain.Event, cause error) error {
	payload, err := json.Marshal(ev.Raw)
	if err != nil {
		return err
	}
	letter := &model.DeadLetterModel{
		ContractName:    ev.Contract,
		ContractAddress: chain.Wallet(ev.ContractAddress),
		EventName:       ev.Name,
		TransactionHash: ev.TxHash.Hex(),
		LogIndex:        ev.LogIndex,
		BlockNumber:     ev.BlockNumber,
		Payload:         datatypes.JSON(payload),
		Error:           cause.Error(),
	}
	if err := logic.NewDeadLetterLogic(d.db).Record(ctx, letter, d.now()); err != nil {
		return err
	}
	metrics.ObserveDeadLetter(ev.Name)
	return nil
}

// finish 更新计数与指标
func (d *Dispatcher) finish(result Result, started time.Time) Result {
	switch result.Status {
	case StatusApplied:
		d.applied.Add(1)
	case StatusSkipped:
		d.skipped.Add(1)
	case StatusFailed:
		d.failed.Add(1)
	}
	name := "unknown"
	if result.Event != nil {
		name = result.Event.Name
	}
	metrics.ObserveDispatch(name, string(result.Status), started)
	return result
}

func failureReason(err error) string {
	switch {
	case errs.IsValidation(err):
		return ReasonValidation
	case errs.IsConnection(err):
		return ReasonConnection
	case errs.IsStoreWrite(err):
		return ReasonStoreWrite
	default:
		return ReasonError
	}
}

// eventName 尽量从 ABI 中取出事件名
func eventName(contract *chain.Contract, log types.Log) string {
	if len(log.Topics) == 0 {
		return "unknown"
	}
	parsedABI := contract.GetABI()
	if event, err := parsedABI.EventByID(log.Topics[0]); err == nil {
		return event.Name
	}
	return "unknown"
}
