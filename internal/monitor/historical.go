package monitor

import (
	"context"
	"fmt"

	"github.com/ccolleatte/dao-services/internal/chain"
	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/logger"
	"github.com/ccolleatte/dao-services/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"
)

// HistoricalReport 历史同步结果
type HistoricalReport struct {
	From     uint64         `json:"from"`
	To       uint64         `json:"to"`
	PerEvent map[string]int `json:"per_event"`
	Applied  int            `json:"applied"`
	Skipped  int            `json:"skipped"`
	Failed   int            `json:"failed"`
}

// HistoricalSync 按固定事件顺序回放区块范围内的事件
type HistoricalSync struct {
	contracts     []*chain.Contract
	dispatcher    *Dispatcher
	block         *chain.Block
	batchSize     uint64
	concurrency   int
	confirmations uint64
}

// NewHistoricalSync 创建历史同步
func NewHistoricalSync(client chain.Client, contracts []*chain.Contract, dispatcher *Dispatcher, cfg ListenerConfig) *HistoricalSync {
	cfg = cfg.withDefaults()
	return &HistoricalSync{
		contracts:     contracts,
		dispatcher:    dispatcher,
		block:         chain.NewBlock(client, cfg.Retry),
		batchSize:     cfg.BatchSize,
		concurrency:   cfg.PoolSize,
		confirmations: cfg.Confirmations,
	}
}

type historicalQuery struct {
	contract *chain.Contract
	event    string
	topic    common.Hash
}

// SyncHistorical 同步 [from, to] 区块内的事件，to 为 0 时取扣除确认数后的安全高度。
// 查询可以并发，应用按 市场合约 -> 托管合约 -> 分账合约 的事件顺序逐个进行
func (h *HistoricalSync) SyncHistorical(ctx context.Context, from, to uint64) (*HistoricalReport, error) {
	queries := h.queries()

	if to == 0 {
		head, err := h.block.GetSafeBlockNumber(ctx, h.confirmations)
		if err != nil {
			return nil, err
		}
		if from > head {
			logger.Info("Already synced up to safe head %d", head)
			return emptyReport(from, head, queries), nil
		}
		to = head
	}
	if from > to {
		return nil, errs.NewValidationError("from", "from block %d is after to block %d", from, to)
	}
	logger.Info("Syncing historical events from block %d to %d", from, to)

	results := make([][]types.Log, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, q := range queries {
		g.Go(func() error {
			start := from
			if deployed := q.contract.GetBlockNum(); deployed > 0 && uint64(deployed) > start {
				start = uint64(deployed)
			}
			if start > to {
				return nil
			}
			logs, err := h.block.GetBatchBlockLogs(gctx, []common.Address{q.contract.GetAddress()},
				[][]common.Hash{{q.topic}}, start, to, h.batchSize)
			if err != nil {
				return fmt.Errorf("query %s on %s: %w", q.event, q.contract.GetName(), err)
			}
			results[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := emptyReport(from, to, queries)
	for i, q := range queries {
		logs := results[i]
		report.PerEvent[q.event] += len(logs)
		metrics.ObserveHistorical(q.event, len(logs))
		logger.Info("Found %d %s events on %s", len(logs), q.event, q.contract.GetName())

		for _, log := range logs {
			switch h.dispatcher.DispatchLog(ctx, log, SourceHistorical).Status {
			case StatusApplied:
				report.Applied++
			case StatusSkipped:
				report.Skipped++
			case StatusFailed:
				report.Failed++
			}
		}
	}

	logger.Info("Historical sync complete: applied=%d skipped=%d failed=%d", report.Applied, report.Skipped, report.Failed)
	return report, nil
}

func emptyReport(from, to uint64, queries []historicalQuery) *HistoricalReport {
	report := &HistoricalReport{From: from, To: to, PerEvent: make(map[string]int, len(queries))}
	for _, q := range queries {
		report.PerEvent[q.event] = 0
	}
	return report
}

// queries 按合约类型顺序展开每个合约的事件
func (h *HistoricalSync) queries() []historicalQuery {
	var ordered []*chain.Contract
	known := make(map[string]bool, len(chain.KindOrder))
	for _, kind := range chain.KindOrder {
		known[kind] = true
		for _, contract := range h.contracts {
			if contract.GetKind() == kind {
				ordered = append(ordered, contract)
			}
		}
	}
	for _, contract := range h.contracts {
		if !known[contract.GetKind()] {
			ordered = append(ordered, contract)
		}
	}

	var queries []historicalQuery
	for _, contract := range ordered {
		for _, name := range contract.EventNames() {
			topic, ok := contract.EventID(name)
			if !ok {
				continue
			}
			queries = append(queries, historicalQuery{contract: contract, event: name, topic: topic})
		}
	}
	return queries
}
