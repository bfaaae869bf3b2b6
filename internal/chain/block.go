package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ccolleatte/dao-services/internal/retry"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Block 区块操作工具类，所有链调用都带重试
type Block struct {
	client Client
	retry  retry.Options
}

// NewBlock 创建区块工具类实例
func NewBlock(client Client, opts retry.Options) *Block {
	return &Block{client: client, retry: opts}
}

// GetBatchBlockLogs 按 batchSize 分段查询 [fromBlock, toBlock] 的日志
func (b *Block) GetBatchBlockLogs(ctx context.Context, addresses []common.Address, topics [][]common.Hash, fromBlock, toBlock, batchSize uint64) ([]types.Log, error) {
	if fromBlock > toBlock {
		return nil, nil
	}
	if batchSize == 0 {
		batchSize = toBlock - fromBlock + 1
	}

	var logs []types.Log
	for start := fromBlock; start <= toBlock; {
		end := start + batchSize - 1
		if end > toBlock || end < start {
			end = toBlock
		}

		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: addresses,
			Topics:    topics,
		}
		chunk, err := retry.DoValue(ctx, "FilterLogs", b.retry, func() ([]types.Log, error) {
			return b.client.FilterLogs(ctx, query)
		})
		if err != nil {
			return nil, fmt.Errorf("filter logs [%d, %d]: %w", start, end, err)
		}
		logs = append(logs, chunk...)

		if end == toBlock {
			break
		}
		start = end + 1
	}
	return logs, nil
}

// GetCurrentBlockNumber 获取当前最新区块号
func (b *Block) GetCurrentBlockNumber(ctx context.Context) (uint64, error) {
	return retry.DoValue(ctx, "HeaderByNumber", b.retry, func() (uint64, error) {
		header, err := b.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return 0, err
		}
		return header.Number.Uint64(), nil
	})
}

// GetSafeBlockNumber 最新区块减去确认数
func (b *Block) GetSafeBlockNumber(ctx context.Context, confirmations uint64) (uint64, error) {
	head, err := b.GetCurrentBlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if head < confirmations {
		return 0, nil
	}
	return head - confirmations, nil
}
