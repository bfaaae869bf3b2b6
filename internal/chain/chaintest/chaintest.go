// Package chaintest 提供不依赖网络的链客户端与日志构造工具，供测试使用
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ccolleatte/dao-services/internal/chain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogMeta 日志定位信息
type LogMeta struct {
	Block    uint64
	TxHash   common.Hash
	LogIndex uint
}

// BuildLog 按合约ABI编码事件日志
func BuildLog(c *chain.Contract, eventName string, meta LogMeta, values map[string]interface{}) (types.Log, error) {
	event, ok := c.GetABI().Events[eventName]
	if !ok {
		return types.Log{}, fmt.Errorf("event %s not in contract %s", eventName, c.GetName())
	}

	topics := []common.Hash{event.ID}
	var data []interface{}
	for _, input := range event.Inputs {
		v, ok := values[input.Name]
		if !ok {
			return types.Log{}, fmt.Errorf("missing value for %s.%s", eventName, input.Name)
		}
		if !input.Indexed {
			data = append(data, v)
			continue
		}
		topic, err := topicOf(v)
		if err != nil {
			return types.Log{}, fmt.Errorf("%s.%s: %w", eventName, input.Name, err)
		}
		topics = append(topics, topic)
	}

	packed, err := event.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return types.Log{}, fmt.Errorf("pack %s: %w", eventName, err)
	}

	return types.Log{
		Address:     c.GetAddress(),
		Topics:      topics,
		Data:        packed,
		BlockNumber: meta.Block,
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(meta.Block)),
		TxHash:      meta.TxHash,
		Index:       meta.LogIndex,
	}, nil
}

// MustBuildLog BuildLog 的 panic 版本
func MustBuildLog(c *chain.Contract, eventName string, meta LogMeta, values map[string]interface{}) types.Log {
	log, err := BuildLog(c, eventName, meta, values)
	if err != nil {
		panic(err)
	}
	return log
}

func topicOf(v interface{}) (common.Hash, error) {
	switch val := v.(type) {
	case *big.Int:
		return common.BigToHash(val), nil
	case common.Address:
		return common.BytesToHash(val.Bytes()), nil
	case bool:
		if val {
			return common.BigToHash(big.NewInt(1)), nil
		}
		return common.Hash{}, nil
	case common.Hash:
		return val, nil
	default:
		return common.Hash{}, fmt.Errorf("unsupported indexed value %T", v)
	}
}

// TxHash 由序号生成确定的交易哈希
func TxHash(n int64) common.Hash {
	return common.BigToHash(big.NewInt(n))
}

// Client 内存链客户端，实现 chain.Client
type Client struct {
	mu          sync.Mutex
	logs        []types.Log
	head        uint64
	filterErrs  []error
	FilterCalls int
	subs        []*subscription
}

var _ chain.Client = (*Client)(nil)

// NewClient 创建内存客户端
func NewClient(head uint64) *Client {
	return &Client{head: head}
}

// AddLogs 追加日志
func (c *Client) AddLogs(logs ...types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, logs...)
}

// SetHead 设置最新区块
func (c *Client) SetHead(head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = head
}

// FailNextFilters 之后的 FilterLogs 依次返回这些错误
func (c *Client) FailNextFilters(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filterErrs = append(c.filterErrs, errs...)
}

// Emit 推送日志给匹配的订阅
func (c *Client) Emit(log types.Log) {
	c.mu.Lock()
	c.logs = append(c.logs, log)
	subs := append([]*subscription(nil), c.subs...)
	c.mu.Unlock()

	for _, sub := range subs {
		if matches(sub.query, log) {
			select {
			case sub.ch <- log:
			case <-sub.done:
			}
		}
	}
}

// BreakSubscriptions 让当前所有订阅返回错误
func (c *Client) BreakSubscriptions(err error) {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		sub.fail(err)
	}
}

// Subscriptions 当前活跃订阅数
func (c *Client) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, sub := range c.subs {
		if sub.active() {
			n++
		}
	}
	return n
}

// FilterLogs 实现 ethereum.LogFilterer
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.FilterCalls++
	if len(c.filterErrs) > 0 {
		err := c.filterErrs[0]
		c.filterErrs = c.filterErrs[1:]
		return nil, err
	}

	var out []types.Log
	for _, log := range c.logs {
		if matches(q, log) {
			out = append(out, log)
		}
	}
	return out, nil
}

// SubscribeFilterLogs 实现 ethereum.LogFilterer
func (c *Client) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &subscription{
		query: q,
		ch:    ch,
		errCh: make(chan error, 1),
		done:  make(chan struct{}),
	}
	c.subs = append(c.subs, sub)
	return sub, nil
}

// HeaderByNumber 只支持最新区块
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if number != nil {
		return nil, errors.New("only latest header is supported")
	}
	return &types.Header{Number: new(big.Int).SetUint64(c.head)}, nil
}

// BlockNumber 返回最新区块号
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func matches(q ethereum.FilterQuery, log types.Log) bool {
	if q.FromBlock != nil && log.BlockNumber < q.FromBlock.Uint64() {
		return false
	}
	if q.ToBlock != nil && log.BlockNumber > q.ToBlock.Uint64() {
		return false
	}
	if len(q.Addresses) > 0 {
		found := false
		for _, addr := range q.Addresses {
			if addr == log.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, alternatives := range q.Topics {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(log.Topics) {
			return false
		}
		found := false
		for _, topic := range alternatives {
			if topic == log.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type subscription struct {
	query ethereum.FilterQuery
	ch    chan<- types.Log
	errCh chan error
	done  chan struct{}
	once  sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		close(s.errCh)
	})
}

func (s *subscription) active() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *subscription) Err() <-chan error {
	return s.errCh
}

func (s *subscription) fail(err error) {
	s.once.Do(func() {
		close(s.done)
		s.errCh <- err
		close(s.errCh)
	})
}
