package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ccolleatte/dao-services/internal/config"
	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrUnknownEvent 日志签名不在合约ABI中
var ErrUnknownEvent = errors.New("unknown event signature")

// Contract 合约工具类
type Contract struct {
	address   common.Address // 合约地址
	abi       abi.ABI        // 合约ABI
	name      string         // 合约名称
	kind      string         // 合约类型
	blockNum  int64          // 合约部署的区块号
	missionId int64          // 对应的链下任务ID，0 表示未知
	events    []string       // 按处理顺序排列的事件名
}

// NewContract 创建合约实例，abi_path 为空时使用内置事件ABI
func NewContract(name string, contractCfg config.ContractConfig) (*Contract, error) {
	var (
		parsedABI abi.ABI
		err       error
	)
	if contractCfg.ABIPath != "" {
		parsedABI, err = LoadABIFile(contractCfg.ABIPath)
	} else {
		parsedABI, err = KindABI(contractCfg.Kind)
	}
	if err != nil {
		return nil, err
	}

	if !common.IsHexAddress(contractCfg.Address) {
		return nil, errs.NewValidationError("address", "invalid address for contract %s: %s", name, contractCfg.Address)
	}

	c := NewContractFromABI(name, contractCfg.Kind, common.HexToAddress(contractCfg.Address), parsedABI)
	c.blockNum = contractCfg.BlockNum
	c.missionId = contractCfg.MissionId
	return c, nil
}

// NewContractFromABI 使用已解析的ABI创建合约实例
func NewContractFromABI(name, kind string, address common.Address, parsedABI abi.ABI) *Contract {
	return &Contract{
		address: address,
		abi:     parsedABI,
		name:    name,
		kind:    kind,
		events:  orderedEventNames(kind, parsedABI),
	}
}

// GetAddress 获取合约地址
func (c *Contract) GetAddress() common.Address {
	return c.address
}

// GetABI 获取合约ABI
func (c *Contract) GetABI() abi.ABI {
	return c.abi
}

// GetName 获取合约名称
func (c *Contract) GetName() string {
	return c.name
}

// GetKind 获取合约类型
func (c *Contract) GetKind() string {
	return c.kind
}

// GetBlockNum 获取合约部署区块号
func (c *Contract) GetBlockNum() int64 {
	return c.blockNum
}

// GetMissionId 获取合约对应的链下任务ID
func (c *Contract) GetMissionId() int64 {
	return c.missionId
}

// SetMissionId 绑定链下任务ID
func (c *Contract) SetMissionId(id int64) {
	c.missionId = id
}

// EventNames 按处理顺序返回事件名
func (c *Contract) EventNames() []string {
	return append([]string(nil), c.events...)
}

// EventID 返回事件签名哈希
func (c *Contract) EventID(name string) (common.Hash, bool) {
	event, ok := c.abi.Events[name]
	if !ok {
		return common.Hash{}, false
	}
	return event.ID, true
}

// Topics 返回全部事件签名，用于日志过滤
func (c *Contract) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(c.events))
	for _, name := range c.events {
		topics = append(topics, c.abi.Events[name].ID)
	}
	return topics
}

// ParseEvent 解析事件日志
func (c *Contract) ParseEvent(log types.Log) (*Event, error) {
	if len(log.Topics) == 0 {
		return nil, errs.NewValidationError("topics", "log %s:%d has no topics", log.TxHash.Hex(), log.Index)
	}

	event, err := c.abi.EventByID(log.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s in contract %s", ErrUnknownEvent, log.Topics[0].Hex(), c.name)
	}

	result := &Event{
		Contract:        c.name,
		Kind:            c.kind,
		ContractAddress: log.Address,
		Name:            event.Name,
		Args:            make(map[string]interface{}, len(event.Inputs)),
		BlockNumber:     log.BlockNumber,
		BlockHash:       log.BlockHash,
		TxHash:          log.TxHash,
		LogIndex:        log.Index,
		Removed:         log.Removed,
		MissionId:       c.missionId,
		Raw:             log,
	}

	// 解析索引参数
	topicIdx := 1
	for _, input := range event.Inputs {
		if !input.Indexed {
			continue
		}
		if topicIdx >= len(log.Topics) {
			return nil, errs.NewValidationError(input.Name, "event %s missing indexed topic %s", event.Name, input.Name)
		}
		result.Args[input.Name] = parseTopicValue(log.Topics[topicIdx], input.Type)
		topicIdx++
	}

	// 解析非索引参数
	nonIndexed := event.Inputs.NonIndexed()
	if len(nonIndexed) > 0 {
		values, err := c.abi.Unpack(event.Name, log.Data)
		if err != nil {
			return nil, errs.NewValidationError("data", "failed to unpack %s data: %v", event.Name, err)
		}
		for i, input := range nonIndexed {
			if i < len(values) {
				result.Args[input.Name] = values[i]
			}
		}
	}

	return result, nil
}

// parseTopicValue 解析主题值
func parseTopicValue(topic common.Hash, t abi.Type) interface{} {
	switch t.T {
	case abi.UintTy:
		return new(big.Int).SetBytes(topic.Bytes())
	case abi.IntTy:
		return math.S256(new(big.Int).SetBytes(topic.Bytes()))
	case abi.AddressTy:
		return common.BytesToAddress(topic.Bytes())
	case abi.BoolTy:
		return new(big.Int).SetBytes(topic.Bytes()).Sign() > 0
	case abi.FixedBytesTy:
		return topic
	default:
		// 动态类型只保留哈希
		return topic.Hex()
	}
}
