package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Client 事件同步所需的链客户端能力，*ethclient.Client 满足该接口
type Client interface {
	ethereum.LogFilterer
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Event 解码后的链上事件
type Event struct {
	Contract        string                 // 合约配置名
	Kind            string                 // 合约类型
	ContractAddress common.Address         // 合约地址
	Name            string                 // 事件名
	Args            map[string]interface{} // 索引参数与非索引参数
	BlockNumber     uint64
	BlockHash       common.Hash
	TxHash          common.Hash
	LogIndex        uint
	Removed         bool
	MissionId       int64 // 合约绑定的链下任务ID，0 表示未绑定
	Raw             types.Log
}

// Key 幂等键 txHash:logIndex
func (e *Event) Key() string {
	return fmt.Sprintf("%s:%d", e.TxHash.Hex(), e.LogIndex)
}

// BigInt 读取整数参数
func (e *Event) BigInt(name string) (*big.Int, error) {
	v, ok := e.Args[name]
	if !ok || v == nil {
		return nil, errs.NewValidationError(name, "event %s missing field %s", e.Name, name)
	}
	switch n := v.(type) {
	case *big.Int:
		return n, nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case int64:
		return big.NewInt(n), nil
	default:
		return nil, errs.NewValidationError(name, "event %s field %s is %T, not an integer", e.Name, name, v)
	}
}

// Uint64 读取不超过 uint64 的整数参数
func (e *Event) Uint64(name string) (uint64, error) {
	n, err := e.BigInt(name)
	if err != nil {
		return 0, err
	}
	if n.Sign() < 0 || !n.IsUint64() {
		return 0, errs.NewValidationError(name, "event %s field %s out of range: %s", e.Name, name, n.String())
	}
	return n.Uint64(), nil
}

// Address 读取地址参数
func (e *Event) Address(name string) (common.Address, error) {
	v, ok := e.Args[name]
	if !ok || v == nil {
		return common.Address{}, errs.NewValidationError(name, "event %s missing field %s", e.Name, name)
	}
	addr, ok := v.(common.Address)
	if !ok {
		return common.Address{}, errs.NewValidationError(name, "event %s field %s is %T, not an address", e.Name, name, v)
	}
	return addr, nil
}

// Text 读取字符串参数
func (e *Event) Text(name string) (string, error) {
	v, ok := e.Args[name]
	if !ok || v == nil {
		return "", errs.NewValidationError(name, "event %s missing field %s", e.Name, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", errs.NewValidationError(name, "event %s field %s is %T, not a string", e.Name, name, v)
	}
	return s, nil
}

// Bool 读取布尔参数
func (e *Event) Bool(name string) (bool, error) {
	v, ok := e.Args[name]
	if !ok || v == nil {
		return false, errs.NewValidationError(name, "event %s missing field %s", e.Name, name)
	}
	b, ok := v.(bool)
	if !ok {
		return false, errs.NewValidationError(name, "event %s field %s is %T, not a bool", e.Name, name, v)
	}
	return b, nil
}

// Payload 可写入 JSON 列的参数副本：整数转十进制字符串，地址转小写
func (e *Event) Payload() map[string]interface{} {
	out := make(map[string]interface{}, len(e.Args))
	for k, v := range e.Args {
		switch val := v.(type) {
		case *big.Int:
			out[k] = val.String()
		case common.Address:
			out[k] = strings.ToLower(val.Hex())
		case common.Hash:
			out[k] = val.Hex()
		case []byte:
			out[k] = common.Bytes2Hex(val)
		default:
			out[k] = val
		}
	}
	return out
}

// Wallet 地址统一为小写十六进制
func Wallet(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
