package validation

import (
	"math/big"
	"os"
	"strings"

	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ValidateAddress 校验以太坊地址格式（0x + 40位十六进制）
func ValidateAddress(address, fieldName string) error {
	if fieldName == "" {
		fieldName = "address"
	}
	if address == "" {
		return errs.NewValidationError(fieldName, "%s is required", fieldName)
	}
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return errs.NewValidationError(fieldName, "%s is not a valid Ethereum address: %s", fieldName, address)
	}
	if !common.IsHexAddress(address) {
		return errs.NewValidationError(fieldName, "%s is not a valid Ethereum address: %s", fieldName, address)
	}
	return nil
}

// ValidateNonNegativeAmount 校验金额非空且非负
func ValidateNonNegativeAmount(value *big.Int, fieldName string) error {
	if fieldName == "" {
		fieldName = "value"
	}
	if value == nil {
		return errs.NewValidationError(fieldName, "%s is required", fieldName)
	}
	if value.Sign() < 0 {
		return errs.NewValidationError(fieldName, "%s must be positive: %s", fieldName, value.String())
	}
	return nil
}

// ValidateEnvVars 校验环境变量均已设置
func ValidateEnvVars(names ...string) error {
	var missing []string
	for _, name := range names {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return errs.NewValidationError("environment", "Missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateEventLog 校验原始日志结构
func ValidateEventLog(log *types.Log) error {
	if log == nil {
		return errs.NewValidationError("event", "event is nil")
	}
	if log.TxHash == (common.Hash{}) {
		return errs.NewValidationError("transactionHash", "event missing transactionHash")
	}
	if log.BlockNumber == 0 {
		return errs.NewValidationError("blockNumber", "event missing blockNumber")
	}
	if len(log.Topics) == 0 {
		return errs.NewValidationError("topics", "event missing topics")
	}
	return nil
}

// ValidateEventFields 校验解码后的事件参数包含必需字段
func ValidateEventFields(args map[string]interface{}, fields ...string) error {
	for _, field := range fields {
		v, ok := args[field]
		if !ok || v == nil {
			return errs.NewValidationError(field, "event missing field %s", field)
		}
	}
	return nil
}
